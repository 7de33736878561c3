// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package lintcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

func TestParseFindingsMapsLevelsAndLocations(t *testing.T) {
	out := []byte(`[
		{
			"Rule": {"Id": "E3002", "Description": "Resource properties are invalid"},
			"Level": "Error",
			"Message": "Additional properties are not allowed",
			"Filename": "template.yaml",
			"Location": {"Start": {"LineNumber": 12, "ColumnNumber": 5}}
		},
		{
			"Rule": {"Id": "W2001"},
			"Level": "Warning",
			"Message": "Parameter Stage never used",
			"Filename": "template.yaml"
		},
		{
			"Rule": {"Id": "I1002"},
			"Level": "Informational",
			"Message": "Template size approaching limit"
		}
	]`)

	findings := parseFindings(out)
	require.Len(t, findings, 3)

	assert.Equal(t, "E3002", findings[0].Rule)
	assert.Equal(t, model.LintError, findings[0].Severity)
	assert.Equal(t, "template.yaml:12", findings[0].Location)

	assert.Equal(t, model.LintWarning, findings[1].Severity)
	assert.Equal(t, "template.yaml", findings[1].Location)

	assert.Equal(t, model.LintInfo, findings[2].Severity)
	assert.Empty(t, findings[2].Location)
}

func TestParseFindingsEmptyOutput(t *testing.T) {
	assert.Empty(t, parseFindings([]byte("[]")))
	assert.Empty(t, parseFindings(nil))
}
