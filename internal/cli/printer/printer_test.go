// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package printer

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	Name    string          `json:"name"`
	Renames int             `json:"renames"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

func TestPrinter_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewMachineReadablePrinter[report](&buf, "json")

	err := p.Print(&report{Name: "stack", Renames: 3})
	require.NoError(t, err)

	var decoded report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "stack", decoded.Name)
	assert.Equal(t, 3, decoded.Renames)
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestPrinter_YAMLExpandsRawMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewMachineReadablePrinter[report](&buf, "yaml")

	err := p.Print(&report{
		Name:  "stack",
		Extra: json.RawMessage(`{"folds": ["function"]}`),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "name: stack")
	assert.Contains(t, out, "folds:")
	assert.NotContains(t, out, "[123")
}

func TestPrinter_UnsupportedFormat(t *testing.T) {
	p := NewMachineReadablePrinter[report](&bytes.Buffer{}, "toml")
	err := p.Print(&report{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestQuery_SingleMatch(t *testing.T) {
	var buf bytes.Buffer
	err := Query(&buf, &report{Name: "stack", Renames: 2}, "name")
	require.NoError(t, err)
	assert.Equal(t, "\"stack\"\n", buf.String())
}

func TestQuery_RootedExpression(t *testing.T) {
	var buf bytes.Buffer
	err := Query(&buf, &report{Name: "stack", Renames: 2}, "$.renames")
	require.NoError(t, err)
	assert.Equal(t, "2\n", buf.String())
}

func TestQuery_InvalidExpression(t *testing.T) {
	err := Query(&bytes.Buffer{}, &report{}, "$[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query")
}
