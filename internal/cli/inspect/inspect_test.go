// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package inspect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/internal/cli/cmd"
	"github.com/platform-engineering-labs/resam/internal/cli/display"
)

const manifestFixture = `{
	"version": "36.0.0",
	"artifacts": {
		"Demo": {
			"type": "aws:cloudformation:stack",
			"metadata": {
				"/Demo/Handler/Resource": [
					{"type": "aws:cdk:logicalId", "data": "HandlerD9F51A3C"}
				]
			}
		}
	}
}`

const treeFixture = `{
	"version": "tree-0.1",
	"tree": {
		"id": "App",
		"path": "",
		"children": {
			"Demo": {
				"id": "Demo",
				"path": "Demo",
				"children": {
					"Handler": {
						"id": "Handler",
						"path": "Demo/Handler",
						"children": {
							"Resource": {
								"id": "HandlerD9F51A3C",
								"path": "Demo/Handler/Resource",
								"attributes": {"aws:cdk:cloudformation:type": "AWS::Lambda::Function"}
							}
						}
					}
				}
			}
		}
	}
}`

func TestMain(m *testing.M) {
	display.DisableColor()
	m.Run()
}

func TestRunInspectRendersTreeAndCandidates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree.json"), []byte(treeFixture), 0o644))

	var out strings.Builder
	require.NoError(t, runInspect(&out, dir))

	s := out.String()
	assert.Contains(t, s, "App")
	assert.Contains(t, s, "Demo")
	assert.Contains(t, s, "HandlerD9F51A3C")
	assert.Contains(t, s, "Handler")
	assert.Contains(t, s, "1 logical IDs mapped")
}

func TestRunInspectManifestOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(manifestFixture), 0o644))

	var out strings.Builder
	require.NoError(t, runInspect(&out, path))
	assert.Contains(t, out.String(), "No construct tree found")
}

func TestRunInspectMissingPath(t *testing.T) {
	err := runInspect(&strings.Builder{}, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)

	var flagErr *cmd.FlagError
	assert.ErrorAs(t, err, &flagErr)
}
