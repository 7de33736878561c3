// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

const inlineFunctionTemplate = `{
	"Resources": {
		"HandlerD9F51A3C": {
			"Type": "AWS::Lambda::Function",
			"Properties": {
				"Code": {"ZipFile": "def handler(event, context):\n    return 'ok'\n"},
				"Handler": "index.handler",
				"Runtime": "python3.12"
			}
		},
		"CDKMetadata": {
			"Type": "AWS::CDK::Metadata",
			"Properties": {"Analytics": "v2:deflate64:abc"}
		}
	}
}`

const cdkManifest = `{
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

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type fakeLinter struct {
	findings []model.LintFinding
	paths    []string
}

func (f *fakeLinter) Lint(_ context.Context, path string) ([]model.LintFinding, error) {
	f.paths = append(f.paths, path)
	return f.findings, nil
}

func TestRunSamifiesInlineFunction(t *testing.T) {
	input := writeInput(t, "template.json", inlineFunctionTemplate)
	output := filepath.Join(t.TempDir(), "template.yaml")

	result, err := Run(context.Background(), Options{
		Input:  input,
		Output: output,
		Samify: true,
		Rename: true,
	})
	require.NoError(t, err)

	text := string(result.Output)
	assert.Contains(t, text, "AWS::Serverless-2016-10-31")
	assert.Contains(t, text, "AWS::Serverless::Function")
	assert.Contains(t, text, "InlineCode")
	assert.Contains(t, text, "return 'ok'")
	assert.NotContains(t, text, "AWS::CDK::Metadata")
	assert.NotContains(t, text, "ZipFile")

	require.Len(t, result.Plan.Folds, 1)
	assert.Equal(t, "function", result.Plan.Folds[0].Rule)
	assert.Equal(t, 2, result.Plan.Stats.ResourcesBefore)
	assert.Equal(t, 1, result.Plan.Stats.ResourcesAfter)

	written, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, result.Output, written)
}

func TestRunRenamesFromManifest(t *testing.T) {
	input := writeInput(t, "template.json", inlineFunctionTemplate)
	manifestDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, "manifest.json"), []byte(cdkManifest), 0o644))

	result, err := Run(context.Background(), Options{
		Input:        input,
		Rename:       true,
		MetadataPath: manifestDir,
	})
	require.NoError(t, err)

	assert.Contains(t, string(result.Output), `"Handler"`)
	assert.NotContains(t, string(result.Output), "HandlerD9F51A3C")
	require.Len(t, result.Plan.Renames.Entries, 1)
	assert.Equal(t, "Handler", result.Plan.Renames.Entries[0].New)
	assert.Equal(t, 1, result.Plan.Stats.Renamed)
}

func TestRunWithoutMetadataStripsHashes(t *testing.T) {
	input := writeInput(t, "template.json", inlineFunctionTemplate)

	result, err := Run(context.Background(), Options{Input: input, Rename: true})
	require.NoError(t, err)

	assert.NotContains(t, string(result.Output), "HandlerD9F51A3C")
	assert.Contains(t, string(result.Output), `"Handler"`)
}

func TestRunCleanIsAFixedPoint(t *testing.T) {
	input := writeInput(t, "template.json", inlineFunctionTemplate)

	first, err := Run(context.Background(), Options{
		Input:  input,
		Output: filepath.Join(t.TempDir(), "clean.yaml"),
		Rename: true,
	})
	require.NoError(t, err)

	again := writeInput(t, "template.yaml", string(first.Output))
	second, err := Run(context.Background(), Options{Input: again, Rename: true})
	require.NoError(t, err)

	assert.Equal(t, string(first.Output), string(second.Output))
}

func TestRunKeepsJSONOutputForJSONTargets(t *testing.T) {
	input := writeInput(t, "template.json", inlineFunctionTemplate)
	output := filepath.Join(t.TempDir(), "out.json")

	result, err := Run(context.Background(), Options{Input: input, Output: output})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(string(result.Output)), "{"))
}

func TestRunFailsOnLintErrorsUnlessForced(t *testing.T) {
	input := writeInput(t, "template.json", inlineFunctionTemplate)
	linter := &fakeLinter{findings: []model.LintFinding{
		{Rule: "E3002", Severity: model.LintError, Message: "invalid property"},
	}}

	output := filepath.Join(t.TempDir(), "template.yaml")
	result, err := Run(context.Background(), Options{
		Input:  input,
		Output: output,
		Samify: true,
		Linter: linter,
	})
	require.ErrorIs(t, err, ErrLintFailed)
	require.NotNil(t, result)
	require.Len(t, result.Plan.Lint, 1)

	// Error-grade findings abort the run before anything reaches the
	// output path.
	assert.NoFileExists(t, output)

	_, err = Run(context.Background(), Options{
		Input:  input,
		Output: output,
		Samify: true,
		Linter: linter,
		Force:  true,
	})
	require.NoError(t, err)
	assert.FileExists(t, output)
}

func TestRunLintsStagedCopyNotOutput(t *testing.T) {
	input := writeInput(t, "template.json", inlineFunctionTemplate)
	linter := &fakeLinter{}
	output := filepath.Join(t.TempDir(), "template.yaml")

	_, err := Run(context.Background(), Options{
		Input:  input,
		Output: output,
		Samify: true,
		Linter: linter,
	})
	require.NoError(t, err)
	require.Len(t, linter.paths, 1)
	assert.NotEqual(t, output, linter.paths[0])
	assert.NoFileExists(t, linter.paths[0])
}

func TestRunLintsUnwrittenOutput(t *testing.T) {
	input := writeInput(t, "template.json", inlineFunctionTemplate)
	linter := &fakeLinter{findings: []model.LintFinding{
		{Rule: "W2001", Severity: model.LintWarning, Message: "unused parameter"},
	}}

	result, err := Run(context.Background(), Options{
		Input:  input,
		Samify: true,
		Linter: linter,
	})
	require.NoError(t, err)
	require.Len(t, linter.paths, 1)
	require.Len(t, result.Plan.Lint, 1)
}

const queueWorkerTemplate = `{
	"Resources": {
		"Worker": {
			"Type": "AWS::Lambda::Function",
			"Properties": {
				"Code": {"ZipFile": "def handler(event, context):\n    pass\n"},
				"Handler": "index.handler",
				"Runtime": "python3.12"
			}
		},
		"Queue": {"Type": "AWS::SQS::Queue"},
		"WorkerMapping": {
			"Type": "AWS::Lambda::EventSourceMapping",
			"Properties": {
				"FunctionName": {"Ref": "Worker"},
				"EventSourceArn": {"Fn::GetAtt": ["Queue", "Arn"]},
				"BatchSize": 5
			}
		}
	}
}`

func TestRunSamifiesQueueWorkerEndToEnd(t *testing.T) {
	input := writeInput(t, "template.json", queueWorkerTemplate)

	result, err := Run(context.Background(), Options{
		Input:  input,
		Output: filepath.Join(t.TempDir(), "template.yaml"),
		Samify: true,
		Rename: true,
	})
	require.NoError(t, err)

	text := string(result.Output)
	assert.Contains(t, text, "Type: SQS")
	assert.Contains(t, text, "BatchSize: 5")
	assert.Contains(t, text, "AWS::SQS::Queue")
	assert.NotContains(t, text, "EventSourceMapping")

	assert.Equal(t, 2, result.Plan.Stats.ResourcesAfter)
}
