// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	template string
	err      error
}

func (f *fakeFetcher) FetchTemplate(ctx context.Context, identifier string) (string, error) {
	return f.template, f.err
}

const deployedTemplate = `{
  "Resources": {
    "TopicBFC7AF6E": {
      "Type": "AWS::SNS::Topic",
      "Properties": {"TopicName": "events"}
    },
    "CDKMetadata": {
      "Type": "AWS::CDK::Metadata",
      "Properties": {"Analytics": "v2:deflate64:abc"}
    }
  }
}`

func TestRunImportWritesRefactoredTemplate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "imported.yaml")
	opts := &ImportOptions{
		Stack:  "my-stack",
		Target: target,
		Rename: true,
	}

	err := runImport(context.Background(), &fakeFetcher{template: deployedTemplate}, opts)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "Topic:")
	assert.NotContains(t, out, "TopicBFC7AF6E")
	assert.NotContains(t, out, "CDKMetadata")
}

func TestRunImportFailsWhenFetchFails(t *testing.T) {
	opts := &ImportOptions{Stack: "missing", Target: filepath.Join(t.TempDir(), "out.yaml")}

	err := runImport(context.Background(), &fakeFetcher{err: errors.New("stack not found")}, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
