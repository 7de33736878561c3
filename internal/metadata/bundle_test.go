// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

const manifestFixture = `{
	"version": "36.0.0",
	"artifacts": {
		"Demo.assets": {"type": "cdk:asset-manifest"},
		"Demo": {
			"type": "aws:cloudformation:stack",
			"metadata": {
				"/Demo/Handler/Resource": [
					{"type": "aws:cdk:logicalId", "data": "HandlerD9F51A3C"}
				],
				"/Demo/Handler/ServiceRole/Resource": [
					{"type": "aws:cdk:logicalId", "data": "HandlerServiceRole187D1E2F"}
				],
				"/Demo/CDKMetadata/Default": [
					{"type": "aws:cdk:logicalId", "data": "CDKMetadata"}
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

func writeBundleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree.json"), []byte(treeFixture), 0o644))
	return dir
}

func TestLoadDir(t *testing.T) {
	bundle, err := LoadDir(writeBundleDir(t))
	require.NoError(t, err)
	assert.Equal(t, 3, bundle.Len())

	info, ok := bundle.Lookup("HandlerD9F51A3C")
	require.True(t, ok)
	assert.Equal(t, "Handler", info.ConstructName)
	assert.True(t, info.Generated)
	assert.Equal(t, "AWS::Lambda::Function", info.ResourceType)
	assert.Equal(t, "Demo", info.StackName)

	role, ok := bundle.Lookup("HandlerServiceRole187D1E2F")
	require.True(t, ok)
	assert.Equal(t, "HandlerServiceRole", role.ConstructName)
}

func TestLoadFileManifestOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(manifestFixture), 0o644))

	bundle, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, bundle.Len())
	assert.Nil(t, bundle.Tree)
}

func TestLoadFileRejectsUnknownShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"foo": 1}`), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestCleanRemovesCDKArtifacts(t *testing.T) {
	doc := &model.Document{
		Parameters: model.Section{
			{Name: "BootstrapVersion", Body: json.RawMessage(`{"Type":"AWS::SSM::Parameter::Value<String>"}`)},
			{Name: "AssetParametersabcS3Bucket", Body: json.RawMessage(`{"Type":"String"}`)},
		},
		Conditions: model.Section{
			{Name: "CDKMetadataAvailable", Body: json.RawMessage(`{"Fn::Equals":[1,1]}`)},
		},
		Rules: model.Section{
			{Name: "CheckBootstrapVersion", Body: json.RawMessage(`{"Assertions":[]}`)},
		},
		Resources: []*model.Resource{
			{LogicalID: "CDKMetadata", Type: model.TypeCDKMetadata, Condition: "CDKMetadataAvailable"},
			{
				LogicalID: "Fn",
				Type:      model.TypeLambdaFunction,
				Properties: json.RawMessage(`{
					"Code": {"S3Bucket": {"Ref": "AssetParametersabcS3Bucket"}, "ZipFile": "print('hi')  \n"},
					"Handler": "index.handler"
				}`),
				Metadata: json.RawMessage(`{"aws:cdk:path":"Demo/Fn/Resource","aws:asset:path":"asset.abc"}`),
			},
		},
	}

	require.NoError(t, Clean(doc, CleanOptions{}))

	assert.Nil(t, doc.Resource("CDKMetadata"))
	assert.False(t, doc.Conditions.Has("CDKMetadataAvailable"))
	assert.False(t, doc.Rules.Has("CheckBootstrapVersion"))
	assert.False(t, doc.Parameters.Has("BootstrapVersion"))
	assert.False(t, doc.Parameters.Has("AssetParametersabcS3Bucket"))

	fn := doc.Resource("Fn")
	bucket, ok := fn.GetProperty("Code.S3Bucket")
	require.True(t, ok)
	assert.Equal(t, "<asset-bucket>", bucket)
	zip, _ := fn.GetProperty("Code.ZipFile")
	assert.Equal(t, "print('hi')", zip)
	assert.Nil(t, fn.Metadata)
}

func TestCleanIsFixedPoint(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			{LogicalID: "Fn", Type: model.TypeLambdaFunction, Properties: json.RawMessage(`{"Handler":"index.handler"}`)},
		},
	}

	require.NoError(t, Clean(doc, CleanOptions{}))
	snapshot := doc.Clone()
	require.NoError(t, Clean(doc, CleanOptions{}))
	assert.Equal(t, snapshot, doc)
}
