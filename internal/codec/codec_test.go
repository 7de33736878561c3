// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

const shortTagTemplate = `
AWSTemplateFormatVersion: "2010-09-09"
Description: demo
Resources:
  Bucket:
    Type: AWS::S3::Bucket
  Fn:
    Type: AWS::Lambda::Function
    DependsOn: Bucket
    Properties:
      Handler: index.handler
      Role: !GetAtt Role.Arn
      Environment:
        Variables:
          BUCKET: !Ref Bucket
          ARN: !Sub arn:${AWS::Partition}:s3:::${Bucket}
  Role:
    Type: AWS::IAM::Role
Outputs:
  BucketName:
    Value: !Ref Bucket
`

func TestParseNormalizesShortTags(t *testing.T) {
	doc, err := Parse([]byte(shortTagTemplate), "template.yaml")
	require.NoError(t, err)

	fn := doc.Resource("Fn")
	require.NotNil(t, fn)
	assert.Equal(t, []string{"Bucket"}, fn.DependsOn)

	assert.JSONEq(t, `{"Fn::GetAtt":["Role","Arn"]}`, fn.Prop("Role").Raw)
	assert.JSONEq(t, `{"Ref":"Bucket"}`, fn.Prop("Environment.Variables.BUCKET").Raw)
	assert.JSONEq(t, `{"Fn::Sub":"arn:${AWS::Partition}:s3:::${Bucket}"}`, fn.Prop("Environment.Variables.ARN").Raw)
}

func TestParsePreservesResourceOrder(t *testing.T) {
	doc, err := Parse([]byte(shortTagTemplate), "template.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"Bucket", "Fn", "Role"}, doc.LogicalIDs())
}

func TestParseJSONTemplate(t *testing.T) {
	doc, err := Parse([]byte(`{
		"Resources": {
			"Queue": {"Type": "AWS::SQS::Queue", "Properties": {"QueueName": "q"}}
		}
	}`), "template.json")
	require.NoError(t, err)

	q := doc.Resource("Queue")
	require.NotNil(t, q)
	name, ok := q.GetProperty("QueueName")
	require.True(t, ok)
	assert.Equal(t, "q", name)
}

func TestParseErrors(t *testing.T) {
	var parseErr *model.ParseError

	_, err := Parse([]byte(""), "empty.yaml")
	require.ErrorAs(t, err, &parseErr)

	_, err = Parse([]byte("Bogus:\n  A: 1\n"), "bogus.yaml")
	require.ErrorAs(t, err, &parseErr)

	_, err = Parse([]byte("Resources:\n  NoType:\n    Properties: {}\n"), "notype.yaml")
	require.ErrorAs(t, err, &parseErr)
}

func TestParseRejectsDuplicateLogicalIDs(t *testing.T) {
	var parseErr *model.ParseError

	_, err := Parse([]byte(`{
		"Resources": {
			"Topic": {"Type": "AWS::SNS::Topic"},
			"Topic": {"Type": "AWS::SQS::Queue"}
		}
	}`), "dup.json")
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), `duplicate logical ID "Topic"`)

	_, err = Parse([]byte("Resources:\n  Topic:\n    Type: AWS::SNS::Topic\n  Topic:\n    Type: AWS::SQS::Queue\n"), "dup.yaml")
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), `"Topic"`)
}

func TestParseRejectsDuplicateSectionEntries(t *testing.T) {
	var parseErr *model.ParseError

	_, err := Parse([]byte(`{
		"Parameters": {
			"Stage": {"Type": "String"},
			"Stage": {"Type": "String"}
		},
		"Resources": {"Topic": {"Type": "AWS::SNS::Topic"}}
	}`), "dup.json")
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), `duplicate entry "Stage"`)
}

func TestSerializeIsDeterministic(t *testing.T) {
	doc, err := Parse([]byte(shortTagTemplate), "template.yaml")
	require.NoError(t, err)

	first, err := SerializeYAML(doc)
	require.NoError(t, err)

	reparsed, err := Parse(first, "roundtrip.yaml")
	require.NoError(t, err)
	second, err := SerializeYAML(reparsed)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestSerializeJSONKeepsOrder(t *testing.T) {
	doc, err := Parse([]byte(shortTagTemplate), "template.yaml")
	require.NoError(t, err)

	out, err := SerializeJSON(doc)
	require.NoError(t, err)

	reparsed, err := Parse(out, "roundtrip.json")
	require.NoError(t, err)
	assert.Equal(t, doc.LogicalIDs(), reparsed.LogicalIDs())
}
