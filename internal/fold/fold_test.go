// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package fold

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

func res(id, typ, props string) *model.Resource {
	r := &model.Resource{LogicalID: id, Type: typ}
	if props != "" {
		r.Properties = json.RawMessage(props)
	}
	return r
}

func runLibrary(t *testing.T, doc *model.Document) *model.RefactorPlan {
	t.Helper()
	plan := model.NewRefactorPlan("template.json")
	require.NoError(t, NewLibrary().Run(doc, plan))
	return plan
}

func foldRules(plan *model.RefactorPlan) []string {
	var names []string
	for _, f := range plan.Folds {
		names = append(names, f.Rule)
	}
	return names
}

func TestRunRejectsOverlappingClaimsAtEqualPriority(t *testing.T) {
	claimX := func(name string) Rule {
		return Rule{
			Name:     name,
			Priority: 5,
			Match: func(*model.Document) []Claim {
				return []Claim{{Subject: "X", Resources: []string{"X"}}}
			},
		}
	}
	lib := &Library{}
	lib.Register(claimX("first"))
	lib.Register(claimX("second"))

	doc := &model.Document{Resources: []*model.Resource{res("X", "AWS::SNS::Topic", "")}}
	err := lib.Run(doc, model.NewRefactorPlan("template.json"))

	var ambiguous *model.FoldAmbiguousError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, "X", ambiguous.Resource)
	assert.ElementsMatch(t, []string{"first", "second"}, ambiguous.Rules)
}

func TestRunAllowsEqualPrioritiesWithoutOverlap(t *testing.T) {
	lib := &Library{}
	lib.Register(Rule{Name: "first", Priority: 5, Match: func(*model.Document) []Claim {
		return []Claim{{Subject: "A", Resources: []string{"A"}}}
	}})
	lib.Register(Rule{Name: "second", Priority: 5, Match: func(*model.Document) []Claim {
		return []Claim{{Subject: "B", Resources: []string{"B"}}}
	}})

	doc := &model.Document{Resources: []*model.Resource{
		res("A", "AWS::SNS::Topic", ""),
		res("B", "AWS::SNS::Topic", ""),
	}}
	assert.NoError(t, lib.Run(doc, model.NewRefactorPlan("template.json")))
}

func TestFunctionFoldFromAssetMetadata(t *testing.T) {
	fn := res("Handler", model.TypeLambdaFunction, `{
		"Handler": "index.handler",
		"Runtime": "python3.12",
		"Code": {"S3Bucket": "cdk-assets", "S3Key": "abc123.zip"}
	}`)
	fn.Metadata = json.RawMessage(`{"aws:asset:path": "asset.abc123", "aws:asset:property": "Code"}`)
	doc := &model.Document{Resources: []*model.Resource{fn}}

	plan := runLibrary(t, doc)

	assert.Equal(t, model.TypeServerlessFunction, fn.Type)
	assert.Equal(t, "asset.abc123", fn.Prop("CodeUri").String())
	assert.Equal(t, "index.handler", fn.Prop("Handler").String())
	assert.False(t, fn.Prop("Code").Exists())
	assert.Nil(t, fn.Metadata)
	assert.True(t, doc.HasSAMTransform())
	assert.Equal(t, []string{"function"}, foldRules(plan))
}

func TestFunctionFoldInlineCodeDedents(t *testing.T) {
	fn := res("Handler", model.TypeLambdaFunction, `{
		"Runtime": "python3.12",
		"Code": {"ZipFile": "\n    def handler(event, context):\n        return event\n"}
	}`)
	doc := &model.Document{Resources: []*model.Resource{fn}}

	runLibrary(t, doc)

	assert.Equal(t, "def handler(event, context):\n    return event", fn.Prop("InlineCode").String())
	assert.False(t, fn.Prop("CodeUri").Exists())
}

func TestFunctionFoldS3Code(t *testing.T) {
	fn := res("Handler", model.TypeLambdaFunction, `{
		"Runtime": "go1.x",
		"Code": {"S3Bucket": {"Ref": "DeployBucket"}, "S3Key": "fn.zip", "S3ObjectVersion": "v7"}
	}`)
	doc := &model.Document{
		Parameters: model.Section{{Name: "DeployBucket", Body: json.RawMessage(`{"Type":"String"}`)}},
		Resources:  []*model.Resource{fn},
	}

	runLibrary(t, doc)

	codeURI := fn.Prop("CodeUri")
	assert.Equal(t, "DeployBucket", codeURI.Get("Bucket.Ref").String())
	assert.Equal(t, "fn.zip", codeURI.Get("Key").String())
	assert.Equal(t, "v7", codeURI.Get("Version").String())
}

func TestFunctionFoldLeavesUnrecognizedCode(t *testing.T) {
	fn := res("Handler", model.TypeLambdaFunction, `{
		"Runtime": "python3.12",
		"Code": {"ImageUri": "123.dkr.ecr.eu-west-1.amazonaws.com/app:latest"}
	}`)
	doc := &model.Document{Resources: []*model.Resource{fn}}

	plan := runLibrary(t, doc)

	assert.Equal(t, model.TypeLambdaFunction, fn.Type)
	assert.Empty(t, plan.Folds)
	assert.False(t, doc.HasSAMTransform())
}

func TestFunctionFoldMergesRolePoliciesAndDropsBasicRole(t *testing.T) {
	doc := &model.Document{Resources: []*model.Resource{
		res("DataBucket", "AWS::S3::Bucket", `{}`),
		res("HandlerRole", model.TypeIAMRole, `{
			"AssumeRolePolicyDocument": {
				"Version": "2012-10-17",
				"Statement": [{
					"Effect": "Allow",
					"Action": "sts:AssumeRole",
					"Principal": {"Service": "lambda.amazonaws.com"}
				}]
			},
			"ManagedPolicyArns": [{"Fn::Join": ["", ["arn:", {"Ref": "AWS::Partition"}, ":iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"]]}]
		}`),
		res("HandlerPolicy", model.TypeIAMPolicy, `{
			"PolicyName": "HandlerPolicy",
			"Roles": [{"Ref": "HandlerRole"}],
			"PolicyDocument": {
				"Version": "2012-10-17",
				"Statement": [{
					"Effect": "Allow",
					"Action": ["s3:GetObject", "s3:ListBucket"],
					"Resource": [
						{"Fn::GetAtt": ["DataBucket", "Arn"]},
						{"Fn::Sub": "${DataBucket.Arn}/*"}
					]
				}]
			}
		}`),
		res("Handler", model.TypeLambdaFunction, `{
			"Runtime": "python3.12",
			"Role": {"Fn::GetAtt": ["HandlerRole", "Arn"]},
			"Code": {"ZipFile": "pass"}
		}`),
	}}

	plan := runLibrary(t, doc)

	require.Len(t, plan.Folds, 1)
	assert.ElementsMatch(t, []string{"HandlerPolicy", "HandlerRole"}, plan.Folds[0].Consumed)

	fn := doc.Resource("Handler")
	assert.False(t, fn.Prop("Role").Exists())
	assert.Equal(t, "DataBucket", fn.Prop("Policies.0.S3ReadPolicy.BucketName.Ref").String())
	assert.Nil(t, doc.Resource("HandlerRole"))
	assert.Nil(t, doc.Resource("HandlerPolicy"))
}

func TestFunctionFoldKeepsSharedRole(t *testing.T) {
	role := `{
		"AssumeRolePolicyDocument": {
			"Statement": [{
				"Effect": "Allow",
				"Action": "sts:AssumeRole",
				"Principal": {"Service": "lambda.amazonaws.com"}
			}]
		},
		"ManagedPolicyArns": ["arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"]
	}`
	doc := &model.Document{Resources: []*model.Resource{
		res("SharedRole", model.TypeIAMRole, role),
		res("Handler", model.TypeLambdaFunction, `{
			"Role": {"Fn::GetAtt": ["SharedRole", "Arn"]},
			"Code": {"ZipFile": "pass"}
		}`),
		res("Other", "AWS::SNS::Topic", `{"DisplayName": {"Fn::GetAtt": ["SharedRole", "RoleId"]}}`),
	}}

	runLibrary(t, doc)

	fn := doc.Resource("Handler")
	assert.Equal(t, "SharedRole", fn.Prop("Role.Fn\\:\\:GetAtt.0").String())
	assert.NotNil(t, doc.Resource("SharedRole"))
}

func TestFunctionURLFoldRepointsReferences(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			res("Handler", model.TypeLambdaFunction, `{"Code": {"ZipFile": "pass"}}`),
			res("HandlerUrlResource", model.TypeLambdaUrl, `{
				"TargetFunctionArn": {"Fn::GetAtt": ["Handler", "Arn"]},
				"AuthType": "NONE"
			}`),
			res("UrlPermission", model.TypeLambdaPermission, `{
				"Action": "lambda:InvokeFunctionUrl",
				"FunctionName": {"Fn::GetAtt": ["Handler", "Arn"]},
				"Principal": "*",
				"FunctionUrlAuthType": "NONE"
			}`),
		},
		Outputs: model.Section{
			{Name: "Endpoint", Body: json.RawMessage(`{"Value":{"Fn::GetAtt":["HandlerUrlResource","FunctionUrl"]}}`)},
		},
	}

	plan := runLibrary(t, doc)

	fn := doc.Resource("Handler")
	assert.Equal(t, "NONE", fn.Prop("FunctionUrlConfig.AuthType").String())
	assert.Nil(t, doc.Resource("HandlerUrlResource"))
	assert.Nil(t, doc.Resource("UrlPermission"))

	out, ok := doc.Outputs.Get("Endpoint")
	require.True(t, ok)
	assert.Contains(t, string(out), `"HandlerUrl"`)

	require.Len(t, plan.Folds, 2)
	assert.ElementsMatch(t, []string{"HandlerUrlResource", "UrlPermission"}, plan.Folds[1].Consumed)
}

func TestFunctionURLFoldLeavesUnmappableURL(t *testing.T) {
	doc := &model.Document{Resources: []*model.Resource{
		res("Handler", model.TypeLambdaFunction, `{"Code": {"ZipFile": "pass"}}`),
		res("Url", model.TypeLambdaUrl, `{
			"TargetFunctionArn": {"Fn::GetAtt": ["Handler", "Arn"]},
			"AuthType": "NONE",
			"Qualifier": "live"
		}`),
	}}

	plan := runLibrary(t, doc)

	assert.NotNil(t, doc.Resource("Url"))
	assert.False(t, doc.Resource("Handler").Prop("FunctionUrlConfig").Exists())
	require.Len(t, plan.Lint, 1)
	assert.Contains(t, plan.Lint[0].Message, "Qualifier")
}
