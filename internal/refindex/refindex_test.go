// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package refindex

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

func indexDoc() *model.Document {
	return &model.Document{
		Parameters: model.Section{
			{Name: "Stage", Body: json.RawMessage(`{"Type":"String"}`)},
		},
		Conditions: model.Section{
			{Name: "IsProd", Body: json.RawMessage(`{"Fn::Equals":[{"Ref":"Stage"},"prod"]}`)},
		},
		Resources: []*model.Resource{
			{LogicalID: "Bucket", Type: "AWS::S3::Bucket"},
			{
				LogicalID: "Fn",
				Type:      model.TypeLambdaFunction,
				Condition: "IsProd",
				DependsOn: []string{"Bucket"},
				Properties: json.RawMessage(`{
					"Role": {"Fn::GetAtt": ["Role", "Arn"]},
					"Environment": {"Variables": {
						"BUCKET": {"Ref": "Bucket"},
						"ARN": {"Fn::Sub": "arn:${AWS::Partition}:s3:::${Bucket}"}
					}}
				}`),
			},
			{LogicalID: "Role", Type: model.TypeIAMRole},
		},
		Outputs: model.Section{
			{Name: "BucketOut", Body: json.RawMessage(`{"Value":{"Ref":"Bucket"}}`)},
		},
	}
}

func TestBuildCollectsAllKinds(t *testing.T) {
	ix := Build(indexDoc())

	bucketSites := ix.SitesFor("Bucket")
	kinds := make(map[model.RefKind]int)
	for _, s := range bucketSites {
		kinds[s.Kind]++
	}
	assert.Equal(t, 1, kinds[model.RefKindDependsOn])
	assert.Equal(t, 1, kinds[model.RefKindSub])
	assert.Equal(t, 2, kinds[model.RefKindRef])

	roleSites := ix.SitesFor("Role")
	require.Len(t, roleSites, 1)
	assert.Equal(t, model.RefKindGetAtt, roleSites[0].Kind)
	assert.Equal(t, "Arn", roleSites[0].Attr)
	assert.Equal(t, "Role", roleSites[0].Path)

	condSites := ix.SitesFor("IsProd")
	require.Len(t, condSites, 1)
	assert.Equal(t, model.RefKindCondition, condSites[0].Kind)
}

func TestPseudoParametersAreNotDangling(t *testing.T) {
	ix := Build(indexDoc())
	assert.Empty(t, ix.Dangling(indexDoc()))
}

func TestDanglingAfterRemoval(t *testing.T) {
	doc := indexDoc()
	doc.RemoveResource("Role")

	ix := Build(doc)
	dangling := ix.Dangling(doc)
	require.Len(t, dangling, 1)
	assert.Equal(t, "Role", dangling[0].Target)
}

func TestParameterSatisfiesRefButNotGetAtt(t *testing.T) {
	doc := &model.Document{
		Parameters: model.Section{{Name: "P", Body: json.RawMessage(`{"Type":"String"}`)}},
		Resources: []*model.Resource{
			{
				LogicalID:  "R",
				Type:       "AWS::S3::Bucket",
				Properties: json.RawMessage(`{"A":{"Ref":"P"},"B":{"Fn::GetAtt":["P","Arn"]}}`),
			},
		},
	}

	ix := Build(doc)
	dangling := ix.Dangling(doc)
	require.Len(t, dangling, 1)
	assert.Equal(t, model.RefKindGetAtt, dangling[0].Kind)
}

func TestSubLocalVariablesShadow(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			{
				LogicalID:  "R",
				Type:       "AWS::S3::Bucket",
				Properties: json.RawMessage(`{"Name":{"Fn::Sub":["${Local}-${Other}",{"Local":{"Ref":"Other"}}]}}`),
			},
			{LogicalID: "Other", Type: "AWS::S3::Bucket"},
		},
	}

	ix := Build(doc)
	sites := ix.SitesFor("Other")
	require.Len(t, sites, 2)
	assert.NotEqual(t, sites[0].Kind, sites[1].Kind)
	assert.Empty(t, ix.SitesFor("Local"))
}
