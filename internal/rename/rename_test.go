// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package rename

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

func renameDoc() *model.Document {
	return &model.Document{
		Conditions: model.Section{
			{Name: "IsProdF1E2D3C4", Body: json.RawMessage(`{"Fn::Equals":[{"Ref":"Stage"},"prod"]}`)},
		},
		Parameters: model.Section{
			{Name: "Stage", Body: json.RawMessage(`{"Type":"String"}`)},
		},
		Resources: []*model.Resource{
			{LogicalID: "BucketA1B2C3D4", Type: "AWS::S3::Bucket"},
			{
				LogicalID: "Handler",
				Type:      model.TypeLambdaFunction,
				Condition: "IsProdF1E2D3C4",
				DependsOn: []string{"BucketA1B2C3D4"},
				Properties: json.RawMessage(`{
					"Role": {"Fn::GetAtt": ["RoleA1B2C3D4", "Arn"]},
					"Environment": {"Variables": {
						"BUCKET": {"Ref": "BucketA1B2C3D4"},
						"ARN": {"Fn::Sub": "arn:${AWS::Partition}:s3:::${BucketA1B2C3D4}/*"}
					}}
				}`),
			},
			{LogicalID: "RoleA1B2C3D4", Type: model.TypeIAMRole},
		},
		Outputs: model.Section{
			{Name: "Out", Body: json.RawMessage(`{"Value":{"Fn::GetAtt":["BucketA1B2C3D4","Arn"]}}`)},
		},
	}
}

func fullPlan() *model.RenamePlan {
	return &model.RenamePlan{Entries: []model.RenameEntry{
		{Old: "BucketA1B2C3D4", New: "Bucket", Source: model.RenameSourceHashStrip},
		{Old: "RoleA1B2C3D4", New: "Role", Source: model.RenameSourceHashStrip},
		{Old: "IsProdF1E2D3C4", New: "IsProd", Source: model.RenameSourceHashStrip},
	}}
}

func TestApplyRewritesEverySiteKind(t *testing.T) {
	doc := renameDoc()
	require.NoError(t, Apply(doc, fullPlan()))

	assert.NotNil(t, doc.Resource("Bucket"))
	assert.NotNil(t, doc.Resource("Role"))
	assert.Nil(t, doc.Resource("BucketA1B2C3D4"))

	handler := doc.Resource("Handler")
	assert.Equal(t, []string{"Bucket"}, handler.DependsOn)
	assert.Equal(t, "IsProd", handler.Condition)
	assert.JSONEq(t, `{"Fn::GetAtt":["Role","Arn"]}`, handler.Prop("Role").Raw)
	assert.JSONEq(t, `{"Ref":"Bucket"}`, handler.Prop("Environment.Variables.BUCKET").Raw)
	assert.JSONEq(t, `{"Fn::Sub":"arn:${AWS::Partition}:s3:::${Bucket}/*"}`, handler.Prop("Environment.Variables.ARN").Raw)

	assert.True(t, doc.Conditions.Has("IsProd"))
	out, _ := doc.Outputs.Get("Out")
	assert.JSONEq(t, `{"Value":{"Fn::GetAtt":["Bucket","Arn"]}}`, string(out))
}

func TestApplyLeavesNoDanglingReferences(t *testing.T) {
	doc := renameDoc()
	require.NoError(t, Apply(doc, fullPlan()))

	ix := refindex.Build(doc)
	assert.Empty(t, ix.Dangling(doc))
}

func TestApplyConflictWithExistingID(t *testing.T) {
	doc := renameDoc()
	snapshot, err := json.Marshal(doc)
	require.NoError(t, err)

	plan := &model.RenamePlan{Entries: []model.RenameEntry{
		{Old: "BucketA1B2C3D4", New: "Handler"},
	}}
	applyErr := Apply(doc, plan)

	var conflict *model.RenameConflictError
	require.ErrorAs(t, applyErr, &conflict)
	assert.Equal(t, "Handler", conflict.New)
	assert.False(t, conflict.InPlan)

	// Document untouched on failure.
	after, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, string(snapshot), string(after))
}

func TestApplyConflictWithinPlan(t *testing.T) {
	doc := renameDoc()
	plan := &model.RenamePlan{Entries: []model.RenameEntry{
		{Old: "BucketA1B2C3D4", New: "Shared"},
		{Old: "RoleA1B2C3D4", New: "Shared"},
	}}

	var conflict *model.RenameConflictError
	require.ErrorAs(t, Apply(doc, plan), &conflict)
	assert.True(t, conflict.InPlan)
}

func TestApplySwapIsLegal(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			{LogicalID: "A", Type: "AWS::S3::Bucket", Properties: json.RawMessage(`{"X":{"Ref":"B"}}`)},
			{LogicalID: "B", Type: "AWS::S3::Bucket", Properties: json.RawMessage(`{"X":{"Ref":"A"}}`)},
		},
	}
	plan := &model.RenamePlan{Entries: []model.RenameEntry{
		{Old: "A", New: "B"},
		{Old: "B", New: "A"},
	}}

	require.NoError(t, Apply(doc, plan))
	assert.JSONEq(t, `{"X":{"Ref":"A"}}`, string(doc.Resource("B").Properties))
	assert.JSONEq(t, `{"X":{"Ref":"B"}}`, string(doc.Resource("A").Properties))
}

func TestApplyUnknownEntity(t *testing.T) {
	doc := renameDoc()
	plan := &model.RenamePlan{Entries: []model.RenameEntry{{Old: "Missing", New: "X"}}}
	assert.Error(t, Apply(doc, plan))
}

func TestSelfReferenceSurvivesRename(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			{
				LogicalID:  "LoopF1E2D3C4",
				Type:       "AWS::SQS::Queue",
				Properties: json.RawMessage(`{"Tag":{"Ref":"LoopF1E2D3C4"}}`),
			},
		},
	}
	plan := &model.RenamePlan{Entries: []model.RenameEntry{{Old: "LoopF1E2D3C4", New: "Loop"}}}

	require.NoError(t, Apply(doc, plan))
	assert.JSONEq(t, `{"Tag":{"Ref":"Loop"}}`, string(doc.Resource("Loop").Properties))
}
