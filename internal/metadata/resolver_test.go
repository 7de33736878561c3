// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

func TestConstructNameFromPath(t *testing.T) {
	assert.Equal(t, "Vpc", constructNameFromPath("/Stack/Vpc/Resource"))
	assert.Equal(t, "Service", constructNameFromPath("/Stack/Service"))
	assert.Equal(t, "VpcPublicSubnet1", constructNameFromPath("/Stack/Vpc/PublicSubnet1"))
	assert.Equal(t, "PublicSubnet1RouteTable", constructNameFromPath("/Stack/Vpc/PublicSubnet1/RouteTable"))
}

func TestHashSuffixDetection(t *testing.T) {
	assert.True(t, HasHashSuffix("MyBucketF68F3FF0"))
	assert.False(t, HasHashSuffix("MyBucket"))
	// Lowercase hex is not a CDK hash.
	assert.False(t, HasHashSuffix("MyBucketf68f3ff0"))
	assert.Equal(t, "MyBucket", stripHashSuffix("MyBucketF68F3FF0"))
}

func TestSanitizeLogicalID(t *testing.T) {
	assert.Equal(t, "MyBucket", SanitizeLogicalID("My-Bucket"))
	assert.Equal(t, "Resource1Thing", SanitizeLogicalID("1Thing"))
	assert.Equal(t, "Resource", SanitizeLogicalID("---"))
}

func TestPlanStripsHashesWithoutBundle(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			{LogicalID: "MyBucketF68F3FF0", Type: "AWS::S3::Bucket"},
			{LogicalID: "Plain", Type: "AWS::SQS::Queue"},
		},
	}

	r := NewResolver(nil)
	assert.False(t, r.HasMetadata())

	plan := r.Plan(doc, ResolveOptions{SemanticNaming: true})
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, "MyBucketF68F3FF0", plan.Entries[0].Old)
	assert.Equal(t, "MyBucket", plan.Entries[0].New)
	assert.Equal(t, model.RenameSourceHashStrip, plan.Entries[0].Source)
}

func TestPlanKeepHashes(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			{LogicalID: "MyBucketF68F3FF0", Type: "AWS::S3::Bucket"},
		},
	}

	plan := NewResolver(nil).Plan(doc, ResolveOptions{KeepHashes: true})
	assert.True(t, plan.IsEmpty())
}

func TestPlanAppliesSemanticRewrites(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			{LogicalID: "HandlerServiceRoleA1B2C3D4", Type: model.TypeIAMRole},
			{LogicalID: "HandlerServiceRoleDefaultPolicyA1B2C3D4", Type: model.TypeIAMPolicy},
		},
	}

	plan := NewResolver(nil).Plan(doc, ResolveOptions{SemanticNaming: true})
	mapping := plan.Mapping()
	assert.Equal(t, "HandlerRole", mapping["HandlerServiceRoleA1B2C3D4"])
	assert.Equal(t, "HandlerPolicy", mapping["HandlerServiceRoleDefaultPolicyA1B2C3D4"])
}

func TestPlanResolvesCollisionsDeterministically(t *testing.T) {
	doc := &model.Document{
		Resources: []*model.Resource{
			{LogicalID: "OrdersTable1A2B3C4D", Type: model.TypeDynamoTable},
			{LogicalID: "OrdersTableD4C3B2A1", Type: model.TypeDynamoTable},
		},
	}

	plan := NewResolver(nil).Plan(doc, ResolveOptions{})
	mapping := plan.Mapping()
	assert.Equal(t, "OrdersTable", mapping["OrdersTable1A2B3C4D"])
	assert.Equal(t, "OrdersTableTable", mapping["OrdersTableD4C3B2A1"])

	var collided *model.RenameEntry
	for i := range plan.Entries {
		if plan.Entries[i].Source == model.RenameSourceCollision {
			collided = &plan.Entries[i]
		}
	}
	require.NotNil(t, collided)
	assert.Equal(t, "OrdersTableD4C3B2A1", collided.Old)
}

func TestPlanUsesBundleNames(t *testing.T) {
	bundle := &Bundle{byLogicalID: map[string]ConstructInfo{
		"ApiHandlerB3C7D8E9": {
			LogicalID:     "ApiHandlerB3C7D8E9",
			Path:          "/Stack/ApiHandler/Resource",
			ConstructName: "ApiHandler",
			Generated:     true,
		},
	}}
	doc := &model.Document{
		Resources: []*model.Resource{
			{LogicalID: "ApiHandlerB3C7D8E9", Type: model.TypeLambdaFunction},
		},
	}

	plan := NewResolver(bundle).Plan(doc, ResolveOptions{SemanticNaming: true})
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, "ApiHandler", plan.Entries[0].New)
	assert.Equal(t, model.RenameSourceMetadata, plan.Entries[0].Source)
	assert.Equal(t, "/Stack/ApiHandler/Resource", plan.Entries[0].ConstructPath)
}
