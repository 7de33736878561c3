// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build property

package pipeline

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/platform-engineering-labs/resam/internal/codec"
	"github.com/platform-engineering-labs/resam/internal/fold"
	"github.com/platform-engineering-labs/resam/internal/metadata"
	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/internal/rename"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

var resourceKinds = []string{"topic", "queue", "function", "table"}

// genDocument builds a random template: a handful of resources with
// optionally hash-suffixed logical IDs and references back to earlier
// resources.
func genDocument(rt *rapid.T) *model.Document {
	count := rapid.IntRange(1, 8).Draw(rt, "count")
	doc := &model.Document{}
	seen := map[string]bool{}

	for i := 0; i < count; i++ {
		id := rapid.StringMatching(`[A-Z][a-zA-Z0-9]{2,8}`).Draw(rt, fmt.Sprintf("id%d", i))
		if rapid.Bool().Draw(rt, fmt.Sprintf("suffixed%d", i)) {
			id += rapid.StringMatching(`[A-F0-9]{8}`).Draw(rt, fmt.Sprintf("hash%d", i))
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		kind := rapid.SampledFrom(resourceKinds).Draw(rt, fmt.Sprintf("kind%d", i))
		doc.Resources = append(doc.Resources, genResource(rt, id, kind, doc.Resources))
	}
	return doc
}

func genResource(rt *rapid.T, id, kind string, earlier []*model.Resource) *model.Resource {
	var target string
	if len(earlier) > 0 && rapid.Bool().Draw(rt, "linked") {
		target = rapid.SampledFrom(earlier).Draw(rt, "target").LogicalID
	}

	switch kind {
	case "function":
		props := map[string]any{
			"Code":    map[string]any{"ZipFile": "def handler(event, context):\n    pass\n"},
			"Handler": "index.handler",
			"Runtime": "python3.12",
		}
		if target != "" {
			props["Environment"] = map[string]any{
				"Variables": map[string]any{"TARGET": map[string]any{"Ref": target}},
			}
		}
		return newResource(id, "AWS::Lambda::Function", props)
	case "table":
		return newResource(id, "AWS::DynamoDB::Table", map[string]any{
			"KeySchema": []any{map[string]any{"AttributeName": "PK", "KeyType": "HASH"}},
			"AttributeDefinitions": []any{
				map[string]any{"AttributeName": "PK", "AttributeType": "S"},
			},
			"BillingMode": "PAY_PER_REQUEST",
		})
	case "queue":
		props := map[string]any{}
		if target != "" {
			props["QueueName"] = map[string]any{"Fn::Sub": "${" + target + "}-queue"}
		}
		return newResource(id, "AWS::SQS::Queue", props)
	default:
		props := map[string]any{}
		if target != "" {
			props["DisplayName"] = map[string]any{"Ref": target}
		}
		return newResource(id, "AWS::SNS::Topic", props)
	}
}

func newResource(id, typ string, props map[string]any) *model.Resource {
	raw, err := json.Marshal(props)
	if err != nil {
		panic(err)
	}
	return &model.Resource{LogicalID: id, Type: typ, Properties: raw}
}

func serializeYAML(rt *rapid.T, doc *model.Document) string {
	out, err := codec.SerializeYAML(doc)
	require.NoError(rt, err)
	return string(out)
}

func TestCleanIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		doc := genDocument(rt)

		once := doc.Clone()
		require.NoError(rt, metadata.Clean(once, metadata.CleanOptions{}))
		twice := once.Clone()
		require.NoError(rt, metadata.Clean(twice, metadata.CleanOptions{}))

		require.Equal(rt, serializeYAML(rt, once), serializeYAML(rt, twice))
	})
}

func TestRenameKeepsReferenceIntegrity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		doc := genDocument(rt)

		plan := metadata.NewResolver(nil).Plan(doc, metadata.ResolveOptions{})
		require.NoError(rt, rename.Apply(doc, plan))

		require.Empty(rt, refindex.Build(doc).Dangling(doc))
		for _, entry := range plan.Entries {
			require.Nil(rt, doc.Resource(entry.Old))
			require.NotNil(rt, doc.Resource(entry.New))
		}
	})
}

func TestFoldingIsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		doc := genDocument(rt)

		runFold := func(d *model.Document) (string, []string) {
			plan := model.NewRefactorPlan("template.yaml")
			require.NoError(rt, fold.NewLibrary().Run(d, plan))
			require.NoError(rt, fold.HoistGlobals(d, plan))
			var rules []string
			for _, f := range plan.Folds {
				rules = append(rules, f.Rule+":"+f.Subject)
			}
			return serializeYAML(rt, d), rules
		}

		outA, rulesA := runFold(doc.Clone())
		outB, rulesB := runFold(doc.Clone())

		require.Equal(rt, outA, outB)
		require.Equal(rt, rulesA, rulesB)
	})
}
