// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// simpleTableRule rewrites provisioned single-hash-key DynamoDB tables as
// AWS::Serverless::SimpleTable. Only tables whose every property the simple
// form can express qualify; anything richer stays a plain table.
var simpleTableRule = Rule{
	Name:     "simple-table",
	Priority: 80,
	Match:    matchSimpleTables,
}

// Apply is assigned in init to avoid an initialization cycle: the apply
// function refers back to the rule's Name.
func init() { simpleTableRule.Apply = applySimpleTables }

var simpleTableKeys = map[string]bool{
	"AttributeDefinitions":             true,
	"KeySchema":                        true,
	"ProvisionedThroughput":            true,
	"TableName":                        true,
	"Tags":                             true,
	"PointInTimeRecoverySpecification": true,
	"SSESpecification":                 true,
	"BillingMode":                      true,
}

var attributeTypeNames = map[string]string{
	"S": "String",
	"N": "Number",
	"B": "Binary",
}

func matchSimpleTables(doc *model.Document) []Claim {
	var claims []Claim
	for _, r := range doc.ResourcesOfType(model.TypeDynamoTable) {
		if _, _, ok := simpleTableKey(r); ok {
			claims = append(claims, Claim{Subject: r.LogicalID, Resources: []string{r.LogicalID}})
		}
	}
	return claims
}

func applySimpleTables(ctx *Context) error {
	for _, r := range ctx.Doc.ResourcesOfType(model.TypeDynamoTable) {
		if ctx.Consumed[r.LogicalID] {
			continue
		}
		name, attrType, ok := simpleTableKey(r)
		if !ok {
			continue
		}

		props := newObject()
		props.setRaw("PrimaryKey", string(newObject().set("Name", name).set("Type", attrType).JSON()))
		if pt := r.Prop("ProvisionedThroughput"); pt.IsObject() &&
			(pt.Get("ReadCapacityUnits").Exists() || pt.Get("WriteCapacityUnits").Exists()) {
			props.setResult("ProvisionedThroughput", pt)
		}
		for _, key := range []string{"TableName", "Tags", "PointInTimeRecoverySpecification", "SSESpecification"} {
			if v := r.Prop(key); v.Exists() {
				props.setResult(key, v)
			}
		}

		r.Type = model.TypeServerlessTable
		r.Properties = props.JSON()
		ctx.consume(r.LogicalID)
		ctx.record(model.FoldAction{
			Rule:     simpleTableRule.Name,
			Subject:  r.LogicalID,
			Produced: r.LogicalID,
		})
	}
	return nil
}

// simpleTableKey decides whether a table qualifies and returns its hash key
// name and SimpleTable attribute type. On-demand tables are excluded: the
// simple form defaults throughput rather than billing mode.
func simpleTableKey(r *model.Resource) (string, string, bool) {
	if billing := r.Prop("BillingMode"); billing.Type == gjson.String &&
		billing.String() == "PAY_PER_REQUEST" {
		return "", "", false
	}
	if !r.Prop("ProvisionedThroughput").Exists() {
		return "", "", false
	}

	supported := true
	forEachKey(r.Properties, func(key string, _ gjson.Result) bool {
		if !simpleTableKeys[key] {
			supported = false
			return false
		}
		return true
	})
	if !supported {
		return "", "", false
	}

	schema := r.Prop("KeySchema")
	if !schema.IsArray() || len(schema.Array()) != 1 {
		return "", "", false
	}
	entry := schema.Get("0")
	if entry.Get("KeyType").String() != "HASH" {
		return "", "", false
	}
	name := entry.Get("AttributeName")
	if name.Type != gjson.String {
		return "", "", false
	}

	attrType := ""
	r.Prop("AttributeDefinitions").ForEach(func(_, def gjson.Result) bool {
		if def.Get("AttributeName").String() == name.String() {
			attrType = def.Get("AttributeType").String()
			return false
		}
		return true
	})
	sam, ok := attributeTypeNames[attrType]
	if !ok {
		return "", "", false
	}
	return name.String(), sam, true
}
