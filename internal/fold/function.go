// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// functionRule turns AWS::Lambda::Function resources into serverless
// functions. Code comes from CDK asset metadata, an inline ZipFile or an S3
// location; functions with no recognizable code are left alone. The rule
// also merges role policies into SAM policy entries and consumes a bare
// basic-execution role when nothing else references it.
var functionRule = Rule{
	Name:     "function",
	Priority: 10,
	Match:    matchFunctions,
}

// Apply is assigned in init to avoid an initialization cycle: the apply
// function refers back to the rule's Name.
func init() { functionRule.Apply = applyFunctions }

func matchFunctions(doc *model.Document) []Claim {
	var claims []Claim
	for _, r := range doc.ResourcesOfType(model.TypeLambdaFunction) {
		if !functionConvertible(r) {
			continue
		}
		ids := []string{r.LogicalID}
		if roleID := logicalIDOf(r.Prop("Role")); roleID != "" {
			for _, p := range rolePolicies(doc, roleID) {
				ids = append(ids, p.LogicalID)
			}
			if isBasicLambdaRole(doc.Resource(roleID)) {
				ids = append(ids, roleID)
			}
		}
		claims = append(claims, Claim{Subject: r.LogicalID, Resources: ids})
	}
	return claims
}

func applyFunctions(ctx *Context) error {
	for _, r := range ctx.Doc.ResourcesOfType(model.TypeLambdaFunction) {
		if ctx.Consumed[r.LogicalID] {
			continue
		}
		newProps, ok := convertFunctionProperties(r)
		if !ok {
			continue
		}
		r.Type = model.TypeServerlessFunction
		r.Properties = newProps
		consumeAssetMetadata(r)

		action := model.FoldAction{
			Rule:     functionRule.Name,
			Subject:  r.LogicalID,
			Produced: r.LogicalID,
		}
		mergeRolePolicies(ctx, r, &action)
		maybeRemoveBasicRole(ctx, r, &action)

		ctx.consume(r.LogicalID)
		ctx.Functions[r.LogicalID] = r
		ctx.record(action)
	}
	return nil
}

func functionConvertible(r *model.Resource) bool {
	if path, ok := codeAssetPath(r); ok && path != "" {
		return true
	}
	code := r.Prop("Code")
	if !code.IsObject() {
		return false
	}
	if code.Get("ZipFile").Type == gjson.String {
		return true
	}
	return code.Get("S3Bucket").Exists() && code.Get("S3Key").Exists()
}

// codeAssetPath reads the CDK asset metadata for the function code. The
// aws:asset:property entry, when present, must name Code.
func codeAssetPath(r *model.Resource) (string, bool) {
	if len(r.Metadata) == 0 {
		return "", false
	}
	md := gjson.ParseBytes(r.Metadata)
	path := md.Get(`aws\:asset\:path`)
	if path.Type != gjson.String || path.String() == "" {
		return "", false
	}
	if prop := md.Get(`aws\:asset\:property`); prop.Exists() && prop.String() != "Code" {
		return "", false
	}
	return path.String(), true
}

// convertFunctionProperties rewrites the Code property into CodeUri or
// InlineCode and carries every other property over unchanged, in order.
func convertFunctionProperties(r *model.Resource) (json.RawMessage, bool) {
	out := newObject()
	code := r.Prop("Code")

	switch {
	case hasCodeAsset(r):
		path, _ := codeAssetPath(r)
		out.set("CodeUri", path)
	case code.Get("ZipFile").Type == gjson.String:
		out.set("InlineCode", prepareInlineCode(code.Get("ZipFile").String()))
	case code.Get("S3Bucket").Exists() && code.Get("S3Key").Exists():
		uri := newObject().
			setResult("Bucket", code.Get("S3Bucket")).
			setResult("Key", code.Get("S3Key"))
		if v := code.Get("S3ObjectVersion"); v.Exists() {
			uri.setResult("Version", v)
		}
		out.setRaw("CodeUri", string(uri.JSON()))
	default:
		return nil, false
	}

	forEachKey(r.Properties, func(key string, val gjson.Result) bool {
		if key != "Code" {
			out.setResult(key, val)
		}
		return true
	})
	return out.JSON(), true
}

func hasCodeAsset(r *model.Resource) bool {
	path, ok := codeAssetPath(r)
	return ok && path != ""
}

// consumeAssetMetadata drops the aws:asset entries the fold absorbed into
// CodeUri.
func consumeAssetMetadata(r *model.Resource) {
	if len(r.Metadata) == 0 {
		return
	}
	md := r.Metadata
	forEachKey(r.Metadata, func(key string, _ gjson.Result) bool {
		if strings.HasPrefix(key, "aws:asset") || strings.HasPrefix(key, "aws:cdk:asset") {
			md, _ = sjson.DeleteBytes(md, refindex.EscapeSegment(key))
		}
		return true
	})
	if gjson.ParseBytes(md).String() == "{}" {
		md = nil
	}
	r.Metadata = md
}

// prepareInlineCode normalizes an inline ZipFile payload so the serializer
// can emit it as a block scalar: blank edges trimmed, common indentation
// removed, tabs expanded.
func prepareInlineCode(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	lines := strings.Split(code, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		leading := len(line) - len(strings.TrimLeft(line, " "))
		if indent < 0 || leading < indent {
			indent = leading
		}
	}
	for i, line := range lines {
		if indent > 0 && len(line) >= indent {
			line = line[indent:]
		}
		lines[i] = strings.ReplaceAll(line, "\t", "  ")
	}
	return strings.Join(lines, "\n")
}
