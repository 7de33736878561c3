// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/internal/rename"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// functionURLRule folds AWS::Lambda::Url resources into the owning
// function's FunctionUrlConfig. SAM then materializes the URL as an implicit
// <Function>Url resource, so references to the folded resource are repointed
// to that name. URLs whose configuration does not map onto the schema stay
// raw with a plan annotation.
var functionURLRule = Rule{
	Name:     "function-url",
	Priority: 20,
	Match:    matchFunctionURLs,
}

// Apply is assigned in init to avoid an initialization cycle: the apply
// function refers back to the rule's Name.
func init() { functionURLRule.Apply = applyFunctionURLs }

// urlConfigKeys are the AWS::Lambda::Url properties FunctionUrlConfig can
// express, besides the target function itself.
var urlConfigKeys = []string{"AuthType", "Cors", "InvokeMode"}

func matchFunctionURLs(doc *model.Document) []Claim {
	var claims []Claim
	for _, r := range doc.ResourcesOfType(model.TypeLambdaUrl) {
		fnID := logicalIDOf(r.Prop("TargetFunctionArn"))
		if fnID == "" || doc.Resource(fnID) == nil {
			continue
		}
		ids := append([]string{r.LogicalID}, urlPermissions(doc, fnID)...)
		claims = append(claims, Claim{Subject: r.LogicalID, Resources: ids})
	}
	return claims
}

func applyFunctionURLs(ctx *Context) error {
	repoint := map[string]string{}

	for _, r := range ctx.Doc.ResourcesOfType(model.TypeLambdaUrl) {
		if ctx.Consumed[r.LogicalID] {
			continue
		}
		fnID := logicalIDOf(r.Prop("TargetFunctionArn"))
		fn, ok := ctx.Functions[fnID]
		if !ok {
			continue
		}
		if key, foldable := urlFoldable(r); !foldable {
			ctx.annotate(functionURLRule.Name, r.LogicalID, "property "+key+" has no FunctionUrlConfig equivalent; left as a raw resource")
			continue
		}
		if fn.Prop("FunctionUrlConfig").Exists() {
			ctx.annotate(functionURLRule.Name, r.LogicalID, "function "+fnID+" already carries a FunctionUrlConfig; left as a raw resource")
			continue
		}

		cfg := newObject()
		for _, key := range urlConfigKeys {
			if v := r.Prop(key); v.Exists() {
				cfg.setResult(key, v)
			}
		}
		if cfg.empty() {
			ctx.annotate(functionURLRule.Name, r.LogicalID, "no AuthType, Cors or InvokeMode to carry over; left as a raw resource")
			continue
		}
		if err := fn.SetPropertyRaw("FunctionUrlConfig", cfg.JSON()); err != nil {
			return err
		}

		action := model.FoldAction{
			Rule:     functionURLRule.Name,
			Subject:  r.LogicalID,
			Consumed: []string{r.LogicalID},
			Produced: fnID,
		}
		ctx.consume(r.LogicalID)
		ctx.Doc.RemoveResource(r.LogicalID)
		repoint[r.LogicalID] = fnID + "Url"

		for _, permID := range urlPermissions(ctx.Doc, fnID) {
			if ctx.Consumed[permID] {
				continue
			}
			action.Consumed = append(action.Consumed, permID)
			ctx.consume(permID)
			ctx.Doc.RemoveResource(permID)
		}
		ctx.record(action)
	}

	return rename.RewriteReferences(ctx.Doc, repoint)
}

// urlFoldable rejects URL resources carrying properties the config block
// cannot hold, naming the first offending key.
func urlFoldable(r *model.Resource) (string, bool) {
	offending := ""
	forEachKey(r.Properties, func(key string, _ gjson.Result) bool {
		switch key {
		case "TargetFunctionArn", "AuthType", "Cors", "InvokeMode":
			return true
		}
		offending = key
		return false
	})
	return offending, offending == ""
}

// urlPermissions finds the invoke permissions CDK pairs with a function URL.
func urlPermissions(doc *model.Document, fnID string) []string {
	var out []string
	for _, r := range doc.ResourcesOfType(model.TypeLambdaPermission) {
		if logicalIDOf(r.Prop("FunctionName")) != fnID {
			continue
		}
		if r.Prop("FunctionUrlAuthType").Exists() || r.Prop("InvokedViaFunctionUrl").Bool() {
			out = append(out, r.LogicalID)
		}
	}
	return out
}
