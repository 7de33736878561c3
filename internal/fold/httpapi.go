// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// httpShellRule collapses a route-less AWS::ApiGatewayV2::Api into an
// AWS::Serverless::HttpApi, consuming its integrations, routes and stages.
// APIs that still carry explicit routes stay untouched; SAM only manages
// the implicit $default shape.
var httpShellRule = Rule{
	Name:     "http-shell",
	Priority: 50,
	Match:    matchHTTPShells,
}

// Apply is assigned in init to avoid an initialization cycle: the apply
// function refers back to the rule's Name.
func init() { httpShellRule.Apply = applyHTTPShells }

// httpAPIPropertyMap lists the V2 Api properties AWS::Serverless::HttpApi
// accepts under the same name.
var httpAPIPropertyMap = []string{
	"Name",
	"Description",
	"FailOnWarnings",
	"CorsConfiguration",
	"DefaultRouteSettings",
	"RouteSettings",
	"StageVariables",
	"Tags",
	"PropagateTags",
	"DisableExecuteApiEndpoint",
}

type httpShell struct {
	api          *model.Resource
	integrations []string
	routes       []string
	stages       []string
	losses       []string
}

func (s *httpShell) consumed() []string {
	var ids []string
	ids = append(ids, s.integrations...)
	ids = append(ids, s.routes...)
	ids = append(ids, s.stages...)
	return ids
}

func matchHTTPShells(doc *model.Document) []Claim {
	ix := refindex.Build(doc)
	var claims []Claim
	for _, api := range doc.ResourcesOfType(model.TypeHttpApi) {
		shell, ok := analyzeHTTPShell(doc, api, nil)
		if !ok || httpShellBlocked(doc, ix, shell, nil) {
			continue
		}
		claims = append(claims, Claim{
			Subject:   api.LogicalID,
			Resources: append([]string{api.LogicalID}, shell.consumed()...),
		})
	}
	return claims
}

func applyHTTPShells(ctx *Context) error {
	for _, api := range ctx.Doc.ResourcesOfType(model.TypeHttpApi) {
		if ctx.Consumed[api.LogicalID] {
			continue
		}
		shell, ok := analyzeHTTPShell(ctx.Doc, api, ctx.Consumed)
		if !ok {
			continue
		}
		ix := refindex.Build(ctx.Doc)
		if httpShellBlocked(ctx.Doc, ix, shell, ctx.Consumed) {
			ctx.annotate(httpShellRule.Name, api.LogicalID,
				"left as AWS::ApiGatewayV2::Api: referenced outside its route shell")
			continue
		}

		convertHTTPAPIProperties(shell)
		api.Type = model.TypeServerlessHttpApi

		consumed := shell.consumed()
		ctx.consume(api.LogicalID)
		ctx.consume(consumed...)
		removeAll(ctx.Doc, consumed)

		ctx.record(model.FoldAction{
			Rule:     httpShellRule.Name,
			Subject:  api.LogicalID,
			Consumed: consumed,
			Produced: api.LogicalID,
			Losses:   shell.losses,
		})
	}
	return nil
}

// analyzeHTTPShell collects the API's V2 children and rejects APIs with any
// live route. Integrations and stages fold away; routes would need explicit
// event mappings the shell cannot mint.
func analyzeHTTPShell(doc *model.Document, api *model.Resource, skip map[string]bool) (*httpShell, bool) {
	shell := &httpShell{api: api}
	belongs := func(r *model.Resource) bool {
		return !skip[r.LogicalID] && logicalIDOf(r.Prop("ApiId")) == api.LogicalID
	}

	for _, r := range doc.ResourcesOfType(model.TypeHttpRoute) {
		if belongs(r) {
			return nil, false
		}
	}
	for _, r := range doc.ResourcesOfType(model.TypeHttpIntegration) {
		if belongs(r) {
			shell.integrations = append(shell.integrations, r.LogicalID)
			noteDroppedHTTPKeys(shell, r, []string{"ApiId"})
		}
	}
	for _, r := range doc.ResourcesOfType(model.TypeHttpStage) {
		if belongs(r) {
			shell.stages = append(shell.stages, r.LogicalID)
			noteDroppedHTTPKeys(shell, r, []string{"ApiId", "StageName", "AutoDeploy"})
		}
	}
	return shell, true
}

func noteDroppedHTTPKeys(shell *httpShell, r *model.Resource, represented []string) {
	keep := map[string]bool{}
	for _, k := range represented {
		keep[k] = true
	}
	forEachKey(r.Properties, func(key string, _ gjson.Result) bool {
		if !keep[key] {
			shell.losses = append(shell.losses,
				lossNote(r.LogicalID, key, "dropped with the consumed "+r.ShortType()))
		}
		return true
	})
}

// httpShellBlocked reports whether anything outside the shell references
// the API or its consumed children. Serverless functions and other API
// shells may keep pointing at the API itself; the children have no
// post-fold identity.
func httpShellBlocked(doc *model.Document, ix *refindex.Index, shell *httpShell, skip map[string]bool) bool {
	members := map[string]bool{shell.api.LogicalID: true}
	for _, id := range shell.consumed() {
		members[id] = true
	}
	allowedAPIRefTypes := map[string]bool{
		model.TypeHttpApi:            true,
		model.TypeHttpStage:          true,
		model.TypeHttpIntegration:    true,
		model.TypeHttpRoute:          true,
		model.TypeLambdaFunction:     true,
		model.TypeServerlessFunction: true,
		model.TypeServerlessHttpApi:  true,
	}

	external := func(site model.ReferenceSite) bool {
		return site.OwnerKind != model.EntityResource ||
			(!members[site.Owner] && !skip[site.Owner])
	}

	for _, site := range ix.SitesFor(shell.api.LogicalID) {
		if !external(site) || site.OwnerKind != model.EntityResource {
			continue
		}
		owner := doc.Resource(site.Owner)
		if owner == nil || allowedAPIRefTypes[owner.Type] {
			continue
		}
		return true
	}
	for _, id := range shell.consumed() {
		for _, site := range ix.SitesFor(id) {
			if external(site) {
				return true
			}
		}
	}
	return false
}

// convertHTTPAPIProperties rewrites the API's property block in place for
// the serverless type. Body and BodyS3Location become the definition
// fields; everything else outside the shared map is a recorded loss.
func convertHTTPAPIProperties(shell *httpShell) {
	mapped := map[string]bool{}
	for _, k := range httpAPIPropertyMap {
		mapped[k] = true
	}

	props := newObject()
	forEachKey(shell.api.Properties, func(key string, val gjson.Result) bool {
		switch {
		case mapped[key]:
			props.setResult(key, val)
		case key == "Body":
			props.setResult("DefinitionBody", val)
		case key == "BodyS3Location":
			props.setResult("DefinitionUri", val)
		default:
			shell.losses = append(shell.losses,
				lossNote(shell.api.LogicalID, key, "no AWS::Serverless::HttpApi equivalent"))
		}
		return true
	})
	shell.api.Properties = props.JSON()
}
