// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// restShellRule collapses an AWS::ApiGateway::RestApi whose remaining
// methods are all CORS preflight mocks into an AWS::Serverless::Api,
// consuming its deployments, stages, child resources and invoke
// permissions. Runs after the api-event rule so only non-proxy methods are
// left to inspect.
var restShellRule = Rule{
	Name:     "rest-shell",
	Priority: 40,
	Match:    matchRestShells,
}

// Apply is assigned in init to avoid an initialization cycle: the apply
// function refers back to the rule's Name.
func init() { restShellRule.Apply = applyRestShells }

// restAPIPropertyMap lists the RestApi properties AWS::Serverless::Api
// accepts under the same name.
var restAPIPropertyMap = []string{
	"Name",
	"Description",
	"FailOnWarnings",
	"EndpointConfiguration",
	"BinaryMediaTypes",
	"MinimumCompressionSize",
	"AccessLogSetting",
	"CanarySetting",
	"Mode",
	"ApiKeySourceType",
	"Policy",
	"OpenApiVersion",
	"Models",
	"Domain",
	"AlwaysDeploy",
	"PropagateTags",
	"Tags",
}

// restShell is the full dependency closure of one foldable REST API.
type restShell struct {
	api         *model.Resource
	cors        *object
	corsMethods []string
	children    []string
	perms       []string
	deployments []string
	stages      []string
	stageName   string
	losses      []string
}

func (s *restShell) consumed() []string {
	var ids []string
	ids = append(ids, s.deployments...)
	ids = append(ids, s.stages...)
	ids = append(ids, s.corsMethods...)
	ids = append(ids, s.children...)
	ids = append(ids, s.perms...)
	return ids
}

func (s *restShell) members() map[string]bool {
	m := map[string]bool{s.api.LogicalID: true}
	for _, id := range s.consumed() {
		m[id] = true
	}
	return m
}

func matchRestShells(doc *model.Document) []Claim {
	// The api-event rule runs first and removes proxy methods together
	// with their invoke permissions, so matching treats those as absent.
	ignore := prospectiveProxyMethods(doc)
	ix := refindex.Build(doc)
	paths := buildResourcePaths(doc)

	var claims []Claim
	for _, api := range doc.ResourcesOfType(model.TypeRestApi) {
		shell, ok := analyzeRestShell(doc, api, paths, ignore)
		if !ok || restShellBlocked(doc, ix, shell, ignore) {
			continue
		}
		claims = append(claims, Claim{
			Subject:   api.LogicalID,
			Resources: append([]string{api.LogicalID}, shell.consumed()...),
		})
	}
	return claims
}

func applyRestShells(ctx *Context) error {
	paths := buildResourcePaths(ctx.Doc)

	for _, api := range ctx.Doc.ResourcesOfType(model.TypeRestApi) {
		if ctx.Consumed[api.LogicalID] {
			continue
		}
		shell, ok := analyzeRestShell(ctx.Doc, api, paths, ctx.Consumed)
		if !ok {
			continue
		}
		ix := refindex.Build(ctx.Doc)
		if restShellBlocked(ctx.Doc, ix, shell, ctx.Consumed) {
			ctx.annotate(restShellRule.Name, api.LogicalID,
				"left as AWS::ApiGateway::RestApi: referenced outside its deployment shell")
			continue
		}

		convertRestAPIProperties(shell)
		api.Type = model.TypeServerlessApi

		consumed := shell.consumed()
		ctx.consume(api.LogicalID)
		ctx.consume(consumed...)
		removeAll(ctx.Doc, consumed)

		if shell.stageName != "" {
			if err := rewriteStageReferences(ctx.Doc, shell.stages, shell.stageName); err != nil {
				return err
			}
		}

		ctx.record(model.FoldAction{
			Rule:     restShellRule.Name,
			Subject:  api.LogicalID,
			Consumed: consumed,
			Produced: api.LogicalID,
			Losses:   shell.losses,
		})
	}
	return nil
}

// prospectiveProxyMethods returns the methods the api-event rule will fold,
// plus their paired invoke permissions, keyed for use as an ignore set.
func prospectiveProxyMethods(doc *model.Document) map[string]bool {
	ignore := map[string]bool{}
	paths := buildResourcePaths(doc)
	for _, r := range doc.ResourcesOfType(model.TypeApiMethod) {
		integration := r.Prop("Integration")
		if !isLambdaProxyIntegration(integration) {
			continue
		}
		fn := doc.Resource(functionFromIntegration(integration))
		if fn == nil || fn.Type != model.TypeLambdaFunction || !functionConvertible(fn) {
			continue
		}
		if methodPath(r.Prop("ResourceId"), paths) == "" {
			continue
		}
		ignore[r.LogicalID] = true
		for _, permID := range apigwPermissions(doc, fn.LogicalID, logicalIDOf(r.Prop("RestApiId"))) {
			ignore[permID] = true
		}
	}
	return ignore
}

// analyzeRestShell collects everything the fold would consume for one API
// and decides whether the API qualifies. The skip set holds resources to
// treat as already gone.
func analyzeRestShell(doc *model.Document, api *model.Resource, paths map[string]string, skip map[string]bool) (*restShell, bool) {
	shell := &restShell{api: api}

	cors, corsMethods, ok := detectCORS(doc, api.LogicalID, paths, skip)
	if !ok {
		return nil, false
	}
	shell.cors = cors
	shell.corsMethods = corsMethods

	for _, r := range doc.ResourcesOfType(model.TypeApiResource) {
		if !skip[r.LogicalID] && logicalIDOf(r.Prop("RestApiId")) == api.LogicalID {
			shell.children = append(shell.children, r.LogicalID)
		}
	}
	for _, r := range doc.ResourcesOfType(model.TypeLambdaPermission) {
		if skip[r.LogicalID] {
			continue
		}
		if r.Prop("Principal").String() != "apigateway.amazonaws.com" {
			continue
		}
		if !sourceArnRefersTo(r.Prop("SourceArn"), api.LogicalID) {
			continue
		}
		shell.perms = append(shell.perms, r.LogicalID)
	}
	for _, r := range doc.ResourcesOfType(model.TypeApiDeployment) {
		if !skip[r.LogicalID] && logicalIDOf(r.Prop("RestApiId")) == api.LogicalID {
			shell.deployments = append(shell.deployments, r.LogicalID)
			noteDroppedKeys(shell, r, []string{"RestApiId", "DeploymentCanarySettings", "Description"})
		}
	}
	for _, r := range doc.ResourcesOfType(model.TypeApiStage) {
		if skip[r.LogicalID] || logicalIDOf(r.Prop("RestApiId")) != api.LogicalID {
			continue
		}
		shell.stages = append(shell.stages, r.LogicalID)
		if shell.stageName == "" {
			if name := r.Prop("StageName"); name.Type == gjson.String && name.String() != "" {
				shell.stageName = name.String()
			}
		}
		noteDroppedKeys(shell, r, []string{"RestApiId", "DeploymentId", "StageName", "Description"})
	}

	// Without a literal stage name the fold cannot rewrite references to
	// the removed stages, and SAM mints a stage of its own anyway.
	if len(shell.stages) > 0 && shell.stageName == "" {
		return nil, false
	}
	return shell, true
}

// noteDroppedKeys records a loss for every property of a consumed resource
// outside the represented set.
func noteDroppedKeys(shell *restShell, r *model.Resource, represented []string) {
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

// restShellBlocked reports whether anything outside the shell references
// the API, its deployments or its stages in a way the fold cannot preserve.
// Function event sources and other API shells may keep pointing at the API;
// stage references survive as the literal stage name; deployments have no
// post-fold equivalent at all.
func restShellBlocked(doc *model.Document, ix *refindex.Index, shell *restShell, skip map[string]bool) bool {
	members := shell.members()
	allowedAPIRefTypes := map[string]bool{
		model.TypeApiDeployment:      true,
		model.TypeApiStage:           true,
		model.TypeRestApi:            true,
		model.TypeLambdaFunction:     true,
		model.TypeServerlessFunction: true,
		model.TypeServerlessApi:      true,
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
	for _, id := range shell.deployments {
		for _, site := range ix.SitesFor(id) {
			if external(site) {
				return true
			}
		}
	}
	for _, id := range shell.stages {
		for _, site := range ix.SitesFor(id) {
			if !external(site) {
				continue
			}
			rewritable := site.Kind == model.RefKindRef ||
				(site.Kind == model.RefKindSub && site.Attr == "")
			if !rewritable || shell.stageName == "" {
				return true
			}
		}
	}
	return false
}

// detectCORS inspects every method still attached to the API. The fold only
// proceeds when all of them are MOCK preflight handlers advertising one
// consistent CORS policy that covers the root path.
func detectCORS(doc *model.Document, apiID string, paths map[string]string, skip map[string]bool) (*object, []string, bool) {
	var (
		corsMethods  []string
		allowOrigin  *string
		allowHeaders *string
		allowMethods *string
		hasRootCORS  bool
	)

	consistent := func(have **string, got gjson.Result) bool {
		if !got.Exists() {
			return true
		}
		v := got.String()
		if *have == nil {
			*have = &v
			return true
		}
		return **have == v
	}

	for _, r := range doc.ResourcesOfType(model.TypeApiMethod) {
		if skip[r.LogicalID] || logicalIDOf(r.Prop("RestApiId")) != apiID {
			continue
		}
		if strings.ToUpper(r.Prop("HttpMethod").String()) != "OPTIONS" {
			return nil, nil, false
		}
		origin, headers, methods, ok := corsFromMockIntegration(r.Prop("Integration"))
		if !ok {
			return nil, nil, false
		}
		if !consistent(&allowOrigin, origin) ||
			!consistent(&allowHeaders, headers) ||
			!consistent(&allowMethods, methods) {
			return nil, nil, false
		}
		if methodPath(r.Prop("ResourceId"), paths) == "/" {
			hasRootCORS = true
		}
		corsMethods = append(corsMethods, r.LogicalID)
	}

	if len(corsMethods) == 0 {
		return nil, nil, true
	}
	if !hasRootCORS || allowOrigin == nil {
		return nil, nil, false
	}

	cfg := newObject().set("AllowOrigin", *allowOrigin)
	if allowHeaders != nil {
		cfg.set("AllowHeaders", *allowHeaders)
	}
	if allowMethods != nil {
		cfg.set("AllowMethods", *allowMethods)
	}
	return cfg, corsMethods, true
}

// corsFromMockIntegration pulls the Access-Control-Allow headers out of a
// MOCK integration's first integration response. Only literal string header
// values qualify.
func corsFromMockIntegration(integration gjson.Result) (origin, headers, methods gjson.Result, ok bool) {
	if !integration.IsObject() {
		return
	}
	if strings.ToUpper(integration.Get("Type").String()) != "MOCK" {
		return
	}
	params := integration.Get("IntegrationResponses.0.ResponseParameters")
	if !params.IsObject() {
		return
	}
	header := func(name string) gjson.Result {
		return params.Get(refindex.EscapeSegment("method.response.header.Access-Control-Allow-" + name))
	}
	origin = header("Origin")
	headers = header("Headers")
	methods = header("Methods")
	if origin.Type != gjson.String {
		return
	}
	if headers.Exists() && headers.Type != gjson.String {
		return
	}
	if methods.Exists() && methods.Type != gjson.String {
		return
	}
	ok = true
	return
}

// convertRestAPIProperties rewrites the API's property block in place for
// the serverless type, noting every key with no equivalent.
func convertRestAPIProperties(shell *restShell) {
	mapped := map[string]bool{"DefinitionBody": true, "DefinitionUri": true}
	for _, k := range restAPIPropertyMap {
		mapped[k] = true
	}

	props := newObject()
	forEachKey(shell.api.Properties, func(key string, val gjson.Result) bool {
		if mapped[key] {
			props.setResult(key, val)
		} else {
			shell.losses = append(shell.losses,
				lossNote(shell.api.LogicalID, key, "no AWS::Serverless::Api equivalent"))
		}
		return true
	})
	if shell.stageName != "" {
		props.set("StageName", shell.stageName)
	}
	if shell.cors != nil {
		props.setRaw("Cors", string(shell.cors.JSON()))
	}
	shell.api.Properties = props.JSON()
}

// rewriteStageReferences replaces every remaining reference to a consumed
// stage with the literal stage name: a Ref to a stage resolves to its name,
// so the substitution preserves the rendered value.
func rewriteStageReferences(doc *model.Document, stageIDs []string, stageName string) error {
	stages := map[string]bool{}
	for _, id := range stageIDs {
		stages[id] = true
	}
	ix := refindex.Build(doc)
	subDone := map[string]bool{}

	for _, site := range ix.Sites() {
		if !stages[site.Target] {
			continue
		}
		body, ok := doc.EntityBody(site)
		if !ok {
			continue
		}
		var (
			out []byte
			err error
		)
		switch site.Kind {
		case model.RefKindRef:
			if site.Path == "" {
				out = []byte(quoted(stageName))
			} else {
				out, err = sjson.SetBytes(body, site.Path, stageName)
			}
		case model.RefKindSub:
			key := site.Owner + "\x00" + site.Path
			if subDone[key] {
				continue
			}
			subDone[key] = true
			out, err = flattenSubTokens(body, site.Path, stages, stageName)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("rewrite stage reference %s: %w", site, err)
		}
		doc.SetEntityBody(site, out)
	}
	return nil
}

// flattenSubTokens replaces ${Stage} tokens in the Fn::Sub at path with a
// literal value, in both the string and two-element list forms.
func flattenSubTokens(body []byte, path string, ids map[string]bool, literal string) ([]byte, error) {
	subPath := path + `.Fn\:\:Sub`
	if path == "" {
		subPath = `Fn\:\:Sub`
	}
	val := gjson.GetBytes(body, subPath)
	replace := func(tpl string) string {
		for id := range ids {
			tpl = strings.ReplaceAll(tpl, "${"+id+"}", literal)
		}
		return tpl
	}
	if val.Type == gjson.String {
		return sjson.SetBytes(body, subPath, replace(val.String()))
	}
	if val.IsArray() {
		parts := val.Array()
		if len(parts) >= 1 && parts[0].Type == gjson.String {
			return sjson.SetBytes(body, subPath+".0", replace(parts[0].String()))
		}
	}
	return body, nil
}
