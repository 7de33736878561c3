// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// apiEventRule rewrites AWS::ApiGateway::Method resources with an AWS_PROXY
// integration into Api events on the integrated function, consuming the
// method and its paired apigateway invoke permission.
var apiEventRule = Rule{
	Name:     "api-event",
	Priority: 30,
	Match:    matchAPIEvents,
}

// Apply is assigned in init to avoid an initialization cycle: the apply
// function refers back to the rule's Name.
func init() { apiEventRule.Apply = applyAPIEvents }

func matchAPIEvents(doc *model.Document) []Claim {
	paths := buildResourcePaths(doc)
	var claims []Claim
	for _, r := range doc.ResourcesOfType(model.TypeApiMethod) {
		integration := r.Prop("Integration")
		if !isLambdaProxyIntegration(integration) {
			continue
		}
		fnID := functionFromIntegration(integration)
		if fnID == "" || doc.Resource(fnID) == nil {
			continue
		}
		if methodPath(r.Prop("ResourceId"), paths) == "" {
			continue
		}
		ids := append([]string{r.LogicalID}, apigwPermissions(doc, fnID, logicalIDOf(r.Prop("RestApiId")))...)
		claims = append(claims, Claim{Subject: r.LogicalID, Resources: ids})
	}
	return claims
}

func applyAPIEvents(ctx *Context) error {
	paths := buildResourcePaths(ctx.Doc)

	for _, r := range ctx.Doc.ResourcesOfType(model.TypeApiMethod) {
		if ctx.Consumed[r.LogicalID] {
			continue
		}
		integration := r.Prop("Integration")
		if !isLambdaProxyIntegration(integration) {
			continue
		}
		fn, ok := ctx.Functions[functionFromIntegration(integration)]
		if !ok {
			continue
		}
		path := methodPath(r.Prop("ResourceId"), paths)
		if path == "" {
			continue
		}

		method := strings.ToUpper(r.Prop("HttpMethod").String())
		if method == "" {
			method = "ANY"
		}
		event := newObject().set("Type", "Api")
		props := newObject()
		restAPI := r.Prop("RestApiId")
		if restAPI.Exists() {
			props.setResult("RestApiId", restAPI)
		}
		props.set("Path", path)
		props.set("Method", method)
		event.setRaw("Properties", string(props.JSON()))

		name := uniqueEventName(fn, "Api"+titleMethod(method)+eventNameForPath(path), 2)
		if err := attachEvent(fn, name, event); err != nil {
			return err
		}

		action := model.FoldAction{
			Rule:     apiEventRule.Name,
			Subject:  r.LogicalID,
			Consumed: []string{r.LogicalID},
			Produced: fn.LogicalID,
		}
		ctx.consume(r.LogicalID)
		ctx.Doc.RemoveResource(r.LogicalID)

		for _, permID := range apigwPermissions(ctx.Doc, fn.LogicalID, logicalIDOf(restAPI)) {
			if ctx.Consumed[permID] {
				continue
			}
			action.Consumed = append(action.Consumed, permID)
			ctx.consume(permID)
			ctx.Doc.RemoveResource(permID)
		}
		ctx.record(action)
	}
	return nil
}

// buildResourcePaths maps every AWS::ApiGateway::Resource logical ID to its
// full request path, following ParentId chains up to the API root.
func buildResourcePaths(doc *model.Document) map[string]string {
	cache := map[string]string{}
	var resolve func(id string, seen map[string]bool) string
	resolve = func(id string, seen map[string]bool) string {
		if p, ok := cache[id]; ok {
			return p
		}
		if seen[id] {
			return ""
		}
		seen[id] = true
		r := doc.Resource(id)
		if r == nil || r.Type != model.TypeApiResource {
			return ""
		}
		parent := r.Prop("ParentId")
		parentPath := rootPathFor(parent)
		if parentPath == "" {
			parentID := logicalIDOf(parent)
			if parentID == "" {
				return ""
			}
			parentPath = resolve(parentID, seen)
		}
		if parentPath == "" {
			return ""
		}
		part := r.Prop("PathPart")
		if part.Type != gjson.String {
			return ""
		}
		full := joinAPIPath(parentPath, part.String())
		cache[id] = full
		return full
	}
	for _, r := range doc.ResourcesOfType(model.TypeApiResource) {
		resolve(r.LogicalID, map[string]bool{})
	}
	return cache
}

// rootPathFor recognizes a GetAtt on the API's RootResourceId and maps it
// to "/".
func rootPathFor(v gjson.Result) string {
	if _, attr, ok := model.GetAttTarget(v); ok && attr == "RootResourceId" {
		return "/"
	}
	return ""
}

func joinAPIPath(parent, child string) string {
	if parent == "/" {
		if child == "" {
			return "/"
		}
		return "/" + child
	}
	if child == "" {
		return parent
	}
	return strings.TrimRight(parent, "/") + "/" + child
}

// methodPath resolves a method's ResourceId to a request path, either the
// API root or a cached resource path.
func methodPath(resourceID gjson.Result, paths map[string]string) string {
	if p := rootPathFor(resourceID); p != "" {
		return p
	}
	id := logicalIDOf(resourceID)
	if id == "" {
		return ""
	}
	return paths[id]
}

func isLambdaProxyIntegration(integration gjson.Result) bool {
	if !integration.IsObject() {
		return false
	}
	if t := integration.Get("Type"); t.Type == gjson.String && strings.ToUpper(t.String()) != "AWS_PROXY" {
		return false
	}
	return functionFromIntegration(integration) != ""
}

var (
	subArnTokenRe    = regexp.MustCompile(`\$\{([A-Za-z0-9]+)\.Arn\}`)
	invocationsURIRe = regexp.MustCompile(`functions/([A-Za-z0-9]+)/invocations`)
)

// functionFromIntegration recovers the logical ID of the function behind an
// integration URI, across the GetAtt, Sub, Join and literal forms CDK and
// hand-written templates use.
func functionFromIntegration(integration gjson.Result) string {
	uri := integration.Get("Uri")
	if !uri.Exists() {
		uri = integration.Get("IntegrationUri")
	}
	switch {
	case uri.Type == gjson.String:
		if m := invocationsURIRe.FindStringSubmatch(uri.String()); m != nil {
			return m[1]
		}
	case uri.IsObject():
		if name, _, ok := model.GetAttTarget(uri); ok {
			return name
		}
		if sub := uri.Get(`Fn\:\:Sub`); sub.Exists() {
			tpl := sub
			if sub.IsArray() {
				tpl = sub.Get("0")
			}
			if m := subArnTokenRe.FindStringSubmatch(tpl.String()); m != nil {
				return m[1]
			}
		}
		if join := uri.Get(`Fn\:\:Join`); join.IsArray() {
			name := ""
			join.Get("1").ForEach(func(_, part gjson.Result) bool {
				if n, _, ok := model.GetAttTarget(part); ok {
					name = n
					return false
				}
				return true
			})
			return name
		}
	}
	return ""
}

// apigwPermissions finds the apigateway.amazonaws.com invoke permissions
// paired with a folded method: same function, SourceArn pointing at the API.
func apigwPermissions(doc *model.Document, fnID, apiID string) []string {
	var out []string
	for _, r := range doc.ResourcesOfType(model.TypeLambdaPermission) {
		if r.Prop("Principal").String() != "apigateway.amazonaws.com" {
			continue
		}
		if logicalIDOf(r.Prop("FunctionName")) != fnID {
			continue
		}
		if apiID != "" && !sourceArnRefersTo(r.Prop("SourceArn"), apiID) {
			continue
		}
		out = append(out, r.LogicalID)
	}
	return out
}

// sourceArnRefersTo reports whether a SourceArn mentions the given logical
// ID, through a Sub template, Join fragments or a literal string.
func sourceArnRefersTo(arn gjson.Result, id string) bool {
	switch {
	case arn.Type == gjson.String:
		return strings.Contains(arn.String(), id)
	case arn.IsObject():
		if sub := arn.Get(`Fn\:\:Sub`); sub.Exists() {
			tpl := sub
			if sub.IsArray() {
				tpl = sub.Get("0")
			}
			return strings.Contains(tpl.String(), "${"+id+"}") || strings.Contains(tpl.String(), id)
		}
		if join := arn.Get(`Fn\:\:Join`); join.IsArray() {
			found := false
			join.Get("1").ForEach(func(_, part gjson.Result) bool {
				if name, ok := model.RefTarget(part); ok && name == id {
					found = true
					return false
				}
				if part.Type == gjson.String && strings.Contains(part.String(), id) {
					found = true
					return false
				}
				return true
			})
			return found
		}
	}
	return false
}
