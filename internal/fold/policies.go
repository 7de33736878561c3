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

// Action sets for the SAM policy templates the merge can emit.
var (
	s3ReadActions = map[string]bool{
		"s3:GetObject":          true,
		"s3:GetObjectVersion":   true,
		"s3:ListBucket":         true,
		"s3:ListBucketVersions": true,
	}
	s3CrudActions = map[string]bool{
		"s3:GetObject":            true,
		"s3:GetObjectVersion":     true,
		"s3:ListBucket":           true,
		"s3:ListBucketVersions":   true,
		"s3:PutObject":            true,
		"s3:DeleteObject":         true,
		"s3:AbortMultipartUpload": true,
	}
	sqsPollerActions = map[string]bool{
		"sqs:ReceiveMessage":          true,
		"sqs:DeleteMessage":           true,
		"sqs:GetQueueAttributes":      true,
		"sqs:GetQueueUrl":             true,
		"sqs:ChangeMessageVisibility": true,
	}
	dynamoCrudActions = map[string]bool{
		"dynamodb:BatchGetItem":       true,
		"dynamodb:GetRecords":         true,
		"dynamodb:GetShardIterator":   true,
		"dynamodb:Query":              true,
		"dynamodb:GetItem":            true,
		"dynamodb:Scan":               true,
		"dynamodb:ConditionCheckItem": true,
		"dynamodb:BatchWriteItem":     true,
		"dynamodb:PutItem":            true,
		"dynamodb:UpdateItem":         true,
		"dynamodb:DeleteItem":         true,
		"dynamodb:DescribeTable":      true,
	}
)

// rolePolicies finds the AWS::IAM::Policy resources attached to a role.
func rolePolicies(doc *model.Document, roleID string) []*model.Resource {
	var out []*model.Resource
	for _, r := range doc.ResourcesOfType(model.TypeIAMPolicy) {
		roles := r.Prop("Roles")
		if !roles.IsArray() {
			continue
		}
		attached := false
		roles.ForEach(func(_, v gjson.Result) bool {
			if logicalIDOf(v) == roleID {
				attached = true
				return false
			}
			return true
		})
		if attached && r.Prop("PolicyDocument").IsObject() {
			out = append(out, r)
		}
	}
	return out
}

// mergeRolePolicies folds the policy resources attached to the function's
// role into the function's Policies list. Statements that fit a SAM policy
// template become template entries; the rest stays as an inline statement
// document. Policies serving more than one role are left raw with a plan
// annotation.
func mergeRolePolicies(ctx *Context, fn *model.Resource, action *model.FoldAction) {
	roleID := logicalIDOf(fn.Prop("Role"))
	if roleID == "" {
		return
	}
	policies := rolePolicies(ctx.Doc, roleID)
	if len(policies) == 0 {
		return
	}

	entries := newList()
	if existing := fn.Prop("Policies"); existing.IsArray() {
		existing.ForEach(func(_, v gjson.Result) bool {
			entries.appendRaw(v.Raw)
			return true
		})
	}

	merged := false
	for _, p := range policies {
		if ctx.Consumed[p.LogicalID] {
			continue
		}
		if sharesOtherRoles(p, roleID) {
			ctx.annotate(functionRule.Name, p.LogicalID, "policy serves multiple roles; kept as a raw resource for manual review")
			action.Losses = append(action.Losses, lossNote(p.LogicalID, "Roles", "policy serves multiple roles, left unfolded"))
			continue
		}
		for _, frag := range convertPolicyDocument(p.Prop("PolicyDocument")) {
			entries.appendRaw(frag)
		}
		action.Consumed = append(action.Consumed, p.LogicalID)
		ctx.consume(p.LogicalID)
		ctx.Doc.RemoveResource(p.LogicalID)
		merged = true
	}
	if merged {
		_ = fn.SetPropertyRaw("Policies", entries.JSON())
	}
}

func sharesOtherRoles(p *model.Resource, roleID string) bool {
	other := false
	p.Prop("Roles").ForEach(func(_, v gjson.Result) bool {
		if logicalIDOf(v) != roleID {
			other = true
			return false
		}
		return true
	})
	return other
}

// convertPolicyDocument splits a policy document into SAM policy entries:
// template matches first, then one inline document carrying the statements
// nothing matched.
func convertPolicyDocument(doc gjson.Result) []string {
	statements := doc.Get("Statement")
	if !statements.Exists() {
		return []string{doc.Raw}
	}
	var stmts []gjson.Result
	if statements.IsArray() {
		stmts = statements.Array()
	} else {
		stmts = []gjson.Result{statements}
	}

	var fragments []string
	var remaining []gjson.Result
	var dynamo []gjson.Result

	for _, stmt := range stmts {
		if frag, ok := matchS3Template(stmt); ok {
			fragments = append(fragments, frag)
			continue
		}
		if frag, ok := matchSQSTemplate(stmt); ok {
			fragments = append(fragments, frag)
			continue
		}
		if isDynamoStatement(stmt) {
			dynamo = append(dynamo, stmt)
			continue
		}
		remaining = append(remaining, stmt)
	}

	if table := singleTableTarget(dynamo); table != "" {
		fragments = append(fragments, `{"DynamoDBCrudPolicy":{"TableName":`+string(model.Ref(table))+`}}`)
	} else {
		remaining = append(remaining, dynamo...)
	}

	if len(remaining) > 0 {
		arr := newList()
		for _, stmt := range remaining {
			arr.appendRaw(stmt.Raw)
		}
		inline, err := sjson.SetRawBytes([]byte(doc.Raw), "Statement", arr.JSON())
		if err != nil {
			return []string{doc.Raw}
		}
		fragments = append(fragments, string(inline))
	}
	if len(fragments) == 0 {
		return []string{doc.Raw}
	}
	return fragments
}

func matchS3Template(stmt gjson.Result) (string, bool) {
	actions := actionSet(stmt)
	resources := resourceList(stmt)
	if len(actions) == 0 || len(resources) == 0 {
		return "", false
	}
	bucket := commonName(resources, bucketNameFromResource)
	if bucket == "" {
		return "", false
	}
	switch {
	case subsetOf(actions, s3ReadActions):
		return `{"S3ReadPolicy":{"BucketName":` + bucket + `}}`, true
	case subsetOf(actions, s3CrudActions):
		return `{"S3CrudPolicy":{"BucketName":` + bucket + `}}`, true
	}
	return "", false
}

func matchSQSTemplate(stmt gjson.Result) (string, bool) {
	actions := actionSet(stmt)
	resources := resourceList(stmt)
	if len(actions) == 0 || len(resources) == 0 || !subsetOf(actions, sqsPollerActions) {
		return "", false
	}
	queue := commonName(resources, queueNameFromResource)
	if queue == "" {
		return "", false
	}
	return `{"SQSPollerPolicy":{"QueueName":` + queue + `}}`, true
}

func actionSet(stmt gjson.Result) map[string]bool {
	actions := stmt.Get("Action")
	out := map[string]bool{}
	switch {
	case actions.Type == gjson.String:
		out[actions.String()] = true
	case actions.IsArray():
		actions.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				out[v.String()] = true
			}
			return true
		})
	}
	return out
}

func resourceList(stmt gjson.Result) []gjson.Result {
	resources := stmt.Get("Resource")
	if !resources.Exists() {
		return nil
	}
	if resources.IsArray() {
		return resources.Array()
	}
	return []gjson.Result{resources}
}

func subsetOf(set, super map[string]bool) bool {
	for k := range set {
		if !super[k] {
			return false
		}
	}
	return true
}

// commonName maps every resource entry through the extractor and returns
// the shared result, or "" when entries disagree or fail to map.
func commonName(resources []gjson.Result, extract func(gjson.Result) string) string {
	name := ""
	for _, res := range resources {
		candidate := extract(res)
		if candidate == "" {
			return ""
		}
		if name == "" {
			name = candidate
		} else if name != candidate {
			return ""
		}
	}
	return name
}

// bucketNameFromResource derives the BucketName value for an S3 policy
// template from one statement resource: a Ref, a GetAtt on the bucket Arn,
// an ARN literal or a Sub over the bucket Arn. Returns raw JSON or "".
func bucketNameFromResource(v gjson.Result) string {
	if name := arnOwnerRef(v); name != "" {
		return string(model.Ref(name))
	}
	if v.Type == gjson.String {
		s := v.String()
		if strings.HasPrefix(s, "arn:") {
			if part := arnResourcePart(s); part != "" {
				return quoted(part)
			}
		}
		if name := subArnOwner(s); name != "" {
			return string(model.Ref(name))
		}
	}
	if v.IsObject() {
		if sub := v.Get(`Fn\:\:Sub`); sub.Type == gjson.String {
			if name := subArnOwner(sub.String()); name != "" {
				return string(model.Ref(name))
			}
		}
	}
	return ""
}

// queueNameFromResource is the SQS counterpart of bucketNameFromResource.
func queueNameFromResource(v gjson.Result) string {
	if name := arnOwnerRef(v); name != "" {
		return string(model.Ref(name))
	}
	if v.Type == gjson.String && strings.HasPrefix(v.String(), "arn:") {
		if part := arnResourcePart(v.String()); part != "" {
			return quoted(part)
		}
	}
	return ""
}

// arnOwnerRef returns the logical ID when the value is {"Ref": id} or a
// GetAtt on the id's Arn attribute.
func arnOwnerRef(v gjson.Result) string {
	if !v.IsObject() {
		return ""
	}
	if name, ok := model.RefTarget(v); ok {
		return name
	}
	if name, attr, ok := model.GetAttTarget(v); ok && attr == "Arn" {
		return name
	}
	return ""
}

// arnResourcePart extracts the resource segment of an ARN literal, trimmed
// at the first path separator.
func arnResourcePart(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 || parts[5] == "" {
		return ""
	}
	head, _, _ := strings.Cut(parts[5], "/")
	return head
}

// subArnOwner pulls the logical ID out of a "${Name.Arn}" substitution.
func subArnOwner(s string) string {
	if !strings.Contains(s, "${") || !strings.Contains(s, ".Arn") {
		return ""
	}
	_, rest, _ := strings.Cut(s, "${")
	inner, _, _ := strings.Cut(rest, "}")
	name, _, _ := strings.Cut(inner, ".Arn")
	return name
}

func quoted(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

// isDynamoStatement reports whether every action belongs to the DynamoDB
// CRUD template and at least one resource names a table Arn.
func isDynamoStatement(stmt gjson.Result) bool {
	actions := actionSet(stmt)
	if len(actions) == 0 || !subsetOf(actions, dynamoCrudActions) {
		return false
	}
	for _, res := range resourceList(stmt) {
		if name := tableNameFromResource(res); name != "" && name != noValue {
			return true
		}
	}
	return false
}

const noValue = "AWS::NoValue"

func tableNameFromResource(v gjson.Result) string {
	if !v.IsObject() {
		return ""
	}
	if name, attr, ok := model.GetAttTarget(v); ok {
		if attr == "Arn" {
			return name
		}
		return ""
	}
	if name, ok := model.RefTarget(v); ok && name == noValue {
		return noValue
	}
	return ""
}

// singleTableTarget returns the logical ID when every statement resolves to
// the same table, and "" otherwise.
func singleTableTarget(stmts []gjson.Result) string {
	table := ""
	for _, stmt := range stmts {
		resources := resourceList(stmt)
		if len(resources) == 0 {
			return ""
		}
		current := ""
		for _, res := range resources {
			name := tableNameFromResource(res)
			if name == "" || name == noValue {
				continue
			}
			if current == "" {
				current = name
			} else if current != name {
				return ""
			}
		}
		if current == "" {
			continue
		}
		if table == "" {
			table = current
		} else if table != current {
			return ""
		}
	}
	return table
}

// isBasicLambdaRole recognizes the role CDK synthesizes for a function with
// no custom permissions: an assume-role document for lambda.amazonaws.com
// plus the basic execution managed policy, and nothing else.
func isBasicLambdaRole(role *model.Resource) bool {
	if role == nil || role.Type != model.TypeIAMRole {
		return false
	}
	for key := range keySet(role.Properties) {
		if key != "AssumeRolePolicyDocument" && key != "ManagedPolicyArns" {
			return false
		}
	}
	if !assumeRoleAllowsLambda(role.Prop("AssumeRolePolicyDocument")) {
		return false
	}
	managed := role.Prop("ManagedPolicyArns")
	if !managed.IsArray() || len(managed.Array()) != 1 {
		return false
	}
	return strings.Contains(managed.Raw, "AWSLambdaBasicExecutionRole")
}

func assumeRoleAllowsLambda(doc gjson.Result) bool {
	statements := doc.Get("Statement")
	if !statements.Exists() {
		return false
	}
	var stmts []gjson.Result
	if statements.IsArray() {
		stmts = statements.Array()
	} else {
		stmts = []gjson.Result{statements}
	}
	for _, stmt := range stmts {
		if stmt.Get("Effect").String() != "Allow" {
			continue
		}
		action := stmt.Get("Action")
		assumes := action.String() == "sts:AssumeRole"
		if action.IsArray() {
			action.ForEach(func(_, v gjson.Result) bool {
				if v.String() == "sts:AssumeRole" {
					assumes = true
					return false
				}
				return true
			})
		}
		if !assumes {
			continue
		}
		service := stmt.Get("Principal.Service")
		if service.String() == "lambda.amazonaws.com" {
			return true
		}
		if service.IsArray() {
			found := false
			service.ForEach(func(_, v gjson.Result) bool {
				if v.String() == "lambda.amazonaws.com" {
					found = true
					return false
				}
				return true
			})
			if found {
				return true
			}
		}
	}
	return false
}

// maybeRemoveBasicRole drops the function's execution role when it is the
// synthesized basic role and nothing but the function itself references it.
// SAM generates an equivalent role for functions without one.
func maybeRemoveBasicRole(ctx *Context, fn *model.Resource, action *model.FoldAction) {
	roleID := logicalIDOf(fn.Prop("Role"))
	if roleID == "" || ctx.Consumed[roleID] {
		return
	}
	if !isBasicLambdaRole(ctx.Doc.Resource(roleID)) {
		return
	}

	ix := refindex.Build(ctx.Doc)
	for _, site := range ix.SitesFor(roleID) {
		if site.OwnerKind == model.EntityResource && site.Owner == fn.LogicalID {
			if site.Kind == model.RefKindDependsOn || site.Path == "Role" {
				continue
			}
		}
		return
	}

	_ = fn.DeleteProperty("Role")
	ctx.Doc.RemoveResource(roleID)
	action.Consumed = append(action.Consumed, roleID)
	ctx.consume(roleID)
}
