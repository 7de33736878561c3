// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"slices"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// pushEventRule folds push-style integrations into function events:
// single-target AWS::Events::Rule resources become Schedule or
// EventBridgeRule events, and S3 bucket Lambda notifications become S3
// events. Paired invoke permissions fold away with them.
var pushEventRule = Rule{
	Name:     "push-event",
	Priority: 70,
	Match:    matchPushEvents,
}

// Apply is assigned in init to avoid an initialization cycle: the apply
// function refers back to the rule's Name.
func init() { pushEventRule.Apply = applyPushEvents }

func matchPushEvents(doc *model.Document) []Claim {
	var claims []Claim

	for _, r := range doc.ResourcesOfType(model.TypeEventsRule) {
		fnID, target := singleRuleTarget(r)
		fn := doc.Resource(fnID)
		if fn == nil || fn.Type != model.TypeLambdaFunction || !functionConvertible(fn) {
			continue
		}
		if target.Get("InputTransformer").Exists() {
			continue
		}
		ids := append([]string{r.LogicalID}, rulePermissions(doc, fnID, r.LogicalID)...)
		claims = append(claims, Claim{Subject: r.LogicalID, Resources: ids})
	}

	for _, bucket := range doc.ResourcesOfType(model.TypeS3Bucket) {
		ids := []string{bucket.LogicalID}
		matched := false
		bucket.Prop("NotificationConfiguration.LambdaConfigurations").ForEach(func(_, cfg gjson.Result) bool {
			fn := doc.Resource(logicalIDOf(cfg.Get("Function")))
			if fn == nil || fn.Type != model.TypeLambdaFunction || !functionConvertible(fn) {
				return true
			}
			if !cfg.Get("Event").Exists() && !cfg.Get("Events").Exists() {
				return true
			}
			matched = true
			ids = append(ids, s3Permissions(doc, fn.LogicalID, bucket.LogicalID)...)
			return true
		})
		if matched {
			claims = append(claims, Claim{Subject: bucket.LogicalID, Resources: ids})
		}
	}
	return claims
}

func applyPushEvents(ctx *Context) error {
	if err := applyEventRules(ctx); err != nil {
		return err
	}
	return applyBucketNotifications(ctx)
}

func applyEventRules(ctx *Context) error {
	for _, r := range ctx.Doc.ResourcesOfType(model.TypeEventsRule) {
		if ctx.Consumed[r.LogicalID] {
			continue
		}
		fnID, target := singleRuleTarget(r)
		fn, ok := ctx.Functions[fnID]
		if !ok {
			continue
		}
		if target.Get("InputTransformer").Exists() {
			ctx.annotate(pushEventRule.Name, r.LogicalID,
				"left as AWS::Events::Rule: InputTransformer has no event equivalent")
			continue
		}

		event, losses := convertEventsRule(r, target)
		if event == nil {
			continue
		}

		name := uniqueEventName(fn, r.LogicalID, 1)
		if err := attachEvent(fn, name, event); err != nil {
			return err
		}

		action := model.FoldAction{
			Rule:     pushEventRule.Name,
			Subject:  r.LogicalID,
			Consumed: []string{r.LogicalID},
			Produced: fn.LogicalID,
			Losses:   losses,
		}
		ctx.consume(r.LogicalID)
		ctx.Doc.RemoveResource(r.LogicalID)
		for _, permID := range rulePermissions(ctx.Doc, fnID, r.LogicalID) {
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

// singleRuleTarget returns the function behind a rule with exactly one
// target, or "" when the rule fans out or targets something else.
func singleRuleTarget(r *model.Resource) (string, gjson.Result) {
	targets := r.Prop("Targets")
	if !targets.IsArray() || len(targets.Array()) != 1 {
		return "", gjson.Result{}
	}
	target := targets.Get("0")
	return logicalIDOf(target.Get("Arn")), target
}

// eventBridgeRuleKeys and scheduleRuleKeys bound what the two event shapes
// can express. A rule carrying anything else stays a raw resource.
var (
	eventBridgeRuleKeys = map[string]bool{
		"Name": true, "Description": true, "EventBusName": true,
		"EventPattern": true, "State": true, "Targets": true,
	}
	scheduleRuleKeys = map[string]bool{
		"Name": true, "Description": true, "ScheduleExpression": true,
		"State": true, "Targets": true,
	}
	scheduleTargetKeys = []string{"Input", "DeadLetterConfig", "RetryPolicy"}
)

// convertEventsRule maps a rule to an EventBridgeRule event when it has a
// pattern, a Schedule event when it has a schedule expression. Returns nil
// when the rule carries properties neither shape can hold.
func convertEventsRule(r *model.Resource, target gjson.Result) (*object, []string) {
	pattern := r.Prop("EventPattern")
	schedule := r.Prop("ScheduleExpression")

	var allowed map[string]bool
	switch {
	case pattern.Exists():
		allowed = eventBridgeRuleKeys
	case schedule.Exists():
		allowed = scheduleRuleKeys
	default:
		return nil, nil
	}
	blocked := false
	forEachKey(r.Properties, func(key string, _ gjson.Result) bool {
		if !allowed[key] {
			blocked = true
			return false
		}
		return true
	})
	if blocked {
		return nil, nil
	}

	var losses []string
	props := newObject()
	if pattern.Exists() {
		props.setResult("Pattern", pattern)
		if v := r.Prop("EventBusName"); v.Exists() {
			props.setResult("EventBusName", v)
		}
	} else {
		props.setResult("Schedule", schedule)
	}
	if v := r.Prop("State"); v.Exists() {
		props.set("Enabled", v.String() == "ENABLED")
	}
	if v := r.Prop("Description"); v.Exists() {
		props.setResult("Description", v)
	}
	if name := r.Prop("Name"); name.Exists() {
		losses = append(losses, lossNote(r.LogicalID, "Name", "events get generated rule names"))
	}

	if !pattern.Exists() {
		for _, key := range scheduleTargetKeys {
			if v := target.Get(key); v.Exists() {
				props.setResult(key, v)
			}
		}
	}
	target.ForEach(func(k, _ gjson.Result) bool {
		key := k.String()
		if key == "Arn" || key == "Id" {
			return true
		}
		if pattern.Exists() || !slices.Contains(scheduleTargetKeys, key) {
			losses = append(losses, lossNote(r.LogicalID, "Targets.0."+key,
				"no rule event equivalent"))
		}
		return true
	})

	eventType := "Schedule"
	if pattern.Exists() {
		eventType = "EventBridgeRule"
	}
	return newObject().set("Type", eventType).setRaw("Properties", string(props.JSON())), losses
}

// rulePermissions finds the invoke permissions paired with a folded rule:
// same function, SourceArn mentioning the rule's logical ID anywhere in its
// JSON form.
func rulePermissions(doc *model.Document, fnID, ruleID string) []string {
	var out []string
	for _, r := range doc.ResourcesOfType(model.TypeLambdaPermission) {
		if logicalIDOf(r.Prop("FunctionName")) != fnID {
			continue
		}
		if rawMentions(r.Prop("SourceArn"), ruleID) {
			out = append(out, r.LogicalID)
		}
	}
	return out
}

func applyBucketNotifications(ctx *Context) error {
	for _, bucket := range ctx.Doc.ResourcesOfType(model.TypeS3Bucket) {
		configs := bucket.Prop("NotificationConfiguration.LambdaConfigurations")
		if !configs.IsArray() {
			continue
		}
		total := len(configs.Array())
		var removeIdx []int

		for idx, cfg := range configs.Array() {
			fn, ok := ctx.Functions[logicalIDOf(cfg.Get("Function"))]
			if !ok {
				continue
			}
			event, losses := convertBucketNotification(bucket.LogicalID, idx, cfg)
			if event == nil {
				continue
			}

			base := bucket.LogicalID
			if total > 1 {
				base += strconv.Itoa(idx)
			}
			name := uniqueEventName(fn, base, 1)
			if err := attachEvent(fn, name, event); err != nil {
				return err
			}
			removeIdx = append(removeIdx, idx)

			action := model.FoldAction{
				Rule:     pushEventRule.Name,
				Subject:  bucket.LogicalID,
				Produced: fn.LogicalID,
				Losses:   losses,
			}
			for _, permID := range s3Permissions(ctx.Doc, fn.LogicalID, bucket.LogicalID) {
				if ctx.Consumed[permID] {
					continue
				}
				action.Consumed = append(action.Consumed, permID)
				ctx.consume(permID)
				ctx.Doc.RemoveResource(permID)
			}
			ctx.record(action)
		}

		if err := pruneNotificationConfigs(bucket, removeIdx); err != nil {
			return err
		}
	}
	return nil
}

// convertBucketNotification maps one LambdaConfiguration entry to an S3
// event. Only prefix and suffix filter rules survive; anything else is a
// recorded loss.
func convertBucketNotification(bucketID string, idx int, cfg gjson.Result) (*object, []string) {
	events := cfg.Get("Event")
	if !events.Exists() {
		events = cfg.Get("Events")
	}
	if !events.Exists() {
		return nil, nil
	}

	var losses []string
	at := func(key string) string {
		return "NotificationConfiguration.LambdaConfigurations." + strconv.Itoa(idx) + "." + key
	}

	props := newObject()
	props.setRaw("Bucket", string(model.Ref(bucketID)))
	if events.IsArray() {
		props.setResult("Events", events)
	} else {
		props.setRaw("Events", "["+events.Raw+"]")
	}

	if rules := cfg.Get("Filter.S3Key.Rules"); rules.IsArray() {
		kept := newList()
		rules.ForEach(func(_, rule gjson.Result) bool {
			name := rule.Get("Name").String()
			if (name == "prefix" || name == "suffix") && rule.Get("Value").Exists() {
				kept.appendRaw(rule.Raw)
			} else {
				losses = append(losses, lossNote(bucketID, at("Filter"),
					"unsupported filter rule "+name))
			}
			return true
		})
		if !kept.empty() {
			filter := newObject().setRaw("S3Key", string(newObject().setRaw("Rules", string(kept.JSON())).JSON()))
			props.setRaw("Filter", string(filter.JSON()))
		}
	}

	cfg.ForEach(func(k, _ gjson.Result) bool {
		key := k.String()
		if key != "Event" && key != "Events" && key != "Function" && key != "Filter" {
			losses = append(losses, lossNote(bucketID, at(key), "no S3 event equivalent"))
		}
		return true
	})
	return newObject().set("Type", "S3").setRaw("Properties", string(props.JSON())), losses
}

// pruneNotificationConfigs deletes the folded entries from the bucket,
// highest index first, then drops the emptied containers.
func pruneNotificationConfigs(bucket *model.Resource, idx []int) error {
	for i := len(idx) - 1; i >= 0; i-- {
		path := "NotificationConfiguration.LambdaConfigurations." + strconv.Itoa(idx[i])
		if err := bucket.DeleteProperty(path); err != nil {
			return err
		}
	}
	configs := bucket.Prop("NotificationConfiguration.LambdaConfigurations")
	if configs.IsArray() && len(configs.Array()) == 0 {
		if err := bucket.DeleteProperty("NotificationConfiguration.LambdaConfigurations"); err != nil {
			return err
		}
	}
	notif := bucket.Prop("NotificationConfiguration")
	if notif.IsObject() && len(notif.Map()) == 0 {
		return bucket.DeleteProperty("NotificationConfiguration")
	}
	return nil
}

// s3Permissions finds the bucket's invoke permissions on a function. The
// principal must not name another service; CDK emits s3.amazonaws.com.
func s3Permissions(doc *model.Document, fnID, bucketID string) []string {
	var out []string
	for _, r := range doc.ResourcesOfType(model.TypeLambdaPermission) {
		if logicalIDOf(r.Prop("FunctionName")) != fnID {
			continue
		}
		principal := r.Prop("Principal")
		if principal.Type == gjson.String && principal.String() != "s3.amazonaws.com" {
			continue
		}
		if rawMentions(r.Prop("SourceArn"), bucketID) {
			out = append(out, r.LogicalID)
		}
	}
	return out
}
