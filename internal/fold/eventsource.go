// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// eventSourceRule folds AWS::Lambda::EventSourceMapping resources into
// typed event blocks on the owning function. The event type comes from the
// referenced source resource when the mapping points at one, falling back
// to ARN heuristics for literal and Sub-built ARNs. Mapping fields with no
// event equivalent are carried onto the event verbatim and noted in the
// plan, never dropped.
var eventSourceRule = Rule{
	Name:     "event-source",
	Priority: 60,
	Match:    matchEventSources,
}

// Apply is assigned in init to avoid an initialization cycle: the apply
// function refers back to the rule's Name.
func init() { eventSourceRule.Apply = applyEventSources }

// commonMappingKeys are the EventSourceMapping properties every pull event
// type accepts under the same name.
var commonMappingKeys = map[string]bool{
	"BatchSize":                      true,
	"Enabled":                        true,
	"StartingPosition":               true,
	"StartingPositionTimestamp":      true,
	"MaximumBatchingWindowInSeconds": true,
	"MaximumRetryAttempts":           true,
	"BisectBatchOnFunctionError":     true,
	"MaximumRecordAgeInSeconds":      true,
	"ParallelizationFactor":          true,
	"DestinationConfig":              true,
	"FunctionResponseTypes":          true,
	"FilterCriteria":                 true,
	"TumblingWindowInSeconds":        true,
	"ScalingConfig":                  true,
	"ConsumerGroupId":                true,
	"ProvisionedPollerConfig":        true,
	"MetricsConfig":                  true,
}

// sourceKind describes how one event source type maps onto a SAM event.
type sourceKind struct {
	// eventType is the SAM event Type.
	eventType string
	// targetKey is the event property receiving the source ARN or the
	// Kafka bootstrap servers.
	targetKey string
	// extra lists type-specific mapping properties accepted alongside the
	// common set.
	extra []string
}

var kafkaExtraKeys = []string{
	"Topics",
	"ConsumerGroupId",
	"SourceAccessConfigurations",
	"SchemaRegistryConfig",
	"ProvisionedPollerConfig",
	"MetricsConfig",
}

func matchEventSources(doc *model.Document) []Claim {
	var claims []Claim
	for _, r := range doc.ResourcesOfType(model.TypeLambdaEventMapping) {
		fn := doc.Resource(logicalIDOf(r.Prop("FunctionName")))
		if fn == nil || fn.Type != model.TypeLambdaFunction || !functionConvertible(fn) {
			continue
		}
		if detectEventSource(doc, r) == nil {
			continue
		}
		claims = append(claims, Claim{Subject: r.LogicalID, Resources: []string{r.LogicalID}})
	}
	return claims
}

func applyEventSources(ctx *Context) error {
	for _, r := range ctx.Doc.ResourcesOfType(model.TypeLambdaEventMapping) {
		if ctx.Consumed[r.LogicalID] {
			continue
		}
		fn, ok := ctx.Functions[logicalIDOf(r.Prop("FunctionName"))]
		if !ok {
			continue
		}
		kind := detectEventSource(ctx.Doc, r)
		if kind == nil {
			continue
		}

		event, losses, err := convertEventSourceMapping(r, kind)
		if err != nil {
			return err
		}
		if event == nil {
			ctx.annotate(eventSourceRule.Name, r.LogicalID,
				"left as AWS::Lambda::EventSourceMapping: incomplete "+kind.eventType+" source")
			continue
		}

		name := uniqueEventName(fn, r.LogicalID, 1)
		if err := attachEvent(fn, name, event); err != nil {
			return err
		}
		ctx.consume(r.LogicalID)
		ctx.Doc.RemoveResource(r.LogicalID)
		ctx.record(model.FoldAction{
			Rule:     eventSourceRule.Name,
			Subject:  r.LogicalID,
			Consumed: []string{r.LogicalID},
			Produced: fn.LogicalID,
			Losses:   losses,
		})
	}
	return nil
}

// detectEventSource classifies a mapping. A SelfManagedEventSource block
// always means self-managed Kafka; otherwise the referenced resource's type
// decides, then ARN substrings.
func detectEventSource(doc *model.Document, r *model.Resource) *sourceKind {
	if r.Prop("SelfManagedEventSource").Exists() {
		return &sourceKind{
			eventType: "SelfManagedKafka",
			targetKey: "KafkaBootstrapServers",
			extra:     kafkaExtraKeys,
		}
	}

	arn := r.Prop("EventSourceArn")
	if !arn.Exists() {
		return nil
	}

	if src := doc.Resource(logicalIDOf(arn)); src != nil {
		switch src.Type {
		case model.TypeSQSQueue:
			return &sourceKind{eventType: "SQS", targetKey: "Queue"}
		case model.TypeKinesisStream:
			return &sourceKind{eventType: "Kinesis", targetKey: "Stream"}
		case model.TypeDynamoTable:
			return &sourceKind{eventType: "DynamoDB", targetKey: "Stream"}
		case model.TypeMSKCluster:
			return mskKind()
		case model.TypeMQBroker:
			return mqKind()
		case model.TypeDocDBCluster:
			return docdbKind()
		}
	}

	raw := strings.ToLower(arn.Raw)
	switch {
	case strings.Contains(raw, "kafka") && strings.Contains(raw, "cluster"):
		return mskKind()
	case strings.Contains(raw, ":mq:"):
		return mqKind()
	case strings.Contains(raw, ":docdb:"),
		strings.Contains(raw, ":rds:") && strings.Contains(raw, ":cluster:") && strings.Contains(raw, "docdb"):
		return docdbKind()
	case strings.Contains(raw, ":dynamodb:"):
		return &sourceKind{eventType: "DynamoDB", targetKey: "Stream"}
	case strings.Contains(raw, ":kinesis:"):
		return &sourceKind{eventType: "Kinesis", targetKey: "Stream"}
	case strings.Contains(raw, ":sqs:"):
		return &sourceKind{eventType: "SQS", targetKey: "Queue"}
	}
	return nil
}

func mskKind() *sourceKind {
	extra := append([]string{"AmazonManagedKafkaEventSourceConfig"}, kafkaExtraKeys...)
	return &sourceKind{eventType: "MSK", targetKey: "Stream", extra: extra}
}

func mqKind() *sourceKind {
	return &sourceKind{
		eventType: "MQ",
		targetKey: "Broker",
		extra:     []string{"Queues", "SourceAccessConfigurations"},
	}
}

func docdbKind() *sourceKind {
	return &sourceKind{
		eventType: "DocumentDB",
		targetKey: "Cluster",
		extra:     []string{"DocumentDBEventSourceConfig", "SourceAccessConfigurations", "SecretsManagerKmsKeyId"},
	}
}

// convertEventSourceMapping builds the event block. A nil event with a nil
// error means the mapping stays as-is; an error aborts the run, reserved
// for contradictory input.
func convertEventSourceMapping(r *model.Resource, kind *sourceKind) (*object, []string, error) {
	props := newObject()
	var losses []string

	target := eventSourceTarget(r, kind)
	if !target.Exists() {
		return nil, nil, nil
	}
	props.setResult(kind.targetKey, target)

	// Nested Kafka consumer group config flattens onto the event, but a
	// value both there and at the top level is contradictory input.
	amk := r.Prop("AmazonManagedKafkaEventSourceConfig")
	if amk.IsObject() {
		if cg := amk.Get("ConsumerGroupId"); cg.Exists() {
			if r.Prop("ConsumerGroupId").Exists() {
				return nil, nil, fmt.Errorf(
					"event source mapping %s: ConsumerGroupId set both directly and in AmazonManagedKafkaEventSourceConfig",
					r.LogicalID)
			}
			if cg.Type != gjson.String && !cg.IsObject() {
				return nil, nil, fmt.Errorf(
					"event source mapping %s: ConsumerGroupId must be a string or intrinsic", r.LogicalID)
			}
			props.setResult("ConsumerGroupId", cg)
		}
	}

	extra := map[string]bool{}
	for _, k := range kind.extra {
		extra[k] = true
	}

	forEachKey(r.Properties, func(key string, val gjson.Result) bool {
		switch {
		case key == "FunctionName" || key == "EventSourceArn" || key == kind.targetKey:
		case key == "SelfManagedEventSource" || key == "AmazonManagedKafkaEventSourceConfig" ||
			key == "DocumentDBEventSourceConfig":
			// Flattened separately.
		case commonMappingKeys[key] || extra[key]:
			if !props.has(key) {
				props.setResult(key, val)
			}
		default:
			props.setResult(key, val)
			losses = append(losses, lossNote(r.LogicalID, key,
				"no "+kind.eventType+" event equivalent, carried verbatim"))
		}
		return true
	})

	if kind.eventType == "DocumentDB" {
		if ok := flattenDocumentDBConfig(r, props); !ok {
			return nil, nil, nil
		}
	}

	return newObject().set("Type", kind.eventType).setRaw("Properties", string(props.JSON())), losses, nil
}

// eventSourceTarget resolves the value for the event's target key: the
// source ARN, or the bootstrap server list for self-managed Kafka, which
// CDK nests under SelfManagedEventSource.Endpoints.
func eventSourceTarget(r *model.Resource, kind *sourceKind) gjson.Result {
	if kind.targetKey != "KafkaBootstrapServers" {
		return r.Prop("EventSourceArn")
	}
	if v := r.Prop("KafkaBootstrapServers"); v.Exists() {
		return v
	}
	return r.Prop("SelfManagedEventSource.Endpoints.KafkaBootstrapServers")
}

// flattenDocumentDBConfig copies the nested DocumentDB config fields onto
// the event and enforces the fields SAM requires for the type. Returns
// false when the mapping is missing any of them.
func flattenDocumentDBConfig(r *model.Resource, props *object) bool {
	cfg := r.Prop("DocumentDBEventSourceConfig")
	if cfg.IsObject() {
		for _, key := range []string{"DatabaseName", "CollectionName", "FullDocument"} {
			if v := cfg.Get(key); v.Exists() {
				props.setResult(key, v)
			}
		}
	}
	if !props.has("DatabaseName") {
		return false
	}
	if !props.has("SourceAccessConfigurations") {
		return false
	}
	return props.has("StartingPosition")
}
