// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/theory/jsonpath"
	"github.com/theory/jsonpath/registry"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// jsonpathParser is a package-level parser with RFC 9535 function extensions
var jsonpathParser = jsonpath.NewParser(jsonpath.WithRegistry(registry.New()))

// Well-known resource types the transformer rewrites.
const (
	TypeLambdaFunction     = "AWS::Lambda::Function"
	TypeLambdaPermission   = "AWS::Lambda::Permission"
	TypeLambdaUrl          = "AWS::Lambda::Url"
	TypeLambdaEventMapping = "AWS::Lambda::EventSourceMapping"
	TypeIAMRole            = "AWS::IAM::Role"
	TypeIAMPolicy          = "AWS::IAM::Policy"
	TypeDynamoTable        = "AWS::DynamoDB::Table"
	TypeSQSQueue           = "AWS::SQS::Queue"
	TypeKinesisStream      = "AWS::Kinesis::Stream"
	TypeMSKCluster         = "AWS::MSK::Cluster"
	TypeMQBroker           = "AWS::AmazonMQ::Broker"
	TypeDocDBCluster       = "AWS::DocDB::DBCluster"
	TypeS3Bucket           = "AWS::S3::Bucket"
	TypeEventsRule         = "AWS::Events::Rule"
	TypeRestApi            = "AWS::ApiGateway::RestApi"
	TypeApiResource        = "AWS::ApiGateway::Resource"
	TypeApiMethod          = "AWS::ApiGateway::Method"
	TypeApiDeployment      = "AWS::ApiGateway::Deployment"
	TypeApiStage           = "AWS::ApiGateway::Stage"
	TypeApiAccount         = "AWS::ApiGateway::Account"
	TypeHttpApi            = "AWS::ApiGatewayV2::Api"
	TypeHttpStage          = "AWS::ApiGatewayV2::Stage"
	TypeHttpRoute          = "AWS::ApiGatewayV2::Route"
	TypeHttpIntegration    = "AWS::ApiGatewayV2::Integration"
	TypeCDKMetadata        = "AWS::CDK::Metadata"

	TypeServerlessFunction = "AWS::Serverless::Function"
	TypeServerlessApi      = "AWS::Serverless::Api"
	TypeServerlessHttpApi  = "AWS::Serverless::HttpApi"
	TypeServerlessTable    = "AWS::Serverless::SimpleTable"
)

// Resource is one member of a template's Resources section. Properties and
// the policy attributes are raw JSON with intrinsics in long form, so reads
// go through gjson and writes through sjson without losing key order.
type Resource struct {
	LogicalID           string
	Type                string
	Condition           string
	DependsOn           []string
	Properties          json.RawMessage
	Metadata            json.RawMessage
	CreationPolicy      json.RawMessage
	UpdatePolicy        json.RawMessage
	DeletionPolicy      string
	UpdateReplacePolicy string
}

// GetProperty retrieves a property value using a gjson query path. Returns
// the value as a string and whether the property was found. Null values are
// treated as not found.
func (r *Resource) GetProperty(query string) (string, bool) {
	result := gjson.GetBytes(r.Properties, query)
	if !result.Exists() || result.Type == gjson.Null {
		return "", false
	}
	return result.String(), true
}

// Prop returns the raw gjson result for a property query.
func (r *Resource) Prop(query string) gjson.Result {
	return gjson.GetBytes(r.Properties, query)
}

// GetPropertyJSONPath evaluates an RFC 9535 JSONPath query against the
// resource properties. Simple field names are normalized to JSONPath syntax,
// so "Handler" behaves like "$.Handler".
func (r *Resource) GetPropertyJSONPath(query string) (string, bool) {
	if len(r.Properties) == 0 {
		return "", false
	}
	var data any
	if err := json.Unmarshal(r.Properties, &data); err != nil {
		slog.Error("failed to unmarshal properties", "resource", r.LogicalID, "error", err)
		return "", false
	}
	if !strings.HasPrefix(query, "$") {
		query = "$." + query
	}
	path, err := jsonpathParser.Parse(query)
	if err != nil {
		slog.Error("failed to parse jsonpath query", "query", query, "error", err)
		return "", false
	}
	nodes := path.Select(data)
	if len(nodes) == 0 {
		return "", false
	}
	if strVal, ok := nodes[0].(string); ok {
		return strVal, true
	}
	return fmt.Sprintf("%v", nodes[0]), true
}

// SetProperty writes a JSON-encodable value at the given path, creating
// intermediate objects as needed.
func (r *Resource) SetProperty(path string, value any) error {
	props := r.Properties
	if len(props) == 0 {
		props = json.RawMessage(`{}`)
	}
	out, err := sjson.SetBytes(props, path, value)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", path, r.LogicalID, err)
	}
	r.Properties = out
	return nil
}

// SetPropertyRaw writes pre-encoded JSON at the given path.
func (r *Resource) SetPropertyRaw(path string, raw json.RawMessage) error {
	props := r.Properties
	if len(props) == 0 {
		props = json.RawMessage(`{}`)
	}
	out, err := sjson.SetRawBytes(props, path, raw)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", path, r.LogicalID, err)
	}
	r.Properties = out
	return nil
}

// DeleteProperty removes the value at the given path. Missing paths are not
// an error.
func (r *Resource) DeleteProperty(path string) error {
	if len(r.Properties) == 0 {
		return nil
	}
	out, err := sjson.DeleteBytes(r.Properties, path)
	if err != nil {
		return fmt.Errorf("delete %s on %s: %w", path, r.LogicalID, err)
	}
	r.Properties = out
	return nil
}

// Service returns the middle segment of the resource type, e.g. "Lambda" for
// AWS::Lambda::Function.
func (r *Resource) Service() string {
	frags := strings.Split(r.Type, "::")
	if len(frags) < 2 {
		return r.Type
	}
	return frags[1]
}

// ShortType returns the final segment of the resource type, e.g. "Function".
func (r *Resource) ShortType() string {
	frags := strings.Split(r.Type, "::")
	return frags[len(frags)-1]
}

// IsServerless reports whether the resource uses a SAM resource type.
func (r *Resource) IsServerless() bool {
	return strings.HasPrefix(r.Type, "AWS::Serverless::")
}

// ConstructPath returns the aws:cdk:path metadata entry, when present.
func (r *Resource) ConstructPath() (string, bool) {
	if len(r.Metadata) == 0 {
		return "", false
	}
	result := gjson.GetBytes(r.Metadata, `aws\:cdk\:path`)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}

func (r *Resource) Clone() *Resource {
	return &Resource{
		LogicalID:           r.LogicalID,
		Type:                r.Type,
		Condition:           r.Condition,
		DependsOn:           slices.Clone(r.DependsOn),
		Properties:          slices.Clone(r.Properties),
		Metadata:            slices.Clone(r.Metadata),
		CreationPolicy:      slices.Clone(r.CreationPolicy),
		UpdatePolicy:        slices.Clone(r.UpdatePolicy),
		DeletionPolicy:      r.DeletionPolicy,
		UpdateReplacePolicy: r.UpdateReplacePolicy,
	}
}
