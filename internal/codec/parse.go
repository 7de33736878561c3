// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package codec reads and writes CloudFormation templates. Templates are
// parsed into the document model with section order intact and intrinsic
// short tags normalized to their long form, so the rest of the pipeline only
// ever sees long-form intrinsics.
package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// Parse decodes a template in YAML or JSON form. The path is used for error
// reporting only.
func Parse(data []byte, path string) (*model.Document, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, &model.ParseError{Path: path, Msg: "empty template"}
	}
	// JSON is a YAML subset, but decoding it directly keeps error positions
	// honest and avoids YAML's implicit typing rules.
	if trimmed[0] == '{' {
		return parseJSON(data, path)
	}
	return parseYAML(data, path)
}

func parseYAML(data []byte, path string) (*model.Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &model.ParseError{Path: path, Msg: err.Error()}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &model.ParseError{Path: path, Msg: "empty template"}
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, &model.ParseError{Path: path, Line: mapping.Line, Msg: "template root must be a mapping"}
	}

	doc := &model.Document{}
	for i := 0; i < len(mapping.Content)-1; i += 2 {
		key := mapping.Content[i].Value
		val := mapping.Content[i+1]
		raw, err := nodeToJSON(val)
		if err != nil {
			return nil, &model.ParseError{Path: path, Line: val.Line, Msg: err.Error()}
		}
		if err := assignTopLevel(doc, key, json.RawMessage(raw), path); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func parseJSON(data []byte, path string) (*model.Document, error) {
	if !json.Valid(data) {
		return nil, &model.ParseError{Path: path, Msg: "invalid JSON"}
	}
	doc := &model.Document{}
	var parseErr error
	forEachOrderedKey(data, func(key string, raw json.RawMessage) bool {
		if err := assignTopLevel(doc, key, raw, path); err != nil {
			parseErr = err
			return false
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return doc, nil
}

func assignTopLevel(doc *model.Document, key string, raw json.RawMessage, path string) error {
	switch key {
	case "AWSTemplateFormatVersion":
		return unquote(raw, &doc.FormatVersion, key, path)
	case "Description":
		return unquote(raw, &doc.Description, key, path)
	case "Transform":
		doc.Transform = raw
	case "Metadata":
		doc.Metadata = raw
	case "Globals":
		doc.Globals = raw
	case model.SectionParameters:
		return parseSection(raw, &doc.Parameters, key, path)
	case model.SectionMappings:
		return parseSection(raw, &doc.Mappings, key, path)
	case model.SectionConditions:
		return parseSection(raw, &doc.Conditions, key, path)
	case model.SectionRules:
		return parseSection(raw, &doc.Rules, key, path)
	case model.SectionOutputs:
		return parseSection(raw, &doc.Outputs, key, path)
	case model.SectionResources:
		return parseResources(raw, doc, path)
	default:
		return &model.ParseError{Path: path, Msg: fmt.Sprintf("unknown top-level section %q", key)}
	}
	return nil
}

func unquote(raw json.RawMessage, dst *string, key, path string) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &model.ParseError{Path: path, Msg: fmt.Sprintf("%s must be a string", key)}
	}
	return nil
}

func parseSection(raw json.RawMessage, dst *model.Section, key, path string) error {
	if !isJSONObject(raw) {
		return &model.ParseError{Path: path, Msg: fmt.Sprintf("%s must be a mapping", key)}
	}
	var parseErr error
	seen := map[string]bool{}
	forEachOrderedKey(raw, func(name string, body json.RawMessage) bool {
		if seen[name] {
			parseErr = &model.ParseError{Path: path, Msg: fmt.Sprintf("%s: duplicate entry %q", key, name)}
			return false
		}
		seen[name] = true
		*dst = append(*dst, model.NamedEntry{Name: name, Body: body})
		return true
	})
	return parseErr
}

func parseResources(raw json.RawMessage, doc *model.Document, path string) error {
	if !isJSONObject(raw) {
		return &model.ParseError{Path: path, Msg: "Resources must be a mapping"}
	}
	var parseErr error
	seen := map[string]bool{}
	forEachOrderedKey(raw, func(name string, body json.RawMessage) bool {
		// Logical IDs are unique within a document; a duplicate key would
		// otherwise shadow its twin in every later phase.
		if seen[name] {
			parseErr = &model.ParseError{Path: path, Msg: fmt.Sprintf("duplicate logical ID %q", name)}
			return false
		}
		seen[name] = true
		res, err := parseResource(name, body)
		if err != nil {
			parseErr = &model.ParseError{Path: path, Msg: err.Error()}
			return false
		}
		doc.Resources = append(doc.Resources, res)
		return true
	})
	return parseErr
}

func parseResource(logicalID string, body json.RawMessage) (*model.Resource, error) {
	res := &model.Resource{LogicalID: logicalID}
	var parseErr error
	forEachOrderedKey(body, func(key string, raw json.RawMessage) bool {
		switch key {
		case "Type":
			parseErr = json.Unmarshal(raw, &res.Type)
		case "Condition":
			parseErr = json.Unmarshal(raw, &res.Condition)
		case "DependsOn":
			// DependsOn accepts a bare string or a list of strings.
			var single string
			if err := json.Unmarshal(raw, &single); err == nil {
				res.DependsOn = []string{single}
			} else {
				parseErr = json.Unmarshal(raw, &res.DependsOn)
			}
		case "Properties":
			res.Properties = raw
		case "Metadata":
			res.Metadata = raw
		case "CreationPolicy":
			res.CreationPolicy = raw
		case "UpdatePolicy":
			res.UpdatePolicy = raw
		case "DeletionPolicy":
			parseErr = json.Unmarshal(raw, &res.DeletionPolicy)
		case "UpdateReplacePolicy":
			parseErr = json.Unmarshal(raw, &res.UpdateReplacePolicy)
		default:
			parseErr = fmt.Errorf("resource %s: unknown attribute %q", logicalID, key)
		}
		return parseErr == nil
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if res.Type == "" {
		return nil, fmt.Errorf("resource %s has no Type", logicalID)
	}
	return res, nil
}

// nodeToJSON converts a YAML node to a JSON string, keeping mapping key
// order and rewriting intrinsic short tags to their long form.
func nodeToJSON(node *yaml.Node) (string, error) {
	if node.Kind == yaml.ScalarNode {
		return scalarToJSON(node)
	}
	// Short tags also apply to collections, e.g. !GetAtt [A, Arn] or
	// !Sub [template, {vars}].
	if long, ok := model.ShortTagIntrinsics[node.Tag]; ok {
		inner, err := collectionToJSON(node)
		if err != nil {
			return "", err
		}
		key, err := json.Marshal(long)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("{%s:%s}", key, inner), nil
	}
	return collectionToJSON(node)
}

func collectionToJSON(node *yaml.Node) (string, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return nodeToJSON(node.Alias)
	case yaml.MappingNode:
		var b strings.Builder
		b.WriteByte('{')
		for i := 0; i < len(node.Content)-1; i += 2 {
			if i > 0 {
				b.WriteByte(',')
			}
			key, err := json.Marshal(node.Content[i].Value)
			if err != nil {
				return "", err
			}
			val, err := nodeToJSON(node.Content[i+1])
			if err != nil {
				return "", err
			}
			b.Write(key)
			b.WriteByte(':')
			b.WriteString(val)
		}
		b.WriteByte('}')
		return b.String(), nil
	case yaml.SequenceNode:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				b.WriteByte(',')
			}
			val, err := nodeToJSON(item)
			if err != nil {
				return "", err
			}
			b.WriteString(val)
		}
		b.WriteByte(']')
		return b.String(), nil
	default:
		return "", fmt.Errorf("unsupported YAML node kind %d at line %d", node.Kind, node.Line)
	}
}

func scalarToJSON(node *yaml.Node) (string, error) {
	if long, ok := model.ShortTagIntrinsics[node.Tag]; ok {
		return shortTagToJSON(long, node)
	}
	switch node.Tag {
	case "!!null":
		return "null", nil
	case "!!bool":
		v, err := strconv.ParseBool(strings.ToLower(node.Value))
		if err != nil {
			return "", fmt.Errorf("invalid bool %q at line %d", node.Value, node.Line)
		}
		return strconv.FormatBool(v), nil
	case "!!int":
		if _, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
			return node.Value, nil
		}
		// Non-decimal int forms fall back to their string spelling.
		quoted, err := json.Marshal(node.Value)
		return string(quoted), err
	case "!!float":
		if f, err := strconv.ParseFloat(node.Value, 64); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
		quoted, err := json.Marshal(node.Value)
		return string(quoted), err
	default:
		quoted, err := json.Marshal(node.Value)
		return string(quoted), err
	}
}

// shortTagToJSON expands a short intrinsic tag on a scalar, sequence tags are
// handled by the caller wrapping nodeToJSON output.
func shortTagToJSON(long string, node *yaml.Node) (string, error) {
	key, err := json.Marshal(long)
	if err != nil {
		return "", err
	}
	// !GetAtt A.B means ["A", "B"] in long form.
	if long == model.IntrinsicGetAtt {
		name, attr, found := strings.Cut(node.Value, ".")
		if !found {
			return "", fmt.Errorf("invalid !GetAtt %q at line %d", node.Value, node.Line)
		}
		parts, err := json.Marshal([]string{name, attr})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("{%s:%s}", key, parts), nil
	}
	val, err := json.Marshal(node.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("{%s:%s}", key, val), nil
}
