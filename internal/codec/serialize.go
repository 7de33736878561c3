// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package codec

import (
	"bytes"
	"fmt"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// SerializeYAML renders a document as YAML with two-space indentation.
// Output uses long-form intrinsics only, so serialization is deterministic
// for any given document.
func SerializeYAML(doc *model.Document) ([]byte, error) {
	node := jsonToNode(gjson.Parse(documentJSON(doc)))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("yaml encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("yaml encode: %w", err)
	}
	return buf.Bytes(), nil
}

// jsonToNode converts ordered JSON into a YAML node tree. gjson walks the
// raw text, so object key order carries through to the output.
func jsonToNode(result gjson.Result) *yaml.Node {
	switch {
	case result.IsObject():
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		result.ForEach(func(k, v gjson.Result) bool {
			key := &yaml.Node{}
			key.SetString(k.String())
			node.Content = append(node.Content, key, jsonToNode(v))
			return true
		})
		return node
	case result.IsArray():
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range result.Array() {
			node.Content = append(node.Content, jsonToNode(item))
		}
		return node
	case result.Type == gjson.String:
		node := &yaml.Node{}
		node.SetString(result.String())
		return node
	case result.Type == gjson.Number:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: numberTag(result.Raw), Value: result.Raw}
	case result.Type == gjson.True:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"}
	case result.Type == gjson.False:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "false"}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

func numberTag(raw string) string {
	for _, c := range raw {
		if c == '.' || c == 'e' || c == 'E' {
			return "!!float"
		}
	}
	return "!!int"
}

// Highlight colorizes serialized template text for terminal display.
func Highlight(code []byte, lexer string) ([]byte, error) {
	var buf bytes.Buffer
	err := quick.Highlight(&buf, string(code), lexer, "terminal", "vim")
	if err != nil {
		return nil, fmt.Errorf("highlight %s: %w", lexer, err)
	}

	return buf.Bytes(), nil
}
