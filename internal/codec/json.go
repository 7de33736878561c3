// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package codec

import (
	"bytes"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// forEachOrderedKey walks the keys of a raw JSON object in their original
// order. The callback returns false to stop the walk.
func forEachOrderedKey(raw json.RawMessage, fn func(key string, body json.RawMessage) bool) {
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		return fn(k.String(), json.RawMessage(v.Raw))
	})
}

func isJSONObject(raw json.RawMessage) bool {
	return gjson.ParseBytes(raw).IsObject()
}

// SerializeJSON renders a document as indented JSON with sections and keys
// in canonical order.
func SerializeJSON(doc *model.Document) ([]byte, error) {
	compact := documentJSON(doc)
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(compact), "", " "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// documentJSON builds the compact JSON form of a document. Sections are
// assembled by hand so that entry order survives.
func documentJSON(doc *model.Document) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	put := func(key string, raw string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		quoted, _ := json.Marshal(key)
		b.Write(quoted)
		b.WriteByte(':')
		b.WriteString(raw)
	}
	putString := func(key, val string) {
		quoted, _ := json.Marshal(val)
		put(key, string(quoted))
	}

	if doc.FormatVersion != "" {
		putString("AWSTemplateFormatVersion", doc.FormatVersion)
	}
	if doc.Description != "" {
		putString("Description", doc.Description)
	}
	if len(doc.Transform) > 0 {
		put("Transform", string(doc.Transform))
	}
	if len(doc.Metadata) > 0 {
		put("Metadata", string(doc.Metadata))
	}
	if len(doc.Globals) > 0 {
		put("Globals", string(doc.Globals))
	}
	if len(doc.Parameters) > 0 {
		put(model.SectionParameters, sectionJSON(doc.Parameters))
	}
	if len(doc.Mappings) > 0 {
		put(model.SectionMappings, sectionJSON(doc.Mappings))
	}
	if len(doc.Conditions) > 0 {
		put(model.SectionConditions, sectionJSON(doc.Conditions))
	}
	if len(doc.Rules) > 0 {
		put(model.SectionRules, sectionJSON(doc.Rules))
	}
	if len(doc.Resources) > 0 {
		put(model.SectionResources, resourcesJSON(doc.Resources))
	}
	if len(doc.Outputs) > 0 {
		put(model.SectionOutputs, sectionJSON(doc.Outputs))
	}
	b.WriteByte('}')
	return b.String()
}

func sectionJSON(s model.Section) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		quoted, _ := json.Marshal(e.Name)
		b.Write(quoted)
		b.WriteByte(':')
		b.Write(e.Body)
	}
	b.WriteByte('}')
	return b.String()
}

func resourcesJSON(resources []*model.Resource) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, r := range resources {
		if i > 0 {
			b.WriteByte(',')
		}
		quoted, _ := json.Marshal(r.LogicalID)
		b.Write(quoted)
		b.WriteByte(':')
		b.WriteString(resourceJSON(r))
	}
	b.WriteByte('}')
	return b.String()
}

func resourceJSON(r *model.Resource) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	put := func(key string, raw string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		quoted, _ := json.Marshal(key)
		b.Write(quoted)
		b.WriteByte(':')
		b.WriteString(raw)
	}
	putString := func(key, val string) {
		quoted, _ := json.Marshal(val)
		put(key, string(quoted))
	}

	putString("Type", r.Type)
	if r.Condition != "" {
		putString("Condition", r.Condition)
	}
	if len(r.DependsOn) > 0 {
		deps, _ := json.Marshal(r.DependsOn)
		put("DependsOn", string(deps))
	}
	if len(r.Properties) > 0 {
		put("Properties", string(r.Properties))
	}
	if len(r.CreationPolicy) > 0 {
		put("CreationPolicy", string(r.CreationPolicy))
	}
	if len(r.UpdatePolicy) > 0 {
		put("UpdatePolicy", string(r.UpdatePolicy))
	}
	if r.DeletionPolicy != "" {
		putString("DeletionPolicy", r.DeletionPolicy)
	}
	if r.UpdateReplacePolicy != "" {
		putString("UpdateReplacePolicy", r.UpdateReplacePolicy)
	}
	if len(r.Metadata) > 0 {
		put("Metadata", string(r.Metadata))
	}
	b.WriteByte('}')
	return b.String()
}
