// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"encoding/json"
	"slices"
)

// SAMTransform is the transform declaration that marks a template as a SAM
// application.
const SAMTransform = "AWS::Serverless-2016-10-31"

// Section names in canonical template order.
const (
	SectionParameters = "Parameters"
	SectionMappings   = "Mappings"
	SectionConditions = "Conditions"
	SectionRules      = "Rules"
	SectionResources  = "Resources"
	SectionOutputs    = "Outputs"
	SectionMetadata   = "Metadata"
)

// NamedEntry is a single named member of a template section. The body is kept
// as raw JSON so that key order inside the entry survives round trips.
type NamedEntry struct {
	Name string
	Body json.RawMessage
}

// Section is an ordered collection of named entries. Order is the order the
// entries appeared in the source template.
type Section []NamedEntry

func (s Section) Get(name string) (json.RawMessage, bool) {
	for _, e := range s {
		if e.Name == name {
			return e.Body, true
		}
	}
	return nil, false
}

func (s Section) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

func (s Section) Names() []string {
	names := make([]string, 0, len(s))
	for _, e := range s {
		names = append(names, e.Name)
	}
	return names
}

// Set replaces the entry with the given name in place, or appends a new entry
// when no entry with that name exists.
func (s *Section) Set(name string, body json.RawMessage) {
	for i, e := range *s {
		if e.Name == name {
			(*s)[i].Body = body
			return
		}
	}
	*s = append(*s, NamedEntry{Name: name, Body: body})
}

func (s *Section) Delete(name string) bool {
	for i, e := range *s {
		if e.Name == name {
			*s = slices.Delete(*s, i, i+1)
			return true
		}
	}
	return false
}

// Rename changes the name of an entry while keeping its position.
func (s Section) Rename(oldName, newName string) bool {
	for i, e := range s {
		if e.Name == oldName {
			s[i].Name = newName
			return true
		}
	}
	return false
}

func (s Section) Clone() Section {
	if s == nil {
		return nil
	}
	out := make(Section, len(s))
	for i, e := range s {
		out[i] = NamedEntry{Name: e.Name, Body: slices.Clone(e.Body)}
	}
	return out
}

// Document is a parsed CloudFormation or SAM template. All sections keep the
// order of the source file so that serialization is deterministic.
type Document struct {
	FormatVersion string
	Description   string
	Transform     json.RawMessage
	Metadata      json.RawMessage
	Parameters    Section
	Mappings      Section
	Conditions    Section
	Rules         Section
	Resources     []*Resource
	Outputs       Section
	Globals       json.RawMessage
}

// Resource returns the resource with the given logical ID, or nil.
func (d *Document) Resource(logicalID string) *Resource {
	for _, r := range d.Resources {
		if r.LogicalID == logicalID {
			return r
		}
	}
	return nil
}

// ResourceIndex returns the position of the resource with the given logical
// ID, or -1 when the document has no such resource.
func (d *Document) ResourceIndex(logicalID string) int {
	for i, r := range d.Resources {
		if r.LogicalID == logicalID {
			return i
		}
	}
	return -1
}

// RemoveResource deletes the resource with the given logical ID and strips it
// from every remaining DependsOn list.
func (d *Document) RemoveResource(logicalID string) bool {
	idx := d.ResourceIndex(logicalID)
	if idx < 0 {
		return false
	}
	d.Resources = slices.Delete(d.Resources, idx, idx+1)
	for _, r := range d.Resources {
		r.DependsOn = slices.DeleteFunc(r.DependsOn, func(dep string) bool {
			return dep == logicalID
		})
		if len(r.DependsOn) == 0 {
			r.DependsOn = nil
		}
	}
	return true
}

// ResourcesOfType returns the resources with the given type, in document
// order.
func (d *Document) ResourcesOfType(resourceType string) []*Resource {
	var out []*Resource
	for _, r := range d.Resources {
		if r.Type == resourceType {
			out = append(out, r)
		}
	}
	return out
}

// LogicalIDs returns every logical ID in the document, in document order.
func (d *Document) LogicalIDs() []string {
	ids := make([]string, 0, len(d.Resources))
	for _, r := range d.Resources {
		ids = append(ids, r.LogicalID)
	}
	return ids
}

// HasSAMTransform reports whether the document declares the serverless
// transform, either as a plain string or as a member of a transform list.
func (d *Document) HasSAMTransform() bool {
	if len(d.Transform) == 0 {
		return false
	}
	var single string
	if err := json.Unmarshal(d.Transform, &single); err == nil {
		return single == SAMTransform
	}
	var many []string
	if err := json.Unmarshal(d.Transform, &many); err == nil {
		return slices.Contains(many, SAMTransform)
	}
	return false
}

// EnsureSAMTransform adds the serverless transform unless it is already
// declared. Existing non-SAM transforms are preserved ahead of it.
func (d *Document) EnsureSAMTransform() {
	if d.HasSAMTransform() {
		return
	}
	if len(d.Transform) == 0 {
		d.Transform, _ = json.Marshal(SAMTransform)
		return
	}
	var single string
	if err := json.Unmarshal(d.Transform, &single); err == nil {
		d.Transform, _ = json.Marshal([]string{single, SAMTransform})
		return
	}
	var many []string
	if err := json.Unmarshal(d.Transform, &many); err == nil {
		d.Transform, _ = json.Marshal(append(many, SAMTransform))
	}
}

// Clone returns a deep copy of the document. Fold and rename passes mutate a
// clone so the caller's document stays intact on failure.
func (d *Document) Clone() *Document {
	out := &Document{
		FormatVersion: d.FormatVersion,
		Description:   d.Description,
		Transform:     slices.Clone(d.Transform),
		Metadata:      slices.Clone(d.Metadata),
		Parameters:    d.Parameters.Clone(),
		Mappings:      d.Mappings.Clone(),
		Conditions:    d.Conditions.Clone(),
		Rules:         d.Rules.Clone(),
		Outputs:       d.Outputs.Clone(),
		Globals:       slices.Clone(d.Globals),
	}
	out.Resources = make([]*Resource, len(d.Resources))
	for i, r := range d.Resources {
		out.Resources[i] = r.Clone()
	}
	return out
}
