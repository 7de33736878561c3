// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import "fmt"

// RefKind classifies how a reference site points at its target.
type RefKind string

const (
	RefKindRef         RefKind = "Ref"
	RefKindGetAtt      RefKind = "GetAtt"
	RefKindSub         RefKind = "Sub"
	RefKindDependsOn   RefKind = "DependsOn"
	RefKindCondition   RefKind = "Condition"
	RefKindImportValue RefKind = "ImportValue"
)

// EntityKind names the template section a reference site lives in.
type EntityKind string

const (
	EntityResource  EntityKind = "Resource"
	EntityOutput    EntityKind = "Output"
	EntityCondition EntityKind = "Condition"
	EntityRule      EntityKind = "Rule"
	EntityGlobals   EntityKind = "Globals"
)

// ReferenceSite is one occurrence of a reference to a template entity. Path
// is a gjson/sjson path into the owning entity's body; it is empty for
// resource-level sites such as DependsOn entries and Condition attributes.
type ReferenceSite struct {
	// Owner identifies the template entity the site occurs in.
	Owner string
	// OwnerKind is the section the owner lives in.
	OwnerKind EntityKind
	// Path locates the intrinsic within the owner's body.
	Path string
	// Kind is the reference form at this site.
	Kind RefKind
	// Target is the referenced logical ID or parameter name.
	Target string
	// Attr is the attribute path for GetAtt and Sub attribute references.
	Attr string
}

// EntityBody returns the JSON body the site's path indexes into: resource
// properties, or the owning output, condition, rule or globals body.
func (d *Document) EntityBody(site ReferenceSite) ([]byte, bool) {
	switch site.OwnerKind {
	case EntityResource:
		if r := d.Resource(site.Owner); r != nil {
			return r.Properties, true
		}
	case EntityOutput:
		if b, ok := d.Outputs.Get(site.Owner); ok {
			return b, true
		}
	case EntityCondition:
		if b, ok := d.Conditions.Get(site.Owner); ok {
			return b, true
		}
	case EntityRule:
		if b, ok := d.Rules.Get(site.Owner); ok {
			return b, true
		}
	case EntityGlobals:
		return d.Globals, true
	}
	return nil, false
}

// SetEntityBody writes an updated body back to the site's owner.
func (d *Document) SetEntityBody(site ReferenceSite, body []byte) {
	switch site.OwnerKind {
	case EntityResource:
		d.Resource(site.Owner).Properties = body
	case EntityOutput:
		d.Outputs.Set(site.Owner, body)
	case EntityCondition:
		d.Conditions.Set(site.Owner, body)
	case EntityRule:
		d.Rules.Set(site.Owner, body)
	case EntityGlobals:
		d.Globals = body
	}
}

func (s ReferenceSite) String() string {
	loc := s.Owner
	if s.Path != "" {
		loc = fmt.Sprintf("%s:%s", s.Owner, s.Path)
	}
	if s.Attr != "" {
		return fmt.Sprintf("%s %s -> %s.%s", loc, s.Kind, s.Target, s.Attr)
	}
	return fmt.Sprintf("%s %s -> %s", loc, s.Kind, s.Target)
}
