// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package refindex builds the reference index of a template: every Ref,
// GetAtt, Sub variable, DependsOn entry and condition attachment, with the
// exact location it occurs at. The renamer and the fold engine both consult
// the index instead of re-scanning the template.
package refindex

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// Index holds every reference site of a document, grouped by target.
type Index struct {
	sites    []model.ReferenceSite
	byTarget map[string][]int
}

// Build scans the whole document. Sites are recorded in document order.
func Build(doc *model.Document) *Index {
	ix := &Index{byTarget: make(map[string][]int)}

	for _, r := range doc.Resources {
		if r.Condition != "" {
			ix.add(model.ReferenceSite{
				Owner:     r.LogicalID,
				OwnerKind: model.EntityResource,
				Kind:      model.RefKindCondition,
				Target:    r.Condition,
			})
		}
		for _, dep := range r.DependsOn {
			ix.add(model.ReferenceSite{
				Owner:     r.LogicalID,
				OwnerKind: model.EntityResource,
				Kind:      model.RefKindDependsOn,
				Target:    dep,
			})
		}
		ix.walk(r.LogicalID, model.EntityResource, "", gjson.ParseBytes(r.Properties))
	}
	for _, e := range doc.Conditions {
		ix.walk(e.Name, model.EntityCondition, "", gjson.ParseBytes(e.Body))
	}
	for _, e := range doc.Outputs {
		ix.walk(e.Name, model.EntityOutput, "", gjson.ParseBytes(e.Body))
	}
	for _, e := range doc.Rules {
		ix.walk(e.Name, model.EntityRule, "", gjson.ParseBytes(e.Body))
	}
	if len(doc.Globals) > 0 {
		ix.walk("Globals", model.EntityGlobals, "", gjson.ParseBytes(doc.Globals))
	}
	return ix
}

// Sites returns every recorded site in document order.
func (ix *Index) Sites() []model.ReferenceSite {
	return ix.sites
}

// SitesFor returns the sites targeting the given name.
func (ix *Index) SitesFor(target string) []model.ReferenceSite {
	idxs := ix.byTarget[target]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]model.ReferenceSite, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, ix.sites[i])
	}
	return out
}

// Targets returns the distinct referenced names.
func (ix *Index) Targets() []string {
	seen := make(map[string]bool, len(ix.byTarget))
	var out []string
	for _, s := range ix.sites {
		if !seen[s.Target] {
			seen[s.Target] = true
			out = append(out, s.Target)
		}
	}
	return out
}

// Dangling returns the sites whose target does not resolve in the document.
// Ref sites resolve against resources and parameters, DependsOn and GetAtt
// against resources only, condition sites against the Conditions section.
// Pseudo parameters always resolve.
func (ix *Index) Dangling(doc *model.Document) []model.ReferenceSite {
	var out []model.ReferenceSite
	for _, s := range ix.sites {
		if model.IsPseudoParameter(s.Target) {
			continue
		}
		var ok bool
		switch s.Kind {
		case model.RefKindCondition:
			ok = doc.Conditions.Has(s.Target)
		case model.RefKindDependsOn, model.RefKindGetAtt:
			ok = doc.Resource(s.Target) != nil
		default:
			ok = doc.Resource(s.Target) != nil || doc.Parameters.Has(s.Target)
		}
		if !ok {
			out = append(out, s)
		}
	}
	return out
}

func (ix *Index) add(s model.ReferenceSite) {
	ix.byTarget[s.Target] = append(ix.byTarget[s.Target], len(ix.sites))
	ix.sites = append(ix.sites, s)
}

func (ix *Index) walk(owner string, kind model.EntityKind, path string, val gjson.Result) {
	switch {
	case val.IsObject():
		if ix.matchIntrinsic(owner, kind, path, val) {
			return
		}
		val.ForEach(func(k, v gjson.Result) bool {
			ix.walk(owner, kind, joinPath(path, EscapeSegment(k.String())), v)
			return true
		})
	case val.IsArray():
		for i, item := range val.Array() {
			ix.walk(owner, kind, joinPath(path, strconv.Itoa(i)), item)
		}
	}
}

// matchIntrinsic records the site when val is an intrinsic reference.
// Returns true when the subtree is fully handled.
func (ix *Index) matchIntrinsic(owner string, kind model.EntityKind, path string, val gjson.Result) bool {
	if target, ok := model.RefTarget(val); ok {
		ix.add(model.ReferenceSite{
			Owner: owner, OwnerKind: kind, Path: path,
			Kind: model.RefKindRef, Target: target,
		})
		return true
	}
	if name, attr, ok := model.GetAttTarget(val); ok {
		ix.add(model.ReferenceSite{
			Owner: owner, OwnerKind: kind, Path: path,
			Kind: model.RefKindGetAtt, Target: name, Attr: attr,
		})
		return true
	}
	if sub := val.Get(`Fn\:\:Sub`); sub.Exists() && singleKey(val) {
		ix.walkSub(owner, kind, path, sub)
		return true
	}
	if cond := val.Get(`Fn\:\:If`); cond.Exists() && singleKey(val) && cond.IsArray() {
		branches := cond.Array()
		if len(branches) == 3 {
			ix.add(model.ReferenceSite{
				Owner: owner, OwnerKind: kind,
				Path: joinPath(path, `Fn\:\:If.0`),
				Kind: model.RefKindCondition, Target: branches[0].String(),
			})
			ix.walk(owner, kind, joinPath(path, `Fn\:\:If.1`), branches[1])
			ix.walk(owner, kind, joinPath(path, `Fn\:\:If.2`), branches[2])
			return true
		}
	}
	// {"Condition": "Name"} appears inside condition expressions. The same
	// shape never carries a string value elsewhere, IAM statement Condition
	// blocks are objects.
	if kind == model.EntityCondition && singleKey(val) {
		if c := val.Get("Condition"); c.Exists() && c.Type == gjson.String {
			ix.add(model.ReferenceSite{
				Owner: owner, OwnerKind: kind, Path: joinPath(path, "Condition"),
				Kind: model.RefKindCondition, Target: c.String(),
			})
			return true
		}
	}
	return false
}

// walkSub records one site per template variable. In the two-element list
// form, names bound by the local variable map shadow template entities and
// are not sites, while the map values are walked normally.
func (ix *Index) walkSub(owner string, kind model.EntityKind, path string, sub gjson.Result) {
	template := sub
	local := map[string]bool{}
	if sub.IsArray() {
		parts := sub.Array()
		if len(parts) != 2 {
			return
		}
		template = parts[0]
		parts[1].ForEach(func(k, v gjson.Result) bool {
			local[k.String()] = true
			return true
		})
		ix.walk(owner, kind, joinPath(path, `Fn\:\:Sub.1`), parts[1])
	}
	for _, tok := range model.ParseSubTokens(template.String()) {
		if tok.Literal || tok.Pseudo || local[tok.Name] {
			continue
		}
		ix.add(model.ReferenceSite{
			Owner: owner, OwnerKind: kind, Path: path,
			Kind: model.RefKindSub, Target: tok.Name, Attr: tok.Attr,
		})
	}
}

func singleKey(val gjson.Result) bool {
	n := 0
	val.ForEach(func(k, v gjson.Result) bool {
		n++
		return n <= 1
	})
	return n == 1
}

func joinPath(base, seg string) string {
	if base == "" {
		return seg
	}
	return base + "." + seg
}

// EscapeSegment escapes gjson/sjson path metacharacters in a single key so
// that keys like "Fn::GetAtt" or "method.response.header.X" address the
// right element.
func EscapeSegment(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
