// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package rename applies a rename plan to a document. Application is atomic:
// the plan is validated and executed against a clone, and the caller's
// document is only replaced once every reference site has been rewritten and
// the integrity check passed.
package rename

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// Apply executes the plan on the document. On any error the document is left
// untouched.
func Apply(doc *model.Document, plan *model.RenamePlan) error {
	if plan.IsEmpty() {
		return nil
	}
	if err := validate(doc, plan); err != nil {
		return err
	}

	mapping := plan.Mapping()
	clone := doc.Clone()
	if err := rewriteSites(clone, mapping); err != nil {
		return err
	}
	renameKeys(clone, mapping)

	if err := checkIntegrity(doc, clone); err != nil {
		return err
	}
	*doc = *clone
	return nil
}

// RewriteReferences rewrites every reference site whose target is a key of
// the mapping, without renaming entities or running the integrity check.
// Fold rules use it to point references at implicit SAM resources, which do
// not exist as entities in the document.
func RewriteReferences(doc *model.Document, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	return rewriteSites(doc, mapping)
}

func validate(doc *model.Document, plan *model.RenamePlan) error {
	// Names that remain in use after the plan runs.
	retired := map[string]bool{}
	for _, e := range plan.Entries {
		retired[e.Old] = true
	}
	held := map[string]string{}
	for _, id := range doc.LogicalIDs() {
		if !retired[id] {
			held[id] = id
		}
	}
	for _, p := range doc.Parameters {
		held[p.Name] = p.Name
	}
	for _, c := range doc.Conditions {
		if !retired[c.Name] {
			held[c.Name] = c.Name
		}
	}

	claimed := map[string]string{}
	for _, e := range plan.Entries {
		if doc.Resource(e.Old) == nil && !doc.Conditions.Has(e.Old) {
			return fmt.Errorf("rename %s -> %s: no such entity", e.Old, e.New)
		}
		if prev, ok := claimed[e.New]; ok {
			return &model.RenameConflictError{Old: e.Old, New: e.New, HeldBy: prev, InPlan: true}
		}
		if owner, ok := held[e.New]; ok {
			return &model.RenameConflictError{Old: e.Old, New: e.New, HeldBy: owner}
		}
		claimed[e.New] = e.Old
	}
	return nil
}

// rewriteSites updates every Ref, GetAtt and Sub occurrence whose target is
// renamed. Bodies are edited through sjson at the indexed paths, so shapes
// and sibling keys stay untouched.
func rewriteSites(doc *model.Document, mapping map[string]string) error {
	ix := refindex.Build(doc)

	// A Sub template holds one site per token but is rewritten whole, once.
	subDone := map[string]bool{}

	for _, site := range ix.Sites() {
		if _, renamed := mapping[site.Target]; !renamed {
			continue
		}
		body, ok := doc.EntityBody(site)
		if !ok {
			continue
		}
		var (
			out []byte
			err error
		)
		switch site.Kind {
		case model.RefKindRef:
			if site.Path == "" {
				out = model.Ref(mapping[site.Target])
			} else {
				out, err = sjson.SetRawBytes(body, site.Path, model.Ref(mapping[site.Target]))
			}
		case model.RefKindGetAtt:
			parts := append([]string{mapping[site.Target]}, strings.Split(site.Attr, ".")...)
			out, err = sjson.SetBytes(body, joinKey(site.Path, `Fn\:\:GetAtt`), parts)
		case model.RefKindSub:
			key := site.Owner + "\x00" + site.Path
			if subDone[key] {
				continue
			}
			subDone[key] = true
			out, err = rewriteSubSite(body, site.Path, mapping)
		case model.RefKindCondition:
			// Fn::If and Condition expression operands. Resource-level
			// Condition attributes have no path and are renamed with the
			// keys.
			if site.Path == "" {
				continue
			}
			out, err = sjson.SetBytes(body, site.Path, mapping[site.Target])
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("rewrite %s: %w", site, err)
		}
		doc.SetEntityBody(site, out)
	}
	return nil
}

// rewriteSubSite renames the tokens of the Fn::Sub at the given path,
// handling both the plain string and the two-element list form.
func rewriteSubSite(body []byte, path string, mapping map[string]string) ([]byte, error) {
	subPath := joinKey(path, `Fn\:\:Sub`)
	val := gjson.GetBytes(body, subPath)
	rename := func(name string) (string, bool) {
		newName, ok := mapping[name]
		return newName, ok
	}
	if val.Type == gjson.String {
		return sjson.SetBytes(body, subPath, model.RewriteSub(val.String(), rename))
	}
	if val.IsArray() {
		parts := val.Array()
		if len(parts) == 2 && parts[0].Type == gjson.String {
			// Local variables shadow template names, so only tokens the
			// index recorded get here and plain rewriting is safe.
			return sjson.SetBytes(body, subPath+".0", model.RewriteSub(parts[0].String(), rename))
		}
	}
	return body, nil
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// renameKeys renames resource and condition keys plus the structural
// references that are not part of property bodies.
func renameKeys(doc *model.Document, mapping map[string]string) {
	for _, r := range doc.Resources {
		if newName, ok := mapping[r.LogicalID]; ok {
			r.LogicalID = newName
		}
		for i, dep := range r.DependsOn {
			if newName, ok := mapping[dep]; ok {
				r.DependsOn[i] = newName
			}
		}
		if newName, ok := mapping[r.Condition]; ok && r.Condition != "" {
			r.Condition = newName
		}
	}
	for _, e := range doc.Conditions {
		if newName, ok := mapping[e.Name]; ok {
			doc.Conditions.Rename(e.Name, newName)
		}
	}
}

// checkIntegrity verifies the rename introduced no dangling references.
// Targets that were already unresolvable in the input stay tolerated.
func checkIntegrity(before, after *model.Document) error {
	preDangling := map[string]bool{}
	for _, s := range refindex.Build(before).Dangling(before) {
		preDangling[s.Target] = true
	}
	var introduced []model.ReferenceSite
	for _, s := range refindex.Build(after).Dangling(after) {
		if !preDangling[s.Target] {
			introduced = append(introduced, s)
		}
	}
	if len(introduced) > 0 {
		return &model.ReferenceDanglingError{Sites: introduced}
	}
	return nil
}
