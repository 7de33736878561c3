// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"fmt"
	"strings"
)

// ParseError reports malformed template input.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("parse %s:%d: %s", e.Path, e.Line, e.Msg)
	case e.Path != "":
		return fmt.Sprintf("parse %s: %s", e.Path, e.Msg)
	default:
		return fmt.Sprintf("parse: %s", e.Msg)
	}
}

// RenameConflictError reports a rename whose target name is already taken,
// either by an existing entity or by another rename in the same plan.
type RenameConflictError struct {
	Old    string
	New    string
	HeldBy string
	InPlan bool
}

func (e *RenameConflictError) Error() string {
	if e.InPlan {
		return fmt.Sprintf("rename %s -> %s conflicts with rename of %s to the same name", e.Old, e.New, e.HeldBy)
	}
	return fmt.Sprintf("rename %s -> %s conflicts with existing entity %s", e.Old, e.New, e.HeldBy)
}

// FoldAmbiguousError reports a resource claimed by more than one fold rule
// of equal precedence. No transform is applied when this is raised.
type FoldAmbiguousError struct {
	Resource string
	Rules    []string
}

func (e *FoldAmbiguousError) Error() string {
	return fmt.Sprintf("resource %s matched by overlapping fold rules: %s", e.Resource, strings.Join(e.Rules, ", "))
}

// AssetUnavailableError reports asset content that could not be obtained
// while staging was requested.
type AssetUnavailableError struct {
	Resource string
	Location string
	Err      error
}

func (e *AssetUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("asset for %s unavailable at %s: %v", e.Resource, e.Location, e.Err)
	}
	return fmt.Sprintf("asset for %s unavailable at %s", e.Resource, e.Location)
}

func (e *AssetUnavailableError) Unwrap() error {
	return e.Err
}

// ReferenceDanglingError reports reference sites that became dangling as a
// result of a transform. Sites that were already dangling in the input are
// not included.
type ReferenceDanglingError struct {
	Sites []ReferenceSite
}

func (e *ReferenceDanglingError) Error() string {
	if len(e.Sites) == 1 {
		return fmt.Sprintf("transform left dangling reference: %s", e.Sites[0])
	}
	descs := make([]string, 0, len(e.Sites))
	for _, s := range e.Sites {
		descs = append(descs, s.String())
	}
	return fmt.Sprintf("transform left %d dangling references: %s", len(e.Sites), strings.Join(descs, "; "))
}
