// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"time"

	"github.com/segmentio/ksuid"
)

// RenameSource records where a rename candidate came from.
type RenameSource string

const (
	RenameSourceMetadata  RenameSource = "cdk-metadata"
	RenameSourceHashStrip RenameSource = "hash-strip"
	RenameSourceCollision RenameSource = "collision"
)

// RenameEntry is one logical ID rename with its provenance.
type RenameEntry struct {
	Old           string       `json:"Old"`
	New           string       `json:"New"`
	Source        RenameSource `json:"Source"`
	ConstructPath string       `json:"ConstructPath,omitempty"`
}

// RenamePlan is an ordered set of logical ID renames. It is validated and
// applied atomically.
type RenamePlan struct {
	Entries []RenameEntry `json:"Entries"`
}

func (p *RenamePlan) Add(e RenameEntry) {
	p.Entries = append(p.Entries, e)
}

// Mapping returns the old-to-new name lookup for the plan.
func (p *RenamePlan) Mapping() map[string]string {
	m := make(map[string]string, len(p.Entries))
	for _, e := range p.Entries {
		m[e.Old] = e.New
	}
	return m
}

func (p *RenamePlan) IsEmpty() bool {
	return len(p.Entries) == 0
}

// FoldAction records one applied fold rule: which resources were consumed
// and which serverless resource replaced them. Losses holds notes about
// properties the produced resource could not express.
type FoldAction struct {
	Rule     string   `json:"Rule"`
	Subject  string   `json:"Subject"`
	Consumed []string `json:"Consumed,omitempty"`
	Produced string   `json:"Produced"`
	Losses   []string `json:"Losses,omitempty"`
}

// AssetRecord describes one staged or referenced asset in the output.
type AssetRecord struct {
	Resource string `json:"Resource"`
	// Digest is the sha256 of the asset content. Assets with equal digests
	// share one staging path.
	Digest string `json:"Digest"`
	Path   string `json:"Path"`
	Source string `json:"Source,omitempty"`
	Inline bool   `json:"Inline,omitempty"`
}

// LintSeverity grades a lint finding.
type LintSeverity string

const (
	LintError   LintSeverity = "error"
	LintWarning LintSeverity = "warning"
	LintInfo    LintSeverity = "informational"
)

// LintFinding is one advisory result from template validation.
type LintFinding struct {
	Rule     string       `json:"Rule"`
	Severity LintSeverity `json:"Severity"`
	Message  string       `json:"Message"`
	Location string       `json:"Location,omitempty"`
}

// PlanStats summarizes a refactor run.
type PlanStats struct {
	ResourcesBefore int `json:"ResourcesBefore"`
	ResourcesAfter  int `json:"ResourcesAfter"`
	Renamed         int `json:"Renamed"`
	Folded          int `json:"Folded"`
	Staged          int `json:"Staged"`
}

// RefactorPlan is the full record of a refactor run: every rename, fold and
// asset decision, plus lint results. It can be emitted instead of the
// transformed template for review.
type RefactorPlan struct {
	ID        string        `json:"ID"`
	CreatedAt time.Time     `json:"CreatedAt"`
	Input     string        `json:"Input,omitempty"`
	Renames   RenamePlan    `json:"Renames"`
	Folds     []FoldAction  `json:"Folds,omitempty"`
	Assets    []AssetRecord `json:"Assets,omitempty"`
	Lint      []LintFinding `json:"Lint,omitempty"`
	Stats     PlanStats     `json:"Stats"`
}

// NewRefactorPlan allocates a plan with a fresh ID.
func NewRefactorPlan(input string) *RefactorPlan {
	return &RefactorPlan{
		ID:        ksuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Input:     input,
	}
}

// LintErrors returns only the error-grade findings.
func (p *RefactorPlan) LintErrors() []LintFinding {
	var out []LintFinding
	for _, f := range p.Lint {
		if f.Severity == LintError {
			out = append(out, f)
		}
	}
	return out
}
