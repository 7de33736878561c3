// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package fold implements the pattern library that collapses CloudFormation
// resource idioms into SAM constructs. Rules run in priority order over a
// single document; a resource is consumed by at most one rule, and every
// applied fold is recorded in the refactor plan together with anything the
// produced resource could not express.
package fold

import (
	"fmt"
	"slices"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// Claim names the resources a rule would consume or rewrite, discovered on
// the untouched document. Claims exist to surface rule overlap before any
// transform runs.
type Claim struct {
	Subject   string
	Resources []string
}

// Rule is one fold pattern: a matcher producing claims and a rewrite that
// mutates the document through the shared context.
type Rule struct {
	Name     string
	Priority int
	Match    func(doc *model.Document) []Claim
	Apply    func(ctx *Context) error
}

// Context carries the state shared by the rules of one run.
type Context struct {
	Doc  *model.Document
	Plan *model.RefactorPlan

	// Consumed holds every logical ID a rule has already claimed. Later
	// rules skip these.
	Consumed map[string]bool

	// Functions indexes the serverless functions produced by the function
	// rule. Event and URL rules attach to these.
	Functions map[string]*model.Resource
}

func (c *Context) consume(ids ...string) {
	for _, id := range ids {
		c.Consumed[id] = true
	}
}

func (c *Context) record(action model.FoldAction) {
	c.Plan.Folds = append(c.Plan.Folds, action)
}

// annotate files an advisory plan finding for a resource a rule inspected
// but left in place.
func (c *Context) annotate(rule, resource, msg string) {
	c.Plan.Lint = append(c.Plan.Lint, model.LintFinding{
		Rule:     rule,
		Severity: model.LintInfo,
		Message:  msg,
		Location: resource,
	})
}

// Library is an ordered set of fold rules.
type Library struct {
	rules []Rule
}

// NewLibrary returns the built-in rule set. Priorities are distinct, so the
// default library can never be ambiguous.
func NewLibrary() *Library {
	lib := &Library{}
	for _, r := range []Rule{
		functionRule,
		functionURLRule,
		apiEventRule,
		restShellRule,
		httpShellRule,
		eventSourceRule,
		pushEventRule,
		simpleTableRule,
	} {
		lib.Register(r)
	}
	return lib
}

// Register adds a rule. Equal priorities are allowed at registration; they
// only become a defect when two rules at the same priority claim the same
// resource, which Run rejects before transforming anything.
func (l *Library) Register(r Rule) {
	l.rules = append(l.rules, r)
	slices.SortStableFunc(l.rules, func(a, b Rule) int { return a.Priority - b.Priority })
}

// Run applies every rule to the document in priority order and appends the
// resulting actions to the plan. Any fold ensures the SAM transform header.
func (l *Library) Run(doc *model.Document, plan *model.RefactorPlan) error {
	if err := l.detectAmbiguity(doc); err != nil {
		return err
	}

	ctx := &Context{
		Doc:       doc,
		Plan:      plan,
		Consumed:  map[string]bool{},
		Functions: map[string]*model.Resource{},
	}
	before := len(plan.Folds)
	for _, r := range l.rules {
		if r.Apply == nil {
			continue
		}
		if err := r.Apply(ctx); err != nil {
			return fmt.Errorf("fold rule %s: %w", r.Name, err)
		}
	}
	if len(plan.Folds) > before {
		doc.EnsureSAMTransform()
	}
	return nil
}

// detectAmbiguity matches every rule against the untouched document and
// rejects the run when two rules at the same priority claim one resource.
func (l *Library) detectAmbiguity(doc *model.Document) error {
	type claimant struct {
		rule     string
		priority int
	}
	claims := map[string][]claimant{}
	for _, r := range l.rules {
		if r.Match == nil {
			continue
		}
		for _, c := range r.Match(doc) {
			for _, id := range c.Resources {
				claims[id] = append(claims[id], claimant{r.Name, r.Priority})
			}
		}
	}
	for _, res := range doc.Resources {
		cs := claims[res.LogicalID]
		for i := 0; i < len(cs); i++ {
			for j := i + 1; j < len(cs); j++ {
				if cs[i].priority != cs[j].priority || cs[i].rule == cs[j].rule {
					continue
				}
				return &model.FoldAmbiguousError{
					Resource: res.LogicalID,
					Rules:    []string{cs[i].rule, cs[j].rule},
				}
			}
		}
	}
	return nil
}
