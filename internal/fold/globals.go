// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// hoistableFunctionProps are the settings worth lifting when every function
// agrees on them.
var hoistableFunctionProps = []string{"Runtime", "MemorySize", "Timeout"}

// HoistGlobals moves settings shared by every serverless function into the
// Globals section: Runtime, MemorySize and Timeout when identical across
// all of them, plus environment variables carrying the same value
// everywhere. Templates with fewer than two functions are left alone.
func HoistGlobals(doc *model.Document, plan *model.RefactorPlan) error {
	fns := doc.ResourcesOfType(model.TypeServerlessFunction)
	if len(fns) < 2 {
		return nil
	}

	hoisted := false
	for _, prop := range hoistableFunctionProps {
		raw, ok := sharedPropValue(fns, prop)
		if !ok {
			continue
		}
		if err := setGlobalFunction(doc, refindex.EscapeSegment(prop), raw); err != nil {
			return err
		}
		for _, fn := range fns {
			if err := fn.DeleteProperty(prop); err != nil {
				return err
			}
		}
		hoisted = true
	}

	for _, key := range sharedEnvironmentKeys(fns) {
		escaped := refindex.EscapeSegment(key)
		raw := fns[0].Prop("Environment.Variables." + escaped).Raw
		if err := setGlobalFunction(doc, "Environment.Variables."+escaped, raw); err != nil {
			return err
		}
		for _, fn := range fns {
			if err := fn.DeleteProperty("Environment.Variables." + escaped); err != nil {
				return err
			}
			pruneEmptyEnvironment(fn)
		}
		hoisted = true
	}

	if hoisted {
		plan.Lint = append(plan.Lint, model.LintFinding{
			Rule:     "globals",
			Severity: model.LintInfo,
			Message:  "shared function settings hoisted into Globals.Function",
			Location: "Globals",
		})
	}
	return nil
}

// sharedPropValue returns the property's raw JSON when every function sets
// it to the same value.
func sharedPropValue(fns []*model.Resource, prop string) (string, bool) {
	shared := ""
	for i, fn := range fns {
		v := fn.Prop(prop)
		if !v.Exists() {
			return "", false
		}
		if i == 0 {
			shared = v.Raw
			continue
		}
		if v.Raw != shared {
			return "", false
		}
	}
	return shared, true
}

// sharedEnvironmentKeys returns the environment variable names every
// function defines with an identical value, in the first function's order.
// All functions must carry a Variables block for anything to qualify.
func sharedEnvironmentKeys(fns []*model.Resource) []string {
	for _, fn := range fns {
		if !fn.Prop("Environment.Variables").IsObject() {
			return nil
		}
	}
	var keys []string
	fns[0].Prop("Environment.Variables").ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		for _, fn := range fns[1:] {
			other := fn.Prop("Environment.Variables." + refindex.EscapeSegment(key))
			if !other.Exists() || other.Raw != v.Raw {
				return true
			}
		}
		keys = append(keys, key)
		return true
	})
	return keys
}

func setGlobalFunction(doc *model.Document, path, raw string) error {
	globals := doc.Globals
	if len(globals) == 0 {
		globals = []byte(`{}`)
	}
	out, err := sjson.SetRawBytes(globals, "Function."+path, []byte(raw))
	if err != nil {
		return err
	}
	doc.Globals = out
	return nil
}

func pruneEmptyEnvironment(fn *model.Resource) {
	if vars := fn.Prop("Environment.Variables"); vars.IsObject() && len(vars.Map()) == 0 {
		_ = fn.DeleteProperty("Environment.Variables")
	}
	if env := fn.Prop("Environment"); env.IsObject() && len(env.Map()) == 0 {
		_ = fn.DeleteProperty("Environment")
	}
}
