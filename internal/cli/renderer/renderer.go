// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package renderer turns refactor plans and CDK metadata into terminal
// output for the CLI commands.
package renderer

import (
	"fmt"
	"strings"

	"github.com/ddddddO/gtree"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/platform-engineering-labs/resam/internal/cli/display"
	"github.com/platform-engineering-labs/resam/internal/metadata"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// RenderPlan formats a full refactor plan: renames, folds, assets and the
// run summary.
func RenderPlan(plan *model.RefactorPlan) (string, error) {
	var out strings.Builder

	if plan.Input != "" {
		out.WriteString(display.Greyf("Plan %s for %s\n\n", plan.ID, plan.Input))
	} else {
		out.WriteString(display.Greyf("Plan %s\n\n", plan.ID))
	}

	if !plan.Renames.IsEmpty() {
		renames, err := renderRenames(&plan.Renames)
		if err != nil {
			return "", err
		}
		out.WriteString(renames)
		out.WriteString("\n")
	}

	if len(plan.Folds) > 0 {
		folds, err := renderFolds(plan.Folds)
		if err != nil {
			return "", err
		}
		out.WriteString(folds)
		out.WriteString("\n")
	}

	if len(plan.Assets) > 0 {
		assets, err := renderAssets(plan.Assets)
		if err != nil {
			return "", err
		}
		out.WriteString(assets)
		out.WriteString("\n")
	}

	if len(plan.Lint) > 0 {
		out.WriteString(RenderLintFindings(plan.Lint))
		out.WriteString("\n")
	}

	stats, err := renderStats(&plan.Stats)
	if err != nil {
		return "", err
	}
	out.WriteString(stats)

	return out.String(), nil
}

func renderRenames(renames *model.RenamePlan) (string, error) {
	var buf strings.Builder
	table := newTable(&buf)
	table.Header(display.LightBlue("Old"),
		display.LightBlue("New"),
		"Source",
		display.Grey("Construct Path"))

	data := make([][]any, len(renames.Entries))
	for i, e := range renames.Entries {
		source := string(e.Source)
		switch e.Source {
		case model.RenameSourceMetadata:
			source = display.Green(source)
		case model.RenameSourceCollision:
			source = display.Gold(source)
		}
		data[i] = []any{e.Old, display.Green(e.New), source, display.Grey(e.ConstructPath)}
	}
	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("error formatting renames: %v", err)
	}
	if err := table.Render(); err != nil {
		return "", fmt.Errorf("error rendering renames: %v", err)
	}
	return buf.String(), nil
}

func renderFolds(folds []model.FoldAction) (string, error) {
	root := gtree.NewRoot(display.Green("Folded into serverless resources:"))
	for _, f := range folds {
		node := root.Add(fmt.Sprintf("%s: %s", display.LightBlue(f.Rule), f.Produced))
		for _, consumed := range f.Consumed {
			node.Add(display.Grey("absorbed ") + consumed)
		}
		for _, loss := range f.Losses {
			node.Add(display.Gold("lost ") + loss)
		}
	}
	var buf strings.Builder
	if err := gtree.OutputFromRoot(&buf, root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderAssets(assets []model.AssetRecord) (string, error) {
	var buf strings.Builder
	table := newTable(&buf)
	table.Header(display.LightBlue("Resource"), "Asset", display.Grey("Source"))

	data := make([][]any, len(assets))
	for i, a := range assets {
		location := a.Path
		if a.Inline {
			location = display.Grey("inline")
			if a.Path != "" {
				location = a.Path
			}
		}
		data[i] = []any{display.LightBlue(a.Resource), location, display.Grey(a.Source)}
	}
	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("error formatting assets: %v", err)
	}
	if err := table.Render(); err != nil {
		return "", fmt.Errorf("error rendering assets: %v", err)
	}
	return buf.String(), nil
}

func renderStats(stats *model.PlanStats) (string, error) {
	var buf strings.Builder
	table := newTable(&buf)
	table.Header("Resources Before",
		"Resources After",
		display.Green("Renamed"),
		display.Green("Folded"),
		display.LightBlue("Staged"))
	row := []string{
		fmt.Sprintf("%d", stats.ResourcesBefore),
		fmt.Sprintf("%d", stats.ResourcesAfter),
		display.Green(fmt.Sprintf("%d", stats.Renamed)),
		display.Green(fmt.Sprintf("%d", stats.Folded)),
		display.LightBlue(fmt.Sprintf("%d", stats.Staged)),
	}
	if err := table.Append(row); err != nil {
		return "", fmt.Errorf("error formatting summary: %v", err)
	}
	if err := table.Render(); err != nil {
		return "", fmt.Errorf("error rendering summary: %v", err)
	}
	return buf.String(), nil
}

// RenderLintFindings formats cfn-lint results with severity coloring.
func RenderLintFindings(findings []model.LintFinding) string {
	var out strings.Builder
	for _, f := range findings {
		severity := display.Grey(string(f.Severity))
		switch f.Severity {
		case model.LintError:
			severity = display.Red(string(f.Severity))
		case model.LintWarning:
			severity = display.Gold(string(f.Severity))
		}
		out.WriteString(fmt.Sprintf("%s %s: %s", severity, display.LightBlue(f.Rule), f.Message))
		if f.Location != "" {
			out.WriteString(display.Greyf(" (%s)", f.Location))
		}
		out.WriteString("\n")
	}
	return out.String()
}

// RenderConstructTree draws the CDK construct tree the way tree.json nests
// it.
func RenderConstructTree(tree *metadata.TreeNode) (string, error) {
	if tree == nil {
		return display.Gold("No construct tree found.\n"), nil
	}
	label := tree.ID
	if label == "" {
		label = "App"
	}
	root := gtree.NewRoot(display.LightBlue(label))
	for _, child := range tree.Children {
		addConstructNode(root, child)
	}
	var buf strings.Builder
	if err := gtree.OutputFromRoot(&buf, root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func addConstructNode(parent *gtree.Node, n *metadata.TreeNode) {
	label := n.ID
	if n.Type != "" {
		label = fmt.Sprintf("%s %s", n.ID, display.Grey(n.Type))
	}
	node := parent.Add(label)
	for _, child := range n.Children {
		addConstructNode(node, child)
	}
}

// RenderCandidates formats the rename candidates a metadata bundle implies.
func RenderCandidates(bundle *metadata.Bundle) (string, error) {
	constructs := bundle.Constructs()
	if len(constructs) == 0 {
		return display.Gold("No logical IDs mapped by this metadata bundle.\n"), nil
	}

	var buf strings.Builder
	table := newTable(&buf)
	table.Header(display.LightBlue("Logical ID"),
		display.Green("Construct Name"),
		"Resource Type",
		display.Grey("Construct Path"),
		"Generated")

	data := make([][]any, len(constructs))
	for i, c := range constructs {
		generated := ""
		if c.Generated {
			generated = display.Gold("yes")
		}
		data[i] = []any{
			display.LightBlue(c.LogicalID),
			display.Green(c.ConstructName),
			c.ResourceType,
			display.Grey(c.Path),
			generated,
		}
	}
	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("error formatting candidates: %v", err)
	}
	if err := table.Render(); err != nil {
		return "", fmt.Errorf("error rendering candidates: %v", err)
	}
	return buf.String(), nil
}

func newTable(buf *strings.Builder) *tablewriter.Table {
	return tablewriter.NewTable(buf,
		tablewriter.WithHeaderAutoFormat(tw.Off),
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
		})))
}
