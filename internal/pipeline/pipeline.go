// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package pipeline drives a full refactor run: parse, clean, rename, fold,
// stage assets, verify reference integrity, lint and serialize. The output
// document is written exactly once at the end, or not at all.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/platform-engineering-labs/resam/internal/assets"
	"github.com/platform-engineering-labs/resam/internal/codec"
	"github.com/platform-engineering-labs/resam/internal/fold"
	"github.com/platform-engineering-labs/resam/internal/lintcheck"
	"github.com/platform-engineering-labs/resam/internal/metadata"
	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/internal/rename"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// ErrLintFailed marks a run whose output template carries error-grade lint
// findings. The findings themselves are in the plan.
var ErrLintFailed = errors.New("template failed lint validation")

// Options configure one refactor run over one template.
type Options struct {
	// Input is the template path. Template text can be supplied directly
	// through Source, in which case Input only names the document.
	Input  string
	Source []byte
	// Output is the path the transformed template is written to. Empty
	// means don't write, the caller takes Result.Output.
	Output string

	// Samify folds resource clusters into SAM constructs.
	Samify bool
	// Rename applies metadata-derived logical ID renames.
	Rename bool
	// KeepHashes retains synthesized hash suffixes during renaming.
	KeepHashes bool
	// MetadataPath points at a cdk.out directory, manifest.json or
	// tree.json. Empty means no bundle; naming degrades to hash stripping.
	MetadataPath string

	// StageAssets materializes function code under the output's src
	// directory.
	StageAssets bool
	// StageDir overrides the project directory assets are staged under.
	StageDir    string
	SearchRoots []string
	Fetcher     assets.ObjectFetcher
	Env         *assets.Environment

	// Linter validates the final document when set.
	Linter lintcheck.Linter
	// Force downgrades lint errors from run failures to plan findings.
	Force bool
}

// Result carries the outcome of a run.
type Result struct {
	Plan   *model.RefactorPlan
	Output []byte
}

// Run executes the pipeline over a single document.
func Run(ctx context.Context, opts Options) (*Result, error) {
	source := opts.Source
	if source == nil {
		data, err := os.ReadFile(opts.Input)
		if err != nil {
			return nil, err
		}
		source = data
	}

	doc, err := codec.Parse(source, opts.Input)
	if err != nil {
		return nil, err
	}

	plan := model.NewRefactorPlan(opts.Input)
	plan.Stats.ResourcesBefore = len(doc.Resources)
	preDangling := danglingSet(doc)

	// Fold rules read aws:asset metadata, so a samifying run strips asset
	// entries only after folding.
	if err := metadata.Clean(doc, metadata.CleanOptions{KeepAssetMetadata: opts.Samify}); err != nil {
		return nil, err
	}

	if opts.Rename {
		if err := applyRenames(doc, plan, opts); err != nil {
			return nil, err
		}
	}

	if opts.Samify {
		if err := fold.NewLibrary().Run(doc, plan); err != nil {
			return nil, err
		}
		if err := fold.HoistGlobals(doc, plan); err != nil {
			return nil, err
		}
	}

	if err := planAssets(ctx, doc, plan, opts); err != nil {
		return nil, err
	}

	// Second pass drops the asset metadata the folds absorbed.
	if err := metadata.Clean(doc, metadata.CleanOptions{}); err != nil {
		return nil, err
	}

	if err := checkIntegrity(doc, preDangling); err != nil {
		return nil, err
	}

	plan.Stats.ResourcesAfter = len(doc.Resources)
	plan.Stats.Renamed = len(plan.Renames.Entries)
	plan.Stats.Folded = len(plan.Folds)

	output, err := serialize(doc, outputName(opts))
	if err != nil {
		return nil, err
	}

	// Lint runs against a staged copy so error-grade findings abort the
	// run before anything reaches the output path.
	result := &Result{Plan: plan, Output: output}
	if err := runLint(ctx, result, opts); err != nil {
		return result, err
	}

	if opts.Output != "" {
		if err := writeFileAtomic(opts.Output, output); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func applyRenames(doc *model.Document, plan *model.RefactorPlan, opts Options) error {
	var bundle *metadata.Bundle
	if opts.MetadataPath != "" {
		var err error
		bundle, err = loadBundle(opts.MetadataPath)
		if err != nil {
			return err
		}
	}

	resolver := metadata.NewResolver(bundle)
	if !resolver.HasMetadata() {
		slog.Debug("no CDK metadata, naming falls back to hash stripping", "input", opts.Input)
	}
	renames := resolver.Plan(doc, metadata.ResolveOptions{
		KeepHashes:     opts.KeepHashes,
		SemanticNaming: true,
	})
	if err := rename.Apply(doc, renames); err != nil {
		return err
	}
	plan.Renames = *renames
	return nil
}

func loadBundle(path string) (*metadata.Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return metadata.LoadDir(path)
	}
	return metadata.LoadFile(path)
}

func planAssets(ctx context.Context, doc *model.Document, plan *model.RefactorPlan, opts Options) error {
	projectDir := "."
	if opts.Output != "" {
		projectDir = filepath.Dir(opts.Output)
	}
	if opts.StageDir != "" {
		projectDir = opts.StageDir
	}
	roots := opts.SearchRoots
	if opts.MetadataPath != "" {
		roots = append(roots, opts.MetadataPath)
	}
	if opts.Input != "" {
		roots = append(roots, filepath.Dir(opts.Input))
	}

	planner := assets.NewPlanner(assets.Options{
		ProjectDir:  projectDir,
		SearchRoots: roots,
		Stage:       opts.StageAssets,
		Fetcher:     opts.Fetcher,
		Env:         opts.Env,
	})
	return planner.Plan(ctx, doc, plan)
}

// checkIntegrity fails when the transform introduced dangling references.
// Sites that were already dangling in the input pass through.
func checkIntegrity(doc *model.Document, preDangling map[string]bool) error {
	var introduced []model.ReferenceSite
	for _, site := range refindex.Build(doc).Dangling(doc) {
		if !preDangling[site.Target] {
			introduced = append(introduced, site)
		}
	}
	if len(introduced) > 0 {
		return &model.ReferenceDanglingError{Sites: introduced}
	}
	return nil
}

func danglingSet(doc *model.Document) map[string]bool {
	out := map[string]bool{}
	for _, site := range refindex.Build(doc).Dangling(doc) {
		out[site.Target] = true
	}
	return out
}

func runLint(ctx context.Context, result *Result, opts Options) error {
	if opts.Linter == nil {
		return nil
	}
	name := outputName(opts)

	// cfn-lint wants a file on disk, so the candidate output is staged in
	// a scratch location that never survives the run.
	staged, err := os.CreateTemp("", "resam-lint-*"+filepath.Ext(name))
	if err != nil {
		return fmt.Errorf("staging template for lint: %w", err)
	}
	stagedPath := staged.Name()
	defer os.Remove(stagedPath)
	if _, err := staged.Write(result.Output); err != nil {
		staged.Close()
		return fmt.Errorf("staging template for lint: %w", err)
	}
	if err := staged.Close(); err != nil {
		return fmt.Errorf("staging template for lint: %w", err)
	}

	findings, err := opts.Linter.Lint(ctx, stagedPath)
	if err != nil {
		return fmt.Errorf("linting %s: %w", name, err)
	}
	for i := range findings {
		findings[i].Location = strings.ReplaceAll(findings[i].Location, stagedPath, name)
	}
	result.Plan.Lint = findings
	if len(result.Plan.LintErrors()) > 0 && !opts.Force {
		return ErrLintFailed
	}
	return nil
}

func outputName(opts Options) string {
	if opts.Output != "" {
		return opts.Output
	}
	return opts.Input
}

func serialize(doc *model.Document, name string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return codec.SerializeJSON(doc)
	}
	return codec.SerializeYAML(doc)
}

// writeFileAtomic stages the content next to the target and renames it into
// place, so readers never observe a partial template.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".resam-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
