// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package assets

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// Options configure a staging pass over a folded document.
type Options struct {
	// ProjectDir is the directory the output template is written to.
	// Rewritten code locations are relative to it.
	ProjectDir string
	// SearchRoots are tried in order when a code path is relative,
	// typically the cdk.out directory and the input template's directory.
	SearchRoots []string
	// Stage materializes external assets under ProjectDir/src instead of
	// keeping code inline or pointing at its build location.
	Stage   bool
	Fetcher ObjectFetcher
	Env     *Environment
}

// Planner rewrites function code locations after folding and records every
// asset decision in the refactor plan. The default policy keeps inline code
// inline and remote code remote; Stage pulls everything into the project.
type Planner struct {
	opts   Options
	stager *Stager
}

func NewPlanner(opts Options) *Planner {
	return &Planner{
		opts:   opts,
		stager: NewStager(opts.ProjectDir, opts.Fetcher, opts.Env),
	}
}

// Stager exposes the staging manifest built during Plan.
func (p *Planner) Stager() *Stager {
	return p.stager
}

// Plan walks the serverless functions of a folded document and settles each
// one's code location.
func (p *Planner) Plan(ctx context.Context, doc *model.Document, plan *model.RefactorPlan) error {
	for _, r := range doc.Resources {
		if r.Type != model.TypeServerlessFunction {
			continue
		}
		if err := p.planFunction(ctx, r, plan); err != nil {
			return err
		}
	}
	plan.Stats.Staged = len(p.stager.Records())
	return nil
}

func (p *Planner) planFunction(ctx context.Context, r *model.Resource, plan *model.RefactorPlan) error {
	if inline := r.Prop("InlineCode"); inline.Type == gjson.String {
		return p.planInline(r, inline.String(), plan)
	}

	uri := r.Prop("CodeUri")
	switch {
	case uri.Type == gjson.String:
		return p.planLocal(r, uri.String(), plan)
	case uri.IsObject():
		return p.planRemote(ctx, r, uri, plan)
	default:
		return nil
	}
}

func (p *Planner) planInline(r *model.Resource, code string, plan *model.RefactorPlan) error {
	if !p.opts.Stage {
		plan.Assets = append(plan.Assets, model.AssetRecord{
			Resource: r.LogicalID,
			Digest:   digestBytes(append([]byte(code), '\n')),
			Inline:   true,
		})
		return nil
	}

	staged, err := p.stager.StageInlineText(r.LogicalID, code, inlineFileName(r))
	if err != nil {
		return &model.AssetUnavailableError{Resource: r.LogicalID, Location: "InlineCode", Err: err}
	}
	if err := r.DeleteProperty("InlineCode"); err != nil {
		return err
	}
	rel := p.relativePath(staged)
	if err := r.SetProperty("CodeUri", rel); err != nil {
		return err
	}

	record := p.stager.Records()[len(p.stager.Records())-1]
	plan.Assets = append(plan.Assets, model.AssetRecord{
		Resource: r.LogicalID,
		Digest:   record.Digest,
		Path:     rel,
		Source:   record.Source,
	})
	return nil
}

func (p *Planner) planLocal(r *model.Resource, path string, plan *model.RefactorPlan) error {
	resolved, ok := p.resolveLocal(path)
	if !ok {
		if p.opts.Stage {
			return &model.AssetUnavailableError{Resource: r.LogicalID, Location: path}
		}
		// The build output is gone; keep the recorded location untouched.
		plan.Assets = append(plan.Assets, model.AssetRecord{Resource: r.LogicalID, Path: path})
		return nil
	}

	if p.opts.Stage {
		staged, err := p.stager.StageLocalPath(r.LogicalID, resolved)
		if err != nil {
			return &model.AssetUnavailableError{Resource: r.LogicalID, Location: resolved, Err: err}
		}
		rel := p.relativePath(staged)
		if err := r.SetProperty("CodeUri", rel); err != nil {
			return err
		}
		record := p.stager.Records()[len(p.stager.Records())-1]
		plan.Assets = append(plan.Assets, model.AssetRecord{
			Resource: r.LogicalID,
			Digest:   record.Digest,
			Path:     rel,
			Source:   record.Source,
		})
		return nil
	}

	rel := p.relativePath(resolved)
	if err := r.SetProperty("CodeUri", rel); err != nil {
		return err
	}
	digest, err := digestPath(resolved)
	if err != nil {
		digest = ""
	}
	plan.Assets = append(plan.Assets, model.AssetRecord{
		Resource: r.LogicalID,
		Digest:   digest,
		Path:     rel,
		Source:   resolved,
	})
	return nil
}

func (p *Planner) planRemote(ctx context.Context, r *model.Resource, uri gjson.Result, plan *model.RefactorPlan) error {
	bucket, bucketOK := p.stager.ResolveString(uri.Get("Bucket"))
	key, keyOK := p.stager.ResolveString(uri.Get("Key"))
	version := uri.Get("Version").String()

	if !p.opts.Stage || !bucketOK || !keyOK {
		// Left pointing at the deployed artifact.
		record := model.AssetRecord{Resource: r.LogicalID}
		if bucketOK && keyOK {
			record.Source = FormatS3URI(bucket, key, version)
		}
		plan.Assets = append(plan.Assets, record)
		return nil
	}

	staged, err := p.stager.StageS3Code(ctx, r.LogicalID, bucket, key, version)
	if err != nil {
		return &model.AssetUnavailableError{
			Resource: r.LogicalID,
			Location: FormatS3URI(bucket, key, version),
			Err:      err,
		}
	}
	rel := p.relativePath(staged)
	if err := r.SetProperty("CodeUri", rel); err != nil {
		return err
	}

	record := p.stager.Records()[len(p.stager.Records())-1]
	plan.Assets = append(plan.Assets, model.AssetRecord{
		Resource: r.LogicalID,
		Digest:   record.Digest,
		Path:     rel,
		Source:   record.Source,
	})
	return nil
}

// resolveLocal locates a code path on disk, trying each search root for
// relative paths.
func (p *Planner) resolveLocal(path string) (string, bool) {
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = nil
		for _, root := range p.opts.SearchRoots {
			candidates = append(candidates, filepath.Join(root, path))
		}
		candidates = append(candidates, path)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", false
			}
			return abs, true
		}
	}
	return "", false
}

// relativePath renders a staged location relative to the project directory,
// falling back to the absolute path when it lives outside the project.
func (p *Planner) relativePath(path string) string {
	base, err := filepath.Abs(p.opts.ProjectDir)
	if err != nil {
		return filepath.ToSlash(path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

var inlineNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// inlineFileName derives a file name for materialized inline code from the
// function's handler and runtime.
func inlineFileName(r *model.Resource) string {
	base := "index"
	if handler := r.Prop("Handler"); handler.Type == gjson.String && strings.TrimSpace(handler.String()) != "" {
		name := handler.String()
		name, _, _ = strings.Cut(name, "::")
		name, _, _ = strings.Cut(name, ".")
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		name = inlineNameSanitizer.ReplaceAllString(name, "_")
		if name != "" {
			base = name
		}
	}
	return base + runtimeExtension(r.Prop("Runtime").String())
}

func runtimeExtension(runtime string) string {
	lowered := strings.ToLower(runtime)
	switch {
	case strings.HasPrefix(lowered, "python"):
		return ".py"
	case strings.HasPrefix(lowered, "nodejs"):
		return ".js"
	case strings.HasPrefix(lowered, "ruby"):
		return ".rb"
	case strings.HasPrefix(lowered, "dotnet"):
		return ".cs"
	case strings.HasPrefix(lowered, "go"):
		return ".go"
	case strings.HasPrefix(lowered, "java"):
		return ".java"
	case strings.Contains(lowered, "provided"):
		return ".txt"
	default:
		return ".js"
	}
}
