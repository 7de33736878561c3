// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package refactor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platform-engineering-labs/resam/internal/assets"
	"github.com/platform-engineering-labs/resam/internal/cli/cmd"
	"github.com/platform-engineering-labs/resam/internal/cli/display"
	"github.com/platform-engineering-labs/resam/internal/cli/printer"
	"github.com/platform-engineering-labs/resam/internal/cli/renderer"
	"github.com/platform-engineering-labs/resam/internal/codec"
	"github.com/platform-engineering-labs/resam/internal/imconc"
	"github.com/platform-engineering-labs/resam/internal/lintcheck"
	"github.com/platform-engineering-labs/resam/internal/pipeline"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

type RefactorOptions struct {
	Templates      []string
	Samify         bool
	Rename         bool
	KeepHashes     bool
	MetadataPath   string
	StageAssets    bool
	StageDir       string
	Out            string
	PlanFile       string
	Force          bool
	Query          string
	OutputConsumer printer.Consumer
	OutputSchema   string
}

func RefactorCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "refactor",
		Short: "Refactor synthesized CloudFormation templates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			opts := &RefactorOptions{Templates: args}
			opts.Samify, _ = command.Flags().GetBool("samify")
			noRename, _ := command.Flags().GetBool("no-rename")
			opts.Rename = !noRename
			opts.KeepHashes, _ = command.Flags().GetBool("keep-hashes")
			opts.StageAssets, _ = command.Flags().GetBool("stage-assets")
			opts.StageDir, _ = command.Flags().GetString("stage-dir")
			opts.Out, _ = command.Flags().GetString("out")
			opts.PlanFile, _ = command.Flags().GetString("plan")
			opts.Force, _ = command.Flags().GetBool("force")
			opts.Query, _ = command.Flags().GetString("query")
			consumer, _ := command.Flags().GetString("output-consumer")
			opts.OutputConsumer = printer.Consumer(consumer)
			opts.OutputSchema, _ = command.Flags().GetString("output-schema")

			metadataPath, err := metadataPathFromFlags(command)
			if err != nil {
				return err
			}
			opts.MetadataPath = metadataPath

			colorMode, _ := command.Flags().GetString("color")
			if err := applyColorMode(colorMode); err != nil {
				return err
			}

			return runRefactor(command.Context(), opts)
		},
		Annotations: map[string]string{
			"type":     "Refactor",
			"examples": "{{.Name}} {{.Command}} --samify --cdk-out cdk.out template.json  |  {{.Name}} {{.Command}} --out - template.json",
			"args":     "<template file> ...",
		},
		SilenceErrors: true,
	}

	command.SetUsageTemplate(cmd.SimpleCmdUsageTemplate)

	command.Flags().Bool("samify", false, "Fold resource clusters into SAM serverless resources")
	command.Flags().Bool("no-rename", false, "Keep the synthesized logical IDs")
	command.Flags().Bool("keep-hashes", false, "Keep hash suffixes on renamed logical IDs")
	command.Flags().String("cdk-out", "", "Path to a cdk.out directory with CDK metadata")
	command.Flags().String("manifest", "", "Path to a CDK assembly manifest.json")
	command.Flags().String("tree", "", "Path to a CDK tree.json")
	command.Flags().Bool("stage-assets", false, "Materialize function code next to the output template")
	command.Flags().String("stage-dir", "", "Directory to stage assets under instead of the output directory")
	command.Flags().String("out", "", "Output path for the transformed template, or '-' for stdout. Only valid with a single template.")
	command.Flags().String("plan", "", "Write the refactor plan to this file as JSON")
	command.Flags().Bool("force", false, "Treat lint errors as advisory instead of failing the run")
	command.Flags().String("query", "", "JSONPath expression to filter the plan output")
	command.Flags().String("color", "auto", "Color output (auto | always | never)")
	command.Flags().String("output-consumer", string(printer.ConsumerHuman), "Consumer of the command result (human | machine)")
	command.Flags().String("output-schema", "json", "The schema to use for the result output (json | yaml)")

	return command
}

func metadataPathFromFlags(command *cobra.Command) (string, error) {
	cdkOut, _ := command.Flags().GetString("cdk-out")
	manifest, _ := command.Flags().GetString("manifest")
	tree, _ := command.Flags().GetString("tree")

	var set []string
	for _, v := range []string{cdkOut, manifest, tree} {
		if v != "" {
			set = append(set, v)
		}
	}
	if len(set) > 1 {
		return "", cmd.FlagErrorf("only one of --cdk-out, --manifest and --tree can be set")
	}
	if len(set) == 0 {
		return "", nil
	}
	return set[0], nil
}

func applyColorMode(mode string) error {
	switch mode {
	case "auto", "":
	case "always":
		display.ForceColor()
	case "never":
		display.DisableColor()
	default:
		return cmd.FlagErrorf("invalid --color mode %q, expected auto, always or never", mode)
	}
	return nil
}

func runRefactor(ctx context.Context, opts *RefactorOptions) error {
	if err := validateRefactorOptions(opts); err != nil {
		return err
	}

	linter := detectLinter(ctx)

	var fetcher assets.ObjectFetcher
	var env *assets.Environment
	if opts.StageAssets {
		fetcher, env = detectStagingCollaborators(ctx)
	}

	results := make([]*pipeline.Result, len(opts.Templates))
	errs := make([]error, len(opts.Templates))

	group := imconc.NewConcGroup()
	for i, template := range opts.Templates {
		group.Go(func() error {
			results[i], errs[i] = pipeline.Run(ctx, pipeline.Options{
				Input:        template,
				Output:       outputPath(template, opts.Out),
				Samify:       opts.Samify,
				Rename:       opts.Rename,
				KeepHashes:   opts.KeepHashes,
				MetadataPath: opts.MetadataPath,
				StageAssets:  opts.StageAssets,
				StageDir:     opts.StageDir,
				Fetcher:      fetcher,
				Env:          env,
				Linter:       linter,
				Force:        opts.Force,
			})
			return nil
		})
	}
	// Worker errors land in errs so that partial results still render.
	_ = group.Wait()

	var failed bool
	for i, template := range opts.Templates {
		if i > 0 {
			fmt.Println()
		}
		if err := presentResult(template, results[i], errs[i], opts); err != nil {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("refactor failed for one or more templates")
	}
	return nil
}

func validateRefactorOptions(opts *RefactorOptions) error {
	if opts.Out != "" && len(opts.Templates) > 1 {
		return cmd.FlagErrorf("--out is only valid with a single template argument")
	}
	if opts.OutputConsumer != printer.ConsumerHuman && opts.OutputConsumer != printer.ConsumerMachine {
		return cmd.FlagErrorf("invalid output consumer %q, expected human or machine", opts.OutputConsumer)
	}
	if opts.OutputSchema != "json" && opts.OutputSchema != "yaml" {
		return cmd.FlagErrorf("invalid output schema %q, expected json or yaml", opts.OutputSchema)
	}
	return nil
}

// detectLinter enables validation only when a recent cfn-lint is on the
// path. Its absence is not an error for a refactor run.
func detectLinter(ctx context.Context) lintcheck.Linter {
	cfnLint := lintcheck.New()
	if err := cfnLint.Available(ctx); err != nil {
		slog.Debug("cfn-lint not available, skipping template validation", "error", err)
		return nil
	}
	return cfnLint
}

// detectStagingCollaborators builds the S3 fetcher and AWS environment for
// asset staging. Both degrade to nil with a warning; local assets still
// stage without them.
func detectStagingCollaborators(ctx context.Context) (assets.ObjectFetcher, *assets.Environment) {
	env, err := assets.DetectEnvironment(ctx)
	if err != nil {
		display.Warning(fmt.Sprintf("could not detect AWS environment, remote assets stay remote: %v", err))
		env = nil
	}
	fetcher, err := assets.NewS3Fetcher(ctx)
	if err != nil {
		display.Warning(fmt.Sprintf("could not build S3 client, remote assets stay remote: %v", err))
		fetcher = nil
	}
	return fetcher, env
}

// outputPath picks where the transformed template goes. The default sits
// next to the input so relative asset paths stay meaningful.
func outputPath(template, out string) string {
	if out == "-" {
		return ""
	}
	if out != "" {
		return out
	}
	stem := strings.TrimSuffix(template, filepath.Ext(template))
	// cdk.out templates are named <Stack>.template.json.
	stem = strings.TrimSuffix(stem, ".template")
	return stem + ".resam.yaml"
}

func presentResult(template string, result *pipeline.Result, err error, opts *RefactorOptions) error {
	if err != nil && result == nil {
		display.Error(fmt.Sprintf("%s: %v", template, err))
		return err
	}

	if opts.PlanFile != "" {
		if writeErr := writePlanFile(opts.PlanFile, result.Plan); writeErr != nil {
			return writeErr
		}
	}

	if opts.Out == "-" {
		if printErr := printTemplate(result.Output, template); printErr != nil {
			return printErr
		}
	}

	if presentErr := presentPlan(result.Plan, opts); presentErr != nil {
		return presentErr
	}

	// Lint errors surface after the findings so the reader sees why.
	if err != nil {
		display.Error(fmt.Sprintf("%s: %v", template, err))
		return err
	}
	return nil
}

func presentPlan(plan *model.RefactorPlan, opts *RefactorOptions) error {
	if opts.Query != "" {
		return printer.Query(os.Stdout, plan, opts.Query)
	}
	if opts.OutputConsumer == printer.ConsumerMachine {
		return printer.NewMachineReadablePrinter[model.RefactorPlan](os.Stdout, opts.OutputSchema).Print(plan)
	}

	rendered, err := renderer.RenderPlan(plan)
	if err != nil {
		return err
	}
	fmt.Print(rendered)
	return nil
}

func printTemplate(output []byte, template string) error {
	lexer := "yaml"
	if filepath.Ext(template) == ".json" {
		lexer = "json"
	}
	highlighted, err := codec.Highlight(output, lexer)
	if err != nil {
		// Plain text still serves when no highlighter matches.
		highlighted = output
	}
	_, err = os.Stdout.Write(highlighted)
	return err
}

func writePlanFile(path string, plan *model.RefactorPlan) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plan file: %w", err)
	}
	defer f.Close()
	return printer.NewMachineReadablePrinter[model.RefactorPlan](f, "json").Print(plan)
}
