// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package importer implements the import command. It lives under this name
// because import is a Go keyword.
package importer

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/platform-engineering-labs/resam/internal/cli/cmd"
	"github.com/platform-engineering-labs/resam/internal/cli/display"
	"github.com/platform-engineering-labs/resam/internal/cli/renderer"
	"github.com/platform-engineering-labs/resam/internal/pipeline"
	"github.com/platform-engineering-labs/resam/internal/stack"
)

type ImportOptions struct {
	Stack      string
	Target     string
	Samify     bool
	Rename     bool
	KeepHashes bool
	Force      bool
}

func ImportCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "import",
		Short: "Fetch a deployed stack's template and refactor it",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, args []string) error {
			opts := &ImportOptions{
				Stack:  args[0],
				Target: args[1],
			}
			opts.Samify, _ = command.Flags().GetBool("samify")
			noRename, _ := command.Flags().GetBool("no-rename")
			opts.Rename = !noRename
			opts.KeepHashes, _ = command.Flags().GetBool("keep-hashes")
			opts.Force, _ = command.Flags().GetBool("force")

			if opts.Target == "" {
				return cmd.FlagErrorf("a target file is required")
			}

			fetcher, err := stack.NewFetcher(command.Context())
			if err != nil {
				return err
			}

			return runImport(command.Context(), fetcher, opts)
		},
		Annotations: map[string]string{
			"type":     "Refactor",
			"examples": "{{.Name}} {{.Command}} my-stack template.yaml  |  {{.Name}} {{.Command}} --samify my-stack template.yaml",
			"args":     "<stack name or template URL> <target file>",
		},
		SilenceErrors: true,
	}

	command.SetUsageTemplate(cmd.SimpleCmdUsageTemplate)

	command.Flags().Bool("samify", false, "Fold resource clusters into SAM serverless resources")
	command.Flags().Bool("no-rename", false, "Keep the deployed logical IDs")
	command.Flags().Bool("keep-hashes", false, "Keep hash suffixes on renamed logical IDs")
	command.Flags().Bool("force", false, "Treat lint errors as advisory instead of failing the run")

	return command
}

func runImport(ctx context.Context, fetcher stack.Fetcher, opts *ImportOptions) error {
	template, err := fetcher.FetchTemplate(ctx, opts.Stack)
	if err != nil {
		return fmt.Errorf("fetching stack %s: %w", opts.Stack, err)
	}

	result, err := pipeline.Run(ctx, pipeline.Options{
		Input:      opts.Stack,
		Source:     []byte(template),
		Output:     opts.Target,
		Samify:     opts.Samify,
		Rename:     opts.Rename,
		KeepHashes: opts.KeepHashes,
		Force:      opts.Force,
	})
	if err != nil {
		if result == nil {
			return err
		}
		display.Error(err.Error())
		return err
	}

	rendered, renderErr := renderer.RenderPlan(result.Plan)
	if renderErr != nil {
		return renderErr
	}
	fmt.Fprint(os.Stdout, rendered)
	display.Success(fmt.Sprintf("wrote %s", opts.Target))

	return nil
}
