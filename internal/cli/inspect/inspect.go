// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package inspect

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/platform-engineering-labs/resam/internal/cli/cmd"
	"github.com/platform-engineering-labs/resam/internal/cli/display"
	"github.com/platform-engineering-labs/resam/internal/cli/renderer"
	"github.com/platform-engineering-labs/resam/internal/metadata"
)

func InspectCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "inspect",
		Short: "Show the construct tree and rename candidates of a CDK build",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			return runInspect(os.Stdout, args[0])
		},
		Annotations: map[string]string{
			"type":     "Inspect",
			"examples": "{{.Name}} {{.Command}} cdk.out  |  {{.Name}} {{.Command}} cdk.out/manifest.json",
			"args":     "<cdk.out directory or manifest file>",
		},
		SilenceErrors: true,
	}

	command.SetUsageTemplate(cmd.SimpleCmdUsageTemplate)

	return command
}

func runInspect(w io.Writer, path string) error {
	bundle, err := loadBundle(path)
	if err != nil {
		return err
	}

	tree, err := renderer.RenderConstructTree(bundle.Tree)
	if err != nil {
		return err
	}
	fmt.Fprint(w, tree)
	fmt.Fprintln(w)

	candidates, err := renderer.RenderCandidates(bundle)
	if err != nil {
		return err
	}
	fmt.Fprint(w, candidates)

	generated := 0
	for _, c := range bundle.Constructs() {
		if c.Generated {
			generated++
		}
	}
	fmt.Fprintln(w, display.Greyf("%d logical IDs mapped, %d generated", bundle.Len(), generated))

	return nil
}

func loadBundle(path string) (*metadata.Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, cmd.FlagErrorWrap(fmt.Errorf("reading CDK metadata: %w", err))
	}
	if info.IsDir() {
		return metadata.LoadDir(path)
	}
	return metadata.LoadFile(path)
}
