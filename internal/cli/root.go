// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/platform-engineering-labs/resam"
	"github.com/platform-engineering-labs/resam/internal/cli/cmd"
	"github.com/platform-engineering-labs/resam/internal/cli/display"
	"github.com/platform-engineering-labs/resam/internal/cli/importer"
	"github.com/platform-engineering-labs/resam/internal/cli/inspect"
	"github.com/platform-engineering-labs/resam/internal/cli/refactor"
	"github.com/platform-engineering-labs/resam/internal/logging"
)

func longDescription() string {
	return display.Tool + ": " + display.Green("Refactor synthesized CloudFormation templates back into readable SAM")
}

var rootCmd = &cobra.Command{
	Use:     display.Tool,
	Short:   display.Tool + " CLI",
	Long:    longDescription(),
	Version: resam.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Log to a rotated file so command output stays clean on screen.
		logging.SetupClientLogging("~/.resam/log/client.log", logging.NoLoggingLevel)
	},
}

func init() {
	hp := rootCmd.HelpFunc()
	longestFlagName := 0
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		display.PrintBanner()
		hp(cmd, args)
	})

	rootCmd.SetHelpCommand(&cobra.Command{
		Hidden: true,
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	cobra.AddTemplateFunc("typeMap", func(cmds []*cobra.Command) map[string][]*cobra.Command {
		m := make(map[string][]*cobra.Command)
		for _, c := range cmds {
			if c.IsAvailableCommand() {
				t := c.Annotations["type"]
				if t == "" {
					t = "Tooling"
				}

				m[t] = append(m[t], c)
			}
		}
		return m
	})

	cobra.AddTemplateFunc("formatExamples", func(examples string, cmd *cobra.Command) string {
		cliName := cmd.Root().Name()
		cmdName := cmd.Name()
		replaced := strings.ReplaceAll(examples, "{{.Name}}", cliName)
		return strings.ReplaceAll(replaced, "{{.Command}}", cmdName)
	})

	cobra.AddTemplateFunc("formatDoc", func(doc string, cmd *cobra.Command) string {
		lines := strings.Split(doc, "\n")
		for i, line := range lines {
			lines[i] = "                     " + line
		}

		return strings.Join(lines, "\n")
	})

	cobra.AddTemplateFunc("optionsUsage", func(f *pflag.FlagSet) []string {
		var usage []string

		f.VisitAll(func(flag *pflag.Flag) {
			length := len(flag.Name)
			if flag.Shorthand != "" {
				length += 6
			}

			if length > longestFlagName {
				longestFlagName = length
			}
		})

		longestFlagName += 10

		f.VisitAll(func(flag *pflag.Flag) {
			s := fmt.Sprintf("      --%s ", flag.Name)
			if flag.Shorthand != "" {
				s = fmt.Sprintf("  -%s, --%s ", flag.Shorthand, flag.Name)
			}

			s = fmt.Sprintf("%-*s%s", longestFlagName, s, flag.Usage)
			if flag.DefValue != "" &&
				flag.DefValue != "[]" &&
				flag.Name != "help" &&
				flag.Name != "version" {
				s += display.Grey(fmt.Sprintf(" [default: %q]", flag.DefValue))
			}

			usage = append(usage, s)
		})
		return usage
	})

	rootCmd.SetUsageTemplate(cmd.RootCmdUsageTemplate)

	rootCmd.AddCommand(refactor.RefactorCmd())
	rootCmd.AddCommand(importer.ImportCmd())
	rootCmd.AddCommand(inspect.InspectCmd())

	rootCmd.PersistentFlags().BoolP("help", "h", false, "Show help for "+rootCmd.Use)
	for _, cmd := range rootCmd.Commands() {
		cmd.PersistentFlags().BoolP("help", "h", false, fmt.Sprintf("Show help for %s command", cmd.Name()))
	}

	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show "+rootCmd.Use+" version information")
	rootCmd.SetVersionTemplate(fmt.Sprintf("resam version: %s\ngo version: %s\n", resam.Version, runtime.Version()))
}

func Start() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(display.Red("Error: " + err.Error()))
		os.Exit(1)
	}
}
