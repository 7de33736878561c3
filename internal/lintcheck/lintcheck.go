// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package lintcheck runs cfn-lint over a transformed template and maps its
// findings into the refactor plan. Findings are advisory; only error-grade
// results make a run fail, and callers may override even those.
package lintcheck

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

// Linter validates a template file and returns advisory findings.
type Linter interface {
	Lint(ctx context.Context, templatePath string) ([]model.LintFinding, error)
}

// MinCfnLintVersion is the oldest cfn-lint whose JSON output format this
// package understands.
var MinCfnLintVersion = semver.MustParse("1.0.0")

// CfnLint shells out to the cfn-lint binary on PATH.
type CfnLint struct {
	Binary string
}

func New() *CfnLint {
	return &CfnLint{Binary: "cfn-lint"}
}

// Available reports whether a usable cfn-lint is installed and recent
// enough.
func (l *CfnLint) Available(ctx context.Context) error {
	version, err := l.version(ctx)
	if err != nil {
		return err
	}
	if version.LessThan(MinCfnLintVersion) {
		return fmt.Errorf("cfn-lint %s is too old, need %s or newer", version, MinCfnLintVersion)
	}
	return nil
}

func (l *CfnLint) Lint(ctx context.Context, templatePath string) ([]model.LintFinding, error) {
	if err := l.Available(ctx); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, l.Binary, "--format", "json", "--", templatePath)
	out, err := cmd.Output()
	if err != nil {
		// cfn-lint exits non-zero whenever it has findings; the JSON on
		// stdout is still the result.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || len(out) == 0 {
			return nil, fmt.Errorf("running cfn-lint: %w", err)
		}
	}

	return parseFindings(out), nil
}

func (l *CfnLint) version(ctx context.Context) (*semver.Version, error) {
	out, err := exec.CommandContext(ctx, l.Binary, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("cfn-lint not available: %w", err)
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) == 0 {
		return nil, errors.New("cfn-lint reported no version")
	}
	version, err := semver.NewVersion(fields[len(fields)-1])
	if err != nil {
		return nil, fmt.Errorf("parsing cfn-lint version %q: %w", fields[len(fields)-1], err)
	}
	return version, nil
}

func parseFindings(out []byte) []model.LintFinding {
	var findings []model.LintFinding
	gjson.ParseBytes(out).ForEach(func(_, match gjson.Result) bool {
		finding := model.LintFinding{
			Rule:     match.Get("Rule.Id").String(),
			Severity: severityFromLevel(match.Get("Level").String()),
			Message:  match.Get("Message").String(),
		}
		if file := match.Get("Filename").String(); file != "" {
			finding.Location = file
			if line := match.Get("Location.Start.LineNumber"); line.Exists() {
				finding.Location = fmt.Sprintf("%s:%d", file, line.Int())
			}
		}
		findings = append(findings, finding)
		return true
	})
	return findings
}

func severityFromLevel(level string) model.LintSeverity {
	switch strings.ToLower(level) {
	case "error":
		return model.LintError
	case "warning":
		return model.LintWarning
	default:
		return model.LintInfo
	}
}
