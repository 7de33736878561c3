// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package util holds small filesystem helpers shared across the tool.
package util

import (
	"os"
	"path/filepath"
	"strings"
)

// EnsureFileFolderHierarchy creates every directory leading up to the given
// file path.
func EnsureFileFolderHierarchy(path string) error {
	return EnsureFolderHierarchy(filepath.Dir(path))
}

func EnsureFolderHierarchy(path string) error {
	return os.MkdirAll(path, 0755)
}

// ExpandHomePath resolves a leading ~ against the current user's home
// directory. Paths without one pass through untouched.
func ExpandHomePath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("./", path[1:])
		}

		return filepath.Join(home, path[1:])
	}

	return path
}
