// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureFileFolderHierarchy(t *testing.T) {
	target := filepath.Join(t.TempDir(), "log", "nested", "client.log")
	require.NoError(t, EnsureFileFolderHierarchy(target))
	assert.DirExists(t, filepath.Dir(target))

	// A bare file name needs no directories.
	require.NoError(t, EnsureFileFolderHierarchy("client.log"))
}

func TestExpandHomePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".resam", "log"), ExpandHomePath("~/.resam/log"))
	assert.Equal(t, "/var/log/resam", ExpandHomePath("/var/log/resam"))
}
