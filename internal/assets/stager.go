// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package assets decides, after folding, where each function's code lives:
// kept inline, referenced in place, or staged into the project's src
// directory. Every decision lands in the refactor plan.
package assets

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// Record describes one staged asset.
type Record struct {
	LogicalID string
	Source    string
	Staged    string
	Digest    string
}

// Stager copies function code into the project's asset directory and keeps
// a manifest of where each piece landed. Content is deduplicated by sha256
// digest, so resources built from identical sources share one staged copy.
type Stager struct {
	projectDir string
	assetDir   string
	fetcher    ObjectFetcher
	env        *Environment

	records []*Record
	staged  map[string]string // digest -> staged path
}

const assetsSubdir = "src"

func NewStager(projectDir string, fetcher ObjectFetcher, env *Environment) *Stager {
	return &Stager{
		projectDir: projectDir,
		assetDir:   filepath.Join(projectDir, assetsSubdir),
		fetcher:    fetcher,
		env:        env,
		staged:     make(map[string]string),
	}
}

// Records returns the staging manifest in the order assets were staged.
func (s *Stager) Records() []*Record {
	return s.records
}

// StageLocalPath copies a file or directory into the asset directory and
// returns the staged path. Content already staged under another name is
// reused.
func (s *Stager) StageLocalPath(logicalID, sourcePath string) (string, error) {
	resolved, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", err
	}
	digest, err := digestPath(resolved)
	if err != nil {
		return "", err
	}

	staged, ok := s.staged[digest]
	if !ok {
		staged = s.allocate(filepath.Base(resolved))
		if err := copyPath(resolved, staged); err != nil {
			return "", err
		}
		s.staged[digest] = staged
	}

	s.records = append(s.records, &Record{
		LogicalID: logicalID,
		Source:    resolved,
		Staged:    staged,
		Digest:    digest,
	})
	return staged, nil
}

// StageS3Code downloads a zip artifact and extracts it under the logical
// ID's directory.
func (s *Stager) StageS3Code(ctx context.Context, logicalID, bucket, key, version string) (string, error) {
	if s.fetcher == nil {
		return "", errors.New("no object fetcher configured")
	}
	data, err := s.fetcher.Fetch(ctx, bucket, key, version)
	if err != nil {
		return "", err
	}

	digest := digestBytes(data)
	staged, ok := s.staged[digest]
	if !ok {
		staged, err = s.allocateDirectory(logicalID)
		if err != nil {
			return "", err
		}
		if err := extractZip(data, staged); err != nil {
			return "", err
		}
		s.staged[digest] = staged
	}

	s.records = append(s.records, &Record{
		LogicalID: logicalID,
		Source:    FormatS3URI(bucket, key, version),
		Staged:    staged,
		Digest:    digest,
	})
	return staged, nil
}

// StageInlineText materializes inline code into src/<logicalID>/<fileName>
// and returns the directory it was written to.
func (s *Stager) StageInlineText(logicalID, contents, fileName string) (string, error) {
	if !strings.HasSuffix(contents, "\n") {
		contents += "\n"
	}

	digest := digestBytes([]byte(contents))
	staged, ok := s.staged[digest]
	if !ok {
		dir, err := s.allocateDirectory(logicalID)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(dir, fileName), []byte(contents), 0o644); err != nil {
			return "", err
		}
		s.staged[digest] = dir
		staged = dir
	}

	s.records = append(s.records, &Record{
		LogicalID: logicalID,
		Source:    "<inline:" + logicalID + ">",
		Staged:    staged,
		Digest:    digest,
	})
	return staged, nil
}

// ApplyRenames moves per-resource staging directories to their new logical
// IDs and updates the manifest.
func (s *Stager) ApplyRenames(mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	for _, record := range s.records {
		newID, ok := mapping[record.LogicalID]
		if !ok || newID == record.LogicalID {
			continue
		}
		if filepath.Base(record.Staged) == record.LogicalID {
			target := filepath.Join(filepath.Dir(record.Staged), newID)
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			if err := os.Rename(record.Staged, target); err != nil {
				return err
			}
			for digest, path := range s.staged {
				if path == record.Staged {
					s.staged[digest] = target
				}
			}
			record.Staged = target
		}
		record.LogicalID = newID
	}
	return nil
}

// ResolveString turns a property value into a plain string. Literal strings
// pass through; Fn::Sub values are expanded against the AWS environment's
// pseudo parameters and their own variable map.
func (s *Stager) ResolveString(value gjson.Result) (string, bool) {
	if value.Type == gjson.String {
		return value.String(), true
	}
	sub := value.Get(`Fn\:\:Sub`)
	if !sub.Exists() {
		return "", false
	}

	template := sub
	var vars gjson.Result
	if sub.IsArray() {
		parts := sub.Array()
		if len(parts) != 2 {
			return "", false
		}
		template = parts[0]
		vars = parts[1]
	}
	if template.Type != gjson.String {
		return "", false
	}
	if s.env == nil {
		return "", false
	}

	result := template.String()
	result = strings.ReplaceAll(result, "${AWS::AccountId}", s.env.AccountID)
	result = strings.ReplaceAll(result, "${AWS::Region}", s.env.Region)
	result = strings.ReplaceAll(result, "${AWS::Partition}", s.env.Partition)

	ok := true
	vars.ForEach(func(key, raw gjson.Result) bool {
		resolved, resolvable := s.ResolveString(raw)
		if !resolvable {
			ok = false
			return false
		}
		result = strings.ReplaceAll(result, "${"+key.String()+"}", resolved)
		return true
	})
	if !ok || strings.Contains(result, "${") {
		return "", false
	}
	return result, true
}

// allocate picks an unused destination under the asset directory, suffixing
// a counter when the base name is taken.
func (s *Stager) allocate(baseName string) string {
	if baseName == "" || baseName == "." || baseName == string(os.PathSeparator) {
		baseName = "asset"
	}
	candidate := filepath.Join(s.assetDir, baseName)
	for counter := 2; ; counter++ {
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(s.assetDir, fmt.Sprintf("%s-%d", baseName, counter))
	}
}

// allocateDirectory makes a fresh src/<logicalID> directory, replacing any
// stale content from a previous run.
func (s *Stager) allocateDirectory(logicalID string) (string, error) {
	target := filepath.Join(s.assetDir, logicalID)
	if err := os.RemoveAll(target); err != nil {
		return "", err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", err
	}
	return target, nil
}

func digestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// digestPath hashes a file's content, or for a directory every contained
// file keyed by its relative path, so layout changes alter the digest.
func digestPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if !info.IsDir() {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	err = filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(path, entry)
		if err != nil {
			return err
		}
		io.WriteString(h, filepath.ToSlash(rel))
		h.Write([]byte{0})
		return hashFile(h, entry)
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(h, f)
	return err
}

func copyPath(source, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.CopyFS(dest, os.DirFS(source))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, info.Mode().Perm())
}

func extractZip(data []byte, targetDir string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("reading artifact archive: %w", err)
	}

	root := filepath.Clean(targetDir)
	for _, entry := range reader.File {
		dest := filepath.Join(root, filepath.FromSlash(entry.Name))
		if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes target directory: %s", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(entry, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
