// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package metadata loads CDK build output (assembly manifest and construct
// tree) and derives semantic logical IDs from it. The resolver also carries
// the fallback naming rules used when no bundle is available.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// ConstructInfo links one logical ID to its construct in the CDK app.
type ConstructInfo struct {
	LogicalID     string
	Path          string
	ConstructName string
	StackName     string
	ResourceType  string
	Generated     bool
}

// TreeNode is one construct in tree.json. Children keep manifest order.
type TreeNode struct {
	ID       string
	Path     string
	Type     string
	Children []*TreeNode
}

// Bundle is a loaded CDK metadata bundle. A nil bundle is valid everywhere
// and means no metadata was supplied.
type Bundle struct {
	byLogicalID map[string]ConstructInfo
	Tree        *TreeNode
}

// Lookup returns the construct info for a logical ID.
func (b *Bundle) Lookup(logicalID string) (ConstructInfo, bool) {
	if b == nil {
		return ConstructInfo{}, false
	}
	info, ok := b.byLogicalID[logicalID]
	return info, ok
}

// Len returns the number of mapped logical IDs.
func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.byLogicalID)
}

// Constructs returns all mapped constructs ordered by logical ID.
func (b *Bundle) Constructs() []ConstructInfo {
	if b == nil {
		return nil
	}
	out := make([]ConstructInfo, 0, len(b.byLogicalID))
	for _, info := range b.byLogicalID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogicalID < out[j].LogicalID })
	return out
}

// LoadDir reads manifest.json and, when present, tree.json from a cdk.out
// directory.
func LoadDir(dir string) (*Bundle, error) {
	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	bundle, err := parseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
	}
	treeData, err := os.ReadFile(filepath.Join(dir, "tree.json"))
	if err == nil {
		bundle.enrichWithTree(treeData)
	}
	return bundle, nil
}

// LoadFile reads a single manifest.json or tree.json.
func LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(data)
	switch {
	case doc.Get("artifacts").Exists():
		bundle, err := parseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return bundle, nil
	case doc.Get("tree").Exists():
		bundle := &Bundle{byLogicalID: map[string]ConstructInfo{}}
		bundle.enrichWithTree(data)
		bundle.mapFromTree()
		return bundle, nil
	default:
		return nil, fmt.Errorf("unrecognized CDK metadata file: %s", path)
	}
}

// parseManifest collects every aws:cdk:logicalId entry from the stack
// artifacts of an assembly manifest.
func parseManifest(data []byte) (*Bundle, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	bundle := &Bundle{byLogicalID: map[string]ConstructInfo{}}
	gjson.GetBytes(data, "artifacts").ForEach(func(name, artifact gjson.Result) bool {
		if artifact.Get("type").String() != "aws:cloudformation:stack" {
			return true
		}
		artifact.Get("metadata").ForEach(func(path, entries gjson.Result) bool {
			for _, entry := range entries.Array() {
				if entry.Get("type").String() != "aws:cdk:logicalId" {
					continue
				}
				logicalID := entry.Get("data").String()
				if logicalID == "" {
					continue
				}
				constructName := constructNameFromPath(path.String())
				bundle.byLogicalID[logicalID] = ConstructInfo{
					LogicalID:     logicalID,
					Path:          path.String(),
					ConstructName: constructName,
					StackName:     name.String(),
					Generated:     isGeneratedResource(path.String(), constructName),
				}
			}
			return true
		})
		return true
	})
	return bundle, nil
}

// enrichWithTree parses tree.json and attaches CloudFormation resource types
// to already-mapped logical IDs.
func (b *Bundle) enrichWithTree(data []byte) {
	root := gjson.GetBytes(data, "tree")
	if !root.Exists() {
		root = gjson.ParseBytes(data)
	}
	b.Tree = parseTreeNode(root, "")
	types := map[string]string{}
	collectResourceTypes(b.Tree, types)
	for id, info := range b.byLogicalID {
		if t, ok := types[id]; ok && info.ResourceType == "" {
			info.ResourceType = t
			b.byLogicalID[id] = info
		}
	}
}

// mapFromTree derives logical ID mappings from the tree alone, for callers
// that only have tree.json. Construct node IDs usually match logical IDs for
// leaf CloudFormation resources.
func (b *Bundle) mapFromTree() {
	var visit func(n *TreeNode)
	visit = func(n *TreeNode) {
		if n.Type != "" && n.ID != "" && !strings.HasPrefix(n.ID, "$") {
			constructName := constructNameFromPath(n.Path)
			b.byLogicalID[n.ID] = ConstructInfo{
				LogicalID:     n.ID,
				Path:          n.Path,
				ConstructName: constructName,
				ResourceType:  n.Type,
				Generated:     isGeneratedResource(n.Path, constructName),
			}
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	if b.Tree != nil {
		visit(b.Tree)
	}
}

func parseTreeNode(node gjson.Result, parentPath string) *TreeNode {
	id := node.Get("id").String()
	path := parentPath
	if id != "" {
		path = parentPath + "/" + id
	}
	out := &TreeNode{
		ID:   id,
		Path: path,
		Type: node.Get(`attributes.aws:cdk:cloudformation:type`).String(),
	}
	node.Get("children").ForEach(func(_, child gjson.Result) bool {
		out.Children = append(out.Children, parseTreeNode(child, path))
		return true
	})
	return out
}

func collectResourceTypes(n *TreeNode, out map[string]string) {
	if n == nil {
		return
	}
	if n.Type != "" && n.ID != "" && !strings.HasPrefix(n.ID, "$") {
		out[n.ID] = n.Type
	}
	for _, c := range n.Children {
		collectResourceTypes(c, out)
	}
}

// constructNameFromPath reduces a construct path to a candidate name. The
// stack segment and a trailing "Resource" wrapper are dropped; nested
// constructs concatenate their trailing segments to stay unique.
func constructNameFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	if len(parts) > 1 {
		parts = parts[1:]
	} else {
		return parts[0]
	}
	if parts[len(parts)-1] == "Resource" {
		parts = parts[:len(parts)-1]
	}
	switch {
	case len(parts) == 0:
		return ""
	case len(parts) == 1:
		return parts[0]
	case len(parts) == 2:
		return parts[0] + parts[1]
	default:
		// Deep nesting keeps the last two meaningful segments.
		return parts[len(parts)-2] + parts[len(parts)-1]
	}
}

// isGeneratedResource reports whether a construct path points at a
// CDK-generated wrapper rather than a user-defined construct.
func isGeneratedResource(path, constructName string) bool {
	if strings.HasSuffix(path, "/Resource") {
		return true
	}
	if trimmed := stripHashSuffix(constructName); trimmed != constructName {
		for _, suffix := range []string{"ServiceRole", "DefaultPolicy", "LogGroup", "SecurityGroup"} {
			if strings.HasSuffix(trimmed, suffix) {
				return true
			}
		}
	}
	return len(strings.Split(strings.Trim(path, "/"), "/")) > 3
}
