// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package metadata

import (
	"fmt"
	"regexp"

	"github.com/platform-engineering-labs/resam/pkg/model"
)

var hashSuffixRe = regexp.MustCompile(`[A-F0-9]{8}$`)

// HasHashSuffix reports whether a logical ID carries the synthesized 8-hex
// disambiguation suffix CDK appends.
func HasHashSuffix(name string) bool {
	return hashSuffixRe.MatchString(name)
}

func stripHashSuffix(name string) string {
	if HasHashSuffix(name) {
		return name[:len(name)-8]
	}
	return name
}

// semanticRewrites normalize names of CDK-generated companions: a function's
// ServiceRole becomes its Role, a DefaultPolicy its Policy.
var semanticRewrites = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`^(.+)ServiceRoleDefaultPolicy([A-F0-9]{8})?$`), "${1}Policy"},
	{regexp.MustCompile(`^(.+)ServiceRole([A-F0-9]{8})?$`), "${1}Role"},
	{regexp.MustCompile(`^(.+)DefaultPolicy([A-F0-9]{8})?$`), "${1}Policy"},
	{regexp.MustCompile(`^(.+)LogGroup([A-F0-9]{8})?$`), "${1}Logs"},
	{regexp.MustCompile(`^CustomResourceProviderframework([A-F0-9]{8})?$`), "CustomResourceProvider"},
}

// generatedSimplifications drop redundant leaf repetitions in generated
// construct names, e.g. VpcPublicSubnet1Subnet keeps only VpcPublicSubnet1.
var generatedSimplifications = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`^(.*Subnet\d+)Subnet$`), "${1}"},
	{regexp.MustCompile(`^(.*RouteTable\d+)RouteTable$`), "${1}"},
	{regexp.MustCompile(`^(.*Route\d+)Route$`), "${1}"},
}

var nonAlnumRe = regexp.MustCompile(`[^A-Za-z0-9]`)

// SanitizeLogicalID reduces a candidate name to a valid CloudFormation
// logical ID: alphanumeric only, starting with a letter.
func SanitizeLogicalID(name string) string {
	cleaned := nonAlnumRe.ReplaceAllString(name, "")
	if cleaned == "" {
		return "Resource"
	}
	first := cleaned[0]
	if !(first >= 'A' && first <= 'Z' || first >= 'a' && first <= 'z') {
		cleaned = "Resource" + cleaned
	}
	return cleaned
}

// ResolveOptions tune the rename derivation.
type ResolveOptions struct {
	// KeepHashes disables stripping of synthesized hash suffixes.
	KeepHashes bool
	// SemanticNaming applies the generated-companion rewrites.
	SemanticNaming bool
}

// Resolver derives a rename plan for a document from an optional bundle.
type Resolver struct {
	bundle *Bundle
}

func NewResolver(bundle *Bundle) *Resolver {
	return &Resolver{bundle: bundle}
}

// HasMetadata reports whether the resolver runs with a bundle. Without one,
// naming degrades to hash stripping over the original IDs.
func (r *Resolver) HasMetadata() bool {
	return r.bundle.Len() > 0
}

// Plan computes the rename plan for the document. Candidate names come from
// construct paths when the bundle knows them, from the original ID
// otherwise. Collisions resolve deterministically: the first claimant in
// document order keeps the candidate, later ones get the resource type
// suffix and then an incrementing counter until unique.
func (r *Resolver) Plan(doc *model.Document, opts ResolveOptions) *model.RenamePlan {
	type candidate struct {
		res    *model.Resource
		name   string
		source model.RenameSource
		path   string
	}

	var candidates []candidate
	for _, res := range doc.Resources {
		if res.Type == model.TypeCDKMetadata {
			continue
		}
		c := candidate{res: res, name: res.LogicalID, source: model.RenameSourceHashStrip}
		if info, ok := r.bundle.Lookup(res.LogicalID); ok && info.ConstructName != "" {
			c.name = info.ConstructName
			c.source = model.RenameSourceMetadata
			c.path = info.Path
			if info.Generated {
				c.name = simplifyGeneratedName(c.name)
			}
		}
		if !opts.KeepHashes {
			c.name = stripHashSuffix(c.name)
		}
		if opts.SemanticNaming {
			c.name = applySemantics(c.name)
		}
		c.name = SanitizeLogicalID(c.name)
		candidates = append(candidates, c)
	}

	// Names already in use that no rename retires stay reserved.
	taken := map[string]bool{}
	renamed := map[string]bool{}
	for _, c := range candidates {
		if c.name != c.res.LogicalID {
			renamed[c.res.LogicalID] = true
		}
	}
	for _, id := range doc.LogicalIDs() {
		if !renamed[id] {
			taken[id] = true
		}
	}
	for _, p := range doc.Parameters {
		taken[p.Name] = true
	}

	plan := &model.RenamePlan{}
	for _, c := range candidates {
		final := c.name
		source := c.source
		if taken[final] && final != c.res.LogicalID {
			final = c.name + c.res.ShortType()
			for i := 2; taken[final]; i++ {
				final = fmt.Sprintf("%s%s%d", c.name, c.res.ShortType(), i)
			}
			source = model.RenameSourceCollision
		}
		taken[final] = true
		if final == c.res.LogicalID {
			continue
		}
		plan.Add(model.RenameEntry{
			Old:           c.res.LogicalID,
			New:           final,
			Source:        source,
			ConstructPath: c.path,
		})
	}
	return plan
}

func applySemantics(name string) string {
	for _, s := range semanticRewrites {
		if s.re.MatchString(name) {
			return s.re.ReplaceAllString(name, s.repl)
		}
	}
	return name
}

func simplifyGeneratedName(name string) string {
	for _, s := range generatedSimplifications {
		if s.re.MatchString(name) {
			return s.re.ReplaceAllString(name, s.repl)
		}
	}
	return name
}
