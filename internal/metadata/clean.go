// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package metadata

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// CleanOptions tune the CDK artifact cleanup pass.
type CleanOptions struct {
	// KeepPathMetadata retains aws:cdk:path entries on resources.
	KeepPathMetadata bool
	// KeepAssetMetadata retains aws:asset:* entries. The fold pass reads
	// them to locate function code, so a samifying run cleans first and
	// strips asset entries only after folding.
	KeepAssetMetadata bool
}

// Clean removes the CDK synthesis artifacts from a document: metadata
// resources, the CDKMetadataAvailable condition, the bootstrap version
// guard, aws:asset metadata and CDK v1 asset parameters. A template without
// those artifacts passes through unchanged, so the pass is a fixed point.
func Clean(doc *model.Document, opts CleanOptions) error {
	for _, r := range doc.ResourcesOfType(model.TypeCDKMetadata) {
		doc.RemoveResource(r.LogicalID)
	}
	doc.Conditions.Delete("CDKMetadataAvailable")
	stripBootstrapGuard(doc)
	stripAssetMetadata(doc, opts)
	trimInlineCode(doc)
	return removeAssetParameters(doc)
}

// stripBootstrapGuard drops the CheckBootstrapVersion rule and the
// BootstrapVersion parameter it tests.
func stripBootstrapGuard(doc *model.Document) {
	if doc.Rules.Delete("CheckBootstrapVersion") {
		ix := refindex.Build(doc)
		if len(ix.SitesFor("BootstrapVersion")) == 0 {
			doc.Parameters.Delete("BootstrapVersion")
		}
	}
}

// stripAssetMetadata removes aws:asset:* and aws:cdk:asset* keys from each
// resource's Metadata block, and aws:cdk:path unless it is kept.
func stripAssetMetadata(doc *model.Document, opts CleanOptions) {
	for _, r := range doc.Resources {
		if len(r.Metadata) == 0 {
			continue
		}
		md := r.Metadata
		gjson.ParseBytes(r.Metadata).ForEach(func(k, _ gjson.Result) bool {
			key := k.String()
			drop := strings.HasPrefix(key, "aws:asset") || strings.HasPrefix(key, "aws:cdk:asset")
			if drop && opts.KeepAssetMetadata {
				drop = false
			}
			if key == "aws:cdk:path" && !opts.KeepPathMetadata {
				drop = true
			}
			if drop {
				md, _ = sjson.DeleteBytes(md, refindex.EscapeSegment(key))
			}
			return true
		})
		if gjson.ParseBytes(md).String() == "{}" {
			md = nil
		}
		r.Metadata = md
	}
}

// trimInlineCode strips trailing whitespace from inline function payloads so
// the serializer can emit them as block scalars.
func trimInlineCode(doc *model.Document) {
	for _, r := range doc.Resources {
		if r.Type != model.TypeLambdaFunction {
			continue
		}
		zip := r.Prop("Code.ZipFile")
		if zip.Type != gjson.String {
			continue
		}
		trimmed := strings.TrimRight(zip.String(), " \t\r\n")
		if trimmed != zip.String() {
			_ = r.SetProperty("Code.ZipFile", trimmed)
		}
	}
}

// removeAssetParameters deletes CDK v1 AssetParameters* parameters and
// replaces their reference sites with readable placeholders.
func removeAssetParameters(doc *model.Document) error {
	placeholders := map[string]string{}
	for _, p := range doc.Parameters {
		if !strings.HasPrefix(p.Name, "AssetParameters") {
			continue
		}
		switch {
		case strings.HasSuffix(p.Name, "S3Bucket"):
			placeholders[p.Name] = "<asset-bucket>"
		case strings.HasSuffix(p.Name, "S3VersionKey"):
			placeholders[p.Name] = "<asset-key>"
		case strings.HasSuffix(p.Name, "ArtifactHash"):
			placeholders[p.Name] = "<asset-hash>"
		default:
			placeholders[p.Name] = "<asset-param>"
		}
	}
	if len(placeholders) == 0 {
		return nil
	}

	ix := refindex.Build(doc)
	for name, placeholder := range placeholders {
		for _, site := range ix.SitesFor(name) {
			if site.OwnerKind != model.EntityResource || site.Kind != model.RefKindRef {
				continue
			}
			res := doc.Resource(site.Owner)
			if res == nil {
				continue
			}
			if err := res.SetProperty(site.Path, placeholder); err != nil {
				return err
			}
		}
		doc.Parameters.Delete(name)
	}
	return nil
}
