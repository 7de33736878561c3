// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"regexp"
	"strings"
)

// subTokenRe matches ${...} variables inside an Fn::Sub template, including
// the escaped ${!Literal} form.
var subTokenRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// SubToken is one ${...} occurrence inside an Fn::Sub template string.
type SubToken struct {
	// Raw is the full matched text including the ${} delimiters.
	Raw string
	// Name is the referenced logical ID or parameter name. Empty for
	// literal tokens.
	Name string
	// Attr is the attribute path after the first dot, for GetAtt-style
	// tokens such as ${Bucket.Arn}.
	Attr string
	// Literal is true for ${!...} escapes, which substitute to a literal
	// ${...} and reference nothing.
	Literal bool
	// Pseudo is true for AWS::* pseudo parameters.
	Pseudo bool
}

// ParseSubTokens scans an Fn::Sub template string and returns its tokens in
// order of appearance.
func ParseSubTokens(template string) []SubToken {
	matches := subTokenRe.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]SubToken, 0, len(matches))
	for _, m := range matches {
		tok := SubToken{Raw: m[0]}
		inner := m[1]
		switch {
		case strings.HasPrefix(inner, "!"):
			tok.Literal = true
		case IsPseudoParameter(inner):
			tok.Name = inner
			tok.Pseudo = true
		default:
			tok.Name, tok.Attr, _ = strings.Cut(inner, ".")
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// RewriteSub replaces variable names in an Fn::Sub template using the given
// mapping function. Literal escapes and pseudo parameters pass through
// untouched, and attribute suffixes are preserved.
func RewriteSub(template string, rename func(name string) (string, bool)) string {
	return subTokenRe.ReplaceAllStringFunc(template, func(raw string) string {
		inner := raw[2 : len(raw)-1]
		if strings.HasPrefix(inner, "!") || IsPseudoParameter(inner) {
			return raw
		}
		name, attr, hasAttr := strings.Cut(inner, ".")
		newName, ok := rename(name)
		if !ok {
			return raw
		}
		if hasAttr {
			return "${" + newName + "." + attr + "}"
		}
		return "${" + newName + "}"
	})
}
