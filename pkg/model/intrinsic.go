// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Long-form intrinsic function keys.
const (
	IntrinsicRef         = "Ref"
	IntrinsicGetAtt      = "Fn::GetAtt"
	IntrinsicSub         = "Fn::Sub"
	IntrinsicJoin        = "Fn::Join"
	IntrinsicIf          = "Fn::If"
	IntrinsicImportValue = "Fn::ImportValue"
	IntrinsicCondition   = "Condition"
)

// ShortTagIntrinsics maps YAML short tags to their long-form function keys.
// Fn::GetAtt additionally accepts the dotted string form.
var ShortTagIntrinsics = map[string]string{
	"!Ref":         IntrinsicRef,
	"!GetAtt":      IntrinsicGetAtt,
	"!Sub":         IntrinsicSub,
	"!Join":        IntrinsicJoin,
	"!If":          IntrinsicIf,
	"!ImportValue": IntrinsicImportValue,
	"!Condition":   IntrinsicCondition,
	"!Select":      "Fn::Select",
	"!Split":       "Fn::Split",
	"!FindInMap":   "Fn::FindInMap",
	"!Base64":      "Fn::Base64",
	"!Cidr":        "Fn::Cidr",
	"!And":         "Fn::And",
	"!Or":          "Fn::Or",
	"!Not":         "Fn::Not",
	"!Equals":      "Fn::Equals",
	"!Transform":   "Fn::Transform",
	"!GetAZs":      "Fn::GetAZs",
}

// IsPseudoParameter reports whether a name is a CloudFormation pseudo
// parameter such as AWS::Region. Pseudo parameters are never rename targets.
func IsPseudoParameter(name string) bool {
	return strings.HasPrefix(name, "AWS::")
}

// Ref returns the JSON encoding of {"Ref": name}.
func Ref(name string) json.RawMessage {
	out, _ := json.Marshal(map[string]string{IntrinsicRef: name})
	return out
}

// GetAtt returns the JSON encoding of {"Fn::GetAtt": [name, attr]}.
func GetAtt(name, attr string) json.RawMessage {
	out, _ := json.Marshal(map[string][]string{IntrinsicGetAtt: {name, attr}})
	return out
}

// Sub returns the JSON encoding of {"Fn::Sub": template}.
func Sub(template string) json.RawMessage {
	out, _ := json.Marshal(map[string]string{IntrinsicSub: template})
	return out
}

// RefTarget inspects a JSON value and, when it is exactly {"Ref": "Name"},
// returns the referenced name.
func RefTarget(raw gjson.Result) (string, bool) {
	if !raw.IsObject() {
		return "", false
	}
	var key, target string
	n := 0
	raw.ForEach(func(k, v gjson.Result) bool {
		key = k.String()
		target = v.String()
		n++
		return n <= 1
	})
	if n != 1 || key != IntrinsicRef || target == "" {
		return "", false
	}
	return target, true
}

// GetAttTarget inspects a JSON value and, when it is {"Fn::GetAtt": ...} in
// either list or dotted-string form, returns the referenced name and
// attribute path.
func GetAttTarget(raw gjson.Result) (name, attr string, ok bool) {
	if !raw.IsObject() {
		return "", "", false
	}
	val := raw.Get(`Fn\:\:GetAtt`)
	if !val.Exists() {
		return "", "", false
	}
	if val.IsArray() {
		parts := val.Array()
		if len(parts) < 2 {
			return "", "", false
		}
		segs := make([]string, 0, len(parts)-1)
		for _, p := range parts[1:] {
			segs = append(segs, p.String())
		}
		return parts[0].String(), strings.Join(segs, "."), true
	}
	name, attr, found := strings.Cut(val.String(), ".")
	if !found {
		return "", "", false
	}
	return name, attr, true
}

// GetAttString formats a GetAtt target back into dotted-string form.
func GetAttString(name, attr string) string {
	return fmt.Sprintf("%s.%s", name, attr)
}
