// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package fold

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/platform-engineering-labs/resam/internal/refindex"
	"github.com/platform-engineering-labs/resam/pkg/model"
)

// logicalIDOf extracts the logical ID a value points at: a plain string
// (dotted attribute forms keep the head), {"Ref": id} or {"Fn::GetAtt": ...}
// in either list or dotted-string form. Returns "" when the value is none of
// these.
func logicalIDOf(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		head, _, _ := strings.Cut(v.String(), ".")
		return head
	case v.IsObject():
		if name, ok := model.RefTarget(v); ok {
			return name
		}
		if name, _, ok := model.GetAttTarget(v); ok {
			return name
		}
	}
	return ""
}

// object builds a JSON object whose keys keep insertion order.
type object struct {
	raw []byte
}

func newObject() *object {
	return &object{raw: []byte(`{}`)}
}

func (o *object) set(key string, value any) *object {
	o.raw, _ = sjson.SetBytes(o.raw, refindex.EscapeSegment(key), value)
	return o
}

func (o *object) setRaw(key string, raw string) *object {
	o.raw, _ = sjson.SetRawBytes(o.raw, refindex.EscapeSegment(key), []byte(raw))
	return o
}

// setResult copies a gjson value verbatim, preserving its own key order.
func (o *object) setResult(key string, v gjson.Result) *object {
	return o.setRaw(key, v.Raw)
}

func (o *object) has(key string) bool {
	return gjson.GetBytes(o.raw, refindex.EscapeSegment(key)).Exists()
}

func (o *object) empty() bool {
	return string(o.raw) == `{}`
}

func (o *object) JSON() json.RawMessage {
	return json.RawMessage(o.raw)
}

// list builds a JSON array.
type list struct {
	raw []byte
}

func newList() *list {
	return &list{raw: []byte(`[]`)}
}

func (l *list) appendRaw(raw string) *list {
	l.raw, _ = sjson.SetRawBytes(l.raw, "-1", []byte(raw))
	return l
}

func (l *list) empty() bool {
	return string(l.raw) == `[]`
}

func (l *list) JSON() json.RawMessage {
	return json.RawMessage(l.raw)
}

// forEachKey iterates the top-level keys of a raw JSON object in document
// order.
func forEachKey(raw json.RawMessage, fn func(key string, val gjson.Result) bool) {
	if len(raw) == 0 {
		return
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		return fn(k.String(), v)
	})
}

// keySet returns the top-level key names of a raw JSON object.
func keySet(raw json.RawMessage) map[string]bool {
	keys := map[string]bool{}
	forEachKey(raw, func(key string, _ gjson.Result) bool {
		keys[key] = true
		return true
	})
	return keys
}

func removeAll(doc *model.Document, ids []string) {
	for _, id := range ids {
		doc.RemoveResource(id)
	}
}

// uniqueEventName finds an unused name in the function's Events block,
// suffixing a counter starting at the given value when the base is taken.
func uniqueEventName(fn *model.Resource, base string, start int) string {
	name := base
	for n := start; fn.Prop("Events." + refindex.EscapeSegment(name)).Exists(); n++ {
		name = base + strconv.Itoa(n)
	}
	return name
}

// attachEvent writes an event block onto a serverless function.
func attachEvent(fn *model.Resource, name string, event *object) error {
	return fn.SetPropertyRaw("Events."+refindex.EscapeSegment(name), event.JSON())
}

var nonAlnumRe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// eventNameForPath turns an API path into a CamelCase event name fragment,
// e.g. "/orders/{id}" becomes "OrdersId". The root path becomes "Root".
func eventNameForPath(path string) string {
	cleaned := nonAlnumRe.ReplaceAllString(path, " ")
	var b strings.Builder
	for _, part := range strings.Fields(cleaned) {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(strings.ToLower(part[1:]))
	}
	if b.Len() == 0 {
		return "Root"
	}
	return b.String()
}

// titleMethod formats an HTTP method for event names: "GET" -> "Get".
func titleMethod(method string) string {
	if method == "" {
		return ""
	}
	return strings.ToUpper(method[:1]) + strings.ToLower(method[1:])
}

// rawMentions reports whether a value's JSON text contains the logical ID.
// Used for permission SourceArn matching, where the ID can be buried inside
// Sub templates or Join fragments.
func rawMentions(v gjson.Result, id string) bool {
	return v.Exists() && strings.Contains(v.Raw, id)
}

// lossNote formats a conservation note for a property a fold could not
// express on the produced resource.
func lossNote(resource, property, reason string) string {
	return resource + "." + property + ": " + reason
}
