// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package printer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/theory/jsonpath"
	"github.com/theory/jsonpath/registry"
	"gopkg.in/yaml.v3"
)

type Consumer string

const (
	ConsumerHuman   Consumer = "human"
	ConsumerMachine Consumer = "machine"
)

type MachineReadablePrinter[T any] struct {
	w      io.Writer
	format string
}

func NewMachineReadablePrinter[T any](w io.Writer, format string) *MachineReadablePrinter[T] {
	return &MachineReadablePrinter[T]{
		w:      w,
		format: format,
	}
}

func (p *MachineReadablePrinter[T]) Print(v *T) error {
	var data []byte
	var err error
	switch p.format {
	case "json":
		data, err = json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("json marshal: %w", err)
		}
	case "yaml":
		intermediate, convertErr := convertRawMessages(v)
		if convertErr != nil {
			return fmt.Errorf("convert raw messages: %w", convertErr)
		}

		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(intermediate); err != nil {
			return fmt.Errorf("yaml encode: %w", err)
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("unsupported format: %s", p.format)
	}
	if !bytes.HasSuffix(data, []byte("\n")) {
		data = append(data, '\n')
	}
	_, err = p.w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// convertRawMessages round-trips the value through generic JSON so that
// json.RawMessage fields render as structures instead of byte arrays.
func convertRawMessages(v any) (any, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var result any
	if err := json.Unmarshal(jsonData, &result); err != nil {
		return nil, err
	}

	return result, nil
}

var jsonpathParser = jsonpath.NewParser(jsonpath.WithRegistry(registry.New()))

// Query filters a value with an RFC 9535 JSONPath expression and writes the
// matching nodes as a JSON array, or the single node when exactly one
// matches.
func Query[T any](w io.Writer, v *T, query string) error {
	if !strings.HasPrefix(query, "$") {
		query = "$." + query
	}
	path, err := jsonpathParser.Parse(query)
	if err != nil {
		return fmt.Errorf("invalid query %q: %w", query, err)
	}

	intermediate, err := convertRawMessages(v)
	if err != nil {
		return err
	}

	nodes := path.Select(intermediate)
	var out any = nodes
	if len(nodes) == 1 {
		out = nodes[0]
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
