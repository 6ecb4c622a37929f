package schema

// The schema document is a nested mapping format. This package decodes it
// into loosely typed nodes and reports shape errors with document lines.
// Interpreting type expressions and directives is the front end's job.
//
// name: png
// version: "1.0"
// endianness: little | big | native   # default little
// bit_order: msb | lsb                # default msb
// types:
//   - name: Chunk
//     type: struct
//     fields:
//       - name: length
//         type: u32
//         endianness: big
//       - name: chunk_type
//         type: u8[4]
//         assert: [73, 72, 68, 82]
//       - name: data
//         type: u8[length]
//       - name: crc
//         type: u32
//   - name: ColorType
//     type: enum
//     underlying: u8
//     variants:
//       grayscale: 0
//       truecolor: 2

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type (
	// ValueError is a document shape error bound to a node line.
	ValueError struct {
		Line int
		Err  error
	}

	Format struct {
		Name       string
		Version    string
		Endianness string
		BitOrder   string
		Types      []*Type

		Line int
	}

	Type struct {
		Name       string
		Kind       string // struct | enum
		Doc        string
		Fields     []*Field
		Underlying string
		Variants   []Variant

		Line int
	}

	Variant struct {
		Name  string
		Value int64
		Doc   string

		Line int
	}

	Field struct {
		Name       string
		Type       string
		Doc        string
		Assert     *yaml.Node
		If         string
		Until      string
		Skip       string
		Padding    int
		Align      int
		Endianness string

		Line int
	}
)

func (e ValueError) Unwrap() error { return e.Err }

func (e ValueError) Error() string {
	return fmt.Sprintf("%d: %s", e.Line, e.Err)
}

func valueErrorf(n *yaml.Node, format string, a ...any) ValueError {
	return ValueError{
		Line: n.Line,
		Err:  fmt.Errorf(format, a...),
	}
}

// Parse decodes a schema document.
func Parse(r io.Reader) (*Format, error) {
	f := &Format{}

	err := yaml.NewDecoder(r).Decode(f)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (f *Format) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return valueErrorf(value, "format must be a mapping")
	}

	f.Line = value.Line

	seenName := false
	seenTypes := false

	err := eachKey(value, func(key string, keyNode, val *yaml.Node) error {
		switch key {
		case "name":
			seenName = true
			return val.Decode(&f.Name)
		case "version":
			return val.Decode(&f.Version)
		case "endianness":
			return val.Decode(&f.Endianness)
		case "bit_order":
			return val.Decode(&f.BitOrder)
		case "types":
			seenTypes = true
			return val.Decode(&f.Types)
		default:
			return valueErrorf(keyNode, "unknown key %q", key)
		}
	})
	if err != nil {
		return err
	}

	if !seenName {
		return valueErrorf(value, "missing required key %q", "name")
	}

	if !seenTypes {
		return valueErrorf(value, "missing required key %q", "types")
	}

	return nil
}

func (t *Type) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return valueErrorf(value, "type entry must be a mapping")
	}

	t.Line = value.Line

	seenName := false
	seenKind := false

	err := eachKey(value, func(key string, keyNode, val *yaml.Node) error {
		switch key {
		case "name":
			seenName = true
			return val.Decode(&t.Name)
		case "type":
			seenKind = true
			return val.Decode(&t.Kind)
		case "doc":
			return val.Decode(&t.Doc)
		case "fields":
			return val.Decode(&t.Fields)
		case "underlying":
			return val.Decode(&t.Underlying)
		case "variants":
			return t.unmarshalVariants(val)
		default:
			return valueErrorf(keyNode, "unknown key %q", key)
		}
	})
	if err != nil {
		return err
	}

	if !seenName {
		return valueErrorf(value, "type entry missing required key %q", "name")
	}

	if !seenKind {
		return valueErrorf(value, "type entry missing required key %q", "type")
	}

	return nil
}

// unmarshalVariants keeps the document order of the variant mapping,
// which a plain map decode would lose.
func (t *Type) unmarshalVariants(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return valueErrorf(value, "variants must be a mapping of name to value")
	}

	return eachKey(value, func(key string, keyNode, val *yaml.Node) error {
		v := Variant{Name: key, Line: keyNode.Line}

		switch val.Kind {
		case yaml.ScalarNode:
			if err := val.Decode(&v.Value); err != nil {
				return valueErrorf(val, "variant %q value must be an integer", key)
			}
		case yaml.MappingNode:
			err := eachKey(val, func(k string, kn, vn *yaml.Node) error {
				switch k {
				case "value":
					return vn.Decode(&v.Value)
				case "doc":
					return vn.Decode(&v.Doc)
				default:
					return valueErrorf(kn, "unknown key %q", k)
				}
			})
			if err != nil {
				return err
			}
		default:
			return valueErrorf(val, "variant %q value must be an integer", key)
		}

		t.Variants = append(t.Variants, v)

		return nil
	})
}

func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return valueErrorf(value, "field entry must be a mapping")
	}

	f.Line = value.Line

	seenName := false
	seenType := false

	err := eachKey(value, func(key string, keyNode, val *yaml.Node) error {
		switch key {
		case "name":
			seenName = true
			return val.Decode(&f.Name)
		case "type":
			seenType = true
			return val.Decode(&f.Type)
		case "doc":
			return val.Decode(&f.Doc)
		case "assert":
			f.Assert = val
			return nil
		case "if":
			return val.Decode(&f.If)
		case "until":
			return val.Decode(&f.Until)
		case "skip":
			return val.Decode(&f.Skip)
		case "padding":
			return val.Decode(&f.Padding)
		case "align":
			return val.Decode(&f.Align)
		case "endianness":
			return val.Decode(&f.Endianness)
		default:
			return valueErrorf(keyNode, "unknown key %q", key)
		}
	})
	if err != nil {
		return err
	}

	if !seenName {
		return valueErrorf(value, "field entry missing required key %q", "name")
	}

	if !seenType && f.Skip == "" && f.Padding == 0 && f.Align == 0 {
		return valueErrorf(value, "field entry missing required key %q", "type")
	}

	return nil
}

func eachKey(m *yaml.Node, f func(key string, keyNode, val *yaml.Node) error) error {
	for i := 0; i+1 < len(m.Content); i += 2 {
		keyNode := m.Content[i]
		val := m.Content[i+1]

		var key string

		if err := keyNode.Decode(&key); err != nil {
			return valueErrorf(keyNode, "mapping key must be a string")
		}

		if err := f(key, keyNode, val); err != nil {
			return err
		}
	}

	return nil
}
