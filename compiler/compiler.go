package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wirelang/wirec/compiler/analyze"
	"github.com/wirelang/wirec/compiler/back"
	"github.com/wirelang/wirec/compiler/back/cpp"
	"github.com/wirelang/wirec/compiler/front"
	"github.com/wirelang/wirec/compiler/hir"
	"github.com/wirelang/wirec/compiler/lower"
	"github.com/wirelang/wirec/compiler/schema"
)

// Backends returns the registry of built in backends.
func Backends() *back.Registry {
	return back.NewRegistry(cpp.New())
}

func CompileFile(ctx context.Context, name, backend string) (back.File, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return back.File{}, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Compile(ctx, backend, text)
}

// Compile runs the full pipeline: document tree, front end, analyzer,
// lowering, backend. The unit is a pure function of the schema text.
func Compile(ctx context.Context, backend string, text []byte) (back.File, error) {
	f, err := analyzed(ctx, text)
	if err != nil {
		return back.File{}, err
	}

	u, err := lower.Lower(ctx, f)
	if err != nil {
		return back.File{}, errors.Wrap(err, "lower")
	}

	file, err := Backends().Generate(ctx, backend, u)
	if err != nil {
		return back.File{}, errors.Wrap(err, "generate")
	}

	return file, nil
}

// Validate runs the front end and the analyzer only.
func Validate(ctx context.Context, text []byte) error {
	_, err := analyzed(ctx, text)
	return err
}

func ValidateFile(ctx context.Context, name string) error {
	text, err := os.ReadFile(name)
	if err != nil {
		return errors.Wrap(err, "read file")
	}

	return Validate(ctx, text)
}

// Dump renders the analyzed unit as yaml, types in emission order.
func Dump(ctx context.Context, text []byte) ([]byte, error) {
	f, err := analyzed(ctx, text)
	if err != nil {
		return nil, err
	}

	return yaml.Marshal(dumpView(f))
}

func analyzed(ctx context.Context, text []byte) (*hir.Format, error) {
	doc, err := schema.Parse(bytes.NewReader(text))
	if err != nil {
		return nil, errors.Wrap(err, "parse document")
	}

	f, err := front.Parse(ctx, doc)
	if err != nil {
		return nil, errors.Wrap(err, "parse schema")
	}

	err = analyze.Analyze(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "analyze")
	}

	return f, nil
}

func dumpView(f *hir.Format) any {
	type fieldView struct {
		Name   string `yaml:"name"`
		Kind   string `yaml:"kind"`
		Endian string `yaml:"endianness,omitempty"`
		Gated  bool   `yaml:"gated,omitempty"`
		Doc    string `yaml:"doc,omitempty"`
	}

	type typeView struct {
		Name     string           `yaml:"name"`
		Kind     string           `yaml:"kind"`
		Fields   []fieldView      `yaml:"fields,omitempty"`
		Variants map[string]int64 `yaml:"variants,omitempty"`
	}

	type unitView struct {
		Name     string     `yaml:"name"`
		Version  string     `yaml:"version,omitempty"`
		Endian   string     `yaml:"endianness"`
		BitOrder string     `yaml:"bit_order"`
		Types    []typeView `yaml:"types"`
	}

	v := unitView{
		Name:     f.Name,
		Version:  f.Version,
		Endian:   f.Endian.String(),
		BitOrder: f.BitOrder.String(),
	}

	for _, td := range f.Types {
		switch td := td.(type) {
		case *hir.Struct:
			tv := typeView{Name: td.Name, Kind: "struct"}

			for _, fld := range td.Fields {
				if fld.Kind == nil {
					continue
				}

				tv.Fields = append(tv.Fields, fieldView{
					Name:   fld.Name,
					Kind:   kindString(fld.Kind),
					Endian: scalarEndian(fld),
					Gated:  fld.Gate != nil,
					Doc:    fld.Doc,
				})
			}

			v.Types = append(v.Types, tv)
		case *hir.Enum:
			tv := typeView{Name: td.Name, Kind: "enum", Variants: map[string]int64{}}

			for _, vr := range td.Variants {
				tv.Variants[vr.Name] = vr.Value
			}

			v.Types = append(v.Types, tv)
		}
	}

	return v
}

func kindString(k hir.Kind) string {
	switch k := k.(type) {
	case hir.Scalar:
		return primName(k.Width, k.Signed)
	case hir.Bits:
		return primName(k.Width, k.Signed)
	case hir.Ref:
		return k.Name
	case hir.FixedArray:
		return fmt.Sprintf("%s[%d]", kindString(k.Elem), k.N)
	case hir.DynArray:
		return kindString(k.Elem) + "[" + k.LenField + "]"
	case hir.UntilArray:
		return kindString(k.Elem) + "[]"
	case hir.String:
		switch {
		case k.Null:
			return "cstr"
		case k.LenField != "":
			return "str(" + k.LenField + ")"
		default:
			return fmt.Sprintf("str[%d]", k.N)
		}
	case hir.Blob:
		return "blob(" + k.SizeField + ")"
	default:
		return "?"
	}
}

func primName(width int, signed bool) string {
	c := "u"
	if signed {
		c = "i"
	}

	return fmt.Sprintf("%s%d", c, width)
}

func scalarEndian(fld *hir.Field) string {
	switch fld.Kind.(type) {
	case hir.Scalar, hir.FixedArray, hir.DynArray, hir.UntilArray, hir.Ref:
		return fld.Eff.String()
	default:
		return ""
	}
}
