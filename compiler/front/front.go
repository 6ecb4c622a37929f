package front

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"tlog.app/go/tlog"

	"github.com/wirelang/wirec/compiler/expr"
	"github.com/wirelang/wirec/compiler/hir"
	"github.com/wirelang/wirec/compiler/schema"
)

type (
	// Error is a schema shape or type expression error bound to a
	// document line.
	Error struct {
		Line int
		Msg  string
	}

	// Errors collects every issue found in one run. The front end keeps
	// going past the first error within a type body so a single run
	// reports as much as possible.
	Errors []error
)

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Line, e.Msg)
}

func (e Errors) Error() string {
	l := make([]string, len(e))

	for i, err := range e {
		l[i] = err.Error()
	}

	return strings.Join(l, "\n")
}

func errf(line int, format string, args ...any) *Error {
	return &Error{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// Parse turns a decoded schema document into HIR.
func Parse(ctx context.Context, doc *schema.Format) (*hir.Format, error) {
	var errs Errors

	f := &hir.Format{
		Name:    doc.Name,
		Version: doc.Version,
	}

	var err error

	f.Endian, err = parseEndian(doc.Endianness, hir.Little)
	if err != nil {
		errs = append(errs, errf(doc.Line, "endianness: %v", err))
	}

	switch doc.BitOrder {
	case "", "msb":
		f.BitOrder = hir.MSBFirst
	case "lsb":
		f.BitOrder = hir.LSBFirst
	default:
		errs = append(errs, errf(doc.Line, "bit_order: %q is not msb or lsb", doc.BitOrder))
	}

	names := map[string]int{}

	for _, t := range doc.Types {
		if prev, ok := names[t.Name]; ok {
			errs = append(errs, errf(t.Line, "type %q already defined at line %d", t.Name, prev))
			continue
		}

		names[t.Name] = t.Line

		td, terrs := parseType(t)
		errs = append(errs, terrs...)

		if td != nil {
			f.Types = append(f.Types, td)
		}
	}

	tlog.SpanFromContext(ctx).Printw("parsed unit", "name", f.Name, "types", len(f.Types), "errors", len(errs))

	if len(errs) != 0 {
		return nil, errs
	}

	return f, nil
}

func parseType(t *schema.Type) (hir.TypeDef, Errors) {
	switch t.Kind {
	case "struct":
		return parseStruct(t)
	case "enum":
		return parseEnum(t)
	default:
		return nil, Errors{errf(t.Line, "type %q: kind %q is not struct or enum", t.Name, t.Kind)}
	}
}

func parseEnum(t *schema.Type) (hir.TypeDef, Errors) {
	var errs Errors

	e := &hir.Enum{
		Name: t.Name,
		Doc:  t.Doc,
	}

	width, signed, ok := parsePrimitive(t.Underlying)
	if !ok || width < 8 {
		errs = append(errs, errf(t.Line, "enum %q: underlying type %q is not a byte sized primitive", t.Name, t.Underlying))
	}

	e.Width, e.Signed = width, signed

	if len(t.Fields) != 0 {
		errs = append(errs, errf(t.Line, "enum %q: fields are only valid on structs", t.Name))
	}

	seen := map[string]bool{}
	vals := map[int64]string{}

	for _, v := range t.Variants {
		if seen[v.Name] {
			errs = append(errs, errf(v.Line, "enum %q: variant %q already defined", t.Name, v.Name))
			continue
		}

		seen[v.Name] = true

		if prev, ok := vals[v.Value]; ok {
			errs = append(errs, errf(v.Line, "enum %q: variant %q value %d already used by %q", t.Name, v.Name, v.Value, prev))
			continue
		}

		vals[v.Value] = v.Name

		e.Variants = append(e.Variants, hir.Variant{Name: v.Name, Value: v.Value, Doc: v.Doc})
	}

	if len(e.Variants) == 0 && len(errs) == 0 {
		errs = append(errs, errf(t.Line, "enum %q has no variants", t.Name))
	}

	return e, errs
}

func parseStruct(t *schema.Type) (hir.TypeDef, Errors) {
	var errs Errors

	s := &hir.Struct{
		Name: t.Name,
		Doc:  t.Doc,
	}

	if t.Underlying != "" || len(t.Variants) != 0 {
		errs = append(errs, errf(t.Line, "struct %q: underlying and variants are only valid on enums", t.Name))
	}

	names := map[string]int{}

	for _, df := range t.Fields {
		if prev, ok := names[df.Name]; ok {
			errs = append(errs, errf(df.Line, "struct %q: field %q already defined at line %d", t.Name, df.Name, prev))
			continue
		}

		names[df.Name] = df.Line

		f, ferrs := parseField(df)
		errs = append(errs, ferrs...)

		if f != nil {
			s.Fields = append(s.Fields, f)
		}
	}

	return s, errs
}

func parseField(df *schema.Field) (*hir.Field, Errors) {
	var errs Errors

	f := &hir.Field{
		Name:    df.Name,
		Doc:     df.Doc,
		Skip:    df.Skip,
		Padding: df.Padding,
		Align:   df.Align,
		Line:    df.Line,
	}

	directives := 0
	for _, set := range []bool{df.Skip != "", df.Padding != 0, df.Align != 0} {
		if set {
			directives++
		}
	}

	if directives > 1 {
		errs = append(errs, errf(df.Line, "field %q: skip, padding and align are mutually exclusive", df.Name))
	}

	if df.Align < 0 || df.Padding < 0 {
		errs = append(errs, errf(df.Line, "field %q: padding and align must be positive", df.Name))
	}

	if df.Type != "" {
		k, err := parseKind(df.Type, df.Until)
		if err != nil {
			errs = append(errs, errf(df.Line, "field %q: %v", df.Name, err))
		}

		f.Kind = k
	} else if df.Until != "" {
		errs = append(errs, errf(df.Line, "field %q: until without an open ended array type", df.Name))
	}

	if df.Endianness != "" {
		e, err := parseEndian(df.Endianness, hir.EndianUnset)
		if err != nil {
			errs = append(errs, errf(df.Line, "field %q: endianness: %v", df.Name, err))
		}

		f.Endian = e
	}

	if df.If != "" {
		g, err := expr.Parse(df.If)
		if err != nil {
			errs = append(errs, errf(df.Line, "field %q: if: %v", df.Name, err))
		}

		f.Gate = g
	}

	if df.Assert != nil {
		a, err := parseAssert(df.Assert)
		if err != nil {
			errs = append(errs, err)
		}

		f.Assert = a
	}

	return f, errs
}

// parseKind parses the textual type expression grammar:
// primitives, bit primitives, T[N], T[<ident>], T[] with until,
// str[N], str(<ident>), cstr, blob(<ident>), and bare type names.
func parseKind(s, until string) (hir.Kind, error) {
	if s == "cstr" {
		return hir.String{Null: true}, nil
	}

	if arg, ok := callForm(s, "str"); ok {
		if !isIdent(arg) {
			return nil, fmt.Errorf("str length %q is not a field name", arg)
		}

		return hir.String{LenField: arg}, nil
	}

	if arg, ok := callForm(s, "blob"); ok {
		if !isIdent(arg) {
			return nil, fmt.Errorf("blob size %q is not a field name", arg)
		}

		return hir.Blob{SizeField: arg}, nil
	}

	open := strings.IndexByte(s, '[')
	if open < 0 {
		return parseBareKind(s)
	}

	if !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed type expression %q", s)
	}

	elemStr := s[:open]
	sizeStr := s[open+1 : len(s)-1]

	if elemStr == "str" {
		n, err := strconv.Atoi(sizeStr)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("fixed string length %q is not a positive constant", sizeStr)
		}

		return hir.String{N: n}, nil
	}

	elem, err := parseBareKind(elemStr)
	if err != nil {
		return nil, err
	}

	if _, ok := elem.(hir.Bits); ok {
		return nil, fmt.Errorf("bit packed type %q cannot be an array element", elemStr)
	}

	switch {
	case sizeStr == "":
		if until == "" {
			return nil, fmt.Errorf("open ended array %q requires an until directive", s)
		}

		if until == "eof" {
			return hir.UntilArray{Elem: elem}, nil
		}

		pred, err := expr.Parse(until)
		if err != nil {
			return nil, fmt.Errorf("until: %w", err)
		}

		return hir.UntilArray{Elem: elem, Pred: pred}, nil
	case isIdent(sizeStr):
		return hir.DynArray{Elem: elem, LenField: sizeStr}, nil
	default:
		n, err := strconv.Atoi(sizeStr)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("array length %q is not a positive constant or field name", sizeStr)
		}

		return hir.FixedArray{Elem: elem, N: n}, nil
	}
}

func callForm(s, fn string) (arg string, ok bool) {
	if strings.HasPrefix(s, fn+"(") && strings.HasSuffix(s, ")") {
		return s[len(fn)+1 : len(s)-1], true
	}

	return "", false
}

func parseBareKind(s string) (hir.Kind, error) {
	if w, signed, ok := parsePrimitive(s); ok {
		if w < 8 {
			return hir.Bits{Width: w, Signed: signed}, nil
		}

		return hir.Scalar{Width: w, Signed: signed}, nil
	}

	if primitiveShaped(s) {
		return nil, fmt.Errorf("invalid primitive width in %q", s)
	}

	if !isIdent(s) {
		return nil, fmt.Errorf("malformed type expression %q", s)
	}

	return hir.Ref{Name: s}, nil
}

// primitiveShaped matches u<digits> and i<digits> so an invalid width is
// reported here instead of surfacing later as an unresolved type.
func primitiveShaped(s string) bool {
	if len(s) < 2 || s[0] != 'u' && s[0] != 'i' {
		return false
	}

	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}

func parsePrimitive(s string) (width int, signed bool, ok bool) {
	if len(s) < 2 {
		return 0, false, false
	}

	switch s[0] {
	case 'u':
	case 'i':
		signed = true
	default:
		return 0, false, false
	}

	switch s[1:] {
	case "8":
		width = 8
	case "16":
		width = 16
	case "32":
		width = 32
	case "64":
		width = 64
	case "1", "2", "3", "4", "5", "6", "7":
		width = int(s[1] - '0')
	default:
		return 0, false, false
	}

	return width, signed, true
}

func parseAssert(n *yaml.Node) (*hir.Assert, error) {
	if n.Kind == yaml.SequenceNode {
		b, err := decodeBytes(n)
		if err != nil {
			return nil, err
		}

		return &hir.Assert{Op: hir.AssertEqualsBytes, Bytes: b}, nil
	}

	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, errf(n.Line, "assert must be a byte list or a mapping with exactly one operation")
	}

	var key string

	if err := n.Content[0].Decode(&key); err != nil {
		return nil, errf(n.Line, "assert operation must be named by a string")
	}

	val := n.Content[1]

	switch key {
	case "equals":
		if val.Kind == yaml.SequenceNode {
			b, err := decodeBytes(val)
			if err != nil {
				return nil, err
			}

			return &hir.Assert{Op: hir.AssertEqualsBytes, Bytes: b}, nil
		}

		v, err := decodeInt(val)
		if err != nil {
			return nil, err
		}

		return &hir.Assert{Op: hir.AssertEquals, Value: v}, nil
	case "not-equals":
		v, err := decodeInt(val)
		if err != nil {
			return nil, err
		}

		return &hir.Assert{Op: hir.AssertNotEquals, Value: v}, nil
	case "in-range":
		var mm [2]int64

		if val.Kind != yaml.SequenceNode || len(val.Content) != 2 {
			return nil, errf(val.Line, "in-range takes [min, max]")
		}

		for i, c := range val.Content {
			v, err := decodeInt(c)
			if err != nil {
				return nil, err
			}

			mm[i] = v
		}

		return &hir.Assert{Op: hir.AssertInRange, Min: mm[0], Max: mm[1]}, nil
	case "in":
		if val.Kind != yaml.SequenceNode {
			return nil, errf(val.Line, "in takes a list of integers")
		}

		var set []int64

		for _, c := range val.Content {
			v, err := decodeInt(c)
			if err != nil {
				return nil, err
			}

			set = append(set, v)
		}

		return &hir.Assert{Op: hir.AssertIn, Set: set}, nil
	default:
		return nil, errf(n.Line, "unknown assert operation %q", key)
	}
}

func decodeBytes(n *yaml.Node) ([]byte, error) {
	b := make([]byte, 0, len(n.Content))

	for _, c := range n.Content {
		v, err := decodeInt(c)
		if err != nil {
			return nil, err
		}

		if v < 0 || v > 0xff {
			return nil, errf(c.Line, "byte literal %d out of range", v)
		}

		b = append(b, byte(v))
	}

	return b, nil
}

func decodeInt(n *yaml.Node) (int64, error) {
	var v int64

	if err := n.Decode(&v); err != nil {
		// hex scalars such as 0x04034B50 decode as strings in some styles
		var s string
		if err2 := n.Decode(&s); err2 == nil {
			if p, err3 := strconv.ParseInt(s, 0, 64); err3 == nil {
				return p, nil
			}
		}

		return 0, errf(n.Line, "integer literal expected")
	}

	return v, nil
}

func parseEndian(s string, def hir.Endian) (hir.Endian, error) {
	switch s {
	case "":
		return def, nil
	case "little":
		return hir.Little, nil
	case "big":
		return hir.Big, nil
	case "native":
		return hir.Native, nil
	default:
		return def, fmt.Errorf("%q is not little, big or native", s)
	}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}
