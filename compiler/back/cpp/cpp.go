package cpp

import (
	"context"
	"fmt"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog"

	"github.com/wirelang/wirec/compiler/back"
	"github.com/wirelang/wirec/compiler/hir"
	"github.com/wirelang/wirec/compiler/lir"
)

// The reference backend. It walks the LIR plans and emits a single header
// with the runtime helpers, one enum class per enum and one value struct
// per struct with a static read and a const write method.

type (
	Backend struct{}

	// EmitterError means the backend met an operation stream it cannot
	// emit. Seeing one is a lowering bug, not a schema error.
	EmitterError struct {
		Type string
		Msg  string
	}

	gen struct {
		u *lir.Unit
		t *lir.Type

		b     []byte
		depth int

		bit     bitState
		repeats []*repeat

		fields map[lir.Var]*lir.Field
	}

	repeat struct {
		field *lir.Field
		push  bool // append elements instead of indexing
		pred  lir.Expr
		elem  string // element struct name, set by the body call op
	}

	bitState int
)

const (
	bitClosed bitState = iota
	bitOpenRead
	bitOpenWrite
)

func (e *EmitterError) Error() string {
	return fmt.Sprintf("struct %s: %s", e.Type, e.Msg)
}

func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string { return "cpp" }

func (b *Backend) Generate(ctx context.Context, u *lir.Unit) (back.File, error) {
	g := &gen{u: u}

	g.header()

	for _, e := range u.Enums {
		g.enum(e)
	}

	for _, t := range u.Types {
		err := g.structType(t)
		if err != nil {
			return back.File{}, err
		}
	}

	g.p("} // namespace %s", ns(u.Name))

	tlog.SpanFromContext(ctx).Printw("emitted artifact", "unit", u.Name, "bytes", len(g.b))

	return back.File{
		Path: ns(u.Name) + ".hpp",
		Data: g.b,
	}, nil
}

func ns(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

func (g *gen) header() {
	g.p("#pragma once")
	g.p("")

	if g.u.Version != "" {
		g.p("// Codec for format %s, version %s.", g.u.Name, g.u.Version)
	} else {
		g.p("// Codec for format %s.", g.u.Name)
	}

	g.p("")
	g.p("#include <cstdint>")
	g.p("#include <array>")
	g.p("#include <vector>")
	g.p("#include <span>")
	g.p("#include <optional>")
	g.p("#include <string>")
	g.p("#include <stdexcept>")
	g.p("#include <cstring>")
	g.p("#include <type_traits>")
	g.p("")
	g.p("namespace %s {", ns(g.u.Name))
	g.p("")
	g.b = append(g.b, runtime...)
	g.p("")
}

func (g *gen) enum(e *hir.Enum) {
	if e.Doc != "" {
		g.p("// %s", e.Doc)
	}

	g.p("enum class %s : %s {", e.Name, scalarType(e.Width, e.Signed))

	for _, v := range e.Variants {
		if v.Doc != "" {
			g.p("    // %s", v.Doc)
		}

		g.p("    %s = %d,", v.Name, v.Value)
	}

	g.p("};")
	g.p("")
}

func (g *gen) structType(t *lir.Type) error {
	g.t = t
	g.fields = map[lir.Var]*lir.Field{}

	for i := range t.Fields {
		g.fields[t.Fields[i].Var] = &t.Fields[i]
	}

	if t.Doc != "" {
		g.p("// %s", t.Doc)
	}

	g.p("struct %s {", t.Name)

	for _, f := range t.Fields {
		if f.Doc != "" {
			g.p("    // %s", f.Doc)
		}

		g.p("    %s %s;", cppType(f.Type), f.Name)
	}

	g.p("")
	g.p("    static %s read(Reader& reader);", t.Name)
	g.p("    void write(Writer& writer) const;")
	g.p("};")
	g.p("")

	err := g.readImpl(t)
	if err != nil {
		return err
	}

	return g.writeImpl(t)
}

func (g *gen) readImpl(t *lir.Type) error {
	g.p("inline %s %s::read(Reader& reader) {", t.Name, t.Name)

	g.depth = 1
	g.bit = bitClosed
	g.repeats = nil

	g.p("%s result;", t.Name)

	for _, op := range t.Read {
		err := g.readOp(op)
		if err != nil {
			return err
		}
	}

	if g.bit != bitClosed {
		return &EmitterError{Type: t.Name, Msg: "read plan ends inside an open bit region"}
	}

	if len(g.repeats) != 0 || g.depth != 1 {
		return &EmitterError{Type: t.Name, Msg: "read plan ends inside an open block"}
	}

	g.p("return result;")

	g.depth = 0

	g.p("}")
	g.p("")

	return nil
}

func (g *gen) readOp(op lir.Op) error {
	fail := func(format string, args ...any) error {
		return &EmitterError{Type: g.t.Name, Msg: fmt.Sprintf(format, args...)}
	}

	switch op := op.(type) {
	case lir.ReadScalar:
		x := fmt.Sprintf("reader.read_%s<%s>(\"%s\")", endianSuffix(op.Endian), scalarType(op.Width, op.Signed), op.Field)
		if op.Enum != "" {
			x = fmt.Sprintf("static_cast<%s>(%s)", op.Enum, x)
		}

		g.assign(op.Dest, x)
	case lir.OpenBitRegion:
		if g.bit != bitClosed {
			return fail("bit region opened twice")
		}

		g.p("{")
		g.depth++
		g.p("BitReader bits(reader);")

		g.bit = bitOpenRead
	case lir.CloseBitRegionRead:
		if g.bit != bitOpenRead {
			return fail("bit region close without open")
		}

		g.depth--
		g.p("}")

		g.bit = bitClosed
	case lir.ReadBits:
		if g.bit != bitOpenRead {
			return fail("bit read outside a bit region")
		}

		g.assign(op.Dest, fmt.Sprintf("bits.read_%s(%d, \"%s\")", bitSuffix(g.u.BitOrder, op.Signed), op.Width, op.Field))
	case lir.ReadBytesFixed:
		g.readBytes(op.Dest, fmt.Sprintf("%d", op.N), op.Field)
	case lir.ReadBytesDynamic:
		g.readBytes(op.Dest, g.count(op.Len, true), op.Field)
	case lir.ReadBytesUntilZero:
		g.assign(op.Dest, fmt.Sprintf("reader.read_cstring(\"%s\")", op.Field))
	case lir.DecodeUTF8:
		// reads into string fields decode in place
	case lir.AssertEqualsInt:
		ref := g.valueRef(op.Var, true)

		g.p("if (%s != %s) {", ref, g.intLit(op.Var, op.Value))
		g.p("    throw ParseError(\"field '%s' must equal %s, got \" + std::to_string(%s));", op.Field, g.intLit(op.Var, op.Value), g.toNum(op.Var, ref))
		g.p("}")
	case lir.AssertNotEqualsInt:
		ref := g.valueRef(op.Var, true)

		g.p("if (%s == %s) {", ref, g.intLit(op.Var, op.Value))
		g.p("    throw ParseError(\"field '%s' must not equal %s\");", op.Field, g.intLit(op.Var, op.Value))
		g.p("}")
	case lir.AssertEqualsBytes:
		ref := g.valueRef(op.Var, true)

		g.p("if (!(%s == %s)) {", ref, g.bytesLitFor(g.fields[op.Var].Type, op.Value))
		g.p("    throw ParseError(\"field '%s' does not match its expected value\");", op.Field)
		g.p("}")
	case lir.AssertRange:
		ref := g.valueRef(op.Var, true)

		g.p("if (%s < %d || %s > %d) {", ref, op.Min, ref, op.Max)
		g.p("    throw ParseError(\"field '%s' must be in range [%d, %d], got \" + std::to_string(%s));", op.Field, op.Min, op.Max, g.toNum(op.Var, ref))
		g.p("}")
	case lir.AssertIn:
		ref := g.valueRef(op.Var, true)

		var conds []string
		for _, v := range op.Values {
			conds = append(conds, fmt.Sprintf("%s != %d", ref, v))
		}

		g.p("if (%s) {", strings.Join(conds, " && "))
		g.p("    throw ParseError(\"field '%s' has invalid value \" + std::to_string(%s));", op.Field, g.toNum(op.Var, ref))
		g.p("}")
	case lir.SkipFixed:
		g.p("reader.skip(%d, \"%s\");", op.N, op.Field)
	case lir.SkipVar:
		g.p("reader.skip(%s, \"%s\");", g.count(op.Amount, true), op.Field)
	case lir.AlignRead:
		g.p("reader.align(%d, \"%s\");", op.N, op.Field)
	case lir.BeginIf:
		cond, err := g.cond(op.Cond, true)
		if err != nil {
			return err
		}

		g.p("if (%s) {", cond)
		g.depth++
	case lir.EndIf:
		g.depth--
		g.p("}")
	case lir.BeginRepeatFixed:
		g.p("for (size_t i = 0; i < %d; ++i) {", op.Count)
		g.depth++
		g.repeats = append(g.repeats, &repeat{field: g.fields[op.Dest]})
	case lir.BeginRepeatDynamic:
		f := g.fields[op.Dest]

		if f.Type.Kind == lir.KindVector {
			g.p("result.%s.resize(%s);", f.Name, g.count(op.Count, true))
		}

		g.p("for (size_t i = 0; i < %s; ++i) {", g.count(op.Count, true))
		g.depth++
		g.repeats = append(g.repeats, &repeat{field: f})
	case lir.BeginRepeatEOF:
		g.p("while (reader.remaining() > 0) {")
		g.depth++
		g.repeats = append(g.repeats, &repeat{field: g.fields[op.Dest], push: true})
	case lir.BeginRepeatUntil:
		g.p("do {")
		g.depth++
		g.repeats = append(g.repeats, &repeat{field: g.fields[op.Dest], push: true, pred: op.Pred})
	case lir.EndRepeat:
		if len(g.repeats) == 0 {
			return fail("repeat close without open")
		}

		r := g.repeats[len(g.repeats)-1]
		g.repeats = g.repeats[:len(g.repeats)-1]
		g.depth--

		if r.pred == nil {
			g.p("}")
			break
		}

		pred, err := g.untilCond(r)
		if err != nil {
			return err
		}

		g.p("} while (!(%s));", pred)
	case lir.CallRead:
		if len(g.repeats) != 0 {
			g.repeats[len(g.repeats)-1].elem = op.Type
		}

		g.assign(op.Dest, fmt.Sprintf("%s::read(reader)", op.Type))
	default:
		return fail("read op %T is not implemented", op)
	}

	return nil
}

// readBytes assigns bytes or decoded text depending on the target field.
func (g *gen) readBytes(dest lir.Var, n, field string) {
	if g.fields[dest].Type.Kind == lir.KindString {
		g.assign(dest, fmt.Sprintf("reader.read_string(%s, \"%s\")", n, field))
		return
	}

	g.assign(dest, fmt.Sprintf("reader.read_bytes(%s, \"%s\")", n, field))
}

func (g *gen) writeImpl(t *lir.Type) error {
	g.p("inline void %s::write(Writer& writer) const {", t.Name)

	g.depth = 1
	g.bit = bitClosed
	g.repeats = nil

	for _, op := range t.Write {
		err := g.writeOp(op)
		if err != nil {
			return err
		}
	}

	if g.bit != bitClosed {
		return &EmitterError{Type: t.Name, Msg: "write plan ends inside an open bit region"}
	}

	if len(g.repeats) != 0 || g.depth != 1 {
		return &EmitterError{Type: t.Name, Msg: "write plan ends inside an open block"}
	}

	g.depth = 0

	g.p("}")
	g.p("")

	return nil
}

func (g *gen) writeOp(op lir.Op) error {
	fail := func(format string, args ...any) error {
		return &EmitterError{Type: g.t.Name, Msg: fmt.Sprintf(format, args...)}
	}

	switch op := op.(type) {
	case lir.WriteScalar:
		x := g.valueRef(op.Src, false)
		if op.Enum != "" || g.fields[op.Src].Type.Kind == lir.KindEnum {
			x = fmt.Sprintf("static_cast<%s>(%s)", scalarType(op.Width, op.Signed), x)
		}

		g.p("writer.write_%s<%s>(%s);", endianSuffix(op.Endian), scalarType(op.Width, op.Signed), x)
	case lir.OpenBitRegion:
		if g.bit != bitClosed {
			return fail("bit region opened twice")
		}

		g.p("{")
		g.depth++

		if op.Order == hir.LSBFirst {
			g.p("BitWriter bits(writer, true);")
		} else {
			g.p("BitWriter bits(writer);")
		}

		g.bit = bitOpenWrite
	case lir.CloseBitRegionWrite:
		if g.bit != bitOpenWrite {
			return fail("bit region close without open")
		}

		g.p("bits.flush();")
		g.depth--
		g.p("}")

		g.bit = bitClosed
	case lir.WriteBits:
		if g.bit != bitOpenWrite {
			return fail("bit write outside a bit region")
		}

		side := "msb"
		if g.u.BitOrder == hir.LSBFirst {
			side = "lsb"
		}

		g.p("bits.write_%s(static_cast<uint8_t>(%s), %d);", side, g.valueRef(op.Src, false), op.Width)
	case lir.WriteString:
		g.p("writer.write_string(%s);", g.valueRef(op.Src, false))
	case lir.WriteStringFixed:
		g.p("writer.write_string_fixed(%s, %d);", g.valueRef(op.Src, false), op.N)
	case lir.WriteStringZero:
		g.p("writer.write_cstring(%s);", g.valueRef(op.Src, false))
	case lir.WriteBytes:
		g.p("writer.write_bytes(%s);", g.valueRef(op.Src, false))
	case lir.WritePadding:
		g.p("writer.write_padding(%d);", op.N)
	case lir.SkipVar:
		g.p("writer.write_padding(%s);", g.count(op.Amount, false))
	case lir.AlignWrite:
		g.p("writer.align(%d);", op.N)
	case lir.RequireSome:
		g.p("if (!%s.has_value()) {", g.fields[op.Var].Name)
		g.p("    throw ParseError(\"field '%s' must be set when its condition holds\");", op.Field)
		g.p("}")
	case lir.BeginIf:
		cond, err := g.cond(op.Cond, false)
		if err != nil {
			return err
		}

		g.p("if (%s) {", cond)
		g.depth++
	case lir.EndIf:
		g.depth--
		g.p("}")
	case lir.BeginRepeatFixed:
		g.p("for (size_t i = 0; i < %d; ++i) {", op.Count)
		g.depth++
		g.repeats = append(g.repeats, &repeat{field: g.fields[op.Dest]})
	case lir.BeginRepeatDynamic:
		g.p("for (size_t i = 0; i < %s; ++i) {", g.count(op.Count, false))
		g.depth++
		g.repeats = append(g.repeats, &repeat{field: g.fields[op.Dest]})
	case lir.BeginRepeatEOF, lir.BeginRepeatUntil:
		var f *lir.Field

		switch op := op.(type) {
		case lir.BeginRepeatEOF:
			f = g.fields[op.Dest]
		case lir.BeginRepeatUntil:
			f = g.fields[op.Dest]
		}

		g.p("for (size_t i = 0; i < %s.size(); ++i) {", f.Name)
		g.depth++
		g.repeats = append(g.repeats, &repeat{field: f})
	case lir.EndRepeat:
		if len(g.repeats) == 0 {
			return fail("repeat close without open")
		}

		g.repeats = g.repeats[:len(g.repeats)-1]
		g.depth--
		g.p("}")
	case lir.CallWrite:
		x := g.valueRef(op.Src, false)
		g.p("%s.write(writer);", x)
	default:
		return fail("write op %T is not implemented", op)
	}

	return nil
}

// assign stores a read expression into its destination: the current array
// slot inside a repeat, the plain member otherwise. Optionals engage on
// assignment.
func (g *gen) assign(dest lir.Var, x string) {
	f := g.fields[dest]

	if len(g.repeats) != 0 {
		r := g.repeats[len(g.repeats)-1]

		if r.field.Var == dest {
			if r.push {
				g.p("result.%s.push_back(%s);", f.Name, x)
			} else {
				g.p("result.%s[i] = %s;", f.Name, x)
			}

			return
		}
	}

	g.p("result.%s = %s;", f.Name, x)
}

// valueRef names the current value of a register: result.field on the read
// side, the bare member on the write side, dereferenced when the field is
// optional and indexed inside a repeat.
func (g *gen) valueRef(v lir.Var, read bool) string {
	f := g.fields[v]

	ref := f.Name
	if read {
		ref = "result." + f.Name
	}

	if f.Type.Optional {
		ref = "(*" + ref + ")"
	}

	if len(g.repeats) != 0 && g.repeats[len(g.repeats)-1].field.Var == v {
		ref += "[i]"
	}

	return ref
}

// count renders a length operand as size_t.
func (g *gen) count(v lir.Var, read bool) string {
	return fmt.Sprintf("static_cast<size_t>(%s)", g.valueRef(v, read))
}

// toNum renders a value for std::to_string.
func (g *gen) toNum(v lir.Var, ref string) string {
	t := g.fields[v].Type

	if t.Kind == lir.KindScalar && !t.Signed {
		return fmt.Sprintf("static_cast<unsigned long long>(%s)", ref)
	}

	return fmt.Sprintf("static_cast<long long>(%s)", ref)
}

// intLit renders an assert literal, hex padded to the field width so the
// failure message shows the familiar constant form.
func (g *gen) intLit(v lir.Var, val int64) string {
	t := g.fields[v].Type

	if t.Kind == lir.KindScalar && !t.Signed && t.Width >= 16 {
		return fmt.Sprintf("0x%0*X", t.Width/4, uint64(val))
	}

	return fmt.Sprintf("%d", val)
}

func (g *gen) bytesLitFor(t lir.ValueType, b []byte) string {
	if t.Kind == lir.KindString {
		return stringLit(b)
	}

	l := make([]string, len(b))
	for i, c := range b {
		l[i] = fmt.Sprintf("%d", c)
	}

	n := len(b)
	if t.Kind == lir.KindFixedArray {
		n = t.N
	}

	return fmt.Sprintf("std::array<uint8_t, %d>{%s}", n, strings.Join(l, ", "))
}

func stringLit(b []byte) string {
	var sb strings.Builder

	for _, c := range b {
		fmt.Fprintf(&sb, "\\x%02x", c)
	}

	return fmt.Sprintf("std::string(\"%s\", %d)", sb.String(), len(b))
}

// cond renders a lowered condition tree.
func (g *gen) cond(x lir.Expr, read bool) (string, error) {
	switch x := x.(type) {
	case lir.Load:
		return g.valueRef(x.Var, read), nil
	case lir.IntLit:
		return fmt.Sprintf("%d", int64(x)), nil
	case lir.Remaining:
		return "(reader.remaining() > 0)", nil
	case lir.Not:
		inner, err := g.cond(x.X, read)
		if err != nil {
			return "", err
		}

		return "!(" + inner + ")", nil
	case lir.Bin:
		l, err := g.cond(x.Left, read)
		if err != nil {
			return "", err
		}

		r, err := g.cond(x.Right, read)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("(%s %s %s)", l, binOpToken(x.Op), r), nil
	default:
		return "", &EmitterError{Type: g.t.Name, Msg: fmt.Sprintf("condition operand %T is not implemented", x)}
	}
}

// untilCond renders a repeat-until predicate against the element appended
// last. Byte literals take the C++ type of the element field they compare
// with.
func (g *gen) untilCond(r *repeat) (string, error) {
	var render func(x lir.Expr) (string, error)

	back := fmt.Sprintf("result.%s.back()", r.field.Name)

	elemField := func(name string) *lir.Field {
		if r.elem == "" {
			return nil
		}

		for _, t := range g.u.Types {
			if t.Name != r.elem {
				continue
			}

			for i := range t.Fields {
				if t.Fields[i].Name == name {
					return &t.Fields[i]
				}
			}
		}

		return nil
	}

	render = func(x lir.Expr) (string, error) {
		switch x := x.(type) {
		case lir.LastElem:
			if x.Field == "" {
				return back, nil
			}

			return back + "." + x.Field, nil
		case lir.IntLit:
			return fmt.Sprintf("%d", int64(x)), nil
		case lir.Remaining:
			return "(reader.remaining() > 0)", nil
		case lir.Load:
			return g.valueRef(x.Var, true), nil
		case lir.Not:
			inner, err := render(x.X)
			if err != nil {
				return "", err
			}

			return "!(" + inner + ")", nil
		case lir.Bin:
			// type a byte literal after the element field on the
			// other side of the comparison
			if lit, ok := x.Right.(lir.BytesLit); ok {
				if le, ok := x.Left.(lir.LastElem); ok {
					if f := elemField(le.Field); f != nil {
						return fmt.Sprintf("(%s.%s %s %s)", back, le.Field, binOpToken(x.Op), g.bytesLitFor(f.Type, lit)), nil
					}
				}
			}

			if lit, ok := x.Left.(lir.BytesLit); ok {
				if le, ok := x.Right.(lir.LastElem); ok {
					if f := elemField(le.Field); f != nil {
						return fmt.Sprintf("(%s %s %s.%s)", g.bytesLitFor(f.Type, lit), binOpToken(x.Op), back, le.Field), nil
					}
				}
			}

			l, err := render(x.Left)
			if err != nil {
				return "", err
			}

			rr, err := render(x.Right)
			if err != nil {
				return "", err
			}

			return fmt.Sprintf("(%s %s %s)", l, binOpToken(x.Op), rr), nil
		case lir.BytesLit:
			return "", &EmitterError{Type: g.t.Name, Msg: "byte literal outside a comparison with an element field"}
		default:
			return "", &EmitterError{Type: g.t.Name, Msg: fmt.Sprintf("predicate operand %T is not implemented", x)}
		}
	}

	return render(r.pred)
}

func binOpToken(op lir.BinOp) string {
	switch op {
	case lir.Eq:
		return "=="
	case lir.NE:
		return "!="
	case lir.LT:
		return "<"
	case lir.GT:
		return ">"
	case lir.LE:
		return "<="
	case lir.GE:
		return ">="
	case lir.And:
		return "&&"
	case lir.Or:
		return "||"
	case lir.BitAnd:
		return "&"
	case lir.BitOr:
		return "|"
	case lir.BitXor:
		return "^"
	case lir.Shl:
		return "<<"
	case lir.Shr:
		return ">>"
	case lir.Add:
		return "+"
	case lir.Sub:
		return "-"
	case lir.Mul:
		return "*"
	case lir.Div:
		return "/"
	case lir.Mod:
		return "%"
	default:
		panic(fmt.Sprintf("invalid op %d", int(op)))
	}
}

func scalarType(width int, signed bool) string {
	w := width
	if w < 8 {
		w = 8
	}

	if signed {
		return fmt.Sprintf("int%d_t", w)
	}

	return fmt.Sprintf("uint%d_t", w)
}

func endianSuffix(e hir.Endian) string {
	switch e {
	case hir.Big:
		return "be"
	case hir.Native:
		return "ne"
	default:
		return "le"
	}
}

func bitSuffix(o hir.BitOrder, signed bool) string {
	s := "msb"
	if o == hir.LSBFirst {
		s = "lsb"
	}

	if signed {
		s += "_signed"
	}

	return s
}

func cppType(t lir.ValueType) string {
	var s string

	switch t.Kind {
	case lir.KindScalar, lir.KindBits:
		s = scalarType(t.Width, t.Signed)
	case lir.KindEnum, lir.KindStruct:
		s = t.Name
	case lir.KindString:
		s = "std::string"
	case lir.KindBytes:
		s = "std::vector<uint8_t>"
	case lir.KindFixedArray:
		s = fmt.Sprintf("std::array<%s, %d>", cppType(*t.Elem), t.N)
	case lir.KindVector:
		s = fmt.Sprintf("std::vector<%s>", cppType(*t.Elem))
	default:
		s = "uint8_t"
	}

	if t.Optional {
		s = fmt.Sprintf("std::optional<%s>", s)
	}

	return s
}

// p appends one indented line.
func (g *gen) p(format string, args ...any) {
	if format == "" {
		g.b = append(g.b, '\n')
		return
	}

	for i := 0; i < g.depth; i++ {
		g.b = append(g.b, "    "...)
	}

	g.b = hfmt.Appendf(g.b, format, args...)
	g.b = append(g.b, '\n')
}
