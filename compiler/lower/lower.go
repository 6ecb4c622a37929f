package lower

import (
	"context"
	"fmt"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/wirelang/wirec/compiler/expr"
	"github.com/wirelang/wirec/compiler/hir"
	"github.com/wirelang/wirec/compiler/lir"
)

// Lowering turns each struct of an analyzed unit into a read plan and a
// write plan. The plans traverse the field list in the same order; every
// field contributes a mirrored pair of operations, so a value written by
// one plan is consumed byte for byte by the other.

type (
	Error struct {
		Type  string
		Field string
		Msg   string
		Line  int
	}

	state struct {
		s    *hir.Struct
		vars map[string]lir.Var

		read  []lir.Op
		write []lir.Op
	}
)

func (e *Error) Error() string {
	return fmt.Sprintf("%d: struct %s: field %s: %s", e.Line, e.Type, e.Field, e.Msg)
}

func errf(s *hir.Struct, f *hir.Field, format string, args ...any) *Error {
	return &Error{Type: s.Name, Field: f.Name, Msg: fmt.Sprintf(format, args...), Line: f.Line}
}

// Lower produces the LIR unit for an analyzed format.
func Lower(ctx context.Context, f *hir.Format) (*lir.Unit, error) {
	u := &lir.Unit{
		Name:     f.Name,
		Version:  f.Version,
		BitOrder: f.BitOrder,
	}

	tr := tlog.SpanFromContext(ctx)

	for _, td := range f.Types {
		switch td := td.(type) {
		case *hir.Enum:
			u.Enums = append(u.Enums, td)
		case *hir.Struct:
			t, err := lowerStruct(td, f)
			if err != nil {
				return nil, err
			}

			if tr.If("lower") {
				tr.Printw("lowered struct", "name", t.Name, "read_ops", len(t.Read), "write_ops", len(t.Write), "from", loc.Callers(0, 1))
			}

			u.Types = append(u.Types, t)
		}
	}

	tr.Printw("lowered unit", "name", u.Name, "types", len(u.Types), "enums", len(u.Enums))

	return u, nil
}

func lowerStruct(s *hir.Struct, f *hir.Format) (*lir.Type, error) {
	st := &state{
		s:    s,
		vars: map[string]lir.Var{},
	}

	t := &lir.Type{
		Name: s.Name,
		Doc:  s.Doc,
	}

	for i, fld := range s.Fields {
		if fld.Kind == nil {
			continue
		}

		v := lir.Var(i)
		st.vars[fld.Name] = v

		t.Fields = append(t.Fields, lir.Field{
			Name: fld.Name,
			Doc:  fld.Doc,
			Var:  v,
			Type: valueType(fld),
		})
	}

	for i, fld := range s.Fields {
		if regionStarts(s, i) {
			st.emit(lir.OpenBitRegion{Order: f.BitOrder}, lir.OpenBitRegion{Order: f.BitOrder})
		}

		err := st.lowerField(fld)
		if err != nil {
			return nil, err
		}

		if regionEnds(s, i) {
			st.emit(lir.CloseBitRegionRead{}, lir.CloseBitRegionWrite{})
		} else if _, ok := fld.Kind.(hir.Bits); ok && (fld.Skip != "" || fld.Padding > 0 || fld.Align > 0) {
			return nil, errf(s, fld, "skip, padding and align on a bit packed field require it to end its bit region")
		}

		// post field directives apply byte aligned, after any region
		// the field belongs to is flushed
		st.lowerDirectives(fld)
	}

	t.Read = st.read
	t.Write = st.write

	return t, nil
}

func regionStarts(s *hir.Struct, i int) bool {
	for _, r := range s.Regions {
		if r.Start == i {
			return true
		}
	}

	return false
}

func regionEnds(s *hir.Struct, i int) bool {
	for _, r := range s.Regions {
		if r.End == i+1 {
			return true
		}
	}

	return false
}

func (st *state) emit(r, w lir.Op) {
	if r != nil {
		st.read = append(st.read, r)
	}

	if w != nil {
		st.write = append(st.write, w)
	}
}

func (st *state) lowerField(fld *hir.Field) error {
	if fld.Gate != nil {
		cond, err := st.lowerGate(fld, fld.Gate)
		if err != nil {
			return err
		}

		v := st.vars[fld.Name]

		st.emit(lir.BeginIf{Cond: cond, Dest: v}, lir.BeginIf{Cond: cond, Dest: v})
		st.write = append(st.write, lir.RequireSome{Var: v, Field: fld.Name})
	}

	if fld.Kind != nil {
		err := st.lowerKind(fld)
		if err != nil {
			return err
		}

		err = st.lowerAssert(fld)
		if err != nil {
			return err
		}
	}

	if fld.Gate != nil {
		st.emit(lir.EndIf{}, lir.EndIf{})
	}

	return nil
}

func (st *state) lowerKind(fld *hir.Field) error {
	v := st.vars[fld.Name]

	switch k := fld.Kind.(type) {
	case hir.Scalar:
		st.emitScalar(v, k.Width, k.Signed, fld.Eff, "", fld.Name)
	case hir.Bits:
		st.emit(
			lir.ReadBits{Dest: v, Width: k.Width, Signed: k.Signed, Field: fld.Name},
			lir.WriteBits{Src: v, Width: k.Width},
		)
	case hir.Ref:
		switch def := k.Def.(type) {
		case *hir.Enum:
			st.emitScalar(v, def.Width, def.Signed, fld.Eff, def.Name, fld.Name)
		case *hir.Struct:
			st.emit(lir.CallRead{Dest: v, Type: def.Name}, lir.CallWrite{Src: v, Type: def.Name})
		default:
			return errf(st.s, fld, "unresolved reference %q", k.Name)
		}
	case hir.FixedArray:
		st.emit(lir.BeginRepeatFixed{Dest: v, Count: k.N}, lir.BeginRepeatFixed{Dest: v, Count: k.N})

		if err := st.lowerElem(fld, v, k.Elem); err != nil {
			return err
		}

		st.emit(lir.EndRepeat{}, lir.EndRepeat{})
	case hir.DynArray:
		n := st.vars[k.LenField]

		st.emit(lir.BeginRepeatDynamic{Dest: v, Count: n}, lir.BeginRepeatDynamic{Dest: v, Count: n})

		if err := st.lowerElem(fld, v, k.Elem); err != nil {
			return err
		}

		st.emit(lir.EndRepeat{}, lir.EndRepeat{})
	case hir.UntilArray:
		if k.Pred == nil {
			st.emit(lir.BeginRepeatEOF{Dest: v}, lir.BeginRepeatEOF{Dest: v})
		} else {
			pred, err := st.lowerUntil(fld, k, k.Pred)
			if err != nil {
				return err
			}

			st.emit(lir.BeginRepeatUntil{Dest: v, Pred: pred}, lir.BeginRepeatUntil{Dest: v})
		}

		if err := st.lowerElem(fld, v, k.Elem); err != nil {
			return err
		}

		st.emit(lir.EndRepeat{}, lir.EndRepeat{})
	case hir.String:
		switch {
		case k.Null:
			st.read = append(st.read, lir.ReadBytesUntilZero{Dest: v, Field: fld.Name}, lir.DecodeUTF8{Var: v})
			st.write = append(st.write, lir.WriteStringZero{Src: v})
		case k.LenField != "":
			st.read = append(st.read, lir.ReadBytesDynamic{Dest: v, Len: st.vars[k.LenField], Field: fld.Name}, lir.DecodeUTF8{Var: v})
			st.write = append(st.write, lir.WriteString{Src: v})
		default:
			st.read = append(st.read, lir.ReadBytesFixed{Dest: v, N: k.N, Field: fld.Name}, lir.DecodeUTF8{Var: v})
			st.write = append(st.write, lir.WriteStringFixed{Src: v, N: k.N})
		}
	case hir.Blob:
		st.emit(
			lir.ReadBytesDynamic{Dest: v, Len: st.vars[k.SizeField], Field: fld.Name},
			lir.WriteBytes{Src: v},
		)
	default:
		return errf(st.s, fld, "kind %T cannot be lowered", fld.Kind)
	}

	return nil
}

// lowerElem emits the loop body op for an array element. Element ops
// target the array register; the backend addresses the current slot.
func (st *state) lowerElem(fld *hir.Field, v lir.Var, elem hir.Kind) error {
	switch k := elem.(type) {
	case hir.Scalar:
		st.emitScalar(v, k.Width, k.Signed, fld.Eff, "", fld.Name)
	case hir.Ref:
		switch def := k.Def.(type) {
		case *hir.Enum:
			st.emitScalar(v, def.Width, def.Signed, fld.Eff, def.Name, fld.Name)
		case *hir.Struct:
			st.emit(lir.CallRead{Dest: v, Type: def.Name}, lir.CallWrite{Src: v, Type: def.Name})
		default:
			return errf(st.s, fld, "unresolved element reference %q", k.Name)
		}
	default:
		return errf(st.s, fld, "element kind %T cannot be lowered", elem)
	}

	return nil
}

func (st *state) emitScalar(v lir.Var, width int, signed bool, e hir.Endian, enum, field string) {
	st.emit(
		lir.ReadScalar{Dest: v, Width: width, Signed: signed, Endian: e, Enum: enum, Field: field},
		lir.WriteScalar{Src: v, Width: width, Signed: signed, Endian: e, Enum: enum},
	)
}

func (st *state) lowerAssert(fld *hir.Field) error {
	a := fld.Assert
	if a == nil {
		return nil
	}

	v := st.vars[fld.Name]

	var op lir.Op

	switch a.Op {
	case hir.AssertEquals:
		op = lir.AssertEqualsInt{Var: v, Value: a.Value, Field: fld.Name}
	case hir.AssertEqualsBytes:
		op = lir.AssertEqualsBytes{Var: v, Value: a.Bytes, Field: fld.Name}
	case hir.AssertNotEquals:
		op = lir.AssertNotEqualsInt{Var: v, Value: a.Value, Field: fld.Name}
	case hir.AssertInRange:
		op = lir.AssertRange{Var: v, Min: a.Min, Max: a.Max, Field: fld.Name}
	case hir.AssertIn:
		op = lir.AssertIn{Var: v, Values: a.Set, Field: fld.Name}
	default:
		return errf(st.s, fld, "assert op %d cannot be lowered", a.Op)
	}

	st.read = append(st.read, op)

	return nil
}

func (st *state) lowerDirectives(fld *hir.Field) {
	switch {
	case fld.Skip != "":
		v := st.vars[fld.Skip]
		st.emit(lir.SkipVar{Amount: v, Field: fld.Name}, lir.SkipVar{Amount: v, Field: fld.Name})
	case fld.Padding > 0:
		st.emit(lir.SkipFixed{N: fld.Padding, Field: fld.Name}, lir.WritePadding{N: fld.Padding})
	case fld.Align > 0:
		st.emit(lir.AlignRead{N: fld.Align, Field: fld.Name}, lir.AlignWrite{N: fld.Align})
	}
}

// lowerGate lowers a gate expression to a condition tree over previously
// captured registers.
func (st *state) lowerGate(fld *hir.Field, x expr.Expr) (lir.Expr, error) {
	switch x := x.(type) {
	case expr.Ident:
		v, ok := st.vars[string(x)]
		if !ok {
			return nil, errf(st.s, fld, "gate names unknown field %q", string(x))
		}

		return lir.Load{Var: v}, nil
	case expr.Int:
		return lir.IntLit(x), nil
	case expr.Not:
		inner, err := st.lowerGate(fld, x.X)
		if err != nil {
			return nil, err
		}

		return lir.Not{X: inner}, nil
	case expr.Binary:
		l, err := st.lowerGate(fld, x.Left)
		if err != nil {
			return nil, err
		}

		r, err := st.lowerGate(fld, x.Right)
		if err != nil {
			return nil, err
		}

		return lir.Bin{Op: binOp(x.Op), Left: l, Right: r}, nil
	default:
		return nil, errf(st.s, fld, "gate form %q is not supported", x)
	}
}

// lowerUntil lowers an until predicate. References to the last element
// become LastElem operands; eof becomes a reader-remaining check.
// Comparisons against byte array element fields are canonicalized to byte
// array literals: strings byte for byte, integers packed big endian to the
// field's length, so 'IEND' and 0x49454E44 lower identically.
func (st *state) lowerUntil(fld *hir.Field, k hir.UntilArray, x expr.Expr) (lir.Expr, error) {
	switch x := x.(type) {
	case expr.EOF:
		return lir.Not{X: lir.Remaining{}}, nil
	case expr.Int:
		return lir.IntLit(x), nil
	case expr.Str:
		return lir.BytesLit(x), nil
	case expr.Bytes:
		return lir.BytesLit(x), nil
	case expr.Ident:
		v, ok := st.vars[string(x)]
		if !ok {
			return nil, errf(st.s, fld, "predicate names unknown field %q", string(x))
		}

		return lir.Load{Var: v}, nil
	case expr.Index:
		return lir.LastElem{}, nil
	case expr.Member:
		return lir.LastElem{Field: x.Name}, nil
	case expr.Not:
		inner, err := st.lowerUntil(fld, k, x.X)
		if err != nil {
			return nil, err
		}

		return lir.Not{X: inner}, nil
	case expr.Binary:
		l, err := st.lowerUntil(fld, k, x.Left)
		if err != nil {
			return nil, err
		}

		r, err := st.lowerUntil(fld, k, x.Right)
		if err != nil {
			return nil, err
		}

		l, r, err = st.canonBytes(fld, k, l, r)
		if err != nil {
			return nil, err
		}

		return lir.Bin{Op: binOp(x.Op), Left: l, Right: r}, nil
	default:
		return nil, errf(st.s, fld, "predicate form %q is not supported", x)
	}
}

// canonBytes normalizes both operands of a comparison where one side is a
// byte array element field.
func (st *state) canonBytes(fld *hir.Field, k hir.UntilArray, l, r lir.Expr) (_, _ lir.Expr, err error) {
	le, lok := l.(lir.LastElem)
	re, rok := r.(lir.LastElem)

	switch {
	case lok && !rok:
		r, err = st.canonLit(fld, k, le, r)
	case rok && !lok:
		l, err = st.canonLit(fld, k, re, l)
	}

	return l, r, err
}

func (st *state) canonLit(fld *hir.Field, k hir.UntilArray, e lir.LastElem, lit lir.Expr) (lir.Expr, error) {
	n, ok := st.elemByteArrayLen(k, e.Field)
	if !ok {
		return lit, nil
	}

	switch lit := lit.(type) {
	case lir.BytesLit:
		if len(lit) != n {
			return nil, errf(st.s, fld, "byte literal length %d does not match field length %d", len(lit), n)
		}

		return lit, nil
	case lir.IntLit:
		b := make([]byte, n)

		for i := 0; i < n; i++ {
			b[i] = byte(uint64(lit) >> (8 * (n - 1 - i)))
		}

		return lir.BytesLit(b), nil
	default:
		return lit, nil
	}
}

// elemByteArrayLen reports the length of the element field when it is a
// fixed u8 array or fixed string.
func (st *state) elemByteArrayLen(k hir.UntilArray, field string) (int, bool) {
	ref, ok := k.Elem.(hir.Ref)
	if !ok {
		return 0, false
	}

	es, ok := ref.Def.(*hir.Struct)
	if !ok {
		return 0, false
	}

	for _, f := range es.Fields {
		if f.Name != field {
			continue
		}

		switch fk := f.Kind.(type) {
		case hir.FixedArray:
			if e, ok := fk.Elem.(hir.Scalar); ok && e.Width == 8 && !e.Signed {
				return fk.N, true
			}
		case hir.String:
			if fk.N > 0 {
				return fk.N, true
			}
		}
	}

	return 0, false
}

func binOp(op expr.Op) lir.BinOp {
	switch op {
	case expr.OpEq:
		return lir.Eq
	case expr.OpNE:
		return lir.NE
	case expr.OpLT:
		return lir.LT
	case expr.OpGT:
		return lir.GT
	case expr.OpLE:
		return lir.LE
	case expr.OpGE:
		return lir.GE
	case expr.OpAnd:
		return lir.And
	case expr.OpOr:
		return lir.Or
	case expr.OpBitAnd:
		return lir.BitAnd
	case expr.OpBitOr:
		return lir.BitOr
	case expr.OpBitXor:
		return lir.BitXor
	case expr.OpShl:
		return lir.Shl
	case expr.OpShr:
		return lir.Shr
	case expr.OpAdd:
		return lir.Add
	case expr.OpSub:
		return lir.Sub
	case expr.OpMul:
		return lir.Mul
	case expr.OpDiv:
		return lir.Div
	case expr.OpMod:
		return lir.Mod
	default:
		panic(fmt.Sprintf("invalid op %d", int(op)))
	}
}

func valueType(fld *hir.Field) lir.ValueType {
	vt := kindValueType(fld.Kind)
	vt.Optional = fld.Gate != nil

	return vt
}

func kindValueType(k hir.Kind) lir.ValueType {
	switch k := k.(type) {
	case hir.Scalar:
		return lir.ValueType{Kind: lir.KindScalar, Width: k.Width, Signed: k.Signed}
	case hir.Bits:
		return lir.ValueType{Kind: lir.KindBits, Width: k.Width, Signed: k.Signed}
	case hir.Ref:
		if _, ok := k.Def.(*hir.Enum); ok {
			return lir.ValueType{Kind: lir.KindEnum, Name: k.Name}
		}

		return lir.ValueType{Kind: lir.KindStruct, Name: k.Name}
	case hir.FixedArray:
		elem := kindValueType(k.Elem)
		return lir.ValueType{Kind: lir.KindFixedArray, N: k.N, Elem: &elem}
	case hir.DynArray:
		elem := kindValueType(k.Elem)
		return lir.ValueType{Kind: lir.KindVector, Elem: &elem}
	case hir.UntilArray:
		elem := kindValueType(k.Elem)
		return lir.ValueType{Kind: lir.KindVector, Elem: &elem}
	case hir.String:
		return lir.ValueType{Kind: lir.KindString, N: k.N}
	case hir.Blob:
		return lir.ValueType{Kind: lir.KindBytes}
	default:
		return lir.ValueType{}
	}
}
