package analyze

import (
	"context"
	"fmt"
	"strings"

	"tlog.app/go/tlog"

	"github.com/wirelang/wirec/compiler/expr"
	"github.com/wirelang/wirec/compiler/hir"
)

// The analyzer validates and completes HIR in place: it resolves type
// references, rejects dependency cycles, reorders types topologically,
// enforces the forward reference rule, materializes effective endianness
// on every scalar site, groups bit regions and types assertions.
// It halts on the first fatal error within one type but keeps going with
// the remaining types.

type (
	UnresolvedTypeError struct {
		Type  string
		Field string
		Name  string
		Line  int
	}

	CircularTypeError struct {
		Types []string
	}

	ForwardReferenceError struct {
		Type  string
		Field string
		Name  string
		Line  int
	}

	AssertionIncompatibleError struct {
		Type  string
		Field string
		Msg   string
		Line  int
	}

	EnumValueError struct {
		Enum    string
		Variant string
		Value   int64
	}

	UnsupportedExpressionError struct {
		Type  string
		Field string
		Expr  expr.Expr
		Msg   string
		Line  int
	}

	Errors []error
)

func (e *UnresolvedTypeError) Error() string {
	return fmt.Sprintf("%d: struct %s: field %s: unresolved type %q", e.Line, e.Type, e.Field, e.Name)
}

func (e *CircularTypeError) Error() string {
	return fmt.Sprintf("circular type dependency: %s", strings.Join(e.Types, ", "))
}

func (e *ForwardReferenceError) Error() string {
	return fmt.Sprintf("%d: struct %s: field %s: %q is not defined earlier in the struct", e.Line, e.Type, e.Field, e.Name)
}

func (e *AssertionIncompatibleError) Error() string {
	return fmt.Sprintf("%d: struct %s: field %s: assertion incompatible: %s", e.Line, e.Type, e.Field, e.Msg)
}

func (e *EnumValueError) Error() string {
	return fmt.Sprintf("enum %s: variant %s value %d does not fit the underlying width", e.Enum, e.Variant, e.Value)
}

func (e *UnsupportedExpressionError) Error() string {
	return fmt.Sprintf("%d: struct %s: field %s: unsupported expression %q: %s", e.Line, e.Type, e.Field, e.Expr, e.Msg)
}

func (e Errors) Error() string {
	l := make([]string, len(e))

	for i, err := range e {
		l[i] = err.Error()
	}

	return strings.Join(l, "\n")
}

// Analyze runs all passes over the unit.
func Analyze(ctx context.Context, f *hir.Format) error {
	var errs Errors

	index := map[string]hir.TypeDef{}

	for _, t := range f.Types {
		index[t.TypeName()] = t
	}

	for _, t := range f.Types {
		if e, ok := t.(*hir.Enum); ok {
			for _, v := range e.Variants {
				if !fits(v.Value, e.Width, e.Signed) {
					errs = append(errs, &EnumValueError{Enum: e.Name, Variant: v.Name, Value: v.Value})
				}
			}
		}

		s, ok := t.(*hir.Struct)
		if !ok {
			continue
		}

		if err := resolveStruct(s, index); err != nil {
			errs = append(errs, err)
			continue
		}

		if err := checkStruct(s); err != nil {
			errs = append(errs, err)
			continue
		}

		resolveEndian(s, f.Endian)
		groupRegions(s)
	}

	if err := order(f); err != nil {
		errs = append(errs, err)
	}

	tlog.SpanFromContext(ctx).Printw("analyzed unit", "name", f.Name, "types", len(f.Types), "errors", len(errs))

	if len(errs) != 0 {
		return errs
	}

	return nil
}

func resolveStruct(s *hir.Struct, index map[string]hir.TypeDef) error {
	for _, fld := range s.Fields {
		if fld.Kind == nil {
			continue
		}

		k, err := resolveKind(fld.Kind, s, fld, index)
		if err != nil {
			return err
		}

		fld.Kind = k
	}

	return nil
}

func resolveKind(k hir.Kind, s *hir.Struct, fld *hir.Field, index map[string]hir.TypeDef) (hir.Kind, error) {
	switch k := k.(type) {
	case hir.Ref:
		def, ok := index[k.Name]
		if !ok {
			return nil, &UnresolvedTypeError{Type: s.Name, Field: fld.Name, Name: k.Name, Line: fld.Line}
		}

		return hir.Ref{Name: k.Name, Def: def}, nil
	case hir.FixedArray:
		elem, err := resolveKind(k.Elem, s, fld, index)
		if err != nil {
			return nil, err
		}

		return hir.FixedArray{Elem: elem, N: k.N}, nil
	case hir.DynArray:
		elem, err := resolveKind(k.Elem, s, fld, index)
		if err != nil {
			return nil, err
		}

		return hir.DynArray{Elem: elem, LenField: k.LenField}, nil
	case hir.UntilArray:
		elem, err := resolveKind(k.Elem, s, fld, index)
		if err != nil {
			return nil, err
		}

		return hir.UntilArray{Elem: elem, Pred: k.Pred}, nil
	default:
		return k, nil
	}
}

// order computes a topological order over the unit's types, schema order
// breaking ties. A struct depends on every type it composes. The only
// tolerated self reference is through an until array of the struct itself;
// that edge is dropped, which orders the degenerate cycle by keeping the
// self referent type wherever its other dependencies place it.
func order(f *hir.Format) error {
	deps := make([][]string, len(f.Types))
	pos := map[string]int{}

	for i, t := range f.Types {
		pos[t.TypeName()] = i
	}

	for i, t := range f.Types {
		s, ok := t.(*hir.Struct)
		if !ok {
			continue
		}

		seen := map[string]bool{}

		for _, fld := range s.Fields {
			if fld.Kind == nil {
				continue
			}

			name, until := refName(fld.Kind)
			if name == "" || seen[name] {
				continue
			}

			if name == s.Name {
				if until {
					continue // until-self, tolerated
				}

				return &CircularTypeError{Types: []string{s.Name}}
			}

			if _, ok := pos[name]; !ok {
				continue // reported by resolve already
			}

			seen[name] = true
			deps[i] = append(deps[i], name)
		}
	}

	indeg := make([]int, len(f.Types))
	rdeps := map[string][]int{}

	for i, dd := range deps {
		indeg[i] = len(dd)

		for _, d := range dd {
			rdeps[d] = append(rdeps[d], i)
		}
	}

	done := make([]bool, len(f.Types))
	sorted := make([]hir.TypeDef, 0, len(f.Types))

	for len(sorted) < len(f.Types) {
		picked := -1

		for i := range f.Types {
			if !done[i] && indeg[i] == 0 {
				picked = i
				break
			}
		}

		if picked < 0 {
			var left []string

			for i, t := range f.Types {
				if !done[i] {
					left = append(left, t.TypeName())
				}
			}

			return &CircularTypeError{Types: left}
		}

		done[picked] = true
		sorted = append(sorted, f.Types[picked])

		for _, j := range rdeps[f.Types[picked].TypeName()] {
			indeg[j]--
		}
	}

	f.Types = sorted

	return nil
}

// refName returns the name of the type a field kind composes, if any,
// and whether the composition goes through an until array.
func refName(k hir.Kind) (name string, until bool) {
	switch k := k.(type) {
	case hir.Ref:
		return k.Name, false
	case hir.UntilArray:
		n, _ := refName(k.Elem)
		return n, true
	case hir.FixedArray:
		return refName(k.Elem)
	case hir.DynArray:
		return refName(k.Elem)
	default:
		return "", false
	}
}

// checkStruct enforces the forward reference rule, validates expression
// shapes and types assertions, walking fields in declaration order.
func checkStruct(s *hir.Struct) error {
	defined := map[string]*hir.Field{}

	for _, fld := range s.Fields {
		if fld.Gate != nil {
			if err := checkGated(s, fld); err != nil {
				return err
			}

			if err := checkGateExpr(s, fld, fld.Gate, defined); err != nil {
				return err
			}
		}

		if err := checkKindRefs(s, fld, defined); err != nil {
			return err
		}

		if fld.Skip != "" {
			if err := requireScalar(s, fld, fld.Skip, defined); err != nil {
				return err
			}
		}

		if fld.Assert != nil {
			if err := checkAssert(s, fld); err != nil {
				return err
			}
		}

		defined[fld.Name] = fld
	}

	return nil
}

// checkGated limits gates to kinds whose optional form reads and writes
// through plain assignment. Bit packed fields would desync the bit region
// between the two directions, and array slots are filled elementwise.
func checkGated(s *hir.Struct, fld *hir.Field) error {
	unsup := func(msg string) error {
		return &UnsupportedExpressionError{Type: s.Name, Field: fld.Name, Expr: fld.Gate, Msg: msg, Line: fld.Line}
	}

	switch fld.Kind.(type) {
	case nil:
		return unsup("a gate requires a field with a type")
	case hir.Bits:
		return unsup("bit packed fields cannot be gated")
	case hir.FixedArray, hir.DynArray, hir.UntilArray:
		return unsup("array fields cannot be gated")
	default:
		return nil
	}
}

func checkKindRefs(s *hir.Struct, fld *hir.Field, defined map[string]*hir.Field) error {
	switch k := fld.Kind.(type) {
	case hir.DynArray:
		return requireScalar(s, fld, k.LenField, defined)
	case hir.String:
		if k.LenField != "" {
			return requireScalar(s, fld, k.LenField, defined)
		}
	case hir.Blob:
		return requireScalar(s, fld, k.SizeField, defined)
	case hir.UntilArray:
		if k.Pred != nil {
			return checkUntilExpr(s, fld, k, k.Pred, defined)
		}
	}

	return nil
}

func requireScalar(s *hir.Struct, fld *hir.Field, name string, defined map[string]*hir.Field) error {
	ref, ok := defined[name]
	if !ok {
		return &ForwardReferenceError{Type: s.Name, Field: fld.Name, Name: name, Line: fld.Line}
	}

	switch ref.Kind.(type) {
	case hir.Scalar, hir.Bits:
		return nil
	default:
		return &UnsupportedExpressionError{
			Type: s.Name, Field: fld.Name, Expr: expr.Ident(name), Line: fld.Line,
			Msg: "length and size operands must be integer fields",
		}
	}
}

// checkGateExpr admits comparisons, logical and arithmetic operators over
// integer literals and previously defined scalar fields.
func checkGateExpr(s *hir.Struct, fld *hir.Field, x expr.Expr, defined map[string]*hir.Field) error {
	unsup := func(msg string) error {
		return &UnsupportedExpressionError{Type: s.Name, Field: fld.Name, Expr: x, Msg: msg, Line: fld.Line}
	}

	switch x := x.(type) {
	case expr.Ident:
		if _, ok := defined[string(x)]; !ok {
			return &ForwardReferenceError{Type: s.Name, Field: fld.Name, Name: string(x), Line: fld.Line}
		}

		return requireScalar(s, fld, string(x), defined)
	case expr.Int:
		return nil
	case expr.Binary:
		if err := checkGateExpr(s, fld, x.Left, defined); err != nil {
			return err
		}

		return checkGateExpr(s, fld, x.Right, defined)
	case expr.Not:
		return checkGateExpr(s, fld, x.X, defined)
	case expr.EOF:
		return unsup("eof is only valid in until predicates")
	case expr.Str, expr.Bytes:
		return unsup("byte and string literals are only valid in until predicates")
	default:
		return unsup("member and index access are only valid in until predicates")
	}
}

// checkUntilExpr admits predicates over the element just read: members of
// <array>[-1] (or self[-1]), eof, literals, comparisons and logic.
func checkUntilExpr(s *hir.Struct, fld *hir.Field, k hir.UntilArray, x expr.Expr, defined map[string]*hir.Field) error {
	unsup := func(msg string) error {
		return &UnsupportedExpressionError{Type: s.Name, Field: fld.Name, Expr: x, Msg: msg, Line: fld.Line}
	}

	switch x := x.(type) {
	case expr.Int, expr.Str, expr.Bytes, expr.EOF:
		return nil
	case expr.Binary:
		if err := checkUntilExpr(s, fld, k, x.Left, defined); err != nil {
			return err
		}

		return checkUntilExpr(s, fld, k, x.Right, defined)
	case expr.Not:
		return checkUntilExpr(s, fld, k, x.X, defined)
	case expr.Member:
		idx, ok := x.X.(expr.Index)
		if !ok {
			return unsup("member access must go through the last element, as in name[-1].field")
		}

		root, ok := idx.X.(expr.Ident)
		if !ok || !idx.Neg || idx.Val != 1 {
			return unsup("only the [-1] element can be referenced")
		}

		if string(root) != fld.Name && string(root) != "self" {
			return unsup("the predicate may only inspect the array being read")
		}

		elem, ok := k.Elem.(hir.Ref)
		if !ok {
			return unsup("member access requires a struct element")
		}

		es, ok := elem.Def.(*hir.Struct)
		if !ok {
			return unsup("member access requires a struct element")
		}

		if fieldByName(es, x.Name) == nil {
			return &UnresolvedTypeError{Type: s.Name, Field: fld.Name, Name: x.Name, Line: fld.Line}
		}

		return nil
	case expr.Index:
		root, ok := x.X.(expr.Ident)
		if !ok || !x.Neg || x.Val != 1 || string(root) != fld.Name && string(root) != "self" {
			return unsup("only the [-1] element can be referenced")
		}

		if _, ok := k.Elem.(hir.Scalar); !ok {
			return unsup("a bare [-1] requires a scalar element")
		}

		return nil
	case expr.Ident:
		if _, ok := defined[string(x)]; ok {
			return requireScalar(s, fld, string(x), defined)
		}

		return &ForwardReferenceError{Type: s.Name, Field: fld.Name, Name: string(x), Line: fld.Line}
	default:
		return unsup("form not supported")
	}
}

func fieldByName(s *hir.Struct, name string) *hir.Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}

	return nil
}

// resolveEndian materializes the effective endianness on every field.
// Field override wins, the unit default applies otherwise. Native is kept
// as is and resolved by the emitted code at its own compile time.
func resolveEndian(s *hir.Struct, unit hir.Endian) {
	for _, fld := range s.Fields {
		if fld.Endian != hir.EndianUnset {
			fld.Eff = fld.Endian
		} else {
			fld.Eff = unit
		}
	}
}

func groupRegions(s *hir.Struct) {
	s.Regions = s.Regions[:0]

	start := -1

	for i, fld := range s.Fields {
		_, isBits := fld.Kind.(hir.Bits)

		switch {
		case isBits && start < 0:
			start = i
		case !isBits && start >= 0:
			s.Regions = append(s.Regions, hir.Region{Start: start, End: i})
			start = -1
		}
	}

	if start >= 0 {
		s.Regions = append(s.Regions, hir.Region{Start: start, End: len(s.Fields)})
	}
}

func checkAssert(s *hir.Struct, fld *hir.Field) error {
	a := fld.Assert

	bad := func(format string, args ...any) error {
		return &AssertionIncompatibleError{Type: s.Name, Field: fld.Name, Msg: fmt.Sprintf(format, args...), Line: fld.Line}
	}

	if a.Op == hir.AssertEqualsBytes {
		n, ok := byteArrayLen(fld.Kind)
		if !ok {
			return bad("byte list asserts require a fixed u8 array or fixed string field")
		}

		if n != len(a.Bytes) {
			return bad("byte list length %d does not match field length %d", len(a.Bytes), n)
		}

		return nil
	}

	width, signed, ok := numericKind(fld.Kind)
	if !ok {
		return bad("numeric asserts require an integer field")
	}

	check := func(v int64) error {
		if !fits(v, width, signed) {
			return bad("literal %d does not fit %s%d", v, signChar(signed), width)
		}

		return nil
	}

	switch a.Op {
	case hir.AssertEquals, hir.AssertNotEquals:
		return check(a.Value)
	case hir.AssertInRange:
		if a.Min > a.Max {
			return bad("range [%d, %d] is empty", a.Min, a.Max)
		}

		if err := check(a.Min); err != nil {
			return err
		}

		return check(a.Max)
	case hir.AssertIn:
		for _, v := range a.Set {
			if err := check(v); err != nil {
				return err
			}
		}

		return nil
	}

	return nil
}

func byteArrayLen(k hir.Kind) (int, bool) {
	switch k := k.(type) {
	case hir.FixedArray:
		if e, ok := k.Elem.(hir.Scalar); ok && e.Width == 8 && !e.Signed {
			return k.N, true
		}
	case hir.String:
		if k.N > 0 {
			return k.N, true
		}
	}

	return 0, false
}

// numericKind reports the integer width and signedness a field carries,
// enum references included.
func numericKind(k hir.Kind) (width int, signed, ok bool) {
	switch k := k.(type) {
	case hir.Scalar:
		return k.Width, k.Signed, true
	case hir.Bits:
		return k.Width, k.Signed, true
	case hir.Ref:
		if e, ok := k.Def.(*hir.Enum); ok {
			return e.Width, e.Signed, true
		}
	}

	return 0, false, false
}

func fits(v int64, width int, signed bool) bool {
	if width >= 64 {
		return true
	}

	if signed {
		lim := int64(1) << (width - 1)
		return v >= -lim && v < lim
	}

	return v >= 0 && v < int64(1)<<width
}

func signChar(signed bool) string {
	if signed {
		return "i"
	}

	return "u"
}
