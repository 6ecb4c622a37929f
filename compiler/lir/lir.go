package lir

import (
	"github.com/wirelang/wirec/compiler/hir"
)

// Flat operation streams. Each op is a tagged value with typed operands;
// backends dispatch on the Go type. Every operand is a literal, a register
// defined earlier in the same plan, or the name of another type of the
// unit. No state flows between struct codecs.
type (
	Var int

	Unit struct {
		Name     string
		Version  string
		BitOrder hir.BitOrder
		Enums    []*hir.Enum
		Types    []*Type
	}

	// Type is one struct codec: the value type fields in declaration
	// order plus the mirrored read and write plans.
	Type struct {
		Name   string
		Doc    string
		Fields []Field
		Read   []Op
		Write  []Op
	}

	Field struct {
		Name string
		Doc  string
		Var  Var
		Type ValueType
	}

	// ValueType describes the field slot in the generated data model.
	ValueType struct {
		Kind     TypeKind
		Width    int
		Signed   bool
		N        int
		Name     string // struct or enum name
		Elem     *ValueType
		Optional bool
	}

	TypeKind int

	Op interface{}

	// Expr is a lowered condition tree. Operands reference registers of
	// the same plan or the last element of the repeat being closed.
	Expr interface{}

	Load struct {
		Var Var
	}

	// LastElem reads a field of the element just appended by the
	// enclosing repeat, or the element itself when Field is empty.
	LastElem struct {
		Field string
	}

	IntLit int64

	BytesLit []byte

	// Remaining is true while the reader has bytes left.
	Remaining struct{}

	Bin struct {
		Op    BinOp
		Left  Expr
		Right Expr
	}

	Not struct {
		X Expr
	}

	BinOp int
)

const (
	KindScalar TypeKind = iota
	KindBits
	KindEnum
	KindStruct
	KindString
	KindBytes
	KindFixedArray
	KindVector
)

const (
	Eq BinOp = iota
	NE
	LT
	GT
	LE
	GE
	And
	Or
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
	Add
	Sub
	Mul
	Div
	Mod
)

// Scalar and byte stream operations.
type (
	ReadScalar struct {
		Dest   Var
		Width  int
		Signed bool
		Endian hir.Endian
		Enum   string // cast target, empty for plain integers
		Field  string // name used in failure messages
	}

	WriteScalar struct {
		Src    Var
		Width  int
		Signed bool
		Endian hir.Endian
		Enum   string
	}

	ReadBytesFixed struct {
		Dest  Var
		N     int
		Field string
	}

	ReadBytesDynamic struct {
		Dest  Var
		Len   Var
		Field string
	}

	ReadBytesUntilZero struct {
		Dest  Var
		Field string
	}

	// DecodeUTF8 reinterprets a byte register as text in place.
	DecodeUTF8 struct {
		Var Var
	}

	WriteStringFixed struct {
		Src Var
		N   int
	}

	WriteString struct {
		Src Var
	}

	// WriteStringZero writes the bytes plus a trailing zero.
	WriteStringZero struct {
		Src Var
	}

	WriteBytes struct {
		Src Var
	}
)

// Bit region operations. A region opens on a byte boundary; the close op
// discards (read) or zero pads (write) the trailing partial byte.
type (
	OpenBitRegion struct {
		Order hir.BitOrder
	}

	CloseBitRegionRead struct{}

	CloseBitRegionWrite struct{}

	ReadBits struct {
		Dest   Var
		Width  int
		Signed bool
		Field  string
	}

	WriteBits struct {
		Src   Var
		Width int
	}
)

// Position operations.
type (
	SkipFixed struct {
		N     int
		Field string
	}

	SkipVar struct {
		Amount Var
		Field  string
	}

	WritePadding struct {
		N int
	}

	AlignRead struct {
		N     int
		Field string
	}

	AlignWrite struct {
		N int
	}
)

// Assertions name the field so failures can cite it.
type (
	AssertEqualsInt struct {
		Var   Var
		Value int64
		Field string
	}

	AssertEqualsBytes struct {
		Var   Var
		Value []byte
		Field string
	}

	AssertNotEqualsInt struct {
		Var   Var
		Value int64
		Field string
	}

	AssertRange struct {
		Var      Var
		Min, Max int64
		Field    string
	}

	AssertIn struct {
		Var    Var
		Values []int64
		Field  string
	}
)

// Control operations.
type (
	// BeginIf opens a conditional block. In the read plan Dest is an
	// optional slot initialized empty and populated by the body. In the
	// write plan the body must require the optional to be populated.
	BeginIf struct {
		Cond Expr
		Dest Var
	}

	EndIf struct{}

	// RequireSome fails the write when a true gate meets an empty
	// optional.
	RequireSome struct {
		Var   Var
		Field string
	}

	BeginRepeatFixed struct {
		Dest  Var
		Count int
	}

	BeginRepeatDynamic struct {
		Dest  Var
		Count Var
	}

	BeginRepeatEOF struct {
		Dest Var
	}

	// BeginRepeatUntil repeats the body and stops after the element for
	// which Pred holds. The write plan walks all carried elements.
	BeginRepeatUntil struct {
		Dest Var
		Pred Expr
	}

	EndRepeat struct{}

	CallRead struct {
		Dest Var
		Type string
	}

	CallWrite struct {
		Src  Var
		Type string
	}
)
