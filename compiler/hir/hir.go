package hir

import (
	"github.com/wirelang/wirec/compiler/expr"
)

// The high level representation of a format unit. Built by the front end,
// validated and reordered by the analyzer, consumed read only by lowering.
type (
	Endian int

	BitOrder int

	Format struct {
		Name     string     `yaml:"name"`
		Version  string     `yaml:"version,omitempty"`
		Endian   Endian     `yaml:"endianness"`
		BitOrder BitOrder   `yaml:"bit_order"`
		Types    []TypeDef  `yaml:"types"`
	}

	TypeDef interface {
		TypeName() string
	}

	Struct struct {
		Name   string   `yaml:"name"`
		Doc    string   `yaml:"doc,omitempty"`
		Fields []*Field `yaml:"fields"`

		// Regions is filled by the analyzer: [start, end) field index
		// ranges of contiguous bit packed fields.
		Regions []Region `yaml:"-"`
	}

	Enum struct {
		Name     string    `yaml:"name"`
		Doc      string    `yaml:"doc,omitempty"`
		Width    int       `yaml:"width"`
		Signed   bool      `yaml:"signed"`
		Variants []Variant `yaml:"variants"`
	}

	Variant struct {
		Name  string `yaml:"name"`
		Value int64  `yaml:"value"`
		Doc   string `yaml:"doc,omitempty"`
	}

	Region struct {
		Start, End int
	}

	Field struct {
		Name string `yaml:"name"`
		Doc  string `yaml:"doc,omitempty"`
		Kind Kind   `yaml:"-"`

		Assert *Assert   `yaml:"-"`
		Gate   expr.Expr `yaml:"-"`

		// Post field directives. At most one is set.
		Skip    string `yaml:"skip,omitempty"`
		Padding int    `yaml:"padding,omitempty"`
		Align   int    `yaml:"align,omitempty"`

		// Endian overrides the unit default when not EndianUnset.
		Endian Endian `yaml:"-"`

		// Eff is the effective endianness, materialized by the analyzer
		// on every field that reads or writes multi byte scalars.
		Eff Endian `yaml:"-"`

		// Line is the schema document line the field was declared at.
		Line int `yaml:"-"`
	}

	Kind interface {
		kind()
	}

	// Scalar is a byte sized integer, width in {8, 16, 32, 64}.
	Scalar struct {
		Width  int
		Signed bool
	}

	// Bits is a sub byte integer, width in 1..7. Consecutive Bits fields
	// form one bit region.
	Bits struct {
		Width  int
		Signed bool
	}

	FixedArray struct {
		Elem Kind
		N    int
	}

	DynArray struct {
		Elem     Kind
		LenField string
	}

	// UntilArray repeats Elem until Pred holds for the just read element,
	// or until end of input when Pred is nil.
	UntilArray struct {
		Elem Kind
		Pred expr.Expr
	}

	// Ref names another type of the unit. Def is set by the analyzer.
	Ref struct {
		Name string
		Def  TypeDef
	}

	// String is a byte sequence decoded as text. Exactly one of the
	// length forms applies: fixed N, length drawn from LenField, or
	// null terminated.
	String struct {
		N        int
		LenField string
		Null     bool
	}

	Blob struct {
		SizeField string
	}

	AssertOp int

	Assert struct {
		Op    AssertOp
		Value int64
		Bytes []byte
		Min   int64
		Max   int64
		Set   []int64
	}
)

const (
	EndianUnset Endian = iota
	Little
	Big
	Native
)

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

const (
	AssertEquals AssertOp = iota
	AssertEqualsBytes
	AssertNotEquals
	AssertInRange
	AssertIn
)

func (t *Struct) TypeName() string { return t.Name }
func (t *Enum) TypeName() string   { return t.Name }

func (Scalar) kind()     {}
func (Bits) kind()       {}
func (FixedArray) kind() {}
func (DynArray) kind()   {}
func (UntilArray) kind() {}
func (Ref) kind()        {}
func (String) kind()     {}
func (Blob) kind()       {}

func (e Endian) String() string {
	switch e {
	case Little:
		return "little"
	case Big:
		return "big"
	case Native:
		return "native"
	default:
		return "unset"
	}
}

func (o BitOrder) String() string {
	if o == LSBFirst {
		return "lsb"
	}

	return "msb"
}

// Elem returns the element kind of any array like kind and nil otherwise.
func Elem(k Kind) Kind {
	switch k := k.(type) {
	case FixedArray:
		return k.Elem
	case DynArray:
		return k.Elem
	case UntilArray:
		return k.Elem
	default:
		return nil
	}
}
