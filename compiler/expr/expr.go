package expr

import (
	"fmt"
	"strings"
)

type (
	// Expr is a node of a gate, until or length expression.
	Expr interface {
		String() string
	}

	Ident string

	Int int64

	Str string

	Bytes []byte

	// EOF is the reader-exhausted pseudo value.
	EOF struct{}

	// Index is a postfix subscript. Only constant indexes are allowed,
	// negative ones count from the end.
	Index struct {
		X   Expr
		Neg bool
		Val int
	}

	// Member is a postfix field access.
	Member struct {
		X    Expr
		Name string
	}

	Binary struct {
		Op    Op
		Left  Expr
		Right Expr
	}

	Not struct {
		X Expr
	}

	Op int
)

const (
	OpOr Op = iota
	OpAnd
	OpEq
	OpNE
	OpLT
	OpGT
	OpLE
	OpGE
	OpBitOr
	OpBitXor
	OpBitAnd
	OpShl
	OpShr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

var opNames = map[Op]string{
	OpOr:     "OR",
	OpAnd:    "AND",
	OpEq:     "equals",
	OpNE:     "not-equals",
	OpLT:     "less-than",
	OpGT:     "greater-than",
	OpLE:     "less-equal",
	OpGE:     "greater-equal",
	OpBitOr:  "|",
	OpBitXor: "^",
	OpBitAnd: "&",
	OpShl:    "<<",
	OpShr:    ">>",
	OpAdd:    "+",
	OpSub:    "-",
	OpMul:    "*",
	OpDiv:    "/",
	OpMod:    "%",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}

	panic(fmt.Sprintf("invalid op %d", int(op)))
}

func (x Ident) String() string { return string(x) }
func (x Int) String() string   { return fmt.Sprintf("%d", int64(x)) }
func (x Str) String() string   { return "'" + string(x) + "'" }
func (x EOF) String() string   { return "eof" }
func (x Not) String() string   { return "NOT " + x.X.String() }

func (x Bytes) String() string {
	l := make([]string, len(x))

	for i, b := range x {
		l[i] = fmt.Sprintf("%d", b)
	}

	return "[" + strings.Join(l, ", ") + "]"
}

func (x Index) String() string {
	if x.Neg {
		return fmt.Sprintf("%s[-%d]", x.X, x.Val)
	}

	return fmt.Sprintf("%s[%d]", x.X, x.Val)
}

func (x Member) String() string {
	return x.X.String() + "." + x.Name
}

func (x Binary) String() string {
	return fmt.Sprintf("%s %s %s", x.Left, x.Op, x.Right)
}

// Idents reports every plain identifier the expression references,
// the root of each member/index chain included.
func Idents(x Expr) []string {
	var l []string

	walk(x, func(x Expr) {
		if id, ok := x.(Ident); ok {
			l = append(l, string(id))
		}
	})

	return l
}

func walk(x Expr, f func(Expr)) {
	f(x)

	switch x := x.(type) {
	case Index:
		walk(x.X, f)
	case Member:
		walk(x.X, f)
	case Binary:
		walk(x.Left, f)
		walk(x.Right, f)
	case Not:
		walk(x.X, f)
	}
}
