package lower

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirelang/wirec/compiler/analyze"
	"github.com/wirelang/wirec/compiler/front"
	"github.com/wirelang/wirec/compiler/hir"
	"github.com/wirelang/wirec/compiler/lir"
	"github.com/wirelang/wirec/compiler/schema"
)

func lowered(t *testing.T, text string) *lir.Unit {
	t.Helper()

	ctx := context.Background()

	doc, err := schema.Parse(strings.NewReader(text))
	require.NoError(t, err)

	f, err := front.Parse(ctx, doc)
	require.NoError(t, err)

	err = analyze.Analyze(ctx, f)
	require.NoError(t, err)

	u, err := Lower(ctx, f)
	require.NoError(t, err)

	return u
}

func TestScalarPlans(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: Header
    type: struct
    fields:
      - name: magic
        type: u32
      - name: version
        type: u16
        endianness: big
`)

	tt := u.Types[0]

	require.Len(t, tt.Read, 2)
	require.Len(t, tt.Write, 2)

	r0 := tt.Read[0].(lir.ReadScalar)
	assert.Equal(t, 32, r0.Width)
	assert.Equal(t, hir.Little, r0.Endian)
	assert.Equal(t, "magic", r0.Field)

	r1 := tt.Read[1].(lir.ReadScalar)
	assert.Equal(t, hir.Big, r1.Endian)

	w0 := tt.Write[0].(lir.WriteScalar)
	assert.Equal(t, r0.Dest, w0.Src)
	assert.Equal(t, r0.Endian, w0.Endian)

	w1 := tt.Write[1].(lir.WriteScalar)
	assert.Equal(t, hir.Big, w1.Endian)
}

// The two plans traverse the same fields in the same order; this checks
// the mirrored op pairing for a mixed struct.
func TestPlanSymmetry(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: Mixed
    type: struct
    fields:
      - name: len
        type: u8
      - name: data
        type: u8[len]
      - name: a
        type: u2
      - name: b
        type: u6
      - name: tail
        type: u16
`)

	tt := u.Types[0]

	readKinds := opKinds(tt.Read)
	writeKinds := opKinds(tt.Write)

	assert.Equal(t, []string{
		"ReadScalar",
		"BeginRepeatDynamic", "ReadScalar", "EndRepeat",
		"OpenBitRegion", "ReadBits", "ReadBits", "CloseBitRegionRead",
		"ReadScalar",
	}, readKinds)

	assert.Equal(t, []string{
		"WriteScalar",
		"BeginRepeatDynamic", "WriteScalar", "EndRepeat",
		"OpenBitRegion", "WriteBits", "WriteBits", "CloseBitRegionWrite",
		"WriteScalar",
	}, writeKinds)
}

func opKinds(ops []lir.Op) []string {
	l := make([]string, len(ops))

	for i, op := range ops {
		l[i] = strings.TrimPrefix(fmt.Sprintf("%T", op), "lir.")
	}

	return l
}

func TestDynamicArrayCountVar(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: count
        type: u8
      - name: items
        type: u32[count]
`)

	tt := u.Types[0]

	countVar := tt.Read[0].(lir.ReadScalar).Dest
	begin := tt.Read[1].(lir.BeginRepeatDynamic)
	assert.Equal(t, countVar, begin.Count)
}

func TestGateLowering(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: version
        type: u16
      - name: legacy
        type: u32
        if: version less-than 2
`)

	tt := u.Types[0]

	assert.Equal(t, []string{"ReadScalar", "BeginIf", "ReadScalar", "EndIf"}, opKinds(tt.Read))
	assert.Equal(t, []string{"WriteScalar", "BeginIf", "RequireSome", "WriteScalar", "EndIf"}, opKinds(tt.Write))

	begin := tt.Read[1].(lir.BeginIf)
	bin, ok := begin.Cond.(lir.Bin)
	require.True(t, ok, "got %T", begin.Cond)
	assert.Equal(t, lir.LT, bin.Op)
	assert.Equal(t, lir.Load{Var: tt.Read[0].(lir.ReadScalar).Dest}, bin.Left)
	assert.Equal(t, lir.IntLit(2), bin.Right)

	// the gated slot is an optional in the value type
	assert.True(t, tt.Fields[1].Type.Optional)
}

// String and integer packed literals lower to the same byte array form.
func TestUntilCanonicalization(t *testing.T) {
	text := `
name: g
types:
  - name: Chunk
    type: struct
    fields:
      - name: size
        type: u32
      - name: chunk_type
        type: u8[4]
  - name: File
    type: struct
    fields:
      - name: chunks
        type: Chunk[]
        until: %s
`

	want := lir.BytesLit{0x49, 0x45, 0x4E, 0x44}

	for _, until := range []string{
		"chunks[-1].chunk_type equals 'IEND'",
		"chunks[-1].chunk_type equals 0x49454E44",
		"chunks[-1].chunk_type equals [73, 69, 78, 68]",
	} {
		u := lowered(t, strings.Replace(text, "%s", until, 1))

		var file *lir.Type

		for _, tt := range u.Types {
			if tt.Name == "File" {
				file = tt
			}
		}

		require.NotNil(t, file)

		begin := file.Read[0].(lir.BeginRepeatUntil)
		bin := begin.Pred.(lir.Bin)

		assert.Equal(t, lir.LastElem{Field: "chunk_type"}, bin.Left, "until %q", until)
		assert.Equal(t, want, bin.Right, "until %q", until)
	}
}

func TestUntilEOF(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: bytes
        type: u8[]
        until: eof
`)

	tt := u.Types[0]
	assert.Equal(t, []string{"BeginRepeatEOF", "ReadScalar", "EndRepeat"}, opKinds(tt.Read))
}

func TestDirectives(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: a
        type: u8
        padding: 2
      - name: b
        type: u8
        align: 4
      - name: n
        type: u8
      - name: c
        type: u8
        skip: n
`)

	tt := u.Types[0]

	var sawSkipFixed, sawAlignRead, sawSkipVar bool

	for _, op := range tt.Read {
		switch op := op.(type) {
		case lir.SkipFixed:
			sawSkipFixed = true
			assert.Equal(t, 2, op.N)
		case lir.AlignRead:
			sawAlignRead = true
			assert.Equal(t, 4, op.N)
		case lir.SkipVar:
			sawSkipVar = true
		}
	}

	assert.True(t, sawSkipFixed)
	assert.True(t, sawAlignRead)
	assert.True(t, sawSkipVar)

	var sawPadding, sawAlignWrite, sawWriteSkipVar bool

	for _, op := range tt.Write {
		switch op := op.(type) {
		case lir.WritePadding:
			sawPadding = true
			assert.Equal(t, 2, op.N)
		case lir.AlignWrite:
			sawAlignWrite = true
		case lir.SkipVar:
			sawWriteSkipVar = true
		}
	}

	assert.True(t, sawPadding)
	assert.True(t, sawAlignWrite)
	assert.True(t, sawWriteSkipVar)
}

func TestAssertAfterRead(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: magic
        type: u32
        assert: { equals: 0x04034B50 }
`)

	tt := u.Types[0]
	require.Len(t, tt.Read, 2)

	a := tt.Read[1].(lir.AssertEqualsInt)
	assert.Equal(t, int64(0x04034B50), a.Value)
	assert.Equal(t, "magic", a.Field)

	// the write plan carries the value as is
	require.Len(t, tt.Write, 1)
}

func TestEnumLowering(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: Color
    type: enum
    underlying: u8
    variants:
      red: 0
      green: 1
  - name: A
    type: struct
    fields:
      - name: color
        type: Color
`)

	require.Len(t, u.Enums, 1)

	tt := u.Types[0]
	r := tt.Read[0].(lir.ReadScalar)
	assert.Equal(t, "Color", r.Enum)
	assert.Equal(t, 8, r.Width)
}

func TestStructRefLowering(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: Inner
    type: struct
    fields:
      - name: x
        type: u8
  - name: Outer
    type: struct
    fields:
      - name: inner
        type: Inner
`)

	var outer *lir.Type

	for _, tt := range u.Types {
		if tt.Name == "Outer" {
			outer = tt
		}
	}

	require.NotNil(t, outer)

	r := outer.Read[0].(lir.CallRead)
	assert.Equal(t, "Inner", r.Type)

	w := outer.Write[0].(lir.CallWrite)
	assert.Equal(t, "Inner", w.Type)
}

func TestStringLowering(t *testing.T) {
	u := lowered(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: n
        type: u8
      - name: fixed
        type: str[4]
      - name: pref
        type: str(n)
      - name: z
        type: cstr
      - name: raw
        type: blob(n)
`)

	tt := u.Types[0]

	var fixed, pref, z, raw bool

	for _, op := range tt.Read {
		switch op := op.(type) {
		case lir.ReadBytesFixed:
			fixed = true
			assert.Equal(t, 4, op.N)
		case lir.ReadBytesDynamic:
			if op.Field == "pref" {
				pref = true
			}
			if op.Field == "raw" {
				raw = true
			}
		case lir.ReadBytesUntilZero:
			z = true
		}
	}

	assert.True(t, fixed)
	assert.True(t, pref)
	assert.True(t, z)
	assert.True(t, raw)
}
