package front

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirelang/wirec/compiler/expr"
	"github.com/wirelang/wirec/compiler/hir"
	"github.com/wirelang/wirec/compiler/schema"
)

func parse(t *testing.T, text string) (*hir.Format, error) {
	t.Helper()

	doc, err := schema.Parse(strings.NewReader(text))
	require.NoError(t, err)

	return Parse(context.Background(), doc)
}

func TestParseKinds(t *testing.T) {
	f, err := parse(t, `
name: zoo
endianness: big
bit_order: lsb
types:
  - name: Entry
    type: struct
    fields:
      - name: tag
        type: u8
      - name: count
        type: u16
      - name: flag
        type: u3
      - name: sflag
        type: i5
      - name: fixed
        type: u8[4]
      - name: dyn
        type: u32[count]
      - name: open
        type: u8[]
        until: eof
      - name: name_len
        type: u8
      - name: title
        type: str[8]
      - name: label
        type: str(name_len)
      - name: comment
        type: cstr
      - name: payload
        type: blob(count)
`)
	require.NoError(t, err)

	assert.Equal(t, hir.Big, f.Endian)
	assert.Equal(t, hir.LSBFirst, f.BitOrder)

	s := f.Types[0].(*hir.Struct)
	kinds := map[string]hir.Kind{}

	for _, fld := range s.Fields {
		kinds[fld.Name] = fld.Kind
	}

	assert.Equal(t, hir.Scalar{Width: 8}, kinds["tag"])
	assert.Equal(t, hir.Scalar{Width: 16}, kinds["count"])
	assert.Equal(t, hir.Bits{Width: 3}, kinds["flag"])
	assert.Equal(t, hir.Bits{Width: 5, Signed: true}, kinds["sflag"])
	assert.Equal(t, hir.FixedArray{Elem: hir.Scalar{Width: 8}, N: 4}, kinds["fixed"])
	assert.Equal(t, hir.DynArray{Elem: hir.Scalar{Width: 32}, LenField: "count"}, kinds["dyn"])
	assert.Equal(t, hir.UntilArray{Elem: hir.Scalar{Width: 8}}, kinds["open"])
	assert.Equal(t, hir.String{N: 8}, kinds["title"])
	assert.Equal(t, hir.String{LenField: "name_len"}, kinds["label"])
	assert.Equal(t, hir.String{Null: true}, kinds["comment"])
	assert.Equal(t, hir.Blob{SizeField: "count"}, kinds["payload"])
}

func TestParseGateAndAssert(t *testing.T) {
	f, err := parse(t, `
name: g
types:
  - name: Header
    type: struct
    fields:
      - name: magic
        type: u32
        assert: { equals: 0x04034B50 }
      - name: version
        type: u16
      - name: legacy
        type: u32
        if: version less-than 2
      - name: window
        type: u8
        assert: { in-range: [1, 9] }
`)
	require.NoError(t, err)

	s := f.Types[0].(*hir.Struct)

	require.NotNil(t, s.Fields[0].Assert)
	assert.Equal(t, hir.AssertEquals, s.Fields[0].Assert.Op)
	assert.Equal(t, int64(0x04034B50), s.Fields[0].Assert.Value)

	require.NotNil(t, s.Fields[2].Gate)
	b, ok := s.Fields[2].Gate.(expr.Binary)
	require.True(t, ok)
	assert.Equal(t, expr.OpLT, b.Op)

	require.NotNil(t, s.Fields[3].Assert)
	assert.Equal(t, hir.AssertInRange, s.Fields[3].Assert.Op)
	assert.Equal(t, int64(1), s.Fields[3].Assert.Min)
	assert.Equal(t, int64(9), s.Fields[3].Assert.Max)
}

func TestParseByteListAssert(t *testing.T) {
	f, err := parse(t, `
name: g
types:
  - name: Sig
    type: struct
    fields:
      - name: sig
        type: u8[4]
        assert: [137, 80, 78, 71]
`)
	require.NoError(t, err)

	a := f.Types[0].(*hir.Struct).Fields[0].Assert
	require.NotNil(t, a)
	assert.Equal(t, hir.AssertEqualsBytes, a.Op)
	assert.Equal(t, []byte{137, 80, 78, 71}, a.Bytes)
}

func TestParseEnum(t *testing.T) {
	f, err := parse(t, `
name: g
types:
  - name: Compression
    type: enum
    underlying: u8
    variants:
      none: 0
      deflate: 8
`)
	require.NoError(t, err)

	e := f.Types[0].(*hir.Enum)
	assert.Equal(t, 8, e.Width)
	assert.False(t, e.Signed)
	require.Len(t, e.Variants, 2)
	assert.Equal(t, hir.Variant{Name: "none", Value: 0}, e.Variants[0])
}

func TestParseCollectsErrors(t *testing.T) {
	_, err := parse(t, `
name: g
types:
  - name: Bad
    type: struct
    fields:
      - name: a
        type: u9
      - name: a
        type: u8
      - name: b
        type: u8[]
`)
	require.Error(t, err)

	errs, ok := err.(Errors)
	require.True(t, ok, "got %T", err)

	// one run reports the malformed type, the duplicate name and the
	// missing until
	assert.Len(t, errs, 3)
}

func TestParseUntilRequired(t *testing.T) {
	_, err := parse(t, `
name: g
types:
  - name: Bad
    type: struct
    fields:
      - name: a
        type: u8[]
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "until")
}

func TestParseBadEndianness(t *testing.T) {
	_, err := parse(t, `
name: g
endianness: middle
types: []
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "middle")
}

func TestParseDuplicateEnumValue(t *testing.T) {
	_, err := parse(t, `
name: g
types:
  - name: E
    type: enum
    underlying: u8
    variants:
      a: 1
      b: 1
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")
}
