package analyze

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirelang/wirec/compiler/front"
	"github.com/wirelang/wirec/compiler/hir"
	"github.com/wirelang/wirec/compiler/schema"
)

func analyzed(t *testing.T, text string) (*hir.Format, error) {
	t.Helper()

	doc, err := schema.Parse(strings.NewReader(text))
	require.NoError(t, err)

	f, err := front.Parse(context.Background(), doc)
	require.NoError(t, err)

	return f, Analyze(context.Background(), f)
}

func typeNames(f *hir.Format) []string {
	l := make([]string, len(f.Types))

	for i, t := range f.Types {
		l[i] = t.TypeName()
	}

	return l
}

func TestTopologicalOrder(t *testing.T) {
	f, err := analyzed(t, `
name: g
types:
  - name: File
    type: struct
    fields:
      - name: header
        type: Header
      - name: body
        type: Body
  - name: Body
    type: struct
    fields:
      - name: n
        type: u8
      - name: items
        type: Item[n]
  - name: Header
    type: struct
    fields:
      - name: magic
        type: u32
  - name: Item
    type: struct
    fields:
      - name: v
        type: u8
`)
	require.NoError(t, err)

	names := typeNames(f)
	require.ElementsMatch(t, []string{"File", "Body", "Header", "Item"}, names)

	pos := map[string]int{}
	for i, n := range names {
		pos[n] = i
	}

	assert.Less(t, pos["Header"], pos["File"])
	assert.Less(t, pos["Body"], pos["File"])
	assert.Less(t, pos["Item"], pos["Body"])
}

func TestTopologicalOrderStable(t *testing.T) {
	// no dependencies, schema order kept
	f, err := analyzed(t, `
name: g
types:
  - name: B
    type: struct
    fields:
      - name: x
        type: u8
  - name: A
    type: struct
    fields:
      - name: x
        type: u8
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, typeNames(f))
}

func TestCycleDetected(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: b
        type: B
  - name: B
    type: struct
    fields:
      - name: a
        type: A
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular")
}

func TestUntilSelfTolerated(t *testing.T) {
	f, err := analyzed(t, `
name: g
types:
  - name: Node
    type: struct
    fields:
      - name: tag
        type: u8
      - name: children
        type: Node[]
        until: eof
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Node"}, typeNames(f))
}

func TestDirectSelfReferenceRejected(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: Node
    type: struct
    fields:
      - name: next
        type: Node
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular")
}

func TestUnresolvedType(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: b
        type: Missing
`)
	require.Error(t, err)

	var ue *UnresolvedTypeError
	require.ErrorAs(t, err.(Errors)[0], &ue)
	assert.Equal(t, "Missing", ue.Name)
}

func TestForwardReference(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: data
        type: u8[count]
      - name: count
        type: u8
`)
	require.Error(t, err)

	var fe *ForwardReferenceError
	require.ErrorAs(t, err.(Errors)[0], &fe)
	assert.Equal(t, "count", fe.Name)
}

func TestGateForwardReference(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: legacy
        type: u32
        if: version less-than 2
      - name: version
        type: u16
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestEndiannessResolution(t *testing.T) {
	f, err := analyzed(t, `
name: g
endianness: big
types:
  - name: A
    type: struct
    fields:
      - name: a
        type: u32
      - name: b
        type: u32
        endianness: little
      - name: c
        type: u32
        endianness: native
`)
	require.NoError(t, err)

	s := f.Types[0].(*hir.Struct)
	assert.Equal(t, hir.Big, s.Fields[0].Eff)
	assert.Equal(t, hir.Little, s.Fields[1].Eff)
	assert.Equal(t, hir.Native, s.Fields[2].Eff)
}

func TestBitRegions(t *testing.T) {
	f, err := analyzed(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: a
        type: u3
      - name: b
        type: u1
      - name: c
        type: u8
      - name: d
        type: i7
`)
	require.NoError(t, err)

	s := f.Types[0].(*hir.Struct)
	assert.Equal(t, []hir.Region{{Start: 0, End: 2}, {Start: 3, End: 4}}, s.Regions)
}

func TestAssertionTyping(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: small
        type: u8
        assert: { equals: 300 }
`)
	require.Error(t, err)

	var ae *AssertionIncompatibleError
	require.ErrorAs(t, err.(Errors)[0], &ae)
}

func TestByteAssertLengthMismatch(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: sig
        type: u8[4]
        assert: [1, 2, 3]
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length")
}

func TestUntilPredicateChecked(t *testing.T) {
	f, err := analyzed(t, `
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
        until: chunks[-1].chunk_type equals 'IEND'
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Chunk", "File"}, typeNames(f))
}

func TestUntilPredicateUnknownMember(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: Chunk
    type: struct
    fields:
      - name: size
        type: u32
  - name: File
    type: struct
    fields:
      - name: chunks
        type: Chunk[]
        until: chunks[-1].missing equals 0
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestGateStringUnsupported(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: A
    type: struct
    fields:
      - name: v
        type: u8
      - name: x
        type: u8
        if: v equals 'ok'
`)
	require.Error(t, err)

	var ue *UnsupportedExpressionError
	require.ErrorAs(t, err.(Errors)[0], &ue)
}

func TestEnumValueFits(t *testing.T) {
	_, err := analyzed(t, `
name: g
types:
  - name: E
    type: enum
    underlying: u8
    variants:
      big: 300
`)
	require.Error(t, err)

	var ee *EnumValueError
	require.ErrorAs(t, err.(Errors)[0], &ee)
	assert.Equal(t, "big", ee.Variant)
}
