package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `
name: png
version: "1.0"
endianness: big
types:
  - name: Chunk
    type: struct
    doc: one png chunk
    fields:
      - name: length
        type: u32
      - name: chunk_type
        type: u8[4]
        assert: [73, 72, 68, 82]
      - name: data
        type: u8[length]
      - name: crc
        type: u32
        endianness: big
  - name: ColorType
    type: enum
    underlying: u8
    variants:
      grayscale: 0
      truecolor: 2
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "png", f.Name)
	assert.Equal(t, "1.0", f.Version)
	assert.Equal(t, "big", f.Endianness)
	require.Len(t, f.Types, 2)

	chunk := f.Types[0]
	assert.Equal(t, "Chunk", chunk.Name)
	assert.Equal(t, "struct", chunk.Kind)
	assert.Equal(t, "one png chunk", chunk.Doc)
	require.Len(t, chunk.Fields, 4)

	assert.Equal(t, "length", chunk.Fields[0].Name)
	assert.Equal(t, "u32", chunk.Fields[0].Type)
	assert.NotZero(t, chunk.Fields[0].Line)

	require.NotNil(t, chunk.Fields[1].Assert)
	assert.Equal(t, "big", chunk.Fields[3].Endianness)

	enum := f.Types[1]
	assert.Equal(t, "enum", enum.Kind)
	assert.Equal(t, "u8", enum.Underlying)
	require.Len(t, enum.Variants, 2)

	// document order is kept
	assert.Equal(t, "grayscale", enum.Variants[0].Name)
	assert.Equal(t, int64(0), enum.Variants[0].Value)
	assert.Equal(t, "truecolor", enum.Variants[1].Name)
	assert.Equal(t, int64(2), enum.Variants[1].Value)
}

func TestParseUnknownKey(t *testing.T) {
	_, err := Parse(strings.NewReader(`
name: x
types:
  - name: A
    type: struct
    fields:
      - name: f
        type: u8
        sizee: 4
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sizee")
}

func TestParseMissingName(t *testing.T) {
	_, err := Parse(strings.NewReader(`
types: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestParseMissingFieldType(t *testing.T) {
	_, err := Parse(strings.NewReader(`
name: x
types:
  - name: A
    type: struct
    fields:
      - name: f
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type")
}

func TestParseDirectiveOnlyField(t *testing.T) {
	f, err := Parse(strings.NewReader(`
name: x
types:
  - name: A
    type: struct
    fields:
      - name: pad
        padding: 2
`))
	require.NoError(t, err)
	assert.Equal(t, 2, f.Types[0].Fields[0].Padding)
}

func TestParseValueErrorLine(t *testing.T) {
	_, err := Parse(strings.NewReader("name: x\ntypes:\n  - name: A\n    type: struct\n    bogus: 1\n"))
	require.Error(t, err)

	var ve ValueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 5, ve.Line)
}
