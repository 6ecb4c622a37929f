package compiler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const png = `
name: png
version: "1.0"
endianness: big
types:
  - name: ColorType
    type: enum
    underlying: u8
    variants:
      grayscale: 0
      truecolor: 2
  - name: Chunk
    type: struct
    fields:
      - name: length
        type: u32
      - name: chunk_type
        type: u8[4]
      - name: data
        type: u8[length]
      - name: crc
        type: u32
  - name: File
    type: struct
    fields:
      - name: sig
        type: u8[8]
        assert: [137, 80, 78, 71, 13, 10, 26, 10]
      - name: chunks
        type: Chunk[]
        until: chunks[-1].chunk_type equals 'IEND'
`

func TestCompile(t *testing.T) {
	ctx := context.Background()

	file, err := Compile(ctx, "cpp", []byte(png))
	require.NoError(t, err)

	assert.Equal(t, "png.hpp", file.Path)

	got := string(file.Data)
	assert.Contains(t, got, "namespace png {")
	assert.Contains(t, got, "struct Chunk {")
	assert.Contains(t, got, "struct File {")
	assert.Contains(t, got, "enum class ColorType : uint8_t {")

	// dependencies precede their dependents
	assert.Less(t, strings.Index(got, "struct Chunk {"), strings.Index(got, "struct File {"))
}

func TestCompileUnknownBackend(t *testing.T) {
	_, err := Compile(context.Background(), "cobol", []byte(png))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cobol")
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(context.Background(), []byte(png)))
}

func TestValidateBadSchema(t *testing.T) {
	err := Validate(context.Background(), []byte(`
name: bad
types:
  - name: A
    type: struct
    fields:
      - name: data
        type: u8[count]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count")
}

func TestDump(t *testing.T) {
	y, err := Dump(context.Background(), []byte(png))
	require.NoError(t, err)

	s := string(y)
	assert.Contains(t, s, "name: png")
	assert.Contains(t, s, "endianness: big")
	assert.Contains(t, s, "u8[length]")
	assert.Contains(t, s, "kind: enum")
}
