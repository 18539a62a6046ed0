package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	numeric := []string{
		"LATITUDE", "LONGITUDE", "TIV", "BUILDINGTIV",
		"OTHERTIV", "CONTENTSTIV", "BITIV", "LIMIT", "DEDUCTIBLE",
	}
	for _, name := range numeric {
		assert.Equal(t, ColumnTypeFloat32, TypeOf(name), name)
	}

	// Lookup is case-insensitive
	assert.Equal(t, ColumnTypeFloat32, TypeOf("latitude"))
	assert.Equal(t, ColumnTypeFloat32, TypeOf("Tiv"))

	// Everything else defaults to string, including the empty name
	assert.Equal(t, ColumnTypeString, TypeOf("LOCNUMBER"))
	assert.Equal(t, ColumnTypeString, TypeOf("OCCUPANCY"))
	assert.Equal(t, ColumnTypeString, TypeOf(""))
}

func testCommon(t *testing.T) *Common {
	t.Helper()
	return NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
}

func TestBatchAppendAndRows(t *testing.T) {
	b := NewBatch(testCommon(t))
	assert.Zero(t, b.Rows())

	row := Row{
		Float32s: make([]float32, 4),
		Strings:  make([]string, 4),
	}
	for i := 0; i < 3; i++ {
		row.Strings[0] = "loc"
		row.Float32s[1] = float32(i)
		row.Float32s[2] = float32(-i)
		row.Float32s[3] = 1000
		b.Append(row)
	}

	require.Equal(t, 3, b.Rows())
	assert.Equal(t, []float32{0, 1, 2}, b.Columns[1].Float32s)
	assert.Equal(t, []string{"loc", "loc", "loc"}, b.Columns[0].Strings)
}

func TestBatchSelect(t *testing.T) {
	b := NewBatch(testCommon(t))
	row := Row{
		Float32s: make([]float32, 4),
		Strings:  make([]string, 4),
	}
	for i := 0; i < 5; i++ {
		row.Strings[0] = string(rune('a' + i))
		row.Float32s[1] = float32(i)
		b.Append(row)
	}

	sub := b.Select([]int{4, 0, 2})

	require.Equal(t, 3, sub.Rows())
	assert.Equal(t, []float32{4, 0, 2}, sub.Columns[1].Float32s)
	assert.Equal(t, []string{"e", "a", "c"}, sub.Columns[0].Strings)

	// The original batch is untouched
	assert.Equal(t, 5, b.Rows())
}

func TestBatchReset(t *testing.T) {
	b := NewBatch(testCommon(t))
	b.Append(Row{
		Float32s: make([]float32, 4),
		Strings:  make([]string, 4),
	})
	require.Equal(t, 1, b.Rows())

	b.Reset()
	assert.Zero(t, b.Rows())
}

func TestValuesLen(t *testing.T) {
	v := Values{Type: ColumnTypeFloat32, Float32s: []float32{1, 2}}
	assert.Equal(t, 2, v.Len())

	v = Values{Type: ColumnTypeString, Strings: []string{"a"}}
	assert.Equal(t, 1, v.Len())
}
