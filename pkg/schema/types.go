// Package schema reconciles heterogeneous exposure file headers into a
// single common schema and defines the typed batches that flow from the
// readers to the store.
package schema

import "strings"

// ColumnType is the storage type of a column.
type ColumnType int

const (
	// ColumnTypeString stores variable-length strings. Default for any
	// column not in the coercion table.
	ColumnTypeString ColumnType = iota
	// ColumnTypeFloat32 stores 32-bit floats. Used for the enumerated
	// measurement and location columns.
	ColumnTypeFloat32
)

// String returns the type name used in exports and logs.
func (t ColumnType) String() string {
	switch t {
	case ColumnTypeFloat32:
		return "float32"
	default:
		return "string"
	}
}

// float32Columns enumerates the exposure columns stored as 32-bit
// floats. Everything else, including unknown columns, is a string.
var float32Columns = map[string]struct{}{
	"LATITUDE":    {},
	"LONGITUDE":   {},
	"TIV":         {},
	"BUILDINGTIV": {},
	"OTHERTIV":    {},
	"CONTENTSTIV": {},
	"BITIV":       {},
	"LIMIT":       {},
	"DEDUCTIBLE":  {},
}

// TypeOf returns the storage type for a column name. Lookup is
// case-insensitive; exposure files conventionally carry upper-case
// headers but not all producers agree.
func TypeOf(column string) ColumnType {
	if _, ok := float32Columns[strings.ToUpper(column)]; ok {
		return ColumnTypeFloat32
	}
	return ColumnTypeString
}

// Values holds one typed column of a batch. Exactly one of the two
// slices is populated, selected by Type.
type Values struct {
	Type     ColumnType
	Float32s []float32
	Strings  []string
}

// Len returns the number of values in the column.
func (v *Values) Len() int {
	if v.Type == ColumnTypeFloat32 {
		return len(v.Float32s)
	}
	return len(v.Strings)
}

// Row is one parsed record, with cells parallel to a common schema's
// columns. For each column exactly one of the two slots at its index is
// meaningful, selected by the column's type.
type Row struct {
	Float32s []float32
	Strings  []string
}

// Batch is an in-memory table with one typed column per common schema
// entry. Batches are ephemeral: produced by a reader task, consumed by
// the driver, then discarded.
type Batch struct {
	Common  *Common
	Columns []Values
}

// NewBatch creates an empty batch for the given common schema.
func NewBatch(common *Common) *Batch {
	cols := make([]Values, len(common.Columns))
	for i, t := range common.Types {
		cols[i] = Values{Type: t}
	}
	return &Batch{Common: common, Columns: cols}
}

// Rows returns the number of rows in the batch.
func (b *Batch) Rows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return b.Columns[0].Len()
}

// Append adds one row to the batch.
func (b *Batch) Append(row Row) {
	for i := range b.Columns {
		if b.Columns[i].Type == ColumnTypeFloat32 {
			b.Columns[i].Float32s = append(b.Columns[i].Float32s, row.Float32s[i])
		} else {
			b.Columns[i].Strings = append(b.Columns[i].Strings, row.Strings[i])
		}
	}
}

// Select returns a new batch holding the rows at the given indices, in
// the given order.
func (b *Batch) Select(indices []int) *Batch {
	out := NewBatch(b.Common)
	for i := range out.Columns {
		if out.Columns[i].Type == ColumnTypeFloat32 {
			vals := make([]float32, 0, len(indices))
			for _, idx := range indices {
				vals = append(vals, b.Columns[i].Float32s[idx])
			}
			out.Columns[i].Float32s = vals
		} else {
			vals := make([]string, 0, len(indices))
			for _, idx := range indices {
				vals = append(vals, b.Columns[i].Strings[idx])
			}
			out.Columns[i].Strings = vals
		}
	}
	return out
}

// Reset clears all columns for reuse without deallocating.
func (b *Batch) Reset() {
	for i := range b.Columns {
		b.Columns[i].Float32s = b.Columns[i].Float32s[:0]
		b.Columns[i].Strings = b.Columns[i].Strings[:0]
	}
}
