// Package store holds the unified append-only columnar table and its
// slice index. All columns grow in lockstep: row i across every column
// belongs to the same logical record. The store is single-writer; the
// aggregation driver is the only component that commits chunks.
package store

import (
	"github.com/geoscale/exposurestore/pkg/geohash"
	"github.com/geoscale/exposurestore/pkg/schema"
)

// Column is an append-only typed column of the unified table.
type Column interface {
	Type() schema.ColumnType
	Len() int
	Get(i int) interface{}
}

// Float32Column stores 32-bit float values.
type Float32Column struct {
	values []float32
}

// NewFloat32Column creates an empty float32 column.
func NewFloat32Column() *Float32Column {
	return &Float32Column{values: make([]float32, 0, 1024)}
}

func (c *Float32Column) Type() schema.ColumnType { return schema.ColumnTypeFloat32 }
func (c *Float32Column) Len() int                { return len(c.values) }
func (c *Float32Column) Get(i int) interface{}   { return c.values[i] }

// Values returns the backing slice. Callers must not mutate it.
func (c *Float32Column) Values() []float32 { return c.values }

func (c *Float32Column) extend(vals []float32) {
	c.values = append(c.values, vals...)
}

// StringColumn stores variable-length string values.
type StringColumn struct {
	values []string
}

// NewStringColumn creates an empty string column.
func NewStringColumn() *StringColumn {
	return &StringColumn{values: make([]string, 0, 1024)}
}

func (c *StringColumn) Type() schema.ColumnType { return schema.ColumnTypeString }
func (c *StringColumn) Len() int                { return len(c.values) }
func (c *StringColumn) Get(i int) interface{}   { return c.values[i] }

// Values returns the backing slice. Callers must not mutate it.
func (c *StringColumn) Values() []string { return c.values }

func (c *StringColumn) extend(vals []string) {
	c.values = append(c.values, vals...)
}

// CodeColumn stores the derived 16-bit geohash bucket codes.
type CodeColumn struct {
	values []geohash.Code
}

// NewCodeColumn creates an empty code column.
func NewCodeColumn() *CodeColumn {
	return &CodeColumn{values: make([]geohash.Code, 0, 1024)}
}

func (c *CodeColumn) Len() int              { return len(c.values) }
func (c *CodeColumn) Get(i int) geohash.Code { return c.values[i] }

// Values returns the backing slice. Callers must not mutate it.
func (c *CodeColumn) Values() []geohash.Code { return c.values }

// extendRepeat appends the same code n times; a committed chunk holds
// rows of exactly one bucket.
func (c *CodeColumn) extendRepeat(code geohash.Code, n int) {
	for i := 0; i < n; i++ {
		c.values = append(c.values, code)
	}
}
