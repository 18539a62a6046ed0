package store

import (
	"sync"

	"github.com/geoscale/exposurestore/pkg/errors"
	"github.com/geoscale/exposurestore/pkg/geohash"
	"github.com/geoscale/exposurestore/pkg/schema"
)

// GeohashColumn is the name of the derived bucket-code column appended
// to the unified table alongside the common schema columns.
const GeohashColumn = "geohash"

// Slice is one entry of the slice index: the contiguous row range
// [Start, Stop) a committed chunk of the given bucket occupies.
type Slice struct {
	Code  geohash.Code `json:"code"`
	Start uint32       `json:"start"`
	Stop  uint32       `json:"stop"`
}

// Store is the unified append-only columnar table plus its slice index.
// One column per common schema entry plus the derived geohash column.
// All writes go through AppendChunk; a chunk's columns and its index
// triple are committed together or not at all.
type Store struct {
	mu      sync.RWMutex
	common  *schema.Common
	columns []Column
	codes   *CodeColumn
	slices  []Slice
	rows    uint32
}

// New creates an empty store. CreateTable must be called before any
// chunk is appended.
func New() *Store {
	return &Store{}
}

// CreateTable creates one typed column per common schema entry plus the
// geohash column, and the empty slice index. It may be called once.
func (s *Store) CreateTable(common *schema.Common) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.common != nil {
		return errors.New(errors.ErrorTypeStore, "table already created")
	}

	s.common = common
	s.columns = make([]Column, len(common.Columns))
	for i, t := range common.Types {
		if t == schema.ColumnTypeFloat32 {
			s.columns[i] = NewFloat32Column()
		} else {
			s.columns[i] = NewStringColumn()
		}
	}
	s.codes = NewCodeColumn()
	s.slices = make([]Slice, 0, 256)

	return nil
}

// AppendChunk atomically extends every column by the chunk's rows and
// appends one slice index triple. The row counter advances only when the
// whole commit succeeds, so slice ranges never overlap and always tile
// the table. Single writer: only the aggregation driver calls this.
func (s *Store) AppendChunk(code geohash.Code, batch *schema.Batch) (Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.common == nil {
		return Slice{}, errors.New(errors.ErrorTypeStore, "table not created")
	}
	if len(batch.Columns) != len(s.columns) {
		return Slice{}, errors.Newf(errors.ErrorTypeStore,
			"chunk has %d columns, table has %d", len(batch.Columns), len(s.columns))
	}

	n := batch.Rows()
	if n == 0 {
		return Slice{}, errors.New(errors.ErrorTypeStore, "empty chunk")
	}

	// Validate lockstep before mutating anything.
	for i := range batch.Columns {
		if batch.Columns[i].Type != s.columns[i].Type() {
			return Slice{}, errors.Newf(errors.ErrorTypeStore,
				"chunk column %q is %s, table column is %s",
				s.common.Columns[i], batch.Columns[i].Type, s.columns[i].Type())
		}
		if batch.Columns[i].Len() != n {
			return Slice{}, errors.Newf(errors.ErrorTypeStore,
				"chunk column %q has %d rows, expected %d",
				s.common.Columns[i], batch.Columns[i].Len(), n)
		}
	}

	for i := range batch.Columns {
		switch col := s.columns[i].(type) {
		case *Float32Column:
			col.extend(batch.Columns[i].Float32s)
		case *StringColumn:
			col.extend(batch.Columns[i].Strings)
		}
	}
	s.codes.extendRepeat(code, n)

	slice := Slice{Code: code, Start: s.rows, Stop: s.rows + uint32(n)}
	s.slices = append(s.slices, slice)
	s.rows = slice.Stop

	return slice, nil
}

// Rows returns the total row count of the table.
func (s *Store) Rows() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows
}

// Schema returns the common schema the table was created with.
func (s *Store) Schema() *schema.Common {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.common
}

// Column returns a table column by name.
func (s *Store) Column(name string) (Column, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.common == nil {
		return nil, false
	}
	i := s.common.Index(name)
	if i < 0 {
		return nil, false
	}
	return s.columns[i], true
}

// Codes returns the derived geohash column.
func (s *Store) Codes() *CodeColumn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codes
}

// Slices returns the slice index in commit order.
func (s *Store) Slices() []Slice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Slice, len(s.slices))
	copy(out, s.slices)
	return out
}

// SlicesFor returns the slice index entries of one bucket, in commit
// order. A bucket's rows may be fragmented across multiple non-adjacent
// slices when chunks from different files interleave.
func (s *Store) SlicesFor(code geohash.Code) []Slice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Slice
	for _, sl := range s.slices {
		if sl.Code == code {
			out = append(out, sl)
		}
	}
	return out
}

// Buckets returns the number of distinct bucket codes in the index.
func (s *Store) Buckets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bucketsLocked()
}

// bucketsLocked counts distinct bucket codes; callers hold the lock.
func (s *Store) bucketsLocked() int {
	seen := make(map[geohash.Code]struct{}, len(s.slices))
	for _, sl := range s.slices {
		seen[sl.Code] = struct{}{}
	}
	return len(seen)
}
