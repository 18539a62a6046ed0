// Package reader transforms one source file into a stream of
// single-bucket chunks. It is the unit of parallel work: the driver runs
// one Reader per source file, each a pure function of its own file's
// bytes with no shared mutable state.
package reader

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/geoscale/exposurestore/pkg/errors"
	"github.com/geoscale/exposurestore/pkg/geohash"
	"github.com/geoscale/exposurestore/pkg/schema"
)

// DefaultWindowSize bounds the number of rows a reader holds in memory.
// Source files may be arbitrarily large; the transform never requires a
// whole file in memory.
const DefaultWindowSize = 1_000_000

// Chunk is one windowed, single-bucket sub-batch of rows. Chunks are
// committed atomically by the driver.
type Chunk struct {
	Code  geohash.Code
	Batch *schema.Batch
	File  string
}

// Options configures a Reader.
type Options struct {
	// WindowSize is the row window a file is processed in. Zero selects
	// DefaultWindowSize.
	WindowSize int
	// LatitudeColumn and LongitudeColumn name the spatial columns used
	// for bucketing. Both must be float32 columns of the common schema.
	LatitudeColumn  string
	LongitudeColumn string
}

// Reader streams one source file as (bucket code, batch) chunks.
// Re-invoking Stream re-reads the file from the start; files are
// immutable inputs so that is acceptable.
type Reader struct {
	path   string
	common *schema.Common
	opts   Options
	logger *zap.Logger

	rowsRead    int
	rowsKept    int
	rowsDropped int
}

// New creates a reader for one source file.
func New(path string, common *schema.Common, opts Options, logger *zap.Logger) *Reader {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	return &Reader{
		path:   path,
		common: common,
		opts:   opts,
		logger: logger.With(zap.String("source_file", path)),
	}
}

// Dropped returns the number of rows dropped by the lenient coercion
// policy during the last Stream call.
func (r *Reader) Dropped() int { return r.rowsDropped }

// Stream reads the file in windows, coerces columns per the common
// schema, buckets rows by geohash code and sends one chunk per distinct
// code per window, preserving row order within each chunk. Rows that
// fail coercion are dropped, never escalated; file-level failures return
// an ingest error scoped to this file.
func (r *Reader) Stream(ctx context.Context, out chan<- Chunk) error {
	latIdx := r.common.Index(r.opts.LatitudeColumn)
	lonIdx := r.common.Index(r.opts.LongitudeColumn)
	if latIdx < 0 || lonIdx < 0 {
		return errors.Newf(errors.ErrorTypeSchema,
			"common schema lacks spatial columns %q/%q",
			r.opts.LatitudeColumn, r.opts.LongitudeColumn)
	}

	f, err := os.Open(r.path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIngest, "failed to open source file "+r.path)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIngest, "failed to read header of "+r.path)
	}

	// Map each common schema column to its position in this file's
	// header. The resolver guarantees presence for the run's file set; a
	// miss here means the file changed underneath us.
	positions := make([]int, len(r.common.Columns))
	for i := range positions {
		positions[i] = -1
	}
	for pos, name := range header {
		if i := r.common.Index(strings.TrimSpace(name)); i >= 0 && positions[i] < 0 {
			positions[i] = pos
		}
	}
	for i, pos := range positions {
		if pos < 0 {
			return errors.Newf(errors.ErrorTypeIngest,
				"file %s lacks common schema column %q", r.path, r.common.Columns[i])
		}
	}

	r.rowsRead, r.rowsKept, r.rowsDropped = 0, 0, 0

	window := schema.NewBatch(r.common)
	row := schema.Row{
		Float32s: make([]float32, len(r.common.Columns)),
		Strings:  make([]string, len(r.common.Columns)),
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeIngest, "malformed row in "+r.path)
		}
		r.rowsRead++

		if !r.coerce(record, positions, latIdx, lonIdx, &row) {
			r.rowsDropped++
			continue
		}
		window.Append(row)
		r.rowsKept++

		if window.Rows() >= r.opts.WindowSize {
			if err := r.flushWindow(ctx, window, latIdx, lonIdx, out); err != nil {
				return err
			}
			// Emitted chunks hold copies; the window buffer is reusable.
			window.Reset()
		}
	}

	if window.Rows() > 0 {
		if err := r.flushWindow(ctx, window, latIdx, lonIdx, out); err != nil {
			return err
		}
	}

	if r.rowsRead > 0 && r.rowsKept == 0 {
		return errors.Newf(errors.ErrorTypeIngest,
			"all %d rows of %s failed coercion", r.rowsRead, r.path)
	}

	r.logger.Debug("source file streamed",
		zap.Int("rows_read", r.rowsRead),
		zap.Int("rows_kept", r.rowsKept),
		zap.Int("rows_dropped", r.rowsDropped))

	return nil
}

// coerce fills row from a raw CSV record. Returns false when the row
// must be dropped: a cell for a float column is missing or not numeric,
// or a spatial cell holds a non-finite value.
func (r *Reader) coerce(record []string, positions []int, latIdx, lonIdx int, row *schema.Row) bool {
	for i, pos := range positions {
		if pos >= len(record) {
			return false
		}
		raw := record[pos]

		if r.common.Types[i] == schema.ColumnTypeFloat32 {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				return false
			}
			v, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				return false
			}
			// ParseFloat accepts NaN and the infinities; a coordinate
			// with such a value cannot be bucketed.
			if (i == latIdx || i == lonIdx) && (math.IsNaN(v) || math.IsInf(v, 0)) {
				return false
			}
			row.Float32s[i] = float32(v)
		} else {
			// Strings are copied out of the reused CSV record.
			row.Strings[i] = strings.Clone(raw)
		}
	}
	return true
}

// flushWindow buckets the window's rows and emits one chunk per distinct
// code, codes in first-appearance order, row order preserved within each
// chunk.
func (r *Reader) flushWindow(ctx context.Context, window *schema.Batch, latIdx, lonIdx int, out chan<- Chunk) error {
	codes := geohash.EncodeBatch(
		window.Columns[latIdx].Float32s,
		window.Columns[lonIdx].Float32s,
	)

	groups := make(map[geohash.Code][]int)
	var order []geohash.Code
	for i, code := range codes {
		if _, seen := groups[code]; !seen {
			order = append(order, code)
		}
		groups[code] = append(groups[code], i)
	}

	for _, code := range order {
		chunk := Chunk{
			Code:  code,
			Batch: window.Select(groups[code]),
			File:  r.path,
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
