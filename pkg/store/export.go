package store

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/geoscale/exposurestore/pkg/errors"
	"github.com/geoscale/exposurestore/pkg/schema"
)

const (
	tableFileName = "exposure.arrow"
	indexFileName = "slice_index.arrow"
	manifestName  = "manifest.json"

	// exportBatchRows is the row count per Arrow record in the exported
	// IPC files.
	exportBatchRows = 1 << 16
)

// Manifest summarizes an exported store for downstream consumers.
type Manifest struct {
	CreatedAt  time.Time        `json:"created_at"`
	Rows       uint32           `json:"rows"`
	Buckets    int              `json:"buckets"`
	Slices     int              `json:"slices"`
	Columns    []ManifestColumn `json:"columns"`
	TableFile  string           `json:"table_file"`
	IndexFile  string           `json:"index_file"`
	Compressed bool             `json:"compressed"`
}

// ManifestColumn describes one exported column.
type ManifestColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Export writes the unified table, the slice index and a JSON manifest
// into dir. With compress set, the Arrow files are zstd-compressed and
// carry a .zst suffix. Any failure is a store error; the directory is
// left as-is and must be treated as incomplete.
func (s *Store) Export(dir string, compress bool) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.common == nil {
		return nil, errors.New(errors.ErrorTypeStore, "table not created")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to create export directory")
	}

	tableFile := tableFileName
	indexFile := indexFileName
	if compress {
		tableFile += ".zst"
		indexFile += ".zst"
	}

	if err := s.exportFile(filepath.Join(dir, tableFile), compress, s.writeTable); err != nil {
		return nil, err
	}
	if err := s.exportFile(filepath.Join(dir, indexFile), compress, s.writeSliceIndex); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		CreatedAt:  time.Now().UTC(),
		Rows:       s.rows,
		Buckets:    s.bucketsLocked(),
		Slices:     len(s.slices),
		TableFile:  tableFile,
		IndexFile:  indexFile,
		Compressed: compress,
	}
	for i, name := range s.common.Columns {
		manifest.Columns = append(manifest.Columns, ManifestColumn{
			Name: name,
			Type: s.common.Types[i].String(),
		})
	}
	manifest.Columns = append(manifest.Columns, ManifestColumn{Name: GeohashColumn, Type: "uint16"})

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to encode manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to write manifest")
	}

	return manifest, nil
}

// exportFile opens the target file, optionally wraps it in a zstd
// writer, and runs the dataset writer against it.
func (s *Store) exportFile(path string, compress bool, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to create "+path)
	}
	defer f.Close()

	if !compress {
		return write(f)
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to create zstd writer")
	}
	if err := write(zw); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to flush zstd writer")
	}
	return nil
}

// writeTable streams the unified table as an Arrow IPC file.
func (s *Store) writeTable(w io.Writer) error {
	fields := make([]arrow.Field, 0, len(s.columns)+1)
	for i, name := range s.common.Columns {
		fields = append(fields, arrow.Field{Name: name, Type: arrowType(s.common.Types[i])})
	}
	fields = append(fields, arrow.Field{Name: GeohashColumn, Type: arrow.PrimitiveTypes.Uint16})

	arrowSchema := arrow.NewSchema(fields, nil)
	pool := memory.NewGoAllocator()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(arrowSchema), ipc.WithAllocator(pool))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to create arrow writer")
	}

	builder := array.NewRecordBuilder(pool, arrowSchema)
	defer builder.Release()

	total := int(s.rows)
	start := 0
	for {
		stop := start + exportBatchRows
		if stop > total {
			stop = total
		}

		for i := range s.columns {
			switch col := s.columns[i].(type) {
			case *Float32Column:
				builder.Field(i).(*array.Float32Builder).AppendValues(col.Values()[start:stop], nil)
			case *StringColumn:
				builder.Field(i).(*array.StringBuilder).AppendValues(col.Values()[start:stop], nil)
			}
		}

		codeBuilder := builder.Field(len(s.columns)).(*array.Uint16Builder)
		for _, code := range s.codes.Values()[start:stop] {
			codeBuilder.Append(uint16(code))
		}

		rec := builder.NewRecord()
		writeErr := fw.Write(rec)
		rec.Release()
		if writeErr != nil {
			return errors.Wrap(writeErr, errors.ErrorTypeStore, "failed to write arrow record")
		}

		start = stop
		if start >= total {
			break
		}
	}

	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to close arrow writer")
	}
	return nil
}

// writeSliceIndex streams the slice index dataset: one row per committed
// chunk, (code uint16, start uint32, stop uint32), in commit order.
func (s *Store) writeSliceIndex(w io.Writer) error {
	arrowSchema := arrow.NewSchema([]arrow.Field{
		{Name: "code", Type: arrow.PrimitiveTypes.Uint16},
		{Name: "start", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "stop", Type: arrow.PrimitiveTypes.Uint32},
	}, nil)
	pool := memory.NewGoAllocator()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(arrowSchema), ipc.WithAllocator(pool))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to create arrow writer")
	}

	builder := array.NewRecordBuilder(pool, arrowSchema)
	defer builder.Release()

	for _, sl := range s.slices {
		builder.Field(0).(*array.Uint16Builder).Append(uint16(sl.Code))
		builder.Field(1).(*array.Uint32Builder).Append(sl.Start)
		builder.Field(2).(*array.Uint32Builder).Append(sl.Stop)
	}

	rec := builder.NewRecord()
	writeErr := fw.Write(rec)
	rec.Release()
	if writeErr != nil {
		return errors.Wrap(writeErr, errors.ErrorTypeStore, "failed to write slice index record")
	}

	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to close arrow writer")
	}
	return nil
}

// arrowType maps a storage type to its Arrow equivalent.
func arrowType(t schema.ColumnType) arrow.DataType {
	if t == schema.ColumnTypeFloat32 {
		return arrow.PrimitiveTypes.Float32
	}
	return arrow.BinaryTypes.String
}
