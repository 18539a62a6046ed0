package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportedStore(t *testing.T) *Store {
	t.Helper()

	s := New()
	common := testCommon()
	require.NoError(t, s.CreateTable(common))

	_, err := s.AppendChunk(7, testBatch(common, 100, 1))
	require.NoError(t, err)
	_, err = s.AppendChunk(12, testBatch(common, 50, 2))
	require.NoError(t, err)

	return s
}

func readArrowRows(t *testing.T, r ipc.ReadAtSeeker) int64 {
	t.Helper()

	fr, err := ipc.NewFileReader(r)
	require.NoError(t, err)
	defer fr.Close()

	var rows int64
	for {
		rec, err := fr.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rows += rec.NumRows()
	}
	return rows
}

func TestExport(t *testing.T) {
	s := exportedStore(t)
	dir := t.TempDir()

	manifest, err := s.Export(dir, false)
	require.NoError(t, err)

	assert.Equal(t, uint32(150), manifest.Rows)
	assert.Equal(t, 2, manifest.Buckets)
	assert.Equal(t, 2, manifest.Slices)
	assert.False(t, manifest.Compressed)
	// Common schema columns plus the derived geohash column
	require.Len(t, manifest.Columns, 5)
	assert.Equal(t, GeohashColumn, manifest.Columns[4].Name)
	assert.Equal(t, "uint16", manifest.Columns[4].Type)

	tf, err := os.Open(filepath.Join(dir, manifest.TableFile))
	require.NoError(t, err)
	defer tf.Close()
	assert.Equal(t, int64(150), readArrowRows(t, tf))

	xf, err := os.Open(filepath.Join(dir, manifest.IndexFile))
	require.NoError(t, err)
	defer xf.Close()
	assert.Equal(t, int64(2), readArrowRows(t, xf))

	// The manifest on disk round-trips
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	var onDisk Manifest
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, manifest.Rows, onDisk.Rows)
	assert.Equal(t, manifest.TableFile, onDisk.TableFile)
}

func TestExportCompressed(t *testing.T) {
	s := exportedStore(t)
	dir := t.TempDir()

	manifest, err := s.Export(dir, true)
	require.NoError(t, err)

	assert.True(t, manifest.Compressed)
	assert.Equal(t, "exposure.arrow.zst", manifest.TableFile)

	// Decompress and read back
	f, err := os.Open(filepath.Join(dir, manifest.TableFile))
	require.NoError(t, err)
	defer f.Close()

	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	tmp := filepath.Join(dir, "decompressed.arrow")
	require.NoError(t, os.WriteFile(tmp, raw, 0o644))
	df, err := os.Open(tmp)
	require.NoError(t, err)
	defer df.Close()

	assert.Equal(t, int64(150), readArrowRows(t, df))
}

func TestExportBeforeCreate(t *testing.T) {
	s := New()
	_, err := s.Export(t.TempDir(), false)
	require.Error(t, err)
}

func TestExportEmptyStore(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateTable(testCommon()))

	manifest, err := s.Export(t.TempDir(), false)
	require.NoError(t, err)
	assert.Zero(t, manifest.Rows)
	assert.Zero(t, manifest.Slices)
}
