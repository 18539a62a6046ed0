package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoscale/exposurestore/pkg/config"
	"github.com/geoscale/exposurestore/pkg/errors"
	"github.com/geoscale/exposurestore/pkg/geohash"
	"github.com/geoscale/exposurestore/pkg/schema"
	"github.com/geoscale/exposurestore/pkg/store"
	"github.com/geoscale/exposurestore/pkg/testutil"
)

func testDriverConfig() Config {
	return Config{
		Workers:         3,
		WindowSize:      64,
		ResultBuffer:    8,
		OnError:         config.PolicyAbort,
		LatitudeColumn:  "LATITUDE",
		LongitudeColumn: "LONGITUDE",
	}
}

// exposureFile writes an n-row source file whose rows all fall into the
// bucket of (lat, lon).
func exposureFile(t *testing.T, dir, name string, n int, lat, lon float64) string {
	t.Helper()

	var sb strings.Builder
	sb.WriteString("LOCNUMBER,LATITUDE,LONGITUDE,TIV\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "L%d,%g,%g,%d\n", i, lat, lon, 100+i)
	}
	return testutil.WriteFile(t, dir, name, sb.String())
}

func TestRunAggregatesAllFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		exposureFile(t, dir, "us.csv", 100, 40.0, -74.0),
		exposureFile(t, dir, "au.csv", 250, -33.8, 151.2),
		exposureFile(t, dir, "uk.csv", 4, 51.5, -0.1),
	}

	common := schema.NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
	st := store.New()
	d := NewDriver(st, common, testDriverConfig(), testutil.Logger(t))

	summary, err := d.Run(testutil.Context(t), paths)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.FilesProcessed)
	assert.Empty(t, summary.FailedFiles)
	assert.Equal(t, uint32(354), summary.RowsIngested)
	assert.Zero(t, summary.RowsDropped)
	assert.Equal(t, 3, summary.Buckets)

	assert.Equal(t, uint32(354), st.Rows())

	// The slice index tiles the table: contiguous, in commit order,
	// covering [0, rows) exactly.
	slices := st.Slices()
	require.Equal(t, summary.ChunksCommitted, len(slices))
	var next uint32
	for _, sl := range slices {
		assert.Equal(t, next, sl.Start)
		assert.Greater(t, sl.Stop, sl.Start)
		next = sl.Stop
	}
	assert.Equal(t, st.Rows(), next)

	// Every slice's range carries its own code in the derived column.
	codes := st.Codes()
	for _, sl := range slices {
		for i := sl.Start; i < sl.Stop; i++ {
			assert.Equal(t, sl.Code, codes.Get(int(i)))
		}
	}

	// Per-bucket row counts survive the interleaved commits.
	want := map[geohash.Code]uint32{
		geohash.Encode(40.0, -74.0):  100,
		geohash.Encode(-33.8, 151.2): 250,
		geohash.Encode(51.5, -0.1):   4,
	}
	for code, rows := range want {
		var got uint32
		for _, sl := range st.SlicesFor(code) {
			got += sl.Stop - sl.Start
		}
		assert.Equal(t, rows, got, code.String())
	}
}

func TestRunWindowsLargeFiles(t *testing.T) {
	dir := t.TempDir()
	// 150 rows with a 64-row window: the file alone produces 3 chunks.
	paths := []string{exposureFile(t, dir, "big.csv", 150, 10.0, 10.0)}

	common := schema.NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
	st := store.New()
	d := NewDriver(st, common, testDriverConfig(), testutil.Logger(t))

	summary, err := d.Run(testutil.Context(t), paths)
	require.NoError(t, err)

	assert.Equal(t, uint32(150), summary.RowsIngested)
	assert.Equal(t, 3, summary.ChunksCommitted)
	assert.Equal(t, 1, summary.Buckets)
	require.Len(t, st.SlicesFor(geohash.Encode(10, 10)), 3)
}

func TestRunSkipPolicyContinues(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		exposureFile(t, dir, "good.csv", 20, 10.0, 10.0),
		testutil.WriteFile(t, dir, "bad.csv",
			"LOCNUMBER,LATITUDE,LONGITUDE,TIV\nL1,x,10.0,100\nL2,y,10.0,200\n"),
		exposureFile(t, dir, "also-good.csv", 30, -20.0, 30.0),
	}

	cfg := testDriverConfig()
	cfg.OnError = config.PolicySkip
	cfg.Workers = 1 // deterministic ordering for the assertion below

	common := schema.NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
	st := store.New()
	d := NewDriver(st, common, cfg, testutil.Logger(t))

	summary, err := d.Run(testutil.Context(t), paths)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.FilesProcessed)
	require.Len(t, summary.FailedFiles, 1)
	assert.Contains(t, summary.FailedFiles[0].Path, "bad.csv")
	assert.Equal(t, uint32(50), summary.RowsIngested)
}

func TestRunSkipPolicyReportsPartialCommit(t *testing.T) {
	dir := t.TempDir()

	// 100 good rows then a malformed one: with a 64-row window the first
	// window is committed before the parse error surfaces, so skipping
	// the file still leaves those rows in the append-only store.
	var sb strings.Builder
	sb.WriteString("LOCNUMBER,LATITUDE,LONGITUDE,TIV\n")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "L%d,10.0,10.0,%d\n", i, 100+i)
	}
	sb.WriteString("L100,bro\"ken,10.0,100\n")

	paths := []string{
		testutil.WriteFile(t, dir, "torn.csv", sb.String()),
		exposureFile(t, dir, "good.csv", 20, -20.0, 30.0),
	}

	cfg := testDriverConfig()
	cfg.OnError = config.PolicySkip
	cfg.Workers = 1

	common := schema.NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
	st := store.New()
	d := NewDriver(st, common, cfg, testutil.Logger(t))

	summary, err := d.Run(testutil.Context(t), paths)
	require.NoError(t, err)

	require.Len(t, summary.FailedFiles, 1)
	assert.Contains(t, summary.FailedFiles[0].Path, "torn.csv")
	assert.Equal(t, uint32(64), summary.FailedFiles[0].RowsCommitted)

	assert.Equal(t, 1, summary.FilesProcessed)
	assert.Equal(t, uint32(84), summary.RowsIngested)
	assert.Equal(t, uint32(84), st.Rows())

	// The committed window is indexed like any other chunk.
	torn := st.SlicesFor(geohash.Encode(10, 10))
	require.Len(t, torn, 1)
	assert.Equal(t, uint32(64), torn[0].Stop-torn[0].Start)
}

func TestRunAbortPolicyStops(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		testutil.WriteFile(t, dir, "bad.csv",
			"LOCNUMBER,LATITUDE,LONGITUDE,TIV\nL1,x,10.0,100\n"),
	}

	common := schema.NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
	st := store.New()
	d := NewDriver(st, common, testDriverConfig(), testutil.Logger(t))

	summary, err := d.Run(testutil.Context(t), paths)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIngest))
	require.NotNil(t, summary)
	require.Len(t, summary.FailedFiles, 1)
}

func TestRunSkipPolicyStillAbortsOnFatal(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		// Unreadable header makes schema-grade damage, not a row drop.
		testutil.WriteFile(t, dir, "empty.csv", ""),
		exposureFile(t, dir, "good.csv", 10, 10.0, 10.0),
	}

	cfg := testDriverConfig()
	cfg.OnError = config.PolicySkip

	common := schema.NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
	st := store.New()
	d := NewDriver(st, common, cfg, testutil.Logger(t))

	// An empty file fails at the header read, which is an ingest error
	// and therefore skippable: the run survives it.
	summary, err := d.Run(testutil.Context(t), paths)
	require.NoError(t, err)
	require.Len(t, summary.FailedFiles, 1)
	assert.Equal(t, 1, summary.FilesProcessed)
}

func TestRunMissingSpatialColumns(t *testing.T) {
	dir := t.TempDir()
	paths := []string{exposureFile(t, dir, "a.csv", 5, 10.0, 10.0)}

	common := schema.NewCommon("LOCNUMBER", "TIV")
	st := store.New()
	d := NewDriver(st, common, testDriverConfig(), testutil.Logger(t))

	_, err := d.Run(testutil.Context(t), paths)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))

	// The failure happened before the table was created.
	assert.Nil(t, st.Schema())
}

func TestRunNoFiles(t *testing.T) {
	common := schema.NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
	st := store.New()
	d := NewDriver(st, common, testDriverConfig(), testutil.Logger(t))

	summary, err := d.Run(testutil.Context(t), nil)
	require.NoError(t, err)
	assert.Zero(t, summary.FilesProcessed)
	assert.Zero(t, summary.RowsIngested)
}

func TestRunRowDropsCounted(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		testutil.WriteFile(t, dir, "mixed.csv",
			"LOCNUMBER,LATITUDE,LONGITUDE,TIV\n"+
				"L1,10.0,10.0,100\n"+
				"L2,not-a-number,10.0,200\n"+
				"L3,10.0,10.0,300\n"),
	}

	common := schema.NewCommon("LOCNUMBER", "LATITUDE", "LONGITUDE", "TIV")
	st := store.New()
	d := NewDriver(st, common, testDriverConfig(), testutil.Logger(t))

	summary, err := d.Run(testutil.Context(t), paths)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), summary.RowsIngested)
	assert.Equal(t, 1, summary.RowsDropped)
}
