// Package pipeline orchestrates the parallel aggregation of source
// files into the unified store. One reader task runs per source file;
// tasks stream chunks into a shared bounded channel and the driver is
// the single consumer and sole store writer, committing chunks in
// completion order.
package pipeline

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geoscale/exposurestore/pkg/config"
	"github.com/geoscale/exposurestore/pkg/errors"
	"github.com/geoscale/exposurestore/pkg/metrics"
	"github.com/geoscale/exposurestore/pkg/reader"
	"github.com/geoscale/exposurestore/pkg/schema"
	"github.com/geoscale/exposurestore/pkg/store"
)

// Config contains the driver's tunables, resolved from config.Config by
// the CLI.
type Config struct {
	Workers         int
	WindowSize      int
	ResultBuffer    int
	OnError         config.ErrorPolicy
	LatitudeColumn  string
	LongitudeColumn string
}

// FailedFile records one source file the run could not ingest. A
// multi-window file that fails mid-stream has its earlier windows
// already committed; the store is append-only, so those rows stay, and
// RowsCommitted reports how many.
type FailedFile struct {
	Path          string `json:"path"`
	Error         string `json:"error"`
	RowsCommitted uint32 `json:"rows_committed,omitempty"`
}

// Summary reports the outcome of a run.
type Summary struct {
	FilesProcessed  int           `json:"files_processed"`
	FailedFiles     []FailedFile  `json:"failed_files,omitempty"`
	RowsIngested    uint32        `json:"rows_ingested"`
	RowsDropped     int           `json:"rows_dropped"`
	ChunksCommitted int           `json:"chunks_committed"`
	Buckets         int           `json:"buckets"`
	Duration        time.Duration `json:"duration"`
}

// Driver fans reader tasks out over the source files and folds their
// chunks into the store, exactly once per chunk.
type Driver struct {
	store  *store.Store
	common *schema.Common
	cfg    Config
	logger *zap.Logger
}

// NewDriver creates a driver writing to the given store.
func NewDriver(st *store.Store, common *schema.Common, cfg Config, logger *zap.Logger) *Driver {
	return &Driver{
		store:  st,
		common: common,
		cfg:    cfg,
		logger: logger,
	}
}

// fileResult is the per-task completion envelope. Task errors travel
// through it, never across the goroutine boundary uncaught.
type fileResult struct {
	path    string
	err     error
	dropped int
}

// Run ingests all source files concurrently and commits their chunks in
// completion order. The table and the empty slice index are created
// before any task is dispatched; the spatial columns are verified before
// the table exists, so a schema failure leaves no store behind.
func (d *Driver) Run(ctx context.Context, paths []string) (*Summary, error) {
	start := time.Now()

	if err := d.common.Require(d.cfg.LatitudeColumn, d.cfg.LongitudeColumn); err != nil {
		return nil, err
	}
	if err := d.store.CreateTable(d.common); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan reader.Chunk, d.cfg.ResultBuffer)
	results := make(chan fileResult, len(paths))
	pathCh := make(chan string)

	go func() {
		defer close(pathCh)
		for _, p := range paths {
			select {
			case pathCh <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	opts := reader.Options{
		WindowSize:      d.cfg.WindowSize,
		LatitudeColumn:  d.cfg.LatitudeColumn,
		LongitudeColumn: d.cfg.LongitudeColumn,
	}

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for path := range pathCh {
				r := reader.New(path, d.common, opts, d.logger.With(zap.Int("worker", id)))
				err := r.Stream(ctx, chunks)
				results <- fileResult{path: path, err: err, dropped: r.Dropped()}
			}
		}(i)
	}

	// Close the chunk channel once every task has returned. Each task
	// sends its completion envelope (buffered, never blocks) before
	// returning, so when chunks closes all results are already queued.
	go func() {
		wg.Wait()
		close(chunks)
	}()

	summary := &Summary{}
	committedRows := make(map[string]uint32)
	var abortErr error

	handleResult := func(fr fileResult) {
		if fr.err == nil {
			summary.FilesProcessed++
			summary.RowsDropped += fr.dropped
			metrics.FilesProcessed.Inc()
			metrics.RowsDropped.Add(float64(fr.dropped))
			return
		}
		if stderrors.Is(fr.err, context.Canceled) || stderrors.Is(fr.err, context.DeadlineExceeded) {
			// Task cut short by the abort, not a file failure.
			return
		}

		summary.FailedFiles = append(summary.FailedFiles, FailedFile{
			Path:  fr.path,
			Error: fr.err.Error(),
		})
		metrics.FilesFailed.Inc()
		d.logger.Error("source file failed",
			zap.String("source_file", fr.path),
			zap.Error(fr.err))

		if abortErr == nil && (errors.IsFatal(fr.err) || d.cfg.OnError == config.PolicyAbort) {
			abortErr = errors.Wrap(fr.err, errorType(fr.err), "ingest failed for "+fr.path)
			cancel()
		}
	}

	for chunksOpen := true; chunksOpen; {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunksOpen = false
				continue
			}
			if abortErr != nil {
				// Draining: the run is already doomed; committing more
				// would leave a larger partial store.
				continue
			}
			n, err := d.commit(chunk)
			if err != nil {
				abortErr = err
				cancel()
				continue
			}
			committedRows[chunk.File] += n

		case fr := <-results:
			handleResult(fr)
		}
	}

	// Workers are done; collect any completion envelopes still buffered.
	for {
		select {
		case fr := <-results:
			handleResult(fr)
			continue
		default:
		}
		break
	}

	// A file may have contributed committed windows before failing; the
	// commit counts are final only now, after the chunk channel drained.
	for i := range summary.FailedFiles {
		summary.FailedFiles[i].RowsCommitted = committedRows[summary.FailedFiles[i].Path]
	}

	summary.RowsIngested = d.store.Rows()
	summary.ChunksCommitted = len(d.store.Slices())
	summary.Buckets = d.store.Buckets()
	summary.Duration = time.Since(start)

	if abortErr != nil {
		return summary, abortErr
	}
	if err := ctx.Err(); err != nil {
		return summary, errors.Wrap(err, errors.ErrorTypeInternal, "run cancelled")
	}

	d.logger.Info("aggregation completed",
		zap.Int("files", summary.FilesProcessed),
		zap.Uint32("rows", summary.RowsIngested),
		zap.Int("chunks", summary.ChunksCommitted),
		zap.Int("buckets", summary.Buckets),
		zap.Int("rows_dropped", summary.RowsDropped),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// commit appends one chunk's columns and its slice index triple,
// returning the number of rows committed. The store guarantees both
// happen or neither; the monotonic row counter is owned by the store and
// advanced only through this single consumer.
func (d *Driver) commit(chunk reader.Chunk) (uint32, error) {
	slice, err := d.store.AppendChunk(chunk.Code, chunk.Batch)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeStore, "failed to commit chunk of "+chunk.File)
	}

	n := slice.Stop - slice.Start
	metrics.ChunksCommitted.Inc()
	metrics.RowsIngested.Add(float64(n))
	metrics.StoreRows.Set(float64(d.store.Rows()))

	d.logger.Debug("chunk committed",
		zap.String("bucket", chunk.Code.String()),
		zap.Uint32("start", slice.Start),
		zap.Uint32("stop", slice.Stop),
		zap.String("source_file", chunk.File))

	return n, nil
}

// errorType preserves the original error's type when wrapping for the
// run-level report.
func errorType(err error) errors.ErrorType {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return errors.ErrorTypeInternal
}
