package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geoscale/exposurestore/internal/pipeline"
	"github.com/geoscale/exposurestore/pkg/config"
	"github.com/geoscale/exposurestore/pkg/logger"
	"github.com/geoscale/exposurestore/pkg/regions"
	"github.com/geoscale/exposurestore/pkg/schema"
	"github.com/geoscale/exposurestore/pkg/store"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "exposurestore",
		Short: "Build a unified geohash-partitioned exposure store",
		Long: `exposurestore ingests per-region exposure files, reconciles them to a
common column schema, partitions records into coarse geohash buckets and
writes a single append-only columnar store with a bucket-to-row-range
slice index.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("exposurestore v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var (
		configFile  string
		outDir      string
		workers     int
		windowSize  int
		onError     string
		compress    bool
		logLevel    string
		metricsAddr string
	)

	buildCmd := &cobra.Command{
		Use:   "build <region-root>",
		Short: "Build the store from a region directory tree",
		Long: `Build the store from a directory tree of regions. Each immediate
subdirectory of <region-root> is a region; regions with an exposure/
subdirectory contribute description files, each resolving to the tabular
data files that get ingested.

Example:
  exposurestore build ./regions --out ./store --workers 8 --on-ingest-error skip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			// Flags override the config file where explicitly set.
			if cmd.Flags().Changed("out") {
				cfg.Export.Dir = outDir
			}
			if cmd.Flags().Changed("workers") {
				cfg.Performance.Workers = workers
			}
			if cmd.Flags().Changed("window-size") {
				cfg.Ingest.WindowSize = windowSize
			}
			if cmd.Flags().Changed("on-ingest-error") {
				cfg.Ingest.OnError = config.ErrorPolicy(onError)
			}
			if cmd.Flags().Changed("compress") {
				cfg.Export.Compress = compress
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := logger.Init(logger.Config{
				Level:       cfg.Logging.Level,
				Development: cfg.Logging.Development,
				Encoding:    cfg.Logging.Encoding,
			}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runBuild(args[0], cfg, metricsAddr)
		},
	}

	buildCmd.Flags().StringVar(&configFile, "config", "", "Path to YAML configuration file (optional)")
	buildCmd.Flags().StringVarP(&outDir, "out", "o", "exposure-store", "Output directory for the store, slice index and manifest")
	buildCmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Number of concurrent per-file reader tasks")
	buildCmd.Flags().IntVar(&windowSize, "window-size", 1_000_000, "Rows per processing window; bounds peak memory per file")
	buildCmd.Flags().StringVar(&onError, "on-ingest-error", "abort", "Policy for a failing source file: abort or skip")
	buildCmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress the exported Arrow files")
	buildCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	buildCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the build runs (e.g. :9090)")

	root.AddCommand(buildCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runBuild executes one end-to-end build: expand the region tree,
// resolve the common schema, aggregate, export, summarize.
func runBuild(regionRoot string, cfg *config.Config, metricsAddr string) error {
	start := time.Now()

	runID := start.UTC().Format("20060102T150405Z")
	ctx := context.WithValue(context.Background(), logger.RunIDKey, runID)
	log := logger.WithContext(ctx).With(zap.String("component", "exposurestore-cli"))

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, log)
	}

	files, err := regions.Expand(regionRoot, regions.ListParser{})
	if err != nil {
		return err
	}
	log.Info("expanded region tree",
		zap.String("root", regionRoot),
		zap.Int("files", len(files)))

	common, err := schema.Resolve(ctx, files)
	if err != nil {
		return err
	}
	log.Info("resolved common schema", zap.Int("columns", len(common.Columns)))

	st := store.New()
	driver := pipeline.NewDriver(st, common, pipeline.Config{
		Workers:         cfg.Performance.Workers,
		WindowSize:      cfg.Ingest.WindowSize,
		ResultBuffer:    cfg.Performance.ResultBuffer,
		OnError:         cfg.Ingest.OnError,
		LatitudeColumn:  cfg.Ingest.LatitudeColumn,
		LongitudeColumn: cfg.Ingest.LongitudeColumn,
	}, log)

	summary, err := driver.Run(ctx, files)
	if err != nil {
		return err
	}

	manifest, err := st.Export(cfg.Export.Dir, cfg.Export.Compress)
	if err != nil {
		return err
	}

	fmt.Printf("Store built in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Files ingested:  %d\n", summary.FilesProcessed)
	if len(summary.FailedFiles) > 0 {
		fmt.Printf("  Files skipped:   %d\n", len(summary.FailedFiles))
		for _, f := range summary.FailedFiles {
			if f.RowsCommitted > 0 {
				fmt.Printf("    - %s: %s (%d rows committed before the failure remain in the store)\n",
					f.Path, f.Error, f.RowsCommitted)
			} else {
				fmt.Printf("    - %s: %s\n", f.Path, f.Error)
			}
		}
	}
	fmt.Printf("  Rows:            %d (%d dropped during coercion)\n", summary.RowsIngested, summary.RowsDropped)
	fmt.Printf("  Columns:         %d (+geohash)\n", len(common.Columns))
	fmt.Printf("  Buckets:         %d\n", summary.Buckets)
	fmt.Printf("  Slices:          %d\n", summary.ChunksCommitted)
	fmt.Printf("  Table:           %s\n", filepath.Join(cfg.Export.Dir, manifest.TableFile))
	fmt.Printf("  Slice index:     %s\n", filepath.Join(cfg.Export.Dir, manifest.IndexFile))

	return nil
}

// serveMetrics exposes the Prometheus collectors for the duration of the
// build. The server dies with the process; long runs can be scraped,
// short ones simply exit.
func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
