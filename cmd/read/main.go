package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/alecthomas/kingpin.v2"

	"Shopify/parquet-datasource/compute"
	"Shopify/parquet-datasource/dataset"
	"Shopify/parquet-datasource/datasource"
	"Shopify/parquet-datasource/sink"
	"Shopify/parquet-datasource/storage"
)

const filesystemName = "default"

type options struct {
	Provider    string
	Directory   string
	GCSBucket   string
	Root        string
	Columns     []string
	Parallelism int
	ShuffleSeed int64
	Shuffle     bool
	IncludePath bool
	CSVPrefix   string
	DebugAddr   string
}

func main() {
	app := kingpin.New("parquet-read", "Read a partitioned parquet dataset as tabular batches.")
	opts := options{}
	app.Flag("storage.provider", "Storage provider (FILESYSTEM or GCS).").Default(storage.ProviderFilesystem).EnumVar(&opts.Provider, storage.ProviderFilesystem, storage.ProviderGCS)
	app.Flag("storage.directory", "Directory for the FILESYSTEM provider.").Default("./data").StringVar(&opts.Directory)
	app.Flag("storage.gcs-bucket", "Bucket name for the GCS provider.").StringVar(&opts.GCSBucket)
	app.Flag("root", "Dataset root path inside the bucket.").Required().StringVar(&opts.Root)
	app.Flag("columns", "Columns to project. Repeatable; empty reads all.").StringsVar(&opts.Columns)
	app.Flag("parallelism", "Number of parallel read tasks.").Default("4").IntVar(&opts.Parallelism)
	app.Flag("shuffle-seed", "Shuffle fragment assignment with this seed.").Int64Var(&opts.ShuffleSeed)
	app.Flag("shuffle", "Enable fragment shuffling.").BoolVar(&opts.Shuffle)
	app.Flag("include-paths", "Append a source path column to every row.").BoolVar(&opts.IncludePath)
	app.Flag("csv-prefix", "Write blocks as CSV objects under this prefix instead of printing counts.").StringVar(&opts.CSVPrefix)
	app.Flag("debug.addr", "Expose pprof and metrics on this address.").StringVar(&opts.DebugAddr)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := level.NewFilter(log.NewLogfmtLogger(os.Stderr), level.AllowDebug())
	if opts.DebugAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			level.Error(logger).Log("err", http.ListenAndServe(opts.DebugAddr, nil))
		}()
	}

	storage.Register(filesystemName, storage.BucketConfig{
		Provider:   opts.Provider,
		GCS:        storage.GCSConfig{Bucket: opts.GCSBucket},
		Filesystem: storage.FilesystemConfig{Directory: opts.Directory},
	}, logger)

	var dsOpts []datasource.Option
	if len(opts.Columns) > 0 {
		dsOpts = append(dsOpts, datasource.WithColumns(opts.Columns...))
	}
	if opts.Shuffle {
		dsOpts = append(dsOpts, datasource.WithShuffle(opts.ShuffleSeed))
	}
	if opts.IncludePath {
		dsOpts = append(dsOpts, datasource.WithIncludePaths())
	}

	source, err := datasource.NewParquetDatasource(logger, filesystemName, opts.Root, dsOpts...)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open dataset", "err", err)
		os.Exit(1)
	}
	if estimate := source.EstimateInMemoryDataSize(); estimate != nil {
		level.Info(logger).Log("msg", "estimated in-memory dataset size", "bytes", *estimate)
	}

	var csvSink *sink.CSVSink
	if opts.CSVPrefix != "" {
		bucket, err := storage.Resolve(filesystemName)
		if err != nil {
			level.Error(logger).Log("msg", "failed to resolve bucket", "err", err)
			os.Exit(1)
		}
		csvSink = sink.NewCSVSink(bucket)
	}

	var totalRows, totalBlocks int
	executor := compute.NewExecutor(logger, opts.Parallelism)
	err = executor.Execute(context.Background(), source.TaskSpecs(opts.Parallelism), func(table *dataset.Table) error {
		totalRows += table.NumRows()
		totalBlocks++
		if csvSink != nil {
			name := fmt.Sprintf("%s/block-%06d.csv", opts.CSVPrefix, totalBlocks)
			return csvSink.WriteBlock(context.Background(), name, table)
		}
		return nil
	})
	if err != nil {
		level.Error(logger).Log("msg", "read failed", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "read finished", "blocks", totalBlocks, "rows", totalRows)
}
