package datasource

import (
	"io"
	"math"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/schollz/progressbar/v3"
	"github.com/thanos-io/thanos/pkg/runutil"

	"Shopify/parquet-datasource/compute"
	"Shopify/parquet-datasource/dataset"
)

// The number of rows to read per batch. Sized to produce ~10MiB batches for
// rows around 1KiB.
const ParquetReaderRowBatchSize = 10_000

// Parquet stores encoded (dictionary, RLE, delta) data and its statistics
// only record encoded sizes, so the decoded in-memory representation is a
// multiple of what the footer reports. The multiplier is estimated by
// sampling; these bound and default it. Under-estimating the expansion risks
// out-of-memory, so the aggregation leans toward over-estimation.
const (
	encodingRatioDefault    = 5.0
	encodingRatioLowerBound = 2.0

	encodingRatioSamplingRatio = 0.01
	encodingRatioMinSamples    = 2
	encodingRatioMaxSamples    = 10

	// Rows read from each sampled file. Kept low so sampling itself stays
	// cheap on memory.
	encodingRatioSampleRows = 1024

	sampleConcurrency = 8
)

// SampleInfo is the outcome of sampling one file. Nil fields mean the file
// produced no sampled rows; such samples must not poison the aggregate with
// zero or garbage ratios.
type SampleInfo struct {
	ActualBytesPerRow    *float64
	EstimatedBytesPerRow *float64
}

// numSamples picks how many files to sample: 1% of the corpus, clamped to
// [min(2, n), min(10, n)].
func numSamples(numFiles int) int {
	n := int(math.Round(float64(numFiles) * encodingRatioSamplingRatio))
	minSamples := encodingRatioMinSamples
	if numFiles < minSamples {
		minSamples = numFiles
	}
	maxSamples := encodingRatioMaxSamples
	if numFiles < maxSamples {
		maxSamples = numFiles
	}
	if n > maxSamples {
		n = maxSamples
	}
	if n < minSamples {
		n = minSamples
	}
	return n
}

// sampleIndexes spreads k file indexes evenly across [0, numFiles-1] by
// linear interpolation. Deliberately not random: skew in the input ordering
// should not bias which files get sampled.
func sampleIndexes(numFiles, k int) []int {
	if k <= 0 || numFiles == 0 {
		return nil
	}
	indexes := make([]int, k)
	if k == 1 {
		return indexes
	}
	step := float64(numFiles-1) / float64(k-1)
	for i := range indexes {
		indexes[i] = int(float64(i) * step)
	}
	return indexes
}

// sampleFragment reads at most one batch from the first row group of the
// fragment behind handle. An empty file yields an absent sample, not an
// error.
func sampleFragment(logger log.Logger, resolver *RetryingResolver, columns []string, handle FragmentHandle) (SampleInfo, error) {
	fragments, err := resolver.Resolve([]FragmentHandle{handle})
	if err != nil {
		return SampleInfo{}, err
	}
	fragment := fragments[0]
	if fragment.NumRowGroups() == 0 {
		return SampleInfo{}, nil
	}

	batchSize := fragment.RowGroupNumRows(0)
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > encodingRatioSampleRows {
		batchSize = encodingRatioSampleRows
	}

	batches := fragment.Batches(dataset.ReadOptions{
		Columns:   columns,
		BatchSize: int(batchSize),
		RowGroups: []int{0},
	})
	defer runutil.CloseWithLogOnErr(logger, batches, "close sample batches")

	table, err := batches.Next()
	if err == io.EOF {
		return SampleInfo{}, nil
	}
	if err != nil {
		return SampleInfo{}, err
	}
	if table.NumRows() == 0 {
		return SampleInfo{}, nil
	}

	metadata := fragment.Metadata()
	actual := float64(table.SizeBytes()) / float64(table.NumRows())
	estimated := float64(metadata.TotalByteSize) / float64(metadata.NumRows)
	return SampleInfo{
		ActualBytesPerRow:    &actual,
		EstimatedBytesPerRow: &estimated,
	}, nil
}

// sampleFragments fans the per-file sampling out concurrently and blocks
// until every sample is in. The sampling work carries the same placement
// hint as the read tasks it sizes.
func sampleFragments(logger log.Logger, placement compute.Placement, resolver *RetryingResolver, handles []FragmentHandle, columns []string) ([]SampleInfo, error) {
	indexes := sampleIndexes(len(handles), numSamples(len(handles)))

	samples := make([]SampleInfo, len(indexes))
	bar := progressbar.Default(int64(len(indexes)), "parquet files sample")

	err := compute.Fan(placement, sampleConcurrency, len(indexes), func(i int) error {
		sample, err := sampleFragment(logger, resolver, columns, handles[indexes[i]])
		if err != nil {
			return err
		}
		samples[i] = sample
		_ = bar.Add(1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = bar.Finish()

	level.Debug(logger).Log("msg", "sampled parquet fragments", "num_samples", len(samples))
	return samples, nil
}

// estimateEncodingRatio aggregates samples into one conservative ratio of
// in-memory bytes to encoded on-disk bytes.
func estimateEncodingRatio(logger log.Logger, samples []SampleInfo, ctx Context) float64 {
	if !ctx.SizeEstimationEnabled || len(samples) == 0 {
		return encodingRatioDefault
	}

	var sum float64
	for _, sample := range samples {
		if sample.ActualBytesPerRow == nil || sample.EstimatedBytesPerRow == nil {
			sum += encodingRatioLowerBound
			continue
		}
		sum += *sample.ActualBytesPerRow / *sample.EstimatedBytesPerRow
	}
	ratio := sum / float64(len(samples))
	level.Debug(logger).Log("msg", "estimated parquet encoding ratio from sampling", "ratio", ratio)

	if ratio < encodingRatioLowerBound {
		return encodingRatioLowerBound
	}
	return ratio
}

// estimateBatchRows derives the default rows-per-batch from the sampled
// in-memory row sizes, targeting a tenth of the configured block size per
// batch. The mean may be fractional; consumers truncate as needed.
func estimateBatchRows(samples []SampleInfo, ctx Context) float64 {
	if len(samples) == 0 {
		return ParquetReaderRowBatchSize
	}

	var sum float64
	for _, sample := range samples {
		if sample.ActualBytesPerRow == nil {
			sum += ParquetReaderRowBatchSize
			continue
		}
		rows := math.Floor(float64(ctx.TargetMaxBlockBytes/10) / *sample.ActualBytesPerRow)
		if rows < 1 {
			rows = 1
		}
		if rows > ParquetReaderRowBatchSize {
			rows = ParquetReaderRowBatchSize
		}
		sum += rows
	}
	return sum / float64(len(samples))
}
