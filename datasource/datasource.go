package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"Shopify/parquet-datasource/compute"
	"Shopify/parquet-datasource/dataset"
	"Shopify/parquet-datasource/storage"
)

const prefetchConcurrency = 32

type options struct {
	columns        []string
	batchSize      int
	useThreads     bool
	includePaths   bool
	shuffleSeed    *int64
	filter         TableFilter
	transform      BlockTransform
	metaProvider   MetadataProvider
	fileExtensions []string
	pathFilter     func(path string) bool
	retryPolicy    RetryPolicy
	execution      compute.ExecutionContext
	resolver       FragmentResolver
}

type Option func(*options)

// WithColumns restricts reads to the named columns. Partition columns not in
// the projection are not reconstructed.
func WithColumns(columns ...string) Option {
	return func(o *options) { o.columns = columns }
}

// WithBatchSize overrides the derived default rows-per-batch.
func WithBatchSize(rows int) Option {
	return func(o *options) { o.batchSize = rows }
}

// WithUseThreads overlaps decoding with consumption: each read task decodes
// its next table on a background goroutine. Off by default for this path.
func WithUseThreads(useThreads bool) Option {
	return func(o *options) { o.useThreads = useThreads }
}

// WithIncludePaths appends a column holding the source file path of each row.
func WithIncludePaths() Option {
	return func(o *options) { o.includePaths = true }
}

// WithShuffle randomizes fragment-to-task assignment with the given seed.
// The same seed always yields the same assignment.
func WithShuffle(seed int64) Option {
	return func(o *options) { o.shuffleSeed = &seed }
}

// WithFilter installs a row filter. Planned row counts become unknown since
// the filtered cardinality cannot be predicted.
func WithFilter(filter TableFilter) Option {
	return func(o *options) { o.filter = filter }
}

// WithBlockTransform applies a user transform to every output table.
func WithBlockTransform(transform BlockTransform) Option {
	return func(o *options) { o.transform = transform }
}

func WithMetadataProvider(provider MetadataProvider) Option {
	return func(o *options) { o.metaProvider = provider }
}

// WithFileExtensions filters expanded paths by suffix. Defaults to .parquet.
func WithFileExtensions(extensions ...string) Option {
	return func(o *options) { o.fileExtensions = extensions }
}

// WithPathFilter keeps only paths accepted by the predicate, e.g. a
// partition filter.
func WithPathFilter(filter func(path string) bool) Option {
	return func(o *options) { o.pathFilter = filter }
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *options) { o.retryPolicy = policy }
}

// WithExecutionContext tells the datasource where its read tasks will run.
func WithExecutionContext(execution compute.ExecutionContext) Option {
	return func(o *options) { o.execution = execution }
}

// WithResolver swaps the fragment resolver, used by tests to inject
// failures.
func WithResolver(resolver FragmentResolver) Option {
	return func(o *options) { o.resolver = resolver }
}

// ParquetDatasource plans and executes parallel reads over one partitioned
// parquet dataset. The fragment list and schema are immutable after
// construction and may be read concurrently.
type ParquetDatasource struct {
	logger log.Logger
	opts   options

	filesystem string
	pathRoot   string

	handles  []FragmentHandle
	paths    []string
	metadata []*dataset.FileMetadata
	schema   *parquet.Schema

	resolver     *RetryingResolver
	metaProvider MetadataProvider
	placement    compute.Placement

	encodingRatio        float64
	defaultBatchSizeRows float64
}

// NewParquetDatasource expands root into its parquet fragments, prefetches
// their statistics and samples a few of them to size read batches. The
// filesystem name must be registered in the storage registry.
func NewParquetDatasource(logger log.Logger, filesystem, root string, opts ...Option) (*ParquetDatasource, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	o := options{
		fileExtensions: []string{".parquet"},
		metaProvider:   DefaultMetadataProvider(),
		retryPolicy:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	local := storage.IsLocal(filesystem)
	if local && o.execution.Distributed {
		return nil, errors.Wrapf(ErrPlacementConstraint,
			"dataset under %q is only reachable from this node; store files in shared object storage", root)
	}

	bucket, err := storage.Resolve(filesystem)
	if err != nil {
		return nil, err
	}

	pathRoot := strings.TrimSuffix(root, "/")
	paths, err := expandPaths(bucket, pathRoot, o)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no parquet files found under %q", root)
	}

	d := &ParquetDatasource{
		logger:       logger,
		opts:         o,
		filesystem:   filesystem,
		pathRoot:     pathRoot,
		paths:        paths,
		metaProvider: o.metaProvider,
		placement:    compute.Spread(),
	}
	if local {
		d.placement = compute.OnNode(o.execution.NodeID)
	}

	if err := d.prefetchMetadata(bucket); err != nil {
		return nil, err
	}

	d.resolver = NewRetryingResolver(logger, o.resolver, o.retryPolicy)
	samples, err := sampleFragments(logger, d.placement, d.resolver, d.handles, o.columns)
	if err != nil {
		return nil, err
	}
	processContext := CurrentContext()
	d.encodingRatio = estimateEncodingRatio(logger, samples, processContext)
	d.defaultBatchSizeRows = estimateBatchRows(samples, processContext)

	level.Debug(logger).Log(
		"msg", "constructed parquet datasource",
		"root", root,
		"num_fragments", len(d.handles),
		"encoding_ratio", d.encodingRatio,
		"default_batch_size_rows", d.defaultBatchSizeRows,
	)
	return d, nil
}

// prefetchMetadata opens every fragment once to collect file statistics and
// partition values, and builds the serializable handles. A file reporting a
// zero usable size is malformed input and fails the whole construction.
func (d *ParquetDatasource) prefetchMetadata(bucket objstore.Bucket) error {
	d.handles = make([]FragmentHandle, len(d.paths))
	d.metadata = make([]*dataset.FileMetadata, len(d.paths))

	var schemaMu sync.Mutex

	var group errgroup.Group
	group.SetLimit(prefetchConcurrency)
	for i, path := range d.paths {
		i, path := i, path
		group.Go(func() error {
			fragment, err := dataset.OpenFragment(bucket, path, d.pathRoot)
			if err != nil {
				if errors.Is(err, dataset.ErrEmptyFile) {
					return errors.Wrap(ErrInvalidInput, err.Error())
				}
				return err
			}

			metadata := fragment.Metadata()
			d.metadata[i] = &metadata
			d.handles[i] = FragmentHandle{
				Format:     FormatParquet,
				Path:       path,
				Filesystem: d.filesystem,
				Partition:  fragment.Partition(),
			}

			schemaMu.Lock()
			if d.schema == nil {
				d.schema = fragment.Schema()
			}
			schemaMu.Unlock()
			return nil
		})
	}
	return group.Wait()
}

func expandPaths(bucket objstore.Bucket, root string, o options) ([]string, error) {
	ctx := context.Background()

	matches := func(path string) bool {
		if len(o.fileExtensions) > 0 {
			var ok bool
			for _, extension := range o.fileExtensions {
				if strings.HasSuffix(path, extension) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		return o.pathFilter == nil || o.pathFilter(path)
	}

	// The root may name a single file rather than a directory.
	if exists, err := bucket.Exists(ctx, root); err != nil {
		return nil, err
	} else if exists {
		if !matches(root) {
			return nil, nil
		}
		return []string{root}, nil
	}

	var paths []string
	err := bucket.Iter(ctx, root+"/", func(path string) error {
		if matches(path) {
			paths = append(paths, path)
		}
		return nil
	}, objstore.WithRecursiveIter)
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

// Name returns a human-readable name for this datasource, used as the name
// of its read tasks.
func (d *ParquetDatasource) Name() string { return "Parquet" }

// SupportsDistributedReads is false when the dataset only resolves on the
// constructing node.
func (d *ParquetDatasource) SupportsDistributedReads() bool {
	return !storage.IsLocal(d.filesystem)
}

func (d *ParquetDatasource) Schema() *parquet.Schema { return d.schema }

// EncodingRatio is the estimated multiplier from encoded on-disk bytes to
// decoded in-memory bytes.
func (d *ParquetDatasource) EncodingRatio() float64 { return d.encodingRatio }

// DefaultBatchSizeRows is the derived rows-per-batch used when the caller
// does not override the batch size.
func (d *ParquetDatasource) DefaultBatchSizeRows() float64 { return d.defaultBatchSizeRows }

// EstimateInMemoryDataSize estimates the decoded size of the whole dataset.
// It is a planning hint only; nil means no metadata was prefetched.
func (d *ParquetDatasource) EstimateInMemoryDataSize() *int64 {
	var totalSize int64
	seen := false
	for _, metadata := range d.metadata {
		if metadata == nil {
			continue
		}
		seen = true
		totalSize += metadata.TotalByteSize
	}
	if !seen {
		return nil
	}
	estimate := int64(float64(totalSize) * d.encodingRatio)
	return &estimate
}

// GetReadTasks partitions the fragment list into at most parallelism tasks.
// Each task owns a disjoint slice of the dataset; a task is consumed exactly
// once.
func (d *ParquetDatasource) GetReadTasks(parallelism int) []ReadTask {
	groups := partitionFragments(d.handles, d.paths, d.metadata, parallelism, d.opts.shuffleSeed)

	batchSize := d.opts.batchSize
	if batchSize <= 0 {
		batchSize = int(d.defaultBatchSizeRows)
	}
	if batchSize < 1 {
		batchSize = 1
	}
	config := readConfig{
		columns:      d.opts.columns,
		batchSize:    batchSize,
		includePaths: d.opts.includePaths,
		useThreads:   d.opts.useThreads,
		filter:       d.opts.filter,
		transform:    d.opts.transform,
	}

	tasks := make([]ReadTask, 0, len(groups))
	for _, group := range groups {
		meta := d.metaProvider.GroupMetadata(group.Paths, d.schema, len(group.Fragments), group.Metadata)
		// A row filter makes the output row count unpredictable; report it
		// as unknown rather than stale.
		if d.opts.filter != nil {
			meta.NumRows = nil
		}
		if meta.SizeBytes != nil {
			scaled := int64(float64(*meta.SizeBytes) * d.encodingRatio)
			meta.SizeBytes = &scaled
		}
		tasks = append(tasks, ReadTask{
			Group:    group,
			Meta:     meta,
			logger:   d.logger,
			resolver: d.resolver,
			config:   config,
		})
	}
	return tasks
}

// TaskSpecs adapts the read tasks for the execution substrate, carrying the
// datasource's placement hint.
func (d *ParquetDatasource) TaskSpecs(parallelism int) []compute.TaskSpec {
	tasks := d.GetReadTasks(parallelism)
	specs := make([]compute.TaskSpec, 0, len(tasks))
	for i := range tasks {
		task := &tasks[i]
		specs = append(specs, compute.TaskSpec{
			Name:      fmt.Sprintf("%s-%d", d.Name(), i),
			Placement: d.placement,
			Run: func(context.Context) (compute.TableIterator, error) {
				return task.Read(), nil
			},
		})
	}
	return specs
}
