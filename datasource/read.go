package datasource

import (
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/segmentio/parquet-go"
	"golang.org/x/exp/slices"

	"Shopify/parquet-datasource/compute"
	"Shopify/parquet-datasource/dataset"
)

// PathColumn is appended to every output table when the caller asked for
// source paths to be retained.
const PathColumn = "path"

// TableFilter drops rows from a decoded batch before partition columns are
// reconstructed. When a filter is configured the planner reports row counts
// as unknown.
type TableFilter func(*dataset.Table) (*dataset.Table, error)

// BlockTransform is applied to each output table right before it is yielded.
type BlockTransform func(*dataset.Table) (*dataset.Table, error)

// readConfig is the frozen read configuration shared by every task of one
// datasource.
type readConfig struct {
	columns      []string
	batchSize    int
	includePaths bool
	useThreads   bool
	filter       TableFilter
	transform    BlockTransform
}

// ReadTask owns one fragment group. It is created at planning time and
// consumed exactly once by a worker; the iterator it returns is forward-only
// and not restartable.
type ReadTask struct {
	Group FragmentGroup
	Meta  BlockMetadata

	logger   log.Logger
	resolver *RetryingResolver
	config   readConfig
}

func (t *ReadTask) Read() compute.TableIterator {
	it := &TableIterator{
		logger:   t.logger,
		resolver: t.resolver,
		group:    t.Group,
		config:   t.config,
	}
	if t.config.useThreads {
		// Decode the next table on a background goroutine while the
		// consumer processes the current one.
		return compute.NewConcurrent(it, 1)
	}
	return it
}

// TableIterator produces the non-empty tables of one fragment group.
// Fragments are processed strictly sequentially in input order; batches
// within a fragment are decoded lazily, one per Next call.
type TableIterator struct {
	logger   log.Logger
	resolver *RetryingResolver
	group    FragmentGroup
	config   readConfig

	resolved  bool
	fragments []*dataset.Fragment
	index     int
	current   *dataset.Fragment
	batches   *dataset.BatchIterator
}

// Next returns the next table, or io.EOF once the group is exhausted.
// A resolution failure is fatal to the whole group after the retry budget is
// spent; decode errors are surfaced without further retries.
func (it *TableIterator) Next() (*dataset.Table, error) {
	if !it.resolved {
		fragments, err := it.resolver.Resolve(it.group.Fragments)
		if err != nil {
			return nil, err
		}
		it.fragments = fragments
		it.resolved = true
		level.Debug(it.logger).Log("msg", "reading parquet fragments", "num_fragments", len(fragments))
	}

	for {
		if it.batches == nil {
			if it.index >= len(it.fragments) {
				return nil, io.EOF
			}
			it.current = it.fragments[it.index]
			it.index++
			it.batches = it.current.Batches(dataset.ReadOptions{
				Columns:   it.config.columns,
				BatchSize: it.config.batchSize,
			})
		}

		table, err := it.batches.Next()
		if err == io.EOF {
			it.batches.Close()
			it.batches = nil
			continue
		}
		if err != nil {
			return nil, err
		}

		table, err = it.augment(table)
		if err != nil {
			return nil, err
		}
		if table.NumRows() == 0 {
			continue
		}
		if it.config.transform != nil {
			return it.config.transform(table)
		}
		return table, nil
	}
}

func (it *TableIterator) Close() error {
	it.index = len(it.fragments)
	if it.batches != nil {
		it.batches.Close()
		it.batches = nil
	}
	return nil
}

func (it *TableIterator) augment(table *dataset.Table) (*dataset.Table, error) {
	var err error
	if it.config.filter != nil {
		table, err = it.config.filter(table)
		if err != nil {
			return nil, err
		}
	}

	for _, pv := range it.current.Partition() {
		if len(it.config.columns) > 0 && !slices.Contains(it.config.columns, pv.Key) {
			continue
		}
		column := dataset.Repeat(parquet.ValueOf(pv.Value), table.NumRows())
		if err := table.SetColumn(pv.Key, column); err != nil {
			return nil, err
		}
	}
	if it.config.includePaths {
		column := dataset.Repeat(parquet.ValueOf(it.current.Path()), table.NumRows())
		if err := table.SetColumn(PathColumn, column); err != nil {
			return nil, err
		}
	}
	return table, nil
}
