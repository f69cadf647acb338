package compute

import (
	"context"
	"io"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/thanos-io/thanos/pkg/runutil"
	"golang.org/x/sync/errgroup"

	"Shopify/parquet-datasource/dataset"
)

// TableIterator is a finite forward-only sequence of tables, ending with
// io.EOF.
type TableIterator interface {
	Next() (*dataset.Table, error)
	Close() error
}

// TaskSpec is one unit of parallel work: a lazily produced table sequence
// plus its scheduling hint.
type TaskSpec struct {
	Name      string
	Placement Placement
	Run       func(ctx context.Context) (TableIterator, error)
}

// Executor drains task table sequences with bounded parallelism. Tasks do
// not share state, so the only serialization point is the sink.
type Executor struct {
	logger      log.Logger
	parallelism int
}

func NewExecutor(logger log.Logger, parallelism int) *Executor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Executor{logger: logger, parallelism: parallelism}
}

// Fan runs n work items through fn with bounded parallelism and returns the
// first error. The placement hint travels with the batch so a distributed
// substrate can spread the items or pin them; the in-process implementation
// schedules everything locally.
func Fan(placement Placement, parallelism, n int, fn func(i int) error) error {
	if parallelism < 1 {
		parallelism = 1
	}
	var group errgroup.Group
	group.SetLimit(parallelism)
	for i := 0; i < n; i++ {
		i := i
		group.Go(func() error { return fn(i) })
	}
	return group.Wait()
}

// Execute runs every task and feeds each produced table to sink. The sink is
// called under a lock so it does not need to be safe for concurrent use.
// The first failing task cancels the rest; a task either completes or fails
// as a whole.
func (e *Executor) Execute(ctx context.Context, tasks []TaskSpec, sink func(*dataset.Table) error) error {
	var sinkMu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(e.parallelism)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			level.Debug(e.logger).Log("msg", "executing read task", "task", task.Name)
			tables, err := task.Run(ctx)
			if err != nil {
				return err
			}
			defer runutil.CloseWithLogOnErr(e.logger, tables, "close tables of task %s", task.Name)

			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				table, err := tables.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}

				sinkMu.Lock()
				err = sink(table)
				sinkMu.Unlock()
				if err != nil {
					return err
				}
			}
		})
	}
	return group.Wait()
}
