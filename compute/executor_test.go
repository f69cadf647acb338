package compute

import (
	"context"
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"Shopify/parquet-datasource/dataset"
)

func TestExecutorDrainsAllTasks(t *testing.T) {
	iterators := []*testIterator{
		{numTables: 3, rows: 2},
		{numTables: 1, rows: 5},
		{numTables: 0},
	}
	tasks := make([]TaskSpec, 0, len(iterators))
	for _, iterator := range iterators {
		iterator := iterator
		tasks = append(tasks, TaskSpec{
			Name:      "task",
			Placement: Spread(),
			Run: func(context.Context) (TableIterator, error) {
				return iterator, nil
			},
		})
	}

	executor := NewExecutor(log.NewNopLogger(), 2)
	totalRows := 0
	err := executor.Execute(context.Background(), tasks, func(table *dataset.Table) error {
		totalRows += table.NumRows()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3*2+1*5, totalRows)
	for _, iterator := range iterators {
		require.True(t, iterator.closed)
	}
}

func TestExecutorPropagatesTaskError(t *testing.T) {
	startErr := errors.New("cannot start")
	tasks := []TaskSpec{
		{Run: func(context.Context) (TableIterator, error) { return nil, startErr }},
	}

	executor := NewExecutor(log.NewNopLogger(), 1)
	err := executor.Execute(context.Background(), tasks, func(*dataset.Table) error { return nil })
	require.Same(t, startErr, err)
}

func TestExecutorPropagatesSinkError(t *testing.T) {
	iterator := &testIterator{numTables: 5, rows: 1}
	tasks := []TaskSpec{
		{Run: func(context.Context) (TableIterator, error) { return iterator, nil }},
	}

	sinkErr := errors.New("sink is full")
	executor := NewExecutor(log.NewNopLogger(), 1)
	err := executor.Execute(context.Background(), tasks, func(*dataset.Table) error { return sinkErr })
	require.Same(t, sinkErr, err)
	require.True(t, iterator.closed)
}

func TestFan(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]int)

	err := Fan(Spread(), 4, 100, func(i int) error {
		mu.Lock()
		defer mu.Unlock()
		seen[i]++
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 100)
	for i, count := range seen {
		require.Equal(t, 1, count, "item %d", i)
	}

	itemErr := errors.New("item 7 broke")
	err = Fan(OnNode("node-1"), 1, 10, func(i int) error {
		if i == 7 {
			return itemErr
		}
		return nil
	})
	require.Same(t, itemErr, err)
}

func TestExecutorHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	iterator := &testIterator{numTables: 100, rows: 1}
	tasks := []TaskSpec{
		{Run: func(context.Context) (TableIterator, error) { return iterator, nil }},
	}

	executor := NewExecutor(log.NewNopLogger(), 1)
	err := executor.Execute(ctx, tasks, func(*dataset.Table) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
