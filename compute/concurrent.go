package compute

import (
	"context"
	"io"

	"Shopify/parquet-datasource/dataset"
)

type maybeTable struct {
	table *dataset.Table
	err   error
}

// Concurrent wraps a TableIterator so the next table is decoded while the
// consumer processes the current one.
type Concurrent struct {
	tables TableIterator

	buffer chan maybeTable

	ctx    context.Context
	cancel context.CancelFunc
}

func NewConcurrent(tables TableIterator, bufferSize int64) *Concurrent {
	c := &Concurrent{
		tables: tables,
		buffer: make(chan maybeTable, bufferSize),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.pullNextTable()

	return c
}

func (c *Concurrent) Next() (*dataset.Table, error) {
	next, ok := <-c.buffer
	if !ok {
		return nil, io.EOF
	}
	return next.table, next.err
}

func (c *Concurrent) pullNextTable() {
	defer close(c.buffer)
	for {
		select {
		case <-c.ctx.Done():
			c.buffer <- maybeTable{err: c.ctx.Err()}
			return
		default:
			table, err := c.tables.Next()
			c.buffer <- maybeTable{table: table, err: err}
			if err != nil {
				return
			}
		}
	}
}

func (c *Concurrent) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	for range c.buffer {
	}
	return c.tables.Close()
}
