package compute

import (
	"io"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"

	"Shopify/parquet-datasource/dataset"
)

type testIterator struct {
	numTables int
	rows      int
	delay     time.Duration
	closed    bool
}

func (t *testIterator) Next() (*dataset.Table, error) {
	if t.numTables == 0 {
		return nil, io.EOF
	}
	<-time.After(t.delay)

	t.numTables--
	return dataset.NewTable(
		[]string{"val"},
		[][]parquet.Value{dataset.Repeat(parquet.ValueOf("val1"), t.rows)},
	)
}

func (t *testIterator) Close() error {
	t.closed = true
	return nil
}

func TestConcurrent(t *testing.T) {
	iterator := &testIterator{numTables: 2, rows: 2}

	var tablesSeen int
	c := NewConcurrent(iterator, 3)
	for {
		table, err := c.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 2, table.NumRows())
		tablesSeen++
	}

	require.NoError(t, c.Close())
	require.True(t, iterator.closed)
	require.Equal(t, 2, tablesSeen)
}

func TestConcurrentCancellation(t *testing.T) {
	iterator := &testIterator{numTables: 2, rows: 2, delay: 100 * time.Millisecond}

	c := NewConcurrent(iterator, 0)
	table, err := c.Next()
	require.NoError(t, err)
	require.Equal(t, 2, table.NumRows())

	require.NoError(t, c.Close())
}
