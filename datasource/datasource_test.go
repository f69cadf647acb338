package datasource

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"

	"Shopify/parquet-datasource/compute"
	"Shopify/parquet-datasource/dataset"
	"Shopify/parquet-datasource/pqtest"
	"Shopify/parquet-datasource/storage"
)

func registerDataset(t *testing.T, files map[string][][]pqtest.Row) string {
	t.Helper()
	dir := t.TempDir()
	for path, rowGroups := range files {
		require.NoError(t, pqtest.WriteFile(filepath.Join(dir, path), rowGroups))
	}
	filesystem := t.Name()
	storage.Register(filesystem, storage.BucketConfig{
		Provider:   storage.ProviderFilesystem,
		Filesystem: storage.FilesystemConfig{Directory: dir},
	}, nil)
	return filesystem
}

func drainTasks(t *testing.T, tasks []ReadTask) []*dataset.Table {
	t.Helper()
	var tables []*dataset.Table
	for i := range tasks {
		iterator := tasks[i].Read()
		for {
			table, err := iterator.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			tables = append(tables, table)
		}
		require.NoError(t, iterator.Close())
	}
	return tables
}

func countRows(tables []*dataset.Table) int {
	total := 0
	for _, table := range tables {
		total += table.NumRows()
	}
	return total
}

func TestParquetDatasourceRead(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/label=a/part-0.parquet": {pqtest.MakeRows(10, "a")},
		"data/label=a/part-1.parquet": {pqtest.MakeRows(5, "a")},
		"data/label=b/part-0.parquet": {pqtest.MakeRows(7, "b"), pqtest.MakeRows(3, "b")},
	})

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data")
	require.NoError(t, err)
	require.Equal(t, "Parquet", source.Name())
	require.True(t, source.SupportsDistributedReads())
	require.NotNil(t, source.Schema())
	require.GreaterOrEqual(t, source.EncodingRatio(), 2.0)

	tasks := source.GetReadTasks(2)
	require.Len(t, tasks, 2)

	var plannedRows int64
	for _, task := range tasks {
		require.NotNil(t, task.Meta.NumRows)
		require.NotNil(t, task.Meta.SizeBytes)
		plannedRows += *task.Meta.NumRows
	}
	require.Equal(t, int64(25), plannedRows)

	tables := drainTasks(t, tasks)
	require.Equal(t, 25, countRows(tables))

	// Partition columns come back as real columns.
	for _, table := range tables {
		labels, ok := table.ColumnByName("label")
		require.True(t, ok)
		require.Contains(t, []string{"a", "b"}, labels[0].String())
	}
}

func TestParquetDatasourceEstimateInMemoryDataSize(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(100, "a")},
		"data/part-1.parquet": {pqtest.MakeRows(50, "b")},
	})

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data")
	require.NoError(t, err)

	bucket, err := storage.Resolve(filesystem)
	require.NoError(t, err)
	var onDisk int64
	for _, path := range []string{"data/part-0.parquet", "data/part-1.parquet"} {
		fragment, err := dataset.OpenFragment(bucket, path, "data")
		require.NoError(t, err)
		onDisk += fragment.Metadata().TotalByteSize
	}

	estimate := source.EstimateInMemoryDataSize()
	require.NotNil(t, estimate)
	require.Equal(t, int64(float64(onDisk)*source.EncodingRatio()), *estimate)
}

func TestParquetDatasourceProjection(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/label=a/part-0.parquet": {pqtest.MakeRows(4, "a")},
	})

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data", WithColumns("id"))
	require.NoError(t, err)

	tables := drainTasks(t, source.GetReadTasks(1))
	require.NotEmpty(t, tables)
	for _, table := range tables {
		// The label partition column is not in the projection, so it is
		// not reconstructed.
		require.Equal(t, []string{"id"}, table.Names())
	}
}

func TestParquetDatasourceProjectedPartitionColumn(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/label=a/part-0.parquet": {pqtest.MakeRows(4, "a")},
	})

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data", WithColumns("id", "label"))
	require.NoError(t, err)

	tables := drainTasks(t, source.GetReadTasks(1))
	require.NotEmpty(t, tables)
	labels, ok := tables[0].ColumnByName("label")
	require.True(t, ok)
	require.Equal(t, "a", labels[0].String())
}

func TestParquetDatasourceIncludePaths(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(3, "a")},
	})

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data", WithIncludePaths())
	require.NoError(t, err)

	tables := drainTasks(t, source.GetReadTasks(1))
	require.NotEmpty(t, tables)
	paths, ok := tables[0].ColumnByName(PathColumn)
	require.True(t, ok)
	require.Equal(t, "data/part-0.parquet", paths[0].String())
}

func TestParquetDatasourceFilter(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(10, "a")},
	})

	keepEvenIDs := func(table *dataset.Table) (*dataset.Table, error) {
		ids, _ := table.ColumnByName("id")
		columns := make([][]parquet.Value, table.NumColumns())
		for row := range ids {
			if ids[row].Int64()%2 != 0 {
				continue
			}
			for col := 0; col < table.NumColumns(); col++ {
				columns[col] = append(columns[col], table.Column(col)[row])
			}
		}
		return dataset.NewTable(table.Names(), columns)
	}

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data", WithFilter(keepEvenIDs))
	require.NoError(t, err)

	tasks := source.GetReadTasks(1)
	require.Len(t, tasks, 1)
	// Filtered cardinality is unpredictable at planning time.
	require.Nil(t, tasks[0].Meta.NumRows)

	tables := drainTasks(t, tasks)
	require.Equal(t, 5, countRows(tables))
}

func TestParquetDatasourceDropsEmptyBlocks(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(4, "a")},
	})

	dropAll := func(table *dataset.Table) (*dataset.Table, error) {
		return dataset.NewTable(table.Names(), make([][]parquet.Value, table.NumColumns()))
	}

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data", WithFilter(dropAll))
	require.NoError(t, err)

	tables := drainTasks(t, source.GetReadTasks(1))
	require.Empty(t, tables)
}

func TestParquetDatasourceBlockTransform(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(3, "a")},
	})

	tag := func(table *dataset.Table) (*dataset.Table, error) {
		err := table.SetColumn("source", dataset.Repeat(parquet.ValueOf("unit"), table.NumRows()))
		return table, err
	}

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data", WithBlockTransform(tag))
	require.NoError(t, err)

	tables := drainTasks(t, source.GetReadTasks(1))
	require.NotEmpty(t, tables)
	sources, ok := tables[0].ColumnByName("source")
	require.True(t, ok)
	require.Equal(t, "unit", sources[0].String())
}

func TestParquetDatasourceUseThreads(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(6, "a"), pqtest.MakeRows(4, "a")},
	})

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data",
		WithUseThreads(true), WithBatchSize(3))
	require.NoError(t, err)

	tasks := source.GetReadTasks(1)
	require.Len(t, tasks, 1)

	// Decoding runs ahead of the consumer on a background goroutine.
	iterator := tasks[0].Read()
	_, ok := iterator.(*compute.Concurrent)
	require.True(t, ok)

	total := 0
	for {
		table, err := iterator.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		total += table.NumRows()
	}
	require.NoError(t, iterator.Close())
	require.Equal(t, 10, total)
}

func TestParquetDatasourceBatchSizeOverride(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(10, "a")},
	})

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data", WithBatchSize(4))
	require.NoError(t, err)

	tables := drainTasks(t, source.GetReadTasks(1))
	var sizes []int
	for _, table := range tables {
		sizes = append(sizes, table.NumRows())
	}
	require.Equal(t, []int{4, 4, 2}, sizes)
}

func TestParquetDatasourceShuffleIsDeterministic(t *testing.T) {
	files := map[string][][]pqtest.Row{}
	for i := 0; i < 12; i++ {
		files[filepath.Join("data", "part-"+string(rune('a'+i))+".parquet")] = [][]pqtest.Row{pqtest.MakeRows(2, "a")}
	}
	filesystem := registerDataset(t, files)

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data", WithShuffle(42))
	require.NoError(t, err)

	first := source.GetReadTasks(4)
	second := source.GetReadTasks(4)
	require.Len(t, first, 4)
	for i := range first {
		require.Equal(t, first[i].Group.Paths, second[i].Group.Paths)
	}

	tables := drainTasks(t, first)
	require.Equal(t, 24, countRows(tables))
}

func TestParquetDatasourceRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, pqtest.WriteFile(filepath.Join(dir, "data/part-0.parquet"), [][]pqtest.Row{
		pqtest.MakeRows(2, "a"),
	}))
	require.NoError(t, pqtest.WriteEmptyFile(filepath.Join(dir, "data/part-1.parquet")))

	filesystem := t.Name()
	storage.Register(filesystem, storage.BucketConfig{
		Provider:   storage.ProviderFilesystem,
		Filesystem: storage.FilesystemConfig{Directory: dir},
	}, nil)

	_, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestParquetDatasourceSingleFileRoot(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(6, "a")},
	})

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data/part-0.parquet")
	require.NoError(t, err)

	tables := drainTasks(t, source.GetReadTasks(3))
	require.Equal(t, 6, countRows(tables))
}

func TestParquetDatasourceNoFiles(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.txt": {pqtest.MakeRows(1, "a")},
	})

	_, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data")
	require.Error(t, err)
}

func TestParquetDatasourceLocalPlacement(t *testing.T) {
	filesystem := registerDataset(t, map[string][][]pqtest.Row{
		"data/part-0.parquet": {pqtest.MakeRows(2, "a")},
	})

	_, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data",
		WithExecutionContext(compute.ExecutionContext{Distributed: true}))
	require.ErrorIs(t, err, ErrPlacementConstraint)

	source, err := NewParquetDatasource(log.NewNopLogger(), filesystem, "data",
		WithExecutionContext(compute.ExecutionContext{Distributed: false, NodeID: "node-1"}))
	require.NoError(t, err)
	require.False(t, source.SupportsDistributedReads())

	specs := source.TaskSpecs(1)
	require.Len(t, specs, 1)
	require.Equal(t, "Parquet-0", specs[0].Name)
	require.False(t, specs[0].Placement.Spread)
	require.Equal(t, "node-1", specs[0].Placement.Node)
}
