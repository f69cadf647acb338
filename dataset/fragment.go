package dataset

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"

	"Shopify/parquet-datasource/storage"
)

const ReadBufferSize = 4 * 1024

// ErrEmptyFile marks files that report a zero usable size. Readers treat it
// as malformed input rather than an empty dataset.
var ErrEmptyFile = errors.New("parquet file size is 0 bytes")

// FileMetadata carries the per-file statistics used for planning: the total
// row count and the encoded on-disk byte size of all row groups.
type FileMetadata struct {
	NumRows       int64
	TotalByteSize int64
}

// Fragment is one live parquet file within a partitioned dataset. Opening a
// fragment reads the file footer through range requests against the bucket.
type Fragment struct {
	path      string
	file      *parquet.File
	partition []PartitionValue
}

// OpenFragment opens the object at path as a parquet fragment. Partition
// key/values are derived from the path segments below root.
func OpenFragment(bucket objstore.Bucket, path, root string) (*Fragment, error) {
	return OpenFragmentAt(bucket, path, PartitionValues(path, root))
}

// OpenFragmentAt opens a fragment with an already known partition
// expression, as carried by a serialized handle.
func OpenFragmentAt(bucket objstore.Bucket, path string, partition []PartitionValue) (*Fragment, error) {
	attrs, err := bucket.Attributes(context.Background(), path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading attributes of %s", path)
	}
	if attrs.Size == 0 {
		return nil, errors.Wrap(ErrEmptyFile, path)
	}

	reader := storage.NewBucketReader(path, bucket)
	file, err := parquet.OpenFile(reader, attrs.Size, parquet.ReadBufferSize(ReadBufferSize))
	if err != nil {
		return nil, errors.Wrapf(err, "opening parquet file %s", path)
	}

	return &Fragment{
		path:      path,
		file:      file,
		partition: partition,
	}, nil
}

func (f *Fragment) Path() string                { return f.path }
func (f *Fragment) Schema() *parquet.Schema     { return f.file.Schema() }
func (f *Fragment) Partition() []PartitionValue { return f.partition }
func (f *Fragment) NumRowGroups() int           { return len(f.file.RowGroups()) }

func (f *Fragment) Metadata() FileMetadata {
	md := f.file.Metadata()
	var totalSize int64
	for _, rowGroup := range md.RowGroups {
		totalSize += rowGroup.TotalByteSize
	}
	return FileMetadata{NumRows: md.NumRows, TotalByteSize: totalSize}
}

// RowGroupNumRows returns the row count of one row group from the file
// statistics, without decoding any data.
func (f *Fragment) RowGroupNumRows(i int) int64 {
	return f.file.Metadata().RowGroups[i].NumRows
}

// ReadOptions control batch production for one fragment.
type ReadOptions struct {
	// Columns restricts output to the named leaf columns. Empty means all.
	Columns []string
	// BatchSize is the number of rows to materialize per decode call.
	BatchSize int
	// RowGroups restricts reading to the listed row group indexes.
	// Empty means all row groups.
	RowGroups []int
}

// Batches returns a forward-only iterator over row batches. Row groups are
// consumed strictly in order; each call to Next decodes at most BatchSize
// rows.
func (f *Fragment) Batches(opts ReadOptions) *BatchIterator {
	rowGroups := f.file.RowGroups()
	if len(opts.RowGroups) > 0 {
		selected := make([]parquet.RowGroup, 0, len(opts.RowGroups))
		for _, i := range opts.RowGroups {
			selected = append(selected, rowGroups[i])
		}
		rowGroups = selected
	}

	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchIterator{
		fragment:  f,
		rowGroups: rowGroups,
		selection: newColumnSelection(f.file.Schema(), opts.Columns),
		batchSize: batchSize,
	}
}

// columnSelection maps leaf column indexes to output column positions.
type columnSelection struct {
	names   []string
	mapping map[int]int
}

func newColumnSelection(schema *parquet.Schema, columns []string) columnSelection {
	leaves := leafNames(schema)
	requested := make(map[string]struct{}, len(columns))
	for _, name := range columns {
		requested[name] = struct{}{}
	}

	selection := columnSelection{mapping: make(map[int]int)}
	for i, name := range leaves {
		if len(columns) > 0 {
			if _, ok := requested[name]; !ok {
				continue
			}
		}
		selection.mapping[i] = len(selection.names)
		selection.names = append(selection.names, name)
	}
	return selection
}

func leafNames(schema *parquet.Schema) []string {
	paths := schema.Columns()
	names := make([]string, len(paths))
	for i, path := range paths {
		names[i] = strings.Join(path, ".")
	}
	return names
}

type BatchIterator struct {
	fragment  *Fragment
	rowGroups []parquet.RowGroup
	selection columnSelection
	batchSize int

	groupIndex int
	rows       parquet.Rows
	buffer     []parquet.Row
}

// Next returns the next decoded batch, or io.EOF after the last one.
func (it *BatchIterator) Next() (*Table, error) {
	for {
		if it.rows == nil {
			if it.groupIndex >= len(it.rowGroups) {
				return nil, io.EOF
			}
			it.rows = it.rowGroups[it.groupIndex].Rows()
			it.groupIndex++
		}
		if it.buffer == nil {
			it.buffer = make([]parquet.Row, it.batchSize)
		}

		n, err := it.rows.ReadRows(it.buffer)
		if n > 0 {
			table, tableErr := it.makeTable(it.buffer[:n])
			if tableErr != nil {
				return nil, tableErr
			}
			if err == io.EOF {
				it.closeRows()
			}
			return table, nil
		}
		it.closeRows()
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "decoding batch from %s", it.fragment.path)
		}
	}
}

func (it *BatchIterator) Close() error {
	it.groupIndex = len(it.rowGroups)
	it.closeRows()
	return nil
}

func (it *BatchIterator) closeRows() {
	if it.rows != nil {
		it.rows.Close()
		it.rows = nil
	}
}

func (it *BatchIterator) makeTable(rows []parquet.Row) (*Table, error) {
	columns := make([][]parquet.Value, len(it.selection.names))
	for i := range columns {
		columns[i] = make([]parquet.Value, 0, len(rows))
	}
	// Values reference the reader's internal buffers, so they are cloned
	// before they outlive the next ReadRows call.
	for _, row := range rows {
		for _, value := range row {
			if position, ok := it.selection.mapping[value.Column()]; ok {
				columns[position] = append(columns[position], value.Clone())
			}
		}
	}
	return NewTable(it.selection.names, columns)
}
