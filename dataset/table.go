package dataset

import (
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
)

// Table is a column-major batch of decoded values. Columns are parallel to
// names and all have the same length.
type Table struct {
	names   []string
	columns [][]parquet.Value
	numRows int
}

func NewTable(names []string, columns [][]parquet.Value) (*Table, error) {
	if len(names) != len(columns) {
		return nil, errors.Errorf("table has %d names but %d columns", len(names), len(columns))
	}
	numRows := 0
	if len(columns) > 0 {
		numRows = len(columns[0])
	}
	for i, column := range columns {
		if len(column) != numRows {
			return nil, errors.Errorf("column %q has %d rows, expected %d", names[i], len(column), numRows)
		}
	}
	return &Table{names: names, columns: columns, numRows: numRows}, nil
}

func (t *Table) NumRows() int    { return t.numRows }
func (t *Table) NumColumns() int { return len(t.names) }
func (t *Table) Names() []string { return t.names }

func (t *Table) Column(i int) []parquet.Value { return t.columns[i] }

func (t *Table) ColumnByName(name string) ([]parquet.Value, bool) {
	for i, n := range t.names {
		if n == name {
			return t.columns[i], true
		}
	}
	return nil, false
}

// SetColumn replaces the named column if it exists, otherwise appends it.
// For tables with zero columns the incoming column defines the row count.
func (t *Table) SetColumn(name string, values []parquet.Value) error {
	if len(t.names) > 0 && len(values) != t.numRows {
		return errors.Errorf("column %q has %d rows, expected %d", name, len(values), t.numRows)
	}
	for i, n := range t.names {
		if n == name {
			t.columns[i] = values
			return nil
		}
	}
	t.names = append(t.names, name)
	t.columns = append(t.columns, values)
	if len(t.columns) == 1 {
		t.numRows = len(values)
	}
	return nil
}

// Repeat builds a column holding the same value on every row.
func Repeat(value parquet.Value, numRows int) []parquet.Value {
	values := make([]parquet.Value, numRows)
	for i := range values {
		values[i] = value
	}
	return values
}

// SizeBytes approximates the decoded in-memory footprint of the table.
func (t *Table) SizeBytes() int64 {
	var size int64
	for _, column := range t.columns {
		for _, v := range column {
			size += valueSize(v)
		}
	}
	return size
}

func valueSize(v parquet.Value) int64 {
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return int64(len(v.ByteArray())) + 8
	case parquet.Boolean:
		return 1
	case parquet.Int32, parquet.Float:
		return 4
	case parquet.Int96:
		return 12
	default:
		return 8
	}
}
