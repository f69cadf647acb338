package pqtest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/segmentio/parquet-go"
)

// Row is the test dataset schema.
type Row struct {
	ID    int64   `parquet:"id"`
	Label string  `parquet:"label,dict"`
	Score float64 `parquet:"score"`
}

var Columns = []string{"id", "label", "score"}

func MakeRows(n int, label string) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			ID:    int64(i),
			Label: fmt.Sprintf("%s-%d", label, i%3),
			Score: float64(i) / 10,
		}
	}
	return rows
}

// WriteFile writes one parquet file at path, flushing a row group per slice.
func WriteFile(path string, rowGroups [][]Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := parquet.NewGenericWriter[Row](f, parquet.PageBufferSize(4*1024))
	for _, rows := range rowGroups {
		if _, err := writer.Write(rows); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	return writer.Close()
}

// WriteEmptyFile creates a zero-byte file, which readers must reject as
// malformed input.
func WriteEmptyFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}
