package sink

import (
	"bytes"
	"context"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/csv"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"

	"Shopify/parquet-datasource/dataset"
)

type csvOptions struct {
	delimiter rune
	header    bool
}

type CSVOption func(*csvOptions)

func WithDelimiter(delimiter rune) CSVOption {
	return func(o *csvOptions) { o.delimiter = delimiter }
}

func WithoutHeader() CSVOption {
	return func(o *csvOptions) { o.header = false }
}

// CSVSink writes tables as CSV objects, one object per block. It is the
// write-side counterpart of the parquet read path.
type CSVSink struct {
	bucket  objstore.Bucket
	options csvOptions
}

func NewCSVSink(bucket objstore.Bucket, opts ...CSVOption) *CSVSink {
	options := csvOptions{delimiter: ',', header: true}
	for _, opt := range opts {
		opt(&options)
	}
	return &CSVSink{bucket: bucket, options: options}
}

// WriteBlock encodes one table and uploads it under name.
func (s *CSVSink) WriteBlock(ctx context.Context, name string, table *dataset.Table) error {
	record, err := makeRecord(table)
	if err != nil {
		return err
	}
	defer record.Release()

	var buffer bytes.Buffer
	writer := csv.NewWriter(&buffer, record.Schema(),
		csv.WithComma(s.options.delimiter),
		csv.WithHeader(s.options.header),
	)
	if err := writer.Write(record); err != nil {
		return errors.Wrapf(err, "encoding csv block %s", name)
	}
	if err := writer.Flush(); err != nil {
		return errors.Wrapf(err, "encoding csv block %s", name)
	}

	return errors.Wrapf(s.bucket.Upload(ctx, name, &buffer), "uploading csv block %s", name)
}

func makeRecord(table *dataset.Table) (arrow.Record, error) {
	fields := make([]arrow.Field, table.NumColumns())
	for i, name := range table.Names() {
		fields[i] = arrow.Field{
			Name:     name,
			Type:     arrowType(table.Column(i)),
			Nullable: true,
		}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for i := range fields {
		if err := appendColumn(builder.Field(i), table.Column(i)); err != nil {
			return nil, errors.Wrapf(err, "building column %q", fields[i].Name)
		}
	}
	return builder.NewRecord(), nil
}

// arrowType picks the arrow type from the first non-null value of the
// column. All-null columns degrade to strings.
func arrowType(column []parquet.Value) arrow.DataType {
	for _, v := range column {
		if v.IsNull() {
			continue
		}
		switch v.Kind() {
		case parquet.Boolean:
			return arrow.FixedWidthTypes.Boolean
		case parquet.Int32:
			return arrow.PrimitiveTypes.Int32
		case parquet.Int64:
			return arrow.PrimitiveTypes.Int64
		case parquet.Float:
			return arrow.PrimitiveTypes.Float32
		case parquet.Double:
			return arrow.PrimitiveTypes.Float64
		default:
			return arrow.BinaryTypes.String
		}
	}
	return arrow.BinaryTypes.String
}

func appendColumn(builder array.Builder, column []parquet.Value) error {
	for _, v := range column {
		if v.IsNull() {
			builder.AppendNull()
			continue
		}
		switch b := builder.(type) {
		case *array.BooleanBuilder:
			b.Append(v.Boolean())
		case *array.Int32Builder:
			b.Append(v.Int32())
		case *array.Int64Builder:
			b.Append(v.Int64())
		case *array.Float32Builder:
			b.Append(v.Float())
		case *array.Float64Builder:
			b.Append(v.Double())
		case *array.StringBuilder:
			b.Append(v.String())
		default:
			return errors.Errorf("unsupported builder type %T", builder)
		}
	}
	return nil
}
