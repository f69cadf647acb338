package storage

import (
	"context"
	"io"

	"github.com/thanos-io/objstore"
)

// BucketReader adapts one object in a bucket to io.ReaderAt using range
// requests, which is what the parquet reader needs to fetch footers and row
// groups without downloading whole files.
type BucketReader struct {
	name   string
	bucket objstore.BucketReader
}

func NewBucketReader(name string, bucket objstore.BucketReader) *BucketReader {
	return &BucketReader{
		name:   name,
		bucket: bucket,
	}
}

func (r *BucketReader) ReadAt(p []byte, off int64) (n int, err error) {
	rangeReader, err := r.bucket.GetRange(context.Background(), r.name, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rangeReader.Close()

	return io.ReadFull(rangeReader, p)
}
