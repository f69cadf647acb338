package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore/providers/filesystem"
)

func TestBucketReaderReadAt(t *testing.T) {
	bucket, err := filesystem.NewBucket(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, bucket.Upload(context.Background(), "obj", strings.NewReader("0123456789")))

	reader := NewBucketReader("obj", bucket)

	buffer := make([]byte, 4)
	n, err := reader.ReadAt(buffer, 3)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "3456", string(buffer))

	n, err = reader.ReadAt(buffer, 0)
	require.NoError(t, err)
	require.Equal(t, "0123", string(buffer[:n]))
}
