package datasource

import (
	"github.com/segmentio/parquet-go"

	"Shopify/parquet-datasource/dataset"
)

// BlockMetadata is the planning estimate for one group of fragments.
// Nil fields mean unknown.
type BlockMetadata struct {
	NumRows   *int64
	SizeBytes *int64
}

// MetadataProvider aggregates planning metadata for a group of paths.
// Prefetched entries are parallel to paths; nil entries mean the prefetch
// was skipped or failed for that file.
type MetadataProvider interface {
	GroupMetadata(paths []string, schema *parquet.Schema, numFragments int, prefetched []*dataset.FileMetadata) BlockMetadata
}

type defaultMetadataProvider struct{}

// DefaultMetadataProvider sums the prefetched per-file statistics. If any
// file in the group is missing its metadata the whole group's estimate is
// unknown rather than silently low.
func DefaultMetadataProvider() MetadataProvider {
	return defaultMetadataProvider{}
}

func (defaultMetadataProvider) GroupMetadata(_ []string, _ *parquet.Schema, _ int, prefetched []*dataset.FileMetadata) BlockMetadata {
	var numRows, sizeBytes int64
	for _, metadata := range prefetched {
		if metadata == nil {
			return BlockMetadata{}
		}
		numRows += metadata.NumRows
		sizeBytes += metadata.TotalByteSize
	}
	return BlockMetadata{NumRows: &numRows, SizeBytes: &sizeBytes}
}
