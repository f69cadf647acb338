package datasource

import (
	"math/rand"

	"Shopify/parquet-datasource/dataset"
)

// FragmentGroup is the disjoint slice of the dataset assigned to one read
// task. The three sequences are parallel: the i-th elements describe the
// same physical file.
type FragmentGroup struct {
	Fragments []FragmentHandle
	Paths     []string
	Metadata  []*dataset.FileMetadata
}

// partitionFragments splits the fragment list into at most parallelism
// contiguous near-equal groups. When seed is set, one seeded permutation is
// applied to the parallel sequences first, which avoids skewed task
// completion times when the input ordering correlates with file size or
// partition. The same seed and input always produce the same layout.
func partitionFragments(handles []FragmentHandle, paths []string, metadata []*dataset.FileMetadata, parallelism int, seed *int64) []FragmentGroup {
	// Pad metadata so every fragment has a slot, e.g. when the prefetch was
	// skipped or partially failed.
	for len(metadata) < len(handles) {
		metadata = append(metadata, nil)
	}

	if seed != nil {
		perm := rand.New(rand.NewSource(*seed)).Perm(len(handles))
		shuffledHandles := make([]FragmentHandle, len(handles))
		shuffledPaths := make([]string, len(paths))
		shuffledMetadata := make([]*dataset.FileMetadata, len(handles))
		for i, j := range perm {
			shuffledHandles[i] = handles[j]
			shuffledPaths[i] = paths[j]
			shuffledMetadata[i] = metadata[j]
		}
		handles, paths, metadata = shuffledHandles, shuffledPaths, shuffledMetadata
	}

	groups := make([]FragmentGroup, 0, parallelism)
	for _, bounds := range splitBounds(len(handles), parallelism) {
		if bounds[1] == bounds[0] {
			continue
		}
		groups = append(groups, FragmentGroup{
			Fragments: handles[bounds[0]:bounds[1]],
			Paths:     paths[bounds[0]:bounds[1]],
			Metadata:  metadata[bounds[0]:bounds[1]],
		})
	}
	return groups
}

// splitBounds cuts [0, n) into parts contiguous ranges whose sizes differ by
// at most one, larger ranges first.
func splitBounds(n, parts int) [][2]int {
	if parts < 1 {
		parts = 1
	}
	bounds := make([][2]int, 0, parts)
	base, remainder := n/parts, n%parts
	offset := 0
	for i := 0; i < parts; i++ {
		size := base
		if i < remainder {
			size++
		}
		bounds = append(bounds, [2]int{offset, offset + size})
		offset += size
	}
	return bounds
}
