package dataset

import "strings"

// PartitionValue is one key=value pair implied by the storage location of a
// file rather than stored in the file body.
type PartitionValue struct {
	Key   string
	Value string
}

// PartitionValues extracts hive-style partition pairs from the directory
// segments of path below root. The file name itself is never a partition
// segment.
func PartitionValues(path, root string) []PartitionValue {
	relative := strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
	segments := strings.Split(relative, "/")
	if len(segments) > 0 {
		segments = segments[:len(segments)-1]
	}

	var partition []PartitionValue
	for _, segment := range segments {
		key, value, ok := strings.Cut(segment, "=")
		if !ok || key == "" {
			continue
		}
		partition = append(partition, PartitionValue{Key: key, Value: value})
	}
	return partition
}
