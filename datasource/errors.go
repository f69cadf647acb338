package datasource

import "github.com/pkg/errors"

var (
	// ErrInvalidInput marks malformed input files detected during metadata
	// prefetch. Never retried.
	ErrInvalidInput = errors.New("invalid parquet input")

	// ErrPlacementConstraint is returned at construction time when the
	// dataset is only reachable from the local node but read tasks would
	// execute on remote workers.
	ErrPlacementConstraint = errors.New("read tasks cannot access local files")
)
