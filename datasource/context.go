package datasource

import "sync"

// Context carries the process-wide settings consulted by the encoding ratio
// estimator. Reads are cheap and the struct is copied out, so the estimator
// never observes a partially updated configuration.
type Context struct {
	// SizeEstimationEnabled controls whether the encoding ratio is computed
	// by sampling. When disabled the default ratio is used instead.
	SizeEstimationEnabled bool `yaml:"size_estimation_enabled"`
	// TargetMaxBlockBytes is the target in-memory size for one block of
	// output. The derived read batch size keeps single batches at roughly
	// a tenth of it.
	TargetMaxBlockBytes int64 `yaml:"target_max_block_bytes"`
}

func DefaultContext() Context {
	return Context{
		SizeEstimationEnabled: true,
		TargetMaxBlockBytes:   128 * 1024 * 1024,
	}
}

var (
	contextMtx     sync.Mutex
	currentContext = DefaultContext()
)

func CurrentContext() Context {
	contextMtx.Lock()
	defer contextMtx.Unlock()
	return currentContext
}

func SetContext(ctx Context) {
	contextMtx.Lock()
	defer contextMtx.Unlock()
	currentContext = ctx
}
