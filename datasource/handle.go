package datasource

import (
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"Shopify/parquet-datasource/dataset"
	"Shopify/parquet-datasource/storage"
)

const FormatParquet = "parquet"

// FragmentHandle describes one file fragment without holding any open
// resource. It is a plain value of primitive descriptors, so serializing it
// performs no I/O and triggers no storage calls. Resolving a handle on a
// worker requires the named filesystem to be registered in that process.
type FragmentHandle struct {
	Format     string                   `json:"format"`
	Path       string                   `json:"path"`
	Filesystem string                   `json:"filesystem"`
	Partition  []dataset.PartitionValue `json:"partition,omitempty"`
}

// FragmentResolver turns handles back into live fragments.
type FragmentResolver interface {
	Resolve(handles []FragmentHandle) ([]*dataset.Fragment, error)
}

// bucketResolver opens fragments through the storage registry, performing
// the idempotent lazy filesystem initialization first.
type bucketResolver struct{}

func (bucketResolver) Resolve(handles []FragmentHandle) ([]*dataset.Fragment, error) {
	fragments := make([]*dataset.Fragment, 0, len(handles))
	for _, handle := range handles {
		if err := storage.EnsureInitialized(handle.Filesystem); err != nil {
			return nil, err
		}
		bucket, err := storage.Resolve(handle.Filesystem)
		if err != nil {
			return nil, err
		}
		fragment, err := dataset.OpenFragmentAt(bucket, handle.Path, handle.Partition)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

// RetryingResolver wraps a FragmentResolver with the backoff loop. The whole
// handle batch is resolved as one operation so the waits are shared across
// the group instead of compounding per file.
type RetryingResolver struct {
	resolver FragmentResolver
	policy   RetryPolicy
	logger   log.Logger
}

func NewRetryingResolver(logger log.Logger, resolver FragmentResolver, policy RetryPolicy) *RetryingResolver {
	if resolver == nil {
		resolver = bucketResolver{}
	}
	return &RetryingResolver{
		resolver: resolver,
		policy:   policy,
		logger:   logger,
	}
}

func (r *RetryingResolver) Resolve(handles []FragmentHandle) ([]*dataset.Fragment, error) {
	var fragments []*dataset.Fragment
	err := withRetry(r.policy, func(attempt int, err error) {
		if attempt == 1 {
			// The handle dump is only useful once; repeating it on
			// every attempt would drown the log.
			level.Warn(r.logger).Log(
				"msg", "failed to resolve fragment handles",
				"attempt", attempt,
				"max_attempts", r.policy.MaxAttempts,
				"handles", fmt.Sprintf("%+v", handles),
				"err", err,
			)
			return
		}
		level.Warn(r.logger).Log(
			"msg", "failed to resolve fragment handles",
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"err", err,
		)
	}, func() error {
		resolved, err := r.resolver.Resolve(handles)
		if err != nil {
			return err
		}
		fragments = resolved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fragments, nil
}
