package storage

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
)

// The registry maps filesystem descriptor names to buckets. Provider clients
// are opened lazily on first use because some of them (object storage in
// particular) need per-process subsystem setup that must not run during
// handle serialization. EnsureInitialized is safe to call redundantly and is
// invoked at the start of every resolution path on a worker.
var registry = struct {
	sync.Mutex
	entries map[string]*registryEntry
}{entries: make(map[string]*registryEntry)}

type registryEntry struct {
	config BucketConfig
	logger log.Logger

	once   sync.Once
	bucket objstore.Bucket
	err    error
}

// Register records a bucket configuration under a descriptor name without
// opening it. Re-registering the same name overwrites the previous entry.
func Register(name string, config BucketConfig, logger log.Logger) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	registry.Lock()
	defer registry.Unlock()
	registry.entries[name] = &registryEntry{config: config, logger: logger}
}

// RegisterBucket records an already opened bucket, typically an in-memory or
// local one in tests.
func RegisterBucket(name string, bucket objstore.Bucket) {
	entry := &registryEntry{bucket: bucket}
	entry.once.Do(func() {})
	registry.Lock()
	defer registry.Unlock()
	registry.entries[name] = entry
}

// EnsureInitialized opens the bucket registered under name if it has not been
// opened yet. Idempotent.
func EnsureInitialized(name string) error {
	_, err := Resolve(name)
	return err
}

// IsLocal reports whether the named filesystem only resolves on the node
// that registered it, such as a plain directory bucket.
func IsLocal(name string) bool {
	registry.Lock()
	defer registry.Unlock()
	entry, ok := registry.entries[name]
	return ok && entry.config.Provider == ProviderFilesystem
}

// Resolve returns the live bucket for a descriptor name, opening it on first
// use.
func Resolve(name string) (objstore.Bucket, error) {
	registry.Lock()
	entry, ok := registry.entries[name]
	registry.Unlock()
	if !ok {
		return nil, errors.Errorf("filesystem %q is not registered in this process", name)
	}

	entry.once.Do(func() {
		entry.bucket, entry.err = openBucket(context.Background(), entry.logger, entry.config)
	})
	if entry.err != nil {
		return nil, errors.Wrapf(entry.err, "initializing filesystem %q", name)
	}
	return entry.bucket, nil
}
