package query

import (
	"context"
	"strings"
	"time"

	gcsStorage "cloud.google.com/go/storage"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

const cleanupConcurrency = 50

// OutputCleaner removes temporary query result objects once a caller is done
// consuming them. Queries write their output under a per-execution prefix,
// so deleting by prefix is safe.
type OutputCleaner struct {
	logger log.Logger
	bucket string
	client *gcsStorage.Client
}

func NewOutputCleaner(logger log.Logger, client *gcsStorage.Client, bucket string) *OutputCleaner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &OutputCleaner{
		logger: logger,
		bucket: bucket,
		client: client,
	}
}

// List returns the result object names under prefix.
func (c *OutputCleaner) List(ctx context.Context, prefix string) ([]string, error) {
	query := &gcsStorage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}

	var names []string
	it := c.client.Bucket(c.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Cleanup deletes every result object under prefix. Deletes are retried with
// backoff since they race with the storage service finishing the writes.
func (c *OutputCleaner) Cleanup(ctx context.Context, prefix string) error {
	names, err := c.List(ctx, prefix)
	if err != nil {
		return err
	}
	level.Debug(c.logger).Log("msg", "deleting query output objects", "prefix", prefix, "count", len(names))

	retryer := gcsStorage.WithBackoff(gax.Backoff{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 3,
	})

	var group errgroup.Group
	group.SetLimit(cleanupConcurrency)
	bucket := c.client.Bucket(c.bucket)
	for _, name := range names {
		name := name
		group.Go(func() error {
			err := bucket.Object(name).Retryer(retryer).Delete(ctx)
			if err == gcsStorage.ErrObjectNotExist {
				return nil
			}
			return err
		})
	}
	return group.Wait()
}
