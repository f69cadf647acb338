package storage

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"
	"github.com/thanos-io/objstore/providers/gcs"
	"gopkg.in/yaml.v3"
)

// BucketConfig describes how to open an object storage bucket. It is a plain
// value and can be carried inside serialized fragment handles.
type BucketConfig struct {
	Provider   string           `yaml:"provider"`
	GCS        GCSConfig        `yaml:"gcs,omitempty"`
	Filesystem FilesystemConfig `yaml:"filesystem,omitempty"`
}

type GCSConfig struct {
	Bucket string `yaml:"bucket"`
}

type FilesystemConfig struct {
	Directory string `yaml:"directory"`
}

const (
	ProviderGCS        = "GCS"
	ProviderFilesystem = "FILESYSTEM"
)

func openBucket(ctx context.Context, logger log.Logger, config BucketConfig) (objstore.Bucket, error) {
	switch config.Provider {
	case ProviderGCS:
		conf, err := yaml.Marshal(config.GCS)
		if err != nil {
			return nil, err
		}
		return gcs.NewBucket(ctx, logger, conf, "parquet-datasource")
	case ProviderFilesystem:
		return filesystem.NewBucket(config.Filesystem.Directory)
	default:
		return nil, errors.Errorf("unsupported storage provider %q", config.Provider)
	}
}
