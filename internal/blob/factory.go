// Package blob selects the blob store dataset bundles are loaded from.
package blob

import (
	"context"
	"fmt"

	"deadline/internal/blob/core"
	"deadline/internal/config"
	"deadline/internal/infra/blob/fs"
	"deadline/internal/infra/blob/s3"
)

// Store is re-exported so callers need not import core.
type Store = core.Store

// Open builds the store named by cfg.Driver (fs|s3, default fs).
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(core.DriverFilesystem)
	}
	switch core.Driver(driver) {
	case core.DriverFilesystem:
		store, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	case core.DriverS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
