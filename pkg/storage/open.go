// Package storage resolves a configured location into an object store.
// Locations are either local directories or s3://bucket/prefix URLs.
package storage

import (
	"context"

	"github.com/storeflow/storeflow/pkg/config"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/storage/object"
	"github.com/storeflow/storeflow/pkg/storage/s3"
)

// Open returns the object store for location.
func Open(ctx context.Context, location string, cfg config.S3Config) (interfaces.ObjectStorage, error) {
	if !s3.IsURL(location) {
		return object.NewLocalStorage(location)
	}

	bucket, prefix, err := s3.ParseURL(location)
	if err != nil {
		return nil, err
	}
	s3cfg := s3.DefaultConfig(bucket, cfg.Region)
	s3cfg.Prefix = prefix
	s3cfg.Endpoint = cfg.Endpoint
	s3cfg.UsePathStyle = cfg.UsePathStyle
	s3cfg.AccessKeyID = cfg.AccessKeyID
	s3cfg.SecretAccessKey = cfg.SecretAccessKey
	return s3.NewClient(ctx, s3cfg)
}
