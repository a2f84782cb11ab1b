// Package objectstore is the durable blob storage used for configuration
// artifacts, generated brand assets and issued certificates.
package objectstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an object does not exist
	ErrNotFound = errors.New("object not found")
	// ErrAlreadyExists is returned by Put without Overwrite when the object exists
	ErrAlreadyExists = errors.New("object already exists")
)

// PutOptions controls Put behaviour
type PutOptions struct {
	Overwrite   bool
	ContentType string
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
	ETag         string
}

// Store is a bucket/path addressed blob store
type Store interface {
	Get(ctx context.Context, bucket, path string) ([]byte, error)
	Put(ctx context.Context, bucket, path string, data []byte, opts PutOptions) error
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, bucket, path string) error
}

// DeletePrefix removes every object under prefix and returns how many were removed
func DeletePrefix(ctx context.Context, s Store, bucket, prefix string) (int, error) {
	objects, err := s.List(ctx, bucket, prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, obj := range objects {
		if err := s.Delete(ctx, bucket, obj.Path); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
