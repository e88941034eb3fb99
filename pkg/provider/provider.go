// Package provider defines the object storage surface used by batchfan:
// uploading run inputs (id manifests) and persisting stashed job logs.
//
// Authentication uses SDK default credential chains; providers do not
// implement custom auth logic.
package provider

import (
	"context"
	"io"
)

// ObjectStore reads and writes whole objects by key.
//
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// PutObject creates or overwrites an object.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// GetObject opens an object for reading.
	// Returns ErrNotFound if the object does not exist.
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)

	// Close releases any resources held by the store.
	Close() error
}

// FileUploader can upload a local file, splitting large files into parts.
type FileUploader interface {
	UploadFile(ctx context.Context, key, path string) error
}

// ProviderType identifies a storage provider.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
