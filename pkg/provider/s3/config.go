// Package s3 implements provider.ObjectStore for AWS S3 and S3-compatible
// storage. batchfan uses it to upload id manifests for reading runs and to
// stash job logs under a run's storage prefix.
package s3

import "github.com/3leaps/batchfan/pkg/awsconf"

// Config configures an S3 provider.
//
// Region and credentials resolve through awsconf (SDK v2 default chain unless
// explicit keys are set). For S3-compatible stores (moto, MinIO) set
// AWS.Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// AWS selects region, profile, endpoint and credentials.
	AWS awsconf.Config

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// PartSize is the multipart part size in bytes for UploadFile.
	// Zero uses the uploader default.
	PartSize int64
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if err := c.AWS.Validate(); err != nil {
		return &ConfigError{Field: "AWS", Message: err.Error()}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
