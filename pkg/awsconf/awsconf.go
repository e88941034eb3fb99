// Package awsconf loads the shared AWS configuration used by every service
// client in batchfan (Batch, CloudWatch Logs, ECS, EC2, S3).
//
// Authentication uses the AWS SDK v2 default credential chain unless explicit
// static credentials are configured:
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials/config files, optionally with Profile
//  4. EC2 instance metadata / ECS task role / EKS IRSA
package awsconf

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// DefaultRegion is the fallback region when none is resolved from config,
// environment or profile and no custom endpoint is set.
const DefaultRegion = "us-east-1"

// Config selects region and credentials for AWS clients.
type Config struct {
	// Region is the AWS region. Empty defers to environment/profile, then DefaultRegion.
	Region string `mapstructure:"region"`

	// Profile is the shared config profile name.
	Profile string `mapstructure:"profile"`

	// Endpoint is a custom endpoint URL (moto, LocalStack). Empty for AWS.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey are explicit static credentials.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Validate checks that credentials are either both set or both empty.
func (c Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents an AWS configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "aws config: " + e.Field + ": " + e.Message
}

// Load builds an aws.Config for cfg.
func Load(ctx context.Context, cfg Config) (aws.Config, error) {
	if err := cfg.Validate(); err != nil {
		return aws.Config{}, err
	}

	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if set; let the SDK resolve env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = ResolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// ResolveRegion applies the fallback region after SDK loading.
//
// The SDK region already reflects explicit config, environment and profile.
// Only AWS endpoints get DefaultRegion; custom endpoints keep what they have.
func ResolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultRegion
	}
	return ""
}
