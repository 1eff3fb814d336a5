package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Config holds AWS configuration
type Config struct {
	Region string

	// Endpoint overrides service endpoints (LocalStack). Empty uses AWS defaults.
	Endpoint string
}

// LoadAWSConfig loads AWS SDK configuration using the default credential chain
// (environment variables, shared credentials file, IAM roles, etc.)
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func endpointOverride(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
