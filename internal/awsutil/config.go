// Package awsutil provides utilities for loading AWS configuration.
package awsutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
)

// Load loads the AWS configuration for region. A non-empty endpoint (LocalStack,
// DynamoDB Local) becomes the base endpoint of every client built from it.
func Load(ctx context.Context, region, endpoint string) (aws.Config, error) {
	cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(region))
	if err != nil {
		return cfg, err
	}
	if endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}
	return cfg, nil
}
