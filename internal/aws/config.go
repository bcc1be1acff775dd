package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// Settings selects the region and an optional endpoint (localstack) for all
// clients. Empty fields fall back to AWS_REGION and AWS_ENDPOINT_OVERRIDE.
type Settings struct {
	Region           string
	EndpointOverride string
}

func (s Settings) withEnv() Settings {
	if s.Region == "" {
		s.Region = os.Getenv("AWS_REGION")
	}
	if s.Region == "" {
		s.Region = defaultRegion
	}
	if s.EndpointOverride == "" {
		s.EndpointOverride = os.Getenv("AWS_ENDPOINT_OVERRIDE")
	}
	return s
}

func LoadAWSConfig(ctx context.Context, settings Settings) (sdkaws.Config, error) {
	settings = settings.withEnv()

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(settings.Region),
	)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if settings.EndpointOverride != "" {
		cfg.BaseEndpoint = sdkaws.String(settings.EndpointOverride)
	}
	return cfg, nil
}
