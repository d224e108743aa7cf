package awsx

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Clients bundles the AWS service clients the deploy pipeline depends on.
type Clients struct {
	STS    *sts.Client
	ECR    *ecr.Client
	ECS    *ecs.Client
	Logs   *cloudwatchlogs.Client
	Region string
}

// New resolves the default AWS configuration and constructs service clients.
func New(ctx context.Context, region string) (Clients, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return Clients{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		return Clients{}, fmt.Errorf("aws region not configured")
	}
	return Clients{
		STS:    sts.NewFromConfig(cfg),
		ECR:    ecr.NewFromConfig(cfg),
		ECS:    ecs.NewFromConfig(cfg),
		Logs:   cloudwatchlogs.NewFromConfig(cfg),
		Region: cfg.Region,
	}, nil
}
