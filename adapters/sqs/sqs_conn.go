package sqs

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Concrete aws-sdk-go-v2 client construction.

const (
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultWaitTime          = 20 * time.Second
	DefaultDiscoveryTTL      = 30 * time.Second
)

type Config struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. LocalStack.
	Endpoint string

	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string

	VisibilityTimeout time.Duration
	// WaitTime is the long-polling duration of a receive call, at most 20s.
	WaitTime time.Duration
	// DiscoveryTTL bounds how long the queues of a channel are cached for publishing.
	DiscoveryTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = DefaultVisibilityTimeout
	}

	if c.WaitTime <= 0 || c.WaitTime > DefaultWaitTime {
		c.WaitTime = DefaultWaitTime
	}

	if c.DiscoveryTTL <= 0 {
		c.DiscoveryTTL = DefaultDiscoveryTTL
	}

	return c
}

// LoadAWSConfig is replaceable in tests.
var LoadAWSConfig = awsconfig.LoadDefaultConfig

func dial(ctx context.Context, cfg Config) (Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey)))
	}

	awsCfg, err := LoadAWSConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}, nil
	})
}
