package sink

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go/endpoints"

	"github.com/drblury/connectflow/internal/runtime/config"
)

var (
	AWSDefaultConfigLoader  = awsconfig.LoadDefaultConfig
	SNSTopicResolverFactory = sns.NewGenerateArnTopicResolver
	SNSPublisherFactory     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SQSPublisherFactory = func(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sqs.NewPublisher(cfg, logger)
	}
)

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

func awsPublisher(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	cfg, err := createAWSConfig(ctx, conf, logger)
	if err != nil {
		return nil, err
	}

	accountID, region := resolveAccountAndRegion(conf, logger, cfg.Region)
	logger.Info("Create SNS result publisher", watermill.LogFields{
		"accountID":       accountID,
		"region":          region,
		"custom_endpoint": conf.GetAWSEndpoint() != "",
	})

	topicResolver, err := SNSTopicResolverFactory(accountID, region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"accountID": accountID,
			"region":    region,
		})
		return nil, err
	}

	publisherConfig, err := buildPublisherConfig(conf, cfg, topicResolver)
	if err != nil {
		logger.Error("Failed to parse AWS endpoint", err, watermill.LogFields{"endpoint": conf.GetAWSEndpoint()})
		return nil, err
	}
	return SNSPublisherFactory(publisherConfig, logger)
}

func createAWSConfig(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := conf.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if conf.GetAWSAccessKeyID() != "" && conf.GetAWSSecretAccessKey() != "" {
		logger.Info("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(conf.GetAWSAccessKeyID(), conf.GetAWSSecretAccessKey())))
	}

	cfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{"requested_region": conf.GetAWSRegion()})
		return aws.Config{}, err
	}
	// Loaders replaced in tests may ignore the options.
	if region := conf.GetAWSRegion(); region != "" {
		cfg.Region = region
	}
	return cfg, nil
}

func resolveAccountAndRegion(conf *config.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	accountID := strings.Trim(conf.GetAWSAccountID(), "\"' ")
	region := conf.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if conf.GetAWSEndpoint() == "" {
		return accountID, region
	}
	if accountID == "" {
		logger.Info("AWS account ID empty; using LocalStack default", watermill.LogFields{"accountID": localstackAccountID})
		return localstackAccountID, region
	}
	if len(accountID) != awsAccountIDLength {
		logger.Info("Invalid AWS account ID; falling back to LocalStack default", watermill.LogFields{"accountID": accountID})
		return localstackAccountID, region
	}
	return accountID, region
}

func buildPublisherConfig(conf *config.Config, cfg aws.Config, topicResolver sns.TopicResolver) (sns.PublisherConfig, error) {
	publisherConfig := sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     cfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}

	endpoint, err := awsEndpointURL(conf)
	if err != nil {
		return sns.PublisherConfig{}, err
	}
	if endpoint == nil {
		return publisherConfig, nil
	}
	publisherConfig.OptFns = []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: endpoints.Endpoint{URI: *endpoint},
		}),
	}
	return publisherConfig, nil
}

// sqsPublisher sends results straight to a queue named after the topic,
// creating it when missing.
func sqsPublisher(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	cfg, err := createAWSConfig(ctx, conf, logger)
	if err != nil {
		return nil, err
	}

	publisherConfig := sqs.PublisherConfig{
		AWSConfig: cfg,
		Marshaler: sqs.DefaultMarshalerUnmarshaler{},
	}
	endpoint, err := awsEndpointURL(conf)
	if err != nil {
		logger.Error("Failed to parse AWS endpoint", err, watermill.LogFields{"endpoint": conf.GetAWSEndpoint()})
		return nil, err
	}
	if endpoint != nil {
		publisherConfig.OptFns = []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
				Endpoint: endpoints.Endpoint{URI: *endpoint},
			}),
		}
	}

	logger.Info("Create SQS result publisher", watermill.LogFields{
		"region":          cfg.Region,
		"custom_endpoint": endpoint != nil,
	})
	return SQSPublisherFactory(publisherConfig, logger)
}

// awsEndpointURL returns nil when no custom endpoint is configured.
func awsEndpointURL(conf *config.Config) (*url.URL, error) {
	raw := conf.GetAWSEndpoint()
	if raw == "" {
		return nil, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse AWS endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse AWS endpoint: %q is not absolute", raw)
	}
	return parsed, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
