package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/connectflow/internal/runtime/config"
)

func stubAWSLoader(t *testing.T, cfg aws.Config, err error) {
	t.Helper()
	orig := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = orig })
	AWSDefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return cfg, err
	}
}

func TestCreateAWSConfigSetsRegion(t *testing.T) {
	stubAWSLoader(t, aws.Config{Region: "us-east-1"}, nil)

	cfg, err := createAWSConfig(context.Background(), &config.Config{AWSRegion: "ap-southeast-2"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-2", cfg.Region)
}

func TestCreateAWSConfigUsesStaticCredentials(t *testing.T) {
	orig := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = orig })

	var opts awsconfig.LoadOptions
	AWSDefaultConfigLoader = func(_ context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			require.NoError(t, fn(&opts))
		}
		return aws.Config{Credentials: opts.Credentials}, nil
	}

	conf := &config.Config{AWSAccessKeyID: "AKID", AWSSecretAccessKey: "secret"}
	cfg, err := createAWSConfig(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)
	require.NotNil(t, cfg.Credentials)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}

func TestCreateAWSConfigReturnsError(t *testing.T) {
	stubAWSLoader(t, aws.Config{}, errors.New("boom"))

	_, err := createAWSConfig(context.Background(), &config.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
	assert.Error(t, err)
}

func TestResolveAccountAndRegion(t *testing.T) {
	tests := []struct {
		name        string
		conf        config.Config
		wantAccount string
		wantRegion  string
	}{
		{
			name:        "configured values",
			conf:        config.Config{AWSAccountID: "123456789012", AWSRegion: "eu-west-1"},
			wantAccount: "123456789012",
			wantRegion:  "eu-west-1",
		},
		{
			name:        "quoted account and fallback region",
			conf:        config.Config{AWSAccountID: `"123456789012"`},
			wantAccount: "123456789012",
			wantRegion:  "us-east-1",
		},
		{
			name:        "localstack without account",
			conf:        config.Config{AWSEndpoint: "http://localhost:4566"},
			wantAccount: localstackAccountID,
			wantRegion:  "us-east-1",
		},
		{
			name:        "localstack with malformed account",
			conf:        config.Config{AWSEndpoint: "http://localhost:4566", AWSAccountID: "42"},
			wantAccount: localstackAccountID,
			wantRegion:  "us-east-1",
		},
		{
			name:        "malformed account without endpoint is kept",
			conf:        config.Config{AWSAccountID: "42"},
			wantAccount: "42",
			wantRegion:  "us-east-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, region := resolveAccountAndRegion(&tt.conf, watermill.NopLogger{}, "us-east-1")
			assert.Equal(t, tt.wantAccount, account)
			assert.Equal(t, tt.wantRegion, region)
		})
	}
}

func TestBuildPublisherConfigEndpoint(t *testing.T) {
	resolver, err := sns.NewGenerateArnTopicResolver("000000000000", "us-east-1")
	require.NoError(t, err)

	cfg, err := buildPublisherConfig(&config.Config{}, aws.Config{}, resolver)
	require.NoError(t, err)
	assert.Empty(t, cfg.OptFns)

	cfg, err = buildPublisherConfig(&config.Config{AWSEndpoint: "http://localhost:4566"}, aws.Config{}, resolver)
	require.NoError(t, err)
	assert.Len(t, cfg.OptFns, 1)

	_, err = buildPublisherConfig(&config.Config{AWSEndpoint: "localhost"}, aws.Config{}, resolver)
	assert.Error(t, err)
}

func TestBuildAWSSink(t *testing.T) {
	stubAWSLoader(t, aws.Config{Region: "us-east-1"}, nil)

	origPub := SNSPublisherFactory
	t.Cleanup(func() { SNSPublisherFactory = origPub })

	var got sns.PublisherConfig
	pub := &testPublisher{}
	SNSPublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		got = cfg
		return pub, nil
	}

	conf := &config.Config{SinkSystem: "aws", AWSRegion: "eu-central-1", AWSEndpoint: "http://localhost:4566"}
	s, err := Build(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, s.Publisher)
	assert.Equal(t, "eu-central-1", got.AWSConfig.Region)
	assert.NotNil(t, got.TopicResolver)
	assert.Len(t, got.OptFns, 1)
}

func TestBuildAWSSinkTopicResolverError(t *testing.T) {
	stubAWSLoader(t, aws.Config{Region: "us-east-1"}, nil)

	origTopic := SNSTopicResolverFactory
	t.Cleanup(func() { SNSTopicResolverFactory = origTopic })
	SNSTopicResolverFactory = func(string, string) (*sns.GenerateArnTopicResolver, error) {
		return nil, errors.New("bad arn")
	}

	_, err := Build(context.Background(), &config.Config{SinkSystem: "aws", AWSRegion: "us-east-1"}, watermill.NopLogger{})
	assert.Error(t, err)
}

func TestBuildSQSSink(t *testing.T) {
	stubAWSLoader(t, aws.Config{Region: "us-east-1"}, nil)

	orig := SQSPublisherFactory
	t.Cleanup(func() { SQSPublisherFactory = orig })

	var got sqs.PublisherConfig
	SQSPublisherFactory = func(cfg sqs.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		got = cfg
		return &testPublisher{}, nil
	}

	conf := &config.Config{SinkSystem: "sqs", AWSRegion: "eu-west-2", AWSEndpoint: "http://localhost:4566"}
	s, err := Build(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)
	assert.True(t, s.Enabled())
	assert.Equal(t, "eu-west-2", got.AWSConfig.Region)
	assert.Len(t, got.OptFns, 1)
}

func TestBuildSQSSinkRejectsRelativeEndpoint(t *testing.T) {
	stubAWSLoader(t, aws.Config{}, nil)

	_, err := sqsPublisher(context.Background(), &config.Config{AWSEndpoint: "localstack"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "not absolute")
}
