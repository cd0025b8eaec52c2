// Package sink publishes finalized decode results to a Watermill publisher.
//
// The publisher is chosen from config.Config.SinkSystem. Every backend is
// built through a package level factory variable so tests can swap it out.
package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/connectflow/internal/runtime/config"
	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	"github.com/drblury/connectflow/internal/runtime/ids"
	"github.com/drblury/connectflow/internal/runtime/metadata"
	"github.com/drblury/connectflow/internal/runtime/result"
)

// DefaultTopic is used when the configuration does not name one.
const DefaultTopic = "connectflow.results"

// Supported SinkSystem values.
const (
	SystemNone      = "none"
	SystemChannel   = "channel"
	SystemFile      = "file"
	SystemNATS      = "nats"
	SystemJetStream = "jetstream"
	SystemKafka     = "kafka"
	SystemRabbitMQ  = "rabbitmq"
	SystemHTTP      = "http"
	SystemAWS       = "aws"
	SystemSQS       = "sqs"
)

// Sink publishes result documents to a single topic.
type Sink struct {
	Publisher message.Publisher
	Topic     string

	// Subscriber is only set for the in-process channel sink.
	Subscriber message.Subscriber
}

// Enabled reports whether the sink has somewhere to publish.
func (s *Sink) Enabled() bool {
	return s != nil && s.Publisher != nil
}

// Publish sends payload as one message. An empty id is replaced with a ULID.
func (s *Sink) Publish(ctx context.Context, id string, payload []byte, md metadata.Metadata) error {
	if s == nil || s.Publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if strings.TrimSpace(s.Topic) == "" {
		return errspkg.ErrTopicRequired
	}
	if id == "" {
		id = ids.CreateULID()
	}

	msg := message.NewMessage(id, payload)
	msg.Metadata = metadata.ToWatermill(md)
	if ctx != nil {
		msg.SetContext(ctx)
	}

	if err := s.Publisher.Publish(s.Topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", s.Topic, err)
	}
	return nil
}

// PublishResult finalizes res and publishes it keyed by the session id.
func (s *Sink) PublishResult(ctx context.Context, sessionID, messageType string, res result.Result) error {
	md := metadata.ForResult(sessionID, messageType, res.Status, res.ContentType, res.Error != nil)
	return s.Publish(ctx, "", result.Finalize(res), md)
}

// Close releases the underlying publisher.
func (s *Sink) Close() error {
	if s == nil || s.Publisher == nil {
		return nil
	}
	return s.Publisher.Close()
}

// Build creates the sink selected by conf.SinkSystem. An empty or "none"
// system returns a disabled sink and no error.
func Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (*Sink, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	topic := strings.TrimSpace(conf.SinkTopic)
	if topic == "" {
		topic = DefaultTopic
	}

	system := strings.ToLower(strings.TrimSpace(conf.GetSinkSystem()))
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)
	switch system {
	case "", SystemNone:
		return &Sink{Topic: topic}, nil
	case SystemChannel:
		pub, sub = channelPublisher(logger)
	case SystemFile:
		pub, err = filePublisher(conf, logger)
	case SystemNATS:
		pub, err = natsPublisher(conf, logger)
	case SystemJetStream:
		pub, err = jetStreamPublisher(conf, logger)
	case SystemKafka:
		pub, err = kafkaPublisher(conf, logger)
	case SystemRabbitMQ:
		pub, err = rabbitPublisher(conf, logger)
	case SystemHTTP:
		pub, err = httpPublisher(conf, logger)
	case SystemAWS:
		pub, err = awsPublisher(ctx, conf, logger)
	case SystemSQS:
		pub, err = sqsPublisher(ctx, conf, logger)
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownSink, conf.SinkSystem)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s sink: %w", system, err)
	}

	logger.Info("Result sink ready", watermill.LogFields{"system": system, "topic": topic})
	return &Sink{Publisher: pub, Topic: topic, Subscriber: sub}, nil
}
