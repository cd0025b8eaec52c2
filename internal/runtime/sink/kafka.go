package sink

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/connectflow/internal/runtime/config"
)

var (
	KafkaPublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}
)

func kafkaPublisher(conf *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return KafkaPublisherFactory(
		kafka.PublisherConfig{
			Brokers:   conf.GetKafkaBrokers(),
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
}
