package sink

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/connectflow/internal/runtime/config"
)

var (
	NATSPublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}
)

func natsPublisher(conf *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NATSPublisherFactory(
		nats.PublisherConfig{
			URL:       conf.GetNATSURL(),
			Marshaler: &nats.NATSMarshaler{},
		},
		logger,
	)
}
