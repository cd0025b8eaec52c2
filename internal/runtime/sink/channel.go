package sink

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

var (
	GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		pubSub := gochannel.NewGoChannel(cfg, logger)
		return pubSub, pubSub
	}
)

// Results published before anyone subscribes are kept for late subscribers.
func channelPublisher(logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	return GoChannelFactory(gochannel.Config{
		OutputChannelBuffer: 64,
		Persistent:          true,
	}, logger)
}
