package sink

import (
	net_http "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/connectflow/internal/runtime/config"
)

var (
	HTTPPublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return http.NewPublisher(cfg, logger)
	}
)

// The topic is appended to the configured base URL as a path segment.
func httpPublisher(conf *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	base := strings.TrimRight(conf.GetHTTPPublisherURL(), "/")
	return HTTPPublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*net_http.Request, error) {
				return http.DefaultMarshalMessageFunc(base+"/"+topic, msg)
			},
		},
		logger,
	)
}
