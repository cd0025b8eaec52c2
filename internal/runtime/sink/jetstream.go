package sink

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/connectflow/internal/runtime/config"
)

// DefaultJetStreamStream is the stream used when none is configured.
const DefaultJetStreamStream = "CONNECTFLOW"

const jetStreamMaxAge = 7 * 24 * time.Hour

// jetStreamContext is the part of nats.JetStreamContext the sink uses.
type jetStreamContext interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

var (
	JetStreamConnectFactory = func(url string) (jetStreamContext, func(), error) {
		nc, err := nats.Connect(url)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("create JetStream context: %w", err)
		}
		return js, nc.Close, nil
	}
)

// JetStreamPublisher publishes results to "<stream>.<topic>" subjects of a
// JetStream stream, copying message metadata into NATS headers.
type JetStreamPublisher struct {
	js     jetStreamContext
	close  func()
	stream string
	logger watermill.LoggerAdapter

	closed   bool
	closedMu sync.RWMutex
}

func jetStreamPublisher(conf *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	stream := conf.GetJetStreamStream()
	if stream == "" {
		stream = DefaultJetStreamStream
	}

	js, closeFn, err := JetStreamConnectFactory(conf.GetNATSURL())
	if err != nil {
		return nil, err
	}
	p := &JetStreamPublisher{js: js, close: closeFn, stream: stream, logger: logger}
	if err := p.ensureStream(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:      p.stream,
		Subjects:  []string{p.stream + ".>"},
		MaxAge:    jetStreamMaxAge,
		Retention: nats.LimitsPolicy,
	}
	if _, err := p.js.AddStream(cfg); err == nil {
		return nil
	}
	if _, err := p.js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("ensure stream %s: %w", p.stream, err)
	}
	p.logger.Info("JetStream stream exists", watermill.LogFields{"stream": p.stream})
	return nil
}

func (p *JetStreamPublisher) subject(topic string) string {
	return p.stream + "." + strings.ReplaceAll(topic, " ", "_")
}

func (p *JetStreamPublisher) Publish(topic string, messages ...*message.Message) error {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed {
		return fmt.Errorf("jetstream publisher is closed")
	}

	subject := p.subject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(nats.MsgIdHdr, msg.UUID)

		if _, err := p.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: headers}); err != nil {
			return fmt.Errorf("publish to JetStream: %w", err)
		}
	}
	return nil
}

func (p *JetStreamPublisher) Close() error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.close != nil {
		p.close()
	}
	return nil
}
