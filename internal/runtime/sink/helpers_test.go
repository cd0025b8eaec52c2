package sink

import (
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

type testPublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []*message.Message
	err      error
	closed   bool
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, msg)
	}
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
