package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/connectflow/internal/runtime/config"
)

type fakeJetStream struct {
	addErr    error
	updateErr error
	pubErr    error
	streams   []*nats.StreamConfig
	published []*nats.Msg
}

func (f *fakeJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.streams = append(f.streams, cfg)
	return &nats.StreamInfo{}, f.addErr
}

func (f *fakeJetStream) UpdateStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	return &nats.StreamInfo{}, f.updateErr
}

func (f *fakeJetStream) PublishMsg(m *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.pubErr != nil {
		return nil, f.pubErr
	}
	f.published = append(f.published, m)
	return &nats.PubAck{}, nil
}

func stubJetStream(t *testing.T, js *fakeJetStream) *bool {
	t.Helper()
	orig := JetStreamConnectFactory
	t.Cleanup(func() { JetStreamConnectFactory = orig })

	closed := false
	JetStreamConnectFactory = func(string) (jetStreamContext, func(), error) {
		return js, func() { closed = true }, nil
	}
	return &closed
}

func TestJetStreamSinkPublishesWithHeaders(t *testing.T) {
	js := &fakeJetStream{}
	closed := stubJetStream(t, js)

	s, err := Build(context.Background(), &config.Config{SinkSystem: "jetstream", NATSURL: "nats://localhost:4222", SinkTopic: "results"}, watermill.NopLogger{})
	require.NoError(t, err)

	require.Len(t, js.streams, 1)
	assert.Equal(t, DefaultJetStreamStream, js.streams[0].Name)
	assert.Equal(t, []string{"CONNECTFLOW.>"}, js.streams[0].Subjects)

	msg := message.NewMessage("id-7", []byte(`{}`))
	msg.Metadata.Set("k", "v")
	require.NoError(t, s.Publisher.Publish(s.Topic, msg))

	require.Len(t, js.published, 1)
	got := js.published[0]
	assert.Equal(t, "CONNECTFLOW.results", got.Subject)
	assert.Equal(t, "v", got.Header.Get("k"))
	assert.Equal(t, "id-7", got.Header.Get(nats.MsgIdHdr))

	require.NoError(t, s.Close())
	assert.True(t, *closed)
	assert.Error(t, s.Publisher.Publish(s.Topic, msg), "publishing after close must fail")
}

func TestJetStreamSinkUpdatesExistingStream(t *testing.T) {
	js := &fakeJetStream{addErr: errors.New("stream name already in use")}
	stubJetStream(t, js)

	_, err := jetStreamPublisher(&config.Config{JetStreamStream: "RESULTS"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, "RESULTS", js.streams[0].Name)
}

func TestJetStreamSinkFailsWhenStreamCannotBeEnsured(t *testing.T) {
	js := &fakeJetStream{addErr: errors.New("add"), updateErr: errors.New("update")}
	closed := stubJetStream(t, js)

	_, err := jetStreamPublisher(&config.Config{}, watermill.NopLogger{})
	require.Error(t, err)
	assert.True(t, *closed, "connection should be released on failure")
}

func TestJetStreamSinkWrapsPublishError(t *testing.T) {
	js := &fakeJetStream{pubErr: errors.New("no responders")}
	stubJetStream(t, js)

	pub, err := jetStreamPublisher(&config.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	err = pub.Publish("t", message.NewMessage("id", nil))
	assert.ErrorContains(t, err, "no responders")
}

func TestJetStreamConnectError(t *testing.T) {
	orig := JetStreamConnectFactory
	t.Cleanup(func() { JetStreamConnectFactory = orig })
	JetStreamConnectFactory = func(string) (jetStreamContext, func(), error) {
		return nil, nil, errors.New("refused")
	}

	_, err := Build(context.Background(), &config.Config{SinkSystem: "jetstream", NATSURL: "nats://nowhere:4222"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "refused")
}
