package sink

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/connectflow/internal/runtime/config"
	"github.com/drblury/connectflow/internal/runtime/jsoncodec"
)

// DefaultResultsFile is used by the file sink when no path is configured.
const DefaultResultsFile = "results.jsonl"

var (
	FilePublisherFactory = func(path string, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return &FilePublisher{path: path, logger: logger}, nil
	}
)

// FileRecord is one line written by FilePublisher.
type FileRecord struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata"`
	// Result holds the payload unchanged when it is valid JSON.
	Result json.RawMessage `json:"result,omitempty"`
	// Raw holds payloads that are not JSON.
	Raw []byte `json:"raw,omitempty"`
}

// FilePublisher appends one JSON record per message to a file.
type FilePublisher struct {
	path   string
	logger watermill.LoggerAdapter
	mu     sync.Mutex
}

func filePublisher(conf *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	path := conf.GetResultsFile()
	if path == "" {
		path = DefaultResultsFile
	}
	return FilePublisherFactory(path, logger)
}

func (p *FilePublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		rec := FileRecord{
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
		}
		if jsoncodec.Valid(msg.Payload) {
			rec.Result = json.RawMessage(msg.Payload)
		} else {
			rec.Raw = msg.Payload
		}

		line, err := jsoncodec.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func (p *FilePublisher) Close() error {
	return nil
}
