// Package stream drives one Connect streaming response from raw body bytes
// to a finalized result.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/drblury/connectflow/internal/runtime/decoder"
	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	"github.com/drblury/connectflow/internal/runtime/frame"
	"github.com/drblury/connectflow/internal/runtime/ids"
	"github.com/drblury/connectflow/internal/runtime/logging"
	"github.com/drblury/connectflow/internal/runtime/metrics"
	"github.com/drblury/connectflow/internal/runtime/result"
	"github.com/drblury/connectflow/internal/runtime/schema"
)

const tracerName = "github.com/drblury/connectflow/stream"

// DefaultChunkSize is the read buffer size used by Consume.
const DefaultChunkSize = 32 * 1024

// Session outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeAborted = "aborted"
)

// Options configures a Session. Only Status and ContentType normally need
// setting; everything else has a default.
type Options struct {
	// ID identifies the session in logs and published results. A ULID is
	// generated when empty.
	ID              string
	Status          int
	ContentType     string
	ContentEncoding string
	// Schema is the message carried by data frames. Defaults to
	// StreamCppResponse.
	Schema    protoreflect.MessageDescriptor
	Limits    frame.Limits
	ChunkSize int
	Decoder   *decoder.Decoder
	Logger    logging.ServiceLogger
	Metrics   *metrics.Collector
}

// Session owns the demultiplexer and accumulator for a single response. It is
// not safe for concurrent use.
type Session struct {
	id          string
	contentType string
	encoding    string
	chunkSize   int
	schema      protoreflect.MessageDescriptor
	demux       *frame.Demuxer
	dec         *decoder.Decoder
	logger      logging.ServiceLogger
	metrics     *metrics.Collector

	acc      result.Result
	frames   int
	started  time.Time
	finished bool
	aborted  bool
}

// NewSession prepares a session for one response.
func NewSession(opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = ids.CreateULID()
	}
	md := opts.Schema
	if md == nil {
		md = schema.StreamCppResponse()
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	logger := logging.OrNop(opts.Logger).With(logging.LogFields{
		"session_id": id,
		"message":    string(md.FullName()),
	})
	dec := opts.Decoder
	if dec == nil {
		dec = decoder.New(decoder.Options{Logger: logger, Metrics: opts.Metrics})
	}

	return &Session{
		id:          id,
		contentType: opts.ContentType,
		encoding:    opts.ContentEncoding,
		chunkSize:   chunk,
		schema:      md,
		demux:       frame.NewDemuxer(opts.Limits),
		dec:         dec,
		logger:      logger,
		metrics:     opts.Metrics,
		acc:         result.New(opts.Status, opts.ContentType),
		started:     time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Schema returns the descriptor data frames are decoded with.
func (s *Session) Schema() protoreflect.MessageDescriptor { return s.schema }

// Frames returns the number of complete frames seen so far.
func (s *Session) Frames() int { return s.frames }

// Snapshot returns the accumulator as it stands.
func (s *Session) Snapshot() result.Result { return s.acc }

// Feed pushes one chunk of the body through the demultiplexer and folds every
// completed frame into the result. The returned error is informational: it is
// already recorded in the result.
func (s *Session) Feed(chunk []byte) error {
	if s.finished {
		return errspkg.ErrSessionFinished
	}
	frames, err := s.demux.Feed(chunk)
	for _, f := range frames {
		s.handleFrame(f)
	}
	if err != nil {
		s.metrics.RecordFramingError("frame_too_large")
		s.logger.Error("Framing stopped", err, logging.LogFields{
			"frames":   s.frames,
			"buffered": s.demux.Buffered(),
		})
		s.acc = result.WithError(s.acc, err)
	}
	return err
}

func (s *Session) handleFrame(f frame.Frame) {
	s.frames++
	if f.Trailer() {
		s.metrics.RecordFrame(metrics.KindTrailer, len(f.Payload))
		trailer := frame.ParseTrailer(f.Payload)
		s.acc = result.WithTrailer(s.acc, trailer)
		s.logger.Debug("Trailer received", logging.LogFields{"bytes": len(f.Payload)})
		return
	}
	s.metrics.RecordFrame(metrics.KindData, len(f.Payload))

	payload := f.Payload
	if f.Compressed() {
		inflated, err := s.inflate(payload)
		if err != nil {
			s.logger.Error("Dropping compressed frame", err, logging.LogFields{"frame": s.frames})
			s.acc = result.WithError(s.acc, err)
			return
		}
		payload = inflated
	}

	out := s.dec.Decode(payload, s.schema)
	s.acc = result.Reduce(s.acc, out.Message)
	if out.Partial() {
		s.acc = result.WithPartial(s.acc)
	}
	if err := out.Err(); err != nil {
		s.acc = result.WithError(s.acc, err)
	}
}

func (s *Session) inflate(payload []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(s.encoding)) {
	case "", "identity":
		return nil, fmt.Errorf("%w: compressed frame without connect-content-encoding", errspkg.ErrUnsupportedEncoding)
	}
	return frame.Decompress(payload, s.encoding, s.demux.Limits().MaxFrameSize)
}

// Finish handles whatever never formed a frame, applies the HTTP status and
// returns the final result. Calling it again returns the same result.
func (s *Session) Finish() result.Result {
	if s.finished {
		return s.acc
	}
	if rem := s.demux.Remainder(); len(rem) > 0 {
		s.handleRemainder(rem)
	}
	s.acc = result.WithStatus(s.acc)
	s.finished = true

	outcome := OutcomeOK
	switch {
	case s.aborted:
		outcome = OutcomeAborted
	case s.acc.Error != nil:
		outcome = OutcomeError
	}
	elapsed := time.Since(s.started)
	s.metrics.RecordSession(outcome, elapsed)
	s.logger.Info("Stream session finished", logging.LogFields{
		"outcome":     outcome,
		"frames":      s.frames,
		"text_len":    len(s.acc.Text),
		"done_stream": s.acc.DoneStream,
		"partial":     s.acc.Partial,
		"elapsed_ms":  elapsed.Milliseconds(),
	})
	return s.acc
}

// handleRemainder treats leftover bytes as an out-of-band body: JSON becomes
// the error, anything else gets one strict decode attempt.
func (s *Session) handleRemainder(rem []byte) {
	if strings.Contains(s.contentType, "application/json") || rem[0] == '{' {
		s.acc.Error = frame.ParseTrailer(rem)
		s.logger.Debug("Stream remainder parsed as error body", logging.LogFields{"bytes": len(rem)})
		return
	}
	msg, err := s.dec.DecodeSchema(rem, s.schema)
	if err != nil {
		s.logger.Error("Discarding undecodable stream remainder", err, logging.LogFields{"bytes": len(rem)})
		return
	}
	s.acc = result.Reduce(s.acc, msg)
}

// Abort finalizes the session after a transport failure or cancellation,
// keeping everything decoded so far.
func (s *Session) Abort(err error) result.Result {
	if s.finished {
		return s.acc
	}
	s.aborted = true
	s.acc = result.WithError(s.acc, err)
	return s.Finish()
}

// Consume reads r to the end, feeding every chunk, and returns the final
// result. Cancellation of ctx is checked between reads.
func (s *Session) Consume(ctx context.Context, r io.Reader) result.Result {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "connectflow.stream.Consume",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("connectflow.session_id", s.id),
			attribute.String("connectflow.message", string(s.schema.FullName())),
			attribute.Int("http.response.status_code", s.acc.Status),
		),
	)
	defer span.End()

	res := s.consume(ctx, r)

	span.SetAttributes(
		attribute.Int("connectflow.frames", s.frames),
		attribute.Int("connectflow.text_length", len(res.Text)),
		attribute.Bool("connectflow.partial", res.Partial),
	)
	if res.Error != nil {
		span.SetStatus(codes.Error, fmt.Sprint(res.Error))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res
}

func (s *Session) consume(ctx context.Context, r io.Reader) result.Result {
	if r == nil {
		return s.Finish()
	}
	buf := make([]byte, s.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return s.Abort(err)
		}
		n, err := r.Read(buf)
		if n > 0 {
			_ = s.Feed(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return s.Finish()
		}
		if err != nil {
			s.logger.Error("Reading stream body failed", err, logging.LogFields{"frames": s.frames})
			return s.Abort(err)
		}
	}
}
