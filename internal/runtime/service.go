package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/reflect/protoreflect"

	configpkg "github.com/drblury/connectflow/internal/runtime/config"
	"github.com/drblury/connectflow/internal/runtime/decoder"
	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	"github.com/drblury/connectflow/internal/runtime/frame"
	"github.com/drblury/connectflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/connectflow/internal/runtime/logging"
	"github.com/drblury/connectflow/internal/runtime/metadata"
	"github.com/drblury/connectflow/internal/runtime/metrics"
	"github.com/drblury/connectflow/internal/runtime/result"
	"github.com/drblury/connectflow/internal/runtime/schema"
	"github.com/drblury/connectflow/internal/runtime/sink"
	"github.com/drblury/connectflow/internal/runtime/stream"
	"github.com/drblury/connectflow/internal/runtime/unary"
)

// Response headers read by DecodeStream and DecodeUnary.
const (
	HeaderContentType            = "Content-Type"
	HeaderConnectContentEncoding = "Connect-Content-Encoding"
)

const shutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults derived from the configuration.
type ServiceDependencies struct {
	// Sink replaces the sink built from Conf.SinkSystem.
	Sink *sink.Sink
	// Registerer and Gatherer default to the Prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// StreamSchema and UnarySchema default to the built-in aiserver.v1 messages.
	StreamSchema protoreflect.MessageDescriptor
	UnarySchema  protoreflect.MessageDescriptor
	Hooks        SessionHooks
}

// Service decodes Connect responses with shared limits, logging, metrics and
// an optional result sink. It is safe for concurrent use; each response gets
// its own session.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	sink         *sink.Sink
	ownsSink     bool
	metrics      *metrics.Collector
	gatherer     prometheus.Gatherer
	decoder      *decoder.Decoder
	unary        *unary.Decoder
	streamSchema protoreflect.MessageDescriptor
	unarySchema  protoreflect.MessageDescriptor
	hooks        SessionHooks

	resourceTracker *resourceTracker

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService is TryNewService that panics on error.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService validates conf and builds the metrics collector and sink it
// asks for.
func TryNewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	withDefaults := conf.WithDefaults()
	conf = &withDefaults
	if err := errspkg.NewConfigValidationError(conf.Validate()); err != nil {
		return nil, err
	}

	log.Info("Creating decoder service", loggingpkg.LogFields{
		"sink_system": conf.SinkSystem,
		"config":      conf,
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		gatherer:        deps.Gatherer,
		streamSchema:    deps.StreamSchema,
		unarySchema:     deps.UnarySchema,
		hooks:           deps.Hooks,
		resourceTracker: newResourceTracker(),
	}
	if s.streamSchema == nil {
		s.streamSchema = schema.StreamCppResponse()
	}
	if s.unarySchema == nil {
		s.unarySchema = schema.RefreshTabContextResponse()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	if conf.MetricsEnabled {
		reg := deps.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		s.metrics = metrics.New(reg)
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if conf.MetricsPort > 0 {
			s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
			s.registerStatsAPI(conf.MetricsPort)
		}
	}

	s.decoder = decoder.New(decoder.Options{Logger: log, Metrics: s.metrics})
	s.unary = unary.New(unary.Options{Schema: s.unarySchema, Decoder: s.decoder, Logger: log})

	if deps.Sink != nil {
		s.sink = deps.Sink
	} else {
		built, err := sink.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, err
		}
		s.sink = built
		s.ownsSink = true
	}

	return s, nil
}

// Metrics returns the collector, or nil when metrics are disabled.
func (s *Service) Metrics() *metrics.Collector { return s.metrics }

// Sink returns the result sink. It is never nil but may be disabled.
func (s *Service) Sink() *sink.Sink { return s.sink }

// NewSession starts a streaming session for a response with the given
// status and headers.
func (s *Service) NewSession(status int, contentType, contentEncoding string) *stream.Session {
	return stream.NewSession(stream.Options{
		Status:          status,
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		Schema:          s.streamSchema,
		Limits:          frame.Limits{MaxFrameSize: s.Conf.MaxFrameSize},
		ChunkSize:       s.Conf.ReadChunkSize,
		Decoder:         s.decoder,
		Logger:          s.Logger,
		Metrics:         s.metrics,
	})
}

// DecodeStream consumes a streaming response body, closes it and returns the
// accumulated result. The result is published when a sink is configured.
func (s *Service) DecodeStream(ctx context.Context, resp *http.Response) result.Result {
	if resp == nil {
		return result.WithError(result.New(0, ""), "no response")
	}
	var body io.Reader
	if resp.Body != nil {
		defer resp.Body.Close()
		body = resp.Body
	}

	sess := s.NewSession(resp.StatusCode, resp.Header.Get(HeaderContentType), resp.Header.Get(HeaderConnectContentEncoding))
	sc := SessionContext{
		ID:          sess.ID(),
		Kind:        KindStream,
		Message:     string(s.streamSchema.FullName()),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get(HeaderContentType),
		Context:     ctx,
		StartedAt:   time.Now(),
	}
	s.hooks.start(sc)

	res := sess.Consume(ctx, body)
	sc.Duration = time.Since(sc.StartedAt)
	s.hooks.finish(sc, res.Error)

	if s.sink.Enabled() {
		if err := s.sink.PublishResult(ctx, sc.ID, sc.Message, res); err != nil {
			s.Logger.Error("Failed to publish result", err, loggingpkg.LogFields{"session_id": sc.ID})
		}
	}
	return res
}

// DecodeUnary reads a unary response body, closes it and returns the decoded
// document. Bodies larger than MaxFrameSize are rejected unread.
func (s *Service) DecodeUnary(ctx context.Context, resp *http.Response) (result.Unary, error) {
	if resp == nil {
		return result.Unary{Error: "no response"}, errors.New("no response")
	}
	contentType := resp.Header.Get(HeaderContentType)
	sc := SessionContext{
		ID:          ids.CreateULID(),
		Kind:        KindUnary,
		Message:     string(s.unarySchema.FullName()),
		Status:      resp.StatusCode,
		ContentType: contentType,
		Context:     ctx,
		StartedAt:   time.Now(),
	}
	s.hooks.start(sc)

	body, err := s.readBody(resp)
	if err != nil {
		sc.Duration = time.Since(sc.StartedAt)
		s.hooks.finish(sc, err)
		out := result.Unary{Status: resp.StatusCode, ContentType: contentType, Format: unary.FormatUnknown, Error: err.Error()}
		return out, err
	}

	out := s.unary.Decode(resp.StatusCode, contentType, body)
	sc.Duration = time.Since(sc.StartedAt)
	s.hooks.finish(sc, out.Error)

	if s.sink.Enabled() {
		md := metadata.ForResult(sc.ID, sc.Message, out.Status, out.ContentType, out.Error != nil)
		if err := s.sink.Publish(ctx, sc.ID, result.FinalizeUnary(out), md); err != nil {
			s.Logger.Error("Failed to publish result", err, loggingpkg.LogFields{"session_id": sc.ID})
		}
	}
	return out, nil
}

func (s *Service) readBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()

	limit := int64(s.Conf.MaxFrameSize)
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read unary body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: unary body exceeds %d bytes", errspkg.ErrFrameTooLarge, limit)
	}
	return body, nil
}

// RegisterHTTPHandler mounts handler on the server listening on port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// Start serves the registered HTTP handlers until ctx is cancelled, then
// shuts the servers down.
func (s *Service) Start(ctx context.Context) error {
	servers := s.startHTTPServers()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) startHTTPServers() []*http.Server {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
	return servers
}

// Close releases the sink when the service built it.
func (s *Service) Close() error {
	if !s.ownsSink {
		return nil
	}
	return s.sink.Close()
}
