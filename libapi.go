package connectflow

import (
	"context"
	"io"
	"net/http"
	"os"

	"google.golang.org/protobuf/reflect/protoreflect"

	runtimepkg "github.com/drblury/connectflow/internal/runtime"
	configpkg "github.com/drblury/connectflow/internal/runtime/config"
	decoderpkg "github.com/drblury/connectflow/internal/runtime/decoder"
	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	framepkg "github.com/drblury/connectflow/internal/runtime/frame"
	idspkg "github.com/drblury/connectflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/connectflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/connectflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/connectflow/internal/runtime/metadata"
	metricspkg "github.com/drblury/connectflow/internal/runtime/metrics"
	resultpkg "github.com/drblury/connectflow/internal/runtime/result"
	schemapkg "github.com/drblury/connectflow/internal/runtime/schema"
	sinkpkg "github.com/drblury/connectflow/internal/runtime/sink"
	streampkg "github.com/drblury/connectflow/internal/runtime/stream"
	unarypkg "github.com/drblury/connectflow/internal/runtime/unary"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	// Session lifecycle hooks
	SessionContext = runtimepkg.SessionContext
	SessionHooks   = runtimepkg.SessionHooks
	Stats          = runtimepkg.Stats

	Session        = streampkg.Session
	SessionOptions = streampkg.Options

	Frame   = framepkg.Frame
	Limits  = framepkg.Limits
	Demuxer = framepkg.Demuxer

	Decoder        = decoderpkg.Decoder
	DecoderOptions = decoderpkg.Options
	DecodeOutcome  = decoderpkg.Outcome
	Tier           = decoderpkg.Tier
	WalkError      = decoderpkg.WalkError

	UnaryDecoder = unarypkg.Decoder
	UnaryOptions = unarypkg.Options

	Result         = resultpkg.Result
	ModelInfo      = resultpkg.ModelInfo
	RangeToReplace = resultpkg.RangeToReplace
	Debug          = resultpkg.Debug
	Unary          = resultpkg.Unary
	Preview        = resultpkg.Preview

	Sink = sinkpkg.Sink

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	MetricsCollector = metricspkg.Collector
	MetricsSnapshot  = metricspkg.Snapshot

	ConfigValidationError = errspkg.ConfigValidationError
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	LoggingHooks   = runtimepkg.LoggingHooks
	AlertingHooks  = runtimepkg.AlertingHooks
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	NewSession       = streampkg.NewSession
	NewDemuxer       = framepkg.NewDemuxer
	DefaultLimits    = framepkg.DefaultLimits
	EncodeFrame      = framepkg.Encode
	NewDecoder       = decoderpkg.New
	Walk             = decoderpkg.Walk
	NewUnaryDecoder  = unarypkg.New
	Finalize         = resultpkg.Finalize
	FinalizeUnary    = resultpkg.FinalizeUnary
	NewMetrics       = metricspkg.New
	BuildSink        = sinkpkg.Build
	NewPreview       = unarypkg.NewPreview

	StreamCppResponse         = schemapkg.StreamCppResponse
	RefreshTabContextResponse = schemapkg.RefreshTabContextResponse
	LoadFileDescriptorSet     = schemapkg.LoadFileDescriptorSet
	FindMessage               = schemapkg.Find

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrSchemaRequired      = errspkg.ErrSchemaRequired
	ErrFrameTooLarge       = errspkg.ErrFrameTooLarge
	ErrTruncated           = errspkg.ErrTruncated
	ErrInvalidWireType     = errspkg.ErrInvalidWireType
	ErrInvalidTag          = errspkg.ErrInvalidTag
	ErrNestingTooDeep      = errspkg.ErrNestingTooDeep
	ErrUndecodable         = errspkg.ErrUndecodable
	ErrUnsupportedEncoding = errspkg.ErrUnsupportedEncoding
	ErrSessionFinished     = errspkg.ErrSessionFinished
	ErrPublisherRequired   = errspkg.ErrPublisherRequired
	ErrTopicRequired       = errspkg.ErrTopicRequired
	ErrUnknownSink         = errspkg.ErrUnknownSink

	NewJSONServiceLogger = loggingpkg.NewJSONServiceLogger
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Response headers read from Connect responses.
const (
	HeaderContentType            = runtimepkg.HeaderContentType
	HeaderConnectContentEncoding = runtimepkg.HeaderConnectContentEncoding
)

// Envelope flag bits.
const (
	FlagCompressed = framepkg.FlagCompressed
	FlagEndStream  = framepkg.FlagEndStream
)

// Decode tiers reported by DecodeOutcome.Tier.
const (
	TierSchema   = decoderpkg.TierSchema
	TierFallback = decoderpkg.TierFallback
	TierFailed   = decoderpkg.TierFailed
)

// Metadata keys attached to published results.
const (
	MetadataKeySessionID   = metadatapkg.KeySessionID
	MetadataKeyMessageType = metadatapkg.KeyMessageType
	MetadataKeyStatus      = metadatapkg.KeyStatus
	MetadataKeyContentType = metadatapkg.KeyContentType
	MetadataKeyOutcome     = metadatapkg.KeyOutcome
)

// LoadConfigFromEnv loads path (when non-empty) and applies CONNECTFLOW_*
// environment overrides on top.
func LoadConfigFromEnv(path string) (Config, error) {
	conf := configpkg.Default()
	if path != "" {
		loaded, err := configpkg.Load(path)
		if err != nil {
			return Config{}, err
		}
		conf = loaded
	}
	return conf.ApplyEnv(os.LookupEnv)
}

// NewSessionForResponse prepares a session from the status and headers of
// resp. The body is left for the caller to feed or consume.
func NewSessionForResponse(resp *http.Response, schema protoreflect.MessageDescriptor, log ServiceLogger) *Session {
	return streampkg.NewSession(streampkg.Options{
		Status:          resp.StatusCode,
		ContentType:     resp.Header.Get(HeaderContentType),
		ContentEncoding: resp.Header.Get(HeaderConnectContentEncoding),
		Schema:          schema,
		Logger:          log,
	})
}

// DecodeHTTPResponse consumes resp.Body with the status and content headers of
// resp applied to opts, then closes the body.
func DecodeHTTPResponse(ctx context.Context, resp *http.Response, opts SessionOptions) Result {
	defer func() { _ = resp.Body.Close() }()
	opts.Status = resp.StatusCode
	opts.ContentType = resp.Header.Get(HeaderContentType)
	opts.ContentEncoding = resp.Header.Get(HeaderConnectContentEncoding)
	return streampkg.NewSession(opts).Consume(ctx, resp.Body)
}

// DecodeStreamBody consumes a streaming body with default limits and returns
// the finalized JSON document.
func DecodeStreamBody(ctx context.Context, status int, contentType string, body io.Reader) []byte {
	sess := streampkg.NewSession(streampkg.Options{Status: status, ContentType: contentType})
	return resultpkg.Finalize(sess.Consume(ctx, body))
}

// DecodeUnaryBody decodes a complete unary body against RefreshTabContextResponse
// and returns the finalized JSON document.
func DecodeUnaryBody(status int, contentType string, body []byte) []byte {
	return resultpkg.FinalizeUnary(unarypkg.New(unarypkg.Options{}).Decode(status, contentType, body))
}
