// Package decoder turns protobuf payloads into dynamic messages in two tiers.
//
// Tier 1 is a strict schema decode. When it fails, Tier 2 walks the wire bytes
// with the message's field table, keeping every field it can read and
// reporting each malformed region as a WalkError instead of giving up.
package decoder

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	"github.com/drblury/connectflow/internal/runtime/logging"
	"github.com/drblury/connectflow/internal/runtime/metrics"
)

// DefaultMaxDepth bounds message nesting during the manual walk.
const DefaultMaxDepth = 64

// Tier reports which strategy produced an Outcome.
type Tier int

const (
	// TierSchema means the payload decoded cleanly against the schema.
	TierSchema Tier = iota + 1
	// TierFallback means the manual walk recovered at least part of the message.
	TierFallback
	// TierFailed means nothing could be recovered.
	TierFailed
)

func (t Tier) String() string {
	switch t {
	case TierSchema:
		return metrics.TierSchema
	case TierFallback:
		return metrics.TierFallback
	default:
		return metrics.TierFailed
	}
}

// Options configures a Decoder. Zero values are usable.
type Options struct {
	Logger   logging.ServiceLogger
	Metrics  *metrics.Collector
	MaxDepth int
}

// Decoder is safe for concurrent use; it holds no per-payload state.
type Decoder struct {
	logger   logging.ServiceLogger
	metrics  *metrics.Collector
	maxDepth int
}

// New returns a Decoder with opts applied.
func New(opts Options) *Decoder {
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	return &Decoder{
		logger:   logging.OrNop(opts.Logger),
		metrics:  opts.Metrics,
		maxDepth: depth,
	}
}

// Outcome is the result of decoding one payload.
type Outcome struct {
	// Message holds every field that could be decoded. It is never nil once
	// a descriptor was supplied.
	Message   protoreflect.Message
	Tier      Tier
	SchemaErr error
	WalkErrs  []*WalkError

	// SchemaErrOffset is the start of the first top-level field the schema
	// decode rejected, or -1 when it cannot be attributed to one field.
	SchemaErrOffset int
}

// Partial reports whether the message may be missing fields.
func (o Outcome) Partial() bool {
	return o.Tier != TierSchema
}

// Err joins the walk errors. A failed outcome without walk errors reports
// the schema error instead.
func (o Outcome) Err() error {
	if len(o.WalkErrs) > 0 {
		errs := make([]error, len(o.WalkErrs))
		for i, we := range o.WalkErrs {
			errs[i] = we
		}
		return errors.Join(errs...)
	}
	if o.Tier == TierFailed {
		if o.SchemaErr != nil {
			return o.SchemaErr
		}
		return errspkg.ErrUndecodable
	}
	return nil
}

// Decode never panics and never fails outright: the returned Outcome carries
// whatever could be extracted together with the reasons the rest could not.
func (d *Decoder) Decode(payload []byte, md protoreflect.MessageDescriptor) Outcome {
	if md == nil {
		return Outcome{Tier: TierFailed, SchemaErr: errspkg.ErrSchemaRequired, SchemaErrOffset: -1}
	}
	name := string(md.FullName())

	msg := dynamicpb.NewMessage(md)
	err := proto.Unmarshal(payload, msg)
	if err == nil {
		d.metrics.RecordDecode(name, TierSchema.String(), 0)
		return Outcome{Message: msg, Tier: TierSchema, SchemaErrOffset: -1}
	}
	offset := schemaErrorOffset(payload, md)
	d.logger.Debug("Schema decode failed, walking wire bytes", logging.LogFields{
		"message":     name,
		"payload_len": len(payload),
		"offset":      offset,
		"error":       err.Error(),
	})

	w := &walker{maxDepth: d.maxDepth}
	walked := w.walk(payload, md)
	out := Outcome{
		Message:         walked,
		Tier:            TierFallback,
		SchemaErr:       err,
		SchemaErrOffset: offset,
		WalkErrs:        w.errs,
	}
	if w.decoded == 0 && len(w.errs) > 0 {
		out.Tier = TierFailed
	}

	for _, we := range w.errs {
		d.logger.Error("Wire walk error", we.Err, logging.LogFields{
			"message":   name,
			"offset":    we.Offset,
			"path":      we.Path,
			"field":     int32(we.Number),
			"wire_type": int8(we.WireType),
		})
	}
	d.metrics.RecordDecode(name, out.Tier.String(), len(w.errs))
	return out
}

// schemaErrorOffset replays the strict decode one top-level field at a time
// and returns the offset of the first field that fails.
func schemaErrorOffset(payload []byte, md protoreflect.MessageDescriptor) int {
	for offset := 0; offset < len(payload); {
		_, _, n := protowire.ConsumeField(payload[offset:])
		if n < 0 {
			return offset
		}
		if err := proto.Unmarshal(payload[offset:offset+n], dynamicpb.NewMessage(md)); err != nil {
			return offset
		}
		offset += n
	}
	return -1
}

// DecodeSchema runs only the strict schema decode.
func (d *Decoder) DecodeSchema(payload []byte, md protoreflect.MessageDescriptor) (protoreflect.Message, error) {
	if md == nil {
		return nil, errspkg.ErrSchemaRequired
	}
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(payload, msg); err != nil {
		return nil, err
	}
	d.metrics.RecordDecode(string(md.FullName()), TierSchema.String(), 0)
	return msg, nil
}

// Walk runs only the manual wire walk for payload. The returned message holds
// every field decoded before and around the reported errors.
func Walk(payload []byte, md protoreflect.MessageDescriptor) (protoreflect.Message, []*WalkError) {
	if md == nil {
		return nil, []*WalkError{{Err: errspkg.ErrSchemaRequired}}
	}
	w := &walker{maxDepth: DefaultMaxDepth}
	msg := w.walk(payload, md)
	return msg, w.errs
}
