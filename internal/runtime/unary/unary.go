// Package unary decodes single, non-streamed response bodies whose content
// type is not always trustworthy.
package unary

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/drblury/connectflow/internal/runtime/decoder"
	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	"github.com/drblury/connectflow/internal/runtime/jsoncodec"
	"github.com/drblury/connectflow/internal/runtime/logging"
	"github.com/drblury/connectflow/internal/runtime/result"
	"github.com/drblury/connectflow/internal/runtime/schema"
)

// PreviewSize is how many leading bytes of an undecodable body are kept.
const PreviewSize = 200

// Body formats reported in result.Unary.Format.
const (
	FormatJSON    = "json"
	FormatProto   = "proto"
	FormatEmpty   = "empty"
	FormatUnknown = "unknown"
)

var protoContentTypes = []string{
	"application/proto",
	"application/x-protobuf",
	"application/protobuf",
	"application/octet-stream",
}

// Options configures a Decoder.
type Options struct {
	// Schema is the expected response message. Defaults to
	// RefreshTabContextResponse.
	Schema  protoreflect.MessageDescriptor
	Decoder *decoder.Decoder
	Logger  logging.ServiceLogger
}

// Decoder turns unary bodies into result.Unary documents.
type Decoder struct {
	schema protoreflect.MessageDescriptor
	dec    *decoder.Decoder
	logger logging.ServiceLogger
}

// New returns a Decoder with opts applied.
func New(opts Options) *Decoder {
	md := opts.Schema
	if md == nil {
		md = schema.RefreshTabContextResponse()
	}
	logger := logging.OrNop(opts.Logger)
	dec := opts.Decoder
	if dec == nil {
		dec = decoder.New(decoder.Options{Logger: logger})
	}
	return &Decoder{
		schema: md,
		dec:    dec,
		logger: logger,
	}
}

// Decode reads body according to contentType, sniffing when the header is
// missing or misleading, and always returns a document.
func (d *Decoder) Decode(status int, contentType string, body []byte) result.Unary {
	out := result.Unary{Status: status, ContentType: contentType, Format: FormatUnknown}
	ct := strings.ToLower(contentType)

	switch {
	case len(body) == 0:
		out.Format = FormatEmpty
	case isJSON(ct) || bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")):
		if d.decodeJSON(&out, body) {
			break
		}
		if isJSON(ct) {
			d.fail(&out, body, "body is not valid JSON")
			break
		}
		d.decodeProto(&out, body)
	case isProto(ct):
		d.decodeProto(&out, body)
	default:
		d.logger.Debug("Unknown content type, sniffing body", logging.LogFields{"content_type": contentType})
		if d.decodeJSON(&out, body) {
			break
		}
		d.decodeStrict(&out, body)
	}
	return out.WithStatus()
}

func (d *Decoder) decodeJSON(out *result.Unary, body []byte) bool {
	var parsed any
	if err := jsoncodec.Unmarshal(body, &parsed); err != nil {
		return false
	}
	out.Format = FormatJSON
	out.Body = parsed
	if out.Status >= 400 {
		out.Error = parsed
	}
	return true
}

func (d *Decoder) decodeProto(out *result.Unary, body []byte) {
	res := d.dec.Decode(body, d.schema)
	if res.Tier == decoder.TierFailed {
		d.fail(out, body, res.Err().Error())
		return
	}
	out.Format = FormatProto
	out.Partial = res.Partial()
	for _, we := range res.WalkErrs {
		out.DecodeErrors = append(out.DecodeErrors, we.Error())
	}
	d.renderMessage(out, res.Message)
}

func (d *Decoder) decodeStrict(out *result.Unary, body []byte) {
	msg, err := d.dec.DecodeSchema(body, d.schema)
	if err != nil {
		d.fail(out, body, "body is neither JSON nor "+string(d.schema.FullName()))
		return
	}
	out.Format = FormatProto
	d.renderMessage(out, msg)
}

func (d *Decoder) renderMessage(out *result.Unary, msg protoreflect.Message) {
	raw, err := protojson.Marshal(msg.Interface())
	if err == nil {
		var parsed any
		if err = jsoncodec.Unmarshal(raw, &parsed); err == nil {
			out.Body = parsed
			return
		}
	}
	reason := fmt.Sprintf("render: %v", err)
	out.DecodeErrors = append(out.DecodeErrors, reason)
	if out.Error == nil {
		out.Error = fmt.Sprintf("%v: %s", errspkg.ErrUndecodable, reason)
	}
	d.logger.Error("Decoded unary message could not be rendered", err, logging.LogFields{
		"message": string(msg.Descriptor().FullName()),
	})
}

func (d *Decoder) fail(out *result.Unary, body []byte, reason string) {
	out.Preview = NewPreview(body)
	if out.Error == nil {
		out.Error = fmt.Sprintf("%v: %s", errspkg.ErrUndecodable, reason)
	}
	d.logger.Error("Unary body could not be decoded", errspkg.ErrUndecodable, logging.LogFields{
		"reason":       reason,
		"bytes":        len(body),
		"content_type": out.ContentType,
		"preview_hex":  out.Preview.Hex,
	})
}

// NewPreview captures the first PreviewSize bytes of body.
func NewPreview(body []byte) *result.Preview {
	if len(body) > PreviewSize {
		body = body[:PreviewSize]
	}
	text := make([]byte, len(body))
	for i, b := range body {
		switch {
		case b == '\n' || b == '\r':
			text[i] = b
		case b < 0x20 || b > 0x7e:
			text[i] = '.'
		default:
			text[i] = b
		}
	}
	return &result.Preview{Hex: hex.EncodeToString(body), Text: string(text)}
}

func isJSON(ct string) bool {
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "text/json")
}

func isProto(ct string) bool {
	for _, candidate := range protoContentTypes {
		if strings.Contains(ct, candidate) {
			return true
		}
	}
	return false
}
