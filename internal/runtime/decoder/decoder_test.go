package decoder

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/connectflow/internal/runtime/errors"
	"github.com/drblury/connectflow/internal/runtime/logging"
	"github.com/drblury/connectflow/internal/runtime/metrics"
	"github.com/drblury/connectflow/internal/runtime/schema"
)

type recordingLogger struct {
	debug  []string
	errors []logging.LogFields
}

func (r *recordingLogger) With(logging.LogFields) logging.ServiceLogger { return r }
func (r *recordingLogger) Debug(msg string, _ logging.LogFields)        { r.debug = append(r.debug, msg) }
func (r *recordingLogger) Info(string, logging.LogFields)               {}
func (r *recordingLogger) Trace(string, logging.LogFields)              {}
func (r *recordingLogger) Error(_ string, _ error, fields logging.LogFields) {
	r.errors = append(r.errors, fields)
}

func TestDecodeUsesSchemaTier(t *testing.T) {
	payload := wireBuilder{}.str(1, "hi").varint(13, 1)

	out := New(Options{}).Decode(payload, schema.StreamCppResponse())
	assert.Equal(t, TierSchema, out.Tier)
	assert.False(t, out.Partial())
	assert.NoError(t, out.Err())
	assert.NoError(t, out.SchemaErr)
	assert.Equal(t, -1, out.SchemaErrOffset)
	assert.Equal(t, "hi", get(out.Message, "text").String())
	assert.True(t, get(out.Message, "done_edit").Bool())
}

func TestDecodeKnownThenUnknownThenKnown(t *testing.T) {
	payload := wireBuilder{}.
		str(1, "abc").
		bytes(99, make([]byte, 50)).
		varint(2, 1)

	out := New(Options{}).Decode(payload, schema.StreamCppResponse())
	require.NoError(t, out.Err())
	assert.Equal(t, "abc", get(out.Message, "text").String())
	assert.Equal(t, int64(1), get(out.Message, "suggestion_start_line").Int())
}

func TestDecodeFallsBackOnInvalidUTF8(t *testing.T) {
	payload := wireBuilder{}.bytes(1, []byte{'o', 'k', 0xff}).varint(4, 1)

	out := New(Options{}).Decode(payload, schema.StreamCppResponse())
	assert.Equal(t, TierFallback, out.Tier)
	assert.True(t, out.Partial())
	assert.Error(t, out.SchemaErr)
	assert.Empty(t, out.WalkErrs)
	assert.NoError(t, out.Err())
	assert.Equal(t, "ok\uFFFD", get(out.Message, "text").String())
	assert.True(t, get(out.Message, "done_stream").Bool())
}

func TestDecodeReportsSchemaErrorOffset(t *testing.T) {
	good := wireBuilder{}.varint(4, 1).varint(2, 7)
	payload := append(append(wireBuilder{}, good...), wireBuilder{}.bytes(1, []byte{0xff})...)

	out := New(Options{}).Decode(payload, schema.StreamCppResponse())
	require.Equal(t, TierFallback, out.Tier)
	assert.Equal(t, len(good), out.SchemaErrOffset)
	assert.True(t, get(out.Message, "done_stream").Bool())
	assert.Equal(t, int64(7), get(out.Message, "suggestion_start_line").Int())
	assert.Equal(t, "\uFFFD", get(out.Message, "text").String())
}

func TestSchemaErrorOffsetUnattributed(t *testing.T) {
	payload := wireBuilder{}.str(1, "ok")
	assert.Equal(t, -1, schemaErrorOffset(payload, schema.StreamCppResponse()))

	truncated := wireBuilder{}.str(1, "ok").raw(0x0a, 0x05, 'a')
	assert.Equal(t, 4, schemaErrorOffset(truncated, schema.StreamCppResponse()))
}

func TestDecodeFallbackLogsAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	require.NoError(t, collector.Register())
	log := &recordingLogger{}

	inner := wireBuilder{}.varint(1, 4).raw(0x17)
	payload := wireBuilder{}.str(1, "partial").bytes(11, inner).varint(4, 1)

	out := New(Options{Logger: log, Metrics: collector}).Decode(payload, schema.StreamCppResponse())
	assert.Equal(t, TierFallback, out.Tier)
	require.Len(t, out.WalkErrs, 1)
	assert.ErrorIs(t, out.Err(), errspkg.ErrInvalidWireType)
	assert.Equal(t, "partial", get(out.Message, "text").String())
	assert.True(t, get(out.Message, "done_stream").Bool())

	require.Len(t, log.debug, 1)
	require.Len(t, log.errors, 1)
	assert.Equal(t, "rangeToReplace", log.errors[0]["path"])
	assert.Equal(t, out.WalkErrs[0].Offset, log.errors[0]["offset"])

	snap := collector.Snapshot()
	stats := snap.Messages[schema.StreamCppResponseName]
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.Fallbacks)
	assert.Equal(t, uint64(1), stats.WalkErrors)
}

func TestDecodeFailsWhenNothingRecovered(t *testing.T) {
	out := New(Options{}).Decode([]byte{0x0f, 0x00}, schema.StreamCppResponse())
	assert.Equal(t, TierFailed, out.Tier)
	require.Len(t, out.WalkErrs, 1)
	assert.Error(t, out.Err())
	assert.NotNil(t, out.Message)
}

func TestDecodeNilDescriptor(t *testing.T) {
	out := New(Options{}).Decode([]byte{0x08, 0x01}, nil)
	assert.Equal(t, TierFailed, out.Tier)
	assert.Nil(t, out.Message)
	assert.ErrorIs(t, out.Err(), errspkg.ErrSchemaRequired)
}

func TestDecodeEmptyPayload(t *testing.T) {
	out := New(Options{}).Decode(nil, schema.StreamCppResponse())
	assert.Equal(t, TierSchema, out.Tier)
	assert.Equal(t, "", get(out.Message, "text").String())
}

func TestDecodeLimitsNesting(t *testing.T) {
	md := testSchema(t)
	nested := wireBuilder{}.varint(2, 4)
	for i := 0; i < 4; i++ {
		nested = wireBuilder{}.bytes(1, nested)
	}
	// A trailing invalid tag forces the manual walk.
	payload := wireBuilder{}.varint(2, 1).raw(nested...).raw(0x0f)

	out := New(Options{MaxDepth: 2}).Decode(payload, md)
	assert.Equal(t, TierFallback, out.Tier)
	require.Len(t, out.WalkErrs, 2)
	assert.ErrorIs(t, out.WalkErrs[0], errspkg.ErrNestingTooDeep)
	assert.Equal(t, "child.child.child", out.WalkErrs[0].Path)
	assert.ErrorIs(t, out.WalkErrs[1], errspkg.ErrInvalidWireType)
	assert.Equal(t, int64(1), get(out.Message, "value").Int())
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "schema", TierSchema.String())
	assert.Equal(t, "fallback", TierFallback.String())
	assert.Equal(t, "failed", TierFailed.String())
	assert.Equal(t, "failed", Tier(0).String())
}
