package result

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/drblury/connectflow/internal/runtime/jsoncodec"
	"github.com/drblury/connectflow/internal/runtime/schema"
)

type fields map[string]any

// streamMessage builds a StreamCppResponse; nested maps become sub-messages.
func streamMessage(t *testing.T, values fields) protoreflect.Message {
	t.Helper()
	msg := dynamicpb.NewMessage(schema.StreamCppResponse())
	fill(t, msg, values)
	return msg
}

func fill(t *testing.T, msg protoreflect.Message, values fields) {
	t.Helper()
	for name, v := range values {
		fd := msg.Descriptor().Fields().ByName(protoreflect.Name(name))
		require.NotNil(t, fd, name)
		switch val := v.(type) {
		case fields:
			fill(t, msg.Mutable(fd).Message(), val)
		case string:
			msg.Set(fd, protoreflect.ValueOfString(val))
		case bool:
			msg.Set(fd, protoreflect.ValueOfBool(val))
		case int:
			msg.Set(fd, protoreflect.ValueOfInt32(int32(val)))
		default:
			t.Fatalf("unsupported value %T for %s", v, name)
		}
	}
}

func TestReduceAppendsText(t *testing.T) {
	acc := New(200, "application/connect+proto")
	acc = Reduce(acc, streamMessage(t, fields{"text": "hi"}))
	acc = Reduce(acc, streamMessage(t, fields{"text": " there"}))

	assert.Equal(t, "hi there", acc.Text)
	assert.Nil(t, acc.Error)
}

func TestReduceIsMonotonic(t *testing.T) {
	frames := []fields{
		{"text": "a"},
		{"text": "b", "done_edit": true},
		{"text": ""},
		{"done_stream": true},
		{"text": "c", "done_edit": false},
		{},
	}

	acc := New(200, "")
	prevText := ""
	var sawDoneEdit, sawDoneStream bool
	for i, f := range frames {
		acc = Reduce(acc, streamMessage(t, f))
		require.True(t, strings.HasPrefix(acc.Text, prevText), "frame %d shrank text", i)
		prevText = acc.Text
		if sawDoneEdit {
			require.True(t, acc.DoneEdit, "frame %d reset doneEdit", i)
		}
		if sawDoneStream {
			require.True(t, acc.DoneStream, "frame %d reset doneStream", i)
		}
		sawDoneEdit = acc.DoneEdit
		sawDoneStream = acc.DoneStream
	}
	assert.Equal(t, "abc", acc.Text)
	assert.True(t, acc.DoneEdit)
	assert.True(t, acc.DoneStream)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	first := Reduce(New(200, ""), streamMessage(t, fields{
		"text":       "x",
		"model_info": fields{"is_multidiff_model": true},
	}))
	second := Reduce(first, streamMessage(t, fields{
		"text":       "y",
		"model_info": fields{"is_fused_cursor_prediction_model": true},
	}))

	assert.Equal(t, "x", first.Text)
	assert.True(t, first.ModelInfo.IsMultidiffModel)
	assert.False(t, first.ModelInfo.IsFusedCursorPredictionModel)
	assert.Equal(t, "xy", second.Text)
	assert.True(t, second.ModelInfo.IsFusedCursorPredictionModel)
	assert.False(t, second.ModelInfo.IsMultidiffModel, "sub-objects are replaced, not merged")
}

func TestReduceStructuredFields(t *testing.T) {
	acc := Reduce(New(200, ""), streamMessage(t, fields{
		"range_to_replace": fields{
			"start_line_number":         3,
			"start_column":              1,
			"end_line_number_inclusive": 5,
			"end_column":                8,
		},
		"cursor_prediction_target": fields{
			"relative_path":           "main.go",
			"line_number_one_indexed": 12,
			"should_retrigger_cpp":    true,
		},
		"debug_model_output":        "raw",
		"debug_ttft_time":           "12ms",
		"suggestion_start_line":     4,
		"suggestion_confidence":     90,
		"begin_edit":                true,
		"should_remove_leading_eol": true,
		"binding_id":                "bind-1",
	}))

	require.NotNil(t, acc.RangeToReplace)
	assert.Equal(t, RangeToReplace{StartLine: 3, StartColumn: 1, EndLine: 5, EndColumn: 8}, *acc.RangeToReplace)
	require.NotNil(t, acc.CursorPredictionTarget)
	assert.Equal(t, "main.go", acc.CursorPredictionTarget.RelativePath)
	assert.Equal(t, int32(12), acc.CursorPredictionTarget.LineNumberOneIndexed)
	assert.True(t, acc.CursorPredictionTarget.ShouldRetriggerCpp)
	require.NotNil(t, acc.Debug)
	assert.Equal(t, Debug{ModelOutput: "raw", TtftTime: "12ms"}, *acc.Debug)
	assert.Equal(t, int32(4), acc.SuggestionStartLine)
	assert.Equal(t, int32(90), acc.SuggestionConfidence)
	assert.True(t, acc.BeginEdit)
	assert.True(t, acc.ShouldRemoveLeadingEol)
	assert.Equal(t, "bind-1", acc.BindingID)

	// A later message without those fields leaves them in place.
	later := Reduce(acc, streamMessage(t, fields{"text": "z"}))
	assert.Equal(t, acc.RangeToReplace, later.RangeToReplace)
	assert.Equal(t, acc.Debug, later.Debug)
}

func TestReduceNilMessage(t *testing.T) {
	acc := New(200, "x")
	assert.Equal(t, acc, Reduce(acc, nil))
}

func TestWithTrailer(t *testing.T) {
	ok := WithTrailer(New(200, ""), map[string]any{"ok": true})
	assert.Equal(t, map[string]any{"ok": true}, ok.Trailer)
	assert.Nil(t, ok.Error)

	connectErr := map[string]any{"code": "resource_exhausted", "message": "slow down"}
	failed := WithTrailer(New(200, ""), map[string]any{"error": connectErr})
	assert.Equal(t, connectErr, failed.Error)

	kept := WithTrailer(WithError(New(200, ""), "first"), map[string]any{"error": "second"})
	assert.Equal(t, "first", kept.Error)

	raw := WithTrailer(New(200, ""), "not json")
	assert.Equal(t, "not json", raw.Trailer)
	assert.Nil(t, raw.Error)
}

func TestWithError(t *testing.T) {
	acc := WithError(New(200, ""), errors.New("boom"))
	assert.Equal(t, "boom", acc.Error)
	assert.Equal(t, "boom", WithError(acc, "later").Error)
	assert.Nil(t, WithError(New(200, ""), nil).Error)
}

func TestWithStatus(t *testing.T) {
	tests := []struct {
		name   string
		acc    Result
		expect any
	}{
		{"success", New(200, ""), nil},
		{"client error", New(404, ""), "HTTP 404"},
		{"server error", New(503, ""), "HTTP 503"},
		{"existing error kept", WithError(New(500, ""), map[string]any{"code": "internal"}), map[string]any{"code": "internal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, WithStatus(tt.acc).Error)
		})
	}
}

func TestFinalizeEmptyResult(t *testing.T) {
	out := Finalize(New(200, "application/connect+proto"))

	var doc map[string]any
	require.NoError(t, jsoncodec.Unmarshal(out, &doc))
	assert.Equal(t, float64(200), doc["status"])
	assert.Equal(t, "", doc["text"])
	assert.Equal(t, false, doc["doneEdit"])
	assert.Equal(t, false, doc["doneStream"])
	assert.Nil(t, doc["error"])
	assert.Nil(t, doc["modelInfo"])
	assert.Contains(t, doc, "trailer")
	assert.NotContains(t, doc, "bindingId")
	assert.True(t, strings.Contains(string(out), "\n  \"status\""), "output is indented")
}

func TestFinalizeFallsBackOnEncodeFailure(t *testing.T) {
	acc := WithError(New(502, ""), "upstream closed")
	acc.Trailer = make(chan int)

	out := Finalize(acc)
	var doc map[string]any
	require.NoError(t, jsoncodec.Unmarshal(out, &doc))
	assert.Equal(t, map[string]any{"error": "upstream closed", "status": float64(502)}, doc)
}

func TestFallbackWithoutError(t *testing.T) {
	var doc map[string]any
	require.NoError(t, jsoncodec.Unmarshal(Fallback(nil, 0, errors.New("encode failed")), &doc))
	assert.Equal(t, "encode failed", doc["error"])

	require.NoError(t, jsoncodec.Unmarshal(Fallback(map[string]any{"code": 1}, 500, nil), &doc))
	assert.Equal(t, `{"code":1}`, doc["error"])
}

func TestFinalizeUnary(t *testing.T) {
	u := Unary{Status: 404, ContentType: "application/json", Format: "json"}.WithStatus()
	assert.Equal(t, "HTTP 404", u.Error)

	var doc map[string]any
	require.NoError(t, jsoncodec.Unmarshal(FinalizeUnary(u), &doc))
	assert.Equal(t, "json", doc["format"])
	assert.NotContains(t, doc, "preview")
}
