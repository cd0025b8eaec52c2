// Package result accumulates decoded stream messages into the response
// document handed back to callers.
//
// Every function here is pure: it returns a new Result and never mutates the
// one it was given, so a session can snapshot its accumulator at any time.
package result

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/drblury/connectflow/internal/runtime/jsoncodec"
)

// ModelInfo describes the model that produced a suggestion.
type ModelInfo struct {
	IsFusedCursorPredictionModel bool `json:"isFusedCursorPredictionModel"`
	IsMultidiffModel             bool `json:"isMultidiffModel"`
}

// RangeToReplace is the editor range the suggestion replaces.
type RangeToReplace struct {
	StartLine   int32 `json:"startLine"`
	StartColumn int32 `json:"startColumn"`
	EndLine     int32 `json:"endLine"`
	EndColumn   int32 `json:"endColumn"`
}

// Debug carries the server's diagnostic strings.
type Debug struct {
	ModelOutput  string `json:"modelOutput,omitempty"`
	ModelInput   string `json:"modelInput,omitempty"`
	StreamTime   string `json:"streamTime,omitempty"`
	TotalTime    string `json:"totalTime,omitempty"`
	TtftTime     string `json:"ttftTime,omitempty"`
	ServerTiming string `json:"serverTiming,omitempty"`
}

// CursorPredictionTarget points at the next location the cursor should jump to.
type CursorPredictionTarget struct {
	RelativePath         string `json:"relativePath"`
	LineNumberOneIndexed int32  `json:"lineNumberOneIndexed"`
	ExpectedContent      string `json:"expectedContent"`
	ShouldRetriggerCpp   bool   `json:"shouldRetriggerCpp"`
}

// Result is the accumulator for one streamed response.
type Result struct {
	Status         int             `json:"status"`
	ContentType    string          `json:"contentType"`
	ModelInfo      *ModelInfo      `json:"modelInfo"`
	RangeToReplace *RangeToReplace `json:"rangeToReplace"`
	Text           string          `json:"text"`
	DoneEdit       bool            `json:"doneEdit"`
	DoneStream     bool            `json:"doneStream"`
	Debug          *Debug          `json:"debug"`
	Trailer        any             `json:"trailer"`
	Error          any             `json:"error"`

	SuggestionStartLine    int32                   `json:"suggestionStartLine,omitempty"`
	SuggestionConfidence   int32                   `json:"suggestionConfidence,omitempty"`
	CursorPredictionTarget *CursorPredictionTarget `json:"cursorPredictionTarget,omitempty"`
	BeginEdit              bool                    `json:"beginEdit,omitempty"`
	ShouldRemoveLeadingEol bool                    `json:"shouldRemoveLeadingEol,omitempty"`
	BindingID              string                  `json:"bindingId,omitempty"`
	// Partial is set once any message needed the manual wire walk.
	Partial bool `json:"partial,omitempty"`
}

// New returns an empty accumulator for a response.
func New(status int, contentType string) Result {
	return Result{Status: status, ContentType: contentType}
}

// Reduce folds one decoded message into acc. Text is appended, completion
// flags only ever turn on, and structured sub-objects present in msg replace
// the previous ones.
func Reduce(acc Result, msg protoreflect.Message) Result {
	if msg == nil {
		return acc
	}
	next := acc
	r := reader{msg: msg}

	if text, ok := r.stringField("text"); ok {
		next.Text += text
	}
	if r.boolField("done_edit") {
		next.DoneEdit = true
	}
	if r.boolField("done_stream") {
		next.DoneStream = true
	}
	if r.boolField("begin_edit") {
		next.BeginEdit = true
	}
	if r.boolField("should_remove_leading_eol") {
		next.ShouldRemoveLeadingEol = true
	}
	if v, ok := r.int32Field("suggestion_start_line"); ok {
		next.SuggestionStartLine = v
	}
	if v, ok := r.int32Field("suggestion_confidence"); ok {
		next.SuggestionConfidence = v
	}
	if v, ok := r.stringField("binding_id"); ok {
		next.BindingID = v
	}

	if sub, ok := r.messageField("model_info"); ok {
		next.ModelInfo = &ModelInfo{
			IsFusedCursorPredictionModel: sub.boolField("is_fused_cursor_prediction_model"),
			IsMultidiffModel:             sub.boolField("is_multidiff_model"),
		}
	}
	if sub, ok := r.messageField("range_to_replace"); ok {
		next.RangeToReplace = &RangeToReplace{
			StartLine:   sub.int32Or("start_line_number"),
			StartColumn: sub.int32Or("start_column"),
			EndLine:     sub.int32Or("end_line_number_inclusive"),
			EndColumn:   sub.int32Or("end_column"),
		}
	}
	if sub, ok := r.messageField("cursor_prediction_target"); ok {
		next.CursorPredictionTarget = &CursorPredictionTarget{
			RelativePath:         sub.stringOr("relative_path"),
			LineNumberOneIndexed: sub.int32Or("line_number_one_indexed"),
			ExpectedContent:      sub.stringOr("expected_content"),
			ShouldRetriggerCpp:   sub.boolField("should_retrigger_cpp"),
		}
	}
	if debug := r.debug(); debug != nil {
		next.Debug = debug
	}
	return next
}

// WithTrailer records the end-of-stream payload. A Connect error trailer
// also becomes the result error unless one is already set.
func WithTrailer(acc Result, trailer any) Result {
	acc.Trailer = trailer
	if errValue, ok := TrailerError(trailer); ok {
		acc = WithError(acc, errValue)
	}
	return acc
}

// TrailerError extracts the "error" member of a Connect end-stream message.
func TrailerError(trailer any) (any, bool) {
	obj, ok := trailer.(map[string]any)
	if !ok {
		return nil, false
	}
	errValue, ok := obj["error"]
	if !ok || errValue == nil {
		return nil, false
	}
	return errValue, true
}

// WithError sets the result error. The first error wins; Go errors are
// stored as their message.
func WithError(acc Result, errValue any) Result {
	if acc.Error != nil || errValue == nil {
		return acc
	}
	if err, ok := errValue.(error); ok {
		errValue = err.Error()
	}
	acc.Error = errValue
	return acc
}

// WithPartial flags the result as containing fallback-decoded data.
func WithPartial(acc Result) Result {
	acc.Partial = true
	return acc
}

// WithStatus turns an HTTP error status into the result error when nothing
// more specific was recorded.
func WithStatus(acc Result) Result {
	if acc.Status >= 400 {
		return WithError(acc, "HTTP "+strconv.Itoa(acc.Status))
	}
	return acc
}

// Finalize serialises acc as indented JSON. It always returns a well-formed
// document: when acc cannot be encoded, a minimal error document is returned.
func Finalize(acc Result) []byte {
	return finalize(acc, acc.Error, acc.Status)
}

func finalize(v any, errValue any, status int) []byte {
	out, err := jsoncodec.MarshalIndent(v, "", "  ")
	if err == nil && len(out) > 0 {
		return out
	}
	return Fallback(errValue, status, err)
}

// Fallback builds the minimal {"error","status"} document.
func Fallback(errValue any, status int, cause error) []byte {
	msg := describe(errValue)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	if msg == "" {
		msg = "empty response"
	}
	out, err := jsoncodec.MarshalIndent(map[string]any{"error": msg, "status": status}, "", "  ")
	if err != nil {
		return []byte(fmt.Sprintf("{\n  \"error\": %s,\n  \"status\": %d\n}", strconv.Quote(msg), status))
	}
	return out
}

func describe(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case error:
		return val.Error()
	default:
		if out, err := jsoncodec.Marshal(val); err == nil {
			return string(out)
		}
		return fmt.Sprintf("%v", val)
	}
}
