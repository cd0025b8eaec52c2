package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type trailerPayload struct {
	Error    *trailerError       `json:"error,omitempty"`
	Metadata map[string][]string `json:"metadata,omitempty"`
}

type trailerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := trailerPayload{Error: &trailerError{Code: "unavailable", Message: "busy"}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out trailerPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.Error == nil || *out.Error != *in.Error {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"error\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestUnmarshalIntoAny(t *testing.T) {
	var v any
	if err := Unmarshal([]byte(`{"ok":true,"n":2}`), &v); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if m["ok"] != true || m["n"] != float64(2) {
		t.Fatalf("unexpected decode %#v", m)
	}
}

func TestValid(t *testing.T) {
	if !Valid([]byte(`{"a":[1,2]}`)) {
		t.Fatal("expected object to be valid")
	}
	if Valid([]byte(`{"a":`)) {
		t.Fatal("expected truncated object to be invalid")
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := trailerPayload{Metadata: map[string][]string{"x-request-id": {"abc"}}}

	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded trailerPayload
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Metadata["x-request-id"][0] != "abc" {
		t.Fatalf("expected decoded payload to match, got %#v", decoded)
	}
}
