package result

import "strconv"

// Unary is the document produced for a single, non-streamed response body.
type Unary struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	// Format is "json", "proto" or "unknown" depending on how Body was read.
	Format string `json:"format"`
	Body   any    `json:"body"`
	// Partial is set when Body came from the manual wire walk.
	Partial      bool     `json:"partial,omitempty"`
	DecodeErrors []string `json:"decodeErrors,omitempty"`
	// Preview holds the leading bytes of a body nothing could decode.
	Preview *Preview `json:"preview,omitempty"`
	Error   any      `json:"error"`
}

// Preview shows the start of an undecodable body as hex and as text with
// non-printable bytes replaced by '.'.
type Preview struct {
	Hex  string `json:"hex"`
	Text string `json:"text"`
}

// WithStatus turns an HTTP error status into the unary error when nothing
// more specific was recorded.
func (u Unary) WithStatus() Unary {
	if u.Status >= 400 && u.Error == nil {
		u.Error = "HTTP " + strconv.Itoa(u.Status)
	}
	return u
}

// FinalizeUnary serialises u with the same guarantees as Finalize.
func FinalizeUnary(u Unary) []byte {
	return finalize(u, u.Error, u.Status)
}
