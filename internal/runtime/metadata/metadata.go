// Package metadata carries the headers attached to published decode results.
package metadata

import (
	"strconv"
	"strings"
)

// Header keys attached to every published result.
const (
	KeySessionID   = "connectflow_session_id"
	KeyMessageType = "connectflow_message_type"
	KeyStatus      = "connectflow_http_status"
	KeyContentType = "connectflow_content_type"
	KeyOutcome     = "connectflow_outcome"
)

// Outcome values stored under KeyOutcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metadata represents the headers carried alongside a result.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if strings.TrimSpace(value) != "" {
		cloned[key] = value
	}
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// ForResult builds the standard headers describing one decoded response.
func ForResult(sessionID, messageType string, status int, contentType string, failed bool) Metadata {
	outcome := OutcomeOK
	if failed {
		outcome = OutcomeError
	}
	md := Metadata{KeyOutcome: outcome}.
		With(KeySessionID, sessionID).
		With(KeyMessageType, messageType).
		With(KeyContentType, contentType)
	if status > 0 {
		md[KeyStatus] = strconv.Itoa(status)
	}
	return md
}
