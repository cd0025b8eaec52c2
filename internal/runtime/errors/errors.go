package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired      = sterrors.New("connectflow: configuration is required")
	ErrLoggerRequired      = sterrors.New("connectflow: logger is required")
	ErrSchemaRequired      = sterrors.New("connectflow: message schema is required")
	ErrFrameTooLarge       = sterrors.New("connectflow: frame exceeds maximum size")
	ErrTruncated           = sterrors.New("connectflow: truncated data")
	ErrInvalidWireType     = sterrors.New("connectflow: invalid wire type")
	ErrInvalidTag          = sterrors.New("connectflow: invalid field tag")
	ErrNestingTooDeep      = sterrors.New("connectflow: message nesting too deep")
	ErrUndecodable         = sterrors.New("connectflow: payload could not be decoded")
	ErrUnsupportedEncoding = sterrors.New("connectflow: unsupported content encoding")
	ErrSessionFinished     = sterrors.New("connectflow: session already finished")
	ErrPublisherRequired   = sterrors.New("connectflow: publisher is required")
	ErrTopicRequired       = sterrors.New("connectflow: topic is required")
	ErrUnknownSink         = sterrors.New("connectflow: unknown sink system")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("connectflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
