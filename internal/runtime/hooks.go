package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drblury/connectflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/connectflow/internal/runtime/logging"
)

// Session kinds reported in SessionContext.Kind.
const (
	KindStream = "stream"
	KindUnary  = "unary"
)

// SessionContext provides information about one decoded response to hooks.
type SessionContext struct {
	// ID is the session identifier, also used as the published message id.
	ID string
	// Kind is KindStream or KindUnary.
	Kind string
	// Message is the full name of the expected protobuf message.
	Message     string
	Status      int
	ContentType string
	// Context is the context the response is decoded under.
	Context   context.Context
	StartedAt time.Time
	// Duration is only set in OnSessionDone and OnSessionError.
	Duration time.Duration
}

// SessionHooks defines callbacks for the session lifecycle.
// All hooks are optional - nil hooks are simply not called.
type SessionHooks struct {
	// OnSessionStart is called before the body is read.
	OnSessionStart func(ctx SessionContext)

	// OnSessionDone is called when the response decoded without a result error.
	OnSessionDone func(ctx SessionContext)

	// OnSessionError is called when the result carries an error. Structured
	// error values are rendered as JSON.
	OnSessionError func(ctx SessionContext, err error)
}

// Merge combines two SessionHooks. The hooks from other run after those of h.
func (h SessionHooks) Merge(other SessionHooks) SessionHooks {
	return SessionHooks{
		OnSessionStart: chainHooks(h.OnSessionStart, other.OnSessionStart),
		OnSessionDone:  chainHooks(h.OnSessionDone, other.OnSessionDone),
		OnSessionError: chainErrorHooks(h.OnSessionError, other.OnSessionError),
	}
}

func chainHooks(a, b func(SessionContext)) func(SessionContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx SessionContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(SessionContext, error)) func(SessionContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx SessionContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h SessionHooks) start(ctx SessionContext) {
	if h.OnSessionStart != nil {
		h.OnSessionStart(ctx)
	}
}

func (h SessionHooks) finish(ctx SessionContext, failure any) {
	if failure == nil {
		if h.OnSessionDone != nil {
			h.OnSessionDone(ctx)
		}
		return
	}
	if h.OnSessionError != nil {
		h.OnSessionError(ctx, failureError(failure))
	}
}

func failureError(failure any) error {
	switch v := failure.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	}
	if raw, err := jsoncodec.Marshal(failure); err == nil {
		return errors.New(string(raw))
	}
	return fmt.Errorf("%v", failure)
}

// LoggingHooks returns hooks that log session lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) SessionHooks {
	logger = loggingpkg.OrNop(logger)
	return SessionHooks{
		OnSessionStart: func(ctx SessionContext) {
			logger.Debug("Session started", loggingpkg.LogFields{
				"session_id": ctx.ID,
				"kind":       ctx.Kind,
				"status":     ctx.Status,
			})
		},
		OnSessionDone: func(ctx SessionContext) {
			logger.Info("Session completed", loggingpkg.LogFields{
				"session_id":  ctx.ID,
				"kind":        ctx.Kind,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnSessionError: func(ctx SessionContext, err error) {
			logger.Error("Session failed", err, loggingpkg.LogFields{
				"session_id":  ctx.ID,
				"kind":        ctx.Kind,
				"status":      ctx.Status,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks returns hooks that only fire on failed sessions.
func AlertingHooks(alertFunc func(ctx SessionContext, err error)) SessionHooks {
	return SessionHooks{
		OnSessionError: alertFunc,
	}
}
