package goGuard

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrEthical07/goGuard/internal/audit"
)

// AuditEvent is a session lifecycle record delivered to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the guard's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel; read them with Events.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per event line.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink logs events on a structured logger.
type SlogSink = audit.SlogSink

// MultiSink fans events out to several sinks.
type MultiSink = audit.MultiSink

// NewSlogSink returns a sink logging events on logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	auditEventRefreshSuccess          = "refresh_success"
	auditEventRefreshRejected         = "refresh_rejected"
	auditEventRefreshTransportFailure = "refresh_transport_failure"
	auditEventRefreshStoreFailure     = "refresh_store_failure"
	auditEventTokensCleared           = "tokens_cleared"
	auditEventTokensStored            = "tokens_stored"
	auditEventSignOut                 = "sign_out"
)

// AuditErrorCode is the stable error label written into AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrNoStoredToken    AuditErrorCode = "no_stored_token"
	auditErrMalformedToken   AuditErrorCode = "malformed_token"
	auditErrRefreshRejected  AuditErrorCode = "refresh_rejected"
	auditErrTransportFailure AuditErrorCode = "transport_failure"
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (g *Guard) emitAudit(
	ctx context.Context,
	eventType string,
	checkID string,
	outcome Outcome,
	success bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: g.now().UTC(),
		EventType: eventType,
		CheckID:   checkID,
		Success:   success,
		Metadata:  metadata,
	}
	if outcome != OutcomeUnknown {
		event.Outcome = outcome.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	g.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrNoStoredToken):
		return auditErrNoStoredToken
	case errors.Is(err, ErrMalformedToken):
		return auditErrMalformedToken
	case errors.Is(err, ErrRefreshRejected):
		return auditErrRefreshRejected
	case errors.Is(err, ErrTransportFailure):
		return auditErrTransportFailure
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	default:
		return auditErrInternal
	}
}
