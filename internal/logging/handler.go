package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	TenantIDKey      contextKey = "tenant_id"
	ChannelNameKey   contextKey = "channel"
	MessageIDKey     contextKey = "msg_id"
	PartIDKey        contextKey = "part_id"
	SessionIDKey     contextKey = "session_id"
	CorrelationIDKey contextKey = "correlation_id"
	WorkerIDKey      contextKey = "worker_id"
	CommandIDKey     contextKey = "cmd_id"
	SeqNumberKey     contextKey = "seq_num"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		r.AddAttrs(slog.String("tenant_id", tenantID))
	}
	if channel, ok := ctx.Value(ChannelNameKey).(string); ok {
		r.AddAttrs(slog.String("channel", channel))
	}
	if msgID, ok := ctx.Value(MessageIDKey).(string); ok {
		r.AddAttrs(slog.String("msg_id", msgID))
	}
	if partID, ok := ctx.Value(PartIDKey).(string); ok {
		r.AddAttrs(slog.String("part_id", partID))
	}
	if sessID, ok := ctx.Value(SessionIDKey).(uint64); ok {
		r.AddAttrs(slog.Uint64("session_id", sessID))
	}
	if corrID, ok := ctx.Value(CorrelationIDKey).(string); ok {
		r.AddAttrs(slog.String("correlation_id", corrID))
	}
	if workerID, ok := ctx.Value(WorkerIDKey).(string); ok {
		r.AddAttrs(slog.String("worker_id", workerID))
	}
	return h.Handler.Handle(ctx, r)
}

func ContextWithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func ContextWithChannelName(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelNameKey, channel)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithPartID(ctx context.Context, partID string) context.Context {
	return context.WithValue(ctx, PartIDKey, partID)
}

func ContextWithSessionID(ctx context.Context, sessionID uint64) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber int32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}
