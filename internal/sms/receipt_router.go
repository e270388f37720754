package sms

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/pkg/codes"
	"github.com/treyvum/smsgate/pkg/dlr"
)

// StatusNotifier is told when a message reaches a terminal status, so the
// outcome can be pushed to the tenant's callback endpoint.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, msg *domain.Message)
}

// Router attributes inbound delivery receipts to the message or part that
// the carrier correlation id belongs to. Parts are tried first; single-part
// messages carry the id directly. Unattributable receipts are logged and
// dropped, never fatal.
type Router struct {
	messages store.MessageStore
	agg      *Aggregator
	clock    store.Clock
	notifier StatusNotifier // optional
}

func NewRouter(messages store.MessageStore, agg *Aggregator, clock store.Clock, notifier StatusNotifier) *Router {
	return &Router{messages: messages, agg: agg, clock: clock, notifier: notifier}
}

// Route processes one receipt. Suitable for use as a session receipt sink;
// it never blocks on anything but the store.
func (r *Router) Route(ctx context.Context, rcpt dlr.Receipt) {
	logCtx := logging.ContextWithCorrelationID(ctx, rcpt.CorrelationID)

	status := dlr.StatusForToken(rcpt.StatusToken)
	if status == codes.MsgStatusUnknown {
		slog.WarnContext(logCtx, "receipt carries unrecognized status token",
			slog.String("token", rcpt.StatusToken))
	}

	upd := domain.ReceiptUpdate{
		Raw:         rcpt.Raw,
		StatusToken: rcpt.StatusToken,
		ErrorCode:   rcpt.ErrorCode,
		DoneAt:      rcpt.DoneAt,
		At:          r.clock.Now(),
	}

	if part, err := r.messages.FindPartByCorrelationID(ctx, rcpt.CorrelationID); err == nil {
		r.routeToPart(logCtx, part, status, upd)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(logCtx, "part lookup failed", slog.Any("error", err))
		return
	}

	if msg, err := r.messages.FindMessageByCorrelationID(ctx, rcpt.CorrelationID); err == nil {
		r.routeToMessage(logCtx, msg, status, upd)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(logCtx, "message lookup failed", slog.Any("error", err))
		return
	}

	slog.WarnContext(logCtx, "receipt could not be attributed, dropping",
		slog.String("source_addr", rcpt.SourceAddr),
		slog.String("token", rcpt.StatusToken))
}

func (r *Router) routeToPart(ctx context.Context, part *domain.MessagePart, status string, upd domain.ReceiptUpdate) {
	if err := r.messages.UpdatePartReceipt(ctx, part.ID, status, upd); err != nil {
		slog.ErrorContext(ctx, "part receipt update failed",
			slog.String("part_id", part.ID), slog.Any("error", err))
		return
	}

	msgStatus, err := r.agg.Recompute(ctx, part.MessageID)
	if err != nil {
		slog.ErrorContext(ctx, "status aggregation failed",
			slog.String("message_id", part.MessageID), slog.Any("error", err))
		return
	}
	slog.DebugContext(ctx, "receipt applied to part",
		slog.String("part_id", part.ID), slog.Int("seq", part.Seq),
		slog.String("part_status", status), slog.String("message_status", msgStatus))

	r.notifyIfFinal(ctx, part.MessageID, msgStatus)
}

func (r *Router) routeToMessage(ctx context.Context, msg *domain.Message, status string, upd domain.ReceiptUpdate) {
	var deliveredAt *time.Time
	if status == codes.MsgStatusDelivered {
		t := upd.At
		if upd.DoneAt != nil {
			t = *upd.DoneAt
		}
		deliveredAt = &t
	}

	if err := r.messages.UpdateMessageReceipt(ctx, msg.ID, status, upd, deliveredAt); err != nil {
		slog.ErrorContext(ctx, "message receipt update failed",
			slog.String("message_id", msg.ID), slog.Any("error", err))
		return
	}
	slog.InfoContext(ctx, "receipt applied to message",
		slog.String("message_id", msg.ID), slog.String("status", status))

	r.notifyIfFinal(ctx, msg.ID, status)
}

func (r *Router) notifyIfFinal(ctx context.Context, messageID, status string) {
	if r.notifier == nil || !codes.IsTerminal(status) {
		return
	}
	msg, err := r.messages.GetMessage(ctx, messageID)
	if err != nil {
		slog.ErrorContext(ctx, "load message for status notification failed",
			slog.String("message_id", messageID), slog.Any("error", err))
		return
	}
	r.notifier.NotifyStatus(ctx, msg)
}
