package sms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/pkg/codes"
)

// partFailed reports whether a part reached a terminal state other than
// delivered.
func partFailed(status string) bool {
	switch status {
	case codes.MsgStatusUndelivered, codes.MsgStatusRejected,
		codes.MsgStatusExpired, codes.MsgStatusFailed:
		return true
	}
	return false
}

// Aggregate derives a message-level status from its parts. Every part
// delivered means delivered; every part failed means failed; a mix with at
// least one delivery is a partial delivery. Short of that the parts' shared
// non-terminal status is propagated, falling back to submitted when the
// parts disagree.
func Aggregate(parts []*domain.MessagePart) string {
	if len(parts) == 0 {
		return codes.MsgStatusUnknown
	}

	delivered, failed := 0, 0
	uniform := true
	for _, p := range parts {
		if p.Status == codes.MsgStatusDelivered {
			delivered++
		} else if partFailed(p.Status) {
			failed++
		}
		if p.Status != parts[0].Status {
			uniform = false
		}
	}

	switch {
	case delivered == len(parts):
		return codes.MsgStatusDelivered
	case failed == len(parts):
		return codes.MsgStatusFailed
	case delivered > 0:
		return codes.MsgStatusPartiallyDelivered
	case uniform:
		return parts[0].Status
	default:
		return codes.MsgStatusSubmitted
	}
}

// Aggregator recomputes and persists a message's status from its parts
// whenever any part changes.
type Aggregator struct {
	messages store.MessageStore
	clock    store.Clock
}

func NewAggregator(messages store.MessageStore, clock store.Clock) *Aggregator {
	return &Aggregator{messages: messages, clock: clock}
}

// Recompute replaces the message's status with the aggregate of its parts
// and returns the new status. Messages without tracked parts are left
// untouched; their status is owned by the receipt router directly.
func (a *Aggregator) Recompute(ctx context.Context, messageID string) (string, error) {
	msg, err := a.messages.GetMessage(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("sms: recompute %s: %w", messageID, err)
	}
	if !msg.HasParts() {
		return msg.Status, nil
	}

	parts, err := a.messages.PartsForMessage(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("sms: recompute %s: %w", messageID, err)
	}

	status := Aggregate(parts)
	if status == msg.Status {
		return status, nil
	}

	if err := a.messages.SetMessageStatus(ctx, messageID, status, a.clock.Now(), false); err != nil {
		return "", fmt.Errorf("sms: recompute %s: %w", messageID, err)
	}

	logCtx := logging.ContextWithTenantID(ctx, msg.TenantID)
	logCtx = logging.ContextWithMessageID(logCtx, messageID)
	slog.InfoContext(logCtx, "message status recomputed from parts",
		slog.String("from", msg.Status), slog.String("to", status),
		slog.Int("parts", len(parts)))
	return status, nil
}
