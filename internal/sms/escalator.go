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

// Escalator is the periodic sweep that finalizes messages stuck in
// submitted status on channels whose provider never sends receipts. Once a
// message's submission is older than the channel's grace period it is
// promoted to the channel's configured fallback status and marked as an
// assumed outcome. Channels that expect receipts are never touched.
type Escalator struct {
	messages store.MessageStore
	configs  store.ChannelConfigStore
	clock    store.Clock
	notifier StatusNotifier // optional
}

func NewEscalator(messages store.MessageStore, configs store.ChannelConfigStore, clock store.Clock, notifier StatusNotifier) *Escalator {
	return &Escalator{messages: messages, configs: configs, clock: clock, notifier: notifier}
}

// Sweep runs one pass over every receipt-less channel and returns the
// number of messages finalized. Matches the worker loop contract.
func (e *Escalator) Sweep(ctx context.Context, batchSize int) (int, error) {
	cfgs, err := e.configs.ListConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("sms: escalator list configs: %w", err)
	}

	total := 0
	for _, cfg := range cfgs {
		if cfg.ExpectReceipts {
			continue
		}
		resolved := *cfg
		resolved.ApplyDefaults()
		if err := resolved.Validate(); err != nil {
			slog.WarnContext(ctx, "skipping channel with invalid config",
				slog.String("tenant_id", resolved.TenantID),
				slog.String("channel", resolved.Name),
				slog.Any("error", err))
			continue
		}

		n, err := e.sweepChannel(ctx, &resolved, batchSize)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (e *Escalator) sweepChannel(ctx context.Context, cfg *domain.TenantChannelConfig, batchSize int) (int, error) {
	logCtx := logging.ContextWithTenantID(ctx, cfg.TenantID)
	logCtx = logging.ContextWithChannelName(logCtx, cfg.Name)

	cutoff := e.clock.Now().Add(-cfg.ReceiptGrace)
	stale, err := e.messages.ListInStatusOlderThan(logCtx, cfg.TenantID, cfg.Name,
		codes.MsgStatusSubmitted, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("sms: escalator scan %s/%s: %w", cfg.TenantID, cfg.Name, err)
	}

	finalized := 0
	for _, msg := range stale {
		if err := e.messages.SetMessageStatus(logCtx, msg.ID, cfg.FallbackStatus, e.clock.Now(), true); err != nil {
			slog.ErrorContext(logCtx, "escalation update failed",
				slog.String("message_id", msg.ID), slog.Any("error", err))
			continue
		}
		finalized++
		slog.InfoContext(logCtx, "message escalated to fallback status",
			slog.String("message_id", msg.ID),
			slog.String("status", cfg.FallbackStatus),
			slog.Duration("grace", cfg.ReceiptGrace))

		if e.notifier != nil && codes.IsTerminal(cfg.FallbackStatus) {
			updated, err := e.messages.GetMessage(logCtx, msg.ID)
			if err == nil {
				e.notifier.NotifyStatus(logCtx, updated)
			}
		}
	}
	return finalized, nil
}
