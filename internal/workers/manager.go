package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/internal/sms"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/pkg/codes"
)

// Config holds worker intervals and batch sizes.
type Config struct {
	DispatchInterval  time.Duration
	DispatchBatchSize int

	EscalatorInterval  time.Duration
	EscalatorBatchSize int
}

// Manager owns the background loops: the pending-message dispatcher and the
// receipt-timeout escalator.
type Manager struct {
	messages  store.MessageStore
	configs   store.ChannelConfigStore
	clock     store.Clock
	submitter *sms.Submitter
	escalator *sms.Escalator
	cfg       Config
}

func NewManager(messages store.MessageStore, configs store.ChannelConfigStore, clock store.Clock, submitter *sms.Submitter, escalator *sms.Escalator, cfg Config) *Manager {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 2 * time.Second
	}
	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = 50
	}
	if cfg.EscalatorInterval <= 0 {
		cfg.EscalatorInterval = 5 * time.Minute
	}
	if cfg.EscalatorBatchSize <= 0 {
		cfg.EscalatorBatchSize = 200
	}
	return &Manager{
		messages:  messages,
		configs:   configs,
		clock:     clock,
		submitter: submitter,
		escalator: escalator,
		cfg:       cfg,
	}
}

// Start launches the worker loops. They stop when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go runWorkerLoop(ctx, "pending-dispatcher", m.cfg.DispatchInterval, m.cfg.DispatchBatchSize, m.dispatchPending)
	go runWorkerLoop(ctx, "receipt-timeout-escalator", m.cfg.EscalatorInterval, m.cfg.EscalatorBatchSize, m.escalator.Sweep)
}

// dispatchPending submits accepted messages that have not been sent yet,
// channel by channel.
func (m *Manager) dispatchPending(ctx context.Context, batchSize int) (int, error) {
	cfgs, err := m.configs.ListConfigs(ctx)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, cfg := range cfgs {
		pending, err := m.messages.ListInStatusOlderThan(ctx, cfg.TenantID, cfg.Name,
			codes.MsgStatusPending, m.clock.Now(), batchSize)
		if err != nil {
			return dispatched, err
		}

		for _, msg := range pending {
			logCtx := logging.ContextWithTenantID(ctx, msg.TenantID)
			logCtx = logging.ContextWithMessageID(logCtx, msg.ID)

			outcome, err := m.submitter.Submit(logCtx, msg.ID)
			if err != nil {
				slog.ErrorContext(logCtx, "dispatch failed", slog.Any("error", err))
				continue
			}
			dispatched++
			if !outcome.Success {
				slog.WarnContext(logCtx, "dispatched message failed to submit",
					slog.String("error_code", outcome.ErrorCode))
			}
		}
	}
	return dispatched, nil
}
