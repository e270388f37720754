package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/treyvum/smsgate/internal/channel"
	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/pkg/codes"
)

// ChannelSource hands out live channels; satisfied by the channel registry.
type ChannelSource interface {
	Get(ctx context.Context, tenantID, channelName string) (channel.Channel, error)
}

// CallbackRegistrar remembers a message's status callback URL so it can be
// looked up when the receipt arrives; satisfied by the status forwarder.
type CallbackRegistrar interface {
	RememberCallback(ctx context.Context, messageID, callbackURL string) error
}

// Submitter drives one message through its tenant's channel and persists
// the outcome. Correlation ids are stored before success is reported, so a
// receipt arriving immediately after submission can always be attributed.
type Submitter struct {
	messages  store.MessageStore
	channels  ChannelSource
	clock     store.Clock
	callbacks CallbackRegistrar // optional
}

func NewSubmitter(messages store.MessageStore, channels ChannelSource, clock store.Clock, callbacks CallbackRegistrar) *Submitter {
	return &Submitter{messages: messages, channels: channels, clock: clock, callbacks: callbacks}
}

// Accept validates and persists a new message in pending status, ready for
// submission.
func (s *Submitter) Accept(ctx context.Context, tenantID, channelName, recipient, senderID, body string, requestReceipt bool, callbackURL string) (*domain.Message, error) {
	if recipient == "" {
		return nil, errors.New("sms: recipient is required")
	}
	if body == "" {
		return nil, errors.New("sms: message body is required")
	}

	msg := domain.NewMessage(tenantID, channelName, recipient, senderID, body, requestReceipt, s.clock.Now())
	msg.CallbackURL = callbackURL
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("sms: persist message: %w", err)
	}
	if s.callbacks != nil && msg.CallbackURL != "" {
		// The message record keeps the URL too; the registrar copy just
		// outlives row archival. Failure is not worth rejecting the message.
		if err := s.callbacks.RememberCallback(ctx, msg.ID, msg.CallbackURL); err != nil {
			slog.WarnContext(ctx, "callback url could not be remembered",
				slog.String("message_id", msg.ID), slog.Any("error", err))
		}
	}
	return msg, nil
}

// Submit sends a stored message and records the result. The returned
// outcome is definite; the error return is reserved for store failures.
func (s *Submitter) Submit(ctx context.Context, messageID string) (domain.SubmitOutcome, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return domain.SubmitOutcome{}, fmt.Errorf("sms: load message %s: %w", messageID, err)
	}

	logCtx := logging.ContextWithTenantID(ctx, msg.TenantID)
	logCtx = logging.ContextWithMessageID(logCtx, msg.ID)

	ch, err := s.channels.Get(logCtx, msg.TenantID, msg.ChannelName)
	if err != nil {
		outcome := domain.Failure(channelErrorCode(err), err.Error())
		if markErr := s.messages.MarkSubmitFailed(logCtx, msg.ID, outcome.ErrorCode, outcome.ErrorDescription, s.clock.Now()); markErr != nil {
			return outcome, fmt.Errorf("sms: record channel failure: %w", markErr)
		}
		slog.WarnContext(logCtx, "no usable channel for message",
			slog.String("channel", msg.ChannelName), slog.Any("error", err))
		return outcome, nil
	}

	outcome, err := ch.Submit(logCtx, msg)
	if err != nil {
		outcome = domain.Failure(codes.ErrorCodeSystemError, err.Error())
	}

	now := s.clock.Now()
	if !outcome.Success {
		if markErr := s.messages.MarkSubmitFailed(logCtx, msg.ID, outcome.ErrorCode, outcome.ErrorDescription, now); markErr != nil {
			return outcome, fmt.Errorf("sms: record submit failure: %w", markErr)
		}
		return outcome, nil
	}

	ids := outcome.CorrelationIDs
	if len(ids) > 1 {
		parts := make([]*domain.MessagePart, len(ids))
		for i, id := range ids {
			parts[i] = domain.NewMessagePart(msg.ID, i+1, len(ids), id, now)
		}
		if err := s.messages.CreateParts(logCtx, parts); err != nil {
			return outcome, fmt.Errorf("sms: persist parts: %w", err)
		}
	}
	if err := s.messages.MarkSubmitted(logCtx, msg.ID, ids, now); err != nil {
		return outcome, fmt.Errorf("sms: mark submitted: %w", err)
	}

	slog.InfoContext(logCtx, "message submitted",
		slog.String("channel", msg.ChannelName), slog.Int("parts", len(ids)))
	return outcome, nil
}

// channelErrorCode maps a registry failure onto a submission error code. A
// missing config is a routing problem; anything else is a config the
// registry refused to build a channel from.
func channelErrorCode(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return codes.ErrorCodeNoChannel
	}
	return codes.ErrorCodeConfigInvalid
}
