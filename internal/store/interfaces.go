// Package store defines the persistence collaborators the gateway core
// depends on. The core only sees these interfaces; implementations live at
// the edge (postgres for production, memory for tests and dev).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/treyvum/smsgate/internal/domain"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// MessageStore persists messages and their parts.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	FindMessageByCorrelationID(ctx context.Context, correlationID string) (*domain.Message, error)

	CreateParts(ctx context.Context, parts []*domain.MessagePart) error
	FindPartByCorrelationID(ctx context.Context, correlationID string) (*domain.MessagePart, error)
	PartsForMessage(ctx context.Context, messageID string) ([]*domain.MessagePart, error)

	// MarkSubmitted records the carrier correlation ids and the submission
	// time; correlationIDs[0] becomes the message's canonical id.
	MarkSubmitted(ctx context.Context, messageID string, correlationIDs []string, at time.Time) error
	MarkSubmitFailed(ctx context.Context, messageID, errorCode, errorDescription string, at time.Time) error

	// UpdateMessageReceipt copies parsed receipt fields onto the message and
	// sets its status; deliveredAt is stamped when non-nil.
	UpdateMessageReceipt(ctx context.Context, messageID, status string, rcpt domain.ReceiptUpdate, deliveredAt *time.Time) error
	UpdatePartReceipt(ctx context.Context, partID, status string, rcpt domain.ReceiptUpdate) error

	// SetMessageStatus replaces a message's status outside of receipt
	// handling (aggregation, timeout escalation). assumed marks statuses
	// applied without a carrier receipt.
	SetMessageStatus(ctx context.Context, messageID, status string, at time.Time, assumed bool) error

	// ListInStatusOlderThan returns up to limit messages on one tenant
	// channel in the given status whose submission time (or creation time,
	// for messages never submitted) is before the cutoff.
	ListInStatusOlderThan(ctx context.Context, tenantID, channelName, status string, cutoff time.Time, limit int) ([]*domain.Message, error)
}

// ChannelConfigStore resolves tenant channel configuration.
type ChannelConfigStore interface {
	GetConfig(ctx context.Context, tenantID, name string) (*domain.TenantChannelConfig, error)
	GetDefaultConfig(ctx context.Context, tenantID string) (*domain.TenantChannelConfig, error)
	ListConfigs(ctx context.Context) ([]*domain.TenantChannelConfig, error)
}
