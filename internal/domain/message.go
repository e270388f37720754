package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/treyvum/smsgate/pkg/codes"
)

// Message is one outbound SMS owned by a tenant. For bodies long enough to
// be split by the carrier, per-part state lives in MessagePart and the
// message status is recomputed from the parts.
type Message struct {
	ID          string
	TenantID    string
	ChannelName string

	Recipient      string
	SenderID       string
	Body           string
	RequestReceipt bool
	CallbackURL    string // optional status webhook target

	// CorrelationID is the carrier-assigned id of the message (single part)
	// or of the first part (multi part, canonical id).
	CorrelationID string
	PartCount     int // 0 or 1: no parts tracked separately

	Status           string
	ErrorCode        string
	ErrorDescription string

	ReceiptText        string
	ReceiptStatusToken string
	ReceiptErrorCode   int

	CreatedAt   time.Time
	SubmittedAt *time.Time
	DeliveredAt *time.Time
	UpdatedAt   time.Time

	// AssumedFinal marks a terminal status applied by the receipt-timeout
	// sweep rather than by a carrier receipt.
	AssumedFinal bool
}

// HasParts reports whether delivery outcome is tracked per part.
func (m *Message) HasParts() bool {
	return m.PartCount > 1
}

// NewMessage creates a pending message for a tenant.
func NewMessage(tenantID, channelName, recipient, senderID, body string, requestReceipt bool, now time.Time) *Message {
	return &Message{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ChannelName:    channelName,
		Recipient:      recipient,
		SenderID:       senderID,
		Body:           body,
		RequestReceipt: requestReceipt,
		Status:         codes.MsgStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MessagePart is one carrier segment of a multi-part message.
type MessagePart struct {
	ID        string
	MessageID string
	Seq       int // 1-based part index
	Total     int

	CorrelationID string
	Status        string

	ReceiptText        string
	ReceiptStatusToken string
	ReceiptErrorCode   int

	UpdatedAt time.Time
}

// NewMessagePart creates one part record for a freshly submitted message.
func NewMessagePart(messageID string, seq, total int, correlationID string, now time.Time) *MessagePart {
	return &MessagePart{
		ID:            uuid.NewString(),
		MessageID:     messageID,
		Seq:           seq,
		Total:         total,
		CorrelationID: correlationID,
		Status:        codes.MsgStatusSubmitted,
		UpdatedAt:     now,
	}
}

// ReceiptUpdate carries the parsed receipt fields copied onto a message or
// part when a delivery receipt is attributed to it.
type ReceiptUpdate struct {
	Raw         string
	StatusToken string
	ErrorCode   int
	DoneAt      *time.Time // carrier-reported completion time, when present
	At          time.Time
}

// SubmitOutcome is the definite result of one submission call. Either
// Success with at least one correlation id, or a failure with an error code
// and description.
type SubmitOutcome struct {
	Success          bool
	CorrelationIDs   []string
	ErrorCode        string
	ErrorDescription string
}

// Failure builds a failed outcome.
func Failure(code, description string) SubmitOutcome {
	return SubmitOutcome{ErrorCode: code, ErrorDescription: description}
}
