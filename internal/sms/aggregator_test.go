package sms

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/pkg/codes"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func partsWithStatuses(statuses ...string) []*domain.MessagePart {
	parts := make([]*domain.MessagePart, len(statuses))
	for i, st := range statuses {
		parts[i] = &domain.MessagePart{Seq: i + 1, Total: len(statuses), Status: st}
	}
	return parts
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all delivered", []string{codes.MsgStatusDelivered, codes.MsgStatusDelivered, codes.MsgStatusDelivered}, codes.MsgStatusDelivered},
		{"all failed", []string{codes.MsgStatusUndelivered, codes.MsgStatusFailed, codes.MsgStatusRejected}, codes.MsgStatusFailed},
		{"one delivered rest failed", []string{codes.MsgStatusDelivered, codes.MsgStatusUndelivered, codes.MsgStatusUndelivered}, codes.MsgStatusPartiallyDelivered},
		{"delivered with pending", []string{codes.MsgStatusDelivered, codes.MsgStatusSubmitted}, codes.MsgStatusPartiallyDelivered},
		{"uniform non-terminal", []string{codes.MsgStatusSent, codes.MsgStatusSent}, codes.MsgStatusSent},
		{"mixed non-terminal", []string{codes.MsgStatusSent, codes.MsgStatusSubmitted}, codes.MsgStatusSubmitted},
		{"failed with pending", []string{codes.MsgStatusUndelivered, codes.MsgStatusSubmitted}, codes.MsgStatusSubmitted},
		{"no parts", nil, codes.MsgStatusUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Aggregate(partsWithStatuses(tc.statuses...)))
		})
	}
}

// submittedMessage persists a message with the given correlation ids and,
// for multi-part submissions, one part record per id.
func submittedMessage(t *testing.T, mem *store.Memory, clock *fakeClock, ids ...string) *domain.Message {
	t.Helper()
	ctx := context.Background()

	msg := domain.NewMessage("acme", "primary", "+491234567890", "ACME", "hello", true, clock.Now())
	require.NoError(t, mem.CreateMessage(ctx, msg))

	if len(ids) > 1 {
		parts := make([]*domain.MessagePart, len(ids))
		for i, id := range ids {
			parts[i] = domain.NewMessagePart(msg.ID, i+1, len(ids), id, clock.Now())
		}
		require.NoError(t, mem.CreateParts(ctx, parts))
	}
	require.NoError(t, mem.MarkSubmitted(ctx, msg.ID, ids, clock.Now()))

	stored, err := mem.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	return stored
}

func TestRecomputePersistsAggregatedStatus(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	agg := NewAggregator(mem, clock)
	ctx := context.Background()

	msg := submittedMessage(t, mem, clock, "c1", "c2", "c3")

	parts, err := mem.PartsForMessage(ctx, msg.ID)
	require.NoError(t, err)
	for _, p := range parts {
		require.NoError(t, mem.UpdatePartReceipt(ctx, p.ID, codes.MsgStatusDelivered,
			domain.ReceiptUpdate{StatusToken: "DELIVRD", At: clock.Now()}))
	}

	status, err := agg.Recompute(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.MsgStatusDelivered, status)

	stored, err := mem.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.MsgStatusDelivered, stored.Status)
	require.NotNil(t, stored.DeliveredAt, "delivery time must be stamped on aggregation")
	assert.Equal(t, clock.Now(), *stored.DeliveredAt)
}

func TestRecomputeLeavesSinglePartMessageAlone(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	agg := NewAggregator(mem, clock)
	ctx := context.Background()

	msg := submittedMessage(t, mem, clock, "c1")

	status, err := agg.Recompute(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.MsgStatusSubmitted, status)

	stored, err := mem.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.MsgStatusSubmitted, stored.Status)
}
