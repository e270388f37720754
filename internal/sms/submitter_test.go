package sms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treyvum/smsgate/internal/channel"
	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/pkg/codes"
)

type scriptedChannel struct {
	outcome domain.SubmitOutcome
}

func (c *scriptedChannel) Kind() string { return codes.ChannelKindSMPP }

func (c *scriptedChannel) Submit(context.Context, *domain.Message) (domain.SubmitOutcome, error) {
	return c.outcome, nil
}

func (c *scriptedChannel) Healthy(context.Context) bool { return true }
func (c *scriptedChannel) Close(context.Context)        {}

type scriptedSource struct {
	ch  channel.Channel
	err error
}

func (s *scriptedSource) Get(context.Context, string, string) (channel.Channel, error) {
	return s.ch, s.err
}

type recordingRegistrar struct {
	remembered map[string]string
}

func (r *recordingRegistrar) RememberCallback(_ context.Context, messageID, callbackURL string) error {
	if r.remembered == nil {
		r.remembered = map[string]string{}
	}
	r.remembered[messageID] = callbackURL
	return nil
}

func acceptMessage(t *testing.T, sub *Submitter) *domain.Message {
	t.Helper()
	msg, err := sub.Accept(context.Background(), "acme", "primary",
		"+491234567890", "ACME", "hello there", true, "")
	require.NoError(t, err)
	return msg
}

func TestSubmitPersistsCorrelationID(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	source := &scriptedSource{ch: &scriptedChannel{
		outcome: domain.SubmitOutcome{Success: true, CorrelationIDs: []string{"c1"}},
	}}
	sub := NewSubmitter(mem, source, clock, nil)
	msg := acceptMessage(t, sub)

	outcome, err := sub.Submit(context.Background(), msg.ID)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	stored, err := mem.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.MsgStatusSubmitted, stored.Status)
	assert.Equal(t, "c1", stored.CorrelationID)
	require.NotNil(t, stored.SubmittedAt)
	assert.False(t, stored.HasParts())
}

func TestSubmitCreatesPartsForMultiSegmentMessage(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	source := &scriptedSource{ch: &scriptedChannel{
		outcome: domain.SubmitOutcome{Success: true, CorrelationIDs: []string{"c1", "c2", "c3"}},
	}}
	sub := NewSubmitter(mem, source, clock, nil)
	msg := acceptMessage(t, sub)

	outcome, err := sub.Submit(context.Background(), msg.ID)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	stored, err := mem.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", stored.CorrelationID, "first id is the canonical one")
	assert.Equal(t, 3, stored.PartCount)

	parts, err := mem.PartsForMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	for i, p := range parts {
		assert.Equal(t, i+1, p.Seq)
		assert.Equal(t, 3, p.Total)
		assert.Equal(t, codes.MsgStatusSubmitted, p.Status)
	}
	assert.Equal(t, "c2", parts[1].CorrelationID)
}

func TestSubmitRecordsChannelFailure(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	source := &scriptedSource{ch: &scriptedChannel{
		outcome: domain.Failure(codes.ErrorCodeCarrierReject, "invalid destination"),
	}}
	sub := NewSubmitter(mem, source, clock, nil)
	msg := acceptMessage(t, sub)

	outcome, err := sub.Submit(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Success)

	stored, err := mem.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.MsgStatusFailed, stored.Status)
	assert.Equal(t, codes.ErrorCodeCarrierReject, stored.ErrorCode)
	assert.Equal(t, "invalid destination", stored.ErrorDescription)
}

func TestSubmitFailsWhenNoChannelConfigured(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	source := &scriptedSource{err: store.ErrNotFound}
	sub := NewSubmitter(mem, source, clock, nil)
	msg := acceptMessage(t, sub)

	outcome, err := sub.Submit(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, codes.ErrorCodeNoChannel, outcome.ErrorCode)

	stored, err := mem.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.MsgStatusFailed, stored.Status)
}

func TestAcceptRejectsIncompleteMessages(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock()
	sub := NewSubmitter(mem, &scriptedSource{}, clock, nil)

	_, err := sub.Accept(context.Background(), "acme", "primary", "", "ACME", "hello", false, "")
	assert.Error(t, err)

	_, err = sub.Accept(context.Background(), "acme", "primary", "+491234567890", "ACME", "", false, "")
	assert.Error(t, err)
}

func TestSubmitUnknownMessage(t *testing.T) {
	mem := store.NewMemory()
	sub := NewSubmitter(mem, &scriptedSource{}, newFakeClock(), nil)

	_, err := sub.Submit(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAcceptRegistersCallbackURL(t *testing.T) {
	mem := store.NewMemory()
	reg := &recordingRegistrar{}
	sub := NewSubmitter(mem, &scriptedSource{}, newFakeClock(), reg)

	msg, err := sub.Accept(context.Background(), "acme", "primary",
		"+491234567890", "ACME", "hello", true, "https://acme.example/status")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example/status", reg.remembered[msg.ID])

	plain, err := sub.Accept(context.Background(), "acme", "primary",
		"+491234567890", "ACME", "hello", false, "")
	require.NoError(t, err)
	_, ok := reg.remembered[plain.ID]
	assert.False(t, ok, "messages without a callback must not be registered")
}
