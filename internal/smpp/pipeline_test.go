package smpp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/pkg/codes"
	"github.com/treyvum/smsgate/pkg/segmenter"
)

func newTestPipeline(carrier *fakeCarrier, mutate func(*domain.SMPPSettings)) (*Pipeline, *Pool) {
	settings := testSettings()
	if mutate != nil {
		mutate(&settings)
	}
	pool := NewPool("acme", "primary", settings, carrier, segmenter.New(), nil)
	return NewPipeline(pool), pool
}

func submitReq() SubmitRequest {
	return SubmitRequest{
		MessageID:      "msg-1",
		Recipient:      "447700900123",
		SenderID:       "ACME",
		Body:           "hello there",
		RequestReceipt: true,
	}
}

func TestPipelineSendSuccess(t *testing.T) {
	carrier := &fakeCarrier{}
	pipe, pool := newTestPipeline(carrier, nil)
	defer pool.Shutdown(context.Background())

	outcome, err := pipe.Send(context.Background(), submitReq())
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Len(t, outcome.CorrelationIDs, 1)
	assert.Equal(t, int32(1), carrier.dialCount.Load())
	assert.Equal(t, 1, pool.SessionCount(), "session must be reclaimed after success")
}

func TestPipelineSendMultipart(t *testing.T) {
	carrier := &fakeCarrier{}
	pipe, pool := newTestPipeline(carrier, nil)
	defer pool.Shutdown(context.Background())

	req := submitReq()
	req.Body = strings.Repeat("a", 400)

	outcome, err := pipe.Send(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Len(t, outcome.CorrelationIDs, 3)
}

func TestPipelineTerminalCarrierReject(t *testing.T) {
	carrier := &fakeCarrier{submitStatus: data.ESME_RINVDSTADR}
	pipe, pool := newTestPipeline(carrier, nil)
	defer pool.Shutdown(context.Background())

	outcome, err := pipe.Send(context.Background(), submitReq())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, codes.ErrorCodeCarrierReject, outcome.ErrorCode)
	assert.Equal(t, int32(1), carrier.dialCount.Load(), "message-level rejection must not be retried")
	assert.Equal(t, 1, pool.SessionCount(), "session survives a message-level rejection")
}

func TestPipelineConnectionLevelRejectRetriesOnFreshSessions(t *testing.T) {
	carrier := &fakeCarrier{submitStatus: data.ESME_RTHROTTLED}
	pipe, pool := newTestPipeline(carrier, nil)
	defer pool.Shutdown(context.Background())

	outcome, err := pipe.Send(context.Background(), submitReq())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, codes.ErrorCodeConnRejected, outcome.ErrorCode)
	assert.Equal(t, int32(3), carrier.dialCount.Load(), "each retry must use a fresh session")
	assert.Equal(t, 0, pool.SessionCount(), "throttled sessions are discarded")
}

func TestPipelineBindRejectionIsTerminal(t *testing.T) {
	carrier := &fakeCarrier{dialErr: &BindError{SystemID: "acme", Err: errors.New("invalid password")}}
	pipe, pool := newTestPipeline(carrier, nil)
	defer pool.Shutdown(context.Background())

	outcome, err := pipe.Send(context.Background(), submitReq())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, codes.ErrorCodeBindFailed, outcome.ErrorCode)
	assert.Equal(t, int32(1), carrier.dialCount.Load(), "bad credentials cannot succeed on retry")
}

func TestPipelineTransportErrorRetries(t *testing.T) {
	carrier := &fakeCarrier{dialErr: errors.New("connect smsc: connection refused")}
	pipe, pool := newTestPipeline(carrier, nil)
	defer pool.Shutdown(context.Background())

	outcome, err := pipe.Send(context.Background(), submitReq())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, codes.ErrorCodeConnRejected, outcome.ErrorCode)
	assert.Equal(t, int32(3), carrier.dialCount.Load())
}

func TestPipelineOverallCeiling(t *testing.T) {
	carrier := &fakeCarrier{silent: true}
	pipe, pool := newTestPipeline(carrier, func(s *domain.SMPPSettings) {
		s.SubmitTimeout = 100 * time.Millisecond
		s.OverallTimeout = 250 * time.Millisecond
	})
	defer pool.Shutdown(context.Background())

	start := time.Now()
	outcome, err := pipe.Send(context.Background(), submitReq())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, codes.ErrorCodeOverallTimeout, outcome.ErrorCode)
	assert.GreaterOrEqual(t, elapsed, 240*time.Millisecond)
	assert.Less(t, elapsed, time.Second, "ceiling must bound the whole call, retries included")
}

func TestPipelinePoolClosed(t *testing.T) {
	carrier := &fakeCarrier{}
	pipe, pool := newTestPipeline(carrier, nil)
	pool.Shutdown(context.Background())

	outcome, err := pipe.Send(context.Background(), submitReq())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, codes.ErrorCodeNoChannel, outcome.ErrorCode)
}
