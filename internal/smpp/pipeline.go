package smpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/pkg/codes"
)

// maxAttempts bounds retries: two retries after the first attempt.
const maxAttempts = 3

// Pipeline sends one message through a pool with bounded retries and
// layered timeouts. Four budgets apply: connect and bind (inside session
// creation), per-attempt submit, and the overall ceiling that bounds the
// whole call regardless of retries.
type Pipeline struct {
	pool *Pool
}

func NewPipeline(pool *Pool) *Pipeline {
	return &Pipeline{pool: pool}
}

// Send submits req and returns a definite outcome within the overall
// ceiling. Transport failures, attempt timeouts and connection-level
// rejections are retried on a fresh session; other carrier rejections are
// terminal. The error return is reserved for programming errors; all
// submission failures are reported in the outcome.
func (p *Pipeline) Send(ctx context.Context, req SubmitRequest) (domain.SubmitOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.pool.settings.OverallTimeout)
	defer cancel()

	logCtx := logging.ContextWithTenantID(ctx, p.pool.tenantID)
	logCtx = logging.ContextWithChannelName(logCtx, p.pool.channelName)
	logCtx = logging.ContextWithMessageID(logCtx, req.MessageID)

	var lastFailure domain.SubmitOutcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return p.ceilingOutcome(logCtx), nil
		}

		outcome, retryable := p.attempt(logCtx, req, attempt)
		if outcome.Success {
			return outcome, nil
		}
		if ctx.Err() != nil {
			return p.ceilingOutcome(logCtx), nil
		}
		if !retryable {
			slog.WarnContext(logCtx, "submission failed terminally",
				slog.Int("attempt", attempt), slog.String("error_code", outcome.ErrorCode))
			return outcome, nil
		}
		lastFailure = outcome
		slog.WarnContext(logCtx, "submission attempt failed, retrying with fresh session",
			slog.Int("attempt", attempt), slog.String("error_code", outcome.ErrorCode))
	}
	return lastFailure, nil
}

// attempt performs one lend-submit-reclaim cycle. The bool reports whether
// the failure class is eligible for another attempt.
func (p *Pipeline) attempt(ctx context.Context, req SubmitRequest, attempt int) (domain.SubmitOutcome, bool) {
	sess, err := p.pool.Lend(ctx)
	if err != nil {
		if errors.Is(err, ErrPoolClosed) {
			return domain.Failure(codes.ErrorCodeNoChannel, err.Error()), false
		}
		if isBindRejection(err) {
			// Authentication failures are configuration problems; a retry
			// with the same credentials cannot succeed.
			return domain.Failure(codes.ErrorCodeBindFailed, err.Error()), false
		}
		return domain.Failure(codes.ErrorCodeConnRejected, err.Error()), true
	}

	// The session must still be bound immediately before use; anything else
	// is discarded and the attempt retried on a fresh one.
	if sess.State() != codes.SessionBound {
		p.pool.Discard(sess)
		return domain.Failure(codes.ErrorCodeConnRejected, "session lost bound state before use"), true
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.pool.settings.SubmitTimeout)
	ids, err := sess.Submit(attemptCtx, req)
	cancel()

	if err == nil {
		p.pool.Reclaim(sess)
		slog.InfoContext(ctx, "message submitted",
			slog.Int("attempt", attempt), slog.Int("parts", len(ids)))
		return domain.SubmitOutcome{Success: true, CorrelationIDs: ids}, false
	}

	var reject *RejectError
	switch {
	case errors.As(err, &reject) && !reject.ConnectionLevel():
		// Carrier rejected the message itself; the session is fine.
		p.pool.Reclaim(sess)
		return domain.Failure(codes.ErrorCodeCarrierReject, err.Error()), false

	case errors.As(err, &reject):
		// Connection-level rejection is treated like a timeout: never retry
		// on the same session.
		p.pool.Discard(sess)
		return domain.Failure(codes.ErrorCodeConnRejected, err.Error()), true

	case errors.Is(err, ErrSubmitTimeout):
		p.pool.Discard(sess)
		return domain.Failure(codes.ErrorCodeSubmitTimeout, err.Error()), true

	case errors.Is(err, ErrNotBound):
		p.pool.Discard(sess)
		return domain.Failure(codes.ErrorCodeConnRejected, err.Error()), true

	default:
		p.pool.Discard(sess)
		return domain.Failure(codes.ErrorCodeSystemError, err.Error()), true
	}
}

func (p *Pipeline) ceilingOutcome(ctx context.Context) domain.SubmitOutcome {
	slog.WarnContext(ctx, "submission abandoned at overall ceiling",
		slog.Duration("ceiling", p.pool.settings.OverallTimeout))
	return domain.Failure(codes.ErrorCodeOverallTimeout,
		fmt.Sprintf("submission abandoned after %s overall ceiling", p.pool.settings.OverallTimeout))
}

// isBindRejection distinguishes an authentication refusal from a transport
// problem during session creation. Dial wraps bind-handshake failures; a
// context expiry or refused connection surfaces as the context or net error
// instead.
func isBindRejection(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var bindErr *BindError
	return errors.As(err, &bindErr)
}
