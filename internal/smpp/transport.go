// Package smpp holds the protocol session layer: authenticated carrier
// sessions, the per-channel connection pool, and the submission pipeline
// that drives retries and timeouts over the pool.
package smpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/treyvum/smsgate/internal/domain"
)

// Events are the callbacks a Session registers with its Transport. The
// transport's read loop must never be blocked by them; anything slow is
// handed off by the session itself.
type Events struct {
	// OnResponse delivers the response to a request we sent, keyed by the
	// request's sequence number.
	OnResponse func(seq int32, resp pdu.PDU)
	// OnExpired reports a request that got no response within the window
	// timeout. The return value asks the transport to treat the link as
	// stale.
	OnExpired func(seq int32, req pdu.PDU) bool
	// OnInbound handles PDUs initiated by the carrier (deliver, enquire-link,
	// unbind). The returned PDU, if any, is sent back as the acknowledgment.
	OnInbound func(req pdu.PDU) (resp pdu.PDU, respond bool)
	// OnClosed fires when the underlying connection is gone for good.
	OnClosed func()
}

// Transport is one open, bound wire connection. Implementations must allow
// concurrent Send calls.
type Transport interface {
	Send(p pdu.PDU) error
	Close() error
}

// Dialer opens and binds a transport. Dial blocks until the bind handshake
// completes or ctx expires; the caller sets the connect+bind budget on ctx.
type Dialer interface {
	Dial(ctx context.Context, settings domain.SMPPSettings, ev Events) (Transport, error)
}

// BindError marks a session-creation failure where the endpoint was
// reachable but refused the bind handshake. It is a configuration problem,
// not a transport one, and is never retried.
type BindError struct {
	SystemID string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("smpp: bind rejected for system id %q: %v", e.SystemID, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// gosmppTransport adapts a gosmpp transceiver session to Transport.
type gosmppTransport struct {
	session *gosmpp.Session
}

func (t *gosmppTransport) Send(p pdu.PDU) error {
	return t.session.Transceiver().Submit(p)
}

func (t *gosmppTransport) Close() error {
	return t.session.Close()
}

// GosmppDialer dials carrier endpoints with gosmpp transceiver binds and
// windowed request tracking, so responses and expiries are routed back to
// the owning session by sequence number.
type GosmppDialer struct{}

var _ Dialer = GosmppDialer{}

func (GosmppDialer) Dial(ctx context.Context, s domain.SMPPSettings, ev Events) (Transport, error) {
	auth := gosmpp.Auth{
		SMSC:       fmt.Sprintf("%s:%d", s.Host, s.Port),
		SystemID:   s.SystemID,
		Password:   s.Password,
		SystemType: s.SystemType,
	}
	connector := gosmpp.TRXConnector(gosmpp.NonTLSDialer, auth)

	settings := gosmpp.Settings{
		ReadTimeout:  s.SubmitTimeout + 5*time.Second,
		WriteTimeout: s.SubmitTimeout,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:     64,
			PduExpireTimeOut:  s.SubmitTimeout,
			ExpireCheckTimer:  time.Second,
			EnableAutoRespond: false,
			OnReceivedPduRequest: func(p pdu.PDU) (pdu.PDU, bool) {
				return ev.OnInbound(p)
			},
			OnExpectedPduResponse: func(resp gosmpp.Response) {
				ev.OnResponse(int32(resp.OriginalRequest.PDU.GetSequenceNumber()), resp.PDU)
			},
			OnExpiredPduRequest: func(p pdu.PDU) bool {
				return ev.OnExpired(int32(p.GetSequenceNumber()), p)
			},
			OnClosePduRequest: func(p pdu.PDU) {
				// Closed before a response arrived; surface as expiry so
				// waiters are released.
				ev.OnExpired(int32(p.GetSequenceNumber()), p)
			},
		},

		OnReceivingError: func(err error) {
			slog.Warn("smpp read error", slog.Any("error", err))
		},
		OnClosed: func(state gosmpp.State) {
			ev.OnClosed()
		},
	}

	// gosmpp dials and binds synchronously inside NewSession; run it under
	// the caller's connect+bind budget.
	type dialResult struct {
		sess *gosmpp.Session
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		sess, err := gosmpp.NewSession(connector, settings, 0)
		done <- dialResult{sess: sess, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.sess != nil {
				_ = r.sess.Close()
			}
		}()
		return nil, fmt.Errorf("smpp dial %s:%d: %w", s.Host, s.Port, ctx.Err())
	case r := <-done:
		if r.err != nil {
			var netErr net.Error
			if errors.As(r.err, &netErr) || errors.Is(r.err, syscall.ECONNREFUSED) {
				return nil, fmt.Errorf("smpp dial %s:%d: %w", s.Host, s.Port, r.err)
			}
			return nil, &BindError{SystemID: s.SystemID, Err: r.err}
		}
		return &gosmppTransport{session: r.sess}, nil
	}
}
