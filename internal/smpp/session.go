package smpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/pkg/codes"
	"github.com/treyvum/smsgate/pkg/dlr"
	"github.com/treyvum/smsgate/pkg/segmenter"
)

// probeTimeout bounds a single enquire-link round trip.
const probeTimeout = 2 * time.Second

// ErrNotBound is returned when a submit or probe is attempted on a session
// that is not in the bound state.
var ErrNotBound = errors.New("smpp: session not bound")

// ErrSubmitTimeout is returned when a submit attempt exceeds its deadline
// or the carrier never answers within the request window.
var ErrSubmitTimeout = errors.New("smpp: submit timed out")

// RejectError is a non-OK command status in a submit response.
type RejectError struct {
	Status data.CommandStatusType
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("smpp: submit rejected by carrier (status 0x%08X)", uint32(e.Status))
}

// ConnectionLevel reports whether the rejection concerns the connection
// rather than the message; such rejections are retried on a fresh session.
func (e *RejectError) ConnectionLevel() bool {
	switch e.Status {
	case data.ESME_RTHROTTLED, data.ESME_RMSGQFUL, data.ESME_RSYSERR:
		return true
	}
	return false
}

// ReceiptSink consumes delivery receipts parsed off a session. It runs on
// its own goroutine, decoupled from the transport read loop.
type ReceiptSink func(ctx context.Context, rcpt dlr.Receipt)

// SubmitRequest is one outbound message handed to a session.
type SubmitRequest struct {
	MessageID      string
	Recipient      string
	SenderID       string
	Body           string
	RequestReceipt bool
}

// Session is one authenticated carrier connection. Lifecycle:
// unbound -> connecting -> bound -> failed/closed. Only a bound session may
// be lent for submission, and submissions on one session are serialized.
type Session struct {
	id       uint64
	settings domain.SMPPSettings
	dialer   Dialer
	seg      segmenter.Segmenter
	sink     ReceiptSink

	state     atomic.Value // session status string
	transport Transport
	lastUsed  atomic.Int64 // unix nanos

	submitMu sync.Mutex
	pending  sync.Map // int32 seq -> chan pdu.PDU
}

// NewSession creates an unbound session. id is the pool-assigned handle.
func NewSession(id uint64, settings domain.SMPPSettings, dialer Dialer, seg segmenter.Segmenter, sink ReceiptSink) *Session {
	s := &Session{
		id:       id,
		settings: settings,
		dialer:   dialer,
		seg:      seg,
		sink:     sink,
	}
	s.state.Store(codes.SessionUnbound)
	return s
}

// ID returns the pool-assigned session handle.
func (s *Session) ID() uint64 { return s.id }

// State returns the current session status string.
func (s *Session) State() string { return s.state.Load().(string) }

// LastUsed returns the time of the last submit or probe on this session.
func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

// Open dials and binds. The caller bounds ctx with the connect+bind budget.
func (s *Session) Open(ctx context.Context) error {
	if s.State() != codes.SessionUnbound {
		return fmt.Errorf("smpp: open on session in state %s", s.State())
	}
	s.state.Store(codes.SessionConnecting)

	logCtx := logging.ContextWithSessionID(ctx, s.id)
	slog.InfoContext(logCtx, "opening smpp session",
		slog.String("host", s.settings.Host), slog.Int("port", s.settings.Port),
		slog.String("system_id", s.settings.SystemID))

	transport, err := s.dialer.Dial(ctx, s.settings, Events{
		OnResponse: s.onResponse,
		OnExpired:  s.onExpired,
		OnInbound:  s.onInbound,
		OnClosed:   s.onClosed,
	})
	if err != nil {
		s.state.Store(codes.SessionFailed)
		return err
	}
	s.transport = transport
	s.state.Store(codes.SessionBound)
	s.touch()
	slog.InfoContext(logCtx, "smpp session bound")
	return nil
}

// Submit splits the body into carrier parts, sends one submit PDU per part
// and waits for every response within ctx. On success it returns the
// carrier correlation id of each part, in part order.
func (s *Session) Submit(ctx context.Context, req SubmitRequest) ([]string, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.State() != codes.SessionBound {
		return nil, ErrNotBound
	}
	s.touch()

	parts, requiresUCS2, err := s.seg.Split(req.Body)
	if err != nil {
		return nil, fmt.Errorf("split message %s: %w", req.MessageID, err)
	}

	logCtx := logging.ContextWithSessionID(ctx, s.id)
	logCtx = logging.ContextWithMessageID(logCtx, req.MessageID)

	ids := make([]string, 0, len(parts))
	for i, content := range parts {
		p, err := s.buildSubmit(req, content, requiresUCS2)
		if err != nil {
			return nil, fmt.Errorf("build submit pdu for part %d/%d: %w", i+1, len(parts), err)
		}

		resp, err := s.roundTrip(ctx, p)
		if err != nil {
			return nil, err
		}

		submitResp, ok := resp.(*pdu.SubmitSMResp)
		if !ok {
			return nil, fmt.Errorf("smpp: unexpected response %s to submit", resp.GetHeader().CommandID.String())
		}
		if status := submitResp.CommandStatus; status != data.ESME_ROK {
			return nil, &RejectError{Status: status}
		}
		slog.DebugContext(logCtx, "part accepted by carrier",
			slog.Int("part", i+1), slog.Int("total", len(parts)),
			slog.String("correlation_id", submitResp.MessageID))
		ids = append(ids, submitResp.MessageID)
	}
	return ids, nil
}

// Probe performs one enquire-link round trip. An error or an overdue
// response marks the session failed.
func (s *Session) Probe(ctx context.Context) error {
	if s.State() != codes.SessionBound {
		return ErrNotBound
	}
	s.touch()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := s.roundTrip(probeCtx, pdu.NewEnquireLink())
	if err != nil {
		s.markFailed()
		return fmt.Errorf("smpp: liveness probe: %w", err)
	}
	if _, ok := resp.(*pdu.EnquireLinkResp); !ok {
		s.markFailed()
		return fmt.Errorf("smpp: unexpected probe response %s", resp.GetHeader().CommandID.String())
	}
	return nil
}

// roundTrip sends a request PDU and waits for its response or ctx expiry.
func (s *Session) roundTrip(ctx context.Context, p pdu.PDU) (pdu.PDU, error) {
	seq := int32(p.GetSequenceNumber())
	waiter := make(chan pdu.PDU, 1)
	s.pending.Store(seq, waiter)
	defer s.pending.Delete(seq)

	if err := s.transport.Send(p); err != nil {
		return nil, fmt.Errorf("smpp send: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ErrSubmitTimeout
	case resp := <-waiter:
		if resp == nil {
			return nil, ErrSubmitTimeout
		}
		return resp, nil
	}
}

func (s *Session) buildSubmit(req SubmitRequest, content string, requiresUCS2 bool) (*pdu.SubmitSM, error) {
	p := pdu.NewSubmitSM().(*pdu.SubmitSM)

	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(s.settings.SourceTON)
	srcAddr.SetNpi(s.settings.SourceNPI)
	if err := srcAddr.SetAddress(req.SenderID); err != nil {
		return nil, fmt.Errorf("invalid sender id %q: %w", req.SenderID, err)
	}
	p.SourceAddr = srcAddr

	destAddr := pdu.NewAddress()
	destAddr.SetTon(s.settings.DestTON)
	destAddr.SetNpi(s.settings.DestNPI)
	if err := destAddr.SetAddress(req.Recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", req.Recipient, err)
	}
	p.DestAddr = destAddr

	coding := data.GSM7BIT
	if requiresUCS2 {
		coding = data.UCS2
	}
	if err := p.Message.SetMessageWithEncoding(content, coding); err != nil {
		return nil, fmt.Errorf("set message content: %w", err)
	}

	if req.RequestReceipt {
		p.RegisteredDelivery = 1
	}
	return p, nil
}

// Close tears the session down gracefully: unbind is handled by the
// transport close, waiters are released, the state becomes closed.
func (s *Session) Close() {
	prev := s.State()
	s.state.Store(codes.SessionClosed)
	if s.transport != nil && prev != codes.SessionClosed {
		_ = s.transport.Close()
	}
	s.releaseWaiters()
}

func (s *Session) markFailed() {
	switch s.State() {
	case codes.SessionBound, codes.SessionConnecting:
		s.state.Store(codes.SessionFailed)
	}
}

func (s *Session) releaseWaiters() {
	s.pending.Range(func(key, value any) bool {
		select {
		case value.(chan pdu.PDU) <- nil:
		default:
		}
		s.pending.Delete(key)
		return true
	})
}

// --- transport callbacks ---

func (s *Session) onResponse(seq int32, resp pdu.PDU) {
	if value, ok := s.pending.Load(seq); ok {
		select {
		case value.(chan pdu.PDU) <- resp:
		default:
		}
	}
}

func (s *Session) onExpired(seq int32, req pdu.PDU) bool {
	if value, ok := s.pending.Load(seq); ok {
		select {
		case value.(chan pdu.PDU) <- nil:
		default:
		}
	}
	// An expired enquire-link means the link is dead.
	if _, isProbe := req.(*pdu.EnquireLink); isProbe {
		s.markFailed()
		return true
	}
	return false
}

func (s *Session) onInbound(req pdu.PDU) (pdu.PDU, bool) {
	switch pd := req.(type) {
	case *pdu.DeliverSM:
		s.handleDeliver(pd)
		return pd.GetResponse(), true

	case *pdu.EnquireLink:
		return pd.GetResponse(), true

	case *pdu.Unbind:
		slog.Info("carrier requested unbind", slog.Uint64("session_id", s.id))
		s.markFailed()
		return pd.GetResponse(), true

	default:
		slog.Warn("unexpected inbound pdu",
			slog.Uint64("session_id", s.id),
			slog.String("cmd", req.GetHeader().CommandID.String()))
		return nil, false
	}
}

// handleDeliver parses a receipt payload and hands it to the sink on a
// separate goroutine, keeping the read loop free for keepalives.
func (s *Session) handleDeliver(pd *pdu.DeliverSM) {
	text, err := pd.Message.GetMessage()
	if err != nil {
		slog.Warn("undecodable deliver payload", slog.Uint64("session_id", s.id), slog.Any("error", err))
		return
	}

	rcpt, ok := dlr.Parse(text)
	if !ok {
		slog.Warn("deliver payload without correlation id, dropping",
			slog.Uint64("session_id", s.id), slog.String("raw", text))
		return
	}
	rcpt.SourceAddr = pd.SourceAddr.Address()
	rcpt.ReceivedAt = time.Now()

	if s.sink == nil {
		slog.Warn("receipt received but no sink registered", slog.Uint64("session_id", s.id))
		return
	}
	go func() {
		ctx := logging.ContextWithSessionID(context.Background(), s.id)
		ctx = logging.ContextWithCorrelationID(ctx, rcpt.CorrelationID)
		s.sink(ctx, rcpt)
	}()
}

func (s *Session) onClosed() {
	s.markFailed()
	s.releaseWaiters()
}
