package smpp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/semaphore"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/pkg/codes"
	"github.com/treyvum/smsgate/pkg/segmenter"
)

// ErrPoolClosed is returned by Lend after Shutdown.
var ErrPoolClosed = fmt.Errorf("smpp: pool closed")

// Pool owns a bounded set of sessions to one carrier endpoint and credential
// pair. Capacity is enforced with a weighted semaphore: a Lend holds one
// slot until the session is reclaimed or discarded, so the number of
// concurrently bound sessions never exceeds MaxSessions.
type Pool struct {
	tenantID    string
	channelName string
	settings    domain.SMPPSettings

	dialer Dialer
	seg    segmenter.Segmenter
	sink   ReceiptSink

	slots  *semaphore.Weighted
	nextID atomic.Uint64

	mu        sync.Mutex
	available []*Session

	// sessions is the arena of every live session, keyed by the stable
	// handle assigned at creation.
	sessions cmap.ConcurrentMap[string, *Session]

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool builds a pool for one tenant channel. Sessions are created
// lazily on Lend; Start launches the keepalive prober.
func NewPool(tenantID, channelName string, settings domain.SMPPSettings, dialer Dialer, seg segmenter.Segmenter, sink ReceiptSink) *Pool {
	return &Pool{
		tenantID:    tenantID,
		channelName: channelName,
		settings:    settings,
		dialer:      dialer,
		seg:         seg,
		sink:        sink,
		slots:       semaphore.NewWeighted(int64(settings.MaxSessions)),
		sessions:    cmap.New[*Session](),
		stopCh:      make(chan struct{}),
	}
}

func sessionKey(id uint64) string { return strconv.FormatUint(id, 10) }

// Start launches the background keepalive loop.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.runKeepalive(ctx)
}

// Lend returns a bound session, blocking while the pool is at capacity.
// A previously idle session that fails its fast liveness probe is replaced
// transparently; the caller never sees an unhealthy session. The whole call
// is bounded by the connect+bind budget.
func (p *Pool) Lend(ctx context.Context) (*Session, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	budget := p.settings.ConnectTimeout + p.settings.BindTimeout
	lendCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := p.slots.Acquire(lendCtx, 1); err != nil {
		return nil, fmt.Errorf("smpp: waiting for pool capacity: %w", err)
	}
	if p.closed.Load() {
		p.slots.Release(1)
		return nil, ErrPoolClosed
	}

	for {
		sess := p.popAvailable()
		if sess == nil {
			break
		}
		if sess.State() == codes.SessionBound && sess.Probe(lendCtx) == nil {
			return sess, nil
		}
		p.disposeLocked(ctx, sess)
	}

	sess, err := p.createSession(lendCtx)
	if err != nil {
		p.slots.Release(1)
		return nil, err
	}
	return sess, nil
}

// Reclaim returns a lent session to the pool. Unhealthy sessions are
// disposed; either way the capacity slot is released.
func (p *Pool) Reclaim(sess *Session) {
	defer p.slots.Release(1)
	if p.closed.Load() || sess.State() != codes.SessionBound {
		p.disposeLocked(context.Background(), sess)
		return
	}
	p.mu.Lock()
	p.available = append(p.available, sess)
	p.mu.Unlock()
}

// Discard disposes a lent session regardless of its state and releases the
// capacity slot. Used by the pipeline when an attempt must not reuse the
// same session.
func (p *Pool) Discard(sess *Session) {
	defer p.slots.Release(1)
	p.disposeLocked(context.Background(), sess)
}

func (p *Pool) popAvailable() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.available) == 0 {
		return nil
	}
	sess := p.available[len(p.available)-1]
	p.available = p.available[:len(p.available)-1]
	return sess
}

func (p *Pool) createSession(ctx context.Context) (*Session, error) {
	id := p.nextID.Add(1)
	sess := NewSession(id, p.settings, p.dialer, p.seg, p.sink)

	logCtx := logging.ContextWithTenantID(ctx, p.tenantID)
	logCtx = logging.ContextWithChannelName(logCtx, p.channelName)
	if err := sess.Open(logCtx); err != nil {
		return nil, fmt.Errorf("smpp: create session: %w", err)
	}
	p.sessions.Set(sessionKey(id), sess)
	return sess, nil
}

func (p *Pool) disposeLocked(ctx context.Context, sess *Session) {
	slog.DebugContext(ctx, "disposing smpp session",
		slog.Uint64("session_id", sess.ID()), slog.String("state", sess.State()))
	p.sessions.Remove(sessionKey(sess.ID()))
	sess.Close()
}

// runKeepalive probes idle bound sessions every enquire-link period.
// Failures only mark the session; the next Lend replaces it.
func (p *Pool) runKeepalive(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.settings.EnquireLink)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeIdle(ctx)
		}
	}
}

// probeIdle takes the idle set out of circulation, probes each session and
// returns the healthy ones. A session lent while this runs is untouched,
// preserving the one-in-flight-submit guarantee.
func (p *Pool) probeIdle(ctx context.Context) {
	p.mu.Lock()
	idle := p.available
	p.available = nil
	p.mu.Unlock()

	var healthy []*Session
	for _, sess := range idle {
		if err := sess.Probe(ctx); err != nil {
			slog.WarnContext(ctx, "keepalive probe failed",
				slog.Uint64("session_id", sess.ID()),
				slog.String("tenant_id", p.tenantID),
				slog.String("channel", p.channelName),
				slog.Any("error", err))
			p.disposeLocked(ctx, sess)
			continue
		}
		healthy = append(healthy, sess)
	}

	if len(healthy) > 0 {
		p.mu.Lock()
		p.available = append(p.available, healthy...)
		p.mu.Unlock()
	}
}

// Healthy reports whether the pool can serve submissions.
func (p *Pool) Healthy() bool {
	return !p.closed.Load()
}

// SessionCount returns the number of live sessions, for monitoring.
func (p *Pool) SessionCount() int {
	return p.sessions.Count()
}

// Shutdown stops the keepalive loop and closes every session. Lend calls
// after Shutdown fail with ErrPoolClosed.
func (p *Pool) Shutdown(ctx context.Context) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	p.available = nil
	p.mu.Unlock()

	for item := range p.sessions.IterBuffered() {
		p.disposeLocked(ctx, item.Val)
	}
	slog.InfoContext(ctx, "smpp pool shut down",
		slog.String("tenant_id", p.tenantID), slog.String("channel", p.channelName))
}
