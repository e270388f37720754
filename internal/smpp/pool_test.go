package smpp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treyvum/smsgate/pkg/codes"
	"github.com/treyvum/smsgate/pkg/segmenter"
)

func newTestPool(carrier *fakeCarrier, maxSessions int) *Pool {
	settings := testSettings()
	settings.MaxSessions = maxSessions
	return NewPool("acme", "primary", settings, carrier, segmenter.New(), nil)
}

func TestPoolLendCreatesAndReusesSessions(t *testing.T) {
	carrier := &fakeCarrier{}
	pool := newTestPool(carrier, 2)
	defer pool.Shutdown(context.Background())

	sess, err := pool.Lend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), carrier.dialCount.Load())

	pool.Reclaim(sess)

	again, err := pool.Lend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), again.ID())
	assert.Equal(t, int32(1), carrier.dialCount.Load(), "healthy session must be reused, not re-dialed")
	pool.Reclaim(again)
}

func TestPoolNeverLendsSameSessionTwice(t *testing.T) {
	carrier := &fakeCarrier{}
	pool := newTestPool(carrier, 4)
	defer pool.Shutdown(context.Background())

	const callers = 16
	var mu sync.Mutex
	held := make(map[uint64]bool)

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := pool.Lend(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			if held[sess.ID()] {
				t.Errorf("session %d lent while already held by another caller", sess.ID())
			}
			held[sess.ID()] = true
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			held[sess.ID()] = false
			mu.Unlock()
			pool.Reclaim(sess)
		}()
	}
	wg.Wait()
}

func TestPoolEnforcesCapacity(t *testing.T) {
	carrier := &fakeCarrier{}
	pool := newTestPool(carrier, 2)
	defer pool.Shutdown(context.Background())

	first, err := pool.Lend(context.Background())
	require.NoError(t, err)
	second, err := pool.Lend(context.Background())
	require.NoError(t, err)

	// Third caller must wait rather than exceed the limit.
	blockedCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Lend(blockedCtx)
	require.Error(t, err)
	assert.LessOrEqual(t, pool.SessionCount(), 2)

	pool.Reclaim(first)
	third, err := pool.Lend(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, pool.SessionCount(), 2)

	pool.Reclaim(second)
	pool.Reclaim(third)
}

func TestPoolReplacesUnhealthySessionOnLend(t *testing.T) {
	carrier := &fakeCarrier{}
	pool := newTestPool(carrier, 2)
	defer pool.Shutdown(context.Background())

	sess, err := pool.Lend(context.Background())
	require.NoError(t, err)
	pool.Reclaim(sess)

	// The idle session dies while parked; the next Lend must hand out a
	// fresh bound session, never the dead one.
	sess.markFailed()

	replacement, err := pool.Lend(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID(), replacement.ID())
	assert.Equal(t, codes.SessionBound, replacement.State())
	assert.Equal(t, int32(2), carrier.dialCount.Load())
	pool.Reclaim(replacement)
}

func TestPoolReclaimDisposesFailedSession(t *testing.T) {
	carrier := &fakeCarrier{}
	pool := newTestPool(carrier, 2)
	defer pool.Shutdown(context.Background())

	sess, err := pool.Lend(context.Background())
	require.NoError(t, err)
	sess.markFailed()
	pool.Reclaim(sess)

	assert.Equal(t, 0, pool.SessionCount())
	assert.Equal(t, codes.SessionClosed, sess.State())
}

func TestPoolShutdownClosesEverything(t *testing.T) {
	carrier := &fakeCarrier{}
	pool := newTestPool(carrier, 2)

	sess, err := pool.Lend(context.Background())
	require.NoError(t, err)
	pool.Reclaim(sess)

	pool.Shutdown(context.Background())
	assert.Equal(t, codes.SessionClosed, sess.State())

	_, err = pool.Lend(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}
