package slate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessQueueWaitsForActivation(t *testing.T) {
	q := &accessQueue{}
	ran := make(chan struct{})
	q.submit(false, func() { close(ran) })
	select {
	case <-ran:
		t.Fatal("inactive queue started work")
	case <-time.After(20 * time.Millisecond):
	}
	q.activate()
	<-ran
	require.Eventually(t, q.idle, time.Second, time.Millisecond)
}

func TestAccessQueueBarrierExcludesReads(t *testing.T) {
	q := &accessQueue{active: true}
	var readers, maxReaders atomic.Int32
	var writing atomic.Bool
	var violations atomic.Int32
	var wg sync.WaitGroup

	read := func() {
		defer wg.Done()
		if writing.Load() {
			violations.Add(1)
		}
		n := readers.Add(1)
		for {
			m := maxReaders.Load()
			if n <= m || maxReaders.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		readers.Add(-1)
	}
	write := func() {
		defer wg.Done()
		if readers.Load() != 0 || writing.Swap(true) {
			violations.Add(1)
		}
		time.Sleep(time.Millisecond)
		writing.Store(false)
	}
	for i := range 40 {
		wg.Add(1)
		if i%5 == 0 {
			q.submit(true, write)
		} else {
			q.submit(false, read)
		}
	}
	wg.Wait()
	assert.Zero(t, violations.Load())
	assert.Greater(t, maxReaders.Load(), int32(1), "reads should overlap")
	require.Eventually(t, q.idle, time.Second, time.Millisecond)
}

func TestAccessQueueBoundsReads(t *testing.T) {
	q := &accessQueue{active: true, maxReads: 2}
	ctx := context.Background()
	require.NoError(t, q.acquire(ctx, false))
	require.NoError(t, q.acquire(ctx, false))

	third := make(chan error, 1)
	go func() { third <- q.acquire(ctx, false) }()
	select {
	case <-third:
		t.Fatal("third read admitted above the bound")
	case <-time.After(20 * time.Millisecond):
	}
	q.release(false)
	require.NoError(t, <-third)
	q.release(false)
	q.release(false)
	assert.True(t, q.idle())
}

func TestAccessQueueCancelledAcquireWithdraws(t *testing.T) {
	q := &accessQueue{active: true}
	ctx := context.Background()
	require.NoError(t, q.acquire(ctx, false))

	cctx, cancel := context.WithCancel(ctx)
	barrier := make(chan error, 1)
	go func() { barrier <- q.acquire(cctx, true) }()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.pending) == 1
	}, time.Second, time.Millisecond)

	// a read queued behind the barrier starts once the barrier is withdrawn
	read := make(chan error, 1)
	go func() { read <- q.acquire(ctx, false) }()
	cancel()
	assert.ErrorIs(t, <-barrier, context.Canceled)
	require.NoError(t, <-read)
	q.release(false)
	q.release(false)
	assert.True(t, q.idle())
}
