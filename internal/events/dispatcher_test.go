package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fooEvent struct{ n int }
type barEvent struct{ s string }

func TestSubscribeSyncInvokesOnEmittingGoroutine(t *testing.T) {
	d := New(8)
	defer d.Close()

	var got int
	Subscribe[fooEvent](d, Sync, func(e fooEvent) { got = e.n })

	d.Emit(fooEvent{n: 7})
	assert.Equal(t, 7, got)
}

func TestSubscribeFiltersByConcreteType(t *testing.T) {
	d := New(8)
	defer d.Close()

	var fooCount, barCount int
	Subscribe[fooEvent](d, Sync, func(fooEvent) { fooCount++ })
	Subscribe[barEvent](d, Sync, func(barEvent) { barCount++ })

	d.Emit(fooEvent{n: 1})
	d.Emit(fooEvent{n: 2})
	d.Emit(barEvent{s: "x"})

	assert.Equal(t, 2, fooCount)
	assert.Equal(t, 1, barCount)
}

func TestSubscribeAllSeesEveryType(t *testing.T) {
	d := New(8)
	defer d.Close()

	var seen []any
	var mu sync.Mutex
	SubscribeAll(d, Sync, func(e any) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	d.Emit(fooEvent{n: 1})
	d.Emit(barEvent{s: "x"})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
}

func TestQueuedDispatchRunsOnWorkerAsynchronously(t *testing.T) {
	d := New(8)
	defer d.Close()

	done := make(chan int, 1)
	callerGoroutine := make(chan struct{})
	Subscribe[fooEvent](d, Queued, func(e fooEvent) {
		<-callerGoroutine // blocks until the test signals Emit already returned
		done <- e.n
	})

	d.Emit(fooEvent{n: 42})
	close(callerGoroutine) // Emit must have already returned for this not to deadlock

	select {
	case n := <-done:
		assert.Equal(t, 42, n)
	case <-time.After(time.Second):
		t.Fatal("queued listener never ran")
	}
}

func TestQueuedDispatchPreservesEmissionOrder(t *testing.T) {
	d := New(8)
	defer d.Close()

	var mu sync.Mutex
	var order []int
	received := make(chan struct{}, 3)
	Subscribe[fooEvent](d, Queued, func(e fooEvent) {
		mu.Lock()
		order = append(order, e.n)
		mu.Unlock()
		received <- struct{}{}
	})

	d.Emit(fooEvent{n: 1})
	d.Emit(fooEvent{n: 2})
	d.Emit(fooEvent{n: 3})

	for i := 0; i < 3; i++ {
		<-received
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitDropsQueuedEventWhenQueueSaturated(t *testing.T) {
	d := New(1)
	defer d.Close()

	block := make(chan struct{})
	var count int
	var mu sync.Mutex
	Subscribe[fooEvent](d, Queued, func(fooEvent) {
		<-block
		mu.Lock()
		count++
		mu.Unlock()
	})

	// First event's worker invocation blocks on <-block, the second fills
	// the depth-1 channel, further sends should be dropped rather than
	// stalling the caller.
	d.Emit(fooEvent{n: 1})
	d.Emit(fooEvent{n: 2})
	require.NotPanics(t, func() { d.Emit(fooEvent{n: 3}) })

	close(block)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, count, 2)
}

func TestCloseDrainsQueueBeforeStoppingWorker(t *testing.T) {
	d := New(4)

	var mu sync.Mutex
	var count int
	Subscribe[fooEvent](d, Queued, func(fooEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	d.Emit(fooEvent{n: 1})
	d.Emit(fooEvent{n: 2})
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}
