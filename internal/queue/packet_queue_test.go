package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmedia/mediacore/internal/media"
)

func TestPacketQueuePushPopFIFO(t *testing.T) {
	q := NewPacketQueue(4)
	q.Start()

	require.True(t, q.Push(media.Packet{Data: []byte("a")}, 0))
	require.True(t, q.Push(media.Packet{Data: []byte("b")}, 0))

	p1, ok := q.Pop(0)
	require.True(t, ok)
	assert.Equal(t, "a", string(p1.Data))

	p2, ok := q.Pop(0)
	require.True(t, ok)
	assert.Equal(t, "b", string(p2.Data))
}

func TestPacketQueueNonBlockingFailsWhenFullOrEmpty(t *testing.T) {
	q := NewPacketQueue(1)
	q.Start()

	require.True(t, q.Push(media.Packet{Data: []byte("a")}, 0))
	assert.False(t, q.Push(media.Packet{Data: []byte("b")}, 0))

	_, ok := q.Pop(0)
	require.True(t, ok)
	_, ok = q.Pop(0)
	assert.False(t, ok)
}

func TestPacketQueueAbortWakesBlockedPop(t *testing.T) {
	q := NewPacketQueue(4)
	q.Start()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(-1)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Abort()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Abort")
	}
}

func TestPacketQueueFlushClearsAndBumpsSerial(t *testing.T) {
	q := NewPacketQueue(4)
	q.Start()
	require.True(t, q.Push(media.Packet{Data: []byte("a")}, 0))

	before := q.Serial()
	q.Flush()
	assert.Equal(t, before+1, q.Serial())
	assert.True(t, q.IsEmpty())
}

func TestPacketQueueTimeoutExpires(t *testing.T) {
	q := NewPacketQueue(4)
	q.Start()

	start := time.Now()
	_, ok := q.Pop(30)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestPacketQueueStartAfterAbortBumpsSerial(t *testing.T) {
	q := NewPacketQueue(4)
	q.Start()
	before := q.Serial()

	require.True(t, q.Push(media.Packet{Data: []byte("a"), Serial: before}, 0))
	q.Abort()
	q.Start()

	assert.Equal(t, before+1, q.Serial(), "Start must bump serial like Flush so a packet stranded by the abort is recognized as stale")

	pkt, ok := q.Pop(0)
	require.True(t, ok)
	assert.NotEqual(t, q.Serial(), pkt.Serial, "the stranded packet must carry the pre-abort serial")
}

func TestPacketQueueStartAfterPushKeepsWaiterSatisfied(t *testing.T) {
	q := NewPacketQueue(4)
	q.Start()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(-1)
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)

	require.True(t, q.Push(media.Packet{Data: []byte("a")}, 0))
	// Start bumps the serial and broadcasts again (the queue was never
	// aborted); it must not disturb the waiter the Push already satisfied.
	q.Start()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock")
	}
}

func TestPacketQueueStatistics(t *testing.T) {
	q := NewPacketQueue(4)
	q.Start()
	require.True(t, q.Push(media.Packet{Data: []byte("abcd"), Duration: 10 * time.Millisecond}, 0))

	stats := q.GetStatistics()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 4, stats.Size)
	assert.Equal(t, 10*time.Millisecond, stats.Duration)
	assert.False(t, stats.Aborted)
}
