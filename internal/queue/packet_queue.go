// Package queue implements the bounded, serial-aware blocking queues that
// decouple the demuxer's reader thread from decoder worker loops, and
// decoder worker loops from their consumers (spec §4.1/§4.2).
//
// Grounded on nishisan-dev-n-backup/internal/agent/ringbuffer.go's
// sync.Cond-driven bounded buffer (notFull/notEmpty condition variables,
// idempotent close/abort), transliterated from a byte ring into a Packet
// FIFO, plus zsiec-prism/internal/pipeline's channel-depth instrumentation
// idiom for the running size/duration counters.
package queue

import (
	"container/list"
	"sync"
	"time"

	"github.com/kestrelmedia/mediacore/internal/media"
)

const defaultMaxPackets = 16

// PacketQueue is a bounded FIFO of media.Packet guarded by a serial number:
// callers compare a packet's Serial against Serial() to detect packets that
// predate the last Flush and should be discarded (spec §4.1).
type PacketQueue struct {
	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond

	items    *list.List
	maxCount int

	size     int
	duration time.Duration
	serial   int32
	aborted  bool
	started  bool
}

// NewPacketQueue creates a queue bounded to maxCount packets (0 uses the
// spec default of 16).
func NewPacketQueue(maxCount int) *PacketQueue {
	if maxCount <= 0 {
		maxCount = defaultMaxPackets
	}
	q := &PacketQueue{items: list.New(), maxCount: maxCount}
	q.notFull.L = &q.mu
	q.notEmpty.L = &q.mu
	return q
}

// Start clears the aborted flag so the queue accepts push/pop again, and
// advances the serial so any packet left over from before the abort (a
// reconnect reuses the same long-lived queue rather than allocating a new
// one) is recognized as stale by the serial comparison in §4.1, exactly
// like a Flush. Grounded on original_source/src/base/packet_queue.cpp's
// start(): increments serial_ and notifies both condvars before accepting
// new traffic.
func (q *PacketQueue) Start() {
	q.mu.Lock()
	q.aborted = false
	q.started = true
	q.serial++
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Abort wakes every blocked Push/Pop so they return immediately with false.
func (q *PacketQueue) Abort() {
	q.mu.Lock()
	q.aborted = true
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// IsAborted reports whether Abort has been called since the last Start.
func (q *PacketQueue) IsAborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Flush drops every queued packet and advances the serial number, so
// in-flight packets from before the flush are recognized as stale once
// compared against the new Serial() (spec §4.1 "serial invalidation").
func (q *PacketQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Init()
	q.size = 0
	q.duration = 0
	q.serial++
	q.notFull.Broadcast()
}

// waitTimeout blocks on cond until pred() is true, the queue is aborted, or
// timeoutMs elapses (<0: wait forever, 0: don't wait at all). It must be
// called with q.mu held; it returns with q.mu held.
func (q *PacketQueue) waitTimeout(cond *sync.Cond, timeoutMs int, pred func() bool) bool {
	if pred() || q.aborted {
		return pred()
	}
	if timeoutMs == 0 {
		return false
	}
	if timeoutMs < 0 {
		for !pred() && !q.aborted {
			cond.Wait()
		}
		return pred()
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		q.mu.Lock()
		cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	for !pred() && !q.aborted && time.Now().Before(deadline) {
		cond.Wait()
	}
	return pred()
}

// Push enqueues pkt, blocking per timeoutMs semantics (<0 forever, 0
// immediate, >0 milliseconds) while the queue is full. Returns false if the
// queue was aborted or the timeout elapsed first.
func (q *PacketQueue) Push(pkt media.Packet, timeoutMs int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ok := q.waitTimeout(&q.notFull, timeoutMs, func() bool { return q.items.Len() < q.maxCount })
	if !ok || q.aborted {
		return false
	}

	q.items.PushBack(pkt)
	q.size += pkt.Size()
	q.duration += pkt.Duration
	q.notEmpty.Broadcast()
	return true
}

// Pop dequeues the oldest packet, blocking per timeoutMs semantics while the
// queue is empty. Returns false if aborted or the timeout elapsed first.
func (q *PacketQueue) Pop(timeoutMs int) (media.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ok := q.waitTimeout(&q.notEmpty, timeoutMs, func() bool { return q.items.Len() > 0 })
	if !ok || q.items.Len() == 0 {
		return media.Packet{}, false
	}
	return q.popFrontLocked(), true
}

// TryPop is Pop(0): a non-blocking attempt.
func (q *PacketQueue) TryPop() (media.Packet, bool) { return q.Pop(0) }

func (q *PacketQueue) popFrontLocked() media.Packet {
	front := q.items.Front()
	pkt := q.items.Remove(front).(media.Packet)
	q.size -= pkt.Size()
	q.duration -= pkt.Duration
	q.notFull.Broadcast()
	return pkt
}

// Front returns the oldest queued packet without removing it.
func (q *PacketQueue) Front() (media.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return media.Packet{}, false
	}
	return q.items.Front().Value.(media.Packet), true
}

// Count returns the number of packets currently queued.
func (q *PacketQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// ByteSize returns the running total of packet payload bytes queued.
func (q *PacketQueue) ByteSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Duration returns the running total of packet durations queued.
func (q *PacketQueue) Duration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// MaxCount returns the queue's configured capacity.
func (q *PacketQueue) MaxCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxCount
}

// SetMaxCount changes the queue's capacity; maxCount must be > 0.
func (q *PacketQueue) SetMaxCount(maxCount int) {
	if maxCount <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxCount = maxCount
	q.notFull.Broadcast()
}

// Serial returns the queue's current flush generation.
func (q *PacketQueue) Serial() int32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serial
}

// IsFull reports whether the queue is at capacity.
func (q *PacketQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() >= q.maxCount
}

// IsEmpty reports whether the queue has no packets.
func (q *PacketQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0
}

// Statistics is a point-in-time snapshot of the queue's counters.
type Statistics struct {
	Count    int
	Size     int
	Duration time.Duration
	Serial   int32
	Aborted  bool
}

// GetStatistics returns a consistent snapshot of all counters at once.
func (q *PacketQueue) GetStatistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Statistics{
		Count:    q.items.Len(),
		Size:     q.size,
		Duration: q.duration,
		Serial:   q.serial,
		Aborted:  q.aborted,
	}
}
