package decode

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmedia/mediacore/internal/media"
	"github.com/kestrelmedia/mediacore/internal/queue"
)

func TestBaseSyncSerialResetsGatesOnChange(t *testing.T) {
	b := &base{localSerial: 1, hasKeyframe: true, firstFrameSeen: true}

	assert.False(t, b.syncSerial(1), "same serial must not report a change")
	assert.True(t, b.hasKeyframe)

	assert.True(t, b.syncSerial(2), "new serial must report a change")
	assert.False(t, b.hasKeyframe)
	assert.False(t, b.firstFrameSeen)
	assert.Equal(t, int32(2), b.localSerial)
}

func TestBaseAdmitPacketGatesUntilKeyframe(t *testing.T) {
	b := &base{localSerial: 1}

	assert.False(t, b.admitPacket(media.Packet{Serial: 1, IsKeyframe: false}), "non-keyframe before any keyframe must be dropped")
	assert.True(t, b.admitPacket(media.Packet{Serial: 1, IsKeyframe: true}))
	assert.True(t, b.admitPacket(media.Packet{Serial: 1, IsKeyframe: false}), "once gated open, later non-keyframes pass")
	assert.False(t, b.admitPacket(media.Packet{Serial: 2, IsKeyframe: false}), "stale serial must be dropped")
}

func TestBaseRecordErrorAndRecoveryEmitNotifications(t *testing.T) {
	var notes []Notification
	b := &base{notify: func(n Notification) { notes = append(notes, n) }}

	b.recordError(errors.New("boom"))
	require.Len(t, notes, 1)
	assert.Equal(t, NotifyError, notes[0].Kind)
	assert.Equal(t, 1, b.consecutiveErrs)

	b.recordSuccess()
	require.Len(t, notes, 2)
	assert.Equal(t, NotifyRecovery, notes[1].Kind)
	assert.Equal(t, 0, b.consecutiveErrs)

	// a success with no prior error emits nothing new.
	b.recordSuccess()
	assert.Len(t, notes, 2)
}

func TestBaseNoteFrameEmitsFirstFrameOnce(t *testing.T) {
	var notes []Notification
	b := &base{notify: func(n Notification) { notes = append(notes, n) }}

	b.noteFrame(time.Millisecond)
	b.noteFrame(time.Millisecond)
	require.Len(t, notes, 1)
	assert.Equal(t, NotifyFirstFrame, notes[0].Kind)
	assert.Equal(t, uint64(2), b.frameCount)
}

func TestBaseWaitPreBufferReturnsImmediatelyWhenNil(t *testing.T) {
	b := &base{}
	b.waitPreBuffer(func() bool { return false })
}

func TestBaseWaitPreBufferBlocksUntilReadyOrAborted(t *testing.T) {
	ready := false
	b := &base{preBufferReady: func() bool { return ready }}

	done := make(chan struct{})
	go func() {
		b.waitPreBuffer(func() bool { return false })
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("waitPreBuffer returned before the predicate was satisfied")
	default:
	}

	ready = true
	<-done
}

func TestPopNextReturnsEveryPacketRegardlessOfAdmitState(t *testing.T) {
	q := queue.NewPacketQueue(4)
	q.Start()
	require.True(t, q.Push(media.Packet{Serial: 1, IsKeyframe: false, Data: []byte("a")}, 0))
	require.True(t, q.Push(media.Packet{Serial: 1, IsKeyframe: true, Data: []byte("b")}, 0))

	b := &base{}

	pkt, ok := popNext(q, b, nil)
	require.True(t, ok)
	assert.Equal(t, "a", string(pkt.Data), "popNext must not silently skip a non-keyframe packet")

	pkt, ok = popNext(q, b, nil)
	require.True(t, ok)
	assert.Equal(t, "b", string(pkt.Data))
}

func TestPopNextFiresOnSerialChangeBeforeReturning(t *testing.T) {
	q := queue.NewPacketQueue(4)
	q.Start()
	require.True(t, q.Push(media.Packet{Serial: 1, Data: []byte("a")}, 0))

	b := &base{localSerial: 0}
	fired := false

	_, ok := popNext(q, b, func() { fired = true })
	require.True(t, ok)
	assert.True(t, fired)
	assert.Equal(t, int32(1), b.localSerial)
}

func TestPopNextReturnsFalseOnAbort(t *testing.T) {
	q := queue.NewPacketQueue(4)
	q.Start()
	q.Abort()

	b := &base{}
	_, ok := popNext(q, b, nil)
	assert.False(t, ok)
}

func TestSecondsToDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, secondsToDuration(1.5))
}
