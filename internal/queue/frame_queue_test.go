package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmedia/mediacore/internal/media"
)

func TestFrameQueuePushPopFIFO(t *testing.T) {
	q := NewFrameQueue[media.VideoFrame](2, false)
	require.True(t, q.Push(media.VideoFrame{PTS: time.Second}))
	require.True(t, q.Push(media.VideoFrame{PTS: 2 * time.Second}))

	f1, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, time.Second, f1.PTS)
}

func TestFrameQueueKeepLastNeverDrainsFinalFrame(t *testing.T) {
	q := NewFrameQueue[media.VideoFrame](3, true)
	require.True(t, q.Push(media.VideoFrame{PTS: time.Second}))

	f, ok := q.TryPop()
	assert.True(t, ok, "keep-last must still return the sole frame")
	assert.Equal(t, time.Second, f.PTS)
	assert.Equal(t, 1, q.Size(), "keep-last must not remove the last frame")
}

func TestFrameQueueGetWritableFrameAndCommit(t *testing.T) {
	q := NewFrameQueue[media.VideoFrame](2, false)

	w := q.GetWritableFrame()
	require.NotNil(t, w)
	w.PTS = 5 * time.Second
	require.True(t, q.CommitFrame())

	f, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, f.PTS)
}

func TestFrameQueueReleaseWritableFrameAllowsReReservation(t *testing.T) {
	q := NewFrameQueue[media.VideoFrame](2, false)

	w := q.GetWritableFrame()
	require.NotNil(t, w)
	w.PTS = time.Second
	q.ReleaseWritableFrame()

	// a second reservation must not panic now that the first was released,
	// and must not see the abandoned frame's data.
	w2 := q.GetWritableFrame()
	require.NotNil(t, w2)
	assert.Equal(t, time.Duration(0), w2.PTS)
	w2.PTS = 2 * time.Second
	require.True(t, q.CommitFrame())

	f, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, f.PTS)
}

func TestFrameQueueGetWritableFrameTwiceWithoutCommitPanics(t *testing.T) {
	q := NewFrameQueue[media.VideoFrame](2, false)
	require.NotNil(t, q.GetWritableFrame())
	assert.Panics(t, func() { q.GetWritableFrame() })
}

func TestFrameQueueReleaseWritableFrameWithoutReservationIsNoOp(t *testing.T) {
	q := NewFrameQueue[media.VideoFrame](2, false)
	assert.NotPanics(t, func() { q.ReleaseWritableFrame() })
}

func TestFrameQueueAbortUnblocksPop(t *testing.T) {
	q := NewFrameQueue[media.VideoFrame](2, false)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.SetAbortStatus(true)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after abort")
	}
}

func TestFrameQueueSetMaxCountPreservesOrder(t *testing.T) {
	q := NewFrameQueue[media.AudioFrame](2, false)
	require.True(t, q.Push(media.AudioFrame{PTS: time.Second}))
	require.True(t, q.Push(media.AudioFrame{PTS: 2 * time.Second}))

	require.True(t, q.SetMaxCount(4))
	assert.Equal(t, 4, q.Capacity())

	f1, _ := q.Pop()
	f2, _ := q.Pop()
	assert.Equal(t, time.Second, f1.PTS)
	assert.Equal(t, 2*time.Second, f2.PTS)
}
