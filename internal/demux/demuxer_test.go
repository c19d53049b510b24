package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmedia/mediacore/internal/media"
)

// These tests exercise the pieces of Demuxer that don't require an actual
// reisen.Media session (opening real media needs cgo/libav and a real
// file); the reader goroutine itself is not exercised by any test in this
// module.

func TestPreBufferSignalsOnceBothQueuesReady(t *testing.T) {
	d := New(nil)
	fired := 0
	d.SetPreBuffer(PreBufferConfig{Enable: true, VideoFrames: 2, AudioPackets: 2, RequireBoth: true}, func() {
		fired++
	})

	d.maybeSignalReady() // neither queue has anything yet
	assert.Equal(t, 0, fired)

	for i := 0; i < 2; i++ {
		require.True(t, d.videoQueue.Push(testPacket(), 0))
		require.True(t, d.audioQueue.Push(testPacket(), 0))
	}
	d.maybeSignalReady()
	assert.Equal(t, 1, fired)

	// a second call must not re-fire (one-shot).
	d.maybeSignalReady()
	assert.Equal(t, 1, fired)
}

func TestPreBufferRequireBothWaitsForSlowerQueue(t *testing.T) {
	d := New(nil)
	fired := 0
	d.SetPreBuffer(PreBufferConfig{Enable: true, VideoFrames: 1, AudioPackets: 1, RequireBoth: true}, func() {
		fired++
	})

	require.True(t, d.videoQueue.Push(testPacket(), 0))
	d.maybeSignalReady()
	assert.Equal(t, 0, fired, "must not fire until the audio queue also satisfies its watermark")
}

func TestPauseIsNoOpOnRealtimeSource(t *testing.T) {
	d := New(nil)
	d.realtime = true
	d.Pause()
	assert.False(t, d.IsPaused())
}

func TestPauseResumeOnFileSource(t *testing.T) {
	d := New(nil)
	d.realtime = false
	d.Pause()
	assert.True(t, d.IsPaused())
	d.Resume()
	assert.False(t, d.IsPaused())
}

func testPacket() media.Packet { return media.Packet{Data: []byte("x")} }
