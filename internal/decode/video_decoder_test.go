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

type fakeVideoFrame struct {
	data   []byte
	offset time.Duration
	err    error
}

func (f fakeVideoFrame) Data() []byte { return f.data }
func (f fakeVideoFrame) PresentationOffset() (time.Duration, error) {
	return f.offset, f.err
}

// fakeVideoStream hands back one frame per ReadVideoFrame call from frames,
// in order, so a test can drive VideoDecoder.Run through a specific packet
// sequence without a real reisen decode context.
type fakeVideoStream struct {
	frames []videoFrameReader
	i      int
}

func (s *fakeVideoStream) ReadVideoFrame() (videoFrameReader, bool, error) {
	if s.i >= len(s.frames) {
		return nil, false, nil
	}
	f := s.frames[s.i]
	s.i++
	return f, true, nil
}

func (s *fakeVideoStream) FrameRate() (int, int) { return 25, 1 }
func (s *fakeVideoStream) Width() int            { return 640 }
func (s *fakeVideoStream) Height() int           { return 480 }

func newTestVideoDecoder(stream videoStreamReader, packets *queue.PacketQueue) *VideoDecoder {
	return &VideoDecoder{
		base:    base{},
		stream:  stream,
		packets: packets,
		frames:  queue.NewFrameQueue[media.VideoFrame](defaultFrameQueueCapacity, false),
		syncMgr: nil,
		cfg:     DefaultVideoConfig(),
		speedFn: func() float64 { return 1.0 },
	}
}

// TestVideoDecoderRunSurvivesNonKeyframeBeforeFirstKeyframe reproduces the
// start-of-stream case where the first packet on the queue is not a
// keyframe: admitPacket rejects it after GetWritableFrame has already
// reserved a ring slot, and Run must release that reservation instead of
// calling GetWritableFrame again on the next iteration.
func TestVideoDecoderRunSurvivesNonKeyframeBeforeFirstKeyframe(t *testing.T) {
	packets := queue.NewPacketQueue(4)
	packets.Start()
	serial := packets.Serial()
	require.True(t, packets.Push(media.Packet{Serial: serial, IsKeyframe: false}, 0))
	require.True(t, packets.Push(media.Packet{Serial: serial, IsKeyframe: true}, 0))

	stream := &fakeVideoStream{frames: []videoFrameReader{
		fakeVideoFrame{data: []byte("dropped")},
		fakeVideoFrame{data: []byte("kept")},
	}}
	d := newTestVideoDecoder(stream, packets)

	done := make(chan struct{})
	go func() {
		d.Run(func() bool { return false })
		close(done)
	}()

	frame, ok := d.Frames().Pop()
	require.True(t, ok)
	assert.Equal(t, "kept", string(frame.Data))

	packets.Abort()
	<-done
}

// TestVideoDecoderRunReleasesReservationOnPtsError exercises a per-frame
// error continue path the same way: a frame whose PresentationOffset fails
// must not leave a dangling reservation that panics the next
// GetWritableFrame call.
func TestVideoDecoderRunReleasesReservationOnPtsError(t *testing.T) {
	packets := queue.NewPacketQueue(4)
	packets.Start()
	serial := packets.Serial()
	require.True(t, packets.Push(media.Packet{Serial: serial, IsKeyframe: true}, 0))
	require.True(t, packets.Push(media.Packet{Serial: serial, IsKeyframe: true}, 0))

	// fakeVideoFrame.PresentationOffset failing on the first frame exercises
	// Run's presOffset error continue path the same way a decode failure
	// would: admitPacket has already passed and GetWritableFrame has already
	// reserved a slot by the time that error is seen.
	stream := &fakeVideoStream{frames: []videoFrameReader{
		fakeVideoFrame{data: []byte("x"), err: errors.New("bad pts")},
		fakeVideoFrame{data: []byte("kept")},
	}}
	d := newTestVideoDecoder(stream, packets)

	done := make(chan struct{})
	go func() {
		d.Run(func() bool { return false })
		close(done)
	}()

	frame, ok := d.Frames().Pop()
	require.True(t, ok)
	assert.Equal(t, "kept", string(frame.Data))

	packets.Abort()
	<-done
}
