package decode

import (
	"time"

	"github.com/erparts/reisen"

	"github.com/kestrelmedia/mediacore/internal/hwaccel"
	"github.com/kestrelmedia/mediacore/internal/media"
	"github.com/kestrelmedia/mediacore/internal/queue"
	syncmgr "github.com/kestrelmedia/mediacore/internal/sync"
)

// VideoConfig configures a VideoDecoder (spec §4.6).
//
// reisen decodes and already performs the hardware-transfer/sws_scale step
// internally inside Stream.ReadVideoFrame, emitting frames as packed RGBA
// (see erparts-go-avebi/player.go's frame.Data()/ebiten.Image.WritePixels
// usage). TargetPixelFormat and Accelerator are therefore used for reporting
// only: each frame's Format is set to TargetPixelFormat and its Hardware flag
// is set when an Accelerator is configured. The decode loop performs no pixel
// conversion and makes no Accelerator calls.
type VideoConfig struct {
	TargetPixelFormat      string // default "yuv420p", spec §6; informational once reisen owns conversion
	FrameRateControl       bool
	EnableHardwareFallback bool
	Accelerator            hwaccel.Accelerator // optional, nil unless a backend was registered and requested
}

// DefaultVideoConfig returns the spec §6 defaults.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{TargetPixelFormat: "yuv420p", FrameRateControl: true, EnableHardwareFallback: true}
}

// videoFrameReader is the slice of *reisen.VideoFrame the decode loop
// touches. Declared here (rather than depended on directly) so tests can
// substitute a fake without constructing a real reisen decode context.
type videoFrameReader interface {
	Data() []byte
	PresentationOffset() (time.Duration, error)
}

// videoStreamReader is the slice of *reisen.VideoStream the decode loop
// touches, for the same reason as videoFrameReader.
type videoStreamReader interface {
	ReadVideoFrame() (videoFrameReader, bool, error)
	FrameRate() (int, int)
	Width() int
	Height() int
}

// reisenVideoStream adapts *reisen.VideoStream to videoStreamReader. reisen's
// ReadVideoFrame returns a concrete *reisen.VideoFrame rather than an
// interface, so Go's structural typing can't match it to videoStreamReader
// directly; this thin wrapper bridges the two without reisen itself needing
// to know about this package's test seam.
type reisenVideoStream struct{ s *reisen.VideoStream }

func (r reisenVideoStream) ReadVideoFrame() (videoFrameReader, bool, error) {
	f, ok, err := r.s.ReadVideoFrame()
	if f == nil {
		return nil, ok, err
	}
	return f, ok, err
}

func (r reisenVideoStream) FrameRate() (int, int) { return r.s.FrameRate() }
func (r reisenVideoStream) Width() int            { return r.s.Width() }
func (r reisenVideoStream) Height() int           { return r.s.Height() }

// VideoDecoder runs the spec §4.6 worker loop against a reisen.VideoStream.
type VideoDecoder struct {
	base

	stream  videoStreamReader
	packets *queue.PacketQueue
	frames  *queue.FrameQueue[media.VideoFrame]
	syncMgr *syncmgr.Manager
	cfg     VideoConfig

	speedFn func() float64 // current playback speed, supplied by the composition root

	lastFrameTime time.Time
	haveLastFrame bool
}

// NewVideoDecoder wires a video worker against its packet source and output
// frame queue. speedFn is polled once per published frame for pacing.
func NewVideoDecoder(stream *reisen.VideoStream, packets *queue.PacketQueue, syncMgr *syncmgr.Manager, cfg VideoConfig, notify Notifier, speedFn func() float64) *VideoDecoder {
	if speedFn == nil {
		speedFn = func() float64 { return 1.0 }
	}
	return &VideoDecoder{
		base:    base{notify: notify},
		stream:  reisenVideoStream{s: stream},
		packets: packets,
		frames:  queue.NewFrameQueue[media.VideoFrame](defaultFrameQueueCapacity, false),
		syncMgr: syncMgr,
		cfg:     cfg,
		speedFn: speedFn,
	}
}

// Frames returns the output frame queue video consumers drain.
func (d *VideoDecoder) Frames() *queue.FrameQueue[media.VideoFrame] { return d.frames }

// SetSeekPos installs the seek watermark; frames with pts below it are
// dropped until a frame at or past it is kept (spec §4.6 step 10).
func (d *VideoDecoder) SetSeekPos(seconds float64) { d.seekPosSeconds = seconds }

// SetPreBufferGate installs the readiness predicate the loop blocks on
// before decoding starts (spec §4.6 step 1).
func (d *VideoDecoder) SetPreBufferGate(ready func() bool) { d.preBufferReady = ready }

// Run executes the worker loop until the packet queue is aborted. Intended
// to be launched as its own goroutine by the composition root.
func (d *VideoDecoder) Run(aborted func() bool) {
	defer d.frames.SetAbortStatus(true)
	d.localSerial = d.packets.Serial()
	d.frames.SetSerial(d.localSerial)
	if d.syncMgr != nil {
		d.syncMgr.UpdateVideoClock(0, d.localSerial)
	}

	for {
		d.waitPreBuffer(aborted)
		if aborted() {
			return
		}

		if d.syncSerial(d.packets.Serial()) {
			d.frames.SetSerial(d.localSerial)
			d.haveLastFrame = false
			if d.syncMgr != nil {
				d.syncMgr.UpdateVideoClock(0, d.localSerial)
			}
		}

		slot := d.frames.GetWritableFrame()
		if slot == nil {
			return
		}

		pkt, ok := popNext(d.packets, &d.base, nil)
		if !ok {
			d.frames.ReleaseWritableFrame()
			return
		}
		if pkt.IsEOF {
			d.frames.ReleaseWritableFrame()
			if pkt.Serial == d.localSerial {
				// current-generation sentinel: no more packets are coming
				// on this serial, so stop rather than block forever.
				return
			}
			// a stale sentinel from before a loop-restart flush; it was
			// never fed to reisen, so it must never reach ReadVideoFrame
			// below or the queue's read position desyncs from reisen's own.
			continue
		}

		frame, found, err := d.stream.ReadVideoFrame()
		if err != nil {
			d.frames.ReleaseWritableFrame()
			d.recordError(err)
			time.Sleep(recoveryIntervalMs)
			continue
		}
		if !found || frame == nil {
			d.frames.ReleaseWritableFrame()
			continue
		}
		d.recordSuccess()

		if !d.admitPacket(pkt) {
			d.frames.ReleaseWritableFrame()
			continue
		}

		presOffset, err := frame.PresentationOffset()
		if err != nil {
			d.frames.ReleaseWritableFrame()
			continue
		}
		ptsSeconds := presOffset.Seconds()
		frNum, frDenom := d.stream.FrameRate()
		durationSeconds := 1.0
		if frNum > 0 {
			durationSeconds = float64(frDenom) / float64(frNum)
		}

		if d.syncMgr != nil {
			d.syncMgr.UpdateVideoClock(ptsSeconds, pkt.Serial)
		}

		if ptsSeconds < d.seekPosSeconds {
			d.frames.ReleaseWritableFrame()
			continue
		}
		d.seekPosSeconds = 0

		out := media.VideoFrame{
			PTS:      secondsToDuration(ptsSeconds),
			Duration: secondsToDuration(durationSeconds),
			Width:    d.stream.Width(),
			Height:   d.stream.Height(),
			Format:   d.cfg.TargetPixelFormat,
			Data:     frame.Data(),
			Serial:   pkt.Serial,
		}
		if d.cfg.Accelerator != nil {
			out.Hardware = true
		}
		*slot = out

		var decodeTook time.Duration
		if d.cfg.FrameRateControl {
			decodeTook = d.pace(durationSeconds)
		}
		d.frames.CommitFrame()
		d.noteFrame(decodeTook)
	}
}

// pace sleeps to honor the per-frame interval scaled by speed (spec §4.6
// step 13), grounded on DecoderBase::calculateFrameDisplayTime's
// lastFrameTime anchoring.
func (d *VideoDecoder) pace(durationSeconds float64) time.Duration {
	speed := d.speedFn()
	if speed <= 0 {
		speed = 1.0
	}
	interval := time.Duration(durationSeconds / speed * float64(time.Second))

	now := time.Now()
	if !d.haveLastFrame {
		d.lastFrameTime = now
		d.haveLastFrame = true
		return 0
	}

	next := d.lastFrameTime.Add(interval)
	if next.After(now) {
		time.Sleep(next.Sub(now))
		d.lastFrameTime = next
		return interval
	}
	d.lastFrameTime = now
	return 0
}
