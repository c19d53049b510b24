package decode

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/erparts/reisen"

	"github.com/kestrelmedia/mediacore/internal/media"
	"github.com/kestrelmedia/mediacore/internal/queue"
	syncmgr "github.com/kestrelmedia/mediacore/internal/sync"
)

// AudioConfig configures an AudioDecoder (spec §4.7).
type AudioConfig struct {
	Interleaved bool // true: L,R,L,R...; false: planar, one channel block after another
	// Channels mirrors the channel count reisen's audio context was opened
	// with (erparts-go-avebi/audio_context.go pins an ebitengine stereo L16
	// context); reisen does not expose a per-stream channel query, so this
	// is supplied by the composition root rather than read off the stream.
	Channels int
}

// DefaultAudioConfig returns the spec §6 default.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{Interleaved: true, Channels: 2}
}

// resampleKey caches a speed-scaled PCM resampler so repeated frames at a
// stable speed don't reallocate it, grounded on
// original_source/src/decoder/audio_decoder.cpp's initResampleContext/
// needResampleUpdate: rebuild only when |speed-lastSpeed| > 0.01.
type resampleKey struct {
	rate     int
	channels int
	speed    float64
}

// AudioDecoder runs the spec §4.7 worker loop against a reisen.AudioStream.
//
// reisen's Stream.ReadAudioFrame decodes and hands back interleaved 16-bit
// PCM (erparts-go-avebi/controller_yes_audio.go feeds frame.Data() straight
// into an ebitengine audio.Player expecting L16 interleaved samples), with
// no public swresample passthrough. Speed-scaled resampling here is
// therefore a small linear-interpolation PCM resampler written in Go rather
// than a literal port of the original's swr_convert call graph; it is
// rebuilt under the same "speed changed by more than 1%" rule and produces
// the same practical effect (more/fewer samples over the same pts span).
type AudioDecoder struct {
	base

	stream  *reisen.AudioStream
	packets *queue.PacketQueue
	frames  *queue.FrameQueue[media.AudioFrame]
	syncMgr *syncmgr.Manager
	cfg     AudioConfig

	realtime  bool
	speedFn   func() float64
	lastSpeed float64

	lastFrameTime time.Time
	haveLastFrame bool
}

// NewAudioDecoder wires an audio worker against its packet source and output
// frame queue.
func NewAudioDecoder(stream *reisen.AudioStream, packets *queue.PacketQueue, syncMgr *syncmgr.Manager, cfg AudioConfig, realtime bool, notify Notifier, speedFn func() float64) *AudioDecoder {
	if speedFn == nil {
		speedFn = func() float64 { return 1.0 }
	}
	return &AudioDecoder{
		base:      base{notify: notify},
		stream:    stream,
		packets:   packets,
		frames:    queue.NewFrameQueue[media.AudioFrame](defaultFrameQueueCapacity, false),
		syncMgr:   syncMgr,
		cfg:       cfg,
		realtime:  realtime,
		speedFn:   speedFn,
		lastSpeed: 1.0,
	}
}

// Frames returns the output frame queue audio consumers drain.
func (d *AudioDecoder) Frames() *queue.FrameQueue[media.AudioFrame] { return d.frames }

// SetSeekPos installs the seek watermark (spec §4.7 "Seeking").
func (d *AudioDecoder) SetSeekPos(seconds float64) { d.seekPosSeconds = seconds }

// SetPreBufferGate installs the readiness predicate the loop blocks on.
func (d *AudioDecoder) SetPreBufferGate(ready func() bool) { d.preBufferReady = ready }

// Run executes the worker loop until the packet queue is aborted.
func (d *AudioDecoder) Run(aborted func() bool) {
	defer d.frames.SetAbortStatus(true)
	d.localSerial = d.packets.Serial()
	d.frames.SetSerial(d.localSerial)
	if d.syncMgr != nil {
		d.syncMgr.UpdateAudioClock(0, d.localSerial)
	}
	if d.realtime {
		d.packets.Flush()
	}

	var resampler *linearResampler
	var resamplerKey resampleKey

	for {
		d.waitPreBuffer(aborted)
		if aborted() {
			return
		}

		if d.syncSerial(d.packets.Serial()) {
			d.frames.SetSerial(d.localSerial)
			d.haveLastFrame = false
			if d.syncMgr != nil {
				d.syncMgr.UpdateAudioClock(0, d.localSerial)
			}
		}

		pkt, ok := popNext(d.packets, &d.base, nil)
		if !ok {
			return
		}
		if pkt.IsEOF {
			if pkt.Serial == d.localSerial {
				// current-generation sentinel: no more packets are coming
				// on this serial, so stop rather than block forever.
				return
			}
			// a stale sentinel from before a loop-restart flush; it was
			// never fed to reisen, so it must never reach ReadAudioFrame
			// below or the queue's read position desyncs from reisen's own.
			continue
		}

		frame, found, err := d.stream.ReadAudioFrame()
		if err != nil {
			d.recordError(err)
			time.Sleep(recoveryIntervalMs)
			continue
		}
		if !found || frame == nil {
			continue
		}
		d.recordSuccess()

		if pkt.Serial != d.localSerial {
			continue
		}

		presOffset, err := frame.PresentationOffset()
		if err != nil {
			continue
		}
		ptsSeconds := presOffset.Seconds()
		if d.syncMgr != nil {
			d.syncMgr.UpdateAudioClock(ptsSeconds, pkt.Serial)
		}

		if ptsSeconds < d.seekPosSeconds {
			continue
		}
		d.seekPosSeconds = 0

		data := frame.Data()
		channels := d.cfg.Channels
		if channels <= 0 {
			channels = 2
		}
		rate := d.stream.SampleRate()

		speed := d.speedFn()
		if speed <= 0 {
			speed = 1.0
		}
		if math.Abs(speed-d.lastSpeed) > 0.01 {
			d.lastSpeed = speed
			resampler = nil
		}
		speed = d.lastSpeed

		durationSeconds := bytesToSampleCount(len(data), channels) / float64(rate)
		if speed != 1.0 {
			key := resampleKey{rate: rate, channels: channels, speed: speed}
			if resampler == nil || key != resamplerKey {
				resampler = newLinearResampler(channels, speed)
				resamplerKey = key
			}
			data = resampler.process(data)
			durationSeconds = bytesToSampleCount(len(data), channels) / (float64(rate) * speed)
		}

		if !d.cfg.Interleaved {
			data = deinterleave16(data, channels)
		}

		slot := d.frames.GetWritableFrame()
		if slot == nil {
			return
		}
		*slot = media.AudioFrame{
			PTS:        secondsToDuration(ptsSeconds),
			Duration:   secondsToDuration(durationSeconds),
			SampleRate: rate,
			Channels:   channels,
			Format:     audioFormatName(d.cfg.Interleaved),
			Data:       data,
			Serial:     pkt.Serial,
		}

		decodeTook := d.pace(durationSeconds * 1000)
		d.frames.CommitFrame()
		d.noteFrame(decodeTook)
	}
}

func audioFormatName(interleaved bool) string {
	if interleaved {
		return "s16"
	}
	return "s16p"
}

// pace mirrors DecoderBase::calculateFrameDisplayTime: anchor on the first
// frame, then sleep until lastFrameTime + duration/speed.
func (d *AudioDecoder) pace(durationMs float64) time.Duration {
	now := time.Now()
	if !d.haveLastFrame {
		d.lastFrameTime = now
		d.haveLastFrame = true
		return 0
	}
	interval := time.Duration(durationMs * float64(time.Millisecond))
	next := d.lastFrameTime.Add(interval)
	if next.After(now) {
		time.Sleep(next.Sub(now))
		d.lastFrameTime = next
		return interval
	}
	d.lastFrameTime = now
	return 0
}

func bytesToSampleCount(byteLen, channels int) float64 {
	if channels <= 0 {
		channels = 1
	}
	return float64(byteLen / 2 / channels) // 16-bit samples
}

// deinterleave16 rearranges L,R,L,R... 16-bit PCM into one contiguous block
// per channel (spec §4.7 "Planar<->interleaved coercion").
func deinterleave16(data []byte, channels int) []byte {
	if channels <= 1 || len(data) == 0 {
		return data
	}
	frames := len(data) / 2 / channels
	out := make([]byte, frames*channels*2)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			src := (f*channels + c) * 2
			dst := (c*frames + f) * 2
			out[dst] = data[src]
			out[dst+1] = data[src+1]
		}
	}
	return out
}

// linearResampler changes the apparent playback rate of interleaved 16-bit
// PCM by resampling sample count by 1/speed via linear interpolation,
// grounded on the original's swr-based speed scaling but implemented as a
// small pure-Go resampler since reisen does not expose swresample.
type linearResampler struct {
	channels int
	speed    float64
}

func newLinearResampler(channels int, speed float64) *linearResampler {
	if channels <= 0 {
		channels = 1
	}
	return &linearResampler{channels: channels, speed: speed}
}

func (r *linearResampler) process(data []byte) []byte {
	bytesPerFrame := 2 * r.channels
	inFrames := len(data) / bytesPerFrame
	if inFrames == 0 {
		return data
	}
	outFrames := int(float64(inFrames) / r.speed)
	if outFrames < 1 {
		outFrames = 1
	}
	out := make([]byte, outFrames*bytesPerFrame)
	for i := 0; i < outFrames; i++ {
		srcPos := float64(i) * r.speed
		i0 := int(srcPos)
		if i0 >= inFrames-1 {
			i0 = inFrames - 2
			if i0 < 0 {
				i0 = 0
			}
		}
		frac := srcPos - float64(i0)
		for c := 0; c < r.channels; c++ {
			s0 := readS16(data, (i0*r.channels+c)*2)
			s1 := readS16(data, ((i0+1)*r.channels+c)*2)
			v := float64(s0) + (float64(s1)-float64(s0))*frac
			writeS16(out, (i*r.channels+c)*2, int16(v))
		}
	}
	return out
}

func readS16(data []byte, offset int) int16 {
	if offset+2 > len(data) {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(data[offset : offset+2]))
}

func writeS16(data []byte, offset int, v int16) {
	if offset+2 > len(data) {
		return
	}
	binary.LittleEndian.PutUint16(data[offset:offset+2], uint16(v))
}
