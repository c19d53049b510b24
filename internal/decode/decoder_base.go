// Package decode implements the video/audio decoder worker loops of spec
// §4.6/§4.7: pop a packet, decode it, convert it to the configured output
// format, publish it to a frame queue, and pace presentation.
//
// Grounded on spec §4.6 steps 1-8 (shared with §4.7) for the scaffolding,
// and on erparts-go-avebi's decode loops (controller_yes_audio.go's
// decodeLoop reading via reisen's Stream.ReadVideoFrame/ReadAudioFrame,
// which performs the send_packet/receive_frame pair internally against
// whatever packet the demuxer has already routed to that stream) for how
// a reisen-backed decode step is actually invoked. Because reisen owns
// packet buffering per stream internally, this module's own PacketQueue
// pop is used for flow control, serial validation, and pre-buffer
// accounting rather than feeding raw bytes to libav directly; the decode
// call itself reads reisen's already-routed next packet for that stream.
package decode

import (
	"errors"
	"time"

	"github.com/kestrelmedia/mediacore/internal/media"
	"github.com/kestrelmedia/mediacore/internal/queue"
)

// recoveryIntervalMs is the sleep after a non-transient decode error,
// before the worker retries, per spec §4.6 step 7.
const recoveryIntervalMs = 3 * time.Millisecond

// preBufferPollInterval is the sleep between pre-buffer readiness checks,
// per spec §4.6 step 1.
const preBufferPollInterval = 10 * time.Millisecond

// packetPopTimeout is the per-iteration wait before re-checking abort/serial
// state, per spec §4.6 step 4.
const packetPopTimeout = 1 * time.Millisecond

// defaultMaxConsecutiveErrors is the consecutive-decode-error budget value,
// grounded on original_source/src/decoder/decoder_base.h's
// maxConsecutiveErrors_{5}. recordError counts errors in consecutiveErrs, but
// nothing in this package compares that count against this constant.
const defaultMaxConsecutiveErrors = 5

// defaultFrameQueueCapacity mirrors decoder_base.cpp's kFrameQueueDefaultSize.
const defaultFrameQueueCapacity = 3

// NotifyKind enumerates the decoder lifecycle events spec §4.6/§4.7 name.
type NotifyKind int

const (
	NotifyStarted NotifyKind = iota
	NotifyStopped
	NotifyCreateFailed
	NotifyFirstFrame
	NotifyError
	NotifyRecovery
)

// Notification is the payload passed to a Notifier callback.
type Notification struct {
	Kind        NotifyKind
	Description string
	Err         error
}

// Notifier receives decoder lifecycle notifications.
type Notifier func(Notification)

// ErrAborted names the condition in which the worker loop exits because its
// packet queue was aborted (stream closing). The loops in this package signal
// it by returning from Run; they do not return this value.
var ErrAborted = errors.New("decode: packet queue aborted")

// secondsToDuration converts a float seconds value, as reisen's
// PresentationOffset and frame-rate arithmetic naturally produce, into the
// time.Duration fields media.VideoFrame/media.AudioFrame carry.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// base holds the scaffolding shared between VideoDecoder and AudioDecoder:
// serial tracking, keyframe gating, pre-buffer wait, and error budgeting.
type base struct {
	notify Notifier

	localSerial      int32
	hasKeyframe      bool
	seekPosSeconds   float64
	firstFrameSeen   bool
	consecutiveErrs  int
	frameCount       uint64
	totalDecodeTime  time.Duration

	preBufferReady func() bool // nil once pre-buffering is not configured or already satisfied
}

func (b *base) emit(n Notification) {
	if b.notify != nil {
		b.notify(n)
	}
}

// waitPreBuffer blocks in 10ms increments until the configured readiness
// predicate is satisfied (spec §4.6 step 1), or abort is requested.
func (b *base) waitPreBuffer(aborted func() bool) {
	if b.preBufferReady == nil {
		return
	}
	for !b.preBufferReady() {
		if aborted() {
			return
		}
		time.Sleep(preBufferPollInterval)
	}
	b.preBufferReady = nil
}

// syncSerial compares the queue's current serial against the decoder's
// local copy; on mismatch it resets keyframe gating and seek-drop state and
// returns true so the caller can flush its codec and re-anchor its clock
// (spec §4.6 step 2).
func (b *base) syncSerial(queueSerial int32) bool {
	if queueSerial == b.localSerial {
		return false
	}
	b.localSerial = queueSerial
	b.hasKeyframe = false
	b.firstFrameSeen = false
	return true
}

// admitPacket applies the serial-drop and keyframe-gate rules shared by
// both decoders (spec §4.6 steps 5-6): stale packets are rejected outright,
// and until the first keyframe is seen, non-keyframe packets are dropped.
func (b *base) admitPacket(pkt media.Packet) bool {
	if pkt.Serial != b.localSerial {
		return false
	}
	if !b.hasKeyframe {
		if !pkt.IsKeyframe {
			return false
		}
		b.hasKeyframe = true
	}
	return true
}

// recordError increments the error budget counter and emits DecodeError;
// recordSuccess emits DecodeRecovery the first time a decode succeeds
// after one or more errors, then resets the counter.
func (b *base) recordError(err error) {
	b.consecutiveErrs++
	b.emit(Notification{Kind: NotifyError, Err: err, Description: "decode error"})
}

func (b *base) recordSuccess() {
	if b.consecutiveErrs > 0 {
		b.emit(Notification{Kind: NotifyRecovery, Description: "decode recovered"})
	}
	b.consecutiveErrs = 0
}

// noteFrame advances the frame counter and, every 100 frames, folds elapsed
// decode time into totalDecodeTime, per spec §4.6 step 12. It also emits
// DecodeFirstFrame exactly once.
func (b *base) noteFrame(decodeTook time.Duration) {
	b.frameCount++
	if b.frameCount%100 == 0 {
		b.totalDecodeTime += decodeTook
	}
	if !b.firstFrameSeen {
		b.firstFrameSeen = true
		b.emit(Notification{Kind: NotifyFirstFrame})
	}
}

// popNext pops the next packet from q, reacting to a serial change via
// onSerialChange before the attempt. It does NOT apply admitPacket: a
// reisen-backed decode step (Stream.ReadVideoFrame/ReadAudioFrame) consumes
// packets from the stream's own internal buffer in the exact order they were
// handed to it at demux time, so every packet popped here must still be
// decoded even when the caller will go on to discard the resulting frame —
// otherwise this queue's position and reisen's internal one desync. Callers
// apply admitPacket to the popped packet AFTER decoding, to decide whether to
// keep or discard the decoded frame. Returns (packet, true) once something
// was popped, or (_, false) once the queue is aborted.
func popNext(q *queue.PacketQueue, b *base, onSerialChange func()) (media.Packet, bool) {
	for {
		if q.IsAborted() {
			return media.Packet{}, false
		}
		if b.syncSerial(q.Serial()) && onSerialChange != nil {
			onSerialChange()
		}
		pkt, ok := q.Pop(int(packetPopTimeout / time.Millisecond))
		if !ok {
			if q.IsAborted() {
				return media.Packet{}, false
			}
			continue
		}
		return pkt, true
	}
}
