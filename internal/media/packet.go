// Package media defines the plain value types that flow between the
// demuxer, decoders, and recorder once a `reisen` packet or frame has been
// read off the wire (spec §3 "Core Data Types").
//
// Grounded on zsiec-prism/media/frame.go's plain-struct style (no
// behavior, just fields consumers read directly) and on the
// reisen.Packet/reisen.VideoFrame/reisen.AudioFrame shapes the teacher
// consumes via Media.ReadPacket/Stream.ReadVideoFrame/ReadAudioFrame.
package media

import "time"

// StreamKind discriminates a packet's or frame's originating stream.
type StreamKind uint8

const (
	StreamVideo StreamKind = iota
	StreamAudio
)

// Packet is a single demuxed, still-encoded access unit queued between the
// demuxer's reader thread and a decoder's worker loop (spec §4.1).
type Packet struct {
	Kind       StreamKind
	StreamIdx  int
	Data       []byte
	PTS        time.Duration
	DTS        time.Duration
	Duration   time.Duration
	IsKeyframe bool
	Serial     int32
	// IsEOF marks a sentinel packet carrying no payload, enqueued by the
	// demuxer once a file source truly ends (spec §4.4): it tells a decoder
	// worker no more real packets are coming on this serial so it should
	// stop rather than block on an empty queue forever.
	IsEOF bool
}

// Size is the byte footprint PacketQueue uses for its running totals.
func (p Packet) Size() int { return len(p.Data) }
