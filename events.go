package mediacore

import (
	"time"

	"github.com/google/uuid"
)

// EventCode is the stable integer code carried by every emitted event
// (spec §6 "Event taxonomy (stable integer codes)").
type EventCode int

const (
	// Stream events.
	EventStreamOpening EventCode = iota + 1000
	EventStreamOpened
	EventStreamOpenFailed
	EventStreamClose
	EventStreamClosed
	EventStreamReadData
	EventStreamReadError
	EventStreamReadRecovery
	EventStreamEnded
	EventStreamLooped

	// Decode events.
	EventDecodeStarted EventCode = iota + 2000
	EventDecodeStopped
	EventDecodePaused
	EventDecodeCreateSuccess
	EventDecodeCreateFailed
	EventDecodeDestroy
	EventDecodeFirstFrame
	EventDecodeError
	EventDecodeRecovery

	// Seek events.
	EventSeekStarted EventCode = iota + 3000
	EventSeekSuccess
	EventSeekFailed

	// Recording events.
	EventRecordingStarted EventCode = iota + 4000
	EventRecordingStopped
	EventRecordingError
)

// EventHeader is embedded in every typed event payload (spec §6: "Each
// event carries timestamp, source, description, error_code, error_message
// plus type-specific fields").
type EventHeader struct {
	Code          EventCode
	Timestamp     time.Time
	Source        string
	SessionID     uuid.UUID
	Description   string
	ErrorCode     int
	ErrorMessage  string
}

// Event is the tagged-union interface every typed event satisfies; listeners
// type-switch on the concrete type (StreamEvent, DecoderEvent, SeekEvent,
// RecordingEvent, LoopEvent) to reach type-specific fields, per DESIGN NOTES
// "Dynamic-typed event payloads".
type Event interface {
	Header() EventHeader
}

// StreamEvent covers demuxer lifecycle events.
type StreamEvent struct {
	EventHeader
	// DurationSeconds is set on EventStreamOpened when the source is
	// indexable and carries a known total duration.
	DurationSeconds float64
	HasDuration     bool
}

func (e StreamEvent) Header() EventHeader { return e.EventHeader }

// DecoderEvent covers per-decoder lifecycle and error events.
type DecoderEvent struct {
	EventHeader
	MediaType MediaType
}

func (e DecoderEvent) Header() EventHeader { return e.EventHeader }

// SeekEvent covers controller seek attempts.
type SeekEvent struct {
	EventHeader
	TargetSeconds float64
}

func (e SeekEvent) Header() EventHeader { return e.EventHeader }

// RecordingEvent covers recorder lifecycle events.
type RecordingEvent struct {
	EventHeader
	Path string
}

func (e RecordingEvent) Header() EventHeader { return e.EventHeader }

// LoopEvent is emitted each time a file source restarts under Single/Infinite
// loop mode.
type LoopEvent struct {
	EventHeader
	LoopCount int
}

func (e LoopEvent) Header() EventHeader { return e.EventHeader }

// MediaType discriminates video/audio throughout the pipeline (spec §3).
type MediaType uint8

const (
	MediaVideo MediaType = iota
	MediaAudio
)

func (m MediaType) String() string {
	if m == MediaVideo {
		return "video"
	}
	return "audio"
}
