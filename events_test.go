package mediacore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventCodeRangesDoNotOverlap(t *testing.T) {
	assert.True(t, EventStreamOpening >= 1000 && EventStreamOpening < 2000)
	assert.True(t, EventDecodeStarted >= 2000 && EventDecodeStarted < 3000)
	assert.True(t, EventSeekStarted >= 3000 && EventSeekStarted < 4000)
	assert.True(t, EventRecordingStarted >= 4000 && EventRecordingStarted < 5000)
}

func TestTypedEventsSatisfyEventInterface(t *testing.T) {
	h := EventHeader{Code: EventStreamOpened}

	payloads := []Event{
		StreamEvent{EventHeader: h},
		DecoderEvent{EventHeader: h, MediaType: MediaVideo},
		SeekEvent{EventHeader: h, TargetSeconds: 1.5},
		RecordingEvent{EventHeader: h, Path: "out.ts"},
		LoopEvent{EventHeader: h, LoopCount: 3},
	}
	for _, e := range payloads {
		assert.Equal(t, EventStreamOpened, e.Header().Code)
	}
}
