package mediacore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlaybackStateString(t *testing.T) {
	assert.Equal(t, "Stopped", Stopped.String())
	assert.Equal(t, "Playing", Playing.String())
	assert.Equal(t, "Paused", Paused.String())
	assert.Equal(t, "Unknown", invalidPlaybackState.String())
}
