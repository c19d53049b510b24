package clock

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockInvalidUntilSet(t *testing.T) {
	c := New()
	assert.Equal(t, StateInvalid, c.State())
	assert.True(t, math.IsNaN(c.Get()))
}

func TestClockGetAdvancesWithWallTime(t *testing.T) {
	base := time.Now()
	now := base
	c := New()
	c.nowFn = func() time.Time { return now }

	c.Set(10.0, 1)
	require.Equal(t, StateValid, c.State())
	assert.InDelta(t, 10.0, c.Get(), 1e-9)

	now = base.Add(2 * time.Second)
	assert.InDelta(t, 12.0, c.Get(), 1e-9)
}

func TestClockSpeedScalesElapsedTime(t *testing.T) {
	base := time.Now()
	now := base
	c := New()
	c.nowFn = func() time.Time { return now }
	c.Set(0, 1)
	c.SetSpeed(2.0)

	now = base.Add(1 * time.Second)
	assert.InDelta(t, 2.0, c.Get(), 1e-9)
}

// TestClockSetSpeedIsContinuous verifies property (8): after SetSpeed, Get()
// does not jump at the instant of the speed change.
func TestClockSetSpeedIsContinuous(t *testing.T) {
	base := time.Now()
	now := base
	c := New()
	c.nowFn = func() time.Time { return now }

	c.Set(5.0, 1)
	now = base.Add(3 * time.Second)
	before := c.Get()
	c.SetSpeed(4.0)
	after := c.Get()

	assert.InDelta(t, before, after, 0.001, "Get() must not step by more than 1ms across a speed change")
}

func TestClockPauseFreezesAndResumes(t *testing.T) {
	base := time.Now()
	now := base
	c := New()
	c.nowFn = func() time.Time { return now }

	c.Set(1.0, 1)
	now = base.Add(1 * time.Second)
	c.SetPaused(true)
	frozen := c.Get()
	assert.InDelta(t, 2.0, frozen, 1e-9)

	now = base.Add(5 * time.Second) // time passes while paused
	assert.InDelta(t, frozen, c.Get(), 1e-9, "paused clock must not advance")

	c.SetPaused(false)
	now = base.Add(6 * time.Second)
	assert.InDelta(t, frozen+1.0, c.Get(), 1e-9)
}

func TestClockCalibrateRecalibratesLargeDrift(t *testing.T) {
	base := time.Now()
	now := base
	c := New()
	c.nowFn = func() time.Time { return now }

	c.Set(0, 1)
	// force a large drift value directly (simulating runaway speed scaling
	// without intervening Set calls)
	storeF64(&c.ptsDrift, 100.0)

	c.Calibrate()
	assert.LessOrEqual(t, math.Abs(loadF64(&c.ptsDrift)), recalibrateThresholdSeconds+1e-6)
}

func TestClockSerialTracksLastSet(t *testing.T) {
	c := New()
	c.Set(0, 3)
	assert.EqualValues(t, 3, c.Serial())
	c.Reset(7)
	assert.EqualValues(t, 7, c.Serial())
	assert.Equal(t, StateInvalid, c.State())
}
