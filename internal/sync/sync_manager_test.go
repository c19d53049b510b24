package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManagerMasterClockDefaultsToAudio(t *testing.T) {
	m := New(DefaultParams())
	m.UpdateAudioClock(5.0, 1)
	assert.InDelta(t, 5.0, m.GetMasterClock(), 1e-9)
}

func TestManagerSetMasterSwitchesClock(t *testing.T) {
	m := New(DefaultParams())
	m.UpdateAudioClock(1.0, 1)
	m.UpdateVideoClock(2.0, 1)
	m.SetMaster(MasterVideo)
	assert.InDelta(t, 2.0, m.GetMasterClock(), 1e-9)
}

func TestComputeVideoDelayNoDriftKeepsBaseDelay(t *testing.T) {
	m := New(DefaultParams())
	m.UpdateAudioClock(0, 1)
	result := m.ComputeVideoDelay(0, 0.033, 33.0, 1.0)
	assert.False(t, result.Drop)
	assert.False(t, result.Duplicate)
	assert.InDelta(t, 33.0, result.DelayMs, 1.0)
}

func TestComputeVideoDelayLargeLagDropsFrame(t *testing.T) {
	m := New(DefaultParams())
	m.UpdateAudioClock(10.0, 1)
	var result VideoDelayResult
	for i := 0; i < 10; i++ {
		result = m.ComputeVideoDelay(0, 0.01, 33.0, 1.0)
	}
	assert.True(t, result.Drop)
}

func TestComputeVideoDelayLargeLeadDuplicatesFrame(t *testing.T) {
	m := New(DefaultParams())
	m.UpdateAudioClock(0, 1)
	var result VideoDelayResult
	for i := 0; i < 10; i++ {
		result = m.ComputeVideoDelay(10.0, 0.033, 33.0, 1.0)
	}
	assert.True(t, result.Duplicate)
}

func TestQualitySnapshotFiresAfter500Samples(t *testing.T) {
	m := New(DefaultParams())
	m.UpdateAudioClock(0, 1)

	got := make(chan QualitySnapshot, 1)
	m.OnQualitySnapshot(func(s QualitySnapshot) {
		select {
		case got <- s:
		default:
		}
	})

	for i := 0; i < samplesPerSnapshot; i++ {
		m.ComputeVideoDelay(0, 0.033, 33.0, 1.0)
	}

	select {
	case snap := <-got:
		assert.Equal(t, samplesPerSnapshot, snap.Good+snap.Poor)
	case <-time.After(time.Second):
		t.Fatal("expected a quality snapshot after 500 samples")
	}
}

func TestNewClampsSyncThreshold(t *testing.T) {
	p := DefaultParams()
	p.SyncThreshold = 1.0
	m := New(p)
	assert.LessOrEqual(t, m.params.SyncThreshold, maxSyncThreshold)
}

func TestComputeVideoDelayAdaptiveWidensThresholdUnderSustainedDrift(t *testing.T) {
	p := DefaultParams()
	p.Adaptive = true
	adaptive := New(p)
	adaptive.UpdateAudioClock(0, 1)

	p.Adaptive = false
	fixed := New(p)
	fixed.UpdateAudioClock(0, 1)

	// Drive both managers through the same sustained small lag, -0.012s.
	// The fixed manager applies its delay correction once its smoothed
	// drift passes the fixed 0.010 threshold (after about nine calls). The
	// adaptive threshold widens with the smoothed drift; audio drift stays 0
	// here, so it reaches 0.010 + (0.012+0)/2*0.5 = 0.013 > 0.012 as drift
	// converges, and the adaptive manager never applies the correction.
	for i := 0; i < 50; i++ {
		adaptive.ComputeVideoDelay(-0.012, 0.033, 33.0, 1.0)
		fixed.ComputeVideoDelay(-0.012, 0.033, 33.0, 1.0)
	}

	assert.Greater(t, adaptive.AverageVideoDelayMs(), fixed.AverageVideoDelayMs())
}

func TestComputeAdaptiveThresholdLockedClampsToBounds(t *testing.T) {
	m := New(DefaultParams())
	m.smoothedVideoDrift = 10
	m.smoothedAudioDrift = 10
	assert.Equal(t, maxSyncThreshold, m.computeAdaptiveThresholdLocked())

	m.smoothedVideoDrift = 0
	m.smoothedAudioDrift = 0
	assert.Equal(t, m.params.SyncThreshold, m.computeAdaptiveThresholdLocked())
}
