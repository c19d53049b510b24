// Package sync implements the stream synchronization manager described in
// spec §4.3.2: three virtual clocks (audio/video/external), master-clock
// selection, per-frame delay computation with EMA-smoothed drift, and the
// drop/duplicate decision for video pacing.
//
// Grounded on spec §4.3.2's numbered algorithm and on the EMA-smoothing
// idiom already implicit in the teacher's position-tracking side effects
// (erparts-go-avebi/controller_yes_audio.go noLockPosition), generalized
// into the full threshold/alpha/duplicate computation.
package sync

import (
	"math"
	"sync"

	"github.com/kestrelmedia/mediacore/internal/clock"
)

// MasterClock selects which of the three clocks drives playback pacing.
type MasterClock int

const (
	MasterAudio MasterClock = iota
	MasterVideo
	MasterExternal
)

// Params collects the tunables spec §4.3.2 lists for the sync manager.
type Params struct {
	SyncThreshold float64 // seconds, clamped to [0.005, 0.050]
	MaxDrift      float64 // seconds
	EMAAlpha      float64 // base alpha, clamped internally to <=0.9
	Adaptive      bool
	Master        MasterClock
}

// DefaultParams returns sensible defaults within the spec's bounds.
func DefaultParams() Params {
	return Params{
		SyncThreshold: 0.010,
		MaxDrift:      1.0,
		EMAAlpha:      0.2,
		Adaptive:      true,
		Master:        MasterAudio,
	}
}

const (
	minSyncThreshold = 0.005
	maxSyncThreshold = 0.050
	maxAlpha         = 0.9
)

func clampThreshold(v float64) float64 {
	if v < minSyncThreshold {
		return minSyncThreshold
	}
	if v > maxSyncThreshold {
		return maxSyncThreshold
	}
	return v
}

// qualityCounters accumulates drift-quality statistics for periodic
// reporting (spec: "every 500 samples a quality snapshot is emitted").
type qualityCounters struct {
	good, poor    int
	sumDrift      float64
	maxDrift      float64
	samples       int
}

// QualitySnapshot is the periodic report spec §4.3.2 describes.
type QualitySnapshot struct {
	Good, Poor       int
	AverageDrift     float64
	MaxDrift         float64
}

const samplesPerSnapshot = 500

// Manager is the StreamSyncManager of spec §4.3.2.
type Manager struct {
	params Params

	audioClock    *clock.Clock
	videoClock    *clock.Clock
	externalClock *clock.Clock

	mu sync.Mutex

	smoothedVideoDrift float64
	lastVideoDriftSign int // -1, 0, +1
	avgVideoDelayMs    float64
	hasAvgVideoDelay   bool

	smoothedAudioDrift float64

	quality qualityCounters

	onQualitySnapshot func(QualitySnapshot)
}

// New creates a Manager with its three clocks already allocated.
func New(params Params) *Manager {
	params.SyncThreshold = clampThreshold(params.SyncThreshold)
	if params.EMAAlpha <= 0 || params.EMAAlpha > maxAlpha {
		params.EMAAlpha = 0.2
	}
	return &Manager{
		params:        params,
		audioClock:    clock.New(),
		videoClock:    clock.New(),
		externalClock: clock.New(),
	}
}

func (m *Manager) AudioClock() *clock.Clock    { return m.audioClock }
func (m *Manager) VideoClock() *clock.Clock    { return m.videoClock }
func (m *Manager) ExternalClock() *clock.Clock { return m.externalClock }

// SetMaster changes which clock drives GetMasterClock.
func (m *Manager) SetMaster(master MasterClock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.Master = master
}

// OnQualitySnapshot registers a callback invoked every 500 drift samples.
func (m *Manager) OnQualitySnapshot(fn func(QualitySnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onQualitySnapshot = fn
}

// UpdateAudioClock forwards to the audio clock (spec: update_audio_clock).
func (m *Manager) UpdateAudioClock(pts float64, serial int32) { m.audioClock.Set(pts, serial) }

// UpdateVideoClock forwards to the video clock.
func (m *Manager) UpdateVideoClock(pts float64, serial int32) { m.videoClock.Set(pts, serial) }

// UpdateExternalClock forwards to the external clock, which the controller
// advances independently (it has no packet-queue serial of its own, but we
// accept one for interface symmetry; external consumers typically pass 0).
func (m *Manager) UpdateExternalClock(pts float64, serial int32) { m.externalClock.Set(pts, serial) }

// GetMasterClock returns the selected master clock's current time.
func (m *Manager) GetMasterClock() float64 {
	m.mu.Lock()
	master := m.params.Master
	m.mu.Unlock()

	switch master {
	case MasterVideo:
		return m.videoClock.Get()
	case MasterExternal:
		return m.externalClock.Get()
	default:
		return m.audioClock.Get()
	}
}

// VideoDelayResult is the outcome of ComputeVideoDelay.
type VideoDelayResult struct {
	// DelayMs is the number of milliseconds the caller should wait before
	// presenting the frame, already folded into the running average.
	DelayMs float64
	// Drop reports a frame lagging the master badly enough to skip display.
	Drop bool
	// Duplicate reports a frame far enough ahead of the master that the
	// previous frame should be shown an extra time to fill the gap.
	Duplicate bool
}

// ComputeVideoDelay implements the seven-step algorithm of spec §4.3.2.
func (m *Manager) ComputeVideoDelay(framePts, frameDurationSeconds, baseDelayMs, speed float64) VideoDelayResult {
	if speed <= 0 {
		speed = 1
	}

	master := m.GetMasterClock()
	diff := framePts - master

	m.mu.Lock()
	defer m.mu.Unlock()

	// step 2: clamped EMA with direction-change doubling
	sign := 0
	switch {
	case diff > 0:
		sign = 1
	case diff < 0:
		sign = -1
	}
	alpha := m.params.EMAAlpha
	maxStep := math.Abs(diff-m.smoothedVideoDrift) + 1 // unclamped reference
	if sign != 0 && m.lastVideoDriftSign != 0 && sign != m.lastVideoDriftSign {
		alpha = math.Min(alpha*2, maxAlpha)
		maxStep *= 2
	}
	proposed := m.smoothedVideoDrift + alpha*(diff-m.smoothedVideoDrift)
	step := proposed - m.smoothedVideoDrift
	if math.Abs(step) > maxStep {
		if step > 0 {
			step = maxStep
		} else {
			step = -maxStep
		}
	}
	m.smoothedVideoDrift += step
	clampBound := 0.2 * math.Min(speed, 4)
	if m.smoothedVideoDrift > clampBound {
		m.smoothedVideoDrift = clampBound
	} else if m.smoothedVideoDrift < -clampBound {
		m.smoothedVideoDrift = -clampBound
	}
	if sign != 0 {
		m.lastVideoDriftSign = sign
	}
	drift := m.smoothedVideoDrift
	m.recordQualityLocked(drift)

	// step 3
	threshold := m.params.SyncThreshold
	if m.params.Adaptive {
		threshold = m.computeAdaptiveThresholdLocked()
	}
	threshold /= speed

	result := VideoDelayResult{DelayMs: baseDelayMs}

	// step 4: hard drop
	if drift < -threshold*3 && frameDurationSeconds < (0.033/speed) {
		result.Drop = true
		m.avgVideoDelayMs = 0.95*m.avgVideoDelayMs + 0.05*result.DelayMs
		m.hasAvgVideoDelay = true
		return result
	}

	// step 5
	delay := baseDelayMs
	if math.Abs(drift) > threshold {
		if drift > 0 {
			delay += drift * 1000 / speed
		} else {
			delay -= math.Abs(drift) * 1000 * math.Min(1, 0.5*speed)
		}
		if delay < 0 {
			delay = 0
		}
	}
	result.DelayMs = delay

	// step 6: duplicate
	if drift > threshold*3 && frameDurationSeconds > (0.020/speed) {
		result.Duplicate = true
	}

	// step 7: running average
	if m.hasAvgVideoDelay {
		m.avgVideoDelayMs = 0.95*m.avgVideoDelayMs + 0.05*delay
	} else {
		m.avgVideoDelayMs = delay
		m.hasAvgVideoDelay = true
	}

	return result
}

// AverageVideoDelayMs returns the smoothed running average from step 7.
func (m *Manager) AverageVideoDelayMs() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgVideoDelayMs
}

// ComputeAudioDrift implements the "simpler drift toward the master" path
// for audio described in spec §4.3.2: same EMA smoothing, no drop/dup
// decisions. The committed pacing behavior (DESIGN.md Open Question 3)
// uses base_delay directly rather than this smoothed value for scheduling,
// and the good/poor quality counters track video drift only; the smoothed
// audio drift is read only by computeAdaptiveThresholdLocked. No code in
// this module calls ComputeAudioDrift.
func (m *Manager) ComputeAudioDrift(framePts float64) float64 {
	master := m.GetMasterClock()
	diff := framePts - master

	m.mu.Lock()
	defer m.mu.Unlock()
	m.smoothedAudioDrift += m.params.EMAAlpha * (diff - m.smoothedAudioDrift)
	return m.smoothedAudioDrift
}

// computeAdaptiveThresholdLocked implements
// StreamSyncManager::computeAdaptiveThreshold: the base threshold widens
// with how far audio and video have been drifting lately, so a stream
// under sustained drift stops thrashing drop/duplicate decisions at a
// threshold it can't realistically hold. Must be called with m.mu held.
func (m *Manager) computeAdaptiveThresholdLocked() float64 {
	avgDrift := (math.Abs(m.smoothedVideoDrift) + math.Abs(m.smoothedAudioDrift)) / 2
	return clampThreshold(m.params.SyncThreshold + avgDrift*0.5)
}

// recordQualityLocked updates the good/poor buckets and fires the periodic
// snapshot callback. Must be called with m.mu held.
func (m *Manager) recordQualityLocked(drift float64) {
	m.quality.samples++
	abs := math.Abs(drift)
	if abs <= m.params.SyncThreshold {
		m.quality.good++
	} else {
		m.quality.poor++
	}
	m.quality.sumDrift += abs
	if abs > m.quality.maxDrift {
		m.quality.maxDrift = abs
	}

	if m.quality.samples%samplesPerSnapshot == 0 && m.onQualitySnapshot != nil {
		snap := QualitySnapshot{
			Good:         m.quality.good,
			Poor:         m.quality.poor,
			AverageDrift: m.quality.sumDrift / float64(m.quality.samples),
			MaxDrift:     m.quality.maxDrift,
		}
		fn := m.onQualitySnapshot
		go fn(snap)
	}
}
