// Package clock implements the monotonic virtual clock described in
// spec §3/§4.3.1: a pts-drift anchored timeline with speed, pause, and
// self-recalibration. The master-clock selector that chooses among clocks
// lives in the stream sync manager (internal/sync), not here.
//
// Hot-path fields are independently atomic, per DESIGN NOTES §9 ("Atomic
// clock math"), so Get reads without locking; the mutex is taken only by
// the writers that re-anchor the clock (Set, SetSpeed, SetPaused, Calibrate,
// Reset), mirroring the teacher's ptsBase/wallBase anchoring idiom in
// controller_stream.go's scheduleLoop, generalized into a full get/set/
// set_speed/calibrate state machine.
package clock

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// State reports the Clock's freshness, per spec §4.3.1.
type State int

const (
	StateInvalid State = iota // pts is NaN, never set
	StateValid
	StateStale // now - last_updated > staleAfter
)

const (
	recalibrateThresholdSeconds = 10.0
	staleAfter                  = 5 * time.Second
	calibrateEveryNSets         = 16
)

// processEpoch anchors Clock's internal "system time" axis so pts_drift can
// be expressed as a plain float64 difference instead of re-deriving it from
// time.Time on every Get(). Only relative offsets from this epoch matter.
var processEpoch = time.Now()

func secondsSinceEpoch(t time.Time) float64 { return t.Sub(processEpoch).Seconds() }

// Clock is a virtual clock anchored to a reference pts and wall-clock
// instant, advanced by elapsed wall time scaled by speed. See spec §3.
type Clock struct {
	mu sync.Mutex

	anchorPts   atomic.Int64 // float64 bits: pts at the anchor instant
	ptsDrift    atomic.Int64 // float64 bits: anchorPts - secondsSinceEpoch(anchorTime)
	lastUpdated atomic.Int64 // unix nanos of the anchor instant
	speed       atomic.Int64 // float64 bits
	serial      atomic.Int32
	paused      atomic.Bool
	hasPts      atomic.Bool

	setCount atomic.Uint32

	nowFn func() time.Time // overridable for tests
}

// New returns a Clock in the Invalid state with speed 1.0.
func New() *Clock {
	c := &Clock{nowFn: time.Now}
	c.speed.Store(f64bits(1.0))
	return c
}

func (c *Clock) now() time.Time { return c.nowFn() }

func f64bits(v float64) int64       { return int64(math.Float64bits(v)) }
func loadF64(a *atomic.Int64) float64 { return math.Float64frombits(uint64(a.Load())) }
func storeF64(a *atomic.Int64, v float64) { a.Store(f64bits(v)) }

// Get returns the clock's current logical time in seconds. If paused, it
// returns the frozen pts; otherwise it extrapolates from the anchor by
// elapsed wall time scaled by speed.
func (c *Clock) Get() float64 {
	if !c.hasPts.Load() {
		return math.NaN()
	}
	if c.paused.Load() {
		return loadF64(&c.anchorPts)
	}
	anchor := loadF64(&c.anchorPts)
	lastUpdated := time.Unix(0, c.lastUpdated.Load())
	speed := loadF64(&c.speed)
	elapsed := c.now().Sub(lastUpdated).Seconds()
	return anchor + elapsed*speed
}

// Set anchors the clock to pts at the current wall-clock instant, snapshotting
// pts_drift so future Get() calls extrapolate forward from here. Every
// calibrateEveryNSets call, Calibrate runs automatically (spec: "calibrate()
// is invoked every N updates").
func (c *Clock) Set(pts float64, serial int32) {
	now := c.now()
	c.mu.Lock()
	storeF64(&c.anchorPts, pts)
	storeF64(&c.ptsDrift, pts-secondsSinceEpoch(now))
	c.lastUpdated.Store(now.UnixNano())
	c.serial.Store(serial)
	c.hasPts.Store(true)
	n := c.setCount.Add(1)
	c.mu.Unlock()

	if n%calibrateEveryNSets == 0 {
		c.Calibrate()
	}
}

// SetSpeed changes playback speed while keeping Get() continuous at the
// instant of the change: it reads the current computed time under the old
// speed, re-anchors to that value at "now", then applies the new speed, so
// the very next Get() call resumes exactly where the old one left off with
// no discontinuity.
func (c *Clock) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	now := c.now()
	current := c.Get()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !math.IsNaN(current) {
		storeF64(&c.anchorPts, current)
		storeF64(&c.ptsDrift, current-secondsSinceEpoch(now))
		c.lastUpdated.Store(now.UnixNano())
	}
	storeF64(&c.speed, speed)
}

// Speed returns the current playback speed.
func (c *Clock) Speed() float64 { return loadF64(&c.speed) }

// Serial returns the packet-queue serial this clock was last anchored to.
func (c *Clock) Serial() int32 { return c.serial.Load() }

// SetPaused freezes (true) or resumes (false) the clock at its current
// logical time, per spec §4.3.1.
func (c *Clock) SetPaused(paused bool) {
	if paused {
		frozen := c.Get()
		c.mu.Lock()
		if !math.IsNaN(frozen) {
			storeF64(&c.anchorPts, frozen)
		}
		c.paused.Store(true)
		c.mu.Unlock()
		return
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	storeF64(&c.ptsDrift, loadF64(&c.anchorPts)-secondsSinceEpoch(now))
	c.lastUpdated.Store(now.UnixNano())
	c.paused.Store(false)
}

// Paused reports whether the clock is currently frozen.
func (c *Clock) Paused() bool { return c.paused.Load() }

// Calibrate rebuilds the anchor to the current computed time if pts_drift
// has wandered beyond recalibrateThresholdSeconds, per spec §3 ("if
// |pts_drift|>10s the clock self-recalibrates").
func (c *Clock) Calibrate() {
	if !c.hasPts.Load() || c.paused.Load() {
		return
	}
	drift := loadF64(&c.ptsDrift)
	if math.Abs(drift) <= recalibrateThresholdSeconds {
		return
	}

	now := c.now()
	current := c.Get()
	c.mu.Lock()
	defer c.mu.Unlock()
	storeF64(&c.anchorPts, current)
	storeF64(&c.ptsDrift, current-secondsSinceEpoch(now))
	c.lastUpdated.Store(now.UnixNano())
}

// State reports Invalid/Valid/Stale per spec §4.3.1.
func (c *Clock) State() State {
	if !c.hasPts.Load() {
		return StateInvalid
	}
	if c.paused.Load() {
		return StateValid
	}
	since := c.now().Sub(time.Unix(0, c.lastUpdated.Load()))
	if since > staleAfter {
		return StateStale
	}
	return StateValid
}

// Reset clears the clock back to Invalid state, anchored at the given
// packet-queue serial, per spec §3 ("reset on every seek, reopen, or resume
// of a real-time stream").
func (c *Clock) Reset(serial int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasPts.Store(false)
	storeF64(&c.anchorPts, 0)
	storeF64(&c.ptsDrift, 0)
	c.lastUpdated.Store(0)
	c.paused.Store(false)
	c.serial.Store(serial)
	c.setCount.Store(0)
}
