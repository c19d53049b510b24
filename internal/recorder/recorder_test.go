package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRebaseStateShiftsToZeroOnFirstPacket(t *testing.T) {
	var r rebaseState
	pts, dts := r.rebase(2*time.Second, 2*time.Second-10*time.Millisecond)
	assert.Equal(t, int64(0), pts)
	assert.LessOrEqual(t, dts, pts)
}

func TestRebaseStateShiftsSubsequentPacketsRelativeToBase(t *testing.T) {
	var r rebaseState
	r.rebase(1*time.Second, 1*time.Second)
	pts, _ := r.rebase(1500*time.Millisecond, 1500*time.Millisecond)
	assert.InDelta(t, outputTimescale/2, pts, 2)
}

func TestRebaseStateFloorsAtZeroForOutOfOrderPackets(t *testing.T) {
	var r rebaseState
	r.rebase(2*time.Second, 2*time.Second)
	pts, dts := r.rebase(1*time.Second, 1*time.Second)
	assert.Equal(t, int64(0), pts)
	assert.Equal(t, int64(0), dts)
}

func TestRebaseStateClampsDTSToPTS(t *testing.T) {
	var r rebaseState
	pts, dts := r.rebase(0, 0)
	assert.LessOrEqual(t, dts, pts)

	pts, dts = r.rebase(2*time.Second, 3*time.Second)
	assert.LessOrEqual(t, dts, pts)
}

func TestDurationToTicksConvertsAt90kHz(t *testing.T) {
	assert.Equal(t, int64(90000), durationToTicks(1*time.Second))
	assert.Equal(t, int64(0), durationToTicks(-time.Second))
}
