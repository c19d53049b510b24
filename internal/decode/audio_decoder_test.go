package decode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeS16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestAudioFormatName(t *testing.T) {
	assert.Equal(t, "s16", audioFormatName(true))
	assert.Equal(t, "s16p", audioFormatName(false))
}

func TestBytesToSampleCount(t *testing.T) {
	data := makeS16(1, 2, 3, 4) // 4 mono samples, 8 bytes
	assert.Equal(t, float64(4), bytesToSampleCount(len(data), 1))
	assert.Equal(t, float64(2), bytesToSampleCount(len(data), 2))
}

func TestDeinterleave16ReordersChannelBlocks(t *testing.T) {
	// stereo: L0 R0 L1 R1 L2 R2
	data := makeS16(10, -10, 20, -20, 30, -30)
	out := deinterleave16(data, 2)

	left := []int16{readS16(out, 0), readS16(out, 2), readS16(out, 4)}
	right := []int16{readS16(out, 6), readS16(out, 8), readS16(out, 10)}
	assert.Equal(t, []int16{10, 20, 30}, left)
	assert.Equal(t, []int16{-10, -20, -30}, right)
}

func TestDeinterleave16IsNoOpForMono(t *testing.T) {
	data := makeS16(1, 2, 3)
	assert.Equal(t, data, deinterleave16(data, 1))
}

func TestLinearResamplerShrinksSampleCountWhenSpeedingUp(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i)
	}
	data := makeS16(samples...)

	r := newLinearResampler(1, 2.0)
	out := r.process(data)
	require.Less(t, len(out), len(data))
	assert.InDelta(t, len(data)/2, len(out), 4)
}

func TestLinearResamplerGrowsSampleCountWhenSlowingDown(t *testing.T) {
	samples := make([]int16, 50)
	for i := range samples {
		samples[i] = int16(i)
	}
	data := makeS16(samples...)

	r := newLinearResampler(1, 0.5)
	out := r.process(data)
	require.Greater(t, len(out), len(data))
}

func TestLinearResamplerAtUnitSpeedPreservesLength(t *testing.T) {
	data := makeS16(1, 2, 3, 4, 5, 6, 7, 8)
	r := newLinearResampler(2, 1.0)
	out := r.process(data)
	assert.Equal(t, len(data), len(out))
}
