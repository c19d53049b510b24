package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func TestDataToAccessUnitSplitsAnnexB(t *testing.T) {
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	au := dataToAccessUnit(annexB(sps, pps))
	require.Len(t, au, 2)
	assert.Equal(t, sps, au[0])
	assert.Equal(t, pps, au[1])
}

func TestDataToAccessUnitFallsBackToRawNALU(t *testing.T) {
	raw := []byte{0x41, 0xAA, 0xBB}
	au := dataToAccessUnit(raw)
	require.Len(t, au, 1)
	assert.Equal(t, raw, au[0])
}

func TestH264ParamsFindsSPSAndPPS(t *testing.T) {
	sps := []byte{0x67, 0x01}
	pps := []byte{0x68, 0x02}
	slice := []byte{0x65, 0x03}
	gotSPS, gotPPS := h264Params([][]byte{sps, pps, slice})
	assert.Equal(t, sps, gotSPS)
	assert.Equal(t, pps, gotPPS)
}

func TestExtractAACFramesStripsADTSHeader(t *testing.T) {
	raw := []byte{0x11, 0x22, 0x33}
	frameLen := len(raw) + 7
	adts := []byte{0xFF, 0xF1, 0x4C, 0x80, byte(frameLen >> 3), byte(frameLen&0x07)<<5 | 0x1F, 0x00}
	adts = append(adts, raw...)

	frames := extractAACFrames(adts)
	require.Len(t, frames, 1)
	assert.Equal(t, raw, frames[0])
}

func TestExtractAACFramesPassesThroughRawAAC(t *testing.T) {
	raw := []byte{0x11, 0x22, 0x33}
	frames := extractAACFrames(raw)
	require.Len(t, frames, 1)
	assert.Equal(t, raw, frames[0])
}
