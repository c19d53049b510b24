package mediacore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeMediaTypeBitmask(t *testing.T) {
	assert.True(t, DecodeAll.HasVideo())
	assert.True(t, DecodeAll.HasAudio())
	assert.True(t, DecodeVideo.HasVideo())
	assert.False(t, DecodeVideo.HasAudio())
	assert.False(t, DecodeAudio.HasVideo())
}

func TestImageFormatIsHardware(t *testing.T) {
	assert.True(t, FormatCUDA.IsHardware())
	assert.True(t, FormatVAAPI.IsHardware())
	assert.False(t, FormatYUV420P.IsHardware())
	assert.False(t, FormatUnknown.IsHardware())
}

func TestAudioSampleFormatIsPlanar(t *testing.T) {
	assert.True(t, SampleFltP.IsPlanar())
	assert.False(t, SampleFlt.IsPlanar())
	assert.False(t, SampleS16.IsPlanar())
}

func TestConfigValidateRejectsNonPositiveSpeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Speed = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidSpeed)

	cfg.Speed = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidSpeed)

	cfg.Speed = 1.5
	assert.NoError(t, cfg.Validate())
}

func TestClassifyRealtimeBySchemeAndManifest(t *testing.T) {
	cases := map[string]bool{
		"rtsp://camera.local/stream1":        true,
		"rtmp://ingest.example.com/app":      true,
		"udp://239.0.0.1:1234":               true,
		"srt://relay.example.com:9000":       true,
		"https://cdn.example.com/live/a.m3u8": true,
		"https://cdn.example.com/stream":     true,
		"https://cdn.example.com/movie.mp4":  false,
		"/local/path/video.mp4":              false,
		"file:///tmp/clip.mov":                false,
	}
	for url, want := range cases {
		assert.Equal(t, want, ClassifyRealtime(url), "url %q", url)
	}
}
