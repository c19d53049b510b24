package media

import "time"

// VideoFrame is a single decoded picture, either in system memory (after
// TransferToHost, or when no hardware accelerator is in play) or still
// referencing a hardware surface (spec §4.6/§4.7).
type VideoFrame struct {
	PTS      time.Duration
	Duration time.Duration
	Width    int
	Height   int
	Format   string // matches mediacore.ImageFormat's string values
	// Data holds planar or packed pixel data once resident in system memory.
	// Nil when Hardware is true and the frame has not yet been transferred.
	Data    []byte
	Stride  int
	Serial  int32
	Hardware bool
	// HWSurface is the opaque hardware-specific handle (e.g. a CUDA device
	// pointer or a D3D11 texture view) when Hardware is true.
	HWSurface any
}

// AudioFrame is a single decoded block of PCM samples (spec §4.7).
type AudioFrame struct {
	PTS        time.Duration
	Duration   time.Duration
	SampleRate int
	Channels   int
	Format     string // matches mediacore.AudioSampleFormat's string values
	Data       []byte
	Serial     int32
}
