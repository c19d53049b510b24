package mediacore

import "strings"

// DecodeMediaType is a bitmask selecting which elementary streams the
// controller should open decoders for (spec §6).
type DecodeMediaType uint8

const (
	DecodeVideo DecodeMediaType = 1 << iota
	DecodeAudio
	DecodeAll = DecodeVideo | DecodeAudio
)

func (m DecodeMediaType) HasVideo() bool { return m&DecodeVideo != 0 }
func (m DecodeMediaType) HasAudio() bool { return m&DecodeAudio != 0 }

// HWAccelType enumerates the hardware acceleration backends a caller may
// request. Only Auto/None participate in real priority-ordered selection
// in this module; concrete backends are a collaborator per spec §1 Non-goals.
type HWAccelType string

const (
	HWAccelNone          HWAccelType = "none"
	HWAccelAuto          HWAccelType = "auto"
	HWAccelDXVA2         HWAccelType = "dxva2"
	HWAccelD3D11VA       HWAccelType = "d3d11va"
	HWAccelCUDA          HWAccelType = "cuda"
	HWAccelVAAPI         HWAccelType = "vaapi"
	HWAccelVDPAU         HWAccelType = "vdpau"
	HWAccelQSV           HWAccelType = "qsv"
	HWAccelVideoToolbox  HWAccelType = "videotoolbox"
)

// autoPriority is the fallback order spec §4.5 mandates for HWAccelAuto.
var autoPriority = []HWAccelType{
	HWAccelD3D11VA, HWAccelDXVA2, HWAccelCUDA, HWAccelQSV,
	HWAccelVAAPI, HWAccelVDPAU, HWAccelVideoToolbox,
}

// ImageFormat enumerates the pixel formats named in spec §6.
type ImageFormat string

const (
	FormatNV12         ImageFormat = "nv12"
	FormatNV21         ImageFormat = "nv21"
	FormatYUV420P      ImageFormat = "yuv420p"
	FormatYUV422P      ImageFormat = "yuv422p"
	FormatYUV444P      ImageFormat = "yuv444p"
	FormatRGB24        ImageFormat = "rgb24"
	FormatBGR24        ImageFormat = "bgr24"
	FormatRGBA         ImageFormat = "rgba"
	FormatBGRA         ImageFormat = "bgra"
	FormatDXVA2        ImageFormat = "dxva2"
	FormatD3D11VA      ImageFormat = "d3d11va"
	FormatCUDA         ImageFormat = "cuda"
	FormatVAAPI        ImageFormat = "vaapi"
	FormatVDPAU        ImageFormat = "vdpau"
	FormatQSV          ImageFormat = "qsv"
	FormatVideoToolbox ImageFormat = "videotoolbox"
	FormatUnknown      ImageFormat = "unknown"
)

// hardwareFormats are the pixel formats that denote hardware-resident
// surfaces rather than system-memory pixel data, used by the video decoder
// to decide whether a host transfer is required.
var hardwareFormats = map[ImageFormat]bool{
	FormatDXVA2: true, FormatD3D11VA: true, FormatCUDA: true,
	FormatVAAPI: true, FormatVDPAU: true, FormatQSV: true, FormatVideoToolbox: true,
}

func (f ImageFormat) IsHardware() bool { return hardwareFormats[f] }

// AudioSampleFormat enumerates the sample formats named in spec §6.
type AudioSampleFormat string

const (
	SampleU8    AudioSampleFormat = "u8"
	SampleS16   AudioSampleFormat = "s16"
	SampleS32   AudioSampleFormat = "s32"
	SampleFlt   AudioSampleFormat = "flt"
	SampleDbl   AudioSampleFormat = "dbl"
	SampleS64   AudioSampleFormat = "s64"
	SampleU8P   AudioSampleFormat = "u8p"
	SampleS16P  AudioSampleFormat = "s16p"
	SampleS32P  AudioSampleFormat = "s32p"
	SampleFltP  AudioSampleFormat = "fltp"
	SampleDblP  AudioSampleFormat = "dblp"
	SampleS64P  AudioSampleFormat = "s64p"
	SampleUnknown AudioSampleFormat = "unknown"
)

// planarFormats reports whether a sample format stores channels in
// separate planes (true) or interleaved in a single buffer (false).
var planarFormats = map[AudioSampleFormat]bool{
	SampleU8P: true, SampleS16P: true, SampleS32P: true,
	SampleFltP: true, SampleDblP: true, SampleS64P: true,
}

func (f AudioSampleFormat) IsPlanar() bool { return planarFormats[f] }

// PreBufferConfig configures the demuxer's pre-decode watermark (spec §4.4).
type PreBufferConfig struct {
	Enable          bool
	VideoFrames     int
	AudioPackets    int
	RequireBoth     bool
	AutoStartAfter  int // ms; 0 disables the timeout fallback
}

// HWContextCallbacks lets a caller supply/reclaim a foreign hardware device
// handle (spec §4.5); the shape of the handle is only known to the matching
// backend, so these are opaque function values from this module's point of view.
type HWContextCallbacks struct {
	Create func(accelType HWAccelType, deviceIndex int) (userContext any, err error)
	Free   func(userContext any)
}

// Config collects every tunable enumerated in spec §6.
type Config struct {
	EnableFrameRateControl bool
	Speed                  float64

	HWAccelType                HWAccelType
	HWDeviceIndex              int
	SWVideoOutFormat           ImageFormat
	RequireFrameInSystemMemory bool
	EnableHardwareFallback     bool
	HWContext                  HWContextCallbacks

	DecodeMediaType DecodeMediaType

	EnableAutoReconnect  bool
	MaxReconnectAttempts int
	ReconnectIntervalMs  int

	PreBuffer PreBufferConfig

	AudioInterleaved bool
}

// DefaultConfig returns the option defaults listed in spec §6.
func DefaultConfig() Config {
	return Config{
		EnableFrameRateControl: true,
		Speed:                  1.0,

		HWAccelType:                HWAccelAuto,
		HWDeviceIndex:              0,
		SWVideoOutFormat:           FormatYUV420P,
		RequireFrameInSystemMemory: false,
		EnableHardwareFallback:     true,

		DecodeMediaType: DecodeAll,

		EnableAutoReconnect:  true,
		MaxReconnectAttempts: 5,
		ReconnectIntervalMs:  3000,

		AudioInterleaved: true,
	}
}

// Validate checks the one invariant spec §3/§6 place on Config that can be
// checked without knowing the source: speed > 0. It does not know whether
// the eventual source is realtime, so speed!=1 is only rejected outright
// when non-positive — the "ignored on realtime" rule is enforced by the
// controller once it knows the source kind.
func (c Config) Validate() error {
	if c.Speed <= 0 {
		return ErrInvalidSpeed
	}
	return nil
}

// realtimeSchemes are the URL prefixes spec §6 classifies as live sources.
var realtimeSchemes = []string{"rtsp://", "rtmp://", "udp://", "tcp://", "srt://", "mms://"}

// ClassifyRealtime implements the URL-detection rule in spec §6: a scheme
// match is always realtime; http(s) is realtime only when it also looks
// like a live manifest/path.
func ClassifyRealtime(url string) bool {
	lower := strings.ToLower(url)
	for _, scheme := range realtimeSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return strings.Contains(lower, ".m3u8") ||
			strings.Contains(lower, "/live/") ||
			strings.Contains(lower, "stream")
	}
	return false
}
