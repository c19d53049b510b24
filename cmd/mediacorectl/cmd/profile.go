package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrelmedia/mediacore"
)

// runProfile is an optional declarative overlay for mediacore.Config,
// letting a recurring probe/record run be described as a file instead of a
// long flag list.
type runProfile struct {
	HWAccel        string `yaml:"hw_accel"`
	HWDeviceIndex  int    `yaml:"hw_device_index"`
	DecodeVideo    *bool  `yaml:"decode_video"`
	DecodeAudio    *bool  `yaml:"decode_audio"`
	AudioInterleaved *bool `yaml:"audio_interleaved"`

	Reconnect struct {
		Enable       *bool `yaml:"enable"`
		MaxAttempts  int   `yaml:"max_attempts"`
		IntervalMs   int   `yaml:"interval_ms"`
	} `yaml:"reconnect"`

	PreBuffer struct {
		Enable         *bool `yaml:"enable"`
		VideoFrames    int   `yaml:"video_frames"`
		AudioPackets   int   `yaml:"audio_packets"`
		RequireBoth    *bool `yaml:"require_both"`
		AutoStartAfter int   `yaml:"auto_start_after_ms"`
	} `yaml:"prebuffer"`

	Speed float64 `yaml:"speed"`
}

// loadRunProfile reads and validates a YAML run-profile from path.
func loadRunProfile(path string) (*runProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run profile: %w", err)
	}
	var p runProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing run profile: %w", err)
	}
	if p.Speed < 0 {
		return nil, fmt.Errorf("run profile: speed must be >= 0 (0 means unset)")
	}
	return &p, nil
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

// applyTo overlays the profile's set fields onto cfg.
func (p *runProfile) applyTo(cfg *mediacore.Config) {
	if p.HWAccel != "" {
		cfg.HWAccelType = mediacore.HWAccelType(p.HWAccel)
	}
	cfg.HWDeviceIndex = p.HWDeviceIndex

	media := mediacore.DecodeAll
	if p.DecodeVideo != nil || p.DecodeAudio != nil {
		media = 0
		if boolOr(p.DecodeVideo, true) {
			media |= mediacore.DecodeVideo
		}
		if boolOr(p.DecodeAudio, true) {
			media |= mediacore.DecodeAudio
		}
	}
	cfg.DecodeMediaType = media

	if p.AudioInterleaved != nil {
		cfg.AudioInterleaved = *p.AudioInterleaved
	}

	cfg.EnableAutoReconnect = boolOr(p.Reconnect.Enable, cfg.EnableAutoReconnect)
	if p.Reconnect.MaxAttempts != 0 {
		cfg.MaxReconnectAttempts = p.Reconnect.MaxAttempts
	}
	if p.Reconnect.IntervalMs != 0 {
		cfg.ReconnectIntervalMs = p.Reconnect.IntervalMs
	}

	cfg.PreBuffer.Enable = boolOr(p.PreBuffer.Enable, cfg.PreBuffer.Enable)
	if p.PreBuffer.VideoFrames != 0 {
		cfg.PreBuffer.VideoFrames = p.PreBuffer.VideoFrames
	}
	if p.PreBuffer.AudioPackets != 0 {
		cfg.PreBuffer.AudioPackets = p.PreBuffer.AudioPackets
	}
	cfg.PreBuffer.RequireBoth = boolOr(p.PreBuffer.RequireBoth, cfg.PreBuffer.RequireBoth)
	if p.PreBuffer.AutoStartAfter != 0 {
		cfg.PreBuffer.AutoStartAfter = p.PreBuffer.AutoStartAfter
	}

	if p.Speed > 0 {
		cfg.Speed = p.Speed
	}
}

// buildConfig assembles a mediacore.Config from viper-backed defaults,
// overlaid by an optional --profile YAML file.
func buildConfig(profilePath string) (mediacore.Config, error) {
	cfg := mediacore.DefaultConfig()
	cfg.HWAccelType = mediacore.HWAccelType(ctlViper.GetString("hw.accel"))
	cfg.HWDeviceIndex = ctlViper.GetInt("hw.device_index")
	cfg.EnableAutoReconnect = ctlViper.GetBool("reconnect.enable")
	cfg.MaxReconnectAttempts = ctlViper.GetInt("reconnect.max_attempts")
	cfg.ReconnectIntervalMs = ctlViper.GetInt("reconnect.interval_ms")
	cfg.PreBuffer.Enable = ctlViper.GetBool("prebuffer.enable")
	cfg.PreBuffer.VideoFrames = ctlViper.GetInt("prebuffer.video_frames")
	cfg.PreBuffer.AudioPackets = ctlViper.GetInt("prebuffer.audio_packets")

	if profilePath != "" {
		p, err := loadRunProfile(profilePath)
		if err != nil {
			return cfg, err
		}
		p.applyTo(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
