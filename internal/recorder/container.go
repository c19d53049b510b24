// Package recorder implements the spec §4.8 RealTimeStreamRecorder: remux
// live packets to a file with container auto-detection, codec compatibility
// pre-flight, and timestamp rebasing.
//
// Grounded on jmylchreest-tvarr's InputMuxer abstraction
// (internal/daemon/input_muxer.go) and its two concrete backends —
// ts_muxer.go wrapping mediacommon's mpegts.Writer, fmp4_muxer.go wrapping
// mediacommon's fmp4/mp4 packages — for how to drive a real muxing library
// per container family rather than hand-rolling container framing.
package recorder

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Container identifies one of the output container formats spec §4.8 names.
type Container string

const (
	ContainerMP4  Container = "mp4"
	ContainerAVI  Container = "avi"
	ContainerMKV  Container = "mkv"
	ContainerMOV  Container = "mov"
	ContainerFLV  Container = "flv"
	ContainerTS   Container = "ts"
	ContainerWebM Container = "webm"
	ContainerOGV  Container = "ogv"
)

var extToContainer = map[string]Container{
	".mp4":  ContainerMP4,
	".avi":  ContainerAVI,
	".mkv":  ContainerMKV,
	".mov":  ContainerMOV,
	".flv":  ContainerFLV,
	".ts":   ContainerTS,
	".webm": ContainerWebM,
	".ogv":  ContainerOGV,
}

// ErrUnsupportedContainer is returned when path's extension isn't one of the
// spec §4.8 containers.
var ErrUnsupportedContainer = fmt.Errorf("recorder: unsupported output container")

// DetectContainer maps a file path's extension to a Container (spec §4.8
// "container is auto-detected from extension").
func DetectContainer(path string) (Container, error) {
	ext := strings.ToLower(filepath.Ext(path))
	c, ok := extToContainer[ext]
	if !ok {
		return "", ErrUnsupportedContainer
	}
	return c, nil
}

// supportedVideoCodecs and supportedAudioCodecs mirror the spec §4.8 table
// verbatim; codec names are the lowercase identifiers the composition root
// uses throughout (matching reisen/ffmpeg naming).
var supportedVideoCodecs = map[Container]map[string]bool{
	ContainerMP4:  set("h264", "hevc", "mpeg4", "av1"),
	ContainerAVI:  set("h264", "mpeg4", "mjpeg"),
	ContainerMKV:  set("h264", "hevc", "vp8", "vp9", "av1"),
	ContainerMOV:  set("h264", "hevc", "prores"),
	ContainerFLV:  set("h264", "flv1"),
	ContainerTS:   set("h264", "hevc", "mpeg2"),
	ContainerWebM: set("vp8", "vp9", "av1"),
	ContainerOGV:  set("theora", "vp8"),
}

var supportedAudioCodecs = map[Container]map[string]bool{
	ContainerMP4:  set("aac", "mp3", "ac3", "eac3", "opus"),
	ContainerAVI:  set("mp3", "ac3", "pcm"),
	ContainerMKV:  set("aac", "mp3", "ac3", "opus", "flac"),
	ContainerMOV:  set("aac", "mp3", "pcm"),
	ContainerFLV:  set("aac", "mp3"),
	ContainerTS:   set("aac", "mp3", "ac3"),
	ContainerWebM: set("vorbis", "opus"),
	ContainerOGV:  set("vorbis", "opus", "flac"),
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// ValidateCompatibility implements spec §4.8's pre-flight check: every input
// stream's codec must be in the container's supported list (warn otherwise),
// and the container must admit the media types actually present. It never
// blocks recording — callers log the returned warnings and proceed, matching
// "warn otherwise" rather than "reject".
func ValidateCompatibility(c Container, videoCodec, audioCodec string) []string {
	var warnings []string
	if videoCodec != "" {
		if !supportedVideoCodecs[c][strings.ToLower(videoCodec)] {
			warnings = append(warnings, fmt.Sprintf("video codec %q is not in %s's supported set", videoCodec, c))
		}
	}
	if audioCodec != "" {
		if !supportedAudioCodecs[c][strings.ToLower(audioCodec)] {
			warnings = append(warnings, fmt.Sprintf("audio codec %q is not in %s's supported set", audioCodec, c))
		}
	}
	return warnings
}
