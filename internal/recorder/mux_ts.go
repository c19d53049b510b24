package recorder

import (
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

const (
	tsVideoPID = 0x0100
	tsAudioPID = 0x0101
)

// muxWriter is the narrow surface the recorder's writer thread drives;
// concrete containers translate it onto a real mediacommon muxer. Grounded
// on jmylchreest-tvarr/internal/daemon/input_muxer.go's InputMuxer.
type muxWriter interface {
	WriteVideo(pts, dts int64, data []byte, isKeyframe bool) error
	WriteAudio(pts int64, data []byte) error
	Close() error
}

// tsMuxer backs ContainerTS via mediacommon's mpegts.Writer, grounded on
// jmylchreest-tvarr/internal/relay/ts_muxer.go.
type tsMuxer struct {
	w io.Writer

	videoCodec string
	audioCodec string

	videoTrack *mpegts.Track
	audioTrack *mpegts.Track
	muxer      *mpegts.Writer

	sps, pps        []byte
	vps, hsps, hpps []byte
	initialized     bool
}

func newTSMuxer(w io.Writer, videoCodec, audioCodec string) *tsMuxer {
	return &tsMuxer{w: w, videoCodec: videoCodec, audioCodec: audioCodec}
}

func (m *tsMuxer) videoMPEGTSCodec() mpegts.Codec {
	if m.videoCodec == "hevc" {
		return &mpegts.CodecH265{}
	}
	return &mpegts.CodecH264{}
}

func (m *tsMuxer) audioMPEGTSCodec() mpegts.Codec {
	switch m.audioCodec {
	case "ac3":
		return &mpegts.CodecAC3{SampleRate: 48000, ChannelCount: 2}
	case "eac3":
		return &mpegts.CodecEAC3{SampleRate: 48000, ChannelCount: 6}
	case "mp3":
		return &mpegts.CodecMPEG1Audio{}
	case "opus":
		return &mpegts.CodecOpus{ChannelCount: 2}
	default:
		return &mpegts.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
			Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 2,
		}}
	}
}

func (m *tsMuxer) ensureInitialized() error {
	if m.initialized {
		return nil
	}
	var tracks []*mpegts.Track
	if m.videoCodec != "" {
		m.videoTrack = &mpegts.Track{PID: tsVideoPID, Codec: m.videoMPEGTSCodec()}
		tracks = append(tracks, m.videoTrack)
	}
	if m.audioCodec != "" {
		m.audioTrack = &mpegts.Track{PID: tsAudioPID, Codec: m.audioMPEGTSCodec()}
		tracks = append(tracks, m.audioTrack)
	}
	m.muxer = &mpegts.Writer{W: m.w, Tracks: tracks}
	if err := m.muxer.Initialize(); err != nil {
		return fmt.Errorf("recorder: initializing mpegts writer: %w", err)
	}
	m.initialized = true
	return nil
}

func (m *tsMuxer) WriteVideo(pts, dts int64, data []byte, isKeyframe bool) error {
	if err := m.ensureInitialized(); err != nil {
		return err
	}
	if m.videoTrack == nil {
		return nil
	}
	au := dataToAccessUnit(data)
	if len(au) == 0 {
		return nil
	}
	if _, isH265 := m.videoTrack.Codec.(*mpegts.CodecH265); isH265 {
		if vps, sps, pps := h265Params(au); len(sps) > 0 {
			m.vps, m.hsps, m.hpps = vps, sps, pps
		}
		if isKeyframe && len(m.hsps) > 0 && len(m.hpps) > 0 {
			au = prependIfMissing(au, [][]byte{m.vps, m.hsps, m.hpps}, func(n []byte) bool {
				return len(n) > 0 && h265.NALUType((n[0]>>1)&0x3F) == h265.NALUType_SPS_NUT
			})
		}
		return m.muxer.WriteH265(m.videoTrack, pts, dts, au)
	}
	if sps, pps := h264Params(au); len(sps) > 0 {
		m.sps, m.pps = sps, pps
	}
	if isKeyframe && len(m.sps) > 0 && len(m.pps) > 0 {
		au = prependIfMissing(au, [][]byte{m.sps, m.pps}, func(n []byte) bool {
			return len(n) > 0 && h264.NALUType(n[0]&0x1F) == h264.NALUTypeSPS
		})
	}
	return m.muxer.WriteH264(m.videoTrack, pts, dts, au)
}

// prependIfMissing inserts params ahead of au unless au already contains a
// NAL unit matching hasParam, avoiding duplicate parameter sets on every
// keyframe when the encoder already repeats them in-band.
func prependIfMissing(au [][]byte, params [][]byte, hasParam func([]byte) bool) [][]byte {
	for _, n := range au {
		if hasParam(n) {
			return au
		}
	}
	out := make([][]byte, 0, len(params)+len(au))
	out = append(out, params...)
	out = append(out, au...)
	return out
}

func (m *tsMuxer) WriteAudio(pts int64, data []byte) error {
	if err := m.ensureInitialized(); err != nil {
		return err
	}
	if m.audioTrack == nil || len(data) == 0 {
		return nil
	}
	switch m.audioTrack.Codec.(type) {
	case *mpegts.CodecMPEG4Audio:
		aus := extractAACFrames(data)
		if len(aus) == 0 {
			return nil
		}
		return m.muxer.WriteMPEG4Audio(m.audioTrack, pts, aus)
	case *mpegts.CodecAC3:
		return m.muxer.WriteAC3(m.audioTrack, pts, data)
	case *mpegts.CodecEAC3:
		return m.muxer.WriteEAC3(m.audioTrack, pts, data)
	case *mpegts.CodecMPEG1Audio:
		return m.muxer.WriteMPEG1Audio(m.audioTrack, pts, [][]byte{data})
	case *mpegts.CodecOpus:
		return m.muxer.WriteOpus(m.audioTrack, pts, [][]byte{data})
	default:
		return nil
	}
}

func (m *tsMuxer) Close() error { return nil }
