package recorder

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/av1"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

const (
	fmp4VideoTrackID   = 1
	fmp4AudioTrackID   = 2
	fmp4VideoTimeScale = 90000
)

// fmp4Muxer backs ContainerMP4/ContainerMOV via mediacommon's fragmented-MP4
// sample/init/part builders, grounded on
// jmylchreest-tvarr/internal/daemon/fmp4_muxer.go's FMP4Muxer.
type fmp4Muxer struct {
	w io.Writer

	videoCodec string
	audioCodec string

	initialized    bool
	initWritten    bool
	audioTimeScale uint32
	sequenceNumber uint32
	videoBaseTime  uint64
	audioBaseTime  uint64
	lastVideoPTS   int64

	av1SeqHeader              []byte
	h264SPS, h264PPS          []byte
	h265VPS, h265SPS, h265PPS []byte

	videoSamples []*fmp4.Sample
	audioSamples []*fmp4.Sample
}

func newFMP4Muxer(w io.Writer, videoCodec, audioCodec string) *fmp4Muxer {
	return &fmp4Muxer{
		w:              w,
		videoCodec:     videoCodec,
		audioCodec:     audioCodec,
		audioTimeScale: 48000,
		sequenceNumber: 1,
	}
}

func (m *fmp4Muxer) WriteVideo(pts, dts int64, data []byte, isKeyframe bool) error {
	if len(data) == 0 {
		return nil
	}
	if isKeyframe {
		m.extractVideoParams(data)
	}
	if !m.initialized && m.canInitialize() {
		m.initialized = true
	}
	if !m.initialized {
		return nil
	}

	sample := &fmp4.Sample{
		Duration:        3000,
		PTSOffset:       int32(pts - dts),
		IsNonSyncSample: !isKeyframe,
	}
	if m.lastVideoPTS > 0 && pts > m.lastVideoPTS {
		sample.Duration = uint32(pts - m.lastVideoPTS)
	}

	au := dataToAccessUnit(data)
	var err error
	switch m.videoCodec {
	case "av1":
		err = sample.FillAV1(dataToOBUs(data))
	case "hevc":
		err = sample.FillH265(sample.PTSOffset, au)
	default:
		err = sample.FillH264(sample.PTSOffset, au)
	}
	if err != nil {
		return fmt.Errorf("recorder: building fmp4 video sample: %w", err)
	}

	m.videoSamples = append(m.videoSamples, sample)
	m.lastVideoPTS = pts
	return nil
}

func (m *fmp4Muxer) WriteAudio(pts int64, data []byte) error {
	if len(data) == 0 || !m.initialized {
		return nil
	}
	payload := data
	if frames := extractAACFrames(data); len(frames) > 0 {
		payload = frames[0]
	}
	m.audioSamples = append(m.audioSamples, &fmp4.Sample{
		Duration: 1024,
		Payload:  payload,
	})
	return nil
}

func (m *fmp4Muxer) Close() error {
	return m.flush()
}

func (m *fmp4Muxer) flush() error {
	if !m.initialized {
		return nil
	}
	if !m.initWritten {
		if err := m.writeInit(); err != nil {
			return err
		}
		m.initWritten = true
	}
	if len(m.videoSamples) > 0 || len(m.audioSamples) > 0 {
		return m.writeFragment()
	}
	return nil
}

func (m *fmp4Muxer) canInitialize() bool {
	switch m.videoCodec {
	case "av1":
		return len(m.av1SeqHeader) > 0
	case "hevc":
		return len(m.h265VPS) > 0 && len(m.h265SPS) > 0 && len(m.h265PPS) > 0
	default:
		return len(m.h264SPS) > 0 && len(m.h264PPS) > 0
	}
}

func (m *fmp4Muxer) extractVideoParams(data []byte) {
	switch m.videoCodec {
	case "av1":
		var bs av1.Bitstream
		if err := bs.Unmarshal(data); err != nil {
			return
		}
		for _, obu := range bs {
			if len(obu) == 0 {
				continue
			}
			if av1.OBUType((obu[0]>>3)&0x0F) == av1.OBUTypeSequenceHeader {
				m.av1SeqHeader = append([]byte(nil), obu...)
				return
			}
		}
	case "hevc":
		if vps, sps, pps := h265Params(dataToAccessUnit(data)); len(sps) > 0 && len(pps) > 0 {
			m.h265VPS, m.h265SPS, m.h265PPS = vps, sps, pps
		}
	default:
		if sps, pps := h264Params(dataToAccessUnit(data)); len(sps) > 0 {
			m.h264SPS, m.h264PPS = sps, pps
		}
	}
}

func (m *fmp4Muxer) createVideoCodec() (mp4.Codec, error) {
	switch m.videoCodec {
	case "av1":
		if len(m.av1SeqHeader) == 0 {
			return nil, fmt.Errorf("recorder: AV1 sequence header not available")
		}
		return &mp4.CodecAV1{SequenceHeader: m.av1SeqHeader}, nil
	case "hevc":
		if len(m.h265VPS) == 0 || len(m.h265SPS) == 0 || len(m.h265PPS) == 0 {
			return nil, fmt.Errorf("recorder: H.265 VPS/SPS/PPS not available")
		}
		return &mp4.CodecH265{VPS: m.h265VPS, SPS: m.h265SPS, PPS: m.h265PPS}, nil
	default:
		if len(m.h264SPS) == 0 || len(m.h264PPS) == 0 {
			return nil, fmt.Errorf("recorder: H.264 SPS/PPS not available")
		}
		return &mp4.CodecH264{SPS: m.h264SPS, PPS: m.h264PPS}, nil
	}
}

func (m *fmp4Muxer) createAudioCodec() (mp4.Codec, error) {
	switch m.audioCodec {
	case "opus":
		return &mp4.CodecOpus{ChannelCount: 2}, nil
	case "ac3":
		return &mp4.CodecAC3{SampleRate: 48000, ChannelCount: 2}, nil
	case "aac", "":
		config := mpeg4audio.AudioSpecificConfig{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 2}
		m.audioTimeScale = uint32(config.SampleRate)
		return &mp4.CodecMPEG4Audio{Config: config}, nil
	default:
		return nil, fmt.Errorf("recorder: unsupported mp4 audio codec %q", m.audioCodec)
	}
}

func (m *fmp4Muxer) writeInit() error {
	videoCodec, err := m.createVideoCodec()
	if err != nil {
		return err
	}
	init := &fmp4.Init{Tracks: []*fmp4.InitTrack{
		{ID: fmp4VideoTrackID, TimeScale: fmp4VideoTimeScale, Codec: videoCodec},
	}}

	if m.audioCodec != "" {
		if audioCodec, err := m.createAudioCodec(); err == nil {
			init.Tracks = append(init.Tracks, &fmp4.InitTrack{
				ID: fmp4AudioTrackID, TimeScale: m.audioTimeScale, Codec: audioCodec,
			})
		}
	}

	var buf bytes.Buffer
	if err := init.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("recorder: marshaling fmp4 init segment: %w", err)
	}
	_, err = m.w.Write(buf.Bytes())
	return err
}

func (m *fmp4Muxer) writeFragment() error {
	part := &fmp4.Part{SequenceNumber: m.sequenceNumber}

	if len(m.videoSamples) > 0 {
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID: fmp4VideoTrackID, BaseTime: m.videoBaseTime, Samples: m.videoSamples,
		})
		for _, s := range m.videoSamples {
			m.videoBaseTime += uint64(s.Duration)
		}
		m.videoSamples = nil
	}
	if len(m.audioSamples) > 0 {
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID: fmp4AudioTrackID, BaseTime: m.audioBaseTime, Samples: m.audioSamples,
		})
		for _, s := range m.audioSamples {
			m.audioBaseTime += uint64(s.Duration)
		}
		m.audioSamples = nil
	}

	var buf bytes.Buffer
	if err := part.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("recorder: marshaling fmp4 fragment: %w", err)
	}
	_, err := m.w.Write(buf.Bytes())
	m.sequenceNumber++
	return err
}

func dataToOBUs(data []byte) [][]byte {
	var bs av1.Bitstream
	if err := bs.Unmarshal(data); err != nil {
		return [][]byte{data}
	}
	return bs
}

// seekableBuffer adapts a bytes.Buffer to io.WriteSeeker, which fmp4's
// Marshal requires for box-size backpatching.
type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	if int(s.pos) > s.Buffer.Len() {
		s.Buffer.Write(make([]byte, int(s.pos)-s.Buffer.Len()))
	}
	var n int
	var err error
	if int(s.pos) == s.Buffer.Len() {
		n, err = s.Buffer.Write(p)
	} else {
		b := s.Buffer.Bytes()
		n = copy(b[s.pos:], p)
		if n < len(p) {
			var m int
			m, err = s.Buffer.Write(p[n:])
			n += m
		}
	}
	s.pos += int64(n)
	return n, err
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.Buffer.Len()) + offset
	default:
		return 0, fmt.Errorf("recorder: invalid seek whence")
	}
	if newPos < 0 {
		return 0, fmt.Errorf("recorder: negative seek position")
	}
	s.pos = newPos
	return newPos, nil
}
