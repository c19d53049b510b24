package recorder

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// dataToAccessUnit normalizes video data that may arrive as Annex B
// (start-code prefixed), AVCC (length-prefixed), or a single raw NAL unit
// into a slice of NAL units, grounded on
// jmylchreest-tvarr/internal/relay/ts_muxer.go's dataToAccessUnit.
func dataToAccessUnit(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}

	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 {
		if data[2] == 0x01 || (data[2] == 0x00 && data[3] == 0x01) {
			var au h264.AnnexB
			if err := au.Unmarshal(data); err == nil {
				return au
			}
			return [][]byte{data}
		}
	}

	if len(data) >= 4 {
		var au h264.AVCC
		if err := au.Unmarshal(data); err == nil && len(au) > 0 {
			return au
		}
	}

	return [][]byte{data}
}

// h264Params scans an access unit for the most recent SPS/PPS, needed to
// populate the container's video track once a keyframe has been seen.
func h264Params(au [][]byte) (sps, pps []byte) {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = append([]byte(nil), nalu...)
		case h264.NALUTypePPS:
			pps = append([]byte(nil), nalu...)
		}
	}
	return sps, pps
}

// h265Params scans an access unit for the most recent VPS/SPS/PPS.
func h265Params(au [][]byte) (vps, sps, pps []byte) {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
		case h265.NALUType_VPS_NUT:
			vps = append([]byte(nil), nalu...)
		case h265.NALUType_SPS_NUT:
			sps = append([]byte(nil), nalu...)
		case h265.NALUType_PPS_NUT:
			pps = append([]byte(nil), nalu...)
		}
	}
	return vps, sps, pps
}

// extractAACFrames strips an optional ADTS header, returning raw AAC access
// units as mediacommon's MPEG-4 audio writer expects.
func extractAACFrames(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) >= 7 && data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		return extractADTSFrames(data)
	}
	return [][]byte{data}
}

func extractADTSFrames(data []byte) [][]byte {
	var frames [][]byte
	offset := 0
	for offset+7 <= len(data) {
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}
		protectionAbsent := (data[offset+1] & 0x01) != 0
		headerSize := 7
		if !protectionAbsent {
			headerSize = 9
		}
		frameLen := int(data[offset+3]&0x03)<<11 | int(data[offset+4])<<3 | int(data[offset+5]>>5)
		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}
		if raw := data[offset+headerSize : offset+frameLen]; len(raw) > 0 {
			frames = append(frames, raw)
		}
		offset += frameLen
	}
	return frames
}
