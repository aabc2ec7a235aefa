package rtplib

import (
	"fmt"

	"github.com/pion/rtp"
)

// H.265/HEVC NAL unit types relevant to SDP/fmtp assembly (RFC 7798 §4.4.2
// / ITU-T H.265 Table 7-1).
const (
	NALUTypeVPS            = 32
	NALUTypeSPSH265        = 33
	NALUTypePPSH265        = 34
	NALUTypeFragmentation  = 49 // FU
)

// H265Packetizer turns one access unit's NAL units into RTP/H265 packets
// per RFC 7798: single-NAL packets for NALs that fit within MTUPayload, FU
// fragmentation otherwise. Like H264Packetizer it is stateless across calls.
type H265Packetizer struct {
	PayloadType uint8
	MTUPayload  int
}

// NewH265Packetizer constructs a packetizer for the given dynamic payload
// type and MTU payload budget.
func NewH265Packetizer(payloadType uint8, mtuPayload int) *H265Packetizer {
	return &H265Packetizer{PayloadType: payloadType, MTUPayload: mtuPayload}
}

// Packetize converts an ordered list of bare NAL units (each with the full
// 2-byte HEVC NAL header) into RTP packets carrying the given timestamp.
func (p *H265Packetizer) Packetize(timestamp uint32, nalus [][]byte) ([]*rtp.Packet, error) {
	var packets []*rtp.Packet

	for i, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		last := i == len(nalus)-1

		if len(nalu) <= p.MTUPayload {
			packets = append(packets, &rtp.Packet{
				Header: rtp.Header{
					Version:     2,
					PayloadType: p.PayloadType,
					Timestamp:   timestamp,
					Marker:      last,
				},
				Payload: nalu,
			})
			continue
		}

		fragments, err := p.fragment(timestamp, nalu, last)
		if err != nil {
			return nil, err
		}
		packets = append(packets, fragments...)
	}

	return packets, nil
}

// fragment splits one oversized NAL into HEVC Fragmentation Unit packets.
func (p *H265Packetizer) fragment(timestamp uint32, nalu []byte, lastOfAU bool) ([]*rtp.Packet, error) {
	if p.MTUPayload <= 3 {
		return nil, fmt.Errorf("rtplib: MTU payload %d too small for HEVC FU fragmentation", p.MTUPayload)
	}

	origHeader := uint16(nalu[0])<<8 | uint16(nalu[1])
	naluType := uint8((origHeader >> 9) & 0x3F)
	body := nalu[2:]

	fuIndicator := (origHeader & 0x81FF) | (NALUTypeFragmentation << 9)

	avail := p.MTUPayload - 3
	packetCount := len(body) / avail
	lastSize := len(body) % avail
	if lastSize > 0 {
		packetCount++
	}
	if packetCount == 0 {
		packetCount = 1
	}

	packets := make([]*rtp.Packet, 0, packetCount)
	for i := 0; i < packetCount; i++ {
		start := i == 0
		end := i == packetCount-1

		size := avail
		if end && lastSize > 0 {
			size = lastSize
		}

		var fuHeader uint8
		if start {
			fuHeader |= 0x80
		}
		if end {
			fuHeader |= 0x40
		}
		fuHeader |= naluType & 0x3F

		payload := make([]byte, 3+size)
		payload[0] = byte(fuIndicator >> 8)
		payload[1] = byte(fuIndicator)
		payload[2] = fuHeader
		copy(payload[3:], body[:size])
		body = body[size:]

		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:     2,
				PayloadType: p.PayloadType,
				Timestamp:   timestamp,
				Marker:      end && lastOfAU,
			},
			Payload: payload,
		})
	}

	return packets, nil
}
