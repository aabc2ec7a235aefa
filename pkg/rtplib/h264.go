// Package rtplib turns bare NAL units and AAC access units into ordered
// RTP packet lists (RFC 6184, RFC 7798, RFC 3640), and RTP sender-report
// state into RTCP Sender Report packets (RFC 3550). Packet assembly is built
// on *github.com/pion/rtp.Packet; sequence number and SSRC are intentionally
// left at zero here — the broadcast fan-out patches both in per connection.
package rtplib

import (
	"fmt"

	"github.com/pion/rtp"
)

// H.264 NAL unit types used by the packetizer (RFC 6184 §5.2 / ITU-T H.264
// Table 7-1), named the same way the depacketizer in this repo names them.
const (
	NALUTypePFrame = 1
	NALUTypeIFrame = 5
	NALUTypeSEI    = 6
	NALUTypeSPS    = 7
	NALUTypePPS    = 8
	NALUTypeAUD    = 9
	NALUTypeSTAPA  = 24 // not emitted by this packetizer, only reserved
	NALUTypeFUA    = 28
)

// H264Packetizer turns one access unit's NAL units into RTP/H264 packets
// per RFC 6184: single-NAL packets for NALs that fit within MTUPayload,
// FU-A fragmentation otherwise. It is stateless across calls — sequence
// numbering and SSRC live on the connection, not here (one packetizer's
// output fans out to many connections).
type H264Packetizer struct {
	PayloadType uint8
	// MTUPayload is the maximum number of RTP payload bytes per packet.
	MTUPayload int
}

// NewH264Packetizer constructs a packetizer for the given dynamic payload
// type (conventionally 96 + track id) and MTU payload budget.
func NewH264Packetizer(payloadType uint8, mtuPayload int) *H264Packetizer {
	return &H264Packetizer{PayloadType: payloadType, MTUPayload: mtuPayload}
}

// Packetize converts an ordered list of bare NAL units (no Annex-B start
// codes) into RTP packets carrying the given timestamp. The marker bit is
// set on the very last packet produced for the access unit, matching the
// "last NAL of the AU" rule.
func (p *H264Packetizer) Packetize(timestamp uint32, nalus [][]byte) ([]*rtp.Packet, error) {
	var packets []*rtp.Packet

	for i, nalu := range nalus {
		if len(nalu) == 0 {
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

// fragment splits one oversized NAL into FU-A RTP packets.
func (p *H264Packetizer) fragment(timestamp uint32, nalu []byte, lastOfAU bool) ([]*rtp.Packet, error) {
	if p.MTUPayload <= 2 {
		return nil, fmt.Errorf("rtplib: MTU payload %d too small for FU-A fragmentation", p.MTUPayload)
	}

	nalHeader := nalu[0]
	naluType := nalHeader & 0x1F
	body := nalu[1:]

	avail := p.MTUPayload - 2
	packetCount := len(body) / avail
	lastSize := len(body) % avail
	if lastSize > 0 {
		packetCount++
	}
	if packetCount == 0 {
		packetCount = 1
	}

	fuIndicator := (nalHeader & 0xE0) | NALUTypeFUA

	packets := make([]*rtp.Packet, 0, packetCount)
	for i := 0; i < packetCount; i++ {
		start := i == 0
		end := i == packetCount-1

		size := avail
		if end && lastSize > 0 {
			size = lastSize
		}

		fuHeader := naluType
		if start {
			fuHeader |= 0x80
		}
		if end {
			fuHeader |= 0x40
		}

		payload := make([]byte, 2+size)
		payload[0] = fuIndicator
		payload[1] = fuHeader
		copy(payload[2:], body[:size])
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
