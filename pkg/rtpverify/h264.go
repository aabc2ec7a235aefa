// Package rtpverify implements RTP depacketizers for the diagnostic probe:
// the inverse of pkg/rtplib's packetizers, reconstructing access units from
// a stream of received RTP packets so a client can confirm what a server
// actually sent on the wire.
package rtpverify

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

// H.264 NAL unit type constants, mirrored from the packetizer side.
const (
	NALUTypePFrame = 1
	NALUTypeIFrame = 5
	NALUTypeSPS    = 7
	NALUTypePPS    = 8
	NALUTypeSTAPA  = 24
	NALUTypeFUA    = 28
)

// H264Depacketizer reassembles FU-A fragments and reports each complete NAL
// unit as it is emitted, for the probe to log frame-level observations.
type H264Depacketizer struct {
	buffer []byte

	// OnNALU is called once per reassembled NAL unit (single or
	// defragmented), with its RTP marker bit and the access unit's
	// timestamp carried over from the packet.
	OnNALU func(nalu []byte, naluType uint8, marker bool, timestamp uint32)
}

// NewH264Depacketizer constructs an empty depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{buffer: make([]byte, 0, 64*1024)}
}

// ProcessPacket feeds one received RTP packet through FU-A reassembly or
// STAP-A unpacking, calling OnNALU for every NAL unit it completes.
func (d *H264Depacketizer) ProcessPacket(packet *rtp.Packet) error {
	if len(packet.Payload) == 0 {
		return nil
	}

	naluType := packet.Payload[0] & 0x1F
	switch naluType {
	case NALUTypeFUA:
		return d.processFUA(packet)
	case NALUTypeSTAPA:
		return d.processSTAPA(packet)
	default:
		if d.OnNALU != nil {
			d.OnNALU(packet.Payload, naluType, packet.Marker, packet.Timestamp)
		}
		return nil
	}
}

func (d *H264Depacketizer) processFUA(packet *rtp.Packet) error {
	if len(packet.Payload) < 2 {
		return fmt.Errorf("rtpverify: FU-A packet too short")
	}

	fuIndicator := packet.Payload[0]
	fuHeader := packet.Payload[1]
	fragment := packet.Payload[2:]

	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1F

	if start {
		d.buffer = d.buffer[:0]
		d.buffer = append(d.buffer, (fuIndicator&0xE0)|naluType)
	}
	d.buffer = append(d.buffer, fragment...)

	if end {
		if d.OnNALU != nil {
			d.OnNALU(append([]byte(nil), d.buffer...), naluType, packet.Marker, packet.Timestamp)
		}
	}
	return nil
}

func (d *H264Depacketizer) processSTAPA(packet *rtp.Packet) error {
	payload := packet.Payload[1:]
	for len(payload) > 2 {
		size := binary.BigEndian.Uint16(payload[:2])
		payload = payload[2:]
		if len(payload) < int(size) {
			return fmt.Errorf("rtpverify: STAP-A size exceeds payload")
		}
		nalu := payload[:size]
		payload = payload[size:]
		if d.OnNALU != nil {
			d.OnNALU(nalu, nalu[0]&0x1F, packet.Marker, packet.Timestamp)
		}
	}
	return nil
}
