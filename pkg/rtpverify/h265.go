package rtpverify

import (
	"fmt"

	"github.com/pion/rtp"
)

// H.265 NAL unit type constants.
const (
	NALUTypeVPS           = 32
	NALUTypeSPSH265       = 33
	NALUTypePPSH265       = 34
	NALUTypeFragmentation = 49
)

// H265Depacketizer reassembles HEVC FU fragments (RFC 7798 §4.4.3). Unlike
// H.264, the NAL header is 2 bytes; the FU header adds a third.
type H265Depacketizer struct {
	buffer []byte

	// OnNALU is called once per reassembled NAL unit, with the NAL unit
	// type extracted from the 2-byte header.
	OnNALU func(nalu []byte, naluType uint8, marker bool, timestamp uint32)
}

// NewH265Depacketizer constructs an empty depacketizer.
func NewH265Depacketizer() *H265Depacketizer {
	return &H265Depacketizer{buffer: make([]byte, 0, 64*1024)}
}

// ProcessPacket feeds one received RTP packet through FU reassembly.
func (d *H265Depacketizer) ProcessPacket(packet *rtp.Packet) error {
	if len(packet.Payload) < 2 {
		return fmt.Errorf("rtpverify: H265 packet too short")
	}

	naluType := (packet.Payload[0] >> 1) & 0x3F

	if naluType != NALUTypeFragmentation {
		if d.OnNALU != nil {
			d.OnNALU(packet.Payload, naluType, packet.Marker, packet.Timestamp)
		}
		return nil
	}

	return d.processFU(packet)
}

func (d *H265Depacketizer) processFU(packet *rtp.Packet) error {
	if len(packet.Payload) < 3 {
		return fmt.Errorf("rtpverify: H265 FU packet too short")
	}

	origHeaderHigh := packet.Payload[0]
	origHeaderLow := packet.Payload[1]
	fuHeader := packet.Payload[2]
	fragment := packet.Payload[3:]

	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	fuType := fuHeader & 0x3F

	if start {
		d.buffer = d.buffer[:0]
		reconstructedHigh := (origHeaderHigh & 0x81) | (fuType << 1)
		d.buffer = append(d.buffer, reconstructedHigh, origHeaderLow)
	}
	d.buffer = append(d.buffer, fragment...)

	if end {
		if d.OnNALU != nil {
			d.OnNALU(append([]byte(nil), d.buffer...), fuType, packet.Marker, packet.Timestamp)
		}
	}
	return nil
}
