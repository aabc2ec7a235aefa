package rtpverify

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

// AACDepacketizer unpacks RFC 3640 AAC-hbr packets (AU-headers-length
// prefix, sizeLength=13/indexLength=3 AU headers) into access units.
type AACDepacketizer struct {
	// OnAccessUnit is called once per access unit extracted from a packet.
	OnAccessUnit func(au []byte, timestamp uint32)
}

// NewAACDepacketizer constructs an empty depacketizer.
func NewAACDepacketizer() *AACDepacketizer {
	return &AACDepacketizer{}
}

// ProcessPacket extracts every access unit carried in one RTP/AAC packet.
func (d *AACDepacketizer) ProcessPacket(packet *rtp.Packet) error {
	payload := packet.Payload
	if len(payload) < 2 {
		return fmt.Errorf("rtpverify: AAC packet too short")
	}

	auHeadersLengthBits := binary.BigEndian.Uint16(payload[:2])
	auHeadersLengthBytes := int((auHeadersLengthBits + 7) / 8)

	if len(payload) < 2+auHeadersLengthBytes {
		return fmt.Errorf("rtpverify: AAC packet malformed AU-headers-length")
	}

	auHeaders := payload[2 : 2+auHeadersLengthBytes]
	auData := payload[2+auHeadersLengthBytes:]

	offset := 0
	for len(auHeaders) >= 2 {
		auSize := int(binary.BigEndian.Uint16(auHeaders[:2]) >> 3)
		auHeaders = auHeaders[2:]

		if offset+auSize > len(auData) {
			return fmt.Errorf("rtpverify: AAC AU size exceeds payload")
		}
		au := auData[offset : offset+auSize]
		offset += auSize

		if d.OnAccessUnit != nil && len(au) > 0 {
			d.OnAccessUnit(au, packet.Timestamp)
		}
	}

	return nil
}
