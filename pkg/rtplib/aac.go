package rtplib

import "github.com/pion/rtp"

// AAC clock rate and samples per frame, exported for callers that pace AAC
// access units; the packetizer itself does not read them.
const (
	AACClockRate = 48000
	AUTime       = 1024 // samples per AAC frame
)

// AACPacketizer turns one AAC access unit into a single RTP/MPEG4-GENERIC
// packet per RFC 3640, using the fixed AU-header layout this server
// advertises in SDP (sizeLength=13, indexLength=3, indexDeltaLength=3).
type AACPacketizer struct {
	PayloadType uint8
}

// NewAACPacketizer constructs a packetizer for the given dynamic payload type.
func NewAACPacketizer(payloadType uint8) *AACPacketizer {
	return &AACPacketizer{PayloadType: payloadType}
}

// Packetize wraps a single AAC access unit in its AU-headers-length prefix
// and AU header, producing exactly one marked RTP packet.
func (p *AACPacketizer) Packetize(timestamp uint32, au []byte) (*rtp.Packet, error) {
	payload := make([]byte, 4+len(au))

	// AU-headers-length in bits: one 16-bit AU header (13-bit size + 3-bit index).
	payload[0] = 0
	payload[1] = 16

	auHeader := uint16(len(au))<<3 | 0 // AU-index always 0 for a lone AU
	payload[2] = byte(auHeader >> 8)
	payload[3] = byte(auHeader)

	copy(payload[4:], au)

	return &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: p.PayloadType,
			Timestamp:   timestamp,
			Marker:      true,
		},
		Payload: payload,
	}, nil
}
