package rtplib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestH265PacketizerSingleNAL(t *testing.T) {
	p := NewH265Packetizer(97, 1400-28)
	// VPS (type 32): F=0, Type=32, LayerId=0, TID=1 -> header bytes 0x40 0x01
	nalu := append([]byte{0x40, 0x01}, make([]byte, 40)...)

	packets, err := p.Packetize(90000, [][]byte{nalu})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.True(t, packets[0].Marker)
	require.Equal(t, nalu, packets[0].Payload)
}

func TestH265PacketizerFragmentation(t *testing.T) {
	p := NewH265Packetizer(97, 100)
	// IDR_W_RADL (type 19): header = F<<15 | type<<9 | layerId<<3 | tid
	origHeader := uint16(19)<<9 | 1
	nalu := make([]byte, 2+300)
	nalu[0] = byte(origHeader >> 8)
	nalu[1] = byte(origHeader)
	for i := range nalu[2:] {
		nalu[2+i] = byte(i)
	}

	packets, err := p.Packetize(5000, [][]byte{nalu})
	require.NoError(t, err)
	require.True(t, len(packets) > 1)

	first := packets[0].Payload
	fuIndicator := uint16(first[0])<<8 | uint16(first[1])
	require.Equal(t, uint16(49), (fuIndicator>>9)&0x3F)
	require.Equal(t, uint8(0x80), first[2]&0x80) // S=1
	require.Equal(t, uint8(0), first[2]&0x40)    // E=0

	last := packets[len(packets)-1].Payload
	require.Equal(t, uint8(0x40), last[2]&0x40) // E=1
	require.Equal(t, uint8(19), last[2]&0x3F)   // original nal_unit_type preserved
	require.True(t, packets[len(packets)-1].Marker)

	var reassembled []byte
	for _, pkt := range packets {
		reassembled = append(reassembled, pkt.Payload[3:]...)
	}
	require.Equal(t, nalu[2:], reassembled)
}
