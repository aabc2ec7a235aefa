package rtpverify_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/rtsp-streamer/pkg/rtplib"
	"github.com/ethan/rtsp-streamer/pkg/rtpverify"
)

func TestAACDepacketizerRoundTripsSingleAU(t *testing.T) {
	au := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	packetizer := rtplib.NewAACPacketizer(97)
	packet, err := packetizer.Packetize(3000, au)
	require.NoError(t, err)

	dep := rtpverify.NewAACDepacketizer()
	var got []byte
	var gotTimestamp uint32
	dep.OnAccessUnit = func(a []byte, timestamp uint32) {
		got = a
		gotTimestamp = timestamp
	}

	require.NoError(t, dep.ProcessPacket(packet))
	require.Equal(t, au, got)
	require.Equal(t, uint32(3000), gotTimestamp)
}
