package rtpverify_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/rtsp-streamer/pkg/rtplib"
	"github.com/ethan/rtsp-streamer/pkg/rtpverify"
)

func TestH265DepacketizerRoundTripsFragmentedNALU(t *testing.T) {
	// 2-byte HEVC NAL header: type=1 (TRAIL_R), layer=0, tid=1.
	header := []byte{byte(1 << 1), 0x01}
	body := make([]byte, 4000)
	for i := range body {
		body[i] = byte(i)
	}
	nalu := append(append([]byte{}, header...), body...)

	packetizer := rtplib.NewH265Packetizer(96, 1400)
	packets, err := packetizer.Packetize(2000, [][]byte{nalu})
	require.NoError(t, err)
	require.Greater(t, len(packets), 1)

	dep := rtpverify.NewH265Depacketizer()
	var got []byte
	var gotType uint8
	dep.OnNALU = func(n []byte, naluType uint8, marker bool, timestamp uint32) {
		got = n
		gotType = naluType
	}

	for _, p := range packets {
		require.NoError(t, dep.ProcessPacket(p))
	}

	require.Equal(t, nalu, got)
	require.Equal(t, uint8(1), gotType)
}
