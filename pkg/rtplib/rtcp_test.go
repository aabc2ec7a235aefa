package rtplib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildSenderReportMarshalsTo28Bytes(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	sr := BuildSenderReport(0xAABBCCDD, now, 90000, 42, 12345)

	raw, err := sr.Marshal()
	require.NoError(t, err)
	// 4-byte RTCP header + 24-byte sender info, zero report blocks.
	require.Len(t, raw, 28)
	require.Equal(t, uint32(0xAABBCCDD), sr.SSRC)
	require.Equal(t, uint32(90000), sr.RTPTime)
	require.Equal(t, uint32(42), sr.PacketCount)
	require.Equal(t, uint32(12345), sr.OctetCount)
}

func TestToNTPMonotonicWithWallClock(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	n1 := ToNTP(t1)
	n2 := ToNTP(t2)
	require.Equal(t, uint64(1), (n2>>32)-(n1>>32))
}
