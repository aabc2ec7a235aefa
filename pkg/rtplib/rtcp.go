package rtplib

import (
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01 00:00:00 UTC) and the Unix epoch.
const ntpEpochOffset = 2208988800

// ToNTP converts a wall-clock time into the 64-bit fixed-point NTP
// timestamp (32-bit seconds since 1900, 32-bit fraction) RFC 3550 Sender
// Reports carry.
func ToNTP(t time.Time) uint64 {
	seconds := uint64(t.Unix()+ntpEpochOffset) << 32
	frac := uint64(float64(t.Nanosecond()) / float64(time.Second) * (1 << 32))
	return seconds | frac
}

// BuildSenderReport assembles an RTCP Sender Report (PT=200, zero report
// blocks) binding an RTP timestamp to the current wall-clock time, with the
// packet/octet counts accumulated on the stream so far.
func BuildSenderReport(ssrc uint32, now time.Time, rtpTimestamp, packetCount, octetCount uint32) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     ToNTP(now),
		RTPTime:     rtpTimestamp,
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}
}
