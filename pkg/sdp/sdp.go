// Package sdp assembles the Session Description Protocol body returned by
// DESCRIBE from each track's media fragment, using github.com/pion/sdp/v3
// for the session-level envelope (`v=`/`o=`/`s=`/`c=`/`t=`) and Marshal.
package sdp

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// MediaFragmentBuilder is implemented by pkg/track.Track: it knows how to
// render its own `m=`/`a=rtpmap:`/`a=fmtp:`/`a=control:` fragment.
type MediaFragmentBuilder interface {
	BuildMediaDescription() (*sdp.MediaDescription, error)
}

// BuildSessionDescription assembles the full SDP body DESCRIBE returns:
// `v=0`, `o=user 123 0 IN IP4 0.0.0.0`, `s=<sessionName>`, `c=IN IP4
// 0.0.0.0`, followed by each track's media fragment in the order given.
func BuildSessionDescription(sessionName string, tracks []MediaFragmentBuilder) ([]byte, error) {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "user",
			SessionID:      123,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: sdp.SessionName(sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, track := range tracks {
		md, err := track.BuildMediaDescription()
		if err != nil {
			return nil, fmt.Errorf("build media description: %w", err)
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}

	return sd.Marshal()
}
