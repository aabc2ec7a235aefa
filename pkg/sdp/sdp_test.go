package sdp_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/rtsp-streamer/pkg/sdp"
	"github.com/ethan/rtsp-streamer/pkg/track"
)

func TestBuildSessionDescriptionIncludesEveryTrack(t *testing.T) {
	video := track.NewVideoTrack(0, track.CodecH264, 1400-28)
	video.SetParameterSetsH264([]byte{0x67, 0x42}, []byte{0x68, 0xCE})
	audio := track.NewAudioTrack(1, 48000, 2)
	audio.SetAACConfig([]byte{0x12, 0x10})

	body, err := sdp.BuildSessionDescription("test-session", []sdp.MediaFragmentBuilder{video, audio})
	require.NoError(t, err)

	text := string(body)
	require.True(t, strings.Contains(text, "v=0"))
	require.True(t, strings.Contains(text, "s=test-session"))
	require.True(t, strings.Contains(text, "m=video"))
	require.True(t, strings.Contains(text, "m=audio"))
	require.True(t, strings.Contains(text, "a=control:trackID=0"))
	require.True(t, strings.Contains(text, "a=control:trackID=1"))
	require.True(t, strings.Contains(text, "H264/90000"))
	require.True(t, strings.Contains(text, "MPEG4-GENERIC/48000/2"))
}
