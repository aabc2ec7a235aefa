// Package track implements the uniform capability the dialog engine and
// feed API see for each media stream: a codec name, a track id, an RTP
// payload type, a readiness flag, an SDP fragment producer and an RTP
// packet producer. A Track holds a narrow back-reference — the Sink
// capability — to the broadcast fan-out it feeds, rather than a
// bidirectional pointer back to the whole server.
package track

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"

	"github.com/ethan/rtsp-streamer/pkg/rtplib"
)

// Kind identifies a track's media type and doubles as its well-known id
// (Video=0, Audio=1), matching the two-track-only constraint this server
// inherits from its source.
type Kind int

const (
	Video Kind = 0
	Audio Kind = 1
)

func (k Kind) String() string {
	if k == Video {
		return "video"
	}
	return "audio"
}

// Codec identifies the media codec carried by a video track.
type Codec string

const (
	CodecH264 Codec = "H264"
	CodecH265 Codec = "H265"
	CodecAAC  Codec = "AAC"
)

// Sink is the narrow capability a Track forwards produced RTP packets to.
// The Server implements it and fans packets out to every PLAYing
// connection; FeedRawSamples is a thin forwarder onto this interface, never
// a direct walk of the connection registry.
type Sink interface {
	FeedRawRTP(trackID int, timestamp uint32, packets []*rtp.Packet, payloadBytes int)
}

// Track is the uniform handle the dialog engine and feed API operate on.
type Track struct {
	id          int
	kind        Kind
	codec       Codec
	payloadType uint8

	mu    sync.RWMutex
	ready bool

	// H.264 parameter sets.
	sps []byte
	pps []byte

	// H.265 parameter sets.
	vps    []byte
	sps265 []byte
	pps265 []byte

	// AAC configuration (AudioSpecificConfig bytes) and stream geometry.
	aacConfig  []byte
	sampleRate uint32
	channels   uint8

	packetizerH264 *rtplib.H264Packetizer
	packetizerH265 *rtplib.H265Packetizer
	packetizerAAC  *rtplib.AACPacketizer

	sink Sink
}

// NewVideoTrack constructs an H.264 or H.265 video track with payload type
// 96+id, per the dynamic-payload-type convention. It is not ready until its
// parameter sets are set.
func NewVideoTrack(id int, codec Codec, mtuPayload int) *Track {
	t := &Track{
		id:          id,
		kind:        Video,
		codec:       codec,
		payloadType: uint8(96 + id),
	}
	switch codec {
	case CodecH265:
		t.packetizerH265 = rtplib.NewH265Packetizer(t.payloadType, mtuPayload)
	default:
		t.packetizerH264 = rtplib.NewH264Packetizer(t.payloadType, mtuPayload)
	}
	return t
}

// NewAudioTrack constructs an AAC audio track with payload type 96+id.
func NewAudioTrack(id int, sampleRate uint32, channels uint8) *Track {
	t := &Track{
		id:          id,
		kind:        Audio,
		codec:       CodecAAC,
		payloadType: uint8(96 + id),
		sampleRate:  sampleRate,
		channels:    channels,
	}
	t.packetizerAAC = rtplib.NewAACPacketizer(t.payloadType)
	return t
}

// AttachSink wires the broadcast capability the track forwards produced
// packets to. Called once by the Server before start_listen.
func (t *Track) AttachSink(sink Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

// ID returns the track id (0=video, 1=audio).
func (t *Track) ID() int { return t.id }

// Kind returns whether this is the video or audio track.
func (t *Track) Kind() Kind { return t.kind }

// Codec returns the track's codec tag.
func (t *Track) Codec() Codec { return t.codec }

// PayloadType returns the dynamic RTP payload type assigned to this track.
func (t *Track) PayloadType() uint8 { return t.payloadType }

// IsReady reports whether the track's parameter sets have been set —
// DESCRIBE must fail with 400 while this is false.
func (t *Track) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// SetParameterSetsH264 installs SPS/PPS and marks the track ready. Changing
// parameter sets after a connection has DESCRIBEd is undefined but must not
// crash — later SDP may be stale until the next DESCRIBE.
func (t *Track) SetParameterSetsH264(sps, pps []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sps = append([]byte(nil), sps...)
	t.pps = append([]byte(nil), pps...)
	t.ready = len(t.sps) > 0 && len(t.pps) > 0
}

// SetParameterSetsH265 installs VPS/SPS/PPS and marks the track ready.
func (t *Track) SetParameterSetsH265(vps, sps, pps []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vps = append([]byte(nil), vps...)
	t.sps265 = append([]byte(nil), sps...)
	t.pps265 = append([]byte(nil), pps...)
	t.ready = len(t.vps) > 0 && len(t.sps265) > 0 && len(t.pps265) > 0
}

// SetAACConfig installs the MPEG-4 AudioSpecificConfig bytes and marks the
// audio track ready.
func (t *Track) SetAACConfig(config []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aacConfig = append([]byte(nil), config...)
	t.ready = len(t.aacConfig) > 0
}

// FeedRawSamples packetizes one video access unit and forwards the produced
// RTP packets to the attached Sink. It is the thin forwarder the dialog
// engine's feed_video API calls into; it never walks the connection
// registry itself.
func (t *Track) FeedRawSamples(timestamp uint32, nalus [][]byte) error {
	t.mu.RLock()
	sink := t.sink
	codec := t.codec
	h264 := t.packetizerH264
	h265 := t.packetizerH265
	t.mu.RUnlock()

	if sink == nil {
		return fmt.Errorf("track %d: FeedRawSamples called before AttachSink", t.id)
	}

	var packets []*rtp.Packet
	var err error
	switch codec {
	case CodecH265:
		packets, err = h265.Packetize(timestamp, nalus)
	default:
		packets, err = h264.Packetize(timestamp, nalus)
	}
	if err != nil {
		return err
	}

	payloadBytes := 0
	for _, n := range nalus {
		payloadBytes += len(n)
	}

	sink.FeedRawRTP(t.id, timestamp, packets, payloadBytes)
	return nil
}

// FeedRawAudioSample packetizes one AAC access unit and forwards it to the
// attached Sink.
func (t *Track) FeedRawAudioSample(timestamp uint32, au []byte) error {
	t.mu.RLock()
	sink := t.sink
	packetizer := t.packetizerAAC
	t.mu.RUnlock()

	if sink == nil {
		return fmt.Errorf("track %d: FeedRawAudioSample called before AttachSink", t.id)
	}

	packet, err := packetizer.Packetize(timestamp, au)
	if err != nil {
		return err
	}

	sink.FeedRawRTP(t.id, timestamp, []*rtp.Packet{packet}, len(au))
	return nil
}

// BuildMediaDescription produces this track's SDP media fragment: the
// `m=`/`a=control:`/`a=rtpmap:`/`a=fmtp:` lines, with parameter sets
// base64-encoded into fmtp per RFC 6184/7798/3640.
func (t *Track) BuildMediaDescription() (*sdp.MediaDescription, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  t.kind.String(),
			Port:   sdp.RangedPort{Value: 0},
			Protos: []string{"RTP", "AVP"},
		},
	}
	md = md.WithValueAttribute("control", fmt.Sprintf("trackID=%d", t.id))

	switch t.codec {
	case CodecH264:
		spropSPS := base64.StdEncoding.EncodeToString(t.sps)
		spropPPS := base64.StdEncoding.EncodeToString(t.pps)
		fmtp := fmt.Sprintf("packetization-mode=1; sprop-parameter-sets=%s,%s", spropSPS, spropPPS)
		md = md.WithCodec(t.payloadType, "H264", 90000, 0, fmtp)

	case CodecH265:
		spropVPS := base64.StdEncoding.EncodeToString(t.vps)
		spropSPS := base64.StdEncoding.EncodeToString(t.sps265)
		spropPPS := base64.StdEncoding.EncodeToString(t.pps265)
		fmtp := fmt.Sprintf("sprop-vps=%s; sprop-sps=%s; sprop-pps=%s", spropVPS, spropSPS, spropPPS)
		md = md.WithCodec(t.payloadType, "H265", 90000, 0, fmtp)

	case CodecAAC:
		channels := t.channels
		if channels == 0 {
			channels = 2
		}
		config := fmt.Sprintf("%x", t.aacConfig)
		fmtp := fmt.Sprintf(
			"streamtype=5; profile-level-id=1; mode=AAC-hbr; sizeLength=13; indexLength=3; indexDeltaLength=3; config=%s",
			config)
		md = md.WithCodec(t.payloadType, "MPEG4-GENERIC", t.sampleRate, uint16(channels), fmtp)

	default:
		return nil, fmt.Errorf("track %d: unknown codec %q", t.id, t.codec)
	}

	return md, nil
}
