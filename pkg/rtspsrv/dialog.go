package rtspsrv

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethan/rtsp-streamer/pkg/sdp"
	"github.com/ethan/rtsp-streamer/pkg/track"
)

// sessionCounter is the process-wide monotonic decimal session id source,
// per the "monotonic decimal counter, process-wide" allocation rule.
var sessionCounter uint64

func nextSessionID() string {
	return strconv.FormatUint(atomic.AddUint64(&sessionCounter, 1), 10)
}

// dialog drives one accepted connection's RTSP request/response loop. It
// holds everything handleRequest needs to resolve tracks, authenticate, and
// register/deregister itself with the server's connection registry.
type dialog struct {
	srv  *Server
	conn *Connection
	nc   net.Conn
	r    *bufio.Reader
}

// serve is the per-connection goroutine entry point: read a request, apply
// a keep-alive deadline, dispatch, write the response, repeat until the
// socket errs or TEARDOWN closes it.
func (d *dialog) serve() {
	defer d.conn.closeTransports()
	defer d.nc.Close()

	for {
		if err := d.nc.SetReadDeadline(time.Now().Add(connectionIdleTimeout)); err != nil {
			return
		}

		req, err := readRequest(d.r)
		if err != nil {
			d.srv.logger.DebugTransport("connection closed reading request", "remote_addr", d.conn.remoteAddr, "error", err)
			return
		}
		d.conn.touch()

		resp := d.handleRequest(req)

		if cseq, ok := req.Header["CSeq"]; ok {
			resp.Header["CSeq"] = cseq
		}

		d.conn.writeMu.Lock()
		err = writeResponse(d.nc, resp)
		d.conn.writeMu.Unlock()
		if err != nil {
			d.srv.logger.DebugTransport("write error, tearing down", "remote_addr", d.conn.remoteAddr, "error", err)
			return
		}

		if d.conn.getState() == stateTeardown {
			return
		}
	}
}

// handleRequest authenticates, then dispatches to the method handler.
func (d *dialog) handleRequest(req *Request) *Response {
	if d.srv.authenticator != nil {
		if err := d.srv.authenticator.Authenticate(req.Method, req.URI, req.Header["Authorization"]); err != nil {
			resp := NewResponse(401)
			resp.Header["WWW-Authenticate"] = d.srv.authenticator.Challenge()
			if err != ErrNoAuthorizationHeader {
				d.conn.setState(stateTeardown)
			}
			return resp
		}
	}

	switch req.Method {
	case "OPTIONS":
		return d.handleOptions()
	case "DESCRIBE":
		return d.handleDescribe(req)
	case "SETUP":
		return d.handleSetup(req)
	case "PLAY":
		return d.handlePlay(req)
	case "PAUSE":
		return d.handlePause(req)
	case "GET_PARAMETER":
		return d.handleGetParameter(req)
	case "TEARDOWN":
		return d.handleTeardown(req)
	default:
		return NewResponse(400)
	}
}

func (d *dialog) handleOptions() *Response {
	resp := NewResponse(200)
	resp.Header["Public"] = "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, GET_PARAMETER, TEARDOWN"
	return resp
}

func (d *dialog) handleDescribe(req *Request) *Response {
	video := d.srv.videoTrack
	audio := d.srv.audioTrack

	if video == nil || !video.IsReady() {
		d.srv.logger.DebugSession("describe failed", "error", ErrTrackNotReady, "track", "video")
		return NewResponse(400)
	}
	if audio != nil && !audio.IsReady() {
		d.srv.logger.DebugSession("describe failed", "error", ErrTrackNotReady, "track", "audio")
		return NewResponse(400)
	}

	builders := []sdp.MediaFragmentBuilder{video}
	if audio != nil {
		builders = append(builders, audio)
	}

	body, err := sdp.BuildSessionDescription(d.srv.config.SessionName, builders)
	if err != nil {
		d.srv.logger.Error("build session description", "error", err)
		return NewResponse(500)
	}

	resp := NewResponse(200)
	resp.Header["Content-Base"] = req.URI
	resp.Header["Content-Type"] = "application/sdp"
	resp.Body = body
	return resp
}

// handleSetup matches the request URI's trailing trackID=<id> against the
// server's tracks, binds a transport chosen from the first entry of the
// Transport header, and allocates a session id on first success.
func (d *dialog) handleSetup(req *Request) *Response {
	trackID, ok := parseTrackID(req.URI)
	if !ok {
		return NewResponse(400)
	}

	tr := d.srv.trackByID(trackID)
	if tr == nil {
		// Unknown track: ignored per the dialog contract, not an error reply.
		return NewResponse(200)
	}

	transportHeader := req.Header["Transport"]
	spec, ok := parseFirstTransport(transportHeader)
	if !ok {
		d.srv.logger.DebugSession("setup failed", "error", ErrUnsupportedTransport, "transport", transportHeader)
		return NewResponse(461)
	}

	ssrc := d.srv.config.SSRCSeed ^ uint32(trackID)<<16 ^ uint32(time.Now().UnixNano())

	var transport Transport
	var err error
	switch spec.kind {
	case transportTCP:
		transport = newTCPTransport(d.nc, &d.conn.writeMu, spec.interleavedData, spec.interleavedCtrl)
	case transportUDP:
		peerIP := spec.destination
		if peerIP == "" {
			peerIP = d.conn.RemoteAddr()
		}
		transport, err = newUDPTransport(peerIP, spec.clientPortData, spec.clientPortCtrl, d.conn.onRTCPReceived(trackID))
	default:
		d.srv.logger.DebugSession("setup failed", "error", ErrUnsupportedTransport, "transport", transportHeader)
		return NewResponse(461)
	}
	if err != nil {
		d.srv.logger.Error("setup transport bind failed", "error", err, "track_id", trackID)
		return NewResponse(461)
	}

	d.conn.bindStream(trackID, transport, ssrc)

	if d.conn.getState() == stateInit {
		d.conn.assignSessionID()
		d.conn.setState(stateReady)
		d.srv.registry.add(d.conn)
	}

	resp := NewResponse(200)
	resp.Header["Session"] = fmt.Sprintf("%s;timeout=60", d.conn.SessionID())
	resp.Header["Transport"] = fmt.Sprintf("%s;ssrc=%08x", transport.Describe(), ssrc)
	return resp
}

// resolveSession reports ErrUnknownSession when the dialog has no bound
// session yet, or when the request names a Session header that does not
// match this connection's own id.
func (d *dialog) resolveSession(req *Request) error {
	if d.conn.getState() == stateInit {
		return ErrUnknownSession
	}
	if sid := req.Header["Session"]; sid != "" && sid != d.conn.SessionID() {
		return ErrUnknownSession
	}
	return nil
}

func (d *dialog) handlePlay(req *Request) *Response {
	if err := d.resolveSession(req); err != nil {
		d.srv.logger.DebugSession("play failed", "error", err, "session_id", req.Header["Session"])
		return NewResponse(454)
	}

	d.conn.setState(statePlaying)

	rtpInfoParts := make([]string, 0, 2)
	for _, s := range d.conn.allStreams() {
		s.mustSendRTCP = true
		rtpInfoParts = append(rtpInfoParts, fmt.Sprintf("url=%s;seq=%d", req.URI, s.seq))
	}

	resp := NewResponse(200)
	resp.Header["Range"] = "npt=0-"
	resp.Header["RTP-Info"] = strings.Join(rtpInfoParts, ",")
	return resp
}

func (d *dialog) handlePause(req *Request) *Response {
	if err := d.resolveSession(req); err != nil {
		d.srv.logger.DebugSession("pause failed", "error", err, "session_id", req.Header["Session"])
		return NewResponse(454)
	}
	d.conn.setState(stateReady)
	return NewResponse(200)
}

func (d *dialog) handleGetParameter(req *Request) *Response {
	if err := d.resolveSession(req); err != nil {
		d.srv.logger.DebugSession("get_parameter failed", "error", err, "session_id", req.Header["Session"])
		return NewResponse(454)
	}
	return NewResponse(200)
}

func (d *dialog) handleTeardown(req *Request) *Response {
	if err := d.resolveSession(req); err != nil {
		d.srv.logger.DebugSession("teardown failed", "error", err, "session_id", req.Header["Session"])
		return NewResponse(454)
	}
	d.conn.setState(stateTeardown)
	d.srv.registry.remove(d.conn.id)
	return NewResponse(200)
}

// parseTrackID pulls the trailing trackID=<n> query/path component off a
// SETUP request URI.
func parseTrackID(uri string) (int, bool) {
	idx := strings.LastIndex(uri, "trackID=")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(uri[idx+len("trackID="):])
	if err != nil {
		return 0, false
	}
	return n, true
}

type transportKind int

const (
	transportTCP transportKind = iota
	transportUDP
	transportMulticast
)

type transportSpec struct {
	kind            transportKind
	interleavedData byte
	interleavedCtrl byte
	clientPortData  int
	clientPortCtrl  int
	destination     string
}

// parseFirstTransport parses the first comma-separated alternative of a
// Transport header into a transportSpec, per "choose the first transport".
func parseFirstTransport(header string) (transportSpec, bool) {
	if header == "" {
		return transportSpec{}, false
	}
	first := strings.Split(header, ",")[0]
	fields := strings.Split(first, ";")
	if len(fields) == 0 {
		return transportSpec{}, false
	}

	spec := transportSpec{}
	switch {
	case strings.Contains(fields[0], "TCP"):
		spec.kind = transportTCP
	case strings.Contains(first, "multicast"):
		spec.kind = transportMulticast
	default:
		spec.kind = transportUDP
	}

	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		switch {
		case strings.HasPrefix(f, "interleaved="):
			lo, hi, ok := splitPortPair(strings.TrimPrefix(f, "interleaved="))
			if ok {
				spec.interleavedData = byte(lo)
				spec.interleavedCtrl = byte(hi)
			}
		case strings.HasPrefix(f, "client_port="):
			lo, hi, ok := splitPortPair(strings.TrimPrefix(f, "client_port="))
			if ok {
				spec.clientPortData = lo
				spec.clientPortCtrl = hi
			}
		case strings.HasPrefix(f, "destination="):
			spec.destination = strings.TrimPrefix(f, "destination=")
		}
	}

	if spec.kind == transportMulticast {
		return spec, false
	}
	return spec, true
}

func splitPortPair(s string) (int, int, bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, err1 := strconv.Atoi(parts[0])
	hi, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

// trackByID resolves a track by its well-known id (0=video, 1=audio).
func (s *Server) trackByID(id int) *track.Track {
	if s.videoTrack != nil && s.videoTrack.ID() == id {
		return s.videoTrack
	}
	if s.audioTrack != nil && s.audioTrack.ID() == id {
		return s.audioTrack
	}
	return nil
}

