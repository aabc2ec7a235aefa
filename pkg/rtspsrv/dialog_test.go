package rtspsrv

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/ethan/rtsp-streamer/pkg/config"
	"github.com/ethan/rtsp-streamer/pkg/logger"
	"github.com/ethan/rtsp-streamer/pkg/track"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	cfg := config.Defaults()
	srv, err := New(cfg, log)
	require.NoError(t, err)

	video := track.NewVideoTrack(0, track.CodecH264, cfg.MTUPayload)
	video.SetParameterSetsH264([]byte{0x67, 0x42, 0x00}, []byte{0x68, 0xCE})
	require.NoError(t, srv.AddVideoTrack(video))

	audio := track.NewAudioTrack(1, 48000, 2)
	audio.SetAACConfig([]byte{0x11, 0x90})
	require.NoError(t, srv.AddAudioTrack(audio))

	return srv
}

// pipeDialog wires a dialog directly onto one end of a net.Pipe and serves
// it in the background, returning the client end for the test to drive.
func pipeDialog(t *testing.T, srv *Server) (client net.Conn, clientReader *bufio.Reader) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	conn := newConnection(serverConn)
	d := &dialog{srv: srv, conn: conn, nc: serverConn, r: bufio.NewReader(serverConn)}

	done := make(chan struct{})
	go func() {
		d.serve()
		close(done)
	}()
	t.Cleanup(func() {
		clientConn.Close()
		<-done
	})

	return clientConn, bufio.NewReader(clientConn)
}

func sendRequest(t *testing.T, w net.Conn, r *bufio.Reader, method, uri string, headers map[string]string, cseq int) *Response {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", cseq)
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	require.NoError(t, w.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := w.Write([]byte(b.String()))
	require.NoError(t, err)

	require.NoError(t, w.SetReadDeadline(time.Now().Add(2*time.Second)))
	statusLine, err := r.ReadString('\n')
	require.NoError(t, err)
	fields := strings.Fields(statusLine)
	require.GreaterOrEqual(t, len(fields), 2)

	resp := &Response{Header: make(map[string]string)}
	fmt.Sscanf(fields[1], "%d", &resp.StatusCode)

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		resp.Header[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
	}
	if n, err := strconv.Atoi(resp.Header["Content-Length"]); err == nil && n > 0 {
		resp.Body = make([]byte, n)
		_, err = io.ReadFull(r, resp.Body)
		require.NoError(t, err)
	}
	return resp
}

func TestDialogOptionsDescribeSetupPlayTeardown(t *testing.T) {
	srv := newTestServer(t)
	client, r := pipeDialog(t, srv)

	resp := sendRequest(t, client, r, "OPTIONS", "rtsp://test/", nil, 1)
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, resp.Header["Public"], "PLAY")

	resp = sendRequest(t, client, r, "DESCRIBE", "rtsp://test/", nil, 2)
	require.Equal(t, 200, resp.StatusCode)

	resp = sendRequest(t, client, r, "SETUP", "rtsp://test/trackID=0",
		map[string]string{"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1"}, 3)
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, resp.Header["Session"], ";timeout=60")
	require.Contains(t, resp.Header["Transport"], "interleaved=0-1")

	resp = sendRequest(t, client, r, "SETUP", "rtsp://test/trackID=1",
		map[string]string{"Transport": "RTP/AVP/TCP;unicast;interleaved=2-3"}, 4)
	require.Equal(t, 200, resp.StatusCode)

	resp = sendRequest(t, client, r, "PLAY", "rtsp://test/", nil, 5)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "npt=0-", resp.Header["Range"])
	require.Contains(t, resp.Header["RTP-Info"], "url=rtsp://test/")
	require.Contains(t, resp.Header["RTP-Info"], "seq=")

	resp = sendRequest(t, client, r, "TEARDOWN", "rtsp://test/", nil, 6)
	require.Equal(t, 200, resp.StatusCode)
}

func TestDialogDescribeBeforeParameterSetsFails(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	cfg := config.Defaults()
	srv, err := New(cfg, log)
	require.NoError(t, err)

	video := track.NewVideoTrack(0, track.CodecH264, cfg.MTUPayload)
	require.NoError(t, srv.AddVideoTrack(video))

	client, r := pipeDialog(t, srv)
	resp := sendRequest(t, client, r, "DESCRIBE", "rtsp://test/", nil, 1)
	require.Equal(t, 400, resp.StatusCode)
}

func TestDialogPlayBeforeSetupReturns454(t *testing.T) {
	srv := newTestServer(t)
	client, r := pipeDialog(t, srv)

	resp := sendRequest(t, client, r, "PLAY", "rtsp://test/", nil, 1)
	require.Equal(t, 454, resp.StatusCode)
}

func TestDialogUnknownMethodReturns400(t *testing.T) {
	srv := newTestServer(t)
	client, r := pipeDialog(t, srv)

	resp := sendRequest(t, client, r, "RECORD", "rtsp://test/", nil, 1)
	require.Equal(t, 400, resp.StatusCode)
}

// fakeTransport is a Transport stub used to force a write error on one
// connection while a sibling connection keeps receiving, mirroring the
// write-error-isolation scenario the broadcast fan-out must honor.
type fakeTransport struct {
	writeErr error
	written  [][]byte
}

func (f *fakeTransport) WriteData(b []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), b...))
	return nil
}
func (f *fakeTransport) WriteControl(b []byte) error { return nil }
func (f *fakeTransport) Close() error                { return nil }
func (f *fakeTransport) Describe() string            { return "RTP/AVP/TCP;unicast" }

func TestFeedRawRTPIsolatesWriteErrors(t *testing.T) {
	srv := newTestServer(t)
	srv.registry.start()
	t.Cleanup(srv.registry.stop)

	failing := newTestConnection(t)
	failing.assignSessionID()
	failingTransport := &fakeTransport{writeErr: fmt.Errorf("broken pipe")}
	failing.bindStream(0, failingTransport, 0xAAAA)
	failing.setState(statePlaying)
	srv.registry.add(failing)

	healthy := newTestConnection(t)
	healthyTransport := &fakeTransport{}
	healthy.bindStream(0, healthyTransport, 0xBBBB)
	healthy.setState(statePlaying)
	srv.registry.add(healthy)

	packet := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, Timestamp: 1000},
		Payload: []byte{0x67, 0x01, 0x02},
	}
	srv.FeedRawRTP(0, 1000, []*rtp.Packet{packet}, len(packet.Payload))

	require.Len(t, healthyTransport.written, 1)
	_, stillThere := srv.registry.get(failing.SessionID())
	require.False(t, stillThere)
	_, stillHealthy := srv.registry.get(healthy.SessionID())
	require.True(t, stillHealthy)
}
