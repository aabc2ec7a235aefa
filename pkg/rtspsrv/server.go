// Package rtspsrv implements the RTSP 1.0 dialog engine, session registry,
// transports, and broadcast feed API: everything between an accepted TCP
// socket and the packetized RTP a track hands to its Sink.
package rtspsrv

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/ethan/rtsp-streamer/pkg/config"
	"github.com/ethan/rtsp-streamer/pkg/logger"
	"github.com/ethan/rtsp-streamer/pkg/rtplib"
	"github.com/ethan/rtsp-streamer/pkg/track"
)

// Server owns the listener, the two well-known tracks, the connection
// registry, and the authenticator. It implements track.Sink so a Track's
// FeedRawSamples/FeedRawAudioSample calls land directly on FeedRawRTP
// without either side holding a pointer to the other's internals.
type Server struct {
	config config.ServerConfig
	logger *logger.Logger

	authenticator Authenticator

	videoTrack *track.Track
	audioTrack *track.Track

	registry *connectionRegistry

	mu        sync.Mutex
	listener  net.Listener
	listening bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Server from its configuration and log sink. If the
// config carries a username/password, Digest authentication is enabled
// unless AuthScheme selects "basic".
func New(cfg config.ServerConfig, log *logger.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rtspsrv: invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:   cfg,
		logger:   log,
		registry: newConnectionRegistry(log.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.HasAuth() {
		cred := Credential{Username: cfg.Username, Password: cfg.Password}
		switch cfg.AuthScheme {
		case "basic":
			s.authenticator = NewBasicAuthenticator(cred)
		default:
			auth, err := NewDigestAuthenticator(cred)
			if err != nil {
				cancel()
				return nil, fmt.Errorf("rtspsrv: build authenticator: %w", err)
			}
			s.authenticator = auth
		}
	}

	return s, nil
}

// AddVideoTrack registers the server's video track and attaches this
// server as its Sink. Must be called before StartListen.
func (s *Server) AddVideoTrack(t *track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return ErrServerAlreadyListening
	}
	t.AttachSink(s)
	s.videoTrack = t
	return nil
}

// AddAudioTrack registers the server's audio track and attaches this
// server as its Sink. Must be called before StartListen.
func (s *Server) AddAudioTrack(t *track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return ErrServerAlreadyListening
	}
	t.AttachSink(s)
	s.audioTrack = t
	return nil
}

// StartListen opens the RTSP TCP listener and starts the accept loop and
// the registry's idle-connection sweep.
func (s *Server) StartListen() error {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return ErrServerAlreadyListening
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("rtspsrv: listen %s: %w", s.config.ListenAddr, err)
	}
	s.listener = ln
	s.listening = true
	s.mu.Unlock()

	s.registry.start()

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("rtsp server listening", "addr", s.config.ListenAddr)
	return nil
}

// StopListen closes the listener, stops the sweep, and tears every
// connection down.
func (s *Server) StopListen() error {
	s.cancel()

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	s.wg.Wait()
	s.registry.stop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("accept error", "error", err)
				return
			}
		}

		conn := newConnection(nc)
		d := &dialog{srv: s, conn: conn, nc: nc, r: bufio.NewReader(nc)}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			d.serve()
			s.registry.remove(conn.SessionID())
		}()
	}
}

// FeedRawRTP implements track.Sink. It is called by a Track after
// packetizing one access unit; it stamps sequence number and SSRC per
// connection, writes an RTCP Sender Report first when must_send_rtcp is
// latched, and isolates per-connection transport write errors exactly as
// the fan-out contract requires.
func (s *Server) FeedRawRTP(trackID int, timestamp uint32, packets []*rtp.Packet, payloadBytes int) {
	now := time.Now()

	for _, conn := range s.registry.playing() {
		stream, ok := conn.streamFor(trackID)
		if !ok || stream.transport == nil {
			continue
		}

		if stream.mustSendRTCP {
			sr := rtplib.BuildSenderReport(stream.ssrc, now, timestamp, stream.packetCount, stream.octetCount)
			buf, err := sr.Marshal()
			if err == nil {
				if err := stream.transport.WriteControl(buf); err != nil {
					s.logger.DebugTransport("rtcp write failed, tearing down", "session_id", conn.id, "error", err)
					conn.setState(stateTeardown)
					s.registry.remove(conn.id)
					continue
				}
			}
			stream.mustSendRTCP = false
		}

		writeErr := false
		for _, p := range packets {
			out := *p
			out.SequenceNumber = stream.seq
			out.SSRC = stream.ssrc

			buf := rtplib.GetPacketBuffer(out.MarshalSize())
			n, err := out.MarshalTo(buf)
			if err != nil {
				rtplib.PutPacketBuffer(buf)
				continue
			}
			writeTargetErr := stream.transport.WriteData(buf[:n])
			rtplib.PutPacketBuffer(buf)
			if writeTargetErr != nil {
				s.logger.DebugTransport("rtp write failed, tearing down", "session_id", conn.id, "error", writeTargetErr)
				writeErr = true
				break
			}

			stream.seq++
			stream.packetCount++
		}

		if !writeErr {
			stream.octetCount += uint32(payloadBytes)
		}

		if writeErr {
			conn.setState(stateTeardown)
			s.registry.remove(conn.id)
		}
	}
}

// FeedVideo packetizes one H.264/H.265 access unit and fans it out to every
// PLAYing connection's video stream.
func (s *Server) FeedVideo(timestamp uint32, nalus [][]byte) error {
	s.mu.Lock()
	v := s.videoTrack
	s.mu.Unlock()
	if v == nil {
		return fmt.Errorf("rtspsrv: no video track registered")
	}
	return v.FeedRawSamples(timestamp, nalus)
}

// FeedAudio packetizes one AAC access unit and fans it out to every PLAYing
// connection's audio stream.
func (s *Server) FeedAudio(timestamp uint32, au []byte) error {
	s.mu.Lock()
	a := s.audioTrack
	s.mu.Unlock()
	if a == nil {
		return fmt.Errorf("rtspsrv: no audio track registered")
	}
	return a.FeedRawAudioSample(timestamp, au)
}
