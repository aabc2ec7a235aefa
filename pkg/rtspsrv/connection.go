package rtspsrv

import (
	"net"
	"sync"
	"time"
)

// sessionState is the per-connection RTSP state machine position, per the
// dialog's Init -> Ready <-> Playing -> Teardown lifecycle.
type sessionState int

const (
	stateInit sessionState = iota
	stateReady
	statePlaying
	stateTeardown
)

func (s sessionState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateReady:
		return "ready"
	case statePlaying:
		return "playing"
	default:
		return "teardown"
	}
}

// streamState is the per-track delivery bookkeeping a Connection keeps once
// SETUP has bound a transport to a track: sequence number continuity,
// counters for the RTCP Sender Report, and the must_send_rtcp latch that
// forces one SR onto the very first packet of each PLAY.
type streamState struct {
	trackID   int
	transport Transport
	ssrc      uint32

	seq         uint16
	packetCount uint32
	octetCount  uint32

	mustSendRTCP   bool
	lastRTCPRecvAt time.Time
}

// Connection is one client's RTSP dialog plus its bound media transports.
// One Connection exists per accepted TCP socket; UDP transports still
// funnel their control events back through this same struct so the
// keep-alive sweep has a single timestamp to check.
type Connection struct {
	id         string
	conn       net.Conn
	remoteAddr string

	writeMu sync.Mutex // shared by RTSP responses and any TCP-interleaved transport on this socket

	mu            sync.Mutex
	state         sessionState
	streams       map[int]*streamState
	lastActivity  time.Time
	authenticated bool
}

// newConnection wraps an accepted socket. Its session id is not allocated
// until the first successful SETUP, per the "fresh session id on first
// successful SETUP" rule.
func newConnection(conn net.Conn) *Connection {
	return &Connection{
		conn:         conn,
		remoteAddr:   conn.RemoteAddr().String(),
		state:        stateInit,
		streams:      make(map[int]*streamState),
		lastActivity: time.Now(),
	}
}

// SessionID returns this connection's RTSP Session header value. Empty
// until assignSessionID has been called.
func (c *Connection) SessionID() string { return c.id }

// assignSessionID allocates this connection's session id from the
// process-wide monotonic counter, if it has not already been assigned.
func (c *Connection) assignSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == "" {
		c.id = nextSessionID()
	}
	return c.id
}

// RemoteAddr returns the client's dotted address, used to default UDP peer
// addresses when a SETUP Transport header omits the destination.
func (c *Connection) RemoteAddr() string {
	host, _, err := net.SplitHostPort(c.remoteAddr)
	if err != nil {
		return c.remoteAddr
	}
	return host
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connection) getState() sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s sessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// bindStream records a SETUP's transport and the caller-chosen SSRC for a
// track, starting its sequence number at 1 with the RTCP latch set.
func (c *Connection) bindStream(trackID int, transport Transport, ssrc uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[trackID] = &streamState{
		trackID:      trackID,
		transport:    transport,
		ssrc:         ssrc,
		seq:          1,
		mustSendRTCP: true,
	}
}

func (c *Connection) streamFor(trackID int) (*streamState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[trackID]
	return s, ok
}

// allStreams returns a snapshot of the bound streams, safe to iterate
// without holding the connection lock.
func (c *Connection) allStreams() []*streamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*streamState, 0, len(c.streams))
	for _, s := range c.streams {
		out = append(out, s)
	}
	return out
}

// onRTCPReceived marks the connection alive; it is wired as the
// control_received callback for every UDP transport this connection binds.
func (c *Connection) onRTCPReceived(trackID int) func([]byte) {
	return func([]byte) {
		c.touch()
		c.mu.Lock()
		if s, ok := c.streams[trackID]; ok {
			s.lastRTCPRecvAt = time.Now()
		}
		c.mu.Unlock()
	}
}

// closeTransports tears down every bound UDP transport; TCP transports are
// no-ops here since the shared socket is closed by the dialog loop itself.
func (c *Connection) closeTransports() {
	for _, s := range c.allStreams() {
		if s.transport != nil {
			_ = s.transport.Close()
		}
	}
}
