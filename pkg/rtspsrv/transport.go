package rtspsrv

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtcp"
)

// udpPortRangeStart and udpPortRangeEnd bound the UDP pair search space.
const (
	udpPortRangeStart = 50000
	udpPortRangeEnd   = 51000
)

// Transport exposes the duplex contract every concrete transport variant
// presents to the dialog engine and feed API: data-port write, control-port
// write, and (for UDP) a control_received event the Connection subscribes
// to for keep-alive bookkeeping.
type Transport interface {
	WriteData(b []byte) error
	WriteControl(b []byte) error
	Close() error
	// Describe returns the Transport: response header value for this
	// variant, profile and "unicast" included; the caller appends ";ssrc=".
	Describe() string
}

// tcpTransport wraps the RTSP listener's own socket plus two interleaved
// channel ids. A write prefixes the bytes with `$<channel:u8><len:u16 BE>`
// and pushes them onto the same framed stream that carries RTSP, per RFC
// 2326 §10.12.
type tcpTransport struct {
	conn           net.Conn
	writeMu        *sync.Mutex // shared with the connection's RTSP response writer
	dataChannel    byte
	controlChannel byte
}

func newTCPTransport(conn net.Conn, writeMu *sync.Mutex, dataChannel, controlChannel byte) *tcpTransport {
	return &tcpTransport{conn: conn, writeMu: writeMu, dataChannel: dataChannel, controlChannel: controlChannel}
}

func (t *tcpTransport) WriteData(b []byte) error    { return t.writeFramed(t.dataChannel, b) }
func (t *tcpTransport) WriteControl(b []byte) error { return t.writeFramed(t.controlChannel, b) }
func (t *tcpTransport) Close() error                { return nil } // the RTSP socket outlives any one stream's transport

func (t *tcpTransport) Describe() string {
	return fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", t.dataChannel, t.controlChannel)
}

func (t *tcpTransport) writeFramed(channel byte, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	frame := make([]byte, 4+len(payload))
	frame[0] = '$'
	frame[1] = channel
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)

	_, err := t.conn.Write(frame)
	return err
}

// udpTransport is a bound pair of UDP sockets on adjacent ports, with peer
// data/control addresses set from the client's transport.client_port.
type udpTransport struct {
	dataConn *net.UDPConn
	ctrlConn *net.UDPConn

	dataPort int
	ctrlPort int

	peerDataAddr *net.UDPAddr
	peerCtrlAddr *net.UDPAddr

	onControlReceived func([]byte)

	closeOnce sync.Once
	done      chan struct{}
}

// newUDPTransport binds a UDP pair by trying consecutive even/odd ports in
// [udpPortRangeStart, udpPortRangeEnd] until one succeeds, and wires the
// peer addresses the client advertised in its SETUP Transport header.
func newUDPTransport(peerIP string, peerDataPort, peerCtrlPort int, onControlReceived func([]byte)) (*udpTransport, error) {
	for port := udpPortRangeStart; port < udpPortRangeEnd; port += 2 {
		dataConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err != nil {
			continue
		}
		ctrlConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port + 1})
		if err != nil {
			dataConn.Close()
			continue
		}

		t := &udpTransport{
			dataConn:          dataConn,
			ctrlConn:          ctrlConn,
			dataPort:          port,
			ctrlPort:          port + 1,
			peerDataAddr:      &net.UDPAddr{IP: net.ParseIP(peerIP), Port: peerDataPort},
			peerCtrlAddr:      &net.UDPAddr{IP: net.ParseIP(peerIP), Port: peerCtrlPort},
			onControlReceived: onControlReceived,
			done:              make(chan struct{}),
		}
		go t.readControlLoop()
		return t, nil
	}

	return nil, ErrPortOutOfRange
}

func (t *udpTransport) WriteData(b []byte) error {
	_, err := t.dataConn.WriteToUDP(b, t.peerDataAddr)
	return err
}

func (t *udpTransport) WriteControl(b []byte) error {
	_, err := t.ctrlConn.WriteToUDP(b, t.peerCtrlAddr)
	return err
}

func (t *udpTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	err1 := t.dataConn.Close()
	err2 := t.ctrlConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (t *udpTransport) Describe() string {
	return fmt.Sprintf("RTP/AVP/UDP;unicast;client_port=%d-%d;server_port=%d-%d",
		t.peerDataAddr.Port, t.peerCtrlAddr.Port, t.dataPort, t.ctrlPort)
}

// readControlLoop is the UDP pair's socket-reader goroutine. It decodes
// inbound bytes with pion/rtcp purely to detect Receiver Reports/BYE for
// keep-alive bookkeeping; the server never originates anything but Sender
// Reports, so "packet arrived" is all that matters here.
func (t *udpTransport) readControlLoop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, _, err := t.ctrlConn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		if _, err := rtcp.Unmarshal(buf[:n]); err != nil {
			continue
		}

		if t.onControlReceived != nil {
			t.onControlReceived(append([]byte(nil), buf[:n]...))
		}
	}
}
