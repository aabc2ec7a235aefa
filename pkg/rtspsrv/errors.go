package rtspsrv

import "errors"

// Sentinel errors surfaced to the feed API and the dialog engine. Per the
// error-handling design, configuration errors are fatal to the caller while
// transport errors are absorbed per-connection.
var (
	// ErrTrackNotReady is logged by DESCRIBE handling (which replies 400)
	// when a track's parameter sets have not been set.
	ErrTrackNotReady = errors.New("rtspsrv: track not ready")
	// ErrUnknownSession is returned by resolveSession when a
	// PLAY/PAUSE/GET_PARAMETER/TEARDOWN request arrives before any SETUP or
	// names a Session id other than this connection's own.
	ErrUnknownSession = errors.New("rtspsrv: unknown session id")
	// ErrUnsupportedTransport is logged for SETUP requests whose Transport
	// header is unparsable or names multicast, which this revision stubs
	// out.
	ErrUnsupportedTransport = errors.New("rtspsrv: unsupported transport")
	// ErrServerAlreadyListening is returned by AddVideoTrack/AddAudioTrack
	// once StartListen has been called.
	ErrServerAlreadyListening = errors.New("rtspsrv: server already listening")
	// ErrPortOutOfRange is returned when no UDP port pair could be bound in
	// the configured range.
	ErrPortOutOfRange = errors.New("rtspsrv: no UDP port pair available in range")
)
