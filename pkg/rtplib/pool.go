package rtplib

import "sync"

// packetBufferPool rents wire-format byte buffers for marshaled RTP
// packets. The fan-out loop in the broadcast path is the sole renter: it
// gets a buffer, marshals one patched packet into it, writes it to one
// connection's transport, and returns it immediately — there is no
// reference counting because nothing outlives a single fan-out iteration.
var packetBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 1500)
		return &buf
	},
}

// GetPacketBuffer rents a byte slice with at least the requested capacity.
// Callers must return it with PutPacketBuffer once the write it backs has
// completed (success or failure).
func GetPacketBuffer(size int) []byte {
	ptr := packetBufferPool.Get().(*[]byte)
	buf := *ptr
	if cap(buf) < size {
		buf = make([]byte, size)
		return buf
	}
	return buf[:size]
}

// PutPacketBuffer returns a buffer obtained from GetPacketBuffer to the
// pool. Buffers below the pool's baseline capacity are dropped rather than
// pooled undersized.
func PutPacketBuffer(buf []byte) {
	if cap(buf) < 1500 {
		return
	}
	buf = buf[:cap(buf)]
	packetBufferPool.Put(&buf)
}
