package gateway

import (
	"encoding/binary"
	"sort"
)

// Connections relayed through an MQTT gateway carry a 16-byte header on every
// binary frame: bytes 8-11 are a big-endian millisecond timestamp, bytes
// 12-15 the Opus payload length. UDP legs between device and gateway can
// reorder frames, so a small buffer restores timestamp order before decode.
const (
	relayHeaderSize = 16
	relayTSOffset   = 8
	relayLenOffset  = 12

	// reorderDepth is how many frames may be held back waiting for an
	// earlier timestamp before the buffer is flushed regardless.
	reorderDepth = 20
)

type relayFrame struct {
	ts      uint32
	payload []byte
}

// Reorderer strips relay headers and re-sequences frames by timestamp.
// Zero-length payloads are gateway keepalives and are swallowed. Not safe for
// concurrent use; each connection owns one.
type Reorderer struct {
	buf    []relayFrame
	lastTS uint32
	seen   bool
}

// NewReorderer returns an empty reorder buffer.
func NewReorderer() *Reorderer {
	return &Reorderer{buf: make([]relayFrame, 0, reorderDepth)}
}

// Push accepts one raw relay frame and returns the Opus payloads that are now
// in order. Malformed frames and keepalives return nothing.
func (r *Reorderer) Push(data []byte) [][]byte {
	if len(data) < relayHeaderSize {
		return nil
	}
	ts := binary.BigEndian.Uint32(data[relayTSOffset:])
	plen := binary.BigEndian.Uint32(data[relayLenOffset:])
	if plen == 0 {
		return nil // keepalive
	}
	if int(plen) > len(data)-relayHeaderSize {
		return nil
	}
	payload := append([]byte(nil), data[relayHeaderSize:relayHeaderSize+plen]...)

	// Frames at or before the last released timestamp arrived too late.
	if r.seen && ts <= r.lastTS {
		return nil
	}
	r.buf = append(r.buf, relayFrame{ts: ts, payload: payload})
	sort.Slice(r.buf, func(i, j int) bool { return r.buf[i].ts < r.buf[j].ts })

	var out [][]byte
	// Release the oldest frames once the buffer is full, plus any frame that
	// directly follows what was already released.
	for len(r.buf) > 0 {
		head := r.buf[0]
		if len(r.buf) < reorderDepth && r.seen && head.ts != r.lastTS+frameStepMs {
			break
		}
		out = append(out, head.payload)
		r.lastTS = head.ts
		r.seen = true
		r.buf = r.buf[1:]
	}
	return out
}

// frameStepMs is the expected timestamp delta between consecutive frames.
const frameStepMs = 60

// Reset drops buffered frames, e.g. after a barge-in abort.
func (r *Reorderer) Reset() {
	r.buf = r.buf[:0]
	r.seen = false
	r.lastTS = 0
}

// BuildRelayFrame wraps an Opus payload in the relay header for the outbound
// direction.
func BuildRelayFrame(timestampMs uint32, payload []byte) []byte {
	out := make([]byte, relayHeaderSize+len(payload))
	out[0] = 1 // version
	binary.BigEndian.PutUint32(out[relayTSOffset:], timestampMs)
	binary.BigEndian.PutUint32(out[relayLenOffset:], uint32(len(payload)))
	copy(out[relayHeaderSize:], payload)
	return out
}
