package transport

import (
	"encoding/binary"
	"errors"
)

// maxFramedMessage is the largest DNS message the 2-byte length prefix can
// describe (RFC 7858 framing).
const maxFramedMessage = 1 << 16

// maxBufferedBytes caps a connection's reassembly buffer. A peer that sends
// this much without completing a message is desynchronized or hostile, and
// the connection is closed rather than growing memory without bound.
const maxBufferedBytes = 4 * maxFramedMessage

// ErrBufferOverflow signals that a connection buffered more unconsumed bytes
// than maxBufferedBytes allows. It is a transport error: the connection must
// be closed because subsequent message boundaries cannot be trusted.
var ErrBufferOverflow = errors.New("stream buffer limit exceeded")

// streamFramer reassembles 2-byte-length-prefixed DNS messages from an
// unbounded byte stream. Each connection owns exactly one framer; it is not
// safe for concurrent use and never needs to be.
type streamFramer struct {
	buf   []byte
	limit int
}

// newStreamFramer returns a framer with the given buffer cap.
func newStreamFramer(limit int) *streamFramer {
	return &streamFramer{limit: limit}
}

// Append adds a chunk of stream data to the buffer.
func (f *streamFramer) Append(p []byte) error {
	if len(f.buf)+len(p) > f.limit {
		return ErrBufferOverflow
	}
	f.buf = append(f.buf, p...)
	return nil
}

// Next extracts the next complete message payload, if one is fully buffered.
// It returns ok=false when more stream data is needed; the partial remainder
// stays in place for the next Append.
func (f *streamFramer) Next() (payload []byte, ok bool) {
	if len(f.buf) < 2 {
		return nil, false
	}
	length := int(binary.BigEndian.Uint16(f.buf[:2]))
	if len(f.buf) < 2+length {
		return nil, false
	}
	payload = make([]byte, length)
	copy(payload, f.buf[2:2+length])
	f.buf = f.buf[2+length:]
	return payload, true
}

// Buffered returns the number of unconsumed bytes currently held.
func (f *streamFramer) Buffered() int {
	return len(f.buf)
}

// frameMessage prefixes msg with its 2-byte big-endian length for writing
// back onto the stream.
func frameMessage(msg []byte) []byte {
	framed := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(framed[:2], uint16(len(msg)))
	copy(framed[2:], msg)
	return framed
}
