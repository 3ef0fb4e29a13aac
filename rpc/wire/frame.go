// Package wire implements the length-framed, ASCII-keyed argument record
// that is the transport's on-the-wire unit: a 2-byte big-endian length
// prefix followed by a body of key/value pairs, grounded on the fixed-
// header frame in the teacher's core/rpc/protocol/frame.go, simplified to
// the spec's variable-length body (no separate metadata/payload split —
// one self-describing map carries everything).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest body a frame may carry; the 2-byte length
// prefix cannot address more than this.
const MaxFrameSize = 65535

var (
	// ErrFrameTooLarge is returned when a body's encoded length would not
	// fit in the u16 length prefix.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	// ErrMalformedFrame is returned when a frame's body does not match the
	// grammar described in value.go.
	ErrMalformedFrame = errors.New("wire: malformed frame")
)

// ReadFrame reads one length-prefixed body from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// WriteFrame writes body as one length-prefixed frame to w. The header
// and body are coalesced into a single pooled buffer so a write takes
// one syscall instead of two.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := globalFramePool.get(len(body) + 2)
	defer globalFramePool.put(buf)

	*buf = append((*buf)[:0], byte(len(body)>>8), byte(len(body)))
	*buf = append(*buf, body...)
	_, err := w.Write(*buf)
	return err
}

// malformed wraps a decode-time failure with context, always classified
// as ErrMalformedFrame by callers via errors.Is.
func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
