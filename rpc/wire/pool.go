package wire

import "sync"

// Frame buffer size tiers, grounded on the teacher's three-tier
// core/pools.BufferPool, resized to this package's frame grammar instead
// of HTTP request/response bodies.
const (
	smallFrameSize  = 256         // acks, simple calls
	mediumFrameSize = 4 * 1024    // typical argument records
	largeFrameSize  = MaxFrameSize // worst case: a full frame
)

// framePool hands out scratch buffers for WriteFrame so the common case
// of a small call or response doesn't allocate on every write.
type framePool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func newFramePool() *framePool {
	return &framePool{
		small:  sync.Pool{New: func() any { b := make([]byte, 0, smallFrameSize); return &b }},
		medium: sync.Pool{New: func() any { b := make([]byte, 0, mediumFrameSize); return &b }},
		large:  sync.Pool{New: func() any { b := make([]byte, 0, largeFrameSize); return &b }},
	}
}

// get returns a buffer from the smallest tier whose size covers n. For n
// above largeFrameSize (a full-size body plus its 2-byte header) it
// returns a large-tier buffer, which the caller's append then grows.
func (fp *framePool) get(n int) *[]byte {
	switch {
	case n <= smallFrameSize:
		return fp.small.Get().(*[]byte)
	case n <= mediumFrameSize:
		return fp.medium.Get().(*[]byte)
	default:
		return fp.large.Get().(*[]byte)
	}
}

// put returns buf to the tier matching its capacity. A buffer that grew
// past largeFrameSize while a frame was written matches no tier and is
// dropped.
func (fp *framePool) put(buf *[]byte) {
	*buf = (*buf)[:0]
	switch c := cap(*buf); {
	case c <= smallFrameSize:
		fp.small.Put(buf)
	case c <= mediumFrameSize:
		fp.medium.Put(buf)
	case c <= largeFrameSize:
		fp.large.Put(buf)
	}
}

var globalFramePool = newFramePool()
