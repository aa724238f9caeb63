package logging

import "sync"

// RingBuffer keeps the most recent bytes written to it, up to a fixed
// capacity. The kernel console is one.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	pos  int
	full bool
}

// NewRingBuffer creates a ring buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write appends p, dropping the oldest bytes once the buffer is full. It
// never fails.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n >= len(rb.buf) {
		copy(rb.buf, p[n-len(rb.buf):])
		rb.pos, rb.full = 0, true
		return n, nil
	}
	for len(p) > 0 {
		c := copy(rb.buf[rb.pos:], p)
		p = p[c:]
		rb.pos += c
		if rb.pos == len(rb.buf) {
			rb.pos, rb.full = 0, true
		}
	}
	return n, nil
}

// Read returns the last n bytes written, or everything held if n is
// larger. It returns nil when the buffer is empty.
func (rb *RingBuffer) Read(n int) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n = min(n, rb.lenLocked())
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	start := rb.pos - n
	if start >= 0 {
		copy(out, rb.buf[start:rb.pos])
		return out
	}
	c := copy(out, rb.buf[len(rb.buf)+start:])
	copy(out[c:], rb.buf[:rb.pos])
	return out
}

// String returns everything held.
func (rb *RingBuffer) String() string { return string(rb.Read(rb.Len())) }

// Len returns the number of bytes held.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.lenLocked()
}

func (rb *RingBuffer) lenLocked() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// Cap returns the buffer's capacity.
func (rb *RingBuffer) Cap() int { return len(rb.buf) }

// Reset empties the buffer.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.pos, rb.full = 0, false
}
