package sink

import (
	"io"
	"sync"
)

// RingBuffer is a thread-safe byte ring implementing io.Reader. The player
// writes PCM via Write and the device backend pulls it via Read or Fill.
// Write drops the oldest bytes on overflow so the writer never stalls.
type RingBuffer struct {
	buf      []byte
	readPos  int
	writePos int
	count    int
	dropped  int
	mu       sync.Mutex
	cond     *sync.Cond
	closed   bool
}

// NewRingBuffer creates a ring buffer holding capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	rb := &RingBuffer{
		buf: make([]byte, capacity),
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// Write adds p to the buffer, discarding the oldest data if it does not
// fit. It returns the number of bytes discarded.
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if rb.closed || n == 0 {
		return 0
	}
	capacity := len(rb.buf)

	lost := 0
	if n > capacity {
		lost = n - capacity
		p = p[lost:]
		n = capacity
	}
	if overflow := rb.count + n - capacity; overflow > 0 {
		rb.readPos = (rb.readPos + overflow) % capacity
		rb.count -= overflow
		lost += overflow
	}

	first := capacity - rb.writePos
	if first >= n {
		copy(rb.buf[rb.writePos:], p)
	} else {
		copy(rb.buf[rb.writePos:], p[:first])
		copy(rb.buf, p[first:])
	}
	rb.writePos = (rb.writePos + n) % capacity
	rb.count += n
	rb.dropped += lost

	rb.cond.Signal()
	return lost
}

// Read implements io.Reader. It blocks until data is available and
// returns io.EOF once the buffer is closed and empty.
func (rb *RingBuffer) Read(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 {
		if rb.closed {
			return 0, io.EOF
		}
		rb.cond.Wait()
	}
	return rb.take(p), nil
}

// Fill copies as much buffered data into p as is available without
// blocking and zeroes the rest. It returns the number of real bytes.
func (rb *RingBuffer) Fill(p []byte) int {
	rb.mu.Lock()
	n := rb.take(p)
	rb.mu.Unlock()
	clear(p[n:])
	return n
}

// take copies out up to len(p) bytes. rb.mu must be held.
func (rb *RingBuffer) take(p []byte) int {
	n := min(len(p), rb.count)
	if n == 0 {
		return 0
	}
	capacity := len(rb.buf)
	first := capacity - rb.readPos
	if first >= n {
		copy(p, rb.buf[rb.readPos:rb.readPos+n])
	} else {
		copy(p, rb.buf[rb.readPos:])
		copy(p[first:], rb.buf[:n-first])
	}
	rb.readPos = (rb.readPos + n) % capacity
	rb.count -= n
	return n
}

// Buffered returns the number of bytes in the buffer.
func (rb *RingBuffer) Buffered() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Dropped returns the total number of bytes discarded by Write.
func (rb *RingBuffer) Dropped() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Clear discards all buffered data.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos = 0
	rb.writePos = 0
	rb.count = 0
}

// Close wakes blocked readers. Reads return io.EOF once the buffer is
// empty.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
}
