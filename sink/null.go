package sink

import (
	"sync"
	"time"
)

// Null discards audio but drains its backlog at the real playback rate,
// so pacing behaves as with a device. It is the fallback when no device
// can be opened.
type Null struct {
	mu      sync.Mutex
	now     func() time.Time
	queued  int
	drained time.Time
	played  int64
	closed  bool
}

// NewNull creates a silent sink. now defaults to time.Now.
func NewNull(now func() time.Time) *Null {
	if now == nil {
		now = time.Now
	}
	return &Null{now: now}
}

// drain advances the playback position. n.mu must be held.
func (n *Null) drain() {
	t := n.now()
	if n.queued == 0 || n.drained.IsZero() {
		n.drained = t
		return
	}
	played := int(t.Sub(n.drained) * BytesPerSecond / time.Second)
	played -= played % BytesPerFrame
	if played <= 0 {
		return
	}
	if played >= n.queued {
		n.played += int64(n.queued)
		n.queued = 0
		n.drained = t
		return
	}
	n.played += int64(played)
	n.queued -= played
	n.drained = n.drained.Add(time.Duration(played) * time.Second / BytesPerSecond)
}

// Feed implements Sink.
func (n *Null) Feed(p []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.drain()
	n.queued += len(p)
	return nil
}

// Buffered implements Sink.
func (n *Null) Buffered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drain()
	return n.queued
}

// Played returns the number of bytes that finished playing.
func (n *Null) Played() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drain()
	return n.played
}

// BytesPerSecond implements Sink.
func (n *Null) BytesPerSecond() int {
	return BytesPerSecond
}

// Close implements Sink.
func (n *Null) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.queued = 0
	return nil
}
