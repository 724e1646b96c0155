// Package pipeline hands synthesized audio from the emulation side to the
// playback goroutine through a fixed ring of stereo buffers.
//
// There is exactly one producer, which appends ticks and never blocks, and
// one consumer, which acquires the oldest ready buffer, plays it and
// releases it. When every slot is taken the producer keeps the completed
// buffer back and discards further audio, counting one drop per buffer of
// discarded frames.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// SampleRate is the rate of the audio carried by the pipeline.
const SampleRate = 48000

// SlotState is the ownership state of one ring slot.
type SlotState int32

const (
	SlotFree     SlotState = iota // owned by nobody, next for the producer
	SlotFilling                   // being written by the producer
	SlotReady                     // published, waiting for the consumer
	SlotInFlight                  // acquired by the consumer
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotFilling:
		return "filling"
	case SlotReady:
		return "ready"
	case SlotInFlight:
		return "in-flight"
	}
	return "unknown"
}

var (
	// ErrClosed is returned by Acquire once the pipeline is closed and
	// drained.
	ErrClosed = errors.New("pipeline closed")
	// ErrNotInFlight is returned when releasing a buffer that is not the
	// consumer's current buffer.
	ErrNotInFlight = errors.New("buffer not in flight")
	// ErrInFlight is returned by Acquire while a buffer is still held.
	ErrInFlight = errors.New("previous buffer not released")
)

// Config sizes the ring.
type Config struct {
	// Slots is the number of buffers in the ring. At most Slots-1 are
	// ready at any time.
	Slots int
	// TickFrames is the number of stereo frames in one synthesis tick.
	TickFrames int
	// TicksPerBuffer is the number of ticks collected into one buffer.
	TicksPerBuffer int
	// MinReady is how many buffers Acquire waits for.
	MinReady int
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a 24-slot ring of 16 ms buffers that starts
// playback once 3 buffers are queued.
func DefaultConfig() Config {
	return Config{
		Slots:          24,
		TickFrames:     48,
		TicksPerBuffer: 16,
		MinReady:       3,
	}
}

// Buffer is one slot of the ring.
type Buffer struct {
	// Samples holds interleaved stereo samples. Only the first Len()/2
	// entries are valid.
	Samples []int16
	// Stamp is when the producer completed the buffer.
	Stamp time.Time
	// Elapsed is the wall time the producer took to fill the buffer,
	// measured from the previous completed buffer.
	Elapsed time.Duration
	// NewVoices counts voices keyed on while the buffer was filling.
	NewVoices int
	// Slot is the buffer's ring index.
	Slot int

	fill int // frames written
}

// NewBuffer wraps interleaved stereo samples in a Buffer that belongs to
// no ring.
func NewBuffer(samples []int16, elapsed time.Duration) *Buffer {
	return &Buffer{
		Samples: samples,
		Elapsed: elapsed,
		Slot:    -1,
		fill:    len(samples) / 2,
	}
}

// Frames returns the valid interleaved samples.
func (b *Buffer) Frames() []int16 {
	return b.Samples[:b.fill*2]
}

// Len returns the buffer's size in bytes of 16-bit stereo PCM.
func (b *Buffer) Len() int {
	return b.fill * 4
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Ready     int
	Pending   bool
	Drops     uint64
	Published uint64
	Consumed  uint64
}

// Pipeline is a single-producer single-consumer ring of audio buffers.
type Pipeline struct {
	cfg          Config
	bufferFrames int
	nominal      time.Duration

	bufs   []Buffer
	states []atomic.Int32

	ready     atomic.Int32
	drops     atomic.Uint64
	deficit   atomic.Uint64
	published atomic.Uint64
	consumed  atomic.Uint64

	// producer side
	w       int
	pending bool
	discard int
	last    time.Time

	// consumer side
	r int

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a pipeline. Zero fields of cfg take their DefaultConfig
// values.
func New(cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.Slots < 2 {
		cfg.Slots = def.Slots
	}
	if cfg.TickFrames <= 0 {
		cfg.TickFrames = def.TickFrames
	}
	if cfg.TicksPerBuffer <= 0 {
		cfg.TicksPerBuffer = def.TicksPerBuffer
	}
	if cfg.MinReady <= 0 {
		cfg.MinReady = def.MinReady
	}
	if cfg.MinReady > cfg.Slots-1 {
		cfg.MinReady = cfg.Slots - 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	frames := cfg.TickFrames * cfg.TicksPerBuffer
	p := &Pipeline{
		cfg:          cfg,
		bufferFrames: frames,
		nominal:      time.Duration(frames) * time.Second / SampleRate,
		bufs:         make([]Buffer, cfg.Slots),
		states:       make([]atomic.Int32, cfg.Slots),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for i := range p.bufs {
		p.bufs[i].Samples = make([]int16, frames*2)
		p.bufs[i].Slot = i
	}
	p.states[0].Store(int32(SlotFilling))
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// BufferFrames returns the number of stereo frames per buffer.
func (p *Pipeline) BufferFrames() int {
	return p.bufferFrames
}

// BufferDuration returns the play time of one full buffer.
func (p *Pipeline) BufferDuration() time.Duration {
	return p.nominal
}

// Append copies interleaved stereo frames into the buffer being filled.
// It never blocks. newVoices is added to the buffer's new-voice counter.
func (p *Pipeline) Append(frames []int16, newVoices int) {
	if p.isClosed() {
		return
	}
	p.flushPending()

	if !p.pending {
		p.bufs[p.w].NewVoices += newVoices
	}
	for len(frames) >= 2 {
		if p.pending {
			p.discardFrames(len(frames) / 2)
			return
		}
		b := &p.bufs[p.w]
		n := copy(b.Samples[b.fill*2:], frames)
		b.fill += n / 2
		frames = frames[n:]
		if b.fill == p.bufferFrames {
			p.complete()
		}
	}
}

// discardFrames counts audio thrown away while the ring is full.
func (p *Pipeline) discardFrames(n int) {
	p.discard += n
	for p.discard >= p.bufferFrames {
		p.discard -= p.bufferFrames
		p.drops.Add(1)
		p.deficit.Add(1)
		// Resynchronize so the next buffer's duration excludes the stall.
		p.last = p.cfg.Now()
	}
}

// complete stamps the filled buffer and publishes it, or holds it back if
// the ring is full.
func (p *Pipeline) complete() {
	now := p.cfg.Now()
	b := &p.bufs[p.w]
	b.Stamp = now
	if p.last.IsZero() {
		b.Elapsed = p.nominal
	} else {
		b.Elapsed = now.Sub(p.last)
	}
	p.last = now

	if int(p.ready.Load()) < len(p.bufs)-1 {
		p.publish()
		return
	}
	p.pending = true
	p.discard = 0
}

// flushPending publishes a held-back buffer once the consumer freed a slot.
func (p *Pipeline) flushPending() {
	if !p.pending || int(p.ready.Load()) >= len(p.bufs)-1 {
		return
	}
	p.pending = false
	p.discard = 0
	p.publish()
}

func (p *Pipeline) publish() {
	p.states[p.w].Store(int32(SlotReady))
	p.ready.Add(1)
	p.published.Add(1)

	p.w = (p.w + 1) % len(p.bufs)
	if SlotState(p.states[p.w].Load()) != SlotFree {
		panic("pipeline: producer reached a slot that is still in use")
	}
	next := &p.bufs[p.w]
	next.fill = 0
	next.NewVoices = 0
	p.states[p.w].Store(int32(SlotFilling))

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Acquire waits until at least MinReady buffers are ready and returns the
// oldest one. After Close it keeps returning the remaining buffers until
// none are left, then returns ErrClosed.
func (p *Pipeline) Acquire(ctx context.Context) (*Buffer, error) {
	return p.AcquireN(ctx, p.cfg.MinReady)
}

// AcquireN is Acquire with an explicit minimum. The minimum is capped at
// Slots-1, the most buffers that can ever be ready at once.
func (p *Pipeline) AcquireN(ctx context.Context, min int) (*Buffer, error) {
	if min < 1 {
		min = 1
	}
	if min > len(p.bufs)-1 {
		min = len(p.bufs) - 1
	}
	for {
		switch SlotState(p.states[p.r].Load()) {
		case SlotInFlight:
			return nil, ErrInFlight
		case SlotReady:
			n := int(p.ready.Load())
			if n >= min || p.isClosed() {
				p.states[p.r].Store(int32(SlotInFlight))
				return &p.bufs[p.r], nil
			}
		default:
			if p.isClosed() {
				return nil, ErrClosed
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			// Closed: loop once more to drain what is left.
			if int(p.ready.Load()) == 0 {
				return nil, ErrClosed
			}
		case <-p.notify:
		}
	}
}

// Release returns the consumer's buffer to the producer. Each acquired
// buffer is released exactly once.
func (p *Pipeline) Release(b *Buffer) error {
	if b == nil || b.Slot != p.r {
		return ErrNotInFlight
	}
	if !p.states[p.r].CompareAndSwap(int32(SlotInFlight), int32(SlotFree)) {
		return ErrNotInFlight
	}
	p.r = (p.r + 1) % len(p.bufs)
	p.consumed.Add(1)
	p.ready.Add(-1)
	return nil
}

// TakeDrops returns the number of drops since the previous call.
func (p *Pipeline) TakeDrops() int {
	return int(p.deficit.Swap(0))
}

// Ready returns the number of published buffers not yet released.
func (p *Pipeline) Ready() int {
	return int(p.ready.Load())
}

// Stats returns a snapshot of the counters. Pending is only meaningful
// when read from the producer's goroutine.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Ready:     int(p.ready.Load()),
		Pending:   p.pending,
		Drops:     p.drops.Load(),
		Published: p.published.Load(),
		Consumed:  p.consumed.Load(),
	}
}

// SlotState returns the state of slot i.
func (p *Pipeline) SlotState(i int) SlotState {
	return SlotState(p.states[i].Load())
}

// Close wakes the consumer. Further appends are ignored.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// Done is closed when the pipeline is closed.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
