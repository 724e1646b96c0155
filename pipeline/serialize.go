package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const pipelineHeaderSize = 2*3 + 2*2 + 4 + 1 + 4 + 8*3
const slotHeaderSize = 1 + 4 + 4 + 8

var (
	ErrStateTooShort = errors.New("pipeline state too short")
	ErrStateShape    = errors.New("pipeline state has a different ring shape")
	ErrStateLayout   = errors.New("pipeline state is inconsistent")
)

// SerializeSize returns the size of the state produced by Serialize.
func (p *Pipeline) SerializeSize() int {
	return pipelineHeaderSize + len(p.bufs)*(slotHeaderSize+p.bufferFrames*4)
}

// Serialize captures the ring indices, counters and queued audio. Both
// sides must be stopped. A buffer that is in flight is saved as ready so
// it is replayed after restore.
func (p *Pipeline) Serialize() []byte {
	buf := make([]byte, p.SerializeSize())
	le := binary.LittleEndian
	off := 0

	le.PutUint16(buf[off:], uint16(len(p.bufs)))
	le.PutUint16(buf[off+2:], uint16(p.cfg.TickFrames))
	le.PutUint16(buf[off+4:], uint16(p.cfg.TicksPerBuffer))
	off += 6
	le.PutUint16(buf[off:], uint16(p.w))
	le.PutUint16(buf[off+2:], uint16(p.r))
	off += 4
	le.PutUint32(buf[off:], uint32(p.ready.Load()))
	off += 4
	if p.pending {
		buf[off] = 1
	}
	off++
	le.PutUint32(buf[off:], uint32(p.discard))
	off += 4
	le.PutUint64(buf[off:], p.drops.Load())
	le.PutUint64(buf[off+8:], p.published.Load())
	le.PutUint64(buf[off+16:], p.consumed.Load())
	off += 24

	for i := range p.bufs {
		b := &p.bufs[i]
		st := SlotState(p.states[i].Load())
		if st == SlotInFlight {
			st = SlotReady
		}
		buf[off] = byte(st)
		le.PutUint32(buf[off+1:], uint32(b.fill))
		le.PutUint32(buf[off+5:], uint32(b.NewVoices))
		le.PutUint64(buf[off+9:], uint64(b.Elapsed))
		off += slotHeaderSize
		for _, s := range b.Samples {
			le.PutUint16(buf[off:], uint16(s))
			off += 2
		}
	}
	return buf
}

// Deserialize restores state written by Serialize into a pipeline of the
// same shape. Both sides must be stopped. The ring layout is checked
// before anything is restored: ready slots run from the read index up to
// the write index, which is the one slot being filled, and the rest are
// free. A slot saved in flight is restored as ready.
func (p *Pipeline) Deserialize(data []byte) error {
	if len(data) < pipelineHeaderSize {
		return ErrStateTooShort
	}
	le := binary.LittleEndian
	slots := int(le.Uint16(data[0:]))
	tickFrames := int(le.Uint16(data[2:]))
	ticksPerBuffer := int(le.Uint16(data[4:]))
	if slots != len(p.bufs) || tickFrames != p.cfg.TickFrames || ticksPerBuffer != p.cfg.TicksPerBuffer {
		return fmt.Errorf("%w: %d slots of %dx%d frames", ErrStateShape, slots, ticksPerBuffer, tickFrames)
	}
	if len(data) < p.SerializeSize() {
		return ErrStateTooShort
	}

	off := 6
	w := int(le.Uint16(data[off:]))
	r := int(le.Uint16(data[off+2:]))
	off += 4
	if w >= slots || r >= slots {
		return fmt.Errorf("%w: index out of range w=%d r=%d", ErrStateLayout, w, r)
	}
	ready := int(le.Uint32(data[off:]))
	off += 4
	pending := data[off] != 0
	off++
	discard := int(le.Uint32(data[off:]))
	off += 4
	if ready < 0 || ready > slots-1 || (r+ready)%slots != w {
		return fmt.Errorf("%w: %d ready from r=%d does not end at w=%d", ErrStateLayout, ready, r, w)
	}
	if discard >= p.bufferFrames {
		return fmt.Errorf("%w: discard %d", ErrStateLayout, discard)
	}
	counters := off
	off += 24

	// Validate every slot before touching the ring.
	states := make([]SlotState, slots)
	slotOff := off
	for i := range states {
		st := SlotState(data[slotOff])
		if st == SlotInFlight {
			st = SlotReady
		}
		fill := int(le.Uint32(data[slotOff+1:]))
		want := SlotFree
		if i == w {
			want = SlotFilling
		} else if (i-r+slots)%slots < ready {
			want = SlotReady
		}
		if st != want {
			return fmt.Errorf("%w: slot %d is %v, expected %v", ErrStateLayout, i, st, want)
		}
		switch {
		case st == SlotReady && fill != p.bufferFrames:
			return fmt.Errorf("%w: ready slot %d holds %d frames", ErrStateLayout, i, fill)
		case st == SlotFilling && pending && fill != p.bufferFrames:
			return fmt.Errorf("%w: held slot %d holds %d frames", ErrStateLayout, i, fill)
		case st == SlotFilling && !pending && fill >= p.bufferFrames:
			return fmt.Errorf("%w: filling slot %d is already full", ErrStateLayout, i)
		case fill > p.bufferFrames:
			return fmt.Errorf("%w: slot %d fill %d exceeds buffer", ErrStateLayout, i, fill)
		}
		states[i] = st
		slotOff += slotHeaderSize + p.bufferFrames*4
	}

	p.drops.Store(le.Uint64(data[counters:]))
	p.published.Store(le.Uint64(data[counters+8:]))
	p.consumed.Store(le.Uint64(data[counters+16:]))

	for i := range p.bufs {
		b := &p.bufs[i]
		p.states[i].Store(int32(states[i]))
		b.fill = int(le.Uint32(data[off+1:]))
		b.NewVoices = int(le.Uint32(data[off+5:]))
		b.Elapsed = time.Duration(le.Uint64(data[off+9:]))
		b.Stamp = time.Time{}
		off += slotHeaderSize
		for j := range b.Samples {
			b.Samples[j] = int16(le.Uint16(data[off:]))
			off += 2
		}
	}

	p.w = w
	p.r = r
	p.ready.Store(int32(ready))
	p.pending = pending
	p.discard = discard
	p.deficit.Store(0)
	p.last = time.Time{}

	if ready > 0 {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return nil
}
