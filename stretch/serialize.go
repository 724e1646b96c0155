package stretch

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// ErrStateTooShort is returned when restoring from truncated data.
var ErrStateTooShort = errors.New("stretch state too short")

// SerializeSize returns the size of the state produced by Serialize.
func (c *Controller) SerializeSize() int {
	return 2 + 2 + 4 + 8 + 8 + 8 + 8*len(c.history)
}

// Serialize captures the controller's ratios, drop deficit and duration
// history. Audio buffered inside the engine is not saved.
func (c *Controller) Serialize() []byte {
	buf := make([]byte, c.SerializeSize())
	le := binary.LittleEndian
	le.PutUint16(buf[0:], uint16(len(c.history)))
	le.PutUint16(buf[2:], uint16(c.histLen))
	le.PutUint32(buf[4:], uint32(c.deficit))
	le.PutUint64(buf[8:], math.Float64bits(c.ratio))
	le.PutUint64(buf[16:], math.Float64bits(c.applied))
	le.PutUint64(buf[24:], c.count)

	// History is written oldest first.
	off := 32
	start := (c.histPos - c.histLen + len(c.history)) % len(c.history)
	for i := 0; i < len(c.history); i++ {
		var d time.Duration
		if i < c.histLen {
			d = c.history[(start+i)%len(c.history)]
		}
		le.PutUint64(buf[off:], uint64(d))
		off += 8
	}
	return buf
}

// Deserialize restores state written by Serialize. A history of a
// different length keeps its newest entries. The engine restarts empty at
// the restored tempo.
func (c *Controller) Deserialize(data []byte) error {
	if len(data) < 32 {
		return ErrStateTooShort
	}
	le := binary.LittleEndian
	size := int(le.Uint16(data[0:]))
	n := int(le.Uint16(data[2:]))
	if len(data) < 32+8*size || n > size {
		return ErrStateTooShort
	}

	c.Reset()
	c.deficit = int(le.Uint32(data[4:]))
	c.ratio = math.Float64frombits(le.Uint64(data[8:]))
	c.applied = math.Float64frombits(le.Uint64(data[16:]))
	c.count = le.Uint64(data[24:])

	first := 0
	if n > len(c.history) {
		first = n - len(c.history)
	}
	for i := first; i < n; i++ {
		c.push(time.Duration(le.Uint64(data[32+8*i:])))
	}
	if c.applied > 0 {
		c.engine.SetTempo(1 / c.applied)
	}
	return nil
}
