//go:build !headless

package sink

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// otoRingCapacity is ~500ms at 48kHz stereo 16-bit, above the player's
// throttle point so pacing never overflows it.
const otoRingCapacity = 96000

// otoPlayerBuffer is oto's internal pull size (100ms).
const otoPlayerBuffer = 19200

// oto context singleton
var (
	otoCtx      *oto.Context
	otoInitOnce sync.Once
	otoInitErr  error
)

func ensureOtoContext() (*oto.Context, error) {
	otoInitOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   SampleRate,
			ChannelCount: Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		}
		var ready chan struct{}
		otoCtx, ready, otoInitErr = oto.NewContext(op)
		if otoInitErr != nil {
			return
		}
		<-ready
	})
	return otoCtx, otoInitErr
}

// Oto plays audio through the system device. Fed bytes go to a ring
// buffer that oto's player pulls from.
type Oto struct {
	player *oto.Player
	ring   *RingBuffer
	mu     sync.Mutex
	closed bool
}

// NewOto opens the default audio device at the given volume (0 to 1).
func NewOto(volume float64) (*Oto, error) {
	ctx, err := ensureOtoContext()
	if err != nil {
		return nil, fmt.Errorf("oto audio not available: %w", err)
	}

	ring := NewRingBuffer(otoRingCapacity)
	player := ctx.NewPlayer(ring)
	player.SetBufferSize(otoPlayerBuffer)
	player.SetVolume(volume)
	player.Play()

	return &Oto{player: player, ring: ring}, nil
}

// Feed implements Sink.
func (o *Oto) Feed(p []byte) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if lost := o.ring.Write(p); lost > 0 {
		return fmt.Errorf("oto ring overflow: %d bytes discarded", lost)
	}
	return nil
}

// Buffered implements Sink. It counts both the ring and the data oto has
// already pulled but not yet played.
func (o *Oto) Buffered() int {
	return o.ring.Buffered() + o.player.BufferedSize()
}

// BytesPerSecond implements Sink.
func (o *Oto) BytesPerSecond() int {
	return BytesPerSecond
}

// SetVolume sets the playback volume (0.0 = silent, 1.0 = full).
func (o *Oto) SetVolume(volume float64) {
	o.player.SetVolume(volume)
}

// Close implements Sink.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.ring.Close()
	return o.player.Close()
}
