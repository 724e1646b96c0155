//go:build portaudio

package sink

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio plays audio through PortAudio's default output. The stream
// callback pulls from a ring buffer and pads underruns with silence.
type PortAudio struct {
	stream  *portaudio.Stream
	ring    *RingBuffer
	scratch []byte
	mu      sync.Mutex
	closed  bool
}

// NewPortAudio opens the default output with the given callback size in
// frames.
func NewPortAudio(framesPerBuffer int) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	pa := &PortAudio{
		ring:    NewRingBuffer(96000),
		scratch: make([]byte, framesPerBuffer*BytesPerFrame),
	}
	stream, err := portaudio.OpenDefaultStream(0, Channels, SampleRate, framesPerBuffer, pa.process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio start: %w", err)
	}
	pa.stream = stream
	return pa, nil
}

// process is the stream callback.
func (pa *PortAudio) process(out []int16) {
	need := len(out) * 2
	if cap(pa.scratch) < need {
		pa.scratch = make([]byte, need)
	}
	buf := pa.scratch[:need]
	pa.ring.Fill(buf)
	for i := range out {
		out[i] = int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
	}
}

// Feed implements Sink.
func (pa *PortAudio) Feed(p []byte) error {
	pa.mu.Lock()
	closed := pa.closed
	pa.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if lost := pa.ring.Write(p); lost > 0 {
		return fmt.Errorf("portaudio ring overflow: %d bytes discarded", lost)
	}
	return nil
}

// Buffered implements Sink.
func (pa *PortAudio) Buffered() int {
	return pa.ring.Buffered()
}

// BytesPerSecond implements Sink.
func (pa *PortAudio) BytesPerSecond() int {
	return BytesPerSecond
}

// Close implements Sink.
func (pa *PortAudio) Close() error {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pa.closed {
		return nil
	}
	pa.closed = true
	pa.ring.Close()
	err := pa.stream.Close()
	portaudio.Terminate()
	return err
}
