//go:build !portaudio

package sink

import "fmt"

// PortAudio is only available when built with the portaudio tag.
type PortAudio struct{}

// NewPortAudio fails unless built with the portaudio tag.
func NewPortAudio(framesPerBuffer int) (*PortAudio, error) {
	return nil, fmt.Errorf("portaudio: %w", ErrUnavailable)
}

func (pa *PortAudio) Feed(p []byte) error { return ErrClosed }
func (pa *PortAudio) Buffered() int { return 0 }
func (pa *PortAudio) BytesPerSecond() int { return BytesPerSecond }
func (pa *PortAudio) Close() error { return nil }
