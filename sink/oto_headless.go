//go:build headless

package sink

import "fmt"

// Oto is not available in headless builds.
type Oto struct{}

// NewOto always fails in headless builds.
func NewOto(volume float64) (*Oto, error) {
	return nil, fmt.Errorf("oto audio not available: %w", ErrUnavailable)
}

func (o *Oto) Feed(p []byte) error { return ErrClosed }
func (o *Oto) Buffered() int { return 0 }
func (o *Oto) BytesPerSecond() int { return BytesPerSecond }
func (o *Oto) SetVolume(volume float64) {}
func (o *Oto) Close() error { return nil }
