// Package sink provides the audio outputs the player feeds: the system
// audio device, a silent wall-clock sink and a WAV recorder.
//
// All sinks take 16-bit little-endian interleaved stereo PCM at 48 kHz.
package sink

import "errors"

const (
	SampleRate     = 48000
	Channels       = 2
	BytesPerFrame  = Channels * 2
	BytesPerSecond = SampleRate * BytesPerFrame
)

var (
	// ErrClosed is returned by Feed after Close.
	ErrClosed = errors.New("sink closed")
	// ErrUnavailable is returned when a device backend is not built in.
	ErrUnavailable = errors.New("audio backend not available")
)

// Sink accepts PCM and reports how much of it has not been played yet.
type Sink interface {
	// Feed queues PCM bytes for playback.
	Feed(p []byte) error
	// Buffered returns the number of queued bytes not yet played.
	Buffered() int
	// BytesPerSecond returns the playback rate in bytes.
	BytesPerSecond() int
	// Close stops playback and releases the device.
	Close() error
}

// AppendPCM appends samples to dst as little-endian bytes.
func AppendPCM(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = append(dst, byte(s), byte(s>>8))
	}
	return dst
}

// DecodePCM converts little-endian bytes to samples, appending to dst.
// A trailing odd byte is ignored.
func DecodePCM(dst []int16, p []byte) []int16 {
	for i := 0; i+1 < len(p); i += 2 {
		dst = append(dst, int16(uint16(p[i])|uint16(p[i+1])<<8))
	}
	return dst
}
