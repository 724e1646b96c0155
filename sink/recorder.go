package sink

import (
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// Recorder writes everything fed to it into a 16-bit stereo WAV file and
// passes it on to another sink. With no next sink it only records and
// reports an empty backlog.
type Recorder struct {
	file    afero.File
	enc     *wav.Encoder
	next    Sink
	buf     *audio.IntBuffer
	samples []int16
	frames  int64
}

// NewRecorder creates path on fs and records into it.
func NewRecorder(fs afero.Fs, path string, next Sink) (*Recorder, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{
		file: f,
		enc:  wav.NewEncoder(f, SampleRate, 16, Channels, 1),
		next: next,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: Channels,
				SampleRate:  SampleRate,
			},
			SourceBitDepth: 16,
		},
	}, nil
}

// Feed implements Sink.
func (r *Recorder) Feed(p []byte) error {
	if r.enc == nil {
		return ErrClosed
	}
	r.samples = DecodePCM(r.samples[:0], p)
	r.buf.Data = r.buf.Data[:0]
	for _, s := range r.samples {
		r.buf.Data = append(r.buf.Data, int(s))
	}
	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	r.frames += int64(len(r.samples) / Channels)

	if r.next != nil {
		return r.next.Feed(p)
	}
	return nil
}

// Frames returns the number of stereo frames recorded.
func (r *Recorder) Frames() int64 {
	return r.frames
}

// Buffered implements Sink.
func (r *Recorder) Buffered() int {
	if r.next != nil {
		return r.next.Buffered()
	}
	return 0
}

// BytesPerSecond implements Sink.
func (r *Recorder) BytesPerSecond() int {
	return BytesPerSecond
}

// Close finishes the WAV header and closes the next sink.
func (r *Recorder) Close() error {
	if r.enc == nil {
		return nil
	}
	err := r.enc.Close()
	r.enc = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if r.next != nil {
		if nerr := r.next.Close(); err == nil {
			err = nerr
		}
	}
	if err != nil {
		return fmt.Errorf("close recording: %w", err)
	}
	return nil
}
