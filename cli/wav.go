package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/youpy/go-wav"

	"github.com/user-none/emspu2/spu"
)

const wavFormatPCM = 1

var ErrWAVFormat = errors.New("unsupported WAV format")

// PCM is decoded 16-bit audio, interleaved when Channels is 2.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames.
func (p *PCM) Frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// LoadWAV reads an uncompressed mono or stereo WAV file of 8, 16, 24 or
// 32 bits per sample and converts it to 16-bit.
func LoadWAV(fs afero.Fs, path string) (*PCM, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if format.AudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: format tag %d", ErrWAVFormat, format.AudioFormat)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrWAVFormat, channels)
	}
	bits := int(format.BitsPerSample)
	switch bits {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrWAVFormat, bits)
	}

	pcm := &PCM{SampleRate: int(format.SampleRate), Channels: channels}
	for {
		samples, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for _, s := range samples {
			for ch := 0; ch < channels; ch++ {
				pcm.Samples = append(pcm.Samples, to16(r.IntValue(s, uint(ch)), bits))
			}
		}
	}
	return pcm, nil
}

func to16(v, bits int) int16 {
	switch bits {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	}
	return int16(v)
}

// Mono returns the samples with stereo frames averaged.
func (p *PCM) Mono() []int16 {
	if p.Channels == 1 {
		return p.Samples
	}
	out := make([]int16, p.Frames())
	for i := range out {
		out[i] = int16((int32(p.Samples[2*i]) + int32(p.Samples[2*i+1])) / 2)
	}
	return out
}

// Pitch returns the voice pitch that plays the audio at its own rate.
func (p *PCM) Pitch() uint16 {
	v := p.SampleRate * 0x1000 / spu.SampleRate
	if v > 0x3FFF {
		v = 0x3FFF
	}
	return uint16(v)
}

// PCMSource streams a PCM buffer to an SPU core's auto-DMA input,
// resampling to the output rate by nearest sample. Mono audio is
// duplicated to both sides.
type PCMSource struct {
	pcm  *PCM
	step uint64
	pos  uint64 // 16.16 frame position
	// Loop restarts from the beginning at the end of the data.
	Loop bool
}

// NewPCMSource creates a source reading pcm from the start.
func NewPCMSource(pcm *PCM, loop bool) *PCMSource {
	step := uint64(0x10000)
	if pcm.SampleRate > 0 {
		step = uint64(pcm.SampleRate) << 16 / spu.SampleRate
	}
	return &PCMSource{pcm: pcm, step: step, Loop: loop}
}

// ReadFrames implements spu.PCMSource.
func (s *PCMSource) ReadFrames(dst []int16) int {
	total := uint64(s.pcm.Frames())
	if total == 0 {
		return 0
	}
	n := 0
	for ; n < len(dst)/2; n++ {
		frame := s.pos >> 16
		if frame >= total {
			if !s.Loop {
				break
			}
			s.pos -= total << 16
			frame = s.pos >> 16
		}
		if s.pcm.Channels == 2 {
			dst[2*n] = s.pcm.Samples[2*frame]
			dst[2*n+1] = s.pcm.Samples[2*frame+1]
		} else {
			dst[2*n] = s.pcm.Samples[frame]
			dst[2*n+1] = s.pcm.Samples[frame]
		}
		s.pos += s.step
	}
	return n
}

// Done reports whether a non-looping source has played all its data.
func (s *PCMSource) Done() bool {
	return !s.Loop && s.pos>>16 >= uint64(s.pcm.Frames())
}
