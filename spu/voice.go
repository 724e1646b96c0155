package spu

// VoiceState is the lifecycle state of a voice.
type VoiceState uint8

const (
	VoiceIdle     VoiceState = iota // silent, waiting for key-on
	VoiceStarting                   // keyed on, starts at the next tick
	VoicePlaying
	VoiceStopping // keyed off or reached the end of its stream
)

func (s VoiceState) String() string {
	switch s {
	case VoiceIdle:
		return "idle"
	case VoiceStarting:
		return "starting"
	case VoicePlaying:
		return "playing"
	case VoiceStopping:
		return "stopping"
	}
	return "unknown"
}

// FMRole is a voice's part in frequency modulation chaining. A modulated
// voice takes its pitch offset from the output of the voice before it,
// which is then a source and is not mixed to the output.
type FMRole uint8

const (
	FMNone FMRole = iota
	FMSource
	FMModulated
)

const (
	maxPitch     = 0x3FFF
	phaseOne     = 0x10000 // 1.0 in 16.16
	interpNone   = 0
	interpFresh  = 1 // new sample stored or frequency changed
	interpSecond = 2 // second pass of a steep slope
)

// Voice is one playback unit.
type Voice struct {
	State VoiceState
	Env   Envelope

	pitch    uint16
	actFreq  int32
	usedFreq int32
	spos     uint32
	sinc     uint32

	startAddr  uint32
	loopAddr   uint32
	cursor     uint32
	loopValid  bool
	ignoreLoop bool
	drained    bool

	noise bool
	fm    FMRole

	volWordL uint16
	volWordR uint16
	leftVol  int32
	rightVol int32
	mixL     bool
	mixR     bool

	// Decoded block and read position. sbPos == SamplesPerBlock means the
	// next sample needs a new block.
	block [SamplesPerBlock]int32
	sbPos int
	s1    int32
	s2    int32

	// Interpolation state: taps[0] is the current output sample, taps[1]
	// and taps[2] look ahead. step is the cached slope.
	taps       [3]int32
	step       int32
	interpFlag uint8

	oldNoise int32
}

func (v *Voice) reset() {
	*v = Voice{mixL: true, mixR: true, actFreq: 1}
}

func (v *Voice) active() bool {
	return v.State == VoicePlaying || v.State == VoiceStopping
}

// start materializes a pending key-on.
func (v *Voice) start() {
	v.Env.KeyOn()
	v.cursor = v.startAddr
	v.s1 = 0
	v.s2 = 0
	v.sbPos = SamplesPerBlock
	v.drained = false
	v.taps = [3]int32{}
	v.spos = phaseOne
	v.State = VoicePlaying
}

// off silences the voice and rewinds it to its start address.
func (v *Voice) off() {
	v.Env.Silence()
	v.State = VoiceIdle
	v.cursor = v.startAddr
	v.loopAddr = v.startAddr
	v.drained = false
	v.ignoreLoop = false
}

func (v *Voice) setPitch(p uint16) {
	if p > maxPitch {
		p = maxPitch
	}
	v.pitch = p
	freq := int32(SampleRate) * int32(p) / 4096
	if freq < 1 {
		freq = 1
	}
	v.actFreq = freq
}

// changeFrequency applies a pending pitch write.
func (v *Voice) changeFrequency() {
	v.usedFreq = v.actFreq
	v.sinc = uint32(v.pitch) << 4
	if v.sinc == 0 {
		v.sinc = 1
	}
	v.interpFlag = interpFresh
}

// modulate bends the pitch by the previous voice's output for one sample.
func (v *Voice) modulate(mod int32) {
	np := ((32768 + mod) * int32(v.pitch)) / 32768
	if np > maxPitch {
		np = maxPitch
	}
	if np < 1 {
		np = 1
	}
	freq := int32(SampleRate) * np / 4096
	v.actFreq = freq
	v.usedFreq = freq
	sinc := ((freq / 10) << 16) / 4800
	if sinc < 1 {
		sinc = 1
	}
	v.sinc = uint32(sinc)
	v.interpFlag = interpFresh
}

// volumeFromWord converts a raw volume register word to a 14-bit gain.
// Sweep mode is approximated by a fixed raise or cut of half the base
// level.
func volumeFromWord(w uint16) int32 {
	if w&0x8000 != 0 {
		inc := int32(1)
		if w&0x2000 != 0 {
			inc = -1
		}
		if w&0x1000 != 0 {
			w ^= 0xFFFF
		}
		vol := (int32(w&0x7F) + 1) / 2
		vol += vol / (2 * inc)
		vol *= 128
		return vol & 0x3FFF
	}
	if w&0x4000 != 0 {
		return 0x3FFF - int32(w&0x3FFF)
	}
	return int32(w & 0x3FFF)
}
