package spu

// Chip layout and timing.
const (
	NumVoices     = 48
	NumCores      = 2
	VoicesPerCore = NumVoices / NumCores
	SampleRate    = 48000
	TickFrames    = SampleRate / 1000 // frames per synthesis tick (1 ms)
	ClockRate     = 36864000          // emulated cycles per second
	CyclesPerTick = ClockRate / 1000

	// one spare slot past the last voice so FM chaining never indexes
	// out of range
	voiceSlots = NumVoices + 1
)

// Output receives each tick's mixed audio as TickFrames interleaved stereo
// frames, along with the number of voices keyed on during the tick. The
// slice is only valid for the duration of the call.
type Output interface {
	Append(frames []int16, newVoices int)
}

// IRQHandler is invoked when a voice decodes or loops over a core's IRQ
// address, or auto-DMA writes over it.
type IRQHandler func(core int)

// Config configures an SPU.
type Config struct {
	// Output receives mixed audio. Nil discards it.
	Output Output
	// OnIRQ is called once per IRQ address crossing.
	OnIRQ IRQHandler
	// OnConsumed is called when auto-DMA input has consumed half of its
	// ring and the freed half was refilled.
	OnConsumed func(core int)
}

// Stats holds running counters.
type Stats struct {
	Ticks       uint64
	IRQs        uint64
	KeyOns      uint64
	InputFrames uint64
}

type core struct {
	irqEnable  bool
	irqAddr    uint32
	muted      bool
	noiseClock uint8
	adma       autoDMA
}

// SPU is the two-core, 48-voice sound processor. It is not safe for
// concurrent use; the caller serializes voice programming and Tick.
type SPU struct {
	cfg Config

	mem    *memory
	voices [voiceSlots]Voice
	cores  [NumCores]core

	bus  [TickFrames][2]int32
	fmod [TickFrames]int32
	out  [TickFrames * 2]int16

	noise      uint32
	endFlags   uint64
	irqStatus  uint8
	cycleAccum int
	stats      Stats
}

// New creates an SPU with cleared sound RAM and all voices idle.
func New(cfg Config) *SPU {
	RateTable()
	s := &SPU{
		cfg: cfg,
		mem: newMemory(),
	}
	s.Reset()
	return s
}

// Reset returns every voice and core to power-on state and clears sound
// RAM. The configuration is kept.
func (s *SPU) Reset() {
	s.mem.clear()
	for i := range s.voices {
		s.voices[i].reset()
	}
	for i := range s.cores {
		s.cores[i] = core{}
	}
	s.bus = [TickFrames][2]int32{}
	s.fmod = [TickFrames]int32{}
	s.noise = 1
	s.endFlags = 0
	s.irqStatus = 0
	s.cycleAccum = 0
	s.stats = Stats{}
}

// SetOutput replaces the audio output.
func (s *SPU) SetOutput(out Output) {
	s.cfg.Output = out
}

// Stats returns the running counters.
func (s *SPU) Stats() Stats {
	return s.stats
}

func validVoice(ch int) bool {
	return ch >= 0 && ch < NumVoices
}

func coreOf(ch int) int {
	return ch / VoicesPerCore
}

// KeyOn starts voice ch at the next tick.
func (s *SPU) KeyOn(ch int) {
	if !validVoice(ch) {
		return
	}
	v := &s.voices[ch]
	v.State = VoiceStarting
	v.ignoreLoop = false
	s.stats.KeyOns++
}

// KeyOff moves a playing voice to its release phase.
func (s *SPU) KeyOff(ch int) {
	if !validVoice(ch) {
		return
	}
	v := &s.voices[ch]
	if v.State == VoicePlaying {
		v.State = VoiceStopping
	}
}

// KeyOnMask keys on every voice of core whose bit is set in mask.
func (s *SPU) KeyOnMask(core int, mask uint32) {
	forMask(core, mask, s.KeyOn)
}

// KeyOffMask keys off every voice of core whose bit is set in mask.
func (s *SPU) KeyOffMask(core int, mask uint32) {
	forMask(core, mask, s.KeyOff)
}

func forMask(core int, mask uint32, fn func(ch int)) {
	if core < 0 || core >= NumCores {
		return
	}
	for i := 0; i < VoicesPerCore; i++ {
		if mask&(1<<i) != 0 {
			fn(core*VoicesPerCore + i)
		}
	}
}

// SetPitch sets the voice's sample rate as a 4.12 ratio of 48 kHz.
// 0x1000 plays at the native rate. Values above 0x3FFF are clamped.
func (s *SPU) SetPitch(ch int, pitch uint16) {
	if !validVoice(ch) {
		return
	}
	s.voices[ch].setPitch(pitch)
}

// SetStartAddr sets the word address the voice starts decoding from.
func (s *SPU) SetStartAddr(ch int, addr uint32) {
	if !validVoice(ch) {
		return
	}
	s.voices[ch].startAddr = addr & memWordMask
}

// SetLoopAddr sets the word address the voice repeats from. A non-zero
// address makes the voice ignore loop points found in the stream.
func (s *SPU) SetLoopAddr(ch int, addr uint32) {
	if !validVoice(ch) {
		return
	}
	v := &s.voices[ch]
	v.loopAddr = addr & memWordMask
	v.loopValid = true
	v.ignoreLoop = v.loopAddr > 0
}

// SetADSR sets the voice's envelope parameters.
func (s *SPU) SetADSR(ch int, a ADSR) {
	if !validVoice(ch) {
		return
	}
	s.voices[ch].Env.ADSR = a
}

// SetADSRWords sets the voice's envelope from the two raw ADSR words.
func (s *SPU) SetADSRWords(ch int, adsr1, adsr2 uint16) {
	s.SetADSR(ch, DecodeADSR(adsr1, adsr2))
}

// SetVolume sets the voice's left and right volume from raw volume words.
// Bit 15 selects sweep mode, otherwise bit 14 inverts the level and bits
// 13-0 are the gain.
func (s *SPU) SetVolume(ch int, left, right uint16) {
	if !validVoice(ch) {
		return
	}
	v := &s.voices[ch]
	v.volWordL = left
	v.volWordR = right
	v.leftVol = volumeFromWord(left)
	v.rightVol = volumeFromWord(right)
}

// SetMix enables or disables the voice's contribution to each output side.
func (s *SPU) SetMix(ch int, left, right bool) {
	if !validVoice(ch) {
		return
	}
	s.voices[ch].mixL = left
	s.voices[ch].mixR = right
}

// SetFMod enables frequency modulation of voice ch by voice ch-1. Voice 0
// cannot be modulated.
func (s *SPU) SetFMod(ch int, on bool) {
	if !validVoice(ch) || ch == 0 {
		return
	}
	if on {
		s.voices[ch].fm = FMModulated
		s.voices[ch-1].fm = FMSource
		return
	}
	s.voices[ch].fm = FMNone
	if s.voices[ch-1].fm == FMSource {
		s.voices[ch-1].fm = FMNone
	}
}

// SetNoise switches the voice between sample playback and noise.
func (s *SPU) SetNoise(ch int, on bool) {
	if !validVoice(ch) {
		return
	}
	s.voices[ch].noise = on
}

// SetNoiseClock sets core's 5-bit noise rate.
func (s *SPU) SetNoiseClock(core int, clock uint8) {
	if core < 0 || core >= NumCores {
		return
	}
	s.cores[core].noiseClock = clock & 0x1F
}

// SetIRQAddr sets the word address that raises core's IRQ.
func (s *SPU) SetIRQAddr(core int, addr uint32) {
	if core < 0 || core >= NumCores {
		return
	}
	s.cores[core].irqAddr = addr & memWordMask
}

// SetIRQEnable enables or disables core's IRQ.
func (s *SPU) SetIRQEnable(core int, on bool) {
	if core < 0 || core >= NumCores {
		return
	}
	s.cores[core].irqEnable = on
}

// SetMute silences every voice of core. Auto-DMA input is not affected.
func (s *SPU) SetMute(core int, muted bool) {
	if core < 0 || core >= NumCores {
		return
	}
	s.cores[core].muted = muted
}

// IRQStatus returns the IRQ status bits: 0x4 for core 0, 0x8 for core 1.
func (s *SPU) IRQStatus() uint8 {
	return s.irqStatus
}

// ClearIRQStatus acknowledges the IRQ status bits in mask.
func (s *SPU) ClearIRQStatus(mask uint8) {
	s.irqStatus &^= mask
}

// EndFlags returns the bitmask of voices that reached an end block since
// they were last keyed on.
func (s *SPU) EndFlags() uint64 {
	return s.endFlags
}

// ClearEndFlags clears the end flags in mask.
func (s *SPU) ClearEndFlags(mask uint64) {
	s.endFlags &^= mask
}

func (s *SPU) raiseIRQ(core int) {
	s.irqStatus |= 4 << core
	s.stats.IRQs++
	if s.cfg.OnIRQ != nil {
		s.cfg.OnIRQ(core)
	}
}

// VoiceInfo is a snapshot of one voice.
type VoiceInfo struct {
	State    VoiceState
	Phase    EnvelopePhase
	Volume   int32
	Level    int32
	Pitch    uint16
	Cursor   uint32
	Start    uint32
	Loop     uint32
	Noise    bool
	FM       FMRole
	LeftVol  int32
	RightVol int32
}

// Voice returns a snapshot of voice ch.
func (s *SPU) Voice(ch int) VoiceInfo {
	if !validVoice(ch) {
		return VoiceInfo{}
	}
	v := &s.voices[ch]
	return VoiceInfo{
		State:    v.State,
		Phase:    v.Env.Phase,
		Volume:   v.Env.Volume,
		Level:    v.Env.Level,
		Pitch:    v.pitch,
		Cursor:   v.cursor,
		Start:    v.startAddr,
		Loop:     v.loopAddr,
		Noise:    v.noise,
		FM:       v.fm,
		LeftVol:  v.leftVol,
		RightVol: v.rightVol,
	}
}

// ActiveVoices returns the number of voices that are starting, playing or
// stopping.
func (s *SPU) ActiveVoices() int {
	n := 0
	for i := 0; i < NumVoices; i++ {
		if s.voices[i].State != VoiceIdle {
			n++
		}
	}
	return n
}

// Advance runs as many ticks as the given number of emulated cycles
// covers. Leftover cycles carry over to the next call.
func (s *SPU) Advance(cycles int) {
	s.cycleAccum += cycles
	for s.cycleAccum >= CyclesPerTick {
		s.Tick()
		s.cycleAccum -= CyclesPerTick
	}
}
