package spu

// EnvelopePhase is the ADSR stage of a voice envelope.
type EnvelopePhase uint8

const (
	PhaseAttack EnvelopePhase = iota
	PhaseDecay
	PhaseSustain
	PhaseRelease
)

func (p EnvelopePhase) String() string {
	switch p {
	case PhaseAttack:
		return "attack"
	case PhaseDecay:
		return "decay"
	case PhaseSustain:
		return "sustain"
	case PhaseRelease:
		return "release"
	}
	return "unknown"
}

const (
	envelopeMax        = 0x7FFFFFFF
	envelopeExpKnee    = 0x60000000 // exponential attack switches to the slower slot above this
	envelopeLevelShift = 21         // volume >> 21 gives the 0..1023 output level
	envelopeLevelMax   = envelopeMax >> envelopeLevelShift
)

// expOffset is the extra table offset used by the exponential decrease
// modes, selected by the top three bits of the current volume.
var expOffset = [8]int{0, 4, 6, 8, 9, 10, 11, 12}

// ADSR holds the envelope rate parameters as programmed into a voice.
// Attack and sustain rates are 7-bit, decay is 4-bit, release is 5-bit and
// the sustain level is 4-bit. Smaller rate values are faster.
type ADSR struct {
	AttackRate      uint8
	AttackExp       bool
	DecayRate       uint8
	SustainLevel    uint8
	SustainRate     uint8
	SustainExp      bool
	SustainIncrease bool
	ReleaseRate     uint8
	ReleaseExp      bool
}

// DecodeADSR unpacks the two ADSR register words.
//
//	adsr1: bit 15 attack exp, bits 14-8 attack rate, bits 7-4 decay rate,
//	       bits 3-0 sustain level
//	adsr2: bit 15 sustain exp, bit 14 sustain decrease, bits 12-6 sustain
//	       rate, bit 5 release exp, bits 4-0 release rate
func DecodeADSR(adsr1, adsr2 uint16) ADSR {
	return ADSR{
		AttackExp:       adsr1&0x8000 != 0,
		AttackRate:      uint8((adsr1 >> 8) & 0x7F),
		DecayRate:       uint8((adsr1 >> 4) & 0x0F),
		SustainLevel:    uint8(adsr1 & 0x0F),
		SustainExp:      adsr2&0x8000 != 0,
		SustainIncrease: adsr2&0x4000 == 0,
		SustainRate:     uint8((adsr2 >> 6) & 0x7F),
		ReleaseExp:      adsr2&0x0020 != 0,
		ReleaseRate:     uint8(adsr2 & 0x1F),
	}
}

// Envelope is the per-voice ADSR state machine. Volume always stays in
// [0, 0x7FFFFFFF]. The phase only moves forward through attack, decay and
// sustain, or jumps to release; it returns to attack only through KeyOn.
type Envelope struct {
	ADSR

	Phase  EnvelopePhase
	Volume int32
	Level  int32
}

// KeyOn restarts the envelope from silence in the attack phase.
func (e *Envelope) KeyOn() {
	e.Phase = PhaseAttack
	e.Volume = 0
	e.Level = 1
}

// KeyOff moves the envelope to release.
func (e *Envelope) KeyOff() {
	e.Phase = PhaseRelease
}

// Silence zeroes the envelope without changing its phase.
func (e *Envelope) Silence() {
	e.Volume = 0
	e.Level = 0
}

// Step advances the envelope by one output sample and returns the new
// output level. In release, done reports that the volume reached zero.
func (e *Envelope) Step() (level int32, done bool) {
	switch e.Phase {
	case PhaseAttack:
		e.attack()
	case PhaseDecay:
		e.decay()
	case PhaseSustain:
		e.sustain()
	case PhaseRelease:
		done = e.release()
	}
	e.Level = e.Volume >> envelopeLevelShift
	return e.Level, done
}

func (e *Envelope) attack() {
	idx := int(e.AttackRate&0x7F^0x7F) - 0x10 + rateTableBase
	if e.AttackExp && e.Volume >= envelopeExpKnee {
		idx = int(e.AttackRate&0x7F^0x7F) - 0x18 + rateTableBase
	}
	e.Volume += rateStep(idx)
	if e.Volume < 0 {
		e.Volume = envelopeMax
		e.Phase = PhaseDecay
	}
}

func (e *Envelope) decay() {
	k := expOffset[(e.Volume>>28)&0x7]
	e.Volume -= rateStep(4*int(e.DecayRate&0x0F^0x1F) - 0x18 + k + rateTableBase)
	if e.Volume < 0 {
		e.Volume = 0
	}
	if uint8((e.Volume>>27)&0xF) <= e.SustainLevel {
		e.Phase = PhaseSustain
	}
}

func (e *Envelope) sustain() {
	if e.SustainIncrease {
		idx := int(e.SustainRate&0x7F^0x7F) - 0x10 + rateTableBase
		if e.SustainExp && e.Volume >= envelopeExpKnee {
			idx = int(e.SustainRate&0x7F^0x7F) - 0x18 + rateTableBase
		}
		e.Volume += rateStep(idx)
		if e.Volume < 0 {
			e.Volume = envelopeMax
		}
		return
	}

	if e.SustainExp {
		k := expOffset[(e.Volume>>28)&0x7]
		e.Volume -= rateStep(int(e.SustainRate&0x7F^0x7F) - 0x1B + k + rateTableBase)
	} else {
		e.Volume -= rateStep(int(e.SustainRate&0x7F^0x7F) - 0x0F + rateTableBase)
	}
	if e.Volume < 0 {
		e.Volume = 0
	}
}

func (e *Envelope) release() bool {
	if e.ReleaseExp {
		k := expOffset[(e.Volume>>28)&0x7]
		e.Volume -= rateStep(4*int(e.ReleaseRate&0x1F^0x1F) - 0x18 + k + rateTableBase)
	} else {
		e.Volume -= rateStep(4*int(e.ReleaseRate&0x1F^0x1F) - 0x0C + rateTableBase)
	}
	if e.Volume <= 0 {
		e.Volume = 0
		return true
	}
	return false
}
