package spu

import (
	"math/rand"
	"testing"
)

func TestDecodeADSR(t *testing.T) {
	tests := []struct {
		adsr1, adsr2 uint16
		want         ADSR
	}{
		{0x0000, 0x0000, ADSR{SustainIncrease: true}},
		{
			0x8F3A, 0x4065,
			ADSR{
				AttackExp: true, AttackRate: 0x0F, DecayRate: 0x3, SustainLevel: 0xA,
				SustainIncrease: false, SustainRate: 0x01, ReleaseExp: true, ReleaseRate: 0x05,
			},
		},
		{
			0x7FFF, 0xDFFF,
			ADSR{
				AttackRate: 0x7F, DecayRate: 0xF, SustainLevel: 0xF,
				SustainExp: true, SustainRate: 0x7F, ReleaseExp: true, ReleaseRate: 0x1F,
			},
		},
	}

	for _, tt := range tests {
		got := DecodeADSR(tt.adsr1, tt.adsr2)
		if got != tt.want {
			t.Errorf("DecodeADSR(0x%04X, 0x%04X): expected %+v, got %+v", tt.adsr1, tt.adsr2, tt.want, got)
		}
	}
}

func TestEnvelope_AttackToDecayToSustain(t *testing.T) {
	e := Envelope{ADSR: ADSR{AttackRate: 0, DecayRate: 0, SustainLevel: 0xF, SustainIncrease: true}}
	e.KeyOn()

	// 0x38000000 per step overflows on the third step.
	for i := 0; i < 2; i++ {
		e.Step()
		if e.Phase != PhaseAttack {
			t.Fatalf("step %d: expected attack, got %s", i, e.Phase)
		}
	}
	e.Step()
	if e.Phase != PhaseDecay {
		t.Fatalf("expected decay after overflow, got %s", e.Phase)
	}
	if e.Volume != envelopeMax {
		t.Errorf("expected volume 0x%X at decay, got 0x%X", envelopeMax, e.Volume)
	}
	if e.Level != envelopeLevelMax {
		t.Errorf("expected level %d, got %d", envelopeLevelMax, e.Level)
	}

	e.Step()
	if e.Phase != PhaseSustain {
		t.Fatalf("expected sustain with level 0xF, got %s", e.Phase)
	}
}

func TestEnvelope_DecayStopsAtSustainLevel(t *testing.T) {
	for sl := uint8(0); sl < 16; sl++ {
		e := Envelope{ADSR: ADSR{DecayRate: 0x8, SustainLevel: sl}}
		e.Phase = PhaseDecay
		e.Volume = envelopeMax

		for i := 0; i < 1000000 && e.Phase == PhaseDecay; i++ {
			e.Step()
		}
		if e.Phase != PhaseSustain {
			t.Fatalf("SL %d: expected sustain, got %s", sl, e.Phase)
		}
		if got := uint8((e.Volume >> 27) & 0xF); got > sl {
			t.Errorf("SL %d: stopped decay at level nibble %d", sl, got)
		}
	}
}

func TestEnvelope_FrozenAttack(t *testing.T) {
	e := Envelope{ADSR: ADSR{AttackRate: 0x7F}}
	e.KeyOn()
	for i := 0; i < 1000; i++ {
		e.Step()
	}
	if e.Volume != 0 || e.Phase != PhaseAttack {
		t.Errorf("expected frozen attack at 0, got volume 0x%X phase %s", e.Volume, e.Phase)
	}
}

func TestEnvelope_ExpAttackSlowsNearTop(t *testing.T) {
	lin := Envelope{ADSR: ADSR{AttackRate: 0x40}}
	exp := Envelope{ADSR: ADSR{AttackRate: 0x40, AttackExp: true}}
	lin.Phase, exp.Phase = PhaseAttack, PhaseAttack
	lin.Volume, exp.Volume = envelopeExpKnee, envelopeExpKnee

	lin.Step()
	exp.Step()
	if exp.Volume-envelopeExpKnee >= lin.Volume-envelopeExpKnee {
		t.Errorf("expected exponential attack step (0x%X) smaller than linear (0x%X)",
			exp.Volume-envelopeExpKnee, lin.Volume-envelopeExpKnee)
	}
}

func TestEnvelope_SustainDecreaseClampsAtZero(t *testing.T) {
	e := Envelope{ADSR: ADSR{SustainRate: 0, SustainIncrease: false}}
	e.Phase = PhaseSustain
	e.Volume = 0x100
	e.Step()
	if e.Volume != 0 {
		t.Errorf("expected volume clamped to 0, got 0x%X", e.Volume)
	}
	if e.Phase != PhaseSustain {
		t.Errorf("sustain must not leave on its own, got %s", e.Phase)
	}
}

func TestEnvelope_FastestReleaseFromMax(t *testing.T) {
	e := Envelope{ADSR: ADSR{ReleaseRate: 0}}
	e.Phase = PhaseRelease
	e.Volume = envelopeMax

	steps := 0
	for {
		steps++
		if _, done := e.Step(); done {
			break
		}
		if steps > 10 {
			t.Fatal("release did not finish")
		}
	}
	if steps != 3 {
		t.Errorf("expected 3 release steps, got %d", steps)
	}
	if e.Volume != 0 || e.Level != 0 {
		t.Errorf("expected silence after release, got volume 0x%X level %d", e.Volume, e.Level)
	}
}

func TestEnvelope_BoundsAndPhaseOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		e := Envelope{ADSR: DecodeADSR(uint16(rng.Intn(0x10000)), uint16(rng.Intn(0x10000)))}
		e.KeyOn()
		keyOffAt := rng.Intn(5000)

		prevPhase := e.Phase
		prevVolume := e.Volume
		for i := 0; i < 6000; i++ {
			if i == keyOffAt {
				e.KeyOff()
				prevPhase = PhaseRelease
				prevVolume = e.Volume
			}
			_, done := e.Step()

			if e.Volume < 0 {
				t.Fatalf("trial %d step %d: negative volume 0x%X", trial, i, e.Volume)
			}
			if e.Level < 0 || e.Level > envelopeLevelMax {
				t.Fatalf("trial %d step %d: level %d out of range", trial, i, e.Level)
			}
			if e.Phase < prevPhase {
				t.Fatalf("trial %d step %d: phase went back from %s to %s", trial, i, prevPhase, e.Phase)
			}
			if e.Phase == PhaseRelease {
				if e.Volume > prevVolume {
					t.Fatalf("trial %d step %d: release increased volume 0x%X -> 0x%X", trial, i, prevVolume, e.Volume)
				}
				if done {
					break
				}
			}
			prevPhase = e.Phase
			prevVolume = e.Volume
		}
	}
}
