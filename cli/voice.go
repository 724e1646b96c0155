package cli

import "github.com/user-none/emspu2/spu"

// SampleBase is the first sound RAM word past the auto-DMA rings, where
// loaded samples are placed.
const SampleBase = 0x2800

// holdADSR reaches full volume at once and holds it until key-off, then
// releases over a few milliseconds.
var holdADSR = spu.ADSR{
	SustainLevel:    0xF,
	SustainIncrease: true,
	ReleaseRate:     0x0A,
}

// LoadVoice encodes pcm to ADPCM at word address addr and programs voice
// ch to play it at its own sample rate. It returns the word address
// following the sample, or addr if the sample does not fit.
func LoadVoice(s *spu.SPU, ch int, addr uint32, pcm *PCM, loop bool) uint32 {
	data := spu.EncodeADPCM(pcm.Mono(), loop)
	words := uint32(len(data) / 2)
	if addr+words > spu.MemoryWords {
		return addr
	}

	s.WriteMemory(addr, data)
	s.SetStartAddr(ch, addr)
	s.SetPitch(ch, pcm.Pitch())
	s.SetADSR(ch, holdADSR)
	s.SetVolume(ch, 0x3FFF, 0x3FFF)
	return addr + words
}
