package spu

// PCMSource supplies interleaved stereo PCM for a core's auto-DMA input.
// ReadFrames fills dst with up to len(dst)/2 frames and returns the number
// of frames written. Frames not written play as silence.
type PCMSource interface {
	ReadFrames(dst []int16) int
}

// Auto-DMA input ring. Each core has a 512-sample ring per side in sound
// RAM. The half not being played is refilled when the read index crosses
// the middle of the other half.
const (
	admaRingSize = 512
	admaHalf     = admaRingSize / 2
)

var admaBase = [NumCores][2]uint32{
	{0x2000, 0x2200},
	{0x2400, 0x2600},
}

type autoDMA struct {
	enabled  bool
	src      PCMSource
	index    int
	fillHalf int // next half to refill
	volL     int32
	volR     int32
	mixL     bool
	mixR     bool
	frames   []int16
}

// SetAutoDMA attaches src as the PCM input of core. A nil src disables the
// input. The first half of the ring is filled immediately.
func (s *SPU) SetAutoDMA(core int, src PCMSource) {
	if core < 0 || core >= NumCores {
		return
	}
	a := &s.cores[core].adma
	a.src = src
	a.enabled = src != nil
	a.index = 0
	a.fillHalf = 0
	if a.enabled {
		s.fillInput(core)
	}
}

// SetInputVolume sets the auto-DMA gains of core. Gains are 16-bit; the
// mixed sample is (in * gain) >> 16.
func (s *SPU) SetInputVolume(core int, left, right uint16) {
	if core < 0 || core >= NumCores {
		return
	}
	s.cores[core].adma.volL = int32(left)
	s.cores[core].adma.volR = int32(right)
}

// SetInputMix selects which output sides receive core's auto-DMA input.
func (s *SPU) SetInputMix(core int, left, right bool) {
	if core < 0 || core >= NumCores {
		return
	}
	s.cores[core].adma.mixL = left
	s.cores[core].adma.mixR = right
}

// fillInput copies the next 256 frames from the source into the half of
// the ring not being played and advances to the other half.
func (s *SPU) fillInput(core int) {
	a := &s.cores[core].adma
	if cap(a.frames) < admaHalf*2 {
		a.frames = make([]int16, admaHalf*2)
	}
	a.frames = a.frames[:admaHalf*2]

	n := 0
	if a.src != nil {
		n = a.src.ReadFrames(a.frames)
	}
	if n < 0 {
		n = 0
	}
	for i := n * 2; i < len(a.frames); i++ {
		a.frames[i] = 0
	}

	off := uint32(a.fillHalf * admaHalf)
	baseL, baseR := admaBase[core][0]+off, admaBase[core][1]+off
	for i := 0; i < admaHalf; i++ {
		s.mem.setWord(baseL+uint32(i), a.frames[i*2])
		s.mem.setWord(baseR+uint32(i), a.frames[i*2+1])
	}
	s.stats.InputFrames += uint64(n)

	c := &s.cores[core]
	if c.irqEnable && (inRange(c.irqAddr, baseL, admaHalf) || inRange(c.irqAddr, baseR, admaHalf)) {
		s.raiseIRQ(core)
	}

	a.fillHalf ^= 1
}

// mixInput adds one tick of auto-DMA input for core into the mix bus.
func (s *SPU) mixInput(core int) {
	a := &s.cores[core].adma
	if !a.enabled || !(a.mixL || a.mixR) {
		return
	}
	baseL, baseR := admaBase[core][0], admaBase[core][1]
	for ns := 0; ns < TickFrames; ns++ {
		if a.mixL {
			s.bus[ns][0] += (int32(s.mem.word(baseL+uint32(a.index))) * a.volL) >> 16
		}
		if a.mixR {
			s.bus[ns][1] += (int32(s.mem.word(baseR+uint32(a.index))) * a.volR) >> 16
		}
		a.index++

		if a.index == admaHalf/2 || a.index == admaHalf+admaHalf/2 {
			s.fillInput(core)
			if s.cfg.OnConsumed != nil {
				s.cfg.OnConsumed(core)
			}
		}
		if a.index == admaRingSize {
			a.index = 0
		}
	}
}

func inRange(addr, base uint32, n int) bool {
	return addr >= base && addr < base+uint32(n)
}
