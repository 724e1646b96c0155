package spu

const sampleClamp = 32767

func clampSample(v int32) int32 {
	if v > sampleClamp {
		return sampleClamp
	}
	if v < -sampleClamp {
		return -sampleClamp
	}
	return v
}

// storeSample pushes a decoded sample into the interpolation taps. The
// output sample lags the decoder by two positions so the slope toward the
// next samples is known in advance. FM sources bypass interpolation.
func (v *Voice) storeSample(fa int32, muted bool) {
	if v.fm == FMSource {
		v.taps[0] = fa
		return
	}
	if muted {
		fa = 0
	} else {
		fa = clampSample(fa)
	}
	v.step = 0
	v.taps[0] = v.taps[1]
	v.taps[1] = v.taps[2]
	v.taps[2] = fa
	v.interpFlag = interpFresh
}

// sample returns the interpolated output sample for the current phase.
func (v *Voice) sample() int32 {
	if v.fm == FMSource {
		return v.taps[0]
	}
	if v.sinc < phaseOne {
		v.interpolateUp()
	} else {
		v.interpolateDown()
	}
	return v.taps[0]
}

// interpolateUp walks taps[0] toward taps[1] when the voice plays slower
// than the output rate. The slope is only recomputed after a new sample or
// frequency change; steep slopes take a second pass before stepping.
func (v *Voice) interpolateUp() {
	sinc := int64(v.sinc)
	switch v.interpFlag {
	case interpFresh:
		id1 := v.taps[1] - v.taps[0]
		id2 := v.taps[2] - v.taps[1]
		v.interpFlag = interpNone

		if id1 > 0 {
			switch {
			case id2 < id1:
				v.step = id1
				v.interpFlag = interpSecond
			case id2 < id1<<1:
				v.step = int32(int64(id1) * sinc / 0x10000)
			default:
				v.step = int32(int64(id1) * sinc / 0x20000)
			}
		} else {
			switch {
			case id2 > id1:
				v.step = id1
				v.interpFlag = interpSecond
			case id2 > id1<<1:
				v.step = int32(int64(id1) * sinc / 0x10000)
			default:
				v.step = int32(int64(id1) * sinc / 0x20000)
			}
		}
	case interpSecond:
		v.interpFlag = interpNone
		v.step = int32(int64(v.step) * sinc / 0x20000)
		if sinc <= 0x8000 {
			v.taps[0] = v.taps[1] - v.step*int32(0x10000/sinc-1)
		} else {
			v.taps[0] += v.step
		}
	default:
		v.taps[0] += v.step
	}
}

// interpolateDown folds skipped samples into the output when the voice
// plays faster than the output rate.
func (v *Voice) interpolateDown() {
	if v.sinc >= 0x20000 {
		v.taps[0] += (v.taps[1] - v.taps[0]) / 2
		if v.sinc >= 0x30000 {
			v.taps[0] += (v.taps[2] - v.taps[1]) / 2
		}
	}
}

// noiseSample advances the shared noise generator and low-pass filters the
// result toward the voice's previous noise value. Higher clock values let
// the output move faster.
func (s *SPU) noiseSample(v *Voice, clock uint8) int32 {
	s.noise <<= 1
	var fa int32
	if s.noise&0x80000000 != 0 {
		s.noise ^= 0x40001
		fa = -int32((s.noise >> 2) & 0x7FFF)
	} else {
		fa = int32((s.noise >> 2) & 0x7FFF)
	}

	fa = v.oldNoise + (fa-v.oldNoise)/(int32(0x1F-(clock&0x1F))+1)
	fa = clampSample(fa)
	v.oldNoise = fa
	v.taps[0] = fa
	return fa
}
