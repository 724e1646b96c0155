package spu

// maxEncodeShift is the largest shift the encoder will try. Larger values
// decode identically but leave no headroom for the delta.
const maxEncodeShift = 12

// EncodeADPCM compresses 16-bit mono PCM into ADPCM blocks that DecodeBlock
// reproduces. Each block tries every predictor and shift pair and keeps the
// one with the smallest squared error against the input, tracking the
// decoder's own history so errors do not accumulate. The input is padded
// with silence to a whole number of blocks.
//
// The last block carries FlagEnd. When loop is set the first block is also
// marked as the loop point and the last block repeats.
func EncodeADPCM(pcm []int16, loop bool) []byte {
	nblocks := (len(pcm) + SamplesPerBlock - 1) / SamplesPerBlock
	if nblocks == 0 {
		nblocks = 1
	}
	out := make([]byte, nblocks*BlockSize)

	var s1, s2 int32
	var frame [SamplesPerBlock]int32
	for b := 0; b < nblocks; b++ {
		for i := range frame {
			idx := b*SamplesPerBlock + i
			if idx < len(pcm) {
				frame[i] = int32(pcm[idx])
			} else {
				frame[i] = 0
			}
		}

		block := out[b*BlockSize : (b+1)*BlockSize]
		s1, s2 = encodeBlock(&frame, s1, s2, block)

		var flags uint8
		if loop && b == 0 {
			flags |= FlagLoopStart
		}
		if b == nblocks-1 {
			flags |= FlagEnd
			if loop {
				flags |= FlagRepeat
			}
		}
		block[1] = flags
	}
	return out
}

// encodeBlock picks the best predictor/shift pair for frame, writes the
// header byte and nibbles into block and returns the updated history.
func encodeBlock(frame *[SamplesPerBlock]int32, s1, s2 int32, block []byte) (int32, int32) {
	var (
		bestErr   int64 = -1
		bestPred  int
		bestShift uint8
		bestNibs  [SamplesPerBlock]uint8
		bestS1    int32
		bestS2    int32
	)

	var nibs [SamplesPerBlock]uint8
	for pred := 0; pred < len(adpcmCoeff); pred++ {
		for shift := uint8(0); shift <= maxEncodeShift; shift++ {
			h1, h2 := s1, s2
			var sqErr int64
			for i, target := range frame {
				n := quantize(target, shift, pred, h1, h2)
				nibs[i] = n
				got := decodeNibble(n, shift, pred, &h1, &h2)
				diff := int64(target - got)
				sqErr += diff * diff
				if bestErr >= 0 && sqErr >= bestErr {
					break
				}
			}
			if bestErr < 0 || sqErr < bestErr {
				bestErr = sqErr
				bestPred = pred
				bestShift = shift
				bestNibs = nibs
				bestS1, bestS2 = h1, h2
			}
		}
	}

	block[0] = uint8(bestPred<<4) | bestShift
	for i := 0; i < SamplesPerBlock; i += 2 {
		block[2+i/2] = bestNibs[i]&0x0F | bestNibs[i+1]<<4
	}
	return bestS1, bestS2
}

// quantize returns the 4-bit delta that brings the prediction closest to
// target.
func quantize(target int32, shift uint8, pred int, s1, s2 int32) uint8 {
	predicted := ((s1 * adpcmCoeff[pred][0]) >> 6) + ((s2 * adpcmCoeff[pred][1]) >> 6)
	step := int32(1) << (12 - shift)
	n := floorDiv(target-predicted+step/2, step)
	if n > 7 {
		n = 7
	}
	if n < -8 {
		n = -8
	}
	return uint8(n) & 0x0F
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
