package spu

// ADPCM block layout.
const (
	BlockSize       = 16 // bytes per compressed block
	BlockWords      = BlockSize / 2
	SamplesPerBlock = 28
)

// Block flag bits (second header byte).
const (
	FlagEnd       = 0x01 // last block of the stream
	FlagRepeat    = 0x02 // with FlagEnd, continue at the loop point
	FlagLoopStart = 0x04 // this block is the loop point
)

// adpcmCoeff holds the fixed predictor filter pairs, scaled by 64.
var adpcmCoeff = [5][2]int32{
	{0, 0},
	{60, 0},
	{115, -52},
	{98, -55},
	{122, -60},
}

// decodeNibble expands one 4-bit delta and applies the prediction filter.
// It updates the history taps and returns the new sample.
func decodeNibble(nibble uint8, shift uint8, predictor int, s1, s2 *int32) int32 {
	d := int32(int16(uint16(nibble&0xF)<<12)) >> shift
	sample := d + ((*s1 * adpcmCoeff[predictor][0]) >> 6) + ((*s2 * adpcmCoeff[predictor][1]) >> 6)
	*s2 = *s1
	*s1 = sample
	return sample
}

// DecodeBlock decodes one 16-byte ADPCM block into out using and updating
// the history taps s1 (previous sample) and s2 (the one before). The low
// nibble of each data byte is decoded first. Predictor indices above 4
// wrap into range. Returns the block's flag byte.
func DecodeBlock(block []byte, s1, s2 *int32, out *[SamplesPerBlock]int32) uint8 {
	_ = block[BlockSize-1]

	shift := block[0] & 0x0F
	predictor := int(block[0]>>4) % len(adpcmCoeff)
	flags := block[1]

	n := 0
	for _, b := range block[2:BlockSize] {
		out[n] = decodeNibble(b, shift, predictor, s1, s2)
		out[n+1] = decodeNibble(b>>4, shift, predictor, s1, s2)
		n += 2
	}
	return flags
}
