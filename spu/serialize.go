package spu

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Save state format constants
const (
	stateVersion    = 1
	stateMagic      = "eSPU2State\x00\x00"
	stateHeaderSize = 18 // magic(12) + version(2) + dataCRC(4)
)

const (
	// Per-voice serialization size:
	// state(1) +
	// envelope: phase(1) + volume(4) + level(4) + adsr(9) = 18
	// pitch(2) + actFreq(4) + usedFreq(4) + spos(4) + sinc(4) = 18
	// startAddr(4) + loopAddr(4) + cursor(4) + loopValid(1) + ignoreLoop(1) + drained(1) = 15
	// noise(1) + fm(1) = 2
	// volWordL(2) + volWordR(2) + leftVol(4) + rightVol(4) + mixL(1) + mixR(1) = 14
	// block(28*4) + sbPos(1) + s1(4) + s2(4) = 121
	// taps(3*4) + step(4) + interpFlag(1) = 17
	// oldNoise(4) = 210
	voiceSerializeSize = 1 + 18 + 18 + 15 + 2 + 14 + 121 + 17 + 4
	// Per-core: irqEnable(1) + irqAddr(4) + muted(1) + noiseClock(1) +
	// adma: enabled(1) + index(2) + fillHalf(1) + volL(4) + volR(4) + mixL(1) + mixR(1) = 21
	coreSerializeSize = 7 + 14
	// Global: noise(4) + endFlags(8) + irqStatus(1) + cycleAccum(4) + fmod(48*4) = 209
	globalSerializeSize = 17 + TickFrames*4

	// SerializeSize is the total size of an SPU save state.
	SerializeSize = stateHeaderSize + MemorySize +
		voiceSlots*voiceSerializeSize +
		NumCores*coreSerializeSize +
		globalSerializeSize
)

// Save state errors.
var (
	ErrStateTooShort   = errors.New("save state too short")
	ErrStateMagic      = errors.New("invalid save state magic")
	ErrStateVersion    = errors.New("unsupported save state version")
	ErrStateCorrupted  = errors.New("save state data is corrupted")
	errSerializeBuffer = errors.New("serialize buffer too small")
)

// boolByte converts a bool to a uint8 (0 or 1).
func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Serialize captures sound RAM, every voice, both cores and the noise and
// modulation state. Attached PCM sources and callbacks are not part of the
// state. The rate table is rebuilt rather than saved.
func (s *SPU) Serialize() ([]byte, error) {
	data := make([]byte, SerializeSize)

	copy(data[0:12], stateMagic)
	binary.LittleEndian.PutUint16(data[12:14], stateVersion)

	offset := stateHeaderSize

	copy(data[offset:], s.mem.ram)
	offset += MemorySize

	for i := range s.voices {
		offset = serializeVoice(&s.voices[i], data, offset)
	}
	for i := range s.cores {
		offset = serializeCore(&s.cores[i], data, offset)
	}

	binary.LittleEndian.PutUint32(data[offset:], s.noise)
	offset += 4
	binary.LittleEndian.PutUint64(data[offset:], s.endFlags)
	offset += 8
	data[offset] = s.irqStatus
	offset++
	binary.LittleEndian.PutUint32(data[offset:], uint32(s.cycleAccum))
	offset += 4
	for _, f := range s.fmod {
		binary.LittleEndian.PutUint32(data[offset:], uint32(f))
		offset += 4
	}

	if offset != SerializeSize {
		return nil, errSerializeBuffer
	}

	dataCRC := crc32.ChecksumIEEE(data[stateHeaderSize:])
	binary.LittleEndian.PutUint32(data[14:18], dataCRC)

	return data, nil
}

// Deserialize restores state produced by Serialize. Auto-DMA sources stay
// attached but the ring contents come from the saved sound RAM.
func (s *SPU) Deserialize(data []byte) error {
	if err := VerifyState(data); err != nil {
		return err
	}

	offset := stateHeaderSize

	copy(s.mem.ram, data[offset:offset+MemorySize])
	offset += MemorySize

	for i := range s.voices {
		offset = deserializeVoice(&s.voices[i], data, offset)
	}
	for i := range s.cores {
		offset = deserializeCore(&s.cores[i], data, offset)
	}

	s.noise = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	s.endFlags = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	s.irqStatus = data[offset]
	offset++
	s.cycleAccum = int(int32(binary.LittleEndian.Uint32(data[offset:])))
	offset += 4
	for i := range s.fmod {
		s.fmod[i] = int32(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
	}

	return nil
}

// VerifyState checks if a save state is valid without loading it.
func VerifyState(data []byte) error {
	if len(data) < SerializeSize {
		return ErrStateTooShort
	}

	if string(data[0:12]) != stateMagic {
		return ErrStateMagic
	}

	version := binary.LittleEndian.Uint16(data[12:14])
	if version > stateVersion {
		return ErrStateVersion
	}

	expectedCRC := binary.LittleEndian.Uint32(data[14:18])
	actualCRC := crc32.ChecksumIEEE(data[stateHeaderSize:SerializeSize])
	if expectedCRC != actualCRC {
		return ErrStateCorrupted
	}

	return nil
}

func putI32(buf []byte, offset int, v int32) int {
	binary.LittleEndian.PutUint32(buf[offset:], uint32(v))
	return offset + 4
}

func getI32(buf []byte, offset int) (int32, int) {
	return int32(binary.LittleEndian.Uint32(buf[offset:])), offset + 4
}

func serializeVoice(v *Voice, buf []byte, offset int) int {
	buf[offset] = uint8(v.State)
	offset++

	// Envelope
	buf[offset] = uint8(v.Env.Phase)
	offset++
	offset = putI32(buf, offset, v.Env.Volume)
	offset = putI32(buf, offset, v.Env.Level)
	a := &v.Env.ADSR
	for _, b := range [...]uint8{
		a.AttackRate, boolByte(a.AttackExp), a.DecayRate, a.SustainLevel,
		a.SustainRate, boolByte(a.SustainExp), boolByte(a.SustainIncrease),
		a.ReleaseRate, boolByte(a.ReleaseExp),
	} {
		buf[offset] = b
		offset++
	}

	// Frequency
	binary.LittleEndian.PutUint16(buf[offset:], v.pitch)
	offset += 2
	offset = putI32(buf, offset, v.actFreq)
	offset = putI32(buf, offset, v.usedFreq)
	binary.LittleEndian.PutUint32(buf[offset:], v.spos)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], v.sinc)
	offset += 4

	// Addresses
	binary.LittleEndian.PutUint32(buf[offset:], v.startAddr)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], v.loopAddr)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], v.cursor)
	offset += 4
	buf[offset] = boolByte(v.loopValid)
	offset++
	buf[offset] = boolByte(v.ignoreLoop)
	offset++
	buf[offset] = boolByte(v.drained)
	offset++

	buf[offset] = boolByte(v.noise)
	offset++
	buf[offset] = uint8(v.fm)
	offset++

	// Volume
	binary.LittleEndian.PutUint16(buf[offset:], v.volWordL)
	offset += 2
	binary.LittleEndian.PutUint16(buf[offset:], v.volWordR)
	offset += 2
	offset = putI32(buf, offset, v.leftVol)
	offset = putI32(buf, offset, v.rightVol)
	buf[offset] = boolByte(v.mixL)
	offset++
	buf[offset] = boolByte(v.mixR)
	offset++

	// Decoder
	for _, smp := range v.block {
		offset = putI32(buf, offset, smp)
	}
	buf[offset] = uint8(v.sbPos)
	offset++
	offset = putI32(buf, offset, v.s1)
	offset = putI32(buf, offset, v.s2)

	// Interpolation
	for _, t := range v.taps {
		offset = putI32(buf, offset, t)
	}
	offset = putI32(buf, offset, v.step)
	buf[offset] = v.interpFlag
	offset++

	offset = putI32(buf, offset, v.oldNoise)
	return offset
}

func deserializeVoice(v *Voice, buf []byte, offset int) int {
	v.State = VoiceState(buf[offset])
	offset++

	// Envelope
	v.Env.Phase = EnvelopePhase(buf[offset])
	offset++
	v.Env.Volume, offset = getI32(buf, offset)
	v.Env.Level, offset = getI32(buf, offset)
	a := &v.Env.ADSR
	a.AttackRate = buf[offset]
	a.AttackExp = buf[offset+1] != 0
	a.DecayRate = buf[offset+2]
	a.SustainLevel = buf[offset+3]
	a.SustainRate = buf[offset+4]
	a.SustainExp = buf[offset+5] != 0
	a.SustainIncrease = buf[offset+6] != 0
	a.ReleaseRate = buf[offset+7]
	a.ReleaseExp = buf[offset+8] != 0
	offset += 9

	// Frequency
	v.pitch = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2
	v.actFreq, offset = getI32(buf, offset)
	v.usedFreq, offset = getI32(buf, offset)
	v.spos = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	v.sinc = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4

	// Addresses
	v.startAddr = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	v.loopAddr = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	v.cursor = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	v.loopValid = buf[offset] != 0
	offset++
	v.ignoreLoop = buf[offset] != 0
	offset++
	v.drained = buf[offset] != 0
	offset++

	v.noise = buf[offset] != 0
	offset++
	v.fm = FMRole(buf[offset])
	offset++

	// Volume
	v.volWordL = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2
	v.volWordR = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2
	v.leftVol, offset = getI32(buf, offset)
	v.rightVol, offset = getI32(buf, offset)
	v.mixL = buf[offset] != 0
	offset++
	v.mixR = buf[offset] != 0
	offset++

	// Decoder
	for i := range v.block {
		v.block[i], offset = getI32(buf, offset)
	}
	v.sbPos = int(buf[offset])
	if v.sbPos > SamplesPerBlock {
		v.sbPos = SamplesPerBlock
	}
	offset++
	v.s1, offset = getI32(buf, offset)
	v.s2, offset = getI32(buf, offset)

	// Interpolation
	for i := range v.taps {
		v.taps[i], offset = getI32(buf, offset)
	}
	v.step, offset = getI32(buf, offset)
	v.interpFlag = buf[offset]
	offset++

	v.oldNoise, offset = getI32(buf, offset)
	return offset
}

func serializeCore(c *core, buf []byte, offset int) int {
	buf[offset] = boolByte(c.irqEnable)
	offset++
	binary.LittleEndian.PutUint32(buf[offset:], c.irqAddr)
	offset += 4
	buf[offset] = boolByte(c.muted)
	offset++
	buf[offset] = c.noiseClock
	offset++

	a := &c.adma
	buf[offset] = boolByte(a.enabled)
	offset++
	binary.LittleEndian.PutUint16(buf[offset:], uint16(a.index))
	offset += 2
	buf[offset] = uint8(a.fillHalf)
	offset++
	offset = putI32(buf, offset, a.volL)
	offset = putI32(buf, offset, a.volR)
	buf[offset] = boolByte(a.mixL)
	offset++
	buf[offset] = boolByte(a.mixR)
	offset++
	return offset
}

func deserializeCore(c *core, buf []byte, offset int) int {
	c.irqEnable = buf[offset] != 0
	offset++
	c.irqAddr = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	c.muted = buf[offset] != 0
	offset++
	c.noiseClock = buf[offset] & 0x1F
	offset++

	a := &c.adma
	// The source is external; input only resumes if one is still attached.
	a.enabled = buf[offset] != 0 && a.src != nil
	offset++
	a.index = int(binary.LittleEndian.Uint16(buf[offset:])) % admaRingSize
	offset += 2
	a.fillHalf = int(buf[offset] & 1)
	offset++
	a.volL, offset = getI32(buf, offset)
	a.volR, offset = getI32(buf, offset)
	a.mixL = buf[offset] != 0
	offset++
	a.mixR = buf[offset] != 0
	offset++
	return offset
}
