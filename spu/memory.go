package spu

import "encoding/binary"

// Sound RAM is 2 MB, addressed in 16-bit words.
const (
	MemoryWords = 0x100000
	MemorySize  = MemoryWords * 2
	memWordMask = MemoryWords - 1
)

// memory is the sound RAM arena. Voices hold word offsets into it; all
// accesses wrap at the end of the arena.
type memory struct {
	ram     []byte
	scratch [BlockSize]byte
}

func newMemory() *memory {
	return &memory{ram: make([]byte, MemorySize)}
}

// block returns the 16 bytes starting at word addr. A block straddling the
// end of RAM is assembled in a scratch buffer that is valid until the next
// call.
func (m *memory) block(addr uint32) []byte {
	off := int(addr&memWordMask) * 2
	if off+BlockSize <= len(m.ram) {
		return m.ram[off : off+BlockSize]
	}
	for i := range m.scratch {
		m.scratch[i] = m.ram[(off+i)%len(m.ram)]
	}
	return m.scratch[:]
}

func (m *memory) word(addr uint32) int16 {
	off := int(addr&memWordMask) * 2
	return int16(binary.LittleEndian.Uint16(m.ram[off:]))
}

func (m *memory) setWord(addr uint32, v int16) {
	off := int(addr&memWordMask) * 2
	binary.LittleEndian.PutUint16(m.ram[off:], uint16(v))
}

func (m *memory) clear() {
	clear(m.ram)
}

// WriteMemory copies raw bytes into sound RAM starting at word address
// addr, wrapping at the end of RAM.
func (s *SPU) WriteMemory(addr uint32, data []byte) {
	off := int(addr&memWordMask) * 2
	for i, b := range data {
		s.mem.ram[(off+i)%MemorySize] = b
	}
}

// WriteWords stores 16-bit samples into sound RAM starting at word address
// addr.
func (s *SPU) WriteWords(addr uint32, words []int16) {
	for i, w := range words {
		s.mem.setWord(addr+uint32(i), w)
	}
}

// ReadMemory returns a copy of n bytes of sound RAM starting at word
// address addr.
func (s *SPU) ReadMemory(addr uint32, n int) []byte {
	out := make([]byte, n)
	off := int(addr&memWordMask) * 2
	for i := range out {
		out[i] = s.mem.ram[(off+i)%MemorySize]
	}
	return out
}
