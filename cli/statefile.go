package cli

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

const (
	stateMagic      = "eSPU2Save"
	stateVersion    = 1
	stateHeaderSize = len(stateMagic) + 2 + 4 + 4 // magic, version, crc32, raw length
	numSections     = 3

	// maxStateSize bounds the decompressed sections. Sound RAM dominates
	// a snapshot at about 2 MiB.
	maxStateSize = 64 << 20
)

var (
	ErrBadStateFile     = errors.New("not a state file")
	ErrStateFileVersion = errors.New("unsupported state file version")
	ErrStateFileCRC     = errors.New("state file checksum mismatch")
)

// State is a runner snapshot. Pipeline and Stretch are empty when the
// snapshot was taken while running.
type State struct {
	SPU      []byte
	Pipeline []byte
	Stretch  []byte
}

func (s *State) sections() []*[]byte {
	return []*[]byte{&s.SPU, &s.Pipeline, &s.Stretch}
}

// EncodeState packs a snapshot into the state file format: a header with
// magic, version, checksum and raw length, followed by the zstd compressed
// length-prefixed sections.
func EncodeState(st State) ([]byte, error) {
	raw := make([]byte, 0, 4*numSections+len(st.SPU)+len(st.Pipeline)+len(st.Stretch))
	for _, sec := range st.sections() {
		raw = binary.LittleEndian.AppendUint32(raw, uint32(len(*sec)))
		raw = append(raw, *sec...)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	defer enc.Close()

	out := make([]byte, stateHeaderSize, stateHeaderSize+len(raw)/2)
	copy(out, stateMagic)
	off := len(stateMagic)
	binary.LittleEndian.PutUint16(out[off:], stateVersion)
	binary.LittleEndian.PutUint32(out[off+2:], crc32.ChecksumIEEE(raw))
	binary.LittleEndian.PutUint32(out[off+6:], uint32(len(raw)))
	return enc.EncodeAll(raw, out), nil
}

// DecodeState unpacks a state file produced by EncodeState.
func DecodeState(data []byte) (State, error) {
	if len(data) < stateHeaderSize || string(data[:len(stateMagic)]) != stateMagic {
		return State{}, ErrBadStateFile
	}
	off := len(stateMagic)
	if v := binary.LittleEndian.Uint16(data[off:]); v != stateVersion {
		return State{}, fmt.Errorf("%w: %d", ErrStateFileVersion, v)
	}
	sum := binary.LittleEndian.Uint32(data[off+2:])
	size := binary.LittleEndian.Uint32(data[off+6:])
	if size > maxStateSize {
		return State{}, fmt.Errorf("%w: %d bytes of state", ErrBadStateFile, size)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxStateSize))
	if err != nil {
		return State{}, fmt.Errorf("create decompressor: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data[stateHeaderSize:], make([]byte, 0, size))
	if err != nil {
		return State{}, fmt.Errorf("decompress state: %w", err)
	}
	if uint32(len(raw)) != size || crc32.ChecksumIEEE(raw) != sum {
		return State{}, ErrStateFileCRC
	}

	var st State
	for _, sec := range st.sections() {
		if len(raw) < 4 {
			return State{}, ErrBadStateFile
		}
		n := binary.LittleEndian.Uint32(raw)
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return State{}, ErrBadStateFile
		}
		if n > 0 {
			*sec = append([]byte(nil), raw[:n]...)
		}
		raw = raw[n:]
	}
	return st, nil
}

// WriteStateFile encodes st and writes it to path.
func WriteStateFile(fs afero.Fs, path string, st State) error {
	data, err := EncodeState(st)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, 0o644)
}

// ReadStateFile reads and decodes the state file at path.
func ReadStateFile(fs afero.Fs, path string) (State, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return State{}, err
	}
	return DecodeState(data)
}
