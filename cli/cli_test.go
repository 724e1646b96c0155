package cli

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/user-none/emspu2/sink"
	"github.com/user-none/emspu2/spu"
)

// writeWAV writes a 16-bit WAV file to fs.
func writeWAV(t *testing.T, fs afero.Fs, path string, rate, channels int, samples []int16) {
	t.Helper()
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	enc := gowav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: 16,
	}
	for _, s := range samples {
		buf.Data = append(buf.Data, int(s))
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finish %s: %v", path, err)
	}
	f.Close()
}

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i*64 - 8000)
	}
	return s
}

func newTestRunner() *Runner {
	cfg := DefaultConfig()
	cfg.StepTicks = 16
	return NewRunner(cfg, sink.NewNull(nil))
}

func TestControl_PauseResumeStop(t *testing.T) {
	c := NewControl()
	c.begin()
	steps := make(chan struct{}, 1000)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer c.end()
		for c.checkpoint() {
			select {
			case steps <- struct{}{}:
			default:
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	c.RequestPause()
	if !c.IsPaused() {
		t.Fatal("expected paused after RequestPause returned")
	}
	for len(steps) > 0 {
		<-steps
	}
	time.Sleep(5 * time.Millisecond)
	if len(steps) != 0 {
		t.Error("expected no steps while paused")
	}

	c.RequestResume()
	select {
	case <-steps:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not resume")
	}

	c.RequestPause()
	c.Stop()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not exit after Stop")
	}
	if !c.Stopped() || c.IsPaused() {
		t.Errorf("expected stopped and not paused, got stopped=%t paused=%t", c.Stopped(), c.IsPaused())
	}
}

func TestControl_PauseWithoutDriver(t *testing.T) {
	c := NewControl()
	done := make(chan struct{})
	go func() {
		c.RequestPause()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestPause blocked with no driver running")
	}
}

func TestStateFile_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := State{
		SPU:      []byte(strings.Repeat("spu", 1000)),
		Pipeline: []byte{1, 2, 3},
	}
	if err := WriteStateFile(fs, "/s.state", st); err != nil {
		t.Fatalf("WriteStateFile failed: %v", err)
	}
	got, err := ReadStateFile(fs, "/s.state")
	if err != nil {
		t.Fatalf("ReadStateFile failed: %v", err)
	}
	if string(got.SPU) != string(st.SPU) || string(got.Pipeline) != string(st.Pipeline) {
		t.Error("sections differ after round trip")
	}
	if got.Stretch != nil {
		t.Errorf("expected empty stretch section, got %d bytes", len(got.Stretch))
	}
}

func TestStateFile_Errors(t *testing.T) {
	good, err := EncodeState(State{SPU: []byte("state")})
	if err != nil {
		t.Fatalf("EncodeState failed: %v", err)
	}

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 'x'
	badVersion := append([]byte(nil), good...)
	badVersion[len(stateMagic)] = 9
	badSum := append([]byte(nil), good...)
	badSum[len(stateMagic)+2] ^= 0xFF
	huge := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(huge[len(stateMagic)+6:], 0xFFFFFFFF)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", good[:4], ErrBadStateFile},
		{"magic", badMagic, ErrBadStateFile},
		{"version", badVersion, ErrStateFileVersion},
		{"checksum", badSum, ErrStateFileCRC},
		{"oversized", huge, ErrBadStateFile},
	}
	for _, tt := range tests {
		if _, err := DecodeState(tt.data); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestLoadWAV_Stereo(t *testing.T) {
	fs := afero.NewMemMapFs()
	in := ramp(2000)
	writeWAV(t, fs, "/a.wav", 24000, 2, in)

	pcm, err := LoadWAV(fs, "/a.wav")
	if err != nil {
		t.Fatalf("LoadWAV failed: %v", err)
	}
	if pcm.SampleRate != 24000 || pcm.Channels != 2 || pcm.Frames() != 1000 {
		t.Fatalf("expected 24000Hz 2ch 1000 frames, got %dHz %dch %d frames", pcm.SampleRate, pcm.Channels, pcm.Frames())
	}
	for i := range in {
		if pcm.Samples[i] != in[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, in[i], pcm.Samples[i])
		}
	}
	if p := pcm.Pitch(); p != 0x800 {
		t.Errorf("expected pitch 0x0800, got 0x%04X", p)
	}
	mono := pcm.Mono()
	if len(mono) != 1000 || mono[0] != (in[0]+in[1])/2 {
		t.Errorf("unexpected mono downmix, first %d", mono[0])
	}
}

func TestLoadWAV_Missing(t *testing.T) {
	if _, err := LoadWAV(afero.NewMemMapFs(), "/none.wav"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTo16(t *testing.T) {
	tests := []struct {
		v, bits int
		want    int16
	}{
		{128, 8, 0},
		{255, 8, 127 << 8},
		{0, 8, -32768},
		{-1234, 16, -1234},
		{0x123456, 24, 0x1234},
		{-0x10000, 32, -1},
	}
	for _, tt := range tests {
		if got := to16(tt.v, tt.bits); got != tt.want {
			t.Errorf("to16(%d, %d): expected %d, got %d", tt.v, tt.bits, tt.want, got)
		}
	}
}

func TestPCM_PitchClamp(t *testing.T) {
	p := &PCM{SampleRate: 384000, Channels: 1}
	if got := p.Pitch(); got != 0x3FFF {
		t.Errorf("expected clamp to 0x3FFF, got 0x%04X", got)
	}
}

func TestPCMSource(t *testing.T) {
	mono := &PCM{SampleRate: 24000, Channels: 1, Samples: []int16{10, 20, 30}}

	src := NewPCMSource(mono, false)
	dst := make([]int16, 16)
	n := src.ReadFrames(dst)
	if n != 6 {
		t.Fatalf("expected 6 frames at half rate, got %d", n)
	}
	want := []int16{10, 10, 10, 10, 20, 20, 20, 20, 30, 30, 30, 30}
	for i, w := range want {
		if dst[i] != w {
			t.Fatalf("sample %d: expected %d, got %d", i, w, dst[i])
		}
	}
	if !src.Done() {
		t.Error("expected source done")
	}

	stereo := &PCM{SampleRate: 48000, Channels: 2, Samples: []int16{1, -1, 2, -2}}
	loop := NewPCMSource(stereo, true)
	dst = make([]int16, 10)
	if n := loop.ReadFrames(dst); n != 5 {
		t.Fatalf("expected looping source to fill 5 frames, got %d", n)
	}
	want = []int16{1, -1, 2, -2, 1, -1, 2, -2, 1, -1}
	for i, w := range want {
		if dst[i] != w {
			t.Errorf("loop sample %d: expected %d, got %d", i, w, dst[i])
		}
	}
}

func TestLoadVoice(t *testing.T) {
	s := spu.New(spu.Config{})
	pcm := &PCM{SampleRate: 48000, Channels: 1, Samples: ramp(280)}

	next := LoadVoice(s, 3, SampleBase, pcm, false)
	if next != SampleBase+10*8 {
		t.Errorf("expected 10 blocks of 8 words, next 0x%X", next)
	}
	v := s.Voice(3)
	if v.Start != SampleBase || v.Pitch != 0x1000 {
		t.Errorf("expected start 0x%X pitch 0x1000, got 0x%X 0x%04X", SampleBase, v.Start, v.Pitch)
	}
	if got := LoadVoice(s, 4, spu.MemoryWords-4, pcm, false); got != spu.MemoryWords-4 {
		t.Errorf("expected no allocation past the end of RAM, got 0x%X", got)
	}
}

func TestMonitor_Exec(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeWAV(t, fs, "/tone.wav", 48000, 1, ramp(560))
	r := newTestRunner()
	m := NewMonitor(r, fs)

	out, err := m.Exec("load 0 /tone.wav loop")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !strings.Contains(out, "560 frames") {
		t.Errorf("unexpected load output %q", out)
	}
	for _, line := range []string{"vol 0 0x2000 0x2000", "pitch 0 0x1000", "keyon 0", ""} {
		if _, err := m.Exec(line); err != nil {
			t.Fatalf("%q failed: %v", line, err)
		}
	}
	r.Step()

	out, _ = m.Exec("voices")
	if !strings.HasPrefix(strings.TrimSpace(out), "0 ") {
		t.Errorf("expected voice 0 listed, got %q", out)
	}
	out, _ = m.Exec("stats")
	if !strings.Contains(out, "ticks 16") {
		t.Errorf("expected 16 ticks in stats, got %q", out)
	}

	if _, err := m.Exec("keyoff 0 1 2"); err != nil {
		t.Errorf("keyoff failed: %v", err)
	}

	errTests := []string{
		"bogus",
		"pitch 0",
		"keyon 48",
		"noise 1 maybe",
		"irq 2 0x100",
		"load 0 /none.wav",
	}
	for _, line := range errTests {
		if _, err := m.Exec(line); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}

	if out, _ := m.Exec("help"); !strings.Contains(out, "keyon <ch>") {
		t.Errorf("expected help to list keyon, got %q", out)
	}
	if _, err := m.Exec("quit"); !errors.Is(err, ErrQuit) {
		t.Errorf("expected ErrQuit, got %v", err)
	}
}

func TestMonitor_SaveRestore(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRunner()
	m := NewMonitor(r, fs)

	if _, err := m.Exec("pitch 5 0x0800"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Exec("save /snap"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := m.Exec("pitch 5 0x2000"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Exec("restore /snap"); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	var pitch uint16
	r.Do(func(s *spu.SPU) { pitch = s.Voice(5).Pitch })
	if pitch != 0x0800 {
		t.Errorf("expected pitch 0x0800 after restore, got 0x%04X", pitch)
	}
}

func TestRunner_StepFillsPipeline(t *testing.T) {
	r := newTestRunner()
	for i := 0; i < 3; i++ {
		r.Step()
	}
	st := r.Stats()
	if st.SPU.Ticks != 48 {
		t.Errorf("expected 48 ticks, got %d", st.SPU.Ticks)
	}
	if st.Pipeline.Ready != 3 {
		t.Errorf("expected 3 ready buffers, got %d", st.Pipeline.Ready)
	}
}

func TestRunner_SnapshotStopped(t *testing.T) {
	r := newTestRunner()
	r.Step()
	r.Step()
	snap, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Pipeline) == 0 || len(snap.Stretch) == 0 {
		t.Fatal("expected pipeline and stretch sections from a stopped runner")
	}

	other := newTestRunner()
	if err := other.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := other.Stats().Pipeline.Ready; got != 2 {
		t.Errorf("expected 2 ready buffers restored, got %d", got)
	}
	if err := other.Restore(State{SPU: []byte{1, 2}}); err == nil {
		t.Error("expected error restoring a truncated SPU state")
	}
}

func TestRunner_RunPlaysUntilStopped(t *testing.T) {
	r := newTestRunner()
	r.Do(func(s *spu.SPU) {
		s.WriteMemory(SampleBase, spu.EncodeADPCM(ramp(2800), true))
		s.SetStartAddr(0, SampleBase)
		s.SetPitch(0, 0x1000)
		s.SetADSR(0, holdADSR)
		s.SetVolume(0, 0x3FFF, 0x3FFF)
		s.KeyOn(0)
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	time.Sleep(120 * time.Millisecond)

	if err := r.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("expected ErrRunning for a second Run, got %v", err)
	}

	r.Control().Stop()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	st := r.Stats()
	if st.SPU.Ticks == 0 {
		t.Error("expected the driver to run ticks")
	}
	if st.Player.Buffers == 0 {
		t.Error("expected buffers played")
	}
	if st.Pipeline.Ready != 0 {
		t.Errorf("expected pipeline drained, got %d ready", st.Pipeline.Ready)
	}
}
