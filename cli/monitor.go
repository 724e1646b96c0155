package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/afero"

	"github.com/user-none/emspu2/spu"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// Monitor is a line-oriented command interpreter for programming voices
// on a running Runner.
type Monitor struct {
	runner *Runner
	fs     afero.Fs
	next   uint32 // next free sound RAM word for loaded samples
}

// NewMonitor creates a monitor. Files named in commands are opened on fs.
func NewMonitor(r *Runner, fs afero.Fs) *Monitor {
	return &Monitor{runner: r, fs: fs, next: SampleBase}
}

type command struct {
	name  string
	usage string
	run   func(*Monitor, []string) (string, error)
	arity int // -n means len(args) must be >= n
}

var commands = []command{
	{"keyon", "keyon <ch>...", keyOnCommand, -1},
	{"keyoff", "keyoff <ch>...", keyOffCommand, -1},
	{"pitch", "pitch <ch> <pitch>", pitchCommand, 2},
	{"adsr", "adsr <ch> <adsr1> <adsr2>", adsrCommand, 3},
	{"vol", "vol <ch> <left> <right>", volCommand, 3},
	{"load", "load <ch> <file.wav> [loop]", loadCommand, -2},
	{"noise", "noise <ch> <0|1>", noiseCommand, 2},
	{"nclock", "nclock <core> <clock>", noiseClockCommand, 2},
	{"fm", "fm <ch> <0|1>", fmCommand, 2},
	{"irq", "irq <core> <addr|off>", irqCommand, 2},
	{"mute", "mute <core> <0|1>", muteCommand, 2},
	{"input", "input <core> <file.wav> [loop]", inputCommand, -2},
	{"stats", "stats", statsCommand, 0},
	{"voices", "voices", voicesCommand, 0},
	{"save", "save <file>", saveCommand, 1},
	{"restore", "restore <file>", restoreCommand, 1},
	{"pause", "pause", pauseCommand, 0},
	{"resume", "resume", resumeCommand, 0},
}

// Exec runs one command line and returns its output.
func (m *Monitor) Exec(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	name, args := fields[0], fields[1:]
	switch name {
	case "help":
		return help(), nil
	case "quit", "exit":
		return "", ErrQuit
	}

	for _, cmd := range commands {
		if name != cmd.name {
			continue
		}
		if cmd.arity < 0 {
			if len(args) < -cmd.arity {
				return "", fmt.Errorf("usage: %s", cmd.usage)
			}
		} else if len(args) != cmd.arity {
			return "", fmt.Errorf("usage: %s", cmd.usage)
		}
		out, err := cmd.run(m, args)
		if err != nil {
			return "", fmt.Errorf("%s: %w", cmd.name, err)
		}
		return out, nil
	}
	return "", fmt.Errorf("unknown command: %s", name)
}

// Repl reads commands from the terminal until quit or end of input.
func (m *Monitor) Repl() error {
	rl, err := readline.New("spu> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == io.EOF || errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(rl.Stderr(), err)
			continue
		}
		out, err := m.Exec(line)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(rl.Stderr(), err)
			continue
		}
		if out != "" {
			fmt.Fprintln(rl.Stdout(), out)
		}
	}
}

func help() string {
	var b strings.Builder
	for _, cmd := range commands {
		b.WriteString(cmd.usage)
		b.WriteByte('\n')
	}
	b.WriteString("help\nquit")
	return b.String()
}

func parseNum(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func parseVoice(s string) (int, error) {
	v, err := parseNum(s, 8)
	if err != nil {
		return 0, err
	}
	if v >= spu.NumVoices {
		return 0, fmt.Errorf("voice %d out of range", v)
	}
	return int(v), nil
}

func parseCore(s string) (int, error) {
	v, err := parseNum(s, 8)
	if err != nil {
		return 0, err
	}
	if v >= spu.NumCores {
		return 0, fmt.Errorf("core %d out of range", v)
	}
	return int(v), nil
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "1", "on":
		return true, nil
	case "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected 0 or 1, got %q", s)
}

func keyOnCommand(m *Monitor, args []string) (string, error) {
	return m.eachVoice(args, (*spu.SPU).KeyOn)
}

func keyOffCommand(m *Monitor, args []string) (string, error) {
	return m.eachVoice(args, (*spu.SPU).KeyOff)
}

func (m *Monitor) eachVoice(args []string, fn func(*spu.SPU, int)) (string, error) {
	chs := make([]int, len(args))
	for i, a := range args {
		ch, err := parseVoice(a)
		if err != nil {
			return "", err
		}
		chs[i] = ch
	}
	m.runner.Do(func(s *spu.SPU) {
		for _, ch := range chs {
			fn(s, ch)
		}
	})
	return "", nil
}

func pitchCommand(m *Monitor, args []string) (string, error) {
	ch, err := parseVoice(args[0])
	if err != nil {
		return "", err
	}
	pitch, err := parseNum(args[1], 16)
	if err != nil {
		return "", err
	}
	m.runner.Do(func(s *spu.SPU) { s.SetPitch(ch, uint16(pitch)) })
	return "", nil
}

func adsrCommand(m *Monitor, args []string) (string, error) {
	ch, err := parseVoice(args[0])
	if err != nil {
		return "", err
	}
	a1, err := parseNum(args[1], 16)
	if err != nil {
		return "", err
	}
	a2, err := parseNum(args[2], 16)
	if err != nil {
		return "", err
	}
	m.runner.Do(func(s *spu.SPU) { s.SetADSRWords(ch, uint16(a1), uint16(a2)) })
	return "", nil
}

func volCommand(m *Monitor, args []string) (string, error) {
	ch, err := parseVoice(args[0])
	if err != nil {
		return "", err
	}
	l, err := parseNum(args[1], 16)
	if err != nil {
		return "", err
	}
	r, err := parseNum(args[2], 16)
	if err != nil {
		return "", err
	}
	m.runner.Do(func(s *spu.SPU) { s.SetVolume(ch, uint16(l), uint16(r)) })
	return "", nil
}

func loadCommand(m *Monitor, args []string) (string, error) {
	ch, err := parseVoice(args[0])
	if err != nil {
		return "", err
	}
	loop := len(args) > 2 && args[2] == "loop"
	pcm, err := LoadWAV(m.fs, args[1])
	if err != nil {
		return "", err
	}

	start := m.next
	var next uint32
	m.runner.Do(func(s *spu.SPU) { next = LoadVoice(s, ch, start, pcm, loop) })
	if next == start {
		return "", errors.New("sound RAM full")
	}
	m.next = next
	return fmt.Sprintf("voice %d: %d frames at 0x%05X, pitch 0x%04X", ch, pcm.Frames(), start, pcm.Pitch()), nil
}

func noiseCommand(m *Monitor, args []string) (string, error) {
	ch, err := parseVoice(args[0])
	if err != nil {
		return "", err
	}
	on, err := parseSwitch(args[1])
	if err != nil {
		return "", err
	}
	m.runner.Do(func(s *spu.SPU) { s.SetNoise(ch, on) })
	return "", nil
}

func noiseClockCommand(m *Monitor, args []string) (string, error) {
	c, err := parseCore(args[0])
	if err != nil {
		return "", err
	}
	clock, err := parseNum(args[1], 6)
	if err != nil {
		return "", err
	}
	m.runner.Do(func(s *spu.SPU) { s.SetNoiseClock(c, uint8(clock)) })
	return "", nil
}

func fmCommand(m *Monitor, args []string) (string, error) {
	ch, err := parseVoice(args[0])
	if err != nil {
		return "", err
	}
	on, err := parseSwitch(args[1])
	if err != nil {
		return "", err
	}
	m.runner.Do(func(s *spu.SPU) { s.SetFMod(ch, on) })
	return "", nil
}

func irqCommand(m *Monitor, args []string) (string, error) {
	c, err := parseCore(args[0])
	if err != nil {
		return "", err
	}
	if args[1] == "off" {
		m.runner.Do(func(s *spu.SPU) { s.SetIRQEnable(c, false) })
		return "", nil
	}
	addr, err := parseNum(args[1], 20)
	if err != nil {
		return "", err
	}
	m.runner.Do(func(s *spu.SPU) {
		s.SetIRQAddr(c, uint32(addr))
		s.SetIRQEnable(c, true)
	})
	return "", nil
}

func muteCommand(m *Monitor, args []string) (string, error) {
	c, err := parseCore(args[0])
	if err != nil {
		return "", err
	}
	on, err := parseSwitch(args[1])
	if err != nil {
		return "", err
	}
	m.runner.Do(func(s *spu.SPU) { s.SetMute(c, on) })
	return "", nil
}

func inputCommand(m *Monitor, args []string) (string, error) {
	c, err := parseCore(args[0])
	if err != nil {
		return "", err
	}
	pcm, err := LoadWAV(m.fs, args[1])
	if err != nil {
		return "", err
	}
	src := NewPCMSource(pcm, len(args) > 2 && args[2] == "loop")
	m.runner.Do(func(s *spu.SPU) {
		s.SetAutoDMA(c, src)
		s.SetInputVolume(c, 0x7FFF, 0x7FFF)
		s.SetInputMix(c, true, true)
	})
	return fmt.Sprintf("core %d: streaming %d frames", c, pcm.Frames()), nil
}

func statsCommand(m *Monitor, _ []string) (string, error) {
	st := m.runner.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "ticks %d  key-ons %d  active %d  input frames %d\n",
		st.SPU.Ticks, st.SPU.KeyOns, st.Active, st.SPU.InputFrames)
	fmt.Fprintf(&b, "irqs core0 %d  core1 %d\n", st.IRQs[0], st.IRQs[1])
	fmt.Fprintf(&b, "pipeline ready %d  pending %t  published %d  consumed %d  drops %d\n",
		st.Pipeline.Ready, st.Pipeline.Pending, st.Pipeline.Published, st.Pipeline.Consumed, st.Pipeline.Drops)
	fmt.Fprintf(&b, "player buffers %d  frames %d  feed errors %d  throttles %d\n",
		st.Player.Buffers, st.Player.Frames, st.Player.FeedErrors, st.Player.Throttles)
	fmt.Fprintf(&b, "device backlog %d bytes", m.runner.Sink().Buffered())
	return b.String(), nil
}

func voicesCommand(m *Monitor, _ []string) (string, error) {
	var b strings.Builder
	m.runner.Do(func(s *spu.SPU) {
		for ch := 0; ch < spu.NumVoices; ch++ {
			v := s.Voice(ch)
			if v.State == spu.VoiceIdle {
				continue
			}
			fmt.Fprintf(&b, "%2d %-8s %-8s vol %5d pitch 0x%04X addr 0x%05X\n",
				ch, v.State, v.Phase, v.Volume, v.Pitch, v.Cursor)
		}
	})
	if b.Len() == 0 {
		return "no active voices", nil
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func saveCommand(m *Monitor, args []string) (string, error) {
	st, err := m.runner.Snapshot()
	if err != nil {
		return "", err
	}
	if err := WriteStateFile(m.fs, args[0], st); err != nil {
		return "", err
	}
	return "saved " + args[0], nil
}

func restoreCommand(m *Monitor, args []string) (string, error) {
	st, err := ReadStateFile(m.fs, args[0])
	if err != nil {
		return "", err
	}
	if err := m.runner.Restore(st); err != nil {
		return "", err
	}
	return "restored " + args[0], nil
}

func pauseCommand(m *Monitor, _ []string) (string, error) {
	m.runner.Control().RequestPause()
	return "paused", nil
}

func resumeCommand(m *Monitor, _ []string) (string, error) {
	m.runner.Control().RequestResume()
	return "resumed", nil
}
