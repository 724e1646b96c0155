package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/user-none/emspu2/cli"
	"github.com/user-none/emspu2/sink"
	"github.com/user-none/emspu2/spu"
)

func main() {
	wavPath := flag.String("wav", "", "WAV file to play on a voice")
	voice := flag.Int("voice", 0, "voice to load the WAV file on")
	loop := flag.Bool("loop", false, "loop the voice sample")
	inputPath := flag.String("input", "", "WAV file to stream through core 0 auto-DMA input")
	backend := flag.String("audio", "oto", "audio output: oto, portaudio, or null")
	volume := flag.Float64("volume", 1.0, "output volume (oto only)")
	recordPath := flag.String("record", "", "record the output to a WAV file")
	realtime := flag.Bool("realtime", false, "play buffers as soon as they are ready")
	noStretch := flag.Bool("no-stretch", false, "disable time-stretching")
	statePath := flag.String("state", "", "state file to load before starting")
	savePath := flag.String("save-state", "", "state file to write on exit")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until the sound ends)")
	repl := flag.Bool("repl", false, "start the interactive monitor")
	flag.Parse()

	if *wavPath == "" && *inputPath == "" && *statePath == "" && !*repl {
		log.Fatal("Nothing to play. Usage: emspu2 -wav <file> | -input <file> | -state <file> | -repl")
	}
	if *repl && !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Fatal("The monitor needs a terminal on stdin")
	}

	fs := afero.NewOsFs()

	out := openSink(*backend, *volume)
	if *recordPath != "" {
		rec, err := sink.NewRecorder(fs, *recordPath, out)
		if err != nil {
			log.Fatalf("Failed to start recording: %v", err)
		}
		out = rec
	}

	cfg := cli.DefaultConfig()
	cfg.Playback.Realtime = *realtime
	cfg.Playback.Timestretch = !*noStretch
	runner := cli.NewRunner(cfg, out)
	defer runner.Close()

	if *statePath != "" {
		st, err := cli.ReadStateFile(fs, *statePath)
		if err != nil {
			log.Fatalf("Failed to load state: %v", err)
		}
		if err := runner.Restore(st); err != nil {
			log.Fatalf("Failed to restore state: %v", err)
		}
	}

	if *wavPath != "" {
		pcm, err := cli.LoadWAV(fs, *wavPath)
		if err != nil {
			log.Fatalf("Failed to load WAV: %v", err)
		}
		var next uint32
		runner.Do(func(s *spu.SPU) {
			next = cli.LoadVoice(s, *voice, cli.SampleBase, pcm, *loop)
			s.KeyOn(*voice)
		})
		if next == cli.SampleBase {
			log.Fatalf("WAV file too large for sound RAM: %d frames", pcm.Frames())
		}
	}

	var input *cli.PCMSource
	if *inputPath != "" {
		pcm, err := cli.LoadWAV(fs, *inputPath)
		if err != nil {
			log.Fatalf("Failed to load input WAV: %v", err)
		}
		input = cli.NewPCMSource(pcm, *loop)
		runner.Do(func(s *spu.SPU) {
			s.SetAutoDMA(0, input)
			s.SetInputVolume(0, 0x7FFF, 0x7FFF)
			s.SetInputMix(0, true, true)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- runner.Run(ctx) }()

	switch {
	case *repl:
		if err := cli.NewMonitor(runner, fs).Repl(); err != nil {
			log.Printf("Monitor error: %v", err)
		}
		runner.Control().Stop()
	case *duration > 0:
		go func() {
			select {
			case <-time.After(*duration):
				runner.Control().Stop()
			case <-ctx.Done():
			}
		}()
	default:
		go waitSilent(ctx, runner, input)
	}

	if err := <-errc; err != nil {
		log.Printf("Playback error: %v", err)
	}

	if *savePath != "" {
		st, err := runner.Snapshot()
		if err != nil {
			log.Fatalf("Failed to save state: %v", err)
		}
		if err := cli.WriteStateFile(fs, *savePath, st); err != nil {
			log.Fatalf("Failed to write state: %v", err)
		}
	}
}

// openSink opens the requested audio output, falling back to a silent
// wall-clock sink when the device is unavailable.
func openSink(backend string, volume float64) sink.Sink {
	var (
		out sink.Sink
		err error
	)
	switch strings.ToLower(backend) {
	case "oto":
		out, err = sink.NewOto(volume)
	case "portaudio":
		out, err = sink.NewPortAudio(0)
	case "null":
		return sink.NewNull(nil)
	default:
		log.Fatalf("Invalid audio output: %s (use oto, portaudio, or null)", backend)
	}
	if err != nil {
		log.Printf("Warning: audio initialization failed: %v", err)
		return sink.NewNull(nil)
	}
	return out
}

// waitSilent stops the runner once nothing is left playing and the device
// backlog is empty.
func waitSilent(ctx context.Context, r *cli.Runner, input *cli.PCMSource) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		busy := false
		r.Do(func(s *spu.SPU) {
			busy = s.ActiveVoices() > 0 || (input != nil && !input.Done())
		})
		if busy {
			continue
		}
		if r.Sink().Buffered() == 0 {
			r.Control().Stop()
			return
		}
	}
}
