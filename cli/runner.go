// Package cli wires the sound core, the audio pipeline and an output
// device into a runnable player, and provides the interactive monitor
// used to program voices from a terminal.
package cli

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user-none/emspu2/pipeline"
	"github.com/user-none/emspu2/playback"
	"github.com/user-none/emspu2/sink"
	"github.com/user-none/emspu2/spu"
	"github.com/user-none/emspu2/stretch"
)

// Device backlog thresholds in bytes for pacing the driver.
const (
	adtMinBuffer = 9600
	adtMaxBuffer = 38400
)

// ErrRunning is returned when an operation needs a stopped runner.
var ErrRunning = errors.New("runner is running")

// Config bundles the settings of every stage.
type Config struct {
	Pipeline pipeline.Config
	Playback playback.Config
	Stretch  stretch.Config
	// StepTicks is the number of 1ms ticks the driver runs per step.
	StepTicks int
}

// DefaultConfig returns stretched playback with 16ms driver steps.
func DefaultConfig() Config {
	return Config{
		Pipeline:  pipeline.DefaultConfig(),
		Playback:  playback.DefaultConfig(),
		Stretch:   stretch.DefaultConfig(),
		StepTicks: 16,
	}
}

// Stats is a snapshot of every stage's counters.
type Stats struct {
	SPU      spu.Stats
	Pipeline pipeline.Stats
	Player   playback.Stats
	Active   int
	IRQs     [spu.NumCores]uint64
	Ratio    float64
}

// Runner drives an SPU in real time and plays its output. The SPU runs
// on a driver goroutine paced by the wall clock and the device backlog;
// a player goroutine moves buffers to the sink. A Runner runs once.
type Runner struct {
	cfg Config

	mu   sync.Mutex
	spu  *spu.SPU
	pipe *pipeline.Pipeline
	ctrl *stretch.Controller

	player  *playback.Player
	out     sink.Sink
	control *Control

	irqs    [spu.NumCores]atomic.Uint64
	running atomic.Bool
}

// NewRunner creates a runner feeding out.
func NewRunner(cfg Config, out sink.Sink) *Runner {
	if cfg.StepTicks <= 0 {
		cfg.StepTicks = DefaultConfig().StepTicks
	}
	if cfg.Playback.Realtime {
		cfg.Pipeline.MinReady = 1
	}

	r := &Runner{
		cfg:     cfg,
		pipe:    pipeline.New(cfg.Pipeline),
		ctrl:    stretch.NewController(cfg.Stretch),
		out:     out,
		control: NewControl(),
	}
	r.spu = spu.New(spu.Config{
		Output: r.pipe,
		OnIRQ: func(core int) {
			r.irqs[core].Add(1)
		},
	})
	r.player = playback.New(cfg.Playback, r.pipe, out, r.ctrl)
	return r
}

// Do runs fn with exclusive access to the SPU.
func (r *Runner) Do(fn func(s *spu.SPU)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.spu)
}

// Control returns the driver's pause control.
func (r *Runner) Control() *Control {
	return r.control
}

// Sink returns the output the runner feeds.
func (r *Runner) Sink() sink.Sink {
	return r.out
}

// Step runs one driver step worth of ticks.
func (r *Runner) Step() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.cfg.StepTicks; i++ {
		r.spu.Tick()
	}
}

// Stats returns a snapshot of the counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	st := Stats{
		SPU:      r.spu.Stats(),
		Pipeline: r.pipe.Stats(),
		Active:   r.spu.ActiveVoices(),
	}
	r.mu.Unlock()

	st.Player = r.player.Stats()
	for i := range st.IRQs {
		st.IRQs[i] = r.irqs[i].Load()
	}
	if !r.running.Load() {
		st.Ratio = r.ctrl.Ratio()
	}
	return st
}

// Run drives the SPU and plays its output until ctx is done or the
// control is stopped. Remaining buffered audio is played before Run
// returns after a stop.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	stop := context.AfterFunc(ctx, r.control.Stop)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer r.pipe.Close()
		return r.drive(gctx)
	})
	g.Go(func() error {
		return r.player.Run(gctx)
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// drive runs driver steps at real-time pace. Sleep time is nudged by the
// device backlog so the pipeline neither starves nor fills.
func (r *Runner) drive(ctx context.Context) error {
	r.control.begin()
	defer r.control.end()

	stepTime := time.Duration(r.cfg.StepTicks) * time.Millisecond
	last := time.Now()

	for {
		if !r.control.checkpoint() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		r.Step()

		sleep := stepTime - time.Since(last)
		if !r.cfg.Playback.Realtime {
			level := r.out.Buffered()
			if level < adtMinBuffer {
				sleep = time.Duration(float64(sleep) * 0.9)
			} else if level > adtMaxBuffer {
				sleep = time.Duration(float64(sleep) * 1.1)
			}
		}
		if sleep > time.Millisecond {
			t := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
		last = time.Now()
	}
}

// Snapshot captures the runner's state. While running only the SPU is
// captured; a stopped runner also saves the queued audio and the stretch
// controller.
func (r *Runner) Snapshot() (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.spu.Serialize()
	if err != nil {
		return State{}, err
	}
	st := State{SPU: data}
	if !r.running.Load() {
		st.Pipeline = r.pipe.Serialize()
		st.Stretch = r.ctrl.Serialize()
	}
	return st, nil
}

// Restore loads a snapshot. Pipeline and stretch sections are only
// applied to a stopped runner.
func (r *Runner) Restore(st State) error {
	if err := spu.VerifyState(st.SPU); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.spu.Deserialize(st.SPU); err != nil {
		return err
	}
	if r.running.Load() {
		return nil
	}
	if len(st.Pipeline) > 0 {
		if err := r.pipe.Deserialize(st.Pipeline); err != nil {
			return err
		}
	}
	if len(st.Stretch) > 0 {
		if err := r.ctrl.Deserialize(st.Stretch); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the output device.
func (r *Runner) Close() error {
	r.control.Stop()
	if r.out != nil {
		return r.out.Close()
	}
	return nil
}
