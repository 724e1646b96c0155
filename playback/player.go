// Package playback runs the consumer side of the audio pipeline: it waits
// for synthesized buffers, optionally time-stretches them and feeds the
// result to a sink.
package playback

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/user-none/emspu2/pipeline"
	"github.com/user-none/emspu2/sink"
	"github.com/user-none/emspu2/stretch"
)

// Config selects the playback mode.
type Config struct {
	// Timestretch runs buffers through the stretch controller.
	Timestretch bool
	// Realtime plays each buffer as soon as it is ready, without
	// throttling or stretching.
	Realtime bool
	// MaxBacklog is the device backlog in bytes above which feeding
	// pauses.
	MaxBacklog int
	// ThrottleInterval is how long to pause while over MaxBacklog.
	ThrottleInterval time.Duration
}

// DefaultConfig returns stretched playback with a 375ms backlog limit.
func DefaultConfig() Config {
	return Config{
		Timestretch:      true,
		MaxBacklog:       72000,
		ThrottleInterval: 2 * time.Millisecond,
	}
}

// Stats counts what the player has done.
type Stats struct {
	Buffers    uint64
	Frames     uint64
	FeedErrors uint64
	Throttles  uint64
}

// Player moves audio from a pipeline to a sink.
type Player struct {
	cfg  Config
	pipe *pipeline.Pipeline
	out  sink.Sink
	ctrl *stretch.Controller

	pcm []byte

	buffers    atomic.Uint64
	frames     atomic.Uint64
	feedErrors atomic.Uint64
	throttles  atomic.Uint64
}

// New creates a player. ctrl may be nil, in which case a controller with
// the default tuning is used when stretching.
func New(cfg Config, pipe *pipeline.Pipeline, out sink.Sink, ctrl *stretch.Controller) *Player {
	def := DefaultConfig()
	if cfg.MaxBacklog <= 0 {
		cfg.MaxBacklog = def.MaxBacklog
	}
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = def.ThrottleInterval
	}
	if ctrl == nil {
		ctrl = stretch.NewController(stretch.DefaultConfig())
	}
	return &Player{
		cfg:  cfg,
		pipe: pipe,
		out:  out,
		ctrl: ctrl,
		pcm:  make([]byte, 0, 8192),
	}
}

// Controller returns the stretch controller.
func (p *Player) Controller() *stretch.Controller {
	return p.ctrl
}

// Stats returns a snapshot of the counters.
func (p *Player) Stats() Stats {
	return Stats{
		Buffers:    p.buffers.Load(),
		Frames:     p.frames.Load(),
		FeedErrors: p.feedErrors.Load(),
		Throttles:  p.throttles.Load(),
	}
}

// Run plays buffers until the pipeline is closed and drained, returning
// nil, or until ctx is done, returning its error. Stretched playback waits
// for the pipeline's MinReady buffers; realtime playback takes each buffer
// as soon as it is ready.
func (p *Player) Run(ctx context.Context) error {
	minReady := p.pipe.Config().MinReady
	if p.cfg.Realtime {
		minReady = 1
	}
	stretching := p.cfg.Timestretch && !p.cfg.Realtime

	for {
		buf, err := p.pipe.AcquireN(ctx, minReady)
		if errors.Is(err, pipeline.ErrClosed) {
			if stretching {
				if err := p.ctrl.Flush(p.feed); err != nil {
					log.Printf("Warning: audio flush failed: %v", err)
				}
			}
			return nil
		}
		if err != nil {
			return err
		}

		if !p.cfg.Realtime {
			if err := p.throttle(ctx); err != nil {
				if rerr := p.pipe.Release(buf); rerr != nil {
					log.Printf("Warning: audio buffer release failed: %v", rerr)
				}
				return err
			}
		}

		if stretching {
			p.ctrl.AddDrops(p.pipe.TakeDrops())
			if err := p.ctrl.Process(buf, p.out.Buffered(), p.feed); err != nil {
				log.Printf("Warning: audio stretch failed: %v", err)
			}
		} else {
			p.feed(buf.Frames())
		}
		p.buffers.Add(1)

		if err := p.pipe.Release(buf); err != nil {
			return err
		}
	}
}

// throttle waits while the device holds more than MaxBacklog bytes.
func (p *Player) throttle(ctx context.Context) error {
	for p.out.Buffered() > p.cfg.MaxBacklog {
		p.throttles.Add(1)
		t := time.NewTimer(p.cfg.ThrottleInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// feed writes samples to the sink. Errors are logged and playback goes
// on.
func (p *Player) feed(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	p.pcm = sink.AppendPCM(p.pcm[:0], samples)
	if err := p.out.Feed(p.pcm); err != nil {
		p.feedErrors.Add(1)
		log.Printf("Warning: audio feed failed: %v", err)
		return nil
	}
	p.frames.Add(uint64(len(samples) / 2))
	return nil
}
