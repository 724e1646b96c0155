package stretch

import (
	"time"

	"github.com/user-none/emspu2/pipeline"
)

// Config holds the controller's tuning.
type Config struct {
	// LowWater is the device backlog in bytes below which output is
	// lengthened.
	LowWater int
	// HighWater is the device backlog in bytes above which output is
	// shortened in proportion to the excess.
	HighWater int
	// MinRatio and MaxRatio bound the ratio of output to input length.
	MinRatio float64
	MaxRatio float64
	// History is the number of buffer durations averaged.
	History int
	// UpdateEvery is how many buffers pass between tempo changes.
	UpdateEvery int
}

// DefaultConfig returns the standard tuning for 48 kHz stereo output.
func DefaultConfig() Config {
	return Config{
		LowWater:    8000,
		HighWater:   40000,
		MinRatio:    0.5,
		MaxRatio:    2.0,
		History:     64,
		UpdateEvery: 4,
	}
}

// Controller sizes each buffer's output to the time the emulator took to
// produce it, corrected by how full the device is. It is used by the
// consumer goroutine only.
type Controller struct {
	cfg    Config
	engine *Engine

	history []time.Duration
	histPos int
	histLen int
	total   time.Duration

	deficit int
	ratio   float64
	applied float64
	count   uint64

	scratch []int16
}

// NewController creates a controller for 48 kHz stereo audio. Zero fields
// of cfg take their DefaultConfig values.
func NewController(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.LowWater <= 0 {
		cfg.LowWater = def.LowWater
	}
	if cfg.HighWater <= cfg.LowWater {
		cfg.HighWater = max(def.HighWater, cfg.LowWater+1)
	}
	if cfg.MinRatio <= 0 {
		cfg.MinRatio = def.MinRatio
	}
	if cfg.MaxRatio < cfg.MinRatio {
		cfg.MaxRatio = max(def.MaxRatio, cfg.MinRatio)
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.UpdateEvery <= 0 {
		cfg.UpdateEvery = def.UpdateEvery
	}
	return &Controller{
		cfg:     cfg,
		engine:  NewEngine(pipeline.SampleRate, 2),
		history: make([]time.Duration, cfg.History),
		ratio:   1,
		applied: 1,
		scratch: make([]int16, 4096),
	}
}

// Ratio returns the most recently computed output/input ratio.
func (c *Controller) Ratio() float64 {
	return c.ratio
}

// AppliedRatio returns the ratio the engine is running at.
func (c *Controller) AppliedRatio() float64 {
	return c.applied
}

// AddDrops records buffers the producer had to discard. Each one shortens
// a later buffer's target once.
func (c *Controller) AddDrops(n int) {
	if n > 0 {
		c.deficit += n
	}
}

// Deficit returns the number of drops not yet compensated.
func (c *Controller) Deficit() int {
	return c.deficit
}

// AverageDuration returns the mean producer time per buffer.
func (c *Controller) AverageDuration() time.Duration {
	if c.histLen == 0 {
		return 0
	}
	return c.total / time.Duration(c.histLen)
}

func (c *Controller) push(d time.Duration) {
	if c.histLen == len(c.history) {
		c.total -= c.history[c.histPos]
	} else {
		c.histLen++
	}
	c.history[c.histPos] = d
	c.total += d
	c.histPos = (c.histPos + 1) % len(c.history)
}

// target returns the number of output frames wanted for a buffer given
// the device backlog in bytes. It consumes one unit of drop deficit.
func (c *Controller) target(backlog int) int {
	us := c.AverageDuration().Microseconds()
	switch {
	case backlog < c.cfg.LowWater:
		us += 1000
	case backlog > c.cfg.HighWater:
		us -= int64(backlog-c.cfg.HighWater) / 10
	}
	if c.deficit > 0 {
		us -= 1000
		c.deficit--
	}
	return int(us * pipeline.SampleRate / 1000000)
}

// Process feeds buf through the engine and passes every produced chunk of
// interleaved samples to emit. backlog is the device's queued bytes.
func (c *Controller) Process(buf *pipeline.Buffer, backlog int, emit func([]int16) error) error {
	frames := buf.Frames()
	produced := len(frames) / 2
	if produced == 0 {
		return nil
	}

	c.push(buf.Elapsed)
	ratio := float64(c.target(backlog)) / float64(produced)
	ratio = min(max(ratio, c.cfg.MinRatio), c.cfg.MaxRatio)
	c.ratio = ratio

	if c.count%uint64(c.cfg.UpdateEvery) == 0 {
		c.applied = ratio
		c.engine.SetTempo(1 / ratio)
	}
	c.count++

	c.engine.Put(frames)
	return c.drain(emit)
}

// Flush pushes out whatever the engine still holds.
func (c *Controller) Flush(emit func([]int16) error) error {
	c.engine.Flush()
	return c.drain(emit)
}

func (c *Controller) drain(emit func([]int16) error) error {
	for {
		n := c.engine.Receive(c.scratch)
		if n == 0 {
			return nil
		}
		if err := emit(c.scratch[:n]); err != nil {
			return err
		}
	}
}

// Reset forgets the duration history and buffered audio.
func (c *Controller) Reset() {
	clear(c.history)
	c.histPos, c.histLen, c.total = 0, 0, 0
	c.deficit = 0
	c.ratio, c.applied = 1, 1
	c.count = 0
	c.engine.Clear()
	c.engine.SetTempo(1)
}
