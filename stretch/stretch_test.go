package stretch

import (
	"math"
	"testing"
	"time"

	"github.com/user-none/emspu2/pipeline"
)

// stereoSine returns n interleaved stereo frames of a sine at freq Hz.
func stereoSine(freq float64, n int) []int16 {
	out := make([]int16, n*2)
	for i := 0; i < n; i++ {
		v := int16(10000 * math.Sin(2*math.Pi*freq*float64(i)/pipeline.SampleRate))
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}

func runEngine(e *Engine, in []int16) []int16 {
	var out []int16
	buf := make([]int16, 1000)
	for i := 0; i < len(in); i += 1536 {
		end := min(i+1536, len(in))
		e.Put(in[i:end])
		for n := e.Receive(buf); n > 0; n = e.Receive(buf) {
			out = append(out, buf[:n]...)
		}
	}
	e.Flush()
	for n := e.Receive(buf); n > 0; n = e.Receive(buf) {
		out = append(out, buf[:n]...)
	}
	return out
}

func TestEngine_UnityTempoPassesThrough(t *testing.T) {
	e := NewEngine(pipeline.SampleRate, 2)
	in := stereoSine(440, 5000)
	out := runEngine(e, in)
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}
}

func TestEngine_OutputLength(t *testing.T) {
	const frames = 48000
	tests := []struct {
		tempo float64
	}{
		{2.0},
		{1.5},
		{1.1},
		{0.8},
		{0.5},
	}

	for _, tt := range tests {
		e := NewEngine(pipeline.SampleRate, 2)
		e.SetTempo(tt.tempo)
		out := runEngine(e, stereoSine(200, frames))

		want := float64(frames) / tt.tempo
		got := float64(len(out) / 2)
		if math.Abs(got-want) > 1500 {
			t.Errorf("tempo %.2f: expected about %.0f frames, got %.0f", tt.tempo, want, got)
		}
		if len(out)%2 != 0 {
			t.Errorf("tempo %.2f: output is not whole frames", tt.tempo)
		}
	}
}

func TestEngine_PreservesPitch(t *testing.T) {
	for _, tempo := range []float64{1.5, 0.75} {
		e := NewEngine(pipeline.SampleRate, 2)
		e.SetTempo(tempo)
		out := runEngine(e, stereoSine(300, 48000))

		// Count rising zero crossings on the left channel away from the ends.
		frames := len(out) / 2
		start, end := frames/10, frames*9/10
		crossings := 0
		for i := start + 1; i < end; i++ {
			if out[(i-1)*2] < 0 && out[i*2] >= 0 {
				crossings++
			}
		}
		freq := float64(crossings) * pipeline.SampleRate / float64(end-start)
		if math.Abs(freq-300) > 15 {
			t.Errorf("tempo %.2f: expected about 300 Hz, measured %.1f Hz", tempo, freq)
		}
	}
}

func TestEngine_Clear(t *testing.T) {
	e := NewEngine(pipeline.SampleRate, 2)
	e.SetTempo(1.3)
	e.Put(stereoSine(200, 4000))
	e.Clear()
	if e.Available() != 0 {
		t.Errorf("expected no output after Clear, got %d", e.Available())
	}
	e.Flush()
	if e.Available() != 0 {
		t.Errorf("expected nothing to flush after Clear, got %d", e.Available())
	}
}

func TestEngine_InvalidTempo(t *testing.T) {
	e := NewEngine(pipeline.SampleRate, 2)
	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		e.SetTempo(v)
		if e.Tempo() != 1 {
			t.Errorf("SetTempo(%v): expected tempo 1, got %v", v, e.Tempo())
		}
	}
}

func buffers(n int, elapsed time.Duration) []*pipeline.Buffer {
	src := stereoSine(250, n*768)
	bufs := make([]*pipeline.Buffer, n)
	for i := range bufs {
		bufs[i] = pipeline.NewBuffer(src[i*1536:(i+1)*1536], elapsed)
	}
	return bufs
}

func TestController_Ratio(t *testing.T) {
	tests := []struct {
		name    string
		backlog int
		want    float64
	}{
		{"low water speeds up", 0, 17000.0 / 16000},
		{"between marks", 20000, 1.0},
		{"high water slows down", 60000, 14000.0 / 16000},
		{"clamped low", 1000000, 0.5},
	}

	for _, tt := range tests {
		c := NewController(DefaultConfig())
		for _, b := range buffers(8, 16*time.Millisecond) {
			if err := c.Process(b, tt.backlog, func([]int16) error { return nil }); err != nil {
				t.Fatalf("%s: Process failed: %v", tt.name, err)
			}
		}
		if math.Abs(c.Ratio()-tt.want) > 1e-9 {
			t.Errorf("%s: expected ratio %.4f, got %.4f", tt.name, tt.want, c.Ratio())
		}
	}
}

func TestController_ClampHigh(t *testing.T) {
	c := NewController(DefaultConfig())
	// A producer three times slower than real time asks for triple length.
	for _, b := range buffers(4, 48*time.Millisecond) {
		c.Process(b, 20000, func([]int16) error { return nil })
	}
	if c.Ratio() != 2.0 {
		t.Errorf("expected ratio clamped to 2.0, got %.4f", c.Ratio())
	}
}

func TestController_HighBacklogShortensOutput(t *testing.T) {
	c := NewController(DefaultConfig())
	const n = 125 // 2 s of 16 ms buffers
	emitted := 0
	for _, b := range buffers(n, 16*time.Millisecond) {
		err := c.Process(b, 60000, func(s []int16) error {
			emitted += len(s) / 2
			return nil
		})
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if r := c.Ratio(); r >= 1 || r < 0.5 {
			t.Fatalf("expected ratio in [0.5, 1), got %.4f", r)
		}
	}

	want := 0.875 * n * 768
	if math.Abs(float64(emitted)-want) > 3000 {
		t.Errorf("expected about %.0f frames, got %d", want, emitted)
	}
}

func TestController_DropDeficit(t *testing.T) {
	c := NewController(DefaultConfig())
	c.AddDrops(2)
	bufs := buffers(3, 16*time.Millisecond)
	noop := func([]int16) error { return nil }

	c.Process(bufs[0], 20000, noop)
	if want := 15000.0 / 16000; math.Abs(c.Ratio()-want) > 1e-9 {
		t.Errorf("expected %.4f with a drop pending, got %.4f", want, c.Ratio())
	}
	if c.Deficit() != 1 {
		t.Errorf("expected deficit 1, got %d", c.Deficit())
	}
	c.Process(bufs[1], 20000, noop)
	c.Process(bufs[2], 20000, noop)
	if c.Ratio() != 1.0 {
		t.Errorf("expected ratio 1 once the deficit is paid, got %.4f", c.Ratio())
	}
}

func TestController_UpdateEvery(t *testing.T) {
	c := NewController(DefaultConfig())
	noop := func([]int16) error { return nil }
	bufs := buffers(6, 16*time.Millisecond)

	c.Process(bufs[0], 60000, noop)
	first := c.AppliedRatio()
	for i := 1; i < 4; i++ {
		c.Process(bufs[i], 0, noop)
		if c.AppliedRatio() != first {
			t.Fatalf("buffer %d: applied ratio changed early to %.4f", i, c.AppliedRatio())
		}
	}
	c.Process(bufs[4], 0, noop)
	if c.AppliedRatio() == first {
		t.Error("expected the fifth buffer to apply a new ratio")
	}
}

func TestController_SerializeRoundTrip(t *testing.T) {
	c := NewController(DefaultConfig())
	c.AddDrops(3)
	for i, b := range buffers(70, 15*time.Millisecond) {
		if i == 69 {
			b.Elapsed = 20 * time.Millisecond
		}
		c.Process(b, 20000, func([]int16) error { return nil })
	}

	data := c.Serialize()
	r := NewController(DefaultConfig())
	if err := r.Deserialize(data); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if r.AverageDuration() != c.AverageDuration() {
		t.Errorf("expected average %v, got %v", c.AverageDuration(), r.AverageDuration())
	}
	if r.Ratio() != c.Ratio() || r.AppliedRatio() != c.AppliedRatio() {
		t.Errorf("expected ratios %v/%v, got %v/%v", c.Ratio(), c.AppliedRatio(), r.Ratio(), r.AppliedRatio())
	}
	if r.Deficit() != c.Deficit() {
		t.Errorf("expected deficit %d, got %d", c.Deficit(), r.Deficit())
	}

	if err := r.Deserialize(data[:10]); err != ErrStateTooShort {
		t.Errorf("expected ErrStateTooShort, got %v", err)
	}
}
