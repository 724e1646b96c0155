package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user-none/emspu2/pipeline"
	"github.com/user-none/emspu2/sink"
)

// fakeSink records fed samples. backlog, when set, supplies Buffered.
type fakeSink struct {
	mu      sync.Mutex
	samples []int16
	feeds   int
	failN   int
	backlog func() int
}

func (f *fakeSink) Feed(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds++
	if f.feeds <= f.failN {
		return errors.New("device busy")
	}
	f.samples = sink.DecodePCM(f.samples, p)
	return nil
}

func (f *fakeSink) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backlog != nil {
		return f.backlog()
	}
	return 20000
}

func (f *fakeSink) BytesPerSecond() int { return sink.BytesPerSecond }
func (f *fakeSink) Close() error        { return nil }

func (f *fakeSink) fed() []int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int16(nil), f.samples...)
}

func tick(v int16) []int16 {
	t := make([]int16, 96)
	for i := range t {
		t[i] = v
	}
	return t
}

func newPipe(minReady int) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{Slots: 8, TickFrames: 48, TicksPerBuffer: 2, MinReady: minReady})
}

func TestPlayer_PassThroughInOrder(t *testing.T) {
	pipe := newPipe(3)
	out := &fakeSink{}
	p := New(Config{Timestretch: false}, pipe, out, nil)

	for i := 0; i < 6; i++ {
		pipe.Append(tick(int16(i)), 0)
	}
	pipe.Close()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := out.fed()
	if len(got) != 6*96 {
		t.Fatalf("expected %d samples, got %d", 6*96, len(got))
	}
	for i := 0; i < 6; i++ {
		if got[i*96] != int16(i) {
			t.Errorf("tick %d: expected %d, got %d", i, i, got[i*96])
		}
	}
	if st := p.Stats(); st.Buffers != 3 || st.Frames != 288 {
		t.Errorf("expected 3 buffers and 288 frames, got %+v", st)
	}
}

func TestPlayer_FeedErrorsContinue(t *testing.T) {
	pipe := newPipe(1)
	out := &fakeSink{failN: 2}
	p := New(Config{Realtime: true}, pipe, out, nil)

	for i := 0; i < 8; i++ {
		pipe.Append(tick(int16(i)), 0)
	}
	pipe.Close()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	st := p.Stats()
	if st.FeedErrors != 2 {
		t.Errorf("expected 2 feed errors, got %d", st.FeedErrors)
	}
	if st.Buffers != 4 {
		t.Errorf("expected all 4 buffers consumed, got %d", st.Buffers)
	}
	if got := len(out.fed()); got != 2*192 {
		t.Errorf("expected the last 2 buffers played, got %d samples", got)
	}
	if pipe.Ready() != 0 {
		t.Errorf("expected every slot released, got %d ready", pipe.Ready())
	}
}

func TestPlayer_WaitsForMinReady(t *testing.T) {
	pipe := newPipe(3)
	out := &fakeSink{}
	p := New(Config{}, pipe, out, nil)

	for i := 0; i < 4; i++ {
		pipe.Append(tick(1), 0)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if len(out.fed()) != 0 {
		t.Error("expected nothing played with 2 of 3 buffers ready")
	}
}

func TestPlayer_MinReadyAboveRingSize(t *testing.T) {
	// A 3-slot ring holds at most 2 ready buffers, so asking for 3 must
	// not stall the player.
	pipe := pipeline.New(pipeline.Config{Slots: 3, TickFrames: 48, TicksPerBuffer: 1, MinReady: 3})
	out := &fakeSink{}
	p := New(Config{}, pipe, out, nil)

	for i := 0; i < 10; i++ {
		pipe.Append(tick(int16(i)), 0)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	got := out.fed()
	if len(got) != 2*96 {
		t.Fatalf("expected both ready buffers played, got %d samples", len(got))
	}
	if got[0] != 0 || got[96] != 1 {
		t.Errorf("expected ticks 0 and 1, got %d and %d", got[0], got[96])
	}
}

func TestPlayer_Throttles(t *testing.T) {
	pipe := newPipe(1)
	backlog := 100000
	out := &fakeSink{backlog: func() int {
		b := backlog
		backlog -= 10000
		return b
	}}
	p := New(Config{MaxBacklog: 72000, ThrottleInterval: time.Microsecond}, pipe, out, nil)

	pipe.Append(tick(1), 0)
	pipe.Append(tick(1), 0)
	pipe.Close()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := p.Stats().Throttles; got != 3 {
		t.Errorf("expected 3 throttle waits (100000, 90000, 80000), got %d", got)
	}
}

func TestPlayer_ThrottleHonorsCancel(t *testing.T) {
	pipe := newPipe(1)
	out := &fakeSink{backlog: func() int { return 1 << 20 }}
	p := New(Config{ThrottleInterval: time.Millisecond}, pipe, out, nil)
	pipe.Append(tick(1), 0)
	pipe.Append(tick(1), 0)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if pipe.Ready() != 0 {
		t.Errorf("expected the held buffer released, got %d ready", pipe.Ready())
	}
}

func TestPlayer_RealtimeSkipsThrottle(t *testing.T) {
	pipe := newPipe(3)
	out := &fakeSink{backlog: func() int { return 1 << 20 }}
	p := New(Config{Realtime: true, Timestretch: true}, pipe, out, nil)
	pipe.Append(tick(1), 0)
	pipe.Append(tick(1), 0)
	pipe.Close()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if st := p.Stats(); st.Throttles != 0 || st.Frames != 96 {
		t.Errorf("expected one buffer played without throttling, got %+v", st)
	}
}

func TestPlayer_StretchedKeepsLength(t *testing.T) {
	pipe := pipeline.New(pipeline.Config{Slots: 24, TickFrames: 48, TicksPerBuffer: 16, MinReady: 3})
	out := &fakeSink{}
	p := New(DefaultConfig(), pipe, out, nil)

	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background()) }()

	// 1s of ticks, paced so the pipeline never fills.
	const ticks = 1000
	for i := 0; i < ticks; i++ {
		s := make([]int16, 96)
		for j := range s {
			s[j] = int16((i*48 + j/2) % 200 * 100)
		}
		pipe.Append(s, 0)
		if i%16 == 15 {
			for pipe.Ready() > 12 {
				time.Sleep(100 * time.Microsecond)
			}
		}
	}
	pipe.Close()
	if err := <-errc; err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The producer runs far ahead of real time, so output shrinks toward
	// the lower clamp.
	in := float64(ticks / 16 * 768)
	frames := float64(len(out.fed()) / 2)
	if frames < 0.4*in || frames > 2.1*in {
		t.Errorf("expected output within the ratio clamp of %.0f frames, got %.0f", in, frames)
	}
	r := p.Controller().Ratio()
	if r < 0.5 || r > 2.0 {
		t.Errorf("ratio %.3f outside clamp", r)
	}
}
