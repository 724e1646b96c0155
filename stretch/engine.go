// Package stretch changes the tempo of the emulated audio stream without
// changing its pitch, so that playback can absorb the difference between
// emulation speed and the output device's clock.
package stretch

import "math"

const (
	// Pitch range searched for a repeating period.
	minPitch = 65
	maxPitch = 400

	// Rate the pitch search is coarsely run at.
	amdfFreq = 4000
)

// Engine is a pitch-preserving tempo changer for interleaved int16 audio.
// It removes or repeats whole pitch periods, cross-fading at the seams,
// and copies the audio in between unmodified.
type Engine struct {
	channels    int
	sampleRate  int
	minPeriod   int
	maxPeriod   int
	maxRequired int
	skip        int

	tempo float64

	in   []int16 // interleaved input not yet processed
	out  []int16 // interleaved output not yet received
	down []int16 // mono, decimated scratch for the pitch search

	remaining   int // frames to copy before the next period edit
	prevPeriod  int
	prevMinDiff int
}

// NewEngine creates an engine for audio at sampleRate with the given
// number of interleaved channels.
func NewEngine(sampleRate, channels int) *Engine {
	minPeriod := sampleRate / maxPitch
	maxPeriod := sampleRate / minPitch
	skip := 1
	if sampleRate > amdfFreq {
		skip = sampleRate / amdfFreq
	}
	e := &Engine{
		channels:    channels,
		sampleRate:  sampleRate,
		minPeriod:   minPeriod,
		maxPeriod:   maxPeriod,
		maxRequired: 2 * maxPeriod,
		skip:        skip,
		tempo:       1,
	}
	e.down = make([]int16, 0, e.maxRequired)
	return e
}

// Tempo returns the current tempo.
func (e *Engine) Tempo() float64 {
	return e.tempo
}

// SetTempo sets the playback speed. Values above 1 shorten the audio and
// values below 1 lengthen it.
func (e *Engine) SetTempo(tempo float64) {
	if tempo <= 0 || math.IsNaN(tempo) || math.IsInf(tempo, 0) {
		tempo = 1
	}
	e.tempo = tempo
}

// Put queues interleaved samples and processes as much as possible.
func (e *Engine) Put(samples []int16) {
	e.in = append(e.in, samples[:len(samples)-len(samples)%e.channels]...)
	e.process()
}

// Available returns the number of interleaved samples ready to receive.
func (e *Engine) Available() int {
	return len(e.out)
}

// Receive copies up to len(dst) processed samples into dst and returns how
// many were copied. Only whole frames are copied.
func (e *Engine) Receive(dst []int16) int {
	n := len(dst) - len(dst)%e.channels
	if n > len(e.out) {
		n = len(e.out)
	}
	copy(dst, e.out[:n])
	e.out = e.out[:copy(e.out, e.out[n:])]
	return n
}

// Flush processes whatever input is left, padding with silence, and trims
// the output to the length the tempo calls for.
func (e *Engine) Flush() {
	frames := e.frames(e.in)
	if frames == 0 {
		return
	}
	want := len(e.out) + int(math.Round(float64(frames)/e.tempo))*e.channels

	e.in = append(e.in, make([]int16, 2*e.maxRequired*e.channels)...)
	e.process()

	if len(e.out) > want {
		e.out = e.out[:want]
	}
	e.in = e.in[:0]
	e.remaining = 0
}

// Clear discards all buffered audio and the pitch history.
func (e *Engine) Clear() {
	e.in = e.in[:0]
	e.out = e.out[:0]
	e.remaining = 0
	e.prevPeriod = 0
	e.prevMinDiff = 0
}

func (e *Engine) frames(s []int16) int {
	return len(s) / e.channels
}

func (e *Engine) process() {
	if e.tempo > 0.99999 && e.tempo < 1.00001 {
		e.out = append(e.out, e.in...)
		e.in = e.in[:0]
		return
	}

	numFrames := e.frames(e.in)
	if numFrames < e.maxRequired {
		return
	}

	pos := 0
	for pos+e.maxRequired <= numFrames {
		switch {
		case e.remaining > 0:
			pos += e.copyUnmodified(pos)
		case e.tempo > 1:
			period := e.findPitchPeriod(pos)
			pos += period + e.skipPitchPeriod(pos, period)
		default:
			period := e.findPitchPeriod(pos)
			pos += e.insertPitchPeriod(pos, period)
		}
	}
	e.in = e.in[:copy(e.in, e.in[pos*e.channels:])]
}

func (e *Engine) copyUnmodified(pos int) int {
	n := e.remaining
	if n > e.maxRequired {
		n = e.maxRequired
	}
	c := e.channels
	e.out = append(e.out, e.in[pos*c:(pos+n)*c]...)
	e.remaining -= n
	return n
}

// skipPitchPeriod drops one period by cross-fading it into the next and
// returns the number of frames written.
func (e *Engine) skipPitchPeriod(pos, period int) int {
	var n int
	if e.tempo >= 2 {
		n = int(float64(period) / (e.tempo - 1))
	} else {
		n = period
		e.remaining = int(float64(period) * (2 - e.tempo) / (e.tempo - 1))
	}
	e.overlapAdd(n, pos, pos+period)
	return n
}

// insertPitchPeriod plays one period twice, cross-fading the repeat, and
// returns the number of input frames consumed.
func (e *Engine) insertPitchPeriod(pos, period int) int {
	var n int
	if e.tempo < 0.5 {
		n = max(int(float64(period)*e.tempo/(1-e.tempo)), 1)
	} else {
		n = period
		e.remaining = int(float64(period) * (2*e.tempo - 1) / (1 - e.tempo))
	}
	c := e.channels
	e.out = append(e.out, e.in[pos*c:(pos+period)*c]...)
	e.overlapAdd(n, pos+period, pos)
	return n
}

// overlapAdd appends n frames fading from the frames at down to the
// frames at up.
func (e *Engine) overlapAdd(n, down, up int) {
	if n <= 0 {
		return
	}
	c := e.channels
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			d := int(e.in[(down+i)*c+ch])
			u := int(e.in[(up+i)*c+ch])
			e.out = append(e.out, int16((d*(n-i)+u*i)/n))
		}
	}
}

// findPitchPeriod estimates the repeating period of the input at pos. The
// search runs on a decimated mono mix first and is then refined at the
// full rate around the coarse result.
func (e *Engine) findPitchPeriod(pos int) int {
	var period, minDiff, maxDiff int
	minPeriod, maxPeriod := e.minPeriod, e.maxPeriod

	e.downmix(pos, e.skip)
	period, minDiff, maxDiff = pitchPeriodInRange(e.down, minPeriod/e.skip, maxPeriod/e.skip)
	if e.skip != 1 {
		period *= e.skip
		minPeriod = max(period-(e.skip<<2), e.minPeriod)
		maxPeriod = min(period+(e.skip<<2), e.maxPeriod)
		e.downmix(pos, 1)
		period, minDiff, maxDiff = pitchPeriodInRange(e.down, minPeriod, maxPeriod)
	}

	ret := period
	if e.prevPeriodBetter(minDiff, maxDiff) {
		ret = e.prevPeriod
	}
	e.prevMinDiff = minDiff
	e.prevPeriod = period
	return ret
}

// prevPeriodBetter detects the end of a voiced segment, where the last
// period is a better match than a fresh estimate.
func (e *Engine) prevPeriodBetter(minDiff, maxDiff int) bool {
	if minDiff == 0 || e.prevPeriod == 0 {
		return false
	}
	if maxDiff > minDiff*3 {
		return false
	}
	if minDiff*2 <= e.prevMinDiff*3 {
		return false
	}
	return true
}

// downmix averages skip frames of all channels into each entry of down.
func (e *Engine) downmix(pos, skip int) {
	n := e.maxRequired / skip
	e.down = e.down[:0]
	c := e.channels
	src := e.in[pos*c:]
	per := skip * c
	for i := 0; i < n; i++ {
		v := 0
		for _, s := range src[i*per : (i+1)*per] {
			v += int(s)
		}
		e.down = append(e.down, int16(v/per))
	}
}

// pitchPeriodInRange runs an average magnitude difference search and
// returns the best period with the normalized best and worst differences.
func pitchPeriodInRange(samples []int16, minP, maxP int) (int, int, int) {
	if minP < 1 {
		minP = 1
	}
	if limit := len(samples) / 2; maxP > limit {
		maxP = limit
	}
	best, worst := 0, 255
	minDiff, maxDiff := 1, 0
	for period := minP; period <= maxP; period++ {
		diff := 0
		for i := 0; i < period; i++ {
			d := int(samples[i]) - int(samples[i+period])
			if d < 0 {
				d = -d
			}
			diff += d
		}
		if best == 0 || diff*best < minDiff*period {
			minDiff = diff
			best = period
		}
		if diff*worst > maxDiff*period {
			maxDiff = diff
			worst = period
		}
	}
	if best == 0 {
		return minP, 0, 0
	}
	return best, minDiff / best, maxDiff / worst
}
