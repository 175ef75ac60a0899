// Package ambience plays looping ambient sounds. Each sound loops seamlessly
// by crossfading between two sources of the same buffer.
package ambience

import (
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts/audio"
)

// Loop timing defaults.
const (
	DefaultCrossfade    = 500 * time.Millisecond
	DefaultPreStart     = 50 * time.Millisecond
	DefaultCurveSamples = 128
)

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// LoopConfig holds the crossfade timing of a looper.
type LoopConfig struct {
	Crossfade    time.Duration
	PreStart     time.Duration
	CurveSamples int
}

// DefaultLoopConfig returns a 500ms equal-power crossfade with 50ms of
// pre-buffering.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Crossfade:    DefaultCrossfade,
		PreStart:     DefaultPreStart,
		CurveSamples: DefaultCurveSamples,
	}
}

// PreStartDelay returns how long to wait, from position, before starting
// the standby source so that the crossfade ends with the buffer. A result
// of zero or less means the source is too short to crossfade.
func PreStartDelay(duration, position, crossfade, preStart time.Duration) time.Duration {
	return duration - crossfade - preStart - position
}

// FadeOut returns an equal-power cosine taper from volume to zero.
func FadeOut(samples int, volume float64) []float64 {
	curve := make([]float64, samples)
	for i := range curve {
		t := float64(i) / float64(samples-1)
		curve[i] = math.Cos(t*math.Pi/2) * volume
	}
	return curve
}

// FadeIn returns an equal-power sine taper from zero to volume.
func FadeIn(samples int, volume float64) []float64 {
	curve := make([]float64, samples)
	for i := range curve {
		t := float64(i) / float64(samples-1)
		curve[i] = math.Sin(t*math.Pi/2) * volume
	}
	return curve
}

// Looper loops one buffer through two sources, A and B, each behind its own
// gain. The active source plays at the looper volume while the other waits
// silent; shortly before the active source ends the standby one starts and
// the two crossfade.
type Looper struct {
	mu     sync.Mutex
	graph  *audio.Graph
	sched  Scheduler
	config LoopConfig

	sources [2]*audio.Source
	gains   [2]*audio.Gain
	cancel  [2]func()
	active  int

	volume   float64
	playing  bool
	disposed bool

	timer    Timer
	timerSeq uint64
}

// NewLooper creates a stopped looper for buf routed into bus. sched may be
// nil to use wall clock timers.
func NewLooper(graph *audio.Graph, bus *audio.Bus, buf *audio.Buffer, volume float64, config LoopConfig, sched Scheduler) *Looper {
	if sched == nil {
		sched = wallClock{}
	}
	if config.CurveSamples < 2 {
		config.CurveSamples = DefaultCurveSamples
	}
	l := &Looper{
		graph:  graph,
		sched:  sched,
		config: config,
		volume: volume,
	}
	for i := range l.sources {
		l.gains[i] = graph.NewGain(0)
		l.gains[i].Connect(bus)
		l.sources[i] = graph.NewSource(buf)
		l.sources[i].Connect(l.gains[i])
		l.cancel[i] = l.sources[i].OnPlaying(l.onPlaying(i))
	}
	l.gains[0].SetValue(volume)
	return l
}

// onPlaying arms the crossfade timer whenever the active source starts.
func (l *Looper) onPlaying(i int) func() {
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.disposed || !l.playing || i != l.active {
			return
		}
		l.scheduleLocked()
	}
}

func (l *Looper) scheduleLocked() {
	l.stopTimerLocked()

	src := l.sources[l.active]
	delay := PreStartDelay(src.Duration(), src.Position(), l.config.Crossfade, l.config.PreStart)
	if delay <= 0 {
		log.Debug("ambient source too short to crossfade", "duration", src.Duration())
		return
	}
	seq := l.timerSeq
	l.timer = l.sched.AfterFunc(delay, func() { l.crossfade(seq) })
}

func (l *Looper) stopTimerLocked() {
	l.timerSeq++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// crossfade starts the standby source silent, schedules both fades and
// makes the standby source active.
func (l *Looper) crossfade(seq uint64) {
	l.mu.Lock()
	if l.disposed || !l.playing || seq != l.timerSeq {
		l.mu.Unlock()
		return
	}
	l.timer = nil

	out, in := l.active, 1-l.active
	at := l.graph.Now() + l.config.PreStart
	n := l.config.CurveSamples

	l.gains[in].SetValue(0)
	l.gains[out].SetValueCurveAtTime(FadeOut(n, l.volume), at, l.config.Crossfade)
	l.gains[in].SetValueCurveAtTime(FadeIn(n, l.volume), at, l.config.Crossfade)
	l.active = in
	src := l.sources[in]
	l.mu.Unlock()

	// Starting fires onPlaying, which arms the next crossfade.
	src.Start(0)
}

// Start plays the active source from where it stopped.
func (l *Looper) Start() {
	l.mu.Lock()
	if l.disposed || l.playing {
		l.mu.Unlock()
		return
	}
	l.playing = true
	src := l.sources[l.active]
	l.gains[l.active].SetValue(l.volume)
	l.gains[1-l.active].SetValue(0)
	l.mu.Unlock()

	pos := src.Position()
	if pos >= src.Duration() {
		pos = 0
	}
	src.Start(pos)
}

// Stop pauses both sources and cancels the pending crossfade. State is kept
// so that Start resumes.
func (l *Looper) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed || !l.playing {
		return
	}
	l.playing = false
	l.stopTimerLocked()
	for _, src := range l.sources {
		src.Stop()
	}
	// A crossfade cut short leaves the standby source half faded in.
	l.sources[1-l.active].Seek(0)
	l.gains[1-l.active].SetValue(0)
}

// SetVolume sets the loop volume. Only the active gain changes; the standby
// source picks the volume up at the next crossfade.
func (l *Looper) SetVolume(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.volume = v
	if !l.disposed {
		l.gains[l.active].SetValue(v)
	}
}

// Volume returns the loop volume.
func (l *Looper) Volume() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volume
}

// Playing reports whether the looper is started.
func (l *Looper) Playing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.playing
}

// Active returns the index of the active source, 0 for A and 1 for B.
func (l *Looper) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Dispose stops both sources and releases them. The looper cannot be used
// afterwards.
func (l *Looper) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return
	}
	l.disposed = true
	l.playing = false
	l.stopTimerLocked()
	for i := range l.sources {
		l.cancel[i]()
		l.sources[i].Dispose()
		l.gains[i].Dispose()
	}
}
