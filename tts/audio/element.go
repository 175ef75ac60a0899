package audio

import (
	"context"
	"sync"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

// BufferLoader resolves a URL to a decoded buffer.
type BufferLoader interface {
	Load(ctx context.Context, url string) (*Buffer, error)
}

// Gate decides whether playback may start. Allow returns
// tts.ErrAutoplayBlocked until the output has been unlocked by an explicit
// user gesture.
type Gate interface {
	Allow() error
	Resume()
}

// Element is the single narrator output: one loaded URL played through its
// own gain into the narrator bus.
type Element struct {
	mu     sync.Mutex
	graph  *Graph
	gain   *Gain
	loader BufferLoader
	gate   Gate

	src  *Source
	url  string
	rate float64

	ended       func()
	cancelEnded func()
}

// NewElement creates a narrator output routed into bus. gate may be nil.
func NewElement(graph *Graph, bus *Bus, loader BufferLoader, gate Gate) *Element {
	gain := graph.NewGain(1)
	gain.Connect(bus)
	return &Element{
		graph:  graph,
		gain:   gain,
		loader: loader,
		gate:   gate,
		rate:   1,
	}
}

// Load replaces the current source with the audio at url. Playback is
// stopped; call Play to start.
func (e *Element) Load(ctx context.Context, url string) error {
	buf, err := e.loader.Load(ctx, url)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src := e.graph.NewSource(buf)
	src.Connect(e.gain)
	src.SetRate(e.rateValue())
	cancel := src.OnEnded(e.handleEnded)

	e.mu.Lock()
	old, oldCancel := e.src, e.cancelEnded
	e.src, e.url, e.cancelEnded = src, url, cancel
	e.mu.Unlock()

	if old != nil {
		oldCancel()
		old.Dispose()
	}
	return nil
}

func (e *Element) rateValue() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *Element) handleEnded() {
	e.mu.Lock()
	fn := e.ended
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Play starts or resumes playback of the loaded source.
func (e *Element) Play() error {
	e.mu.Lock()
	src, gate := e.src, e.gate
	e.mu.Unlock()

	if src == nil {
		return tts.ErrNothingLoaded
	}
	if gate != nil {
		if err := gate.Allow(); err != nil {
			return err
		}
	}
	pos := src.Position()
	if pos >= src.Duration() {
		pos = 0
	}
	src.Start(pos)
	return nil
}

// Activate records an explicit user gesture, unlocking a blocked output.
func (e *Element) Activate() {
	if e.gate != nil {
		e.gate.Resume()
	}
}

// Pause stops playback, keeping the position.
func (e *Element) Pause() {
	if src := e.source(); src != nil {
		src.Stop()
	}
}

// Seek moves the playback position of the loaded source.
func (e *Element) Seek(d time.Duration) {
	if src := e.source(); src != nil {
		src.Seek(d)
	}
}

// Position returns the playback position of the loaded source.
func (e *Element) Position() time.Duration {
	if src := e.source(); src != nil {
		return src.Position()
	}
	return 0
}

// Duration returns the length of the loaded source.
func (e *Element) Duration() time.Duration {
	if src := e.source(); src != nil {
		return src.Duration()
	}
	return 0
}

// Playing reports whether the loaded source is playing.
func (e *Element) Playing() bool {
	if src := e.source(); src != nil {
		return src.Playing()
	}
	return false
}

// URL returns the loaded URL, empty when unloaded.
func (e *Element) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

// SetRate sets the playback rate of the current and future sources.
func (e *Element) SetRate(rate float64) {
	e.mu.Lock()
	e.rate = rate
	src := e.src
	e.mu.Unlock()
	if src != nil {
		src.SetRate(rate)
	}
}

// SetVolume sets the element gain.
func (e *Element) SetVolume(v float64) {
	e.gain.SetValue(v)
}

// OnEnded sets the function run when the loaded source plays to its end.
func (e *Element) OnEnded(fn func()) {
	e.mu.Lock()
	e.ended = fn
	e.mu.Unlock()
}

// Unload stops and releases the loaded source.
func (e *Element) Unload() {
	e.mu.Lock()
	src, cancel := e.src, e.cancelEnded
	e.src, e.url, e.cancelEnded = nil, "", nil
	e.mu.Unlock()

	if src != nil {
		cancel()
		src.Dispose()
	}
}

// Dispose unloads and disconnects the element.
func (e *Element) Dispose() {
	e.Unload()
	e.gain.Dispose()
}

func (e *Element) source() *Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}
