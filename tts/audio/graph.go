package audio

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"
)

// Graph mixes every playing source through its gain and bus into one
// interleaved 16 bit output stream. The graph clock only advances when
// output is rendered, so scheduled automation is sample accurate.
type Graph struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	frame      int64 // rendered frames since creation

	buses   []*Bus
	sources []*Source

	// Callbacks raised while the lock was held, run after unlocking
	fired []func()
	acc   []float32
}

// NewGraph creates an empty graph rendering at sampleRate with channels.
func NewGraph(sampleRate, channels int) *Graph {
	return &Graph{
		sampleRate: sampleRate,
		channels:   channels,
		acc:        make([]float32, channels),
	}
}

// SampleRate returns the output sample rate.
func (g *Graph) SampleRate() int { return g.sampleRate }

// Channels returns the output channel count.
func (g *Graph) Channels() int { return g.channels }

// Now returns the graph clock.
func (g *Graph) Now() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frameToTime(g.frame)
}

func (g *Graph) frameToTime(f int64) time.Duration {
	return time.Duration(f) * time.Second / time.Duration(g.sampleRate)
}

func (g *Graph) timeToFrame(d time.Duration) int64 {
	return int64(d) * int64(g.sampleRate) / int64(time.Second)
}

// Read renders len(p) bytes of signed 16 bit little endian output. It
// implements io.Reader so the graph can feed an audio device directly.
func (g *Graph) Read(p []byte) (int, error) {
	frameSize := 2 * g.channels
	frames := len(p) / frameSize
	g.render(frames, p[:frames*frameSize])
	return frames * frameSize, nil
}

// Advance renders and discards d worth of output. Used by headless sinks
// and tests to move the clock.
func (g *Graph) Advance(d time.Duration) {
	frames := int(g.timeToFrame(d))
	const chunk = 4096
	for frames > 0 {
		n := frames
		if n > chunk {
			n = chunk
		}
		g.render(n, nil)
		frames -= n
	}
}

func (g *Graph) render(frames int, out []byte) {
	g.mu.Lock()
	ch := g.channels
	for f := 0; f < frames; f++ {
		t := g.frame
		for c := range g.acc {
			g.acc[c] = 0
		}

		for _, bus := range g.buses {
			for _, gain := range bus.gains {
				v := float32(gain.valueAt(t) * bus.volume)
				for _, src := range gain.sources {
					if !src.playing {
						continue
					}
					i := int(src.pos)
					if i >= src.buf.Frames() {
						continue
					}
					for c := 0; c < ch; c++ {
						g.acc[c] += src.buf.Samples[i*ch+c] * v
					}
				}
			}
		}

		for _, src := range g.sources {
			if src.playing {
				src.advance()
			}
		}

		if out != nil {
			for c := 0; c < ch; c++ {
				binary.LittleEndian.PutUint16(out[(f*ch+c)*2:], uint16(floatToInt16(g.acc[c])))
			}
		}
		g.frame++
	}
	fired := g.fired
	g.fired = nil
	g.mu.Unlock()

	for _, fn := range fired {
		fn()
	}
}

// NewBus creates an output bus with unit volume.
func (g *Graph) NewBus(name string) *Bus {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := &Bus{graph: g, name: name, volume: 1}
	g.buses = append(g.buses, b)
	return b
}

// NewGain creates an unconnected gain control.
func (g *Graph) NewGain(value float64) *Gain {
	return &Gain{graph: g, value: value}
}

// NewSource creates a stopped source for buf, converted to the graph's
// output format.
func (g *Graph) NewSource(buf *Buffer) *Source {
	s := &Source{
		graph:     g,
		buf:       buf.Convert(g.sampleRate, g.channels),
		rate:      1,
		onPlaying: make(map[int]func()),
		onEnded:   make(map[int]func()),
	}
	g.mu.Lock()
	g.sources = append(g.sources, s)
	g.mu.Unlock()
	return s
}

// Bus is a named mix group with its own volume, such as narrator, music or
// ambience.
type Bus struct {
	graph  *Graph
	name   string
	volume float64
	gains  []*Gain
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// SetVolume sets the bus volume.
func (b *Bus) SetVolume(v float64) {
	b.graph.mu.Lock()
	b.volume = v
	b.graph.mu.Unlock()
}

// Volume returns the bus volume.
func (b *Bus) Volume() float64 {
	b.graph.mu.Lock()
	defer b.graph.mu.Unlock()
	return b.volume
}

// Dispose removes the bus and detaches its gains.
func (b *Bus) Dispose() {
	g := b.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, gain := range b.gains {
		gain.bus = nil
	}
	b.gains = nil
	g.buses = remove(g.buses, b)
}

// Automation is a value curve scheduled on a gain.
type Automation struct {
	Start time.Duration
	End   time.Duration
	Curve []float64
}

type automation struct {
	start, end int64
	curve      []float64
}

// Gain scales the sources connected to it.
type Gain struct {
	graph   *Graph
	bus     *Bus
	value   float64
	autos   []automation
	sources []*Source
}

// Connect routes the gain into bus, replacing any previous connection.
func (gn *Gain) Connect(bus *Bus) {
	g := gn.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if gn.bus != nil {
		gn.bus.gains = remove(gn.bus.gains, gn)
	}
	gn.bus = bus
	bus.gains = append(bus.gains, gn)
}

// SetValue sets the gain immediately and cancels scheduled curves.
func (gn *Gain) SetValue(v float64) {
	gn.graph.mu.Lock()
	gn.value = v
	gn.autos = nil
	gn.graph.mu.Unlock()
}

// Value returns the gain at the current graph time.
func (gn *Gain) Value() float64 {
	g := gn.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	return gn.valueAt(g.frame)
}

// SetValueCurveAtTime schedules curve to be played back linearly
// interpolated over [start, start+duration) on the graph clock. Before start
// the gain keeps its value; after the curve ends it holds the last point.
func (gn *Gain) SetValueCurveAtTime(curve []float64, start, duration time.Duration) {
	if len(curve) == 0 || duration <= 0 {
		return
	}
	g := gn.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	a := automation{
		start: g.timeToFrame(start),
		end:   g.timeToFrame(start + duration),
		curve: append([]float64(nil), curve...),
	}
	gn.autos = append(gn.autos, a)
	sort.SliceStable(gn.autos, func(i, j int) bool { return gn.autos[i].start < gn.autos[j].start })
}

// Scheduled returns the curves that have not finished yet.
func (gn *Gain) Scheduled() []Automation {
	g := gn.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Automation, 0, len(gn.autos))
	for _, a := range gn.autos {
		out = append(out, Automation{
			Start: g.frameToTime(a.start),
			End:   g.frameToTime(a.end),
			Curve: append([]float64(nil), a.curve...),
		})
	}
	return out
}

// valueAt must be called with the graph lock held. Finished curves are
// committed to the static value.
func (gn *Gain) valueAt(t int64) float64 {
	for len(gn.autos) > 0 && gn.autos[0].end <= t {
		c := gn.autos[0].curve
		gn.value = c[len(c)-1]
		gn.autos = gn.autos[1:]
	}
	if len(gn.autos) == 0 || gn.autos[0].start > t {
		return gn.value
	}
	a := gn.autos[0]
	if len(a.curve) == 1 {
		return a.curve[0]
	}
	pos := float64(t-a.start) / float64(a.end-a.start) * float64(len(a.curve)-1)
	i := int(pos)
	if i >= len(a.curve)-1 {
		return a.curve[len(a.curve)-1]
	}
	frac := pos - float64(i)
	return a.curve[i] + (a.curve[i+1]-a.curve[i])*frac
}

// Dispose disconnects the gain and its sources.
func (gn *Gain) Dispose() {
	g := gn.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if gn.bus != nil {
		gn.bus.gains = remove(gn.bus.gains, gn)
		gn.bus = nil
	}
	for _, s := range gn.sources {
		s.gain = nil
	}
	gn.sources = nil
	gn.autos = nil
}

// Source plays one buffer.
type Source struct {
	graph    *Graph
	buf      *Buffer
	gain     *Gain
	playing  bool
	pos      float64 // frames
	rate     float64
	disposed bool

	onPlaying map[int]func()
	onEnded   map[int]func()
	nextCB    int
}

// Connect routes the source into gain.
func (s *Source) Connect(gain *Gain) {
	g := s.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.gain != nil {
		s.gain.sources = remove(s.gain.sources, s)
	}
	s.gain = gain
	gain.sources = append(gain.sources, s)
}

// Start begins playback at offset. Playing callbacks run before Start
// returns, on the caller's goroutine.
func (s *Source) Start(offset time.Duration) {
	g := s.graph
	g.mu.Lock()
	if s.disposed {
		g.mu.Unlock()
		return
	}
	s.pos = s.clamp(offset)
	s.playing = true
	cbs := callbacks(s.onPlaying)
	g.mu.Unlock()

	for _, fn := range cbs {
		fn()
	}
}

// Stop halts playback, keeping the position. Ended callbacks do not run.
func (s *Source) Stop() {
	s.graph.mu.Lock()
	s.playing = false
	s.graph.mu.Unlock()
}

// Seek moves the playback position.
func (s *Source) Seek(offset time.Duration) {
	s.graph.mu.Lock()
	s.pos = s.clamp(offset)
	s.graph.mu.Unlock()
}

// Position returns the current playback offset.
func (s *Source) Position() time.Duration {
	g := s.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Duration(s.pos * float64(time.Second) / float64(g.sampleRate))
}

// Duration returns the buffer length.
func (s *Source) Duration() time.Duration {
	return s.buf.Duration()
}

// Playing reports whether the source is playing.
func (s *Source) Playing() bool {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	return s.playing
}

// SetRate sets the playback rate, 1 being normal speed.
func (s *Source) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	s.graph.mu.Lock()
	s.rate = rate
	s.graph.mu.Unlock()
}

// OnPlaying registers fn to run whenever Start is called. The returned
// function removes it.
func (s *Source) OnPlaying(fn func()) func() {
	return s.register(s.onPlaying, fn)
}

// OnEnded registers fn to run when playback reaches the end of the buffer.
// It runs on the rendering goroutine. The returned function removes it.
func (s *Source) OnEnded(fn func()) func() {
	return s.register(s.onEnded, fn)
}

func (s *Source) register(m map[int]func(), fn func()) func() {
	g := s.graph
	g.mu.Lock()
	id := s.nextCB
	s.nextCB++
	m[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(m, id)
			g.mu.Unlock()
		})
	}
}

// Dispose stops the source, removes it from the graph and drops callbacks.
func (s *Source) Dispose() {
	g := s.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	s.playing = false
	s.disposed = true
	if s.gain != nil {
		s.gain.sources = remove(s.gain.sources, s)
		s.gain = nil
	}
	for id := range s.onPlaying {
		delete(s.onPlaying, id)
	}
	for id := range s.onEnded {
		delete(s.onEnded, id)
	}
	g.sources = remove(g.sources, s)
}

// advance must be called with the graph lock held.
func (s *Source) advance() {
	s.pos += s.rate
	if int(s.pos) < s.buf.Frames() {
		return
	}
	s.pos = float64(s.buf.Frames())
	s.playing = false
	s.graph.fired = append(s.graph.fired, callbacks(s.onEnded)...)
}

func (s *Source) clamp(offset time.Duration) float64 {
	if offset < 0 {
		offset = 0
	}
	pos := float64(offset) * float64(s.graph.sampleRate) / float64(time.Second)
	if limit := float64(s.buf.Frames()); pos > limit {
		pos = limit
	}
	return pos
}

// callbacks returns the registered functions in registration order.
func callbacks(m map[int]func()) []func() {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(), len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

func remove[T comparable](list []T, v T) []T {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
