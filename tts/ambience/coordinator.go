package ambience

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
)

// BufferLoader resolves a sound source to a decoded buffer.
type BufferLoader interface {
	Load(ctx context.Context, url string) (*audio.Buffer, error)
}

// Coordinator keeps one looper per enabled ambient sound in line with the
// ambience state. Loopers are created on first enable and disposed when
// their sound is disabled.
type Coordinator struct {
	graph   *audio.Graph
	bus     *audio.Bus
	loader  BufferLoader
	catalog *tts.Catalog
	config  LoopConfig
	sched   Scheduler

	mu      sync.Mutex
	loopers map[string]*Looper
	loading map[string]bool
	want    map[string]float64 // enabled sounds and their volumes
	on      bool               // ambience as a whole
	failed  map[string]error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onCrossfade func(id string)
}

// NewCoordinator creates a coordinator that plays catalog sounds into bus.
func NewCoordinator(graph *audio.Graph, bus *audio.Bus, loader BufferLoader, catalog *tts.Catalog, config LoopConfig, sched Scheduler) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		graph:   graph,
		bus:     bus,
		loader:  loader,
		catalog: catalog,
		config:  config,
		sched:   sched,
		loopers: make(map[string]*Looper),
		loading: make(map[string]bool),
		want:    make(map[string]float64),
		failed:  make(map[string]error),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Apply reconciles the loopers with st. It never blocks on I/O; buffers of
// newly enabled sounds load in the background.
func (c *Coordinator) Apply(st tts.AmbienceState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.on = st.Enabled
	want := make(map[string]float64)
	for id, snd := range st.Sounds {
		if snd.Enabled {
			want[id] = snd.Volume
		}
	}
	c.want = want

	for id, l := range c.loopers {
		v, ok := want[id]
		if !ok {
			log.Debug("disposing ambient sound", "sound", id)
			l.Dispose()
			delete(c.loopers, id)
			continue
		}
		if l.Volume() != v {
			l.SetVolume(v)
		}
		if c.on {
			l.Start()
		} else {
			l.Stop()
		}
	}

	for id := range want {
		if _, ok := c.loopers[id]; ok || c.loading[id] {
			continue
		}
		if _, failed := c.failed[id]; failed {
			continue
		}
		snd, ok := c.catalog.Sound(id)
		if !ok {
			log.Warn("ignoring unknown ambient sound", "sound", id)
			continue
		}
		c.loading[id] = true
		c.wg.Add(1)
		go c.load(snd)
	}
}

func (c *Coordinator) load(snd tts.AmbientSound) {
	defer c.wg.Done()

	buf, err := c.loader.Load(c.ctx, snd.Source)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.loading, snd.ID)
	if c.ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Error("loading ambient sound failed", "sound", snd.ID, "error", err)
		c.failed[snd.ID] = err
		return
	}

	v, ok := c.want[snd.ID]
	if !ok {
		return
	}
	l := NewLooper(c.graph, c.bus, buf, v, c.config, c.crossfadeScheduler(snd.ID))
	c.loopers[snd.ID] = l
	if c.on {
		l.Start()
	}
}

// crossfadeScheduler wraps the scheduler to report every crossfade.
func (c *Coordinator) crossfadeScheduler(id string) Scheduler {
	sched := c.sched
	if sched == nil {
		sched = wallClock{}
	}
	if c.onCrossfade == nil {
		return sched
	}
	return notifyingScheduler{Scheduler: sched, fn: func() { c.onCrossfade(id) }}
}

type notifyingScheduler struct {
	Scheduler
	fn func()
}

func (s notifyingScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return s.Scheduler.AfterFunc(d, func() {
		s.fn()
		fn()
	})
}

// OnCrossfade sets a function run whenever a loop seam is crossfaded. It
// must be set before the first Apply.
func (c *Coordinator) OnCrossfade(fn func(id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCrossfade = fn
}

// Looper returns the looper of a sound, if it exists.
func (c *Coordinator) Looper(id string) (*Looper, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.loopers[id]
	return l, ok
}

// Err returns the load error of a sound, if loading failed. A failed sound
// is retried after ClearError.
func (c *Coordinator) Err(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed[id]
}

// ClearError forgets a load failure so that the next Apply retries.
func (c *Coordinator) ClearError(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failed, id)
}

// Wait blocks until every buffer load in flight has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels loads and disposes every looper.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, l := range c.loopers {
		l.Dispose()
		delete(c.loopers, id)
	}
}
