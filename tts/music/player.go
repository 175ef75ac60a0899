// Package music plays the background music playlist of a session.
package music

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/queue"
	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/store"
)

// Output plays one track at a time.
type Output interface {
	Load(ctx context.Context, url string) error
	Play() error
	Pause()
	Seek(d time.Duration)
	Playing() bool
	OnEnded(fn func())
	Unload()
}

// Status describes the loaded track.
type Status struct {
	Track   string
	Loaded  bool
	Playing bool
	Err     error
}

// Player keeps the music output in line with the music state: the current
// playlist entry is loaded, played while music is enabled and followed by
// the next entry when it ends.
type Player struct {
	store   *store.Store
	catalog *tts.Catalog
	out     Output
	loop    *queue.Loop

	ctx    context.Context
	cancel context.CancelFunc
	loadMu sync.Mutex

	// Owned by the loop.
	enabled bool
	track   string
	loaded  bool
	err     error
	seq     uint64
	abort   context.CancelFunc
	preview string
}

// New creates a player for the music state of st.
func New(st *store.Store, catalog *tts.Catalog, out Output) *Player {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		store:   st,
		catalog: catalog,
		out:     out,
		loop:    queue.NewLoop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	out.OnEnded(func() { p.post(p.ended) })
	return p
}

func (p *Player) post(fn func()) {
	if err := p.loop.Post(fn); err != nil && !errors.Is(err, queue.ErrQueueClosed) {
		log.Error("music: post failed", "error", err)
	}
}

// Apply reconciles the output with m. It does not block.
func (p *Player) Apply(m tts.MusicState) {
	p.post(func() { p.apply(m) })
}

func (p *Player) apply(m tts.MusicState) {
	p.enabled = m.Enabled
	id := m.CurrentTrack()
	if !m.Enabled || id == "" {
		p.out.Pause()
		return
	}
	if id != p.track {
		p.load(id)
		return
	}
	if !p.loaded {
		return
	}
	if p.preview == id {
		p.preview = ""
		if tr, ok := p.catalog.Track(id); ok {
			p.out.Seek(tr.PreviewOffset)
		}
	}
	if !p.out.Playing() {
		p.play()
	}
}

func (p *Player) load(id string) {
	if p.abort != nil {
		p.abort()
	}
	p.seq++
	p.track, p.loaded, p.err = id, false, nil

	tr, ok := p.catalog.Track(id)
	if !ok {
		log.Warn("music: unknown track", "track", id)
		p.err = tts.ErrUnknownTrack
		return
	}
	var offset time.Duration
	if p.preview == id {
		offset = tr.PreviewOffset
		p.preview = ""
	}

	ctx, abort := context.WithCancel(p.ctx)
	p.abort = abort
	seq := p.seq
	log.Debug("music: loading track", "track", id)
	go func() {
		p.loadMu.Lock()
		err := p.out.Load(ctx, tr.Source)
		p.loadMu.Unlock()
		p.post(func() { p.trackLoaded(seq, offset, err) })
	}()
}

func (p *Player) trackLoaded(seq uint64, offset time.Duration, err error) {
	if seq != p.seq {
		return
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("music: loading track failed", "track", p.track, "error", err)
			p.err = err
		}
		return
	}
	p.loaded = true
	if offset > 0 {
		p.out.Seek(offset)
	}
	if p.enabled {
		p.play()
	}
}

func (p *Player) play() {
	if err := p.out.Play(); err != nil {
		log.Warn("music: play failed", "track", p.track, "error", err)
		p.err = err
	}
}

// ended advances the playlist when the current track finishes.
func (p *Player) ended() {
	if !p.enabled {
		return
	}
	p.step(1)
}

// Next selects the next playlist entry, wrapping at the end.
func (p *Player) Next() { p.step(1) }

// Previous selects the previous playlist entry, wrapping at the start.
func (p *Player) Previous() { p.step(-1) }

func (p *Player) step(delta int) {
	p.store.Update(func(s *tts.AudioState) {
		n := len(s.Music.Playlist)
		if n == 0 {
			return
		}
		s.Music.Current = ((s.Music.Current+delta)%n + n) % n
	})
}

// Preview enables music and starts id from its preview offset.
func (p *Player) Preview(id string) error {
	if _, ok := p.catalog.Track(id); !ok {
		return tts.ErrUnknownTrack
	}
	idx := -1
	for i, t := range p.store.State().Music.Playlist {
		if t == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return tts.ErrUnknownTrack
	}

	// Queued ahead of the Apply the update below triggers.
	p.post(func() { p.preview = id })
	p.store.Update(func(s *tts.AudioState) {
		s.Music.Enabled = true
		s.Music.Current = idx
	})
	return nil
}

// Status returns the state of the loaded track.
func (p *Player) Status() Status {
	var s Status
	if err := p.loop.Call(func() {
		s = Status{Track: p.track, Loaded: p.loaded, Playing: p.out.Playing(), Err: p.err}
	}); err != nil {
		return Status{Err: err}
	}
	return s
}

// Sync waits until every queued update has been applied.
func (p *Player) Sync() {
	_ = p.loop.Call(func() {})
}

// Close cancels loads, stops the loop and unloads the output.
func (p *Player) Close() {
	p.cancel()
	p.loop.Close()
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	p.out.Unload()
}
