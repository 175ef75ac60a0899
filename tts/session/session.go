// Package session ties the narration engine of one open document together.
// A Session owns the store, the audio graph and every component that plays
// into it; closing it releases all of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"

	audiodev "github.com/dgnsrekt/narrate/internal/audio"
	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/align"
	"github.com/dgnsrekt/narrate/tts/ambience"
	"github.com/dgnsrekt/narrate/tts/audio"
	"github.com/dgnsrekt/narrate/tts/music"
	"github.com/dgnsrekt/narrate/tts/pipeline"
	"github.com/dgnsrekt/narrate/tts/store"
	"github.com/dgnsrekt/narrate/tts/sync"
	"github.com/dgnsrekt/narrate/tts/synth"
)

// Loader resolves audio URLs for every output of the session.
type Loader interface {
	audio.BufferLoader
	pipeline.Warmer
}

// Recorder receives session metrics.
type Recorder interface {
	pipeline.Recorder
	Crossfade(sound string)
}

// Options holds the collaborators of a session. Service and Loader are
// required.
type Options struct {
	Config      tts.Config
	Catalog     *tts.Catalog
	Service     synth.Service
	Loader      Loader
	Highlighter sync.Highlighter // nil disables live highlighting
	Metrics     Recorder

	// Device opens the audio output for the graph. Defaults to the system
	// device with a headless fallback.
	Device func(g *audio.Graph) audiodev.Device
	// Scheduler arms ambience crossfade timers. Defaults to wall clock.
	Scheduler ambience.Scheduler
}

// Volumes are the effective bus gains after master composition.
type Volumes struct {
	Narrator float64
	Music    float64
	Ambience float64
}

// ComposeVolumes multiplies every layer by the master volume. Values are
// clamped to [0, 1].
func ComposeVolumes(st tts.AudioState) Volumes {
	master := clamp01(st.MasterVolume)
	return Volumes{
		Narrator: clamp01(st.Narrator.Volume) * master,
		Music:    clamp01(st.Music.Volume) * master,
		Ambience: clamp01(st.Ambience.Volume) * master,
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Session is the audio engine of one open document.
type Session struct {
	store   *store.Store
	catalog *tts.Catalog
	graph   *audio.Graph
	device  audiodev.Device

	narratorBus *audio.Bus
	musicBus    *audio.Bus
	ambienceBus *audio.Bus

	narrator *audio.Element
	track    *audio.Element

	pipeline *pipeline.Pipeline
	sync     *sync.Synchronizer
	ambience *ambience.Coordinator
	music    *music.Player

	sub       *store.Subscription
	closeOnce gosync.Once
}

// New builds a session from opts.
func New(opts Options) (*Session, error) {
	if opts.Service == nil || opts.Loader == nil {
		return nil, errors.New("session: service and loader are required")
	}
	if opts.Catalog == nil {
		opts.Catalog = tts.DefaultCatalog()
	}
	cfg := opts.Config

	g := audio.NewGraph(cfg.Audio.SampleRate, cfg.Audio.Channels)
	var device audiodev.Device
	if opts.Device != nil {
		device = opts.Device(g)
	} else {
		device = audiodev.Open(audiodev.SinkConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			BufferSize: 50 * time.Millisecond,
			Autoplay:   cfg.Audio.Autoplay,
		}, g)
	}

	s := &Session{
		store:       store.New(tts.NewAudioState(cfg, opts.Catalog)),
		catalog:     opts.Catalog,
		graph:       g,
		device:      device,
		narratorBus: g.NewBus("narrator"),
		musicBus:    g.NewBus("music"),
		ambienceBus: g.NewBus("ambience"),
	}

	// The narrator output is gated by the device; music and ambience are
	// silent anyway until it runs.
	s.narrator = audio.NewElement(g, s.narratorBus, opts.Loader, device)
	s.track = audio.NewElement(g, s.musicBus, opts.Loader, nil)

	var precorder pipeline.Recorder
	if opts.Metrics != nil {
		precorder = opts.Metrics
	}
	s.pipeline = pipeline.New(s.store, opts.Service, s.narrator, pipeline.Options{
		Prefetch: cfg.Pipeline.Prefetch,
		Warmer:   opts.Loader,
		Metrics:  precorder,
	})

	if opts.Highlighter != nil {
		s.sync = sync.New(s.store, s.narrator, opts.Highlighter, sync.Config{
			FrameInterval: cfg.Highlight.FrameInterval,
			Bias:          cfg.Highlight.Bias,
			Align: align.Options{
				NearbyThreshold: cfg.Align.NearbyThreshold,
				SeqLength:       cfg.Align.SeqLength,
			},
		})
	}

	s.ambience = ambience.NewCoordinator(g, s.ambienceBus, opts.Loader, opts.Catalog, ambience.LoopConfig{
		Crossfade:    cfg.Ambience.Crossfade,
		PreStart:     cfg.Ambience.PreStart,
		CurveSamples: cfg.Ambience.CurveSamples,
	}, opts.Scheduler)
	if opts.Metrics != nil {
		s.ambience.OnCrossfade(opts.Metrics.Crossfade)
	}

	s.music = music.New(s.store, opts.Catalog, s.track)

	s.sub = s.store.Subscribe(s.apply)
	s.apply(s.store.State())

	log.Debug("session opened", "rate", cfg.Audio.SampleRate, "channels", cfg.Audio.Channels, "device", fmt.Sprintf("%T", device))
	return s, nil
}

// apply mixes and reconciles the music and ambience layers with st.
func (s *Session) apply(st tts.AudioState) {
	v := ComposeVolumes(st)
	s.narratorBus.SetVolume(v.Narrator)
	s.musicBus.SetVolume(v.Music)
	s.ambienceBus.SetVolume(v.Ambience)

	s.music.Apply(st.Music)
	s.ambience.Apply(st.Ambience)
}

// Store returns the session store.
func (s *Session) Store() *store.Store { return s.store }

// State returns the current audio state.
func (s *Session) State() tts.AudioState { return s.store.State() }

// Catalog returns the session catalog.
func (s *Session) Catalog() *tts.Catalog { return s.catalog }

// Narration returns the narration pipeline.
func (s *Session) Narration() *pipeline.Pipeline { return s.pipeline }

// Music returns the background music player.
func (s *Session) Music() *music.Player { return s.music }

// Ambience returns the ambient sound coordinator.
func (s *Session) Ambience() *ambience.Coordinator { return s.ambience }

// Synchronizer returns the highlight synchronizer, nil without a
// highlighter.
func (s *Session) Synchronizer() *sync.Synchronizer { return s.sync }

// Device returns the audio output.
func (s *Session) Device() audiodev.Device { return s.device }

// LoadBlock narrates a block of the document docID.
func (s *Session) LoadBlock(ctx context.Context, docID, blockID, text string) error {
	return s.pipeline.LoadBlock(ctx, docID, blockID, text)
}

// TogglePlayback pauses or resumes narration. A key press is a user
// gesture, so it also unlocks the device.
func (s *Session) TogglePlayback() error {
	s.device.Resume()
	return s.pipeline.Toggle()
}

// Skip moves narration by seconds and returns the new block position.
func (s *Session) Skip(seconds float64) (float64, error) {
	return s.pipeline.Skip(seconds)
}

// SetSpeed sets the narrator playback rate.
func (s *Session) SetSpeed(speed float64) error {
	return s.pipeline.SetSpeed(speed)
}

// SetVoice switches the narrator voice. The loaded block keeps its text
// but loses its audio until Resynthesize.
func (s *Session) SetVoice(id string) error {
	if _, ok := s.catalog.Voice(id); !ok {
		return fmt.Errorf("%w %q", tts.ErrUnknownVoice, id)
	}
	return s.pipeline.SetVoice(id)
}

// NextVoice switches to the catalog voice after the current one and
// narrates the loaded block again with it.
func (s *Session) NextVoice() (tts.Voice, error) {
	v, ok := s.catalog.NextVoice(s.State().Narrator.Voice)
	if !ok {
		return tts.Voice{}, fmt.Errorf("%w: catalog lists no voices", tts.ErrUnknownVoice)
	}
	if err := s.SetVoice(v.ID); err != nil {
		return v, err
	}
	return v, s.pipeline.Resynthesize()
}

// Resynthesize narrates the loaded block again with the current voice.
func (s *Session) Resynthesize() error {
	return s.pipeline.Resynthesize()
}

// SetNarrationEnabled turns narration on or off. Turning it off stops
// playback, clears the block and releases service resources.
func (s *Session) SetNarrationEnabled(on bool) error {
	if on {
		return s.pipeline.Enable()
	}
	return s.pipeline.Disable()
}

// ToggleNarration flips narration and returns the new setting.
func (s *Session) ToggleNarration() (bool, error) {
	on := !s.State().Narrator.Enabled
	return on, s.SetNarrationEnabled(on)
}

// SelectTrack makes id the current music track.
func (s *Session) SelectTrack(id string) error {
	var found bool
	s.store.Update(func(st *tts.AudioState) {
		for i, t := range st.Music.Playlist {
			if t == id {
				st.Music.Current = i
				found = true
				return
			}
		}
	})
	if !found {
		return fmt.Errorf("%w %q", tts.ErrUnknownTrack, id)
	}
	return nil
}

// NextTrack advances the music playlist.
func (s *Session) NextTrack() { s.music.Next() }

// SetMasterVolume sets the master multiplier.
func (s *Session) SetMasterVolume(v float64) {
	s.store.Update(func(st *tts.AudioState) { st.MasterVolume = clamp01(v) })
}

// SetNarratorVolume sets the narrator layer volume.
func (s *Session) SetNarratorVolume(v float64) {
	s.store.Update(func(st *tts.AudioState) { st.Narrator.Volume = clamp01(v) })
}

// SetMusicVolume sets the music layer volume.
func (s *Session) SetMusicVolume(v float64) {
	s.store.Update(func(st *tts.AudioState) { st.Music.Volume = clamp01(v) })
}

// SetAmbienceVolume sets the ambience layer volume.
func (s *Session) SetAmbienceVolume(v float64) {
	s.store.Update(func(st *tts.AudioState) { st.Ambience.Volume = clamp01(v) })
}

// ApplyVolumes takes the layer volumes from cfg, as after a config reload.
func (s *Session) ApplyVolumes(cfg tts.Config) {
	s.store.Update(func(st *tts.AudioState) {
		st.MasterVolume = clamp01(cfg.MasterVolume)
		st.Narrator.Volume = clamp01(cfg.Narrator.Volume)
		st.Music.Volume = clamp01(cfg.Music.Volume)
		st.Ambience.Volume = clamp01(cfg.Ambience.Volume)
	})
}

// SetMusicEnabled turns background music on or off.
func (s *Session) SetMusicEnabled(on bool) {
	s.store.Update(func(st *tts.AudioState) { st.Music.Enabled = on })
}

// ToggleMusic flips background music and returns the new setting.
func (s *Session) ToggleMusic() bool {
	return s.store.Update(func(st *tts.AudioState) { st.Music.Enabled = !st.Music.Enabled }).Music.Enabled
}

// SetAmbienceEnabled turns all ambient sounds on or off without changing
// which sounds are selected.
func (s *Session) SetAmbienceEnabled(on bool) {
	s.store.Update(func(st *tts.AudioState) { st.Ambience.Enabled = on })
}

// ToggleSound flips one ambient sound. Any manual change leaves the active
// preset.
func (s *Session) ToggleSound(id string) (bool, error) {
	if _, ok := s.catalog.Sound(id); !ok {
		return false, fmt.Errorf("%w %q", tts.ErrUnknownSound, id)
	}
	// Toggling retries a sound whose buffer failed to load.
	s.ambience.ClearError(id)
	st := s.store.Update(func(st *tts.AudioState) {
		snd := st.Ambience.Sounds[id]
		snd.Enabled = !snd.Enabled
		st.Ambience.Sounds[id] = snd
		st.ActivePresetID = ""
	})
	return st.Ambience.Sounds[id].Enabled, nil
}

// SetSoundVolume sets the volume of one ambient sound.
func (s *Session) SetSoundVolume(id string, v float64) error {
	if _, ok := s.catalog.Sound(id); !ok {
		return fmt.Errorf("%w %q", tts.ErrUnknownSound, id)
	}
	s.store.Update(func(st *tts.AudioState) {
		snd := st.Ambience.Sounds[id]
		snd.Volume = clamp01(v)
		st.Ambience.Sounds[id] = snd
		st.ActivePresetID = ""
	})
	return nil
}

// ApplyPreset enables exactly the sounds of a preset at its volumes.
func (s *Session) ApplyPreset(id string) error {
	preset, ok := s.catalog.Preset(id)
	if !ok {
		return fmt.Errorf("%w %q", tts.ErrUnknownPreset, id)
	}
	s.store.Update(func(st *tts.AudioState) {
		for sid, snd := range st.Ambience.Sounds {
			v, in := preset.Sounds[sid]
			snd.Enabled = in
			if in {
				snd.Volume = clamp01(v)
			}
			st.Ambience.Sounds[sid] = snd
		}
		st.Ambience.Enabled = true
		st.ActivePresetID = id
	})
	return nil
}

// Unlock records a user gesture and lets audio play.
func (s *Session) Unlock() {
	s.device.Resume()
}

// Close disables narration, stops every component and releases the audio
// device. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.sub.Unsubscribe()
		if s.sync != nil {
			s.sync.Close()
		}
		if err := s.pipeline.Disable(); err != nil {
			log.Debug("disabling narration failed", "error", err)
		}
		s.pipeline.Close()
		s.music.Close()
		s.ambience.Close()
		s.narrator.Dispose()
		s.track.Dispose()
		err = s.device.Close()
		log.Debug("session closed")
	})
	return err
}
