package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/document"
	"github.com/dgnsrekt/narrate/internal/observability"
	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
	"github.com/dgnsrekt/narrate/tts/session"
	"github.com/dgnsrekt/narrate/tts/synth"
	"github.com/dgnsrekt/narrate/ui"
)

type readerOptions struct {
	music    string
	ambience []string
	preset   string
	mouse    bool
	width    uint
}

// runReader opens a session for doc and runs the reader until it quits.
func runReader(doc *document.Document, cfg tts.Config, opts readerOptions) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("narrate needs a terminal; redirecting output is not supported")
	}

	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	uiCfg.EnableMouse = opts.mouse
	if opts.width > 0 {
		uiCfg.MaxWidth = opts.width
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	audioCache, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer audioCache.Close() //nolint:errcheck

	svc, err := synth.New(cfg.Service, audioCache)
	if err != nil {
		return err
	}
	loader := audio.NewLoader(&http.Client{Timeout: cfg.Service.Timeout}, audioCache, cfg.Audio.SampleRate, cfg.Audio.Channels)

	var metrics *observability.Metrics
	var recorder session.Recorder
	if cfg.MetricsAddr != "" {
		metrics = observability.NewMetrics("narrate")
		recorder = metrics
	}

	hl := ui.NewHighlighter(doc)
	sess, err := session.New(session.Options{
		Config:      cfg,
		Catalog:     catalog,
		Service:     svc,
		Loader:      loader,
		Highlighter: hl,
		Metrics:     recorder,
	})
	if err != nil {
		return err
	}
	defer sess.Close() //nolint:errcheck

	if metrics != nil {
		srv := observability.NewServer(metrics, func() any { return debugState(sess.State()) })
		if _, err := srv.Start(cfg.MetricsAddr); err != nil {
			log.Error("unable to start debug server", "addr", cfg.MetricsAddr, "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
		}
	}

	if err := startLayers(sess, catalog, opts); err != nil {
		return err
	}
	watchConfig(sess)

	if _, err := ui.NewProgram(uiCfg, doc, sess, hl).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func loadCatalog(cfg tts.Config) (*tts.Catalog, error) {
	if cfg.Catalog == "" {
		return tts.DefaultCatalog(), nil
	}
	path := expandPath(cfg.Catalog)
	c, err := tts.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	c.ResolveSources(filepath.Dir(path))
	return c, nil
}

func openCache(cfg tts.Config) (*cache.Manager, error) {
	cc := cache.DefaultConfig()
	cc.MemoryCapacity = int64(cfg.Cache.MemoryMB) << 20
	cc.DiskCapacity = int64(cfg.Cache.DiskMB) << 20
	cc.CompressionLevel = cfg.Cache.CompressionLevel
	if cfg.Cache.DiskMB > 0 {
		cc.DiskPath = cfg.CacheDir()
	}
	m, err := cache.NewManager(cc)
	if err != nil {
		return nil, fmt.Errorf("unable to open audio cache: %w", err)
	}
	return m, nil
}

// startLayers applies the music and ambience flags.
func startLayers(sess *session.Session, catalog *tts.Catalog, opts readerOptions) error {
	if opts.music != "" {
		track, err := catalog.FindTrack(opts.music)
		if err != nil {
			return err
		}
		if err := sess.SelectTrack(track.ID); err != nil {
			return err
		}
		sess.SetMusicEnabled(true)
	}
	if opts.preset != "" {
		if err := sess.ApplyPreset(opts.preset); err != nil {
			return err
		}
	}
	for _, q := range opts.ambience {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		snd, err := catalog.FindSound(q)
		if err != nil {
			return err
		}
		if on, err := sess.ToggleSound(snd.ID); err != nil {
			return err
		} else if !on {
			// Already on through a preset.
			_, _ = sess.ToggleSound(snd.ID)
		}
	}
	if len(opts.ambience) > 0 {
		sess.SetAmbienceEnabled(true)
	}
	return nil
}

// watchConfig applies volume changes from the config file while reading.
func watchConfig(sess *session.Session) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := tts.LoadConfigFromViper()
		if err != nil {
			log.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}
		log.Info("config reloaded", "file", e.Name)
		sess.ApplyVolumes(cfg)
	})
	viper.WatchConfig()
}

// debugState is the JSON view of the audio state served on /debug/state.
func debugState(st tts.AudioState) map[string]any {
	segments := make([]map[string]any, 0, len(st.Playback.Segments))
	for _, s := range st.Playback.Segments {
		segments = append(segments, map[string]any{
			"index":      s.Index,
			"status":     s.Status.String(),
			"durationMs": s.DurationMs,
			"words":      len(s.WordTimestamps),
		})
	}
	var errText string
	if st.Playback.Err != nil {
		errText = st.Playback.Err.Error()
	}
	return map[string]any{
		"masterVolume": st.MasterVolume,
		"narrator":     st.Narrator,
		"playback": map[string]any{
			"blockId":         st.Playback.BlockID,
			"phase":           st.Playback.Phase.String(),
			"current":         st.Playback.Current,
			"playing":         st.Playback.Playing,
			"waiting":         st.Playback.Waiting,
			"awaitingGesture": st.Playback.AwaitingGesture,
			"totalDuration":   st.Playback.TotalDuration,
			"segments":        segments,
			"error":           errText,
		},
		"music":          st.Music,
		"ambience":       st.Ambience,
		"activePresetId": st.ActivePresetID,
	}
}
