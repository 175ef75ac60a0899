package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
)

// Config contains all narration configuration options.
type Config struct {
	Service      ServiceConfig   `yaml:"service"`
	Narrator     NarratorOptions `yaml:"narrator"`
	MasterVolume float64         `yaml:"master_volume"`
	Music        MusicOptions    `yaml:"music"`
	Ambience     AmbienceOptions `yaml:"ambience"`
	Highlight    HighlightConfig `yaml:"highlight"`
	Align        AlignConfig     `yaml:"align"`
	Audio        AudioConfig     `yaml:"audio"`
	Cache        CacheConfig     `yaml:"cache"`
	Pipeline     PipelineConfig  `yaml:"pipeline"`
	Catalog      string          `yaml:"catalog"`
	MetricsAddr  string          `yaml:"metrics_addr"`
}

// ServiceConfig configures the external synthesis service client.
type ServiceConfig struct {
	URL               string        `yaml:"url"`
	Transport         string        `yaml:"transport"` // http or websocket
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// NarratorOptions holds the narrator defaults of a new session.
type NarratorOptions struct {
	Voice  string  `yaml:"voice"`
	Speed  float64 `yaml:"speed"`
	Volume float64 `yaml:"volume"`
}

// MusicOptions holds background music defaults.
type MusicOptions struct {
	Volume float64 `yaml:"volume"`
}

// AmbienceOptions holds ambient sound defaults and crossfade timing.
type AmbienceOptions struct {
	Volume       float64       `yaml:"volume"`
	Crossfade    time.Duration `yaml:"crossfade"`
	PreStart     time.Duration `yaml:"pre_start"`
	CurveSamples int           `yaml:"curve_samples"`
}

// HighlightConfig configures the live highlight loop.
type HighlightConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	Bias          time.Duration `yaml:"bias"`
}

// AlignConfig holds the word alignment thresholds.
type AlignConfig struct {
	NearbyThreshold int `yaml:"nearby_threshold"`
	SeqLength       int `yaml:"seq_length"`
}

// AudioConfig configures the audio graph output format.
type AudioConfig struct {
	SampleRate int  `yaml:"sample_rate"`
	Channels   int  `yaml:"channels"`
	Autoplay   bool `yaml:"autoplay"` // false starts with the output suspended until a key press
}

// CacheConfig configures the audio payload cache.
type CacheConfig struct {
	Dir              string `yaml:"dir"`
	MemoryMB         int    `yaml:"memory_mb"`
	DiskMB           int    `yaml:"disk_mb"`
	CompressionLevel int    `yaml:"compression_level"`
}

// PipelineConfig configures segment playback behaviour.
type PipelineConfig struct {
	Prefetch int `yaml:"prefetch"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			URL:               "http://localhost:8000",
			Transport:         "http",
			Timeout:           30 * time.Second,
			RequestsPerMinute: 120,
		},
		Narrator: NarratorOptions{
			Voice:  "male_1",
			Speed:  1.0,
			Volume: 1.0,
		},
		MasterVolume: 1.0,
		Music: MusicOptions{
			Volume: 0.3,
		},
		Ambience: AmbienceOptions{
			Volume:       0.5,
			Crossfade:    500 * time.Millisecond,
			PreStart:     50 * time.Millisecond,
			CurveSamples: 128,
		},
		Highlight: HighlightConfig{
			FrameInterval: 16 * time.Millisecond,
			Bias:          50 * time.Millisecond,
		},
		Align: AlignConfig{
			NearbyThreshold: 3,
			SeqLength:       3,
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			Channels:   2,
			Autoplay:   true,
		},
		Cache: CacheConfig{
			MemoryMB:         64,
			DiskMB:           512,
			CompressionLevel: 3,
		},
		Pipeline: PipelineConfig{
			Prefetch: 2,
		},
	}
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if c.Service.URL == "" {
		return fmt.Errorf("%w: service url is required", ErrInvalidConfig)
	}
	if c.Service.Transport != "http" && c.Service.Transport != "websocket" {
		return fmt.Errorf("%w: service transport must be http or websocket, got %q", ErrInvalidConfig, c.Service.Transport)
	}
	if c.Service.RequestsPerMinute < 0 {
		return fmt.Errorf("%w: requests_per_minute must not be negative", ErrInvalidConfig)
	}
	if c.Narrator.Speed < 0.5 || c.Narrator.Speed > 2.0 {
		return fmt.Errorf("%w: narrator speed must be between 0.5 and 2.0, got %.2f", ErrInvalidConfig, c.Narrator.Speed)
	}
	for name, v := range map[string]float64{
		"narrator volume": c.Narrator.Volume,
		"master volume":   c.MasterVolume,
		"music volume":    c.Music.Volume,
		"ambience volume": c.Ambience.Volume,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be between 0.0 and 1.0, got %.2f", ErrInvalidConfig, name, v)
		}
	}
	if c.Ambience.Crossfade <= 0 || c.Ambience.PreStart < 0 {
		return fmt.Errorf("%w: ambience crossfade must be positive and pre_start not negative", ErrInvalidConfig)
	}
	if c.Ambience.CurveSamples < 2 {
		return fmt.Errorf("%w: ambience curve_samples must be at least 2", ErrInvalidConfig)
	}
	if c.Highlight.FrameInterval <= 0 {
		return fmt.Errorf("%w: highlight frame_interval must be positive", ErrInvalidConfig)
	}
	if c.Align.NearbyThreshold < 0 || c.Align.SeqLength < 1 {
		return fmt.Errorf("%w: align thresholds out of range", ErrInvalidConfig)
	}
	if c.Audio.SampleRate != 44100 && c.Audio.SampleRate != 48000 {
		return fmt.Errorf("%w: sample rate must be 44100 or 48000 Hz, got %d", ErrInvalidConfig, c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("%w: channels must be 1 or 2, got %d", ErrInvalidConfig, c.Audio.Channels)
	}
	if c.Cache.MemoryMB < 1 || c.Cache.DiskMB < 0 {
		return fmt.Errorf("%w: cache sizes out of range", ErrInvalidConfig)
	}
	if c.Pipeline.Prefetch < 0 {
		return fmt.Errorf("%w: prefetch must not be negative", ErrInvalidConfig)
	}
	return nil
}

// CacheDir returns the expanded cache directory, falling back to the user
// cache directory.
func (c Config) CacheDir() string {
	if c.Cache.Dir != "" {
		if dir, err := homedir.Expand(c.Cache.Dir); err == nil {
			return dir
		}
		return c.Cache.Dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "narrate", "audio")
}
