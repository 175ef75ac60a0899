package tts

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LoadConfigFromViper loads narration configuration from Viper.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	// Service settings
	if viper.IsSet("service.url") {
		cfg.Service.URL = viper.GetString("service.url")
	}
	if viper.IsSet("service.transport") {
		cfg.Service.Transport = viper.GetString("service.transport")
	}
	cfg.Service.Timeout = durationOr("service.timeout", cfg.Service.Timeout)
	if viper.IsSet("service.requests_per_minute") {
		cfg.Service.RequestsPerMinute = viper.GetInt("service.requests_per_minute")
	}

	// Narrator settings
	if viper.IsSet("narrator.voice") {
		cfg.Narrator.Voice = viper.GetString("narrator.voice")
	}
	if viper.IsSet("narrator.speed") {
		cfg.Narrator.Speed = viper.GetFloat64("narrator.speed")
	}
	if viper.IsSet("narrator.volume") {
		cfg.Narrator.Volume = viper.GetFloat64("narrator.volume")
	}

	// Mixing
	if viper.IsSet("master_volume") {
		cfg.MasterVolume = viper.GetFloat64("master_volume")
	}
	if viper.IsSet("music.volume") {
		cfg.Music.Volume = viper.GetFloat64("music.volume")
	}
	if viper.IsSet("ambience.volume") {
		cfg.Ambience.Volume = viper.GetFloat64("ambience.volume")
	}
	cfg.Ambience.Crossfade = durationOr("ambience.crossfade", cfg.Ambience.Crossfade)
	cfg.Ambience.PreStart = durationOr("ambience.pre_start", cfg.Ambience.PreStart)
	if viper.IsSet("ambience.curve_samples") {
		cfg.Ambience.CurveSamples = viper.GetInt("ambience.curve_samples")
	}

	// Highlighting and alignment
	cfg.Highlight.FrameInterval = durationOr("highlight.frame_interval", cfg.Highlight.FrameInterval)
	cfg.Highlight.Bias = durationOr("highlight.bias", cfg.Highlight.Bias)
	if viper.IsSet("align.nearby_threshold") {
		cfg.Align.NearbyThreshold = viper.GetInt("align.nearby_threshold")
	}
	if viper.IsSet("align.seq_length") {
		cfg.Align.SeqLength = viper.GetInt("align.seq_length")
	}

	// Audio output
	if viper.IsSet("audio.sample_rate") {
		cfg.Audio.SampleRate = viper.GetInt("audio.sample_rate")
	}
	if viper.IsSet("audio.channels") {
		cfg.Audio.Channels = viper.GetInt("audio.channels")
	}
	if viper.IsSet("audio.autoplay") {
		cfg.Audio.Autoplay = viper.GetBool("audio.autoplay")
	}

	// Cache
	if viper.IsSet("cache.dir") {
		cfg.Cache.Dir = viper.GetString("cache.dir")
	}
	if viper.IsSet("cache.memory_mb") {
		cfg.Cache.MemoryMB = viper.GetInt("cache.memory_mb")
	}
	if viper.IsSet("cache.disk_mb") {
		cfg.Cache.DiskMB = viper.GetInt("cache.disk_mb")
	}
	if viper.IsSet("cache.compression_level") {
		cfg.Cache.CompressionLevel = viper.GetInt("cache.compression_level")
	}

	if viper.IsSet("pipeline.prefetch") {
		cfg.Pipeline.Prefetch = viper.GetInt("pipeline.prefetch")
	}
	cfg.Catalog = viper.GetString("catalog")
	cfg.MetricsAddr = viper.GetString("metrics_addr")

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid narration configuration: %w", err)
	}

	return cfg, nil
}

// durationOr reads a duration key, keeping the fallback when unset or invalid.
func durationOr(key string, fallback time.Duration) time.Duration {
	if !viper.IsSet(key) {
		return fallback
	}
	if d, err := time.ParseDuration(viper.GetString(key)); err == nil {
		return d
	}
	return fallback
}

// SetDefaults sets default values in Viper for narration configuration.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("service.url", defaults.Service.URL)
	viper.SetDefault("service.transport", defaults.Service.Transport)
	viper.SetDefault("service.timeout", defaults.Service.Timeout.String())
	viper.SetDefault("service.requests_per_minute", defaults.Service.RequestsPerMinute)

	viper.SetDefault("narrator.voice", defaults.Narrator.Voice)
	viper.SetDefault("narrator.speed", defaults.Narrator.Speed)
	viper.SetDefault("narrator.volume", defaults.Narrator.Volume)

	viper.SetDefault("master_volume", defaults.MasterVolume)
	viper.SetDefault("music.volume", defaults.Music.Volume)
	viper.SetDefault("ambience.volume", defaults.Ambience.Volume)
	viper.SetDefault("ambience.crossfade", defaults.Ambience.Crossfade.String())
	viper.SetDefault("ambience.pre_start", defaults.Ambience.PreStart.String())
	viper.SetDefault("ambience.curve_samples", defaults.Ambience.CurveSamples)

	viper.SetDefault("highlight.frame_interval", defaults.Highlight.FrameInterval.String())
	viper.SetDefault("highlight.bias", defaults.Highlight.Bias.String())
	viper.SetDefault("align.nearby_threshold", defaults.Align.NearbyThreshold)
	viper.SetDefault("align.seq_length", defaults.Align.SeqLength)

	viper.SetDefault("audio.sample_rate", defaults.Audio.SampleRate)
	viper.SetDefault("audio.channels", defaults.Audio.Channels)
	viper.SetDefault("audio.autoplay", defaults.Audio.Autoplay)

	viper.SetDefault("cache.dir", defaults.Cache.Dir)
	viper.SetDefault("cache.memory_mb", defaults.Cache.MemoryMB)
	viper.SetDefault("cache.disk_mb", defaults.Cache.DiskMB)
	viper.SetDefault("cache.compression_level", defaults.Cache.CompressionLevel)

	viper.SetDefault("pipeline.prefetch", defaults.Pipeline.Prefetch)
	viper.SetDefault("catalog", "")
	viper.SetDefault("metrics_addr", "")
}
