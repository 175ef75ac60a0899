package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# mouse support
mouse: false
# word-wrap at width (0 uses the terminal width)
width: 0
# serve Prometheus metrics and /debug/state, e.g. "127.0.0.1:9464"
metrics_addr: ""
# custom catalog of voices, music and ambient sounds
# catalog: "~/.config/narrate/catalog.yaml"

# Synthesis service
service:
  url: "http://localhost:8000"
  # http (server-sent events or ndjson) or websocket
  transport: "http"
  timeout: "30s"
  requests_per_minute: 120

narrator:
  voice: "male_1"
  speed: 1.0
  volume: 1.0

# Volumes are multiplied by master_volume. Changes apply while reading.
master_volume: 1.0
music:
  volume: 0.3
ambience:
  volume: 0.5
  crossfade: "500ms"
  pre_start: "50ms"
  curve_samples: 128

highlight:
  frame_interval: "16ms"
  bias: "50ms"
align:
  nearby_threshold: 3
  seq_length: 3

audio:
  sample_rate: 44100
  channels: 2
  # start narration without waiting for a key press
  autoplay: true

cache:
  # dir: "~/.cache/narrate/audio"
  memory_mb: 64
  disk_mb: 512
  compression_level: 3

pipeline:
  # ready segments warmed ahead of the playhead
  prefetch: 2
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the narrate config file",
	Long:    paragraph(fmt.Sprintf("\n%s the narrate config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("narrate config\nnarrate config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Narrate", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
