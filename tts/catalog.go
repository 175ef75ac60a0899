package tts

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Voice is a narrator voice offered by the synthesis service.
type Voice struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MusicTrack is a static background music catalog entry.
type MusicTrack struct {
	ID            string        `yaml:"id"`
	Name          string        `yaml:"name"`
	Source        string        `yaml:"source"`
	PreviewOffset time.Duration `yaml:"preview_offset"`
}

// AmbientSound is a static ambient sound catalog entry.
type AmbientSound struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Source        string  `yaml:"source"`
	DefaultVolume float64 `yaml:"default_volume"`
}

// Preset enables a group of ambient sounds at given volumes.
type Preset struct {
	ID     string             `yaml:"id"`
	Name   string             `yaml:"name"`
	Sounds map[string]float64 `yaml:"sounds"`
}

// Catalog lists the voices, music tracks, ambient sounds and presets
// available to a session.
type Catalog struct {
	Voices  []Voice        `yaml:"voices"`
	Tracks  []MusicTrack   `yaml:"tracks"`
	Sounds  []AmbientSound `yaml:"sounds"`
	Presets []Preset       `yaml:"presets"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(strings.NewReader(string(defaultCatalog)))
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("unable to decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads a catalog file. Relative sources are resolved against the
// catalog's directory. An empty path returns the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open catalog: %w", err)
	}
	defer f.Close() //nolint:errcheck

	c, err := ParseCatalog(f)
	if err != nil {
		return nil, err
	}
	c.ResolveSources(filepath.Dir(path))
	return c, nil
}

// ResolveSources rewrites relative file sources to live under dir.
func (c *Catalog) ResolveSources(dir string) {
	resolve := func(src string) string {
		if src == "" || strings.Contains(src, "://") || strings.HasPrefix(src, "data:") || filepath.IsAbs(src) {
			return src
		}
		return filepath.Join(dir, src)
	}
	for i := range c.Tracks {
		c.Tracks[i].Source = resolve(c.Tracks[i].Source)
	}
	for i := range c.Sounds {
		c.Sounds[i].Source = resolve(c.Sounds[i].Source)
	}
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool)
	for _, s := range c.Sounds {
		if s.ID == "" || seen[s.ID] {
			return fmt.Errorf("catalog: duplicate or empty sound id %q", s.ID)
		}
		seen[s.ID] = true
	}
	for _, p := range c.Presets {
		for id := range p.Sounds {
			if !seen[id] {
				return fmt.Errorf("catalog: preset %q references %w %q", p.ID, ErrUnknownSound, id)
			}
		}
	}
	return nil
}

// Voice looks up a narrator voice by id.
func (c *Catalog) Voice(id string) (Voice, bool) {
	for _, v := range c.Voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}

// NextVoice returns the voice listed after current, wrapping around. An
// unknown current yields the first voice.
func (c *Catalog) NextVoice(current string) (Voice, bool) {
	if len(c.Voices) == 0 {
		return Voice{}, false
	}
	for i, v := range c.Voices {
		if v.ID == current {
			return c.Voices[(i+1)%len(c.Voices)], true
		}
	}
	return c.Voices[0], true
}

// Sound looks up an ambient sound by id.
func (c *Catalog) Sound(id string) (AmbientSound, bool) {
	for _, s := range c.Sounds {
		if s.ID == id {
			return s, true
		}
	}
	return AmbientSound{}, false
}

// Track looks up a music track by id.
func (c *Catalog) Track(id string) (MusicTrack, bool) {
	for _, t := range c.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return MusicTrack{}, false
}

// Preset looks up an ambience preset by id.
func (c *Catalog) Preset(id string) (Preset, bool) {
	for _, p := range c.Presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// FindSound resolves a loosely typed sound name ("rain", "ocean") to a
// catalog entry using fuzzy matching over ids and display names.
func (c *Catalog) FindSound(query string) (AmbientSound, error) {
	if s, ok := c.Sound(query); ok {
		return s, nil
	}
	names := make([]string, len(c.Sounds))
	for i, s := range c.Sounds {
		names[i] = s.ID + " " + s.Name
	}
	matches := fuzzy.Find(query, names)
	if len(matches) == 0 {
		return AmbientSound{}, fmt.Errorf("%w: %q", ErrUnknownSound, query)
	}
	return c.Sounds[matches[0].Index], nil
}

// FindTrack resolves a loosely typed track name to a catalog entry.
func (c *Catalog) FindTrack(query string) (MusicTrack, error) {
	if t, ok := c.Track(query); ok {
		return t, nil
	}
	names := make([]string, len(c.Tracks))
	for i, t := range c.Tracks {
		names[i] = t.ID + " " + t.Name
	}
	matches := fuzzy.Find(query, names)
	if len(matches) == 0 {
		return MusicTrack{}, fmt.Errorf("%w: %q", ErrUnknownTrack, query)
	}
	return c.Tracks[matches[0].Index], nil
}
