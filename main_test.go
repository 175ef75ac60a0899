package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/align"
)

func TestFindReadme(t *testing.T) {
	dir := t.TempDir()
	if _, err := findReadme(dir); err == nil {
		t.Fatal("expected an error for a directory without a readme")
	}

	path := filepath.Join(dir, "readme.md")
	if err := os.WriteFile(path, []byte("# Hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := findReadme(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("findReadme = %q, want %q", got, path)
	}
}

func TestLoadDocumentFromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Project\n\nHello.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := loadDocument([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Persisted() || doc.Title != "Project" {
		t.Errorf("doc = %+v", doc)
	}

	if _, err := loadDocument([]string{filepath.Join(dir, "missing.md")}); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestPrintCatalog(t *testing.T) {
	var buf bytes.Buffer
	if err := printCatalog(&buf, tts.DefaultCatalog()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Voices", "Music", "Ambience", "Presets", "lofi-morning", "rainy-study"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q", want)
		}
	}
}

func TestPrintAlignment(t *testing.T) {
	var buf bytes.Buffer
	err := printAlignment(&buf, "The quick brown fox.", []string{"The quick", "brown fox"}, align.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"segment 0", "segment 1", "brown", "fox."} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "unmatched") {
		t.Errorf("every word should match:\n%s", out)
	}
}

func TestDebugState(t *testing.T) {
	st := tts.NewAudioState(tts.DefaultConfig(), tts.DefaultCatalog())
	st.Playback.BlockID = "b1"
	st.Playback.Segments = []tts.Segment{{Index: 0, Status: tts.StatusReady, DurationMs: 1200}}
	st.Playback.Err = errors.New("stream failed")

	got := debugState(st)
	pb := got["playback"].(map[string]any)
	if pb["blockId"] != "b1" || pb["error"] != "stream failed" {
		t.Errorf("playback = %v", pb)
	}
	segs := pb["segments"].([]map[string]any)
	if len(segs) != 1 || segs[0]["status"] != "ready" {
		t.Errorf("segments = %v", segs)
	}
}

func TestPluralize(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "entries"},
		{1, "entry"},
		{2, "entries"},
	}
	for _, tt := range tests {
		if got := pluralize("entry", "entries", tt.n); got != tt.want {
			t.Errorf("pluralize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
