package music

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
	"github.com/dgnsrekt/narrate/tts/store"
)

const testRate = 1000

type fakeLoader struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (f *fakeLoader) Load(ctx context.Context, url string) (*audio.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[url] {
		return nil, errors.New("decode failed")
	}
	return audio.Tone(testRate, 1, 440, 0.5, 3*time.Second), nil
}

type fixture struct {
	graph  *audio.Graph
	out    *audio.Element
	store  *store.Store
	player *Player
	loader *fakeLoader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := &tts.Catalog{
		Tracks: []tts.MusicTrack{
			{ID: "a", Source: "a.wav", PreviewOffset: 2 * time.Second},
			{ID: "b", Source: "b.wav"},
			{ID: "c", Source: "c.wav"},
		},
	}
	g := audio.NewGraph(testRate, 1)
	loader := &fakeLoader{fail: map[string]bool{}}
	out := audio.NewElement(g, g.NewBus("music"), loader, nil)
	st := store.New(tts.NewAudioState(tts.DefaultConfig(), catalog))
	p := New(st, catalog, out)
	sub := st.Subscribe(func(s tts.AudioState) { p.Apply(s.Music) })
	t.Cleanup(func() {
		sub.Unsubscribe()
		p.Close()
	})
	return &fixture{graph: g, out: out, store: st, player: p, loader: loader}
}

func (f *fixture) enable(on bool) {
	f.store.Update(func(s *tts.AudioState) { s.Music.Enabled = on })
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) playing(url string) func() bool {
	return func() bool {
		f.player.Sync()
		return f.out.URL() == url && f.out.Playing()
	}
}

func TestEnableStartsCurrentTrack(t *testing.T) {
	f := newFixture(t)

	f.player.Sync()
	if f.out.URL() != "" {
		t.Fatal("disabled music must not load")
	}

	f.enable(true)
	eventually(t, "track a playing", f.playing("a.wav"))

	st := f.player.Status()
	if st.Track != "a" || !st.Loaded || !st.Playing || st.Err != nil {
		t.Errorf("status = %+v", st)
	}

	f.enable(false)
	f.player.Sync()
	if f.out.Playing() {
		t.Error("disabling music should pause")
	}
	if f.out.URL() != "a.wav" {
		t.Error("pausing should keep the track loaded")
	}

	f.enable(true)
	eventually(t, "track a resumed", f.playing("a.wav"))
}

func TestNextPrevious(t *testing.T) {
	f := newFixture(t)
	f.enable(true)
	eventually(t, "track a", f.playing("a.wav"))

	f.player.Next()
	eventually(t, "track b", f.playing("b.wav"))

	f.player.Previous()
	f.player.Previous()
	if cur := f.store.State().Music.Current; cur != 2 {
		t.Errorf("previous from the first track should wrap, current = %d", cur)
	}
	eventually(t, "track c", f.playing("c.wav"))

	f.player.Next()
	eventually(t, "wrapped to a", f.playing("a.wav"))
}

func TestAutoAdvance(t *testing.T) {
	f := newFixture(t)
	f.enable(true)
	eventually(t, "track a", f.playing("a.wav"))

	f.graph.Advance(3*time.Second + 10*time.Millisecond)
	eventually(t, "track b after a ended", f.playing("b.wav"))
	if cur := f.store.State().Music.Current; cur != 1 {
		t.Errorf("current = %d, want 1", cur)
	}
}

func TestPreviewSeeksToOffset(t *testing.T) {
	f := newFixture(t)

	if err := f.player.Preview("a"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "preview playing", f.playing("a.wav"))
	if pos := f.out.Position(); pos != 2*time.Second {
		t.Errorf("position = %v, want the 2s preview offset", pos)
	}

	// Previewing the loaded track seeks without reloading.
	f.graph.Advance(500 * time.Millisecond)
	if err := f.player.Preview("a"); err != nil {
		t.Fatal(err)
	}
	f.player.Sync()
	if pos := f.out.Position(); pos != 2*time.Second {
		t.Errorf("position = %v, want 2s", pos)
	}

	if err := f.player.Preview("missing"); !errors.Is(err, tts.ErrUnknownTrack) {
		t.Errorf("err = %v, want ErrUnknownTrack", err)
	}
}

func TestLoadFailure(t *testing.T) {
	f := newFixture(t)
	f.loader.mu.Lock()
	f.loader.fail["a.wav"] = true
	f.loader.mu.Unlock()

	f.enable(true)
	eventually(t, "load error", func() bool { return f.player.Status().Err != nil })
	if f.out.Playing() {
		t.Error("failed track must not play")
	}

	f.player.Next()
	eventually(t, "next track plays", f.playing("b.wav"))
	if err := f.player.Status().Err; err != nil {
		t.Errorf("error should clear on track change: %v", err)
	}
}

func TestUnknownTrackInPlaylist(t *testing.T) {
	f := newFixture(t)
	f.store.Update(func(s *tts.AudioState) {
		s.Music.Playlist = []string{"ghost"}
		s.Music.Current = 0
		s.Music.Enabled = true
	})
	f.player.Sync()
	if err := f.player.Status().Err; !errors.Is(err, tts.ErrUnknownTrack) {
		t.Errorf("err = %v, want ErrUnknownTrack", err)
	}
}
