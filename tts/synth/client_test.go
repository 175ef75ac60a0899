package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[key]
	return d, ok
}

func (c *memCache) Set(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = data
	return nil
}

func testConfig(url string) tts.ServiceConfig {
	return tts.ServiceConfig{URL: url, Transport: "http", Timeout: 5 * time.Second}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestRewriteCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rewrite" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req RewriteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.DocumentID != "doc" || req.BlockID != "block-1" {
			http.Error(w, "bad ids", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"segments":[{"index":7,"text":"First part."},{"index":9,"text":"Second part."}]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(srv.URL), &memCache{})
	req := RewriteRequest{DocumentID: "doc", BlockID: "block-1", RawText: "First part. Second part."}

	for i := 0; i < 2; i++ {
		segs, err := c.Rewrite(context.Background(), req)
		if err != nil {
			t.Fatalf("Rewrite: %v", err)
		}
		if len(segs) != 2 || segs[0].Index != 0 || segs[1].Index != 1 || segs[1].Text != "Second part." {
			t.Fatalf("segments = %+v", segs)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}

	req.RawText = "Edited text."
	if _, err := c.Rewrite(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("changed text should miss the cache, got %d requests", n)
	}
}

func TestRewriteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(testConfig(srv.URL), nil).Rewrite(context.Background(), RewriteRequest{})
	if !errors.Is(err, tts.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	var terr *tts.Error
	if !errors.As(err, &terr) || terr.Context["status"] != http.StatusServiceUnavailable {
		t.Errorf("status not recorded: %v", err)
	}
}

func streamServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SynthesizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.VoiceID == "" {
			http.Error(w, "voice required", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintln(w, l)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func TestSynthesizeSSE(t *testing.T) {
	srv := streamServer(t,
		": keep-alive",
		"event: segment",
		`data: {"type":"segment","segmentIndex":1,"audioUrl":"u1","durationMs":3000}`,
		"",
		`data: {"type":"error","segmentIndex":2,"error":"failed"}`,
		`{"type":"segment","segmentIndex":0,"audioUrl":"u0","durationMs":2000}`,
		`data: {"type":"done"}`,
		`data: {"type":"segment","segmentIndex":5,"audioUrl":"ignored","durationMs":1}`,
	)
	defer srv.Close()

	c := NewHTTPClient(testConfig(srv.URL), nil)
	events, err := c.Synthesize(context.Background(), SynthesizeRequest{DocumentID: "d", BlockID: "b", VoiceID: "male_1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	got := collect(t, events)
	want := []Event{
		SegmentEvent{Index: 1, AudioURL: "u1", DurationMs: 3000},
		SegmentErrorEvent{Index: 2, Err: "failed"},
		SegmentEvent{Index: 0, AudioURL: "u0", DurationMs: 2000},
		DoneEvent{},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events: %#v", len(got), got)
	}
	for i := range want {
		if fmt.Sprintf("%#v", got[i]) != fmt.Sprintf("%#v", want[i]) {
			t.Errorf("event %d = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestSynthesizeUnexpectedEnd(t *testing.T) {
	srv := streamServer(t, `data: {"type":"segment","segmentIndex":0,"audioUrl":"u0","durationMs":2000}`)
	defer srv.Close()

	events, err := NewHTTPClient(testConfig(srv.URL), nil).Synthesize(context.Background(), SynthesizeRequest{VoiceID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)
	if len(got) != 2 {
		t.Fatalf("got %#v", got)
	}
	fatal, ok := got[1].(FatalEvent)
	if !ok || !errors.Is(fatal.Err, tts.ErrFatalStream) {
		t.Errorf("expected a fatal stream event, got %#v", got[1])
	}
}

func TestSynthesizeMalformedEventIsFatal(t *testing.T) {
	srv := streamServer(t, `data: {"type":"segment","segmentIndex":0}`, `data: {"type":"done"}`)
	defer srv.Close()

	events, _ := NewHTTPClient(testConfig(srv.URL), nil).Synthesize(context.Background(), SynthesizeRequest{VoiceID: "v"})
	got := collect(t, events)
	if len(got) != 1 {
		t.Fatalf("stream should stop at the malformed event, got %#v", got)
	}
	if fatal, ok := got[0].(FatalEvent); !ok || !errors.Is(fatal.Err, tts.ErrMalformedEvent) {
		t.Errorf("got %#v", got[0])
	}
}

func TestSynthesizeStatusError(t *testing.T) {
	srv := streamServer(t)
	defer srv.Close()

	_, err := NewHTTPClient(testConfig(srv.URL), nil).Synthesize(context.Background(), SynthesizeRequest{})
	if !errors.Is(err, tts.ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}
}

func TestSynthesizeCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"type":"segment","segmentIndex":0,"audioUrl":"u0","durationMs":1}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := NewHTTPClient(testConfig(srv.URL), nil).Synthesize(ctx, SynthesizeRequest{VoiceID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	first := <-events
	if _, ok := first.(SegmentEvent); !ok {
		t.Fatalf("first event = %#v", first)
	}
	cancel()

	for ev := range events {
		t.Errorf("no event expected after cancel, got %#v", ev)
	}
}

func TestSegmentAndUnload(t *testing.T) {
	var unloads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/segment":
			var req SegmentRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.SegmentIndex == 4 {
				fmt.Fprint(w, `{"durationMs":12}`)
				return
			}
			fmt.Fprintf(w, `{"audio":"UklGRg==","durationMs":1500.4,"wordTimestamps":[{"word":"x","startMs":0,"endMs":5}]}`)
		case "/unload":
			unloads.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(testConfig(srv.URL), nil)
	res, err := c.Segment(context.Background(), SegmentRequest{DocumentID: "d", BlockID: "b", SegmentIndex: 1, VoiceID: "v"})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if !strings.HasPrefix(res.AudioURL, "data:audio/wav;base64,") || res.DurationMs != 1500.4 || len(res.WordTimestamps) != 1 {
		t.Errorf("result = %+v", res)
	}

	if _, err := c.Segment(context.Background(), SegmentRequest{SegmentIndex: 4}); !errors.Is(err, tts.ErrSegmentSynthesis) {
		t.Errorf("expected ErrSegmentSynthesis, got %v", err)
	}

	if err := c.Unload(context.Background()); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if unloads.Load() != 1 {
		t.Error("unload not received")
	}
}

func TestNewSelectsTransport(t *testing.T) {
	cfg := testConfig("http://localhost:8000")
	if svc, err := New(cfg, nil); err != nil {
		t.Fatal(err)
	} else if _, ok := svc.(*HTTPClient); !ok {
		t.Errorf("http transport = %T", svc)
	}

	cfg.Transport = "websocket"
	svc, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	ws, ok := svc.(*WSClient)
	if !ok {
		t.Fatalf("websocket transport = %T", svc)
	}
	if ws.wsURL != "ws://localhost:8000/synthesize/ws" {
		t.Errorf("websocket url = %q", ws.wsURL)
	}

	cfg.Transport = "carrier-pigeon"
	if _, err := New(cfg, nil); !errors.Is(err, tts.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
