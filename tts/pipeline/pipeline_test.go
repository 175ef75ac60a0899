package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
	"github.com/dgnsrekt/narrate/tts/store"
	"github.com/dgnsrekt/narrate/tts/synth"
)

// fakeService hands out one test controlled channel per opened stream.
type fakeService struct {
	mu         sync.Mutex
	blocks     map[string][]string
	gates      map[string]chan struct{}
	streams    []chan synth.Event
	requests   []synth.SynthesizeRequest
	segReqs    []synth.SegmentRequest
	segResults map[int]synth.SegmentResult
	rewriteErr error
	unloads    atomic.Int32
}

func newFakeService() *fakeService {
	return &fakeService{
		blocks:     make(map[string][]string),
		gates:      make(map[string]chan struct{}),
		segResults: make(map[int]synth.SegmentResult),
	}
}

func (f *fakeService) Rewrite(ctx context.Context, req synth.RewriteRequest) ([]synth.RewrittenSegment, error) {
	f.mu.Lock()
	gate := f.gates[req.BlockID]
	texts := f.blocks[req.BlockID]
	err := f.rewriteErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	segs := make([]synth.RewrittenSegment, len(texts))
	for i, text := range texts {
		segs[i] = synth.RewrittenSegment{Index: i, Text: text}
	}
	return segs, nil
}

func (f *fakeService) Synthesize(ctx context.Context, req synth.SynthesizeRequest) (<-chan synth.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan synth.Event, 32)
	f.streams = append(f.streams, ch)
	f.requests = append(f.requests, req)
	return ch, nil
}

func (f *fakeService) Segment(ctx context.Context, req synth.SegmentRequest) (synth.SegmentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segReqs = append(f.segReqs, req)
	res, ok := f.segResults[req.SegmentIndex]
	if !ok {
		return synth.SegmentResult{}, tts.NewError(tts.ErrorCodeSegmentSynthesis, "no audio", nil)
	}
	return res, nil
}

func (f *fakeService) Unload(ctx context.Context) error {
	f.unloads.Add(1)
	return errors.New("service offline")
}

func (f *fakeService) stream(i int) chan synth.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

func (f *fakeService) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

type countingRecorder struct {
	nopRecorder
	stale  atomic.Int32
	first  atomic.Int32
	events atomic.Int32
}

func (r *countingRecorder) StaleDropped()            { r.stale.Add(1) }
func (r *countingRecorder) FirstAudio(time.Duration) { r.first.Add(1) }
func (r *countingRecorder) StreamEvent(string)       { r.events.Add(1) }

type fixture struct {
	p   *Pipeline
	svc *fakeService
	out *audio.MockOutput
	st  *store.Store
	rec *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(tts.NewAudioState(tts.DefaultConfig(), nil))
	svc := newFakeService()
	out := audio.NewMockOutput()
	rec := &countingRecorder{}
	p := New(st, svc, out, Options{Metrics: rec})
	t.Cleanup(p.Close)
	return &fixture{p: p, svc: svc, out: out, st: st, rec: rec}
}

// load loads a block of n segments and returns its stream.
func (f *fixture) load(t *testing.T, block string, n int) chan synth.Event {
	t.Helper()
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("Segment %d of %s.", i, block)
	}
	f.svc.mu.Lock()
	f.svc.blocks[block] = texts
	f.svc.mu.Unlock()

	if err := f.p.LoadBlock(context.Background(), "doc-1", block, "raw text"); err != nil {
		t.Fatalf("LoadBlock(%s): %v", block, err)
	}
	return f.svc.stream(f.svc.streamCount() - 1)
}

func ready(idx, ms int) synth.SegmentEvent {
	return synth.SegmentEvent{Index: idx, AudioURL: fmt.Sprintf("u%d", idx), DurationMs: ms}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) playing(url string) func() bool {
	return func() bool {
		return f.out.URL() == url && f.out.Playing() && f.p.State().Playing
	}
}

func TestLoadBlockNotPersisted(t *testing.T) {
	f := newFixture(t)

	err := f.p.LoadBlock(context.Background(), "", "b1", "text")
	if !errors.Is(err, tts.ErrNotPersisted) {
		t.Fatalf("expected ErrNotPersisted, got %v", err)
	}
	f.p.Sync()
	if n := f.svc.streamCount(); n != 0 {
		t.Errorf("no stream should be opened, got %d", n)
	}
	if !errors.Is(f.p.State().Err, tts.ErrNotPersisted) {
		t.Errorf("error not surfaced in state: %v", f.p.State().Err)
	}
}

func TestLoadBlockInitializesSegments(t *testing.T) {
	f := newFixture(t)
	f.load(t, "b1", 3)

	pb := f.p.State()
	if pb.BlockID != "b1" || len(pb.Segments) != 3 {
		t.Fatalf("state = %+v", pb)
	}
	if pb.Phase != tts.PhaseSynthesizing || !pb.Synthesizing {
		t.Errorf("phase = %v, synthesizing = %v", pb.Phase, pb.Synthesizing)
	}
	for i, seg := range pb.Segments {
		if seg.Status != tts.StatusPending || seg.AudioURL != "" || seg.Index != i {
			t.Errorf("segment %d = %+v", i, seg)
		}
	}
	if req := f.svc.requests[0]; req.VoiceID != "male_1" || req.DocumentID != "doc-1" {
		t.Errorf("synthesize request = %+v", req)
	}

	// Loading the same block again is a no-op.
	if err := f.p.LoadBlock(context.Background(), "doc-1", "b1", "raw text"); err != nil {
		t.Fatal(err)
	}
	if n := f.svc.streamCount(); n != 1 {
		t.Errorf("reloading the same block opened %d streams", n)
	}
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 3)

	stream <- ready(0, 2000)
	eventually(t, "segment 0 to auto-start", f.playing("u0"))
	if f.p.State().Phase != tts.PhasePlaying {
		t.Errorf("phase = %v", f.p.State().Phase)
	}

	stream <- ready(1, 3000)
	stream <- ready(2, 1500)
	stream <- synth.DoneEvent{}
	eventually(t, "all segments ready", func() bool {
		pb := f.p.State()
		return !pb.Synthesizing && pb.TotalDuration == 6.5
	})

	pos, err := f.p.Skip(4)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 4 {
		t.Errorf("position = %v, want 4", pos)
	}
	eventually(t, "segment 1 at 2s", func() bool {
		return f.playing("u1")() && f.out.Position() == 2*time.Second
	})
	if f.p.State().Current != 1 {
		t.Errorf("current = %d, want 1", f.p.State().Current)
	}
	if math.Abs(f.p.Position()-4) > 1e-9 {
		t.Errorf("block position = %v, want 4", f.p.Position())
	}
	if f.rec.first.Load() != 1 {
		t.Errorf("first audio recorded %d times", f.rec.first.Load())
	}

	// Advance at the end of a segment continues with the next ready one.
	f.out.Finish()
	eventually(t, "segment 2", f.playing("u2"))
}

func TestDurationSum(t *testing.T) {
	tests := [][]int{
		{1000},
		{2000, 3000, 1500},
		{1, 2, 3, 4, 5},
		{333, 333, 334},
	}
	for _, durations := range tests {
		t.Run(fmt.Sprint(durations), func(t *testing.T) {
			f := newFixture(t)
			stream := f.load(t, "b", len(durations))

			want := 0
			for i := len(durations) - 1; i >= 0; i-- {
				stream <- ready(i, durations[i])
				want += durations[i]
			}
			eventually(t, "all ready", func() bool { return !f.p.State().Synthesizing })
			if got := f.p.State().TotalDuration; math.Abs(got-float64(want)/1000) > 1e-9 {
				t.Errorf("total = %v, want %v", got, float64(want)/1000)
			}
		})
	}
}

func TestSkipBounds(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 3)
	stream <- ready(0, 2000)
	stream <- ready(1, 3000)
	stream <- ready(2, 1500)
	eventually(t, "playing", f.playing("u0"))
	eventually(t, "all ready", func() bool { return !f.p.State().Synthesizing })

	for _, s := range []float64{-10, 1.5, 100, -2, 0.25, -100, 6.5, 3} {
		pos, err := f.p.Skip(s)
		if err != nil {
			t.Fatal(err)
		}
		if pos < 0 || pos > 6.5 {
			t.Fatalf("Skip(%v) = %v, outside [0, 6.5]", s, pos)
		}
		want := f.p.State().Segments[f.p.State().Current].AudioURL
		eventually(t, "output to follow the current segment", func() bool { return f.out.URL() == want })
	}

	if pos, _ := f.p.Skip(-100); pos != 0 {
		t.Errorf("skip far back = %v, want 0", pos)
	}
	eventually(t, "back at segment 0", func() bool { return f.out.URL() == "u0" && f.out.Position() == 0 })
	if pos, _ := f.p.Skip(100); pos != 6.5 {
		t.Errorf("skip far forward = %v, want 6.5", pos)
	}
	eventually(t, "end of segment 2", func() bool {
		return f.out.URL() == "u2" && f.out.Position() == 1500*time.Millisecond
	})
}

func TestLocate(t *testing.T) {
	segs := []tts.Segment{{DurationMs: 2000}, {DurationMs: 3000}, {DurationMs: 1500}}
	tests := []struct {
		target float64
		idx    int
		offset time.Duration
	}{
		{0, 0, 0},
		{1.999, 0, 1999 * time.Millisecond},
		{2, 1, 0},
		{4, 1, 2 * time.Second},
		{5, 2, 0},
		{6.5, 2, 1500 * time.Millisecond},
		{9, 2, 1500 * time.Millisecond},
	}
	for i := range segs {
		segs[i].MarkReady(fmt.Sprintf("u%d", i), segs[i].DurationMs, nil)
	}
	for _, tt := range tests {
		idx, offset, pos := locate(segs, tt.target)
		if idx != tt.idx || (offset-tt.offset).Abs() > time.Microsecond {
			t.Errorf("locate(%v) = %d, %v; want %d, %v", tt.target, idx, offset, tt.idx, tt.offset)
		}
		if want := math.Min(tt.target, 6.5); math.Abs(pos-want) > 1e-9 {
			t.Errorf("locate(%v) reached %v, want %v", tt.target, pos, want)
		}
	}

	// The walk stops at the first segment without audio.
	pending := []tts.Segment{{}, {}, {}}
	pending[0].MarkReady("u0", 2000, nil)
	pending[2].MarkReady("u2", 1000, nil)
	idx, offset, pos := locate(pending, 2.5)
	if idx != 1 || offset != 0 || pos != 2 {
		t.Errorf("locate past a pending segment = %d, %v, %v; want 1, 0, 2", idx, offset, pos)
	}
}

func TestSkipStopsAtPendingSegment(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 3)
	stream <- ready(0, 2000)
	eventually(t, "segment 0", f.playing("u0"))
	stream <- ready(2, 1500)
	eventually(t, "segment 2 ready", func() bool { return f.p.State().Segments[2].Ready() })

	pos, err := f.p.Skip(10)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 2 {
		t.Errorf("position = %v, want 2", pos)
	}
	pb := f.p.State()
	if pb.Current != 1 || !pb.Waiting {
		t.Errorf("skip while playing should wait on segment 1: current=%d waiting=%v", pb.Current, pb.Waiting)
	}

	stream <- ready(1, 3000)
	eventually(t, "resume at segment 1", f.playing("u1"))
	for _, ev := range f.out.History() {
		if ev.Type == "load" && ev.URL == "u2" {
			t.Fatal("segment 2 must not be played before segment 1")
		}
	}
}

func TestPausedSkipStaysPaused(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 3)
	stream <- ready(0, 2000)
	eventually(t, "segment 0", f.playing("u0"))
	if err := f.p.Pause(); err != nil {
		t.Fatal(err)
	}

	pos, err := f.p.Skip(10)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 2 {
		t.Errorf("position = %v, want 2", pos)
	}
	pb := f.p.State()
	if pb.Current != 1 || pb.Waiting || pb.Playing {
		t.Errorf("paused skip: current=%d waiting=%v playing=%v", pb.Current, pb.Waiting, pb.Playing)
	}

	stream <- ready(2, 1500)
	stream <- ready(1, 3000)
	eventually(t, "segment 1 ready", func() bool { return f.p.State().Segments[1].Ready() })
	f.p.Sync()
	if f.out.Playing() || f.p.State().Playing {
		t.Fatal("a paused skip must not resume on its own")
	}

	if err := f.p.Play(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "segment 1 after play", f.playing("u1"))
}

func TestDuplicateReadyIgnored(t *testing.T) {
	f := newFixture(t)
	f.svc.segResults[1] = synth.SegmentResult{AudioURL: "u1-demand", DurationMs: 3000}
	stream := f.load(t, "b1", 2)
	stream <- ready(0, 1000)
	stream <- synth.DoneEvent{}
	eventually(t, "segment 0", f.playing("u0"))

	f.out.Finish()
	eventually(t, "segment 1 on demand", f.playing("u1-demand"))

	// The stream delivers the same segment late.
	stream <- synth.SegmentEvent{Index: 1, AudioURL: "u1-late", DurationMs: 2500}
	stream <- synth.SegmentErrorEvent{Index: 1, Err: "late failure"}
	eventually(t, "late events handled", func() bool { return f.rec.events.Load() == 4 })
	f.p.Sync()

	seg := f.p.State().Segments[1]
	if seg.Status != tts.StatusReady || seg.AudioURL != "u1-demand" || seg.DurationMs != 3000 {
		t.Errorf("ready segment was rewritten: %+v", seg)
	}
	if f.out.URL() != "u1-demand" {
		t.Errorf("output switched to %q", f.out.URL())
	}
}

func TestBlockEndMarksFinished(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 1)
	stream <- ready(0, 1000)
	eventually(t, "segment 0", f.playing("u0"))

	f.out.Finish()
	eventually(t, "finished", func() bool { return f.p.State().Finished })
	pb := f.p.State()
	if pb.Playing || pb.Current != 0 || pb.Phase != tts.PhasePaused {
		t.Errorf("state = %+v", pb)
	}

	if err := f.p.Play(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "replay", f.playing("u0"))
	if f.p.State().Finished {
		t.Error("finished should clear when playback starts again")
	}
}

func TestOutOfOrderArrival(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 3)

	stream <- ready(0, 2000)
	eventually(t, "segment 0", f.playing("u0"))
	stream <- ready(2, 1500)
	eventually(t, "segment 2 ready", func() bool { return f.p.State().Segments[2].Ready() })

	f.out.Finish()
	eventually(t, "waiting on segment 1", func() bool {
		pb := f.p.State()
		return pb.Waiting && pb.Current == 1 && !pb.Playing
	})
	if f.out.Playing() {
		t.Error("output should be paused while waiting")
	}
	for _, ev := range f.out.History() {
		if ev.Type == "load" && ev.URL == "u2" {
			t.Fatal("segment 2 must not be played before segment 1")
		}
	}
	if f.p.State().Phase != tts.PhasePaused {
		t.Errorf("phase = %v, want paused", f.p.State().Phase)
	}

	stream <- ready(1, 3000)
	eventually(t, "automatic resume at segment 1", f.playing("u1"))
	if f.p.State().Waiting {
		t.Error("waiting should be cleared")
	}
}

func TestVoiceChangeReset(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 3)
	stream <- ready(0, 2000)
	stream <- ready(1, 3000)
	eventually(t, "segment 0", f.playing("u0"))
	f.out.Finish()
	eventually(t, "segment 1", f.playing("u1"))

	if err := f.p.SetVoice("female_1"); err != nil {
		t.Fatal(err)
	}
	st := f.st.State()
	if st.Narrator.Voice != "female_1" {
		t.Errorf("voice = %q", st.Narrator.Voice)
	}
	if f.out.Playing() || f.out.URL() != "" || st.Playback.Playing {
		t.Error("playback should stop on voice change")
	}
	for i, seg := range st.Playback.Segments {
		if seg.Status != tts.StatusPending || seg.AudioURL != "" || seg.DurationMs != 0 || seg.Text == "" {
			t.Errorf("segment %d not reset: %+v", i, seg)
		}
	}

	// Late audio from the old voice is dropped.
	stream <- ready(2, 1500)
	eventually(t, "stale event dropped", func() bool { return f.rec.stale.Load() == 1 })
	if f.p.State().Segments[2].Ready() {
		t.Error("stale segment applied")
	}

	// Same voice is a no-op.
	if err := f.p.SetVoice("female_1"); err != nil {
		t.Fatal(err)
	}
	if n := f.svc.streamCount(); n != 1 {
		t.Fatalf("voice change must not resynthesize on its own, streams = %d", n)
	}

	if err := f.p.Resynthesize(); err != nil {
		t.Fatal(err)
	}
	if req := f.svc.requests[1]; req.VoiceID != "female_1" || req.BlockID != "b1" {
		t.Errorf("resynthesize request = %+v", req)
	}
	next := f.svc.stream(1)
	next <- synth.SegmentEvent{Index: 1, AudioURL: "f1", DurationMs: 2800}
	eventually(t, "resumed at the current segment", f.playing("f1"))
}

func TestStaleCompletionRejected(t *testing.T) {
	f := newFixture(t)
	streamA := f.load(t, "A", 2)
	streamB := f.load(t, "B", 2)

	streamA <- ready(0, 1000)
	eventually(t, "stale event dropped", func() bool { return f.rec.stale.Load() == 1 })

	pb := f.p.State()
	if pb.BlockID != "B" || pb.Segments[0].Ready() || f.out.URL() != "" {
		t.Fatalf("block A event leaked into block B: %+v", pb)
	}

	streamB <- ready(0, 1000)
	eventually(t, "block B", f.playing("u0"))
}

func TestStaleRewriteRejected(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.svc.mu.Lock()
	f.svc.blocks["A"] = []string{"a"}
	f.svc.gates["A"] = gate
	f.svc.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.p.LoadBlock(context.Background(), "doc-1", "A", "a") }()
	eventually(t, "block A loading", func() bool { return f.p.State().BlockID == "A" })

	f.load(t, "B", 2)
	close(gate)
	if err := <-done; err != nil {
		t.Errorf("superseded load should return nil, got %v", err)
	}
	f.p.Sync()
	if pb := f.p.State(); pb.BlockID != "B" || len(pb.Segments) != 2 {
		t.Errorf("state = %+v", pb)
	}
	if n := f.svc.streamCount(); n != 1 {
		t.Errorf("superseded block opened a stream, streams = %d", n)
	}
}

func TestRewriteFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.rewriteErr = tts.NewError(tts.ErrorCodeNetwork, "rewrite request failed", errors.New("refused"))

	err := f.p.LoadBlock(context.Background(), "doc-1", "b1", "text")
	if !errors.Is(err, tts.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	eventually(t, "error phase", func() bool { return f.p.State().Phase == tts.PhaseError })
	if !errors.Is(f.p.State().Err, tts.ErrNetwork) {
		t.Errorf("err = %v", f.p.State().Err)
	}
}

func TestAutoplayBlocked(t *testing.T) {
	f := newFixture(t)
	f.out.SetBlocked(true)
	stream := f.load(t, "b1", 1)

	stream <- ready(0, 1000)
	eventually(t, "awaiting gesture", func() bool { return f.p.State().AwaitingGesture })
	if pb := f.p.State(); pb.Playing || pb.Phase != tts.PhasePaused {
		t.Errorf("state = %+v", pb)
	}

	if err := f.p.Play(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "playing after gesture", f.playing("u0"))
	if f.p.State().AwaitingGesture {
		t.Error("awaiting gesture should be cleared")
	}
}

func TestSegmentErrorFetchedOnDemand(t *testing.T) {
	f := newFixture(t)
	f.svc.segResults[1] = synth.SegmentResult{AudioURL: "u1-retry", DurationMs: 2999.6}
	stream := f.load(t, "b1", 3)

	stream <- ready(0, 2000)
	stream <- synth.SegmentErrorEvent{Index: 1, Err: "cuda oom"}
	stream <- ready(2, 1500)
	stream <- synth.DoneEvent{}
	eventually(t, "segment 0", f.playing("u0"))
	eventually(t, "segment 1 error", func() bool { return f.p.State().Segments[1].Status == tts.StatusError })

	f.out.Finish()
	eventually(t, "segment 1 fetched and played", f.playing("u1-retry"))
	if seg := f.p.State().Segments[1]; seg.DurationMs != 3000 {
		t.Errorf("duration = %d", seg.DurationMs)
	}
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	if len(f.svc.segReqs) != 1 || f.svc.segReqs[0].SegmentIndex != 1 || f.svc.segReqs[0].VoiceID != "male_1" {
		t.Errorf("segment requests = %+v", f.svc.segReqs)
	}
}

func TestOnDemandFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 2)
	stream <- ready(0, 1000)
	stream <- synth.DoneEvent{}
	eventually(t, "segment 0", f.playing("u0"))

	f.out.Finish()
	eventually(t, "error surfaced", func() bool {
		pb := f.p.State()
		return !pb.Waiting && errors.Is(pb.Err, tts.ErrSegmentSynthesis)
	})
	if st := f.p.State().Segments[1].Status; st != tts.StatusError {
		t.Errorf("segment 1 status = %v", st)
	}
}

func TestFatalStream(t *testing.T) {
	t.Run("keeps playing audio", func(t *testing.T) {
		f := newFixture(t)
		stream := f.load(t, "b1", 2)
		stream <- ready(0, 1000)
		eventually(t, "segment 0", f.playing("u0"))

		stream <- synth.FatalEvent{Err: tts.NewError(tts.ErrorCodeFatalStream, "worker crashed", nil)}
		eventually(t, "error surfaced", func() bool { return f.p.State().Err != nil })
		pb := f.p.State()
		if pb.Phase != tts.PhasePlaying || !f.out.Playing() || pb.Synthesizing {
			t.Errorf("state = %+v", pb)
		}
	})

	t.Run("before any audio", func(t *testing.T) {
		f := newFixture(t)
		stream := f.load(t, "b1", 2)
		stream <- synth.FatalEvent{Err: tts.NewError(tts.ErrorCodeFatalStream, "worker crashed", nil)}
		eventually(t, "error phase", func() bool { return f.p.State().Phase == tts.PhaseError })
		if !errors.Is(f.p.State().Err, tts.ErrFatalStream) {
			t.Errorf("err = %v", f.p.State().Err)
		}
	})
}

func TestPauseAndToggle(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 1)
	stream <- ready(0, 1000)
	eventually(t, "playing", f.playing("u0"))

	if err := f.p.Toggle(); err != nil {
		t.Fatal(err)
	}
	if pb := f.p.State(); pb.Playing || pb.Phase != tts.PhasePaused || f.out.Playing() {
		t.Errorf("toggle should pause: %+v", pb)
	}
	if err := f.p.Toggle(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "playing again", f.playing("u0"))
}

func TestPauseBeforeFirstSegment(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 1)
	if err := f.p.Pause(); err != nil {
		t.Fatal(err)
	}
	stream <- ready(0, 1000)
	eventually(t, "segment ready", func() bool { return f.p.State().Segments[0].Ready() })
	f.p.Sync()
	if f.out.Playing() || f.p.State().Playing {
		t.Error("a paused pipeline must not auto-start")
	}
}

func TestSetSpeed(t *testing.T) {
	f := newFixture(t)
	for _, tt := range []struct{ in, want float64 }{{1.5, 1.5}, {3, 2}, {0.1, 0.5}} {
		if err := f.p.SetSpeed(tt.in); err != nil {
			t.Fatal(err)
		}
		if f.out.Rate() != tt.want || f.st.State().Narrator.Speed != tt.want {
			t.Errorf("SetSpeed(%v): rate %v, state %v", tt.in, f.out.Rate(), f.st.State().Narrator.Speed)
		}
	}
}

func TestDisable(t *testing.T) {
	f := newFixture(t)
	stream := f.load(t, "b1", 2)
	stream <- ready(0, 1000)
	eventually(t, "playing", f.playing("u0"))

	if err := f.p.Disable(); err != nil {
		t.Fatal(err)
	}
	st := f.st.State()
	if st.Narrator.Enabled || st.Playback.Phase != tts.PhaseIdle || len(st.Playback.Segments) != 0 || st.Playback.BlockID != "" {
		t.Errorf("state = %+v", st)
	}
	if f.out.URL() != "" || f.out.Playing() {
		t.Error("output should be unloaded")
	}
	eventually(t, "unload request", func() bool { return f.svc.unloads.Load() == 1 })

	stream <- ready(1, 1000)
	eventually(t, "stale event dropped", func() bool { return f.rec.stale.Load() == 1 })

	// Disabled narration ignores block loads until enabled again.
	f.load(t, "b2", 1)
	if f.p.State().BlockID != "" {
		t.Error("disabled pipeline loaded a block")
	}
	if err := f.p.Enable(); err != nil {
		t.Fatal(err)
	}
	f.load(t, "b2", 1)
	if f.p.State().BlockID != "b2" {
		t.Error("enabled pipeline should load")
	}
}

func TestDisableReleasesOnlyAfterUse(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Disable(); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Enable(); err != nil {
		t.Fatal(err)
	}
	f.load(t, "b1", 1)
	if err := f.p.Disable(); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Disable(); err != nil {
		t.Fatal(err)
	}

	// Close waits for the release request.
	f.p.Close()
	if n := f.svc.unloads.Load(); n != 1 {
		t.Errorf("unload requests = %d, want 1", n)
	}
}
