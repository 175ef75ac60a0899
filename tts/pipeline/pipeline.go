// Package pipeline drives narration of one content block: rewrite into
// segments, streamed synthesis, playback through the single narrator output
// and advance across segment boundaries.
//
// All pipeline state is owned by a serialized loop. Network and output I/O
// run on their own goroutines and post their completions back to the loop,
// where they are checked against the current generation before being
// applied.
package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/queue"
	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/store"
	"github.com/dgnsrekt/narrate/tts/synth"
)

// Output is the narrator audio output. The pipeline is its only user.
type Output interface {
	Load(ctx context.Context, url string) error
	Play() error
	Activate()
	Pause()
	Seek(d time.Duration)
	Position() time.Duration
	Playing() bool
	URL() string
	SetRate(rate float64)
	OnEnded(fn func())
	Unload()
}

// Warmer pre-fetches audio so that a later Load does not hit the network.
type Warmer interface {
	Warm(ctx context.Context, url string) error
}

// Recorder receives pipeline metrics.
type Recorder interface {
	StreamEvent(kind string)
	SegmentStatus(status tts.SegmentStatus)
	FirstAudio(d time.Duration)
	StaleDropped()
}

type nopRecorder struct{}

func (nopRecorder) StreamEvent(string)              {}
func (nopRecorder) SegmentStatus(tts.SegmentStatus) {}
func (nopRecorder) FirstAudio(time.Duration)        {}
func (nopRecorder) StaleDropped()                   {}

// Options tunes a pipeline. The zero value is usable.
type Options struct {
	// Prefetch is the number of ready segments after the current one that
	// are warmed into the audio cache.
	Prefetch int
	Warmer   Warmer
	Metrics  Recorder
}

// Pipeline is the segmented narration pipeline of one session.
type Pipeline struct {
	store   *store.Store
	svc     synth.Service
	out     Output
	loop    *queue.Loop
	warmer  Warmer
	metrics Recorder

	prefetch int

	// Lifetime of the pipeline; every generation context derives from it.
	ctx    context.Context
	cancel context.CancelFunc

	// Loop owned
	machine      *tts.StateMachine
	docID        string
	gen          uint64
	genCtx       context.Context
	genCancel    context.CancelFunc
	started      bool // audio has played in this generation
	hold         bool // user paused before anything played
	streamDone   bool
	resumeOffset time.Duration
	loadStarted  time.Time
	reported     bool // first audio latency recorded

	// Output loads run off the loop; only the newest may apply.
	loadMu  sync.Mutex
	loadSeq atomic.Uint64

	engaged   bool           // service used since the last unload; loop owned
	unloading sync.WaitGroup // release requests still in flight

	sub       *store.Subscription
	closeOnce sync.Once
}

// unloadTimeout bounds the release request sent when narration is disabled.
const unloadTimeout = 3 * time.Second

// New creates a pipeline writing to st and playing through out.
func New(st *store.Store, svc synth.Service, out Output, opts Options) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		store:    st,
		svc:      svc,
		out:      out,
		loop:     queue.NewLoop(),
		warmer:   opts.Warmer,
		metrics:  opts.Metrics,
		prefetch: opts.Prefetch,
		ctx:      ctx,
		cancel:   cancel,
		machine:  tts.NewStateMachine(),
	}
	if p.metrics == nil {
		p.metrics = nopRecorder{}
	}
	p.genCtx, p.genCancel = context.WithCancel(ctx)

	out.SetRate(st.State().Narrator.Speed)
	out.OnEnded(func() {
		_ = p.loop.Post(p.advance)
	})
	p.sub = st.Subscribe(p.watch)
	return p
}

// State returns the current playback state.
func (p *Pipeline) State() tts.PlaybackState {
	return p.store.State().Playback
}

// Position returns the playback position across the whole block in seconds.
func (p *Pipeline) Position() float64 {
	pb := p.State()
	var before int
	for i := 0; i < pb.Current && i < len(pb.Segments); i++ {
		before += pb.Segments[i].DurationMs
	}
	return float64(before)/1000 + p.out.Position().Seconds()
}

// LoadBlock narrates a block. It rewrites rawText into segments, opens the
// synthesis stream and returns; segments then arrive in the background and
// playback starts with the first one. Loading the block that is already
// loaded is a no-op. ctx bounds the rewrite request only.
//
// A call superseded by a newer action returns nil.
func (p *Pipeline) LoadBlock(ctx context.Context, docID, blockID, rawText string) error {
	if docID == "" {
		err := tts.NewError(tts.ErrorCodeNotPersisted, "narration needs a saved document", nil).
			WithContext("block", blockID)
		_ = p.loop.Post(func() {
			p.store.Update(func(s *tts.AudioState) { s.Playback.Err = err })
		})
		return err
	}

	var (
		gen     uint64
		genCtx  context.Context
		skip    bool
		voiceID string
	)
	err := p.loop.Call(func() {
		st := p.store.State()
		pb := st.Playback
		if !st.Narrator.Enabled {
			skip = true
			return
		}
		if pb.BlockID == blockID && p.docID == docID &&
			pb.Phase != tts.PhaseIdle && pb.Phase != tts.PhaseError {
			skip = true
			return
		}

		gen, genCtx = p.newGeneration()
		p.docID = docID
		p.engaged = true
		p.loadStarted = time.Now()
		p.out.Pause()
		p.out.Unload()
		voiceID = st.Narrator.Voice

		p.store.Update(func(s *tts.AudioState) {
			s.Playback = tts.PlaybackState{
				BlockID: blockID,
				Phase:   p.phase(tts.PhaseLoading),
			}
		})
	})
	if err != nil || skip {
		return err
	}
	log.Debug("loading block", "doc", docID, "block", blockID, "voice", voiceID)

	rwCtx, rwCancel := context.WithCancel(genCtx)
	defer rwCancel()
	stop := context.AfterFunc(ctx, rwCancel)
	defer stop()

	segs, err := p.svc.Rewrite(rwCtx, synth.RewriteRequest{DocumentID: docID, BlockID: blockID, RawText: rawText})
	if err != nil {
		if genCtx.Err() != nil {
			return nil
		}
		if tts.IsCancelled(err) {
			p.abandon(gen)
			return nil
		}
		p.fail(gen, err)
		return err
	}

	var stale bool
	err = p.loop.Call(func() {
		if gen != p.gen {
			stale = true
			return
		}
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Segments = make([]tts.Segment, len(segs))
			for i, seg := range segs {
				s.Playback.Segments[i] = tts.Segment{Index: i, Text: seg.Text, Status: tts.StatusPending}
			}
			if len(segs) == 0 {
				s.Playback.Phase = p.phase(tts.PhaseIdle)
				return
			}
			s.Playback.Synthesizing = true
			s.Playback.Phase = p.phase(tts.PhaseSynthesizing)
		})
	})
	if err != nil {
		return err
	}
	if stale {
		p.metrics.StaleDropped()
		return nil
	}
	if len(segs) == 0 {
		log.Info("block has nothing to narrate", "block", blockID)
		return nil
	}

	return p.openStream(genCtx, gen, synth.SynthesizeRequest{DocumentID: docID, BlockID: blockID, VoiceID: voiceID})
}

// Resynthesize reopens the synthesis stream for the loaded block with the
// current voice. Segment text is kept; segments already ready are reset.
func (p *Pipeline) Resynthesize() error {
	var (
		gen    uint64
		genCtx context.Context
		req    synth.SynthesizeRequest
		skip   bool
	)
	err := p.loop.Call(func() {
		st := p.store.State()
		if !st.Narrator.Enabled || p.docID == "" || len(st.Playback.Segments) == 0 {
			skip = true
			return
		}
		gen, genCtx = p.newGeneration()
		p.loadStarted = time.Now()
		p.out.Pause()
		p.out.Unload()
		req = synth.SynthesizeRequest{DocumentID: p.docID, BlockID: st.Playback.BlockID, VoiceID: st.Narrator.Voice}

		p.store.Update(func(s *tts.AudioState) {
			for i := range s.Playback.Segments {
				s.Playback.Segments[i].Reset()
			}
			s.Playback.TotalDuration = 0
			s.Playback.Playing = false
			s.Playback.Waiting = false
			s.Playback.Finished = false
			s.Playback.Synthesizing = true
			s.Playback.Err = nil
			s.Playback.Phase = p.phase(tts.PhaseSynthesizing)
		})
	})
	if err != nil || skip {
		return err
	}
	return p.openStream(genCtx, gen, req)
}

func (p *Pipeline) openStream(ctx context.Context, gen uint64, req synth.SynthesizeRequest) error {
	events, err := p.svc.Synthesize(ctx, req)
	if err != nil {
		if tts.IsCancelled(err) || ctx.Err() != nil {
			return nil
		}
		p.fail(gen, err)
		return err
	}

	go func() {
		for ev := range events {
			if p.loop.Post(func() { p.handleEvent(gen, ev) }) != nil {
				return
			}
		}
	}()
	return nil
}

// fail records a block level error for gen.
func (p *Pipeline) fail(gen uint64, err error) {
	_ = p.loop.Post(func() {
		if gen != p.gen {
			return
		}
		log.Error("narration failed", "block", p.State().BlockID, "error", err)
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Err = err
			s.Playback.Synthesizing = false
			if !s.Playback.Playing {
				s.Playback.Phase = p.phase(tts.PhaseError)
			}
		})
	})
}

// abandon returns a load cancelled by its caller to idle.
func (p *Pipeline) abandon(gen uint64) {
	_ = p.loop.Post(func() {
		if gen != p.gen {
			return
		}
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Phase = p.phase(tts.PhaseIdle)
		})
	})
}

// newGeneration supersedes every in-flight request. Loop only.
func (p *Pipeline) newGeneration() (uint64, context.Context) {
	p.genCancel()
	p.gen++
	p.genCtx, p.genCancel = context.WithCancel(p.ctx)
	p.loadSeq.Add(1)
	p.started = false
	p.hold = false
	p.streamDone = false
	p.resumeOffset = 0
	p.reported = false
	return p.gen, p.genCtx
}

// phase moves the state machine and returns the resulting phase. Loop only.
func (p *Pipeline) phase(to tts.Phase) tts.Phase {
	from := p.machine.Current()
	if !p.machine.Transition(to) {
		log.Warn("ignoring phase transition", "from", from, "to", to)
	}
	return p.machine.Current()
}

func (p *Pipeline) handleEvent(gen uint64, ev synth.Event) {
	if gen != p.gen {
		p.metrics.StaleDropped()
		return
	}

	switch ev := ev.(type) {
	case synth.SegmentEvent:
		p.metrics.StreamEvent("segment")
		p.segmentReady(ev.Index, ev.AudioURL, ev.DurationMs, ev.WordTimestamps)

	case synth.SegmentErrorEvent:
		p.metrics.StreamEvent("error")
		if !p.validIndex(ev.Index) || p.State().Segments[ev.Index].Status == tts.StatusReady {
			return
		}
		log.Warn("segment synthesis failed", "segment", ev.Index, "error", ev.Err)
		p.metrics.SegmentStatus(tts.StatusError)
		pb := p.store.Update(func(s *tts.AudioState) {
			s.Playback.Segments[ev.Index].MarkError(ev.Err)
			s.Playback.Synthesizing = tts.AnyPending(s.Playback.Segments)
		}).Playback
		if pb.Waiting && pb.Current == ev.Index {
			p.fetchSegment(ev.Index)
		}

	case synth.DoneEvent:
		p.metrics.StreamEvent("done")
		p.streamDone = true
		pb := p.store.Update(func(s *tts.AudioState) {
			s.Playback.Synthesizing = false
			if s.Playback.Phase == tts.PhaseSynthesizing && !s.Playback.Playing {
				s.Playback.Phase = p.phase(tts.PhasePaused)
			}
		}).Playback
		if pb.Waiting {
			p.fetchSegment(pb.Current)
		}

	case synth.FatalEvent:
		p.metrics.StreamEvent("fatal")
		if tts.IsCancelled(ev.Err) {
			return
		}
		p.streamDone = true
		log.Error("synthesis stream failed", "block", p.State().BlockID, "error", ev.Err)
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Err = ev.Err
			s.Playback.Synthesizing = false
			if !s.Playback.Playing {
				s.Playback.Waiting = false
				s.Playback.Phase = p.phase(tts.PhaseError)
			}
		})
	}
}

func (p *Pipeline) validIndex(i int) bool {
	if i < 0 || i >= len(p.State().Segments) {
		log.Warn("dropping event for unknown segment", "segment", i)
		return false
	}
	return true
}

// segmentReady applies synthesized audio. Loop only.
func (p *Pipeline) segmentReady(idx int, url string, durationMs int, words []tts.WordTimestamp) {
	if !p.validIndex(idx) {
		return
	}
	if p.State().Segments[idx].Status == tts.StatusReady {
		log.Debug("segment already ready", "segment", idx)
		return
	}
	p.metrics.SegmentStatus(tts.StatusReady)
	pb := p.store.Update(func(s *tts.AudioState) {
		s.Playback.Segments[idx].MarkReady(url, durationMs, words)
		s.Playback.TotalDuration = tts.TotalDurationSeconds(s.Playback.Segments)
		s.Playback.Synthesizing = tts.AnyPending(s.Playback.Segments)
	}).Playback

	if !p.started && !p.hold && !pb.Waiting && idx == pb.Current && !pb.AwaitingGesture {
		p.startSegment(idx, 0, true)
		return
	}
	if idx > pb.Current && idx <= pb.Current+p.prefetch {
		p.warm(url)
	}
}

// watch resumes playback waiting on a segment once it becomes ready.
func (p *Pipeline) watch(st tts.AudioState) {
	pb := st.Playback
	if !pb.Waiting {
		return
	}
	if seg, ok := pb.CurrentSegment(); ok && seg.Ready() {
		_ = p.loop.Post(p.resumeWaiting)
	}
}

func (p *Pipeline) resumeWaiting() {
	pb := p.State()
	seg, ok := pb.CurrentSegment()
	if !pb.Waiting || !ok || !seg.Ready() {
		return
	}
	log.Debug("resuming at ready segment", "segment", pb.Current)
	offset := p.resumeOffset
	p.resumeOffset = 0
	p.startSegment(pb.Current, offset, true)
}

// startSegment makes idx current and loads its audio. Loop only.
func (p *Pipeline) startSegment(idx int, offset time.Duration, play bool) {
	pb := p.store.Update(func(s *tts.AudioState) {
		s.Playback.Current = idx
		s.Playback.Waiting = false
	}).Playback
	seg := pb.Segments[idx]
	if play {
		p.started = true
	}

	seq := p.loadSeq.Add(1)
	gen, ctx := p.gen, p.genCtx
	go func() {
		p.loadMu.Lock()
		defer p.loadMu.Unlock()
		if p.loadSeq.Load() != seq {
			return
		}
		err := p.out.Load(ctx, seg.AudioURL)
		_ = p.loop.Post(func() { p.loaded(gen, seq, idx, offset, play, err) })
	}()

	for i := idx + 1; i <= idx+p.prefetch && i < len(pb.Segments); i++ {
		if pb.Segments[i].Ready() {
			p.warm(pb.Segments[i].AudioURL)
		}
	}
}

func (p *Pipeline) loaded(gen, seq uint64, idx int, offset time.Duration, play bool, err error) {
	if gen != p.gen || seq != p.loadSeq.Load() {
		return
	}
	if err != nil {
		if tts.IsCancelled(err) {
			return
		}
		log.Error("loading segment audio failed", "segment", idx, "error", err)
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Segments[idx].MarkError(err.Error())
			s.Playback.Playing = false
			s.Playback.Err = err
			s.Playback.Phase = p.phase(tts.PhasePaused)
		})
		return
	}
	if offset > 0 {
		p.out.Seek(offset)
	}
	if play {
		p.play()
	}
}

// play starts the loaded output. Loop only.
func (p *Pipeline) play() {
	err := p.out.Play()
	switch {
	case errors.Is(err, tts.ErrAutoplayBlocked):
		log.Info("playback blocked until a key press")
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Playing = false
			s.Playback.AwaitingGesture = true
			s.Playback.Phase = p.phase(tts.PhasePaused)
		})
	case err != nil:
		log.Error("playback failed", "error", err)
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Playing = false
			s.Playback.Err = err
			s.Playback.Phase = p.phase(tts.PhasePaused)
		})
	default:
		if !p.reported && !p.loadStarted.IsZero() {
			p.reported = true
			p.metrics.FirstAudio(time.Since(p.loadStarted))
		}
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Playing = true
			s.Playback.AwaitingGesture = false
			s.Playback.Finished = false
			s.Playback.Phase = p.phase(tts.PhasePlaying)
		})
	}
}

// advance runs when the current segment plays to its end.
func (p *Pipeline) advance() {
	pb := p.State()
	if !pb.Playing {
		return
	}
	next := pb.Current + 1

	if next >= len(pb.Segments) {
		log.Debug("block finished", "block", pb.BlockID)
		p.store.Update(func(s *tts.AudioState) {
			s.Playback.Playing = false
			s.Playback.Finished = true
			s.Playback.Phase = p.phase(tts.PhasePaused)
		})
		if pb.Segments[0].Ready() {
			p.startSegment(0, 0, false)
		}
		return
	}

	if pb.Segments[next].Ready() {
		p.startSegment(next, 0, true)
		return
	}
	p.waitFor(next, 0)
}

// waitFor makes a segment without audio current and pauses until it is
// ready. Loop only.
func (p *Pipeline) waitFor(idx int, offset time.Duration) {
	log.Debug("waiting for segment", "segment", idx)
	p.loadSeq.Add(1)
	p.out.Pause()
	p.out.Unload()
	p.resumeOffset = offset
	p.started = true

	pb := p.store.Update(func(s *tts.AudioState) {
		s.Playback.Current = idx
		s.Playback.Playing = false
		s.Playback.Waiting = true
		s.Playback.Phase = p.phase(tts.PhasePaused)
	}).Playback

	seg := pb.Segments[idx]
	if seg.Status == tts.StatusError || (p.streamDone && seg.Status == tts.StatusPending) {
		p.fetchSegment(idx)
	}
}

// fetchSegment synthesizes one segment on demand. Loop only.
func (p *Pipeline) fetchSegment(idx int) {
	pb := p.State()
	if idx < 0 || idx >= len(pb.Segments) {
		return
	}
	seg := pb.Segments[idx]
	if seg.Status == tts.StatusReady || seg.Status == tts.StatusLoading {
		return
	}

	p.store.Update(func(s *tts.AudioState) {
		s.Playback.Segments[idx].Status = tts.StatusLoading
	})
	req := synth.SegmentRequest{
		DocumentID:   p.docID,
		BlockID:      pb.BlockID,
		SegmentIndex: idx,
		VoiceID:      p.store.State().Narrator.Voice,
	}
	gen, ctx := p.gen, p.genCtx
	log.Debug("synthesizing segment on demand", "segment", idx)

	go func() {
		res, err := p.svc.Segment(ctx, req)
		_ = p.loop.Post(func() {
			if gen != p.gen {
				p.metrics.StaleDropped()
				return
			}
			if err != nil {
				if tts.IsCancelled(err) {
					return
				}
				log.Error("on-demand synthesis failed", "segment", idx, "error", err)
				p.metrics.SegmentStatus(tts.StatusError)
				p.store.Update(func(s *tts.AudioState) {
					s.Playback.Segments[idx].MarkError(err.Error())
					if s.Playback.Waiting && s.Playback.Current == idx {
						s.Playback.Waiting = false
						s.Playback.Err = err
					}
				})
				return
			}
			p.segmentReady(idx, res.AudioURL, int(math.Round(res.DurationMs)), res.WordTimestamps)
		})
	}()
}

func (p *Pipeline) warm(url string) {
	if p.warmer == nil || url == "" {
		return
	}
	ctx := p.genCtx
	go func() {
		if err := p.warmer.Warm(ctx, url); err != nil && !tts.IsCancelled(err) {
			log.Debug("prefetch failed", "error", err)
		}
	}()
}

// Play starts or resumes narration. It counts as an explicit user gesture,
// so it also unblocks an output that refused to autoplay. A segment that
// failed is synthesized again.
func (p *Pipeline) Play() error {
	return p.loop.Call(func() {
		p.out.Activate()
		p.hold = false
		pb := p.State()
		if len(pb.Segments) == 0 || pb.Playing {
			return
		}
		if pb.AwaitingGesture {
			p.store.Update(func(s *tts.AudioState) { s.Playback.AwaitingGesture = false })
		}

		seg := pb.Segments[pb.Current]
		switch {
		case !seg.Ready():
			p.waitFor(pb.Current, p.resumeOffset)
			if seg.Status == tts.StatusError {
				p.fetchSegment(pb.Current)
			}
		case p.out.URL() == seg.AudioURL:
			p.started = true
			p.play()
		default:
			offset := p.resumeOffset
			p.resumeOffset = 0
			p.startSegment(pb.Current, offset, true)
		}
	})
}

// Pause stops narration, keeping the position.
func (p *Pipeline) Pause() error {
	return p.loop.Call(p.pause)
}

func (p *Pipeline) pause() {
	pb := p.State()
	if len(pb.Segments) == 0 {
		return
	}
	p.hold = true
	p.out.Pause()
	p.store.Update(func(s *tts.AudioState) {
		s.Playback.Playing = false
		s.Playback.Waiting = false
		s.Playback.Phase = p.phase(tts.PhasePaused)
	})
}

// Toggle pauses when narration is playing or waiting, and plays otherwise.
func (p *Pipeline) Toggle() error {
	pb := p.State()
	if pb.Playing || pb.Waiting {
		return p.Pause()
	}
	return p.Play()
}

// Skip moves playback by seconds across segment boundaries and returns the
// new block position. The target is clamped to [0, total duration].
func (p *Pipeline) Skip(seconds float64) (float64, error) {
	var pos float64
	err := p.loop.Call(func() {
		pb := p.State()
		if len(pb.Segments) == 0 {
			return
		}

		var before int
		for i := 0; i < pb.Current; i++ {
			before += pb.Segments[i].DurationMs
		}
		current := float64(before)/1000 + p.out.Position().Seconds()
		target := math.Max(0, math.Min(current+seconds, pb.TotalDuration))

		idx, offset, reached := locate(pb.Segments, target)
		pos = reached
		active := pb.Playing || pb.Waiting

		if idx == pb.Current && p.out.URL() != "" {
			p.out.Seek(offset)
			return
		}
		if pb.Segments[idx].Ready() {
			p.startSegment(idx, offset, active)
			return
		}
		if active {
			p.waitFor(idx, offset)
			return
		}
		p.park(idx, offset)
	})
	return pos, err
}

// park makes a segment without audio current while paused. Nothing plays
// until the next Play. Loop only.
func (p *Pipeline) park(idx int, offset time.Duration) {
	p.loadSeq.Add(1)
	p.out.Pause()
	p.out.Unload()
	p.resumeOffset = offset
	p.hold = true
	p.store.Update(func(s *tts.AudioState) {
		s.Playback.Current = idx
		s.Playback.Playing = false
		s.Playback.Waiting = false
	})
}

// locate finds the segment holding the block position target (seconds), the
// offset inside it and the position reached. The walk stops at the first
// segment without audio: playback never moves past a segment it has not
// seen ready.
func locate(segments []tts.Segment, target float64) (int, time.Duration, float64) {
	var acc float64
	last := len(segments) - 1
	for i, seg := range segments {
		if !seg.Ready() {
			return i, 0, acc
		}
		d := float64(seg.DurationMs) / 1000
		if target < acc+d || i == last {
			offset := math.Max(0, math.Min(target-acc, d))
			return i, time.Duration(offset * float64(time.Second)), acc + offset
		}
		acc += d
	}
	return 0, 0, 0
}

// SetVoice switches the narrator voice. Synthesis in flight is cancelled,
// every segment loses its audio and playback stops; call Resynthesize to
// narrate with the new voice.
func (p *Pipeline) SetVoice(voice string) error {
	return p.loop.Call(func() {
		st := p.store.State()
		if st.Narrator.Voice == voice {
			return
		}
		log.Info("narrator voice changed", "from", st.Narrator.Voice, "to", voice)
		p.newGeneration()
		p.out.Pause()
		p.out.Unload()

		p.store.Update(func(s *tts.AudioState) {
			s.Narrator.Voice = voice
			for i := range s.Playback.Segments {
				s.Playback.Segments[i].Reset()
			}
			s.Playback.TotalDuration = 0
			s.Playback.Playing = false
			s.Playback.Waiting = false
			s.Playback.Finished = false
			s.Playback.Synthesizing = false
			s.Playback.AwaitingGesture = false
			switch {
			case len(s.Playback.Segments) > 0:
				s.Playback.Phase = p.phase(tts.PhasePaused)
			case s.Playback.Phase == tts.PhaseLoading:
				s.Playback.Phase = p.phase(tts.PhaseIdle)
			}
		})
	})
}

// SetSpeed sets the narrator playback rate, clamped to [0.5, 2].
func (p *Pipeline) SetSpeed(speed float64) error {
	speed = math.Max(0.5, math.Min(2, speed))
	return p.loop.Call(func() {
		p.out.SetRate(speed)
		p.store.Update(func(s *tts.AudioState) { s.Narrator.Speed = speed })
	})
}

// Disable stops narration, clears the block and, when the service was used
// since the last release, asks it to release its resources. The release
// request is best effort and outlives the pipeline; Close waits for it.
func (p *Pipeline) Disable() error {
	return p.loop.Call(func() {
		p.newGeneration()
		p.docID = ""
		p.out.Pause()
		p.out.Unload()
		p.store.Update(func(s *tts.AudioState) {
			s.Narrator.Enabled = false
			s.Playback = tts.PlaybackState{Phase: p.phase(tts.PhaseIdle)}
		})

		if !p.engaged {
			return
		}
		p.engaged = false
		p.unloading.Add(1)
		go func() {
			defer p.unloading.Done()
			ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
			defer cancel()
			if err := p.svc.Unload(ctx); err != nil {
				log.Debug("synthesis unload failed", "error", err)
			}
		}()
	})
}

// Enable turns narration back on. Nothing plays until a block is loaded.
func (p *Pipeline) Enable() error {
	return p.loop.Call(func() {
		p.store.Update(func(s *tts.AudioState) { s.Narrator.Enabled = true })
	})
}

// Sync waits until every task posted so far has run.
func (p *Pipeline) Sync() {
	_ = p.loop.Call(func() {})
}

// Close cancels all requests, releases the output and stops the loop.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.sub.Unsubscribe()
		p.cancel()
		p.loadSeq.Add(1)
		_ = p.loop.Call(func() {
			p.out.Pause()
			p.out.Unload()
		})
		p.loop.Close()
		p.unloading.Wait()
	})
}
