// Package sync keeps the highlighted words of a block in step with the
// narrator's audio position.
package sync

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/align"
	"github.com/dgnsrekt/narrate/tts/store"
)

// Highlighter is the view side of highlighting. Word indices refer to the
// original words returned by Wrap.
type Highlighter interface {
	// Wrap prepares a block for word level highlighting and returns its
	// original words. It reports false for an unknown block.
	Wrap(blockID string) ([]string, bool)
	// Highlight turns highlighting on or off for the given words.
	Highlight(words []int, on bool)
	// Restore removes all highlighting and releases per-word state.
	Restore()
}

// PositionSource reports the playback position within the current segment.
type PositionSource interface {
	Position() time.Duration
}

// Config tunes the synchronizer.
type Config struct {
	FrameInterval time.Duration
	Bias          time.Duration
	Align         align.Options
}

// DefaultConfig returns a ~60 fps loop with a 50ms lead.
func DefaultConfig() Config {
	return Config{
		FrameInterval: 16 * time.Millisecond,
		Bias:          50 * time.Millisecond,
		Align:         align.DefaultOptions(),
	}
}

// Synchronizer highlights the original words of the block being narrated.
// It follows the store: a block change wraps the new block, playback starts
// and stops the frame loop, and finishing the block or disabling narration
// restores the view.
type Synchronizer struct {
	store  *store.Store
	source PositionSource
	hl     Highlighter
	config Config

	mu        sync.Mutex
	wrapped   string
	original  []string
	mapping   *align.Mapping
	signature string
	active    []int
	run       chan struct{} // closed to stop the current frame loop

	sub       *store.Subscription
	closeOnce sync.Once
}

// New creates a synchronizer and starts following st.
func New(st *store.Store, source PositionSource, hl Highlighter, config Config) *Synchronizer {
	if config.FrameInterval <= 0 {
		config.FrameInterval = DefaultConfig().FrameInterval
	}
	s := &Synchronizer{
		store:  st,
		source: source,
		hl:     hl,
		config: config,
	}
	s.sub = st.Subscribe(s.follow)
	s.follow(st.State())
	return s
}

// follow reacts to a store change. It runs on the writer's goroutine and
// must stay cheap.
func (s *Synchronizer) follow(st tts.AudioState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pb := st.Playback
	if !st.Narrator.Enabled || pb.BlockID == "" {
		s.stopLocked()
		s.restoreLocked()
		return
	}

	if pb.Finished {
		s.stopLocked()
		s.restoreLocked()
		return
	}

	if pb.BlockID != s.wrapped {
		s.restoreLocked()
		s.wrapLocked(pb.BlockID)
	}

	if pb.Playing {
		s.startLocked()
	} else {
		// Keep the highlight where it is while paused.
		s.stopLocked()
	}
}

// wrapLocked prepares a block. Wrapping the block that is already wrapped
// is skipped so indices are never duplicated.
func (s *Synchronizer) wrapLocked(blockID string) {
	words, ok := s.hl.Wrap(blockID)
	s.wrapped = blockID
	if !ok {
		log.Debug("block cannot be highlighted", "block", blockID)
		return
	}
	s.original = words
}

func (s *Synchronizer) restoreLocked() {
	if s.wrapped == "" {
		return
	}
	s.hl.Restore()
	s.wrapped = ""
	s.original = nil
	s.mapping = nil
	s.signature = ""
	s.active = nil
}

func (s *Synchronizer) startLocked() {
	if s.run != nil {
		return
	}
	run := make(chan struct{})
	s.run = run
	go s.loop(run)
}

// stopLocked cancels the frame loop without waiting for it; a frame that
// is already blocked on s.mu sees the cancellation and does nothing.
func (s *Synchronizer) stopLocked() {
	if s.run == nil {
		return
	}
	close(s.run)
	s.run = nil
}

func (s *Synchronizer) loop(run chan struct{}) {
	ticker := time.NewTicker(s.config.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-run:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.run == run {
				s.frameLocked()
			}
			s.mu.Unlock()
		}
	}
}

// Running reports whether the frame loop is active.
func (s *Synchronizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Frame runs one highlight update.
func (s *Synchronizer) Frame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameLocked()
}

func (s *Synchronizer) frameLocked() {
	st := s.store.State()
	pb := st.Playback
	if !st.Narrator.Enabled || pb.BlockID != s.wrapped || s.original == nil {
		return
	}
	seg, ok := pb.CurrentSegment()
	if !ok || len(seg.WordTimestamps) == 0 {
		return
	}

	s.ensureMapping(pb.Segments)

	pos := float64(s.source.Position()) / float64(time.Millisecond)
	bias := float64(s.config.Bias) / float64(time.Millisecond)
	word := ActiveWord(seg.WordTimestamps, pos, bias)
	if word < 0 {
		s.apply(nil)
		return
	}

	combined, ok := s.mapping.Combined(pb.Current, word)
	if !ok {
		s.apply(nil)
		return
	}
	r, ok := s.mapping.Resolve(combined)
	if !ok {
		s.apply(nil)
		return
	}
	words := make([]int, 0, r.End-r.Start+1)
	for i := r.Start; i <= r.End; i++ {
		words = append(words, i)
	}
	s.apply(words)
}

// ensureMapping rebuilds the alignment when the spoken words of any segment
// changed. Segments with timestamps contribute the timestamp words so that
// a timestamp index is also the spoken word index.
func (s *Synchronizer) ensureMapping(segments []tts.Segment) {
	sig := signature(segments)
	if s.mapping != nil && sig == s.signature {
		return
	}

	spoken := make([][]string, len(segments))
	for i, seg := range segments {
		if len(seg.WordTimestamps) == 0 {
			spoken[i] = align.SpokenWords(seg.Text)
			continue
		}
		words := make([]string, len(seg.WordTimestamps))
		for j, w := range seg.WordTimestamps {
			words[j] = w.Word
		}
		spoken[i] = words
	}

	s.mapping = align.Align(spoken, s.original, s.config.Align)
	s.signature = sig
	log.Debug("built word alignment", "block", s.wrapped, "spoken", s.mapping.Len(),
		"matched", len(s.mapping.Entries), "gaps", len(s.mapping.Gaps))
}

func signature(segments []tts.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(strconv.Itoa(len(seg.WordTimestamps)))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(seg.Text)))
		b.WriteByte(',')
	}
	return b.String()
}

// apply changes highlighting only for the words that differ from the
// previous frame.
func (s *Synchronizer) apply(words []int) {
	if slices.Equal(words, s.active) {
		return
	}
	var off, on []int
	for _, w := range s.active {
		if !slices.Contains(words, w) {
			off = append(off, w)
		}
	}
	for _, w := range words {
		if !slices.Contains(s.active, w) {
			on = append(on, w)
		}
	}
	if len(off) > 0 {
		s.hl.Highlight(off, false)
	}
	if len(on) > 0 {
		s.hl.Highlight(on, true)
	}
	s.active = words
}

// ActiveWord returns the index of the last word whose start, moved earlier
// by biasMs, is at or before posMs, or -1 before the first word. Between
// words the previous word stays active.
func ActiveWord(words []tts.WordTimestamp, posMs, biasMs float64) int {
	return sort.Search(len(words), func(i int) bool {
		return words[i].StartMs-biasMs > posMs
	}) - 1
}

// Close stops following the store and restores the view.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.sub.Unsubscribe()
		s.mu.Lock()
		s.stopLocked()
		s.restoreLocked()
		s.mu.Unlock()
	})
}
