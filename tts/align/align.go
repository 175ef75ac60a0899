// Package align maps spoken narration words back onto the original document
// words so that the reading position can be highlighted while audio plays.
package align

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Default thresholds. Both were picked empirically and are exposed through
// Options so they can be tuned per deployment.
const (
	// DefaultNearbyThreshold is the largest distance from the cursor at which
	// a single matching word is accepted on its own.
	DefaultNearbyThreshold = 3

	// DefaultSeqLength is the number of consecutive matches required to
	// accept a match further away than DefaultNearbyThreshold.
	DefaultSeqLength = 3
)

// Options tune the alignment heuristic.
type Options struct {
	NearbyThreshold int
	SeqLength       int
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{
		NearbyThreshold: DefaultNearbyThreshold,
		SeqLength:       DefaultSeqLength,
	}
}

// GapRange is a span of spoken words and a span of original words that
// correspond loosely but could not be matched word for word. All bounds are
// inclusive and the range is always bracketed by two mapping entries.
type GapRange struct {
	SpokenStart int `json:"spokenStart"`
	SpokenEnd   int `json:"spokenEnd"`
	OrigStart   int `json:"origStart"`
	OrigEnd     int `json:"origEnd"`
}

// Range is an inclusive range of original word indices.
type Range struct {
	Start int
	End   int
}

// Mapping is the combined spoken to original correspondence of one block.
// It is immutable once built.
type Mapping struct {
	// Entries maps a combined spoken index to an original index.
	Entries map[int]int
	// SegmentOffsets holds the combined index of the first spoken word of
	// each segment.
	SegmentOffsets []int
	// Gaps are sorted by SpokenStart and never overlap.
	Gaps []GapRange

	spokenLen int
}

// Align builds the mapping of the spoken words of every segment, in segment
// order, onto the original words. Indices always refer to the input slices;
// normalization is used for comparison only.
func Align(segments [][]string, original []string, opts Options) *Mapping {
	if opts.NearbyThreshold < 0 {
		opts.NearbyThreshold = DefaultNearbyThreshold
	}
	if opts.SeqLength < 1 {
		opts.SeqLength = DefaultSeqLength
	}

	m := &Mapping{
		Entries:        make(map[int]int),
		SegmentOffsets: make([]int, len(segments)),
	}

	var spoken []string
	for i, seg := range segments {
		m.SegmentOffsets[i] = len(spoken)
		for _, w := range seg {
			spoken = append(spoken, Normalize(w))
		}
	}
	m.spokenLen = len(spoken)

	orig := make([]string, len(original))
	for i, w := range original {
		orig[i] = Normalize(w)
	}

	a := aligner{spoken: spoken, orig: orig, used: make([]bool, len(orig)), opts: opts}
	for i, w := range spoken {
		if w == "" {
			continue
		}
		if j, ok := a.match(i); ok {
			a.used[j] = true
			a.cursor = j + 1
			m.Entries[i] = j
		}
	}

	m.Gaps = findGaps(m.Entries)
	return m
}

type aligner struct {
	spoken []string
	orig   []string
	used   []bool
	cursor int
	opts   Options
}

// match scans forward from the cursor for an unused original word equal to
// spoken[i].
func (a *aligner) match(i int) (int, bool) {
	w := a.spoken[i]
	for j := a.cursor; j < len(a.orig); j++ {
		if a.used[j] || a.orig[j] != w {
			continue
		}
		if j-a.cursor <= a.opts.NearbyThreshold {
			return j, true
		}
		if a.sequenceAt(i, j) {
			return j, true
		}
	}
	return 0, false
}

// sequenceAt reports whether SeqLength consecutive spoken words starting at
// i equal unused original words starting at j.
func (a *aligner) sequenceAt(i, j int) bool {
	n := a.opts.SeqLength
	if i+n > len(a.spoken) || j+n > len(a.orig) {
		return false
	}
	for k := 0; k < n; k++ {
		s := a.spoken[i+k]
		if s == "" || a.used[j+k] || a.orig[j+k] != s {
			return false
		}
	}
	return true
}

// findGaps emits a gap between every pair of consecutive entries that have
// unmapped words on both the spoken and the original side.
func findGaps(entries map[int]int) []GapRange {
	keys := make([]int, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var gaps []GapRange
	for n := 1; n < len(keys); n++ {
		s1, s2 := keys[n-1], keys[n]
		o1, o2 := entries[s1], entries[s2]
		if s2-s1 < 2 || o2-o1 < 2 {
			continue
		}
		gaps = append(gaps, GapRange{
			SpokenStart: s1 + 1,
			SpokenEnd:   s2 - 1,
			OrigStart:   o1 + 1,
			OrigEnd:     o2 - 1,
		})
	}
	return gaps
}

// Len returns the number of combined spoken words.
func (m *Mapping) Len() int {
	return m.spokenLen
}

// Combined converts a word index within a segment to a combined index.
func (m *Mapping) Combined(segment, word int) (int, bool) {
	if segment < 0 || segment >= len(m.SegmentOffsets) || word < 0 {
		return 0, false
	}
	end := m.spokenLen
	if segment+1 < len(m.SegmentOffsets) {
		end = m.SegmentOffsets[segment+1]
	}
	idx := m.SegmentOffsets[segment] + word
	if idx >= end {
		return 0, false
	}
	return idx, true
}

// Resolve returns the original words to highlight for a combined spoken
// index: the mapped word itself, the original span of a containing gap, or
// nothing.
func (m *Mapping) Resolve(spoken int) (Range, bool) {
	if m == nil {
		return Range{}, false
	}
	if o, ok := m.Entries[spoken]; ok {
		return Range{Start: o, End: o}, true
	}
	i := sort.Search(len(m.Gaps), func(i int) bool {
		return m.Gaps[i].SpokenEnd >= spoken
	})
	if i < len(m.Gaps) && m.Gaps[i].SpokenStart <= spoken {
		g := m.Gaps[i]
		return Range{Start: g.OrigStart, End: g.OrigEnd}, true
	}
	return Range{}, false
}

// Normalize lowercases a word and strips everything except letters and
// apostrophes.
func Normalize(word string) string {
	word = norm.NFC.String(word)
	var b strings.Builder
	b.Grow(len(word))
	for _, r := range word {
		switch {
		case r == '\'' || r == '’' || r == '‘':
			b.WriteRune('\'')
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Words splits text into whitespace separated words. The highlighter wraps
// the same words so indices agree on both sides.
func Words(text string) []string {
	return strings.Fields(text)
}

// SpokenWords splits synthesized segment text into the words a timestamp
// list would carry, dropping tokens that contain no letters.
func SpokenWords(text string) []string {
	fields := strings.Fields(text)
	out := fields[:0:0]
	for _, f := range fields {
		if Normalize(f) != "" {
			out = append(out, f)
		}
	}
	return out
}
