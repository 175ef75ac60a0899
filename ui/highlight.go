package ui

import (
	"slices"
	"sync"

	"github.com/dgnsrekt/narrate/internal/document"
)

// Highlighter tracks the words lit by the synchronizer. It is written from
// the synchronizer's frame loop and read by the view, so every method is
// safe for concurrent use.
type Highlighter struct {
	mu     sync.Mutex
	doc    *document.Document
	block  string
	words  []string
	lit    map[int]bool
	notify func()
}

// NewHighlighter creates a highlighter for doc.
func NewHighlighter(doc *document.Document) *Highlighter {
	return &Highlighter{doc: doc, lit: make(map[int]bool)}
}

// OnChange registers fn to be called after every change. fn runs on the
// caller's goroutine and must not block.
func (h *Highlighter) OnChange(fn func()) {
	h.mu.Lock()
	h.notify = fn
	h.mu.Unlock()
}

// Wrap prepares blockID for highlighting and returns its words.
func (h *Highlighter) Wrap(blockID string) ([]string, bool) {
	h.mu.Lock()
	b, ok := h.doc.Block(blockID)
	if !ok {
		h.mu.Unlock()
		return nil, false
	}
	h.block = blockID
	h.words = b.Words()
	clear(h.lit)
	words := h.words
	h.mu.Unlock()

	h.changed()
	return words, true
}

// Highlight turns the given words on or off.
func (h *Highlighter) Highlight(words []int, on bool) {
	h.mu.Lock()
	for _, i := range words {
		if i < 0 || i >= len(h.words) {
			continue
		}
		if on {
			h.lit[i] = true
		} else {
			delete(h.lit, i)
		}
	}
	h.mu.Unlock()

	h.changed()
}

// Restore clears every highlight and forgets the wrapped block.
func (h *Highlighter) Restore() {
	h.mu.Lock()
	h.block = ""
	h.words = nil
	clear(h.lit)
	h.mu.Unlock()

	h.changed()
}

// Snapshot returns the wrapped block and its lit word indices in order.
func (h *Highlighter) Snapshot() (string, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lit := make([]int, 0, len(h.lit))
	for i := range h.lit {
		lit = append(lit, i)
	}
	slices.Sort(lit)
	return h.block, lit
}

func (h *Highlighter) changed() {
	h.mu.Lock()
	fn := h.notify
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}
