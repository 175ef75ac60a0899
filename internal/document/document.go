// Package document turns markdown into the blocks a reader narrates. A
// document read from a file has a stable identity derived from its path;
// one read from stdin has none and cannot be narrated.
package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dgnsrekt/narrate/tts/align"
)

// Namespace seeds document identities.
var Namespace = uuid.MustParse("6f1b8a52-3f0e-5c1e-9a57-2f4a8f3b9d10")

// Kind is the type of a block.
type Kind int

const (
	KindParagraph Kind = iota
	KindHeading
	KindListItem
	KindQuote
	KindCode
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindParagraph:
		return "paragraph"
	case KindHeading:
		return "heading"
	case KindListItem:
		return "item"
	case KindQuote:
		return "quote"
	case KindCode:
		return "code"
	default:
		return "unknown"
	}
}

// Block is one displayable unit of a document.
type Block struct {
	ID    string
	Kind  Kind
	Level int // heading level or list depth
	Text  string
}

// Speakable reports whether the block is narrated. Code is shown but not
// read aloud.
func (b Block) Speakable() bool {
	return b.Kind != KindCode && strings.TrimSpace(b.Text) != ""
}

// Words returns the block's original words, the indices highlighting
// refers to.
func (b Block) Words() []string {
	return align.Words(b.Text)
}

// Document is a parsed markdown document.
type Document struct {
	ID     string // empty when the document has no persisted identity
	Path   string
	Title  string
	Blocks []Block
}

// Persisted reports whether the document can be narrated.
func (d *Document) Persisted() bool {
	return d.ID != ""
}

// Block returns the block with id.
func (d *Document) Block(id string) (Block, bool) {
	for _, b := range d.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// Index returns the position of the block with id, or -1.
func (d *Document) Index(id string) int {
	for i, b := range d.Blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Load reads and parses the markdown file at path.
func Load(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	doc := Parse(src, uuid.NewSHA1(Namespace, []byte(abs)))
	doc.Path = abs
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	return doc, nil
}

// Read parses markdown from r. The result has no identity.
func Read(r io.Reader) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return Parse(src, uuid.Nil), nil
}

// Parse splits markdown into blocks. Block ids derive from id, the block
// position and its text, so they are stable across reloads of unchanged
// content. A nil id yields a document without identity whose block ids are
// still unique.
func Parse(src []byte, id uuid.UUID) *Document {
	doc := &Document{}
	if id != uuid.Nil {
		doc.ID = id.String()
	}

	root := goldmark.New().Parser().Parse(text.NewReader(src))
	w := walker{src: src}
	w.blocks(root, 0)

	ns := id
	if ns == uuid.Nil {
		ns = Namespace
	}
	for i := range w.out {
		b := &w.out[i]
		b.ID = uuid.NewSHA1(ns, []byte(fmt.Sprintf("%d\x00%s", i, b.Text))).String()
		if doc.Title == "" && b.Kind == KindHeading {
			doc.Title = b.Text
		}
	}
	doc.Blocks = w.out
	return doc
}

type walker struct {
	src []byte
	out []Block
}

func (w *walker) add(kind Kind, level int, s string) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return
	}
	w.out = append(w.out, Block{Kind: kind, Level: level, Text: s})
}

// blocks emits one block per paragraph, heading, list item, quote and code
// block. depth is the list nesting.
func (w *walker) blocks(n ast.Node, depth int) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Heading:
			w.add(KindHeading, c.Level, w.inline(c))
		case *ast.Paragraph, *ast.TextBlock:
			w.add(KindParagraph, depth, w.inline(c))
		case *ast.List:
			w.blocks(c, depth+1)
		case *ast.ListItem:
			w.listItem(c, depth)
		case *ast.Blockquote:
			var buf strings.Builder
			for p := c.FirstChild(); p != nil; p = p.NextSibling() {
				buf.WriteString(w.inline(p))
				buf.WriteByte(' ')
			}
			w.add(KindQuote, depth, buf.String())
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			w.out = append(w.out, Block{Kind: KindCode, Level: depth, Text: w.lines(c)})
		case *ast.HTMLBlock, *ast.ThematicBreak:
			// not narrated
		default:
			w.blocks(c, depth)
		}
	}
}

// listItem emits the item's own text as one block and recurses into
// nested lists.
func (w *walker) listItem(item *ast.ListItem, depth int) {
	var buf strings.Builder
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.List:
			w.add(KindListItem, depth, buf.String())
			buf.Reset()
			w.blocks(c, depth+1)
		default:
			buf.WriteString(w.inline(c))
			buf.WriteByte(' ')
		}
	}
	w.add(KindListItem, depth, buf.String())
}

// inline collects the plain text of n. Link targets and markup are
// dropped; image alt text is kept.
func (w *walker) inline(n ast.Node) string {
	var buf strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.Text:
				buf.Write(c.Segment.Value(w.src))
				if c.SoftLineBreak() || c.HardLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(c.Value)
			case *ast.AutoLink:
				buf.Write(c.Label(w.src))
			case *ast.RawHTML:
				// dropped
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return buf.String()
}

func (w *walker) lines(n ast.Node) string {
	var buf bytes.Buffer
	l := n.Lines()
	for i := 0; i < l.Len(); i++ {
		seg := l.At(i)
		buf.Write(seg.Value(w.src))
	}
	return strings.TrimRight(buf.String(), "\n")
}
