package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

const sample = `# Getting Started

This is the *first* paragraph
with a [link](https://example.com) inside.

- one item
- two items
  - nested item

> Quoted text
> continues here.

` + "```go\nfmt.Println(\"hi\")\n```" + `

Final paragraph with ` + "`code`" + ` and ![a cat](cat.png).
`

func TestParseBlocks(t *testing.T) {
	doc := Parse([]byte(sample), uuid.NewSHA1(Namespace, []byte("sample")))

	want := []struct {
		kind Kind
		text string
	}{
		{KindHeading, "Getting Started"},
		{KindParagraph, "This is the first paragraph with a link inside."},
		{KindListItem, "one item"},
		{KindListItem, "two items"},
		{KindListItem, "nested item"},
		{KindQuote, "Quoted text continues here."},
		{KindCode, `fmt.Println("hi")`},
		{KindParagraph, "Final paragraph with code and a cat."},
	}
	if len(doc.Blocks) != len(want) {
		for _, b := range doc.Blocks {
			t.Logf("%s %q", b.Kind, b.Text)
		}
		t.Fatalf("got %d blocks, want %d", len(doc.Blocks), len(want))
	}
	for i, w := range want {
		b := doc.Blocks[i]
		if b.Kind != w.kind || b.Text != w.text {
			t.Errorf("block %d = %s %q, want %s %q", i, b.Kind, b.Text, w.kind, w.text)
		}
	}

	if doc.Title != "Getting Started" {
		t.Errorf("title = %q", doc.Title)
	}
	if doc.Blocks[4].Level <= doc.Blocks[3].Level {
		t.Error("nested item should be deeper than its parent")
	}
	if doc.Blocks[6].Speakable() {
		t.Error("code blocks are not narrated")
	}
	if !doc.Blocks[1].Speakable() {
		t.Error("paragraphs are narrated")
	}
}

func TestBlockIDsAreStable(t *testing.T) {
	id := uuid.NewSHA1(Namespace, []byte("doc"))
	a := Parse([]byte(sample), id)
	b := Parse([]byte(sample), id)

	seen := map[string]bool{}
	for i := range a.Blocks {
		if a.Blocks[i].ID != b.Blocks[i].ID {
			t.Errorf("block %d id changed between parses", i)
		}
		if seen[a.Blocks[i].ID] {
			t.Errorf("duplicate block id %s", a.Blocks[i].ID)
		}
		seen[a.Blocks[i].ID] = true
	}

	other := Parse([]byte(sample), uuid.NewSHA1(Namespace, []byte("other")))
	if other.Blocks[0].ID == a.Blocks[0].ID {
		t.Error("block ids should differ between documents")
	}

	repeated := Parse([]byte("same\n\nsame\n"), id)
	if repeated.Blocks[0].ID == repeated.Blocks[1].ID {
		t.Error("identical paragraphs need distinct ids")
	}
}

func TestLoadAssignsIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("Just text.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Persisted() {
		t.Fatal("a file backed document should have an identity")
	}
	if doc.Title != "notes" {
		t.Errorf("title = %q, want the file name", doc.Title)
	}
	again, _ := Load(path)
	if again.ID != doc.ID {
		t.Error("identity should be stable for a path")
	}

	if _, err := Load(filepath.Join(dir, "missing.md")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestReadHasNoIdentity(t *testing.T) {
	doc, err := Read(strings.NewReader("# Title\n\nBody.\n"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Persisted() {
		t.Error("stdin documents have no identity")
	}
	if len(doc.Blocks) != 2 || doc.Blocks[0].ID == "" {
		t.Errorf("blocks = %+v", doc.Blocks)
	}
}

func TestLookup(t *testing.T) {
	doc := Parse([]byte(sample), uuid.NewSHA1(Namespace, []byte("x")))
	id := doc.Blocks[2].ID

	if b, ok := doc.Block(id); !ok || b.Text != "one item" {
		t.Errorf("Block(%s) = %+v, %v", id, b, ok)
	}
	if i := doc.Index(id); i != 2 {
		t.Errorf("Index = %d, want 2", i)
	}
	if doc.Index("nope") != -1 {
		t.Error("unknown id should give -1")
	}
	if words := doc.Blocks[1].Words(); len(words) != 9 {
		t.Errorf("words = %v", words)
	}
}
