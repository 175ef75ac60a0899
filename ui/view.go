package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/dgnsrekt/narrate/internal/document"
	"github.com/dgnsrekt/narrate/tts"
)

const (
	statusBarHeight = 1
	gutterWidth     = 2
)

var (
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}
	fuchsia   = lipgloss.Color("#EE6FF8")
	cream     = lipgloss.AdaptiveColor{Light: "#FFFDF5", Dark: "#FFFDF5"}
	gray      = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}
	red       = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}

	statusBarNoteFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	statusBarBg     = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}

	logoStyle = lipgloss.NewStyle().
			Foreground(cream).
			Background(fuchsia).
			Bold(true).
			Render

	statusBarNoteStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(statusBarBg).
				Render

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen).
				Render

	statusBarErrorStyle = lipgloss.NewStyle().
				Foreground(cream).
				Background(red).
				Render

	statusBarPosStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#949494", Dark: "#5A5A5A"}).
				Background(statusBarBg).
				Render

	cursorStyle  = lipgloss.NewStyle().Foreground(fuchsia).Render
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(fuchsia).Render
	codeStyle    = lipgloss.NewStyle().Foreground(gray).Render
	quoteStyle   = lipgloss.NewStyle().Foreground(gray).Render
	mutedStyle   = lipgloss.NewStyle().Foreground(gray).Render
	spinnerStyle = lipgloss.NewStyle().Foreground(fuchsia)

	// wordStyle marks the words being spoken.
	wordStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("226")).
			Foreground(lipgloss.Color("0")).
			Render
)

func (m model) View() string {
	if !m.ready {
		return "\n  " + m.spinner.View() + " Loading…"
	}
	var b strings.Builder
	fmt.Fprint(&b, m.viewport.View()+"\n")
	m.statusBarView(&b)
	fmt.Fprint(&b, "\n"+indent.String(m.help.View(m.keys), gutterWidth))
	return b.String()
}

func (m model) contentHeight() int {
	helpHeight := strings.Count(m.help.View(m.keys), "\n") + 1
	return max(0, m.height-statusBarHeight-helpHeight)
}

func (m model) textWidth() int {
	w := m.width - gutterWidth*2
	if m.cfg.MaxWidth > 0 {
		w = min(w, int(m.cfg.MaxWidth)) //nolint:gosec
	}
	return max(10, w)
}

// refresh re-renders every block and scrolls the cursor into view.
func (m *model) refresh() {
	if !m.ready {
		return
	}

	hlBlock, lit := "", []int(nil)
	if m.hl != nil {
		hlBlock, lit = m.hl.Snapshot()
	}

	var content strings.Builder
	m.offsets = m.offsets[:0]
	line := 0
	for i, blk := range m.doc.Blocks {
		var litWords []int
		if blk.ID == hlBlock {
			litWords = lit
		}
		s := m.renderBlock(blk, litWords, i == m.cursor)
		m.offsets = append(m.offsets, line)
		content.WriteString(s)
		content.WriteString("\n\n")
		line += strings.Count(s, "\n") + 2
	}
	m.viewport.SetContent(content.String())

	if m.cursor < len(m.offsets) {
		top := m.offsets[m.cursor]
		bottom := line
		if m.cursor+1 < len(m.offsets) {
			bottom = m.offsets[m.cursor+1] - 1
		}
		switch {
		case top < m.viewport.YOffset:
			m.viewport.SetYOffset(top)
		case bottom > m.viewport.YOffset+m.viewport.Height:
			m.viewport.SetYOffset(max(top, bottom-m.viewport.Height))
		}
	}
}

// renderBlock renders one block. lit holds the word indices to highlight.
func (m model) renderBlock(b document.Block, lit []int, selected bool) string {
	width := m.textWidth()

	var s string
	switch b.Kind {
	case document.KindCode:
		lines := strings.Split(b.Text, "\n")
		for i, l := range lines {
			lines[i] = codeStyle(truncate.StringWithTail(l, uint(width), ellipsis)) //nolint:gosec
		}
		s = strings.Join(lines, "\n")
	default:
		s = wordwrap.String(highlightWords(b.Words(), lit), width-listIndent(b))
		switch b.Kind {
		case document.KindHeading:
			s = headingStyle(s)
		case document.KindListItem:
			s = bullet(s, b.Level)
		case document.KindQuote:
			s = quote(s)
		}
	}

	gutter := strings.Repeat(" ", gutterWidth)
	mark := gutter
	if selected {
		mark = cursorStyle("▌ ")
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		if i == 0 {
			lines[i] = mark + lines[i]
		} else if selected {
			lines[i] = cursorStyle("▌ ") + lines[i]
		} else {
			lines[i] = gutter + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

// highlightWords joins words, styling the lit ones. lit is sorted.
func highlightWords(words []string, lit []int) string {
	var b strings.Builder
	j := 0
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		for j < len(lit) && lit[j] < i {
			j++
		}
		if j < len(lit) && lit[j] == i {
			b.WriteString(wordStyle(w))
			continue
		}
		b.WriteString(w)
	}
	return b.String()
}

func listIndent(b document.Block) int {
	if b.Kind != document.KindListItem {
		return 0
	}
	return b.Level * 2
}

func bullet(s string, level int) string {
	pad := max(0, level-1) * 2
	lines := strings.Split(s, "\n")
	for i := range lines {
		if i == 0 {
			lines[i] = "• " + lines[i]
		} else {
			lines[i] = "  " + lines[i]
		}
	}
	return indent.String(strings.Join(lines, "\n"), uint(pad)) //nolint:gosec
}

func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = quoteStyle("│ ") + lines[i]
	}
	return strings.Join(lines, "\n")
}

func (m model) statusBarView(b *strings.Builder) {
	logo := logoStyle(" narrate ")
	pos := statusBarPosStyle(fmt.Sprintf(" %3.f%% ", math.Max(0, math.Min(1, m.viewport.ScrollPercent()))*100))

	var note string
	style := statusBarNoteStyle
	switch {
	case m.statusMessage != "" && m.statusIsError:
		note, style = m.statusMessage, statusBarErrorStyle
	case m.statusMessage != "":
		note, style = m.statusMessage, statusBarMessageStyle
	default:
		note = m.playbackNote()
	}

	avail := max(0, m.width-ansi.PrintableRuneWidth(logo)-ansi.PrintableRuneWidth(pos))
	note = truncate.StringWithTail(" "+note+" ", uint(avail), ellipsis) //nolint:gosec
	padding := strings.Repeat(" ", max(0, avail-ansi.PrintableRuneWidth(note)))

	fmt.Fprintf(b, "%s%s%s%s", logo, style(note), style(padding), pos)
}

// playbackNote summarises narration, music and ambience for the status bar.
func (m model) playbackNote() string {
	st := m.state
	pb := st.Playback
	parts := []string{m.documentNote()}

	switch {
	case pb.BlockID == "":
	case pb.AwaitingGesture:
		parts = append(parts, "press space to start audio")
	case pb.Phase == tts.PhaseLoading || (pb.Synthesizing && !pb.Playing) || pb.Waiting:
		parts = append(parts, m.spinner.View()+" preparing")
	case pb.Playing:
		parts = append(parts, "▶ "+segmentNote(pb))
	default:
		parts = append(parts, "⏸ "+segmentNote(pb))
	}

	if !st.Narrator.Enabled {
		parts = append(parts, "narration off")
	} else if v, ok := m.player.Catalog().Voice(st.Narrator.Voice); ok {
		parts = append(parts, v.Name)
	}
	parts = append(parts, fmt.Sprintf("vol %d%%", int(math.Round(st.MasterVolume*100))))
	if st.Narrator.Speed != 0 && st.Narrator.Speed != 1 {
		parts = append(parts, fmt.Sprintf("%.2gx", st.Narrator.Speed))
	}
	if st.Music.Enabled {
		name := st.Music.CurrentTrack()
		if t, ok := m.player.Catalog().Track(name); ok {
			name = t.Name
		}
		parts = append(parts, "♪ "+name)
	}
	if st.Ambience.Enabled {
		var on []string
		for _, snd := range m.player.Catalog().Sounds {
			if st.Ambience.Sounds[snd.ID].Enabled {
				on = append(on, snd.Name)
			}
		}
		if len(on) > 0 {
			parts = append(parts, "≈ "+strings.Join(on, ", "))
		}
	}
	return strings.Join(parts, " · ")
}

func (m model) documentNote() string {
	words := 0
	for _, b := range m.doc.Blocks {
		if b.Speakable() {
			words += len(b.Words())
		}
	}
	title := m.doc.Title
	if title == "" {
		title = "untitled"
	}
	return fmt.Sprintf("%s (%s words)", title, humanize.Comma(int64(words)))
}

func segmentNote(pb tts.PlaybackState) string {
	if len(pb.Segments) == 0 {
		return mutedStyle("…")
	}
	return fmt.Sprintf("%d/%d %s", pb.Current+1, len(pb.Segments), formatSeconds(pb.TotalDuration))
}

func formatSeconds(sec float64) string {
	total := int(math.Round(sec))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
