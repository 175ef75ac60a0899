// Package ui provides the terminal reader: a block list with live word
// highlighting and the narration, music and ambience controls.
package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/document"
	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/store"
)

const (
	statusMessageTimeout = time.Second * 3
	ellipsis             = "…"
	volumeStep           = 0.1
	speedStep            = 0.25
)

// Player is the audio engine the reader drives.
type Player interface {
	Store() *store.Store
	State() tts.AudioState
	Catalog() *tts.Catalog
	LoadBlock(ctx context.Context, docID, blockID, text string) error
	TogglePlayback() error
	Skip(seconds float64) (float64, error)
	SetSpeed(speed float64) error
	NextVoice() (tts.Voice, error)
	Resynthesize() error
	ToggleNarration() (bool, error)
	SetMasterVolume(v float64)
	ToggleMusic() bool
	NextTrack()
	SetAmbienceEnabled(on bool)
	ToggleSound(id string) (bool, error)
	ApplyPreset(id string) error
}

// NewProgram returns a new Tea program reading doc. State changes and
// highlight updates are forwarded to the program until it exits.
func NewProgram(cfg Config, doc *document.Document, player Player, hl *Highlighter) *tea.Program {
	log.Debug("starting reader", "document", doc.Title, "blocks", len(doc.Blocks))

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	p := tea.NewProgram(newModel(cfg, doc, player, hl), opts...)
	forward(p, player, hl)
	return p
}

// forward relays state and highlight changes to p. Notifications are
// coalesced and sent from a separate goroutine: store listeners run inside
// Update calls the program itself may be making.
func forward(p *tea.Program, player Player, hl *Highlighter) {
	states := make(chan struct{}, 1)
	highlights := make(chan struct{}, 1)
	poke := func(ch chan struct{}) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	sub := player.Store().Subscribe(func(tts.AudioState) { poke(states) })
	if hl != nil {
		hl.OnChange(func() { poke(highlights) })
	}

	done := make(chan struct{})
	go func() {
		p.Wait()
		sub.Unsubscribe()
		close(done)
	}()
	go func() {
		for {
			select {
			case <-states:
				p.Send(stateMsg(player.State()))
			case <-highlights:
				p.Send(highlightMsg{})
			case <-done:
				return
			}
		}
	}()
}

type (
	stateMsg     tts.AudioState
	highlightMsg struct{}
	loadedMsg    struct {
		blockID string
		err     error
	}
	statusMsg struct {
		text    string
		isError bool
	}
	statusMessageTimeoutMsg struct{}
	errMsg                  struct{ err error }
)

func (e errMsg) Error() string { return e.err.Error() }

type model struct {
	cfg    Config
	doc    *document.Document
	player Player
	hl     *Highlighter
	keys   keyMap

	viewport viewport.Model
	help     help.Model
	spinner  spinner.Model
	width    int
	height   int
	ready    bool

	cursor int
	state  tts.AudioState
	preset int

	statusMessage      string
	statusIsError      bool
	statusMessageTimer *time.Timer

	// line offset of each rendered block, for scrolling the cursor into view
	offsets []int
}

func newModel(cfg Config, doc *document.Document, player Player, hl *Highlighter) model {
	vp := viewport.New(0, 0)
	vp.HighPerformanceRendering = cfg.HighPerformancePager //nolint:staticcheck

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle

	return model{
		cfg:      cfg,
		doc:      doc,
		player:   player,
		hl:       hl,
		keys:     newKeyMap(),
		viewport: vp,
		help:     help.New(),
		spinner:  sp,
		cursor:   firstSpeakable(doc),
		state:    player.State(),
		preset:   -1,
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = m.contentHeight()
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case stateMsg:
		prev := m.state.Playback
		m.state = tts.AudioState(msg)
		if id := m.state.Playback.BlockID; m.cfg.FollowNarration && id != "" && id != prev.BlockID {
			if i := m.doc.Index(id); i >= 0 {
				m.cursor = i
			}
		}
		if err := m.state.Playback.Err; err != nil && !errors.Is(err, tts.ErrCancelled) && !sameError(err, prev.Err) {
			cmds = append(cmds, m.showStatusMessage(err.Error(), true))
		}
		m.refresh()

	case highlightMsg:
		m.refresh()

	case loadedMsg:
		if msg.err != nil && !tts.IsCancelled(msg.err) {
			log.Error("narration failed", "block", msg.blockID, "error", msg.err)
			cmds = append(cmds, m.showStatusMessage(loadErrorText(msg.err), true))
		}

	case statusMsg:
		cmds = append(cmds, m.showStatusMessage(msg.text, msg.isError))

	case statusMessageTimeoutMsg:
		m.statusMessage = ""
		m.statusIsError = false

	case errMsg:
		cmds = append(cmds, m.showStatusMessage(msg.Error(), true))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.viewport.Height = m.contentHeight()

	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
	case key.Matches(msg, m.keys.Bottom):
		m.cursor = max(0, len(m.doc.Blocks)-1)

	case key.Matches(msg, m.keys.Narrate):
		cmd = m.narrate(m.cursor)

	case key.Matches(msg, m.keys.NextBlock):
		from := m.cursor
		if i := m.doc.Index(m.state.Playback.BlockID); i >= 0 {
			from = i
		}
		if next := nextSpeakable(m.doc, from); next >= 0 {
			m.cursor = next
			cmd = m.narrate(next)
		} else {
			cmd = m.showStatusMessage("End of document", false)
		}

	case key.Matches(msg, m.keys.Toggle):
		if m.state.Playback.BlockID == "" {
			cmd = m.narrate(m.cursor)
		} else {
			cmd = action(m.player.TogglePlayback)
		}

	case key.Matches(msg, m.keys.Back):
		cmd = m.skip(-m.cfg.SkipSeconds)
	case key.Matches(msg, m.keys.Forward):
		cmd = m.skip(m.cfg.SkipSeconds)

	case key.Matches(msg, m.keys.Slower), key.Matches(msg, m.keys.Faster):
		speed := m.state.Narrator.Speed - speedStep
		if key.Matches(msg, m.keys.Faster) {
			speed = m.state.Narrator.Speed + speedStep
		}
		player := m.player
		cmd = action(func() error { return player.SetSpeed(speed) })

	case key.Matches(msg, m.keys.Voice):
		player := m.player
		cmd = func() tea.Msg {
			v, err := player.NextVoice()
			if err != nil {
				return errMsg{err}
			}
			return statusMsg{text: "Voice: " + v.Name}
		}

	case key.Matches(msg, m.keys.Resynthesize):
		if m.state.Playback.BlockID != "" {
			cmd = action(m.player.Resynthesize)
		}

	case key.Matches(msg, m.keys.Narration):
		player := m.player
		cmd = func() tea.Msg {
			on, err := player.ToggleNarration()
			if err != nil {
				return errMsg{err}
			}
			return statusMsg{text: "Narration " + onOff(on)}
		}

	case key.Matches(msg, m.keys.VolumeUp):
		m.player.SetMasterVolume(m.state.MasterVolume + volumeStep)
	case key.Matches(msg, m.keys.VolumeDown):
		m.player.SetMasterVolume(m.state.MasterVolume - volumeStep)

	case key.Matches(msg, m.keys.Music):
		cmd = m.showStatusMessage("Music "+onOff(m.player.ToggleMusic()), false)
	case key.Matches(msg, m.keys.NextTrack):
		m.player.NextTrack()

	case key.Matches(msg, m.keys.Ambience):
		on := !m.state.Ambience.Enabled
		m.player.SetAmbienceEnabled(on)
		cmd = m.showStatusMessage("Ambience "+onOff(on), false)

	case key.Matches(msg, m.keys.Sound):
		sounds := m.player.Catalog().Sounds
		i := int(msg.Runes[0] - '1')
		if i >= len(sounds) {
			break
		}
		if on, err := m.player.ToggleSound(sounds[i].ID); err != nil {
			cmd = m.showStatusMessage(err.Error(), true)
		} else {
			cmd = m.showStatusMessage(sounds[i].Name+" "+onOff(on), false)
		}

	case key.Matches(msg, m.keys.Preset):
		presets := m.player.Catalog().Presets
		if len(presets) == 0 {
			break
		}
		m.preset = (m.preset + 1) % len(presets)
		p := presets[m.preset]
		if err := m.player.ApplyPreset(p.ID); err != nil {
			cmd = m.showStatusMessage(err.Error(), true)
		} else {
			cmd = m.showStatusMessage("Preset: "+p.Name, false)
		}

	default:
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	m.refresh()
	return m, cmd
}

func (m *model) moveCursor(delta int) {
	m.cursor = max(0, min(len(m.doc.Blocks)-1, m.cursor+delta))
}

// narrate loads block i. The rewrite request blocks, so it runs as a
// command.
func (m model) narrate(i int) tea.Cmd {
	if i < 0 || i >= len(m.doc.Blocks) {
		return nil
	}
	b := m.doc.Blocks[i]
	if !b.Speakable() {
		return func() tea.Msg { return statusMsg{text: "Nothing to read in this block"} }
	}
	if !m.state.Narrator.Enabled {
		return func() tea.Msg { return statusMsg{text: "Narration is off, press N to turn it on"} }
	}
	player, docID := m.player, m.doc.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return loadedMsg{blockID: b.ID, err: player.LoadBlock(ctx, docID, b.ID, b.Text)}
	}
}

func (m model) skip(seconds float64) tea.Cmd {
	if m.state.Playback.BlockID == "" {
		return nil
	}
	player := m.player
	return func() tea.Msg {
		if _, err := player.Skip(seconds); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func action(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *model) showStatusMessage(msg string, isError bool) tea.Cmd {
	m.statusMessage = msg
	m.statusIsError = isError
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)
	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}

func loadErrorText(err error) string {
	if errors.Is(err, tts.ErrNotPersisted) {
		return "Save the document to a file to hear it narrated"
	}
	return fmt.Sprintf("Narration failed: %v", err)
}

func firstSpeakable(doc *document.Document) int {
	if i := nextSpeakable(doc, -1); i >= 0 {
		return i
	}
	return 0
}

func nextSpeakable(doc *document.Document, from int) int {
	for i := from + 1; i < len(doc.Blocks); i++ {
		if doc.Blocks[i].Speakable() {
			return i
		}
	}
	return -1
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Error() == b.Error()
}
