package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up           key.Binding
	Down         key.Binding
	Top          key.Binding
	Bottom       key.Binding
	Narrate      key.Binding
	NextBlock    key.Binding
	Toggle       key.Binding
	Back         key.Binding
	Forward      key.Binding
	Slower       key.Binding
	Faster       key.Binding
	Voice        key.Binding
	Resynthesize key.Binding
	Narration    key.Binding
	VolumeUp     key.Binding
	VolumeDown   key.Binding
	Music        key.Binding
	NextTrack    key.Binding
	Ambience     key.Binding
	Sound        key.Binding
	Preset       key.Binding
	Help         key.Binding
	Quit         key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:           key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "previous block")),
		Down:         key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "next block")),
		Top:          key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g/home", "go to top")),
		Bottom:       key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G/end", "go to bottom")),
		Narrate:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "narrate block")),
		NextBlock:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "narrate next block")),
		Toggle:       key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		Back:         key.NewBinding(key.WithKeys("h", "left"), key.WithHelp("h/←", "skip back")),
		Forward:      key.NewBinding(key.WithKeys("l", "right"), key.WithHelp("l/→", "skip forward")),
		Slower:       key.NewBinding(key.WithKeys("["), key.WithHelp("[", "slower")),
		Faster:       key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "faster")),
		Voice:        key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "next voice")),
		Resynthesize: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "synthesize again")),
		Narration:    key.NewBinding(key.WithKeys("N"), key.WithHelp("N", "narration on/off")),
		VolumeUp:     key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "volume up")),
		VolumeDown:   key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "volume down")),
		Music:        key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "music on/off")),
		NextTrack:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "next track")),
		Ambience:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "ambience on/off")),
		Sound:        key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "toggle sound")),
		Preset:       key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "next preset")),
		Help:         key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Narrate, k.Toggle, k.Back, k.Forward, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom, k.Narrate, k.NextBlock},
		{k.Toggle, k.Back, k.Forward, k.Slower, k.Faster},
		{k.Voice, k.Resynthesize, k.Narration},
		{k.VolumeUp, k.VolumeDown, k.Music, k.NextTrack},
		{k.Ambience, k.Sound, k.Preset, k.Help, k.Quit},
	}
}
