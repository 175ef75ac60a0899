package ui

// Config contains TUI-specific configuration.
type Config struct {
	EnableMouse bool
	// Maximum width of rendered blocks. Zero uses the terminal width.
	MaxWidth uint `env:"NARRATE_MAX_WIDTH" envDefault:"100"`
	// Skip distance for the seek keys, in seconds.
	SkipSeconds float64 `env:"NARRATE_SKIP_SECONDS" envDefault:"10"`
	// Move the selection with the narrated block.
	FollowNarration bool `env:"NARRATE_FOLLOW" envDefault:"true"`

	// For debugging the UI
	HighPerformancePager bool `env:"NARRATE_HIGH_PERFORMANCE_PAGER" envDefault:"false"`
}
