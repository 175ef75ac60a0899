package audio

import (
	"context"
	"sync"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

// MockOutput is a narrator output for tests. It never produces sound;
// position and end of playback are driven by the test.
type MockOutput struct {
	mu       sync.Mutex
	url      string
	playing  bool
	position time.Duration
	rate     float64
	blocked  bool
	ended    func()
	history  []OutputEvent

	// Error injection for testing
	loadErrors map[string]error
	loadGate   chan struct{}
}

// OutputEvent records a call for test verification.
type OutputEvent struct {
	Type     string
	URL      string
	Position time.Duration
}

// NewMockOutput creates a mock output.
func NewMockOutput() *MockOutput {
	return &MockOutput{
		rate:       1,
		loadErrors: make(map[string]error),
	}
}

// Load records the url as the current source.
func (m *MockOutput) Load(ctx context.Context, url string) error {
	m.mu.Lock()
	gate := m.loadGate
	err := m.loadErrors[url]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	m.playing = false
	m.position = 0
	m.record("load")
	return nil
}

// Play starts playback unless the output is blocked.
func (m *MockOutput) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.url == "" {
		return tts.ErrNothingLoaded
	}
	if m.blocked {
		m.record("blocked")
		return tts.ErrAutoplayBlocked
	}
	m.playing = true
	m.record("play")
	return nil
}

// Activate unblocks playback.
func (m *MockOutput) Activate() {
	m.mu.Lock()
	m.blocked = false
	m.mu.Unlock()
}

// Pause stops playback.
func (m *MockOutput) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	m.record("pause")
}

// Seek sets the position.
func (m *MockOutput) Seek(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = d
	m.record("seek")
}

// Position returns the position.
func (m *MockOutput) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Playing reports whether playback is running.
func (m *MockOutput) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// URL returns the loaded url.
func (m *MockOutput) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// SetRate records the playback rate.
func (m *MockOutput) SetRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = rate
}

// Rate returns the last rate set.
func (m *MockOutput) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// OnEnded sets the end of playback handler.
func (m *MockOutput) OnEnded(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = fn
}

// Unload clears the source.
func (m *MockOutput) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = ""
	m.playing = false
	m.position = 0
	m.record("unload")
}

// Test control

// SetPosition moves the simulated playhead without recording a seek.
func (m *MockOutput) SetPosition(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = d
}

// SetBlocked makes Play fail with tts.ErrAutoplayBlocked until Activate.
func (m *MockOutput) SetBlocked(blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = blocked
}

// SetLoadError makes Load fail for url.
func (m *MockOutput) SetLoadError(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErrors[url] = err
}

// HoldLoads makes Load wait until ReleaseLoads is called.
func (m *MockOutput) HoldLoads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadGate = make(chan struct{})
}

// ReleaseLoads lets held and future loads complete.
func (m *MockOutput) ReleaseLoads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadGate != nil {
		close(m.loadGate)
		m.loadGate = nil
	}
}

// Finish simulates the loaded source playing to its end.
func (m *MockOutput) Finish() {
	m.mu.Lock()
	m.playing = false
	m.record("ended")
	fn := m.ended
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// History returns the recorded calls.
func (m *MockOutput) History() []OutputEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutputEvent(nil), m.history...)
}

// ClearHistory drops the recorded calls.
func (m *MockOutput) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

func (m *MockOutput) record(kind string) {
	m.history = append(m.history, OutputEvent{Type: kind, URL: m.url, Position: m.position})
}
