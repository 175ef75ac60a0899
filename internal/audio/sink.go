package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/narrate/tts"
)

// SinkState is the lifecycle state of an output sink.
type SinkState int32

const (
	// StateSuspended means the device is open but output is held until an
	// explicit user gesture.
	StateSuspended SinkState = iota
	// StateRunning means the graph is being pulled by the device.
	StateRunning
	// StateClosed means the sink has been released.
	StateClosed
)

// String returns the state name.
func (s SinkState) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Device is an output that pulls mixed PCM from the audio graph. It also
// gates narrator playback until output is allowed.
type Device interface {
	Allow() error
	Resume()
	State() SinkState
	Close() error
}

// SinkConfig contains configuration for the device sink.
type SinkConfig struct {
	SampleRate int           // 44100 or 48000 Hz only
	Channels   int           // 1 = mono, 2 = stereo
	BufferSize time.Duration // device buffer latency
	Autoplay   bool          // start without waiting for a user gesture
}

// DefaultSinkConfig returns the default sink configuration.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		SampleRate: 44100,
		Channels:   2,
		BufferSize: 50 * time.Millisecond,
		Autoplay:   true,
	}
}

func validateConfig(config SinkConfig) error {
	// OTO only supports specific sample rates reliably
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}
	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}
	if config.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	return nil
}

// Sink plays the graph on the default audio device through oto.
type Sink struct {
	context *oto.Context
	player  *oto.Player

	// The graph must stay reachable while the device pulls from it
	source io.Reader

	state atomic.Int32
	mu    sync.Mutex
}

// NewSink opens the audio device and starts pulling from r. The sink
// starts suspended unless config.Autoplay is set.
func NewSink(config SinkConfig, r io.Reader) (*Sink, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   config.BufferSize,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-readyChan

	player := ctx.NewPlayer(r)
	if player == nil {
		return nil, errors.New("failed to create oto player")
	}

	s := &Sink{context: ctx, player: player, source: r}
	s.state.Store(int32(StateSuspended))
	if config.Autoplay {
		s.Resume()
	}
	log.Debug("audio sink opened", "rate", config.SampleRate, "channels", config.Channels, "autoplay", config.Autoplay)
	return s, nil
}

// Allow reports whether narrator playback may start.
func (s *Sink) Allow() error {
	switch SinkState(s.state.Load()) {
	case StateRunning:
		if err := s.context.Err(); err != nil {
			return fmt.Errorf("%w: %v", tts.ErrAutoplayBlocked, err)
		}
		return nil
	case StateClosed:
		return fmt.Errorf("%w: sink closed", tts.ErrAutoplayBlocked)
	default:
		return tts.ErrAutoplayBlocked
	}
}

// Resume starts pulling from the graph.
func (s *Sink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if SinkState(s.state.Load()) != StateSuspended {
		return
	}
	if err := s.context.Resume(); err != nil {
		log.Warn("audio context resume failed", "error", err)
	}
	s.player.Play()
	s.state.Store(int32(StateRunning))
}

// State returns the sink state.
func (s *Sink) State() SinkState {
	return SinkState(s.state.Load())
}

// Close stops the device player.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if SinkState(s.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	s.player.Pause()
	// Note: oto.Context doesn't have a Close method in v3
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("failed to close oto player: %w", err)
	}
	return nil
}

// Advancer is implemented by graphs that can move their clock without a
// device.
type Advancer interface {
	Advance(d time.Duration)
}

// NullSink advances the graph in real time without producing sound. It is
// used when no audio device is available.
type NullSink struct {
	graph    Advancer
	interval time.Duration
	autoplay bool

	state  atomic.Int32
	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewNullSink creates a headless sink ticking every interval.
func NewNullSink(graph Advancer, interval time.Duration, autoplay bool) *NullSink {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	s := &NullSink{graph: graph, interval: interval, autoplay: autoplay}
	s.state.Store(int32(StateSuspended))
	if autoplay {
		s.Resume()
	}
	return s
}

// Allow reports whether narrator playback may start.
func (s *NullSink) Allow() error {
	if SinkState(s.state.Load()) != StateRunning {
		return tts.ErrAutoplayBlocked
	}
	return nil
}

// Resume starts the clock.
func (s *NullSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if SinkState(s.state.Load()) != StateSuspended {
		return
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.state.Store(int32(StateRunning))
	go s.loop(s.stopCh, s.done)
}

func (s *NullSink) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.graph.Advance(now.Sub(last))
			last = now
		}
	}
}

// State returns the sink state.
func (s *NullSink) State() SinkState {
	return SinkState(s.state.Load())
}

// Close stops the clock.
func (s *NullSink) Close() error {
	s.mu.Lock()
	prev := SinkState(s.state.Swap(int32(StateClosed)))
	stop, done := s.stopCh, s.done
	s.mu.Unlock()

	if prev == StateRunning {
		close(stop)
		<-done
	}
	return nil
}

// Open tries the device sink first and falls back to a headless clock.
func Open(config SinkConfig, graph interface {
	io.Reader
	Advancer
}) Device {
	if err := validateConfig(config); err == nil {
		sink, err := NewSink(config, graph)
		if err == nil {
			return sink
		}
		log.Warn("audio device unavailable, continuing without sound", "error", err)
	}
	return NewNullSink(graph, 10*time.Millisecond, config.Autoplay)
}
