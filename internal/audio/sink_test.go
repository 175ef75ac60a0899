package audio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

type countingGraph struct{ advanced atomic.Int64 }

func (g *countingGraph) Advance(d time.Duration) { g.advanced.Add(int64(d)) }

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SinkConfig)
		wantErr bool
	}{
		{"defaults", func(*SinkConfig) {}, false},
		{"48k mono", func(c *SinkConfig) { c.SampleRate = 48000; c.Channels = 1 }, false},
		{"bad rate", func(c *SinkConfig) { c.SampleRate = 22050 }, true},
		{"bad channels", func(c *SinkConfig) { c.Channels = 6 }, true},
		{"no buffer", func(c *SinkConfig) { c.BufferSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSinkConfig()
			tt.mutate(&cfg)
			if err := validateConfig(cfg); (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNullSinkGate(t *testing.T) {
	g := &countingGraph{}
	s := NewNullSink(g, time.Millisecond, false)

	if err := s.Allow(); !errors.Is(err, tts.ErrAutoplayBlocked) {
		t.Fatalf("suspended sink should block, got %v", err)
	}
	if s.State() != StateSuspended {
		t.Fatalf("State() = %v", s.State())
	}

	s.Resume()
	if err := s.Allow(); err != nil {
		t.Fatalf("running sink should allow, got %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for g.advanced.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if g.advanced.Load() == 0 {
		t.Error("null sink never advanced the graph")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Allow(); !errors.Is(err, tts.ErrAutoplayBlocked) {
		t.Errorf("closed sink should block, got %v", err)
	}
	_ = s.Close()
}

func TestSinkStateString(t *testing.T) {
	for state, want := range map[SinkState]string{
		StateSuspended: "suspended",
		StateRunning:   "running",
		StateClosed:    "closed",
		SinkState(9):   "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
