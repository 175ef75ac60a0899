package audio

import (
	"math"
	"testing"
	"time"
)

func TestBufferDuration(t *testing.T) {
	tests := []struct {
		name string
		buf  *Buffer
		want time.Duration
	}{
		{"nil", nil, 0},
		{"one second mono", Silence(44100, 1, time.Second), time.Second},
		{"half second stereo", Silence(48000, 2, 500*time.Millisecond), 500 * time.Millisecond},
		{"empty", &Buffer{SampleRate: 44100, Channels: 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.buf.Duration(); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBufferConvertChannels(t *testing.T) {
	stereo := &Buffer{SampleRate: 8000, Channels: 2, Samples: []float32{0.2, 0.4, -0.2, -0.4}}

	mono := stereo.Convert(8000, 1)
	want := []float32{0.3, -0.3}
	for i, v := range want {
		if math.Abs(float64(mono.Samples[i]-v)) > 1e-6 {
			t.Fatalf("mono sample %d = %v, want %v", i, mono.Samples[i], v)
		}
	}

	back := mono.Convert(8000, 2)
	if back.Frames() != 2 || back.Samples[0] != back.Samples[1] {
		t.Errorf("upmix should duplicate mono, got %v", back.Samples)
	}
}

func TestBufferConvertRate(t *testing.T) {
	src := Tone(22050, 1, 440, 0.5, time.Second)
	out := src.Convert(44100, 2)

	if out.SampleRate != 44100 || out.Channels != 2 {
		t.Fatalf("format = %d/%d", out.SampleRate, out.Channels)
	}
	if d := out.Duration() - time.Second; d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("duration drifted by %v", d)
	}
	if same := src.Convert(22050, 1); same != src {
		t.Error("converting to the same format should return the buffer itself")
	}
}
