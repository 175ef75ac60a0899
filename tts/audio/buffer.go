// Package audio provides a small audio graph (source → gain → bus → output),
// PCM buffers, WAV decoding and URL loading for narration, music and ambience.
package audio

import (
	"math"
	"time"
)

// Buffer is decoded audio held as interleaved float32 samples in [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Silence returns a silent buffer of the given length.
func Silence(sampleRate, channels int, d time.Duration) *Buffer {
	frames := int(d * time.Duration(sampleRate) / time.Second)
	return &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]float32, frames*channels),
	}
}

// Tone returns a sine wave buffer, mostly useful for tests and previews.
func Tone(sampleRate, channels int, freq float64, amplitude float32, d time.Duration) *Buffer {
	b := Silence(sampleRate, channels, d)
	for f := 0; f < b.Frames(); f++ {
		v := amplitude * float32(math.Sin(2*math.Pi*freq*float64(f)/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			b.Samples[f*channels+c] = v
		}
	}
	return b
}

// Convert returns the buffer resampled to sampleRate and remixed to
// channels. Resampling is linear, which is adequate for speech and
// background audio.
func (b *Buffer) Convert(sampleRate, channels int) *Buffer {
	if b.SampleRate == sampleRate && b.Channels == channels {
		return b
	}

	src := b.remix(channels)
	if src.SampleRate == sampleRate {
		return src
	}

	inFrames := src.Frames()
	if inFrames == 0 {
		return &Buffer{SampleRate: sampleRate, Channels: channels}
	}
	outFrames := int(int64(inFrames) * int64(sampleRate) / int64(src.SampleRate))
	out := &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]float32, outFrames*channels),
	}
	ratio := float64(src.SampleRate) / float64(sampleRate)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * ratio
		i := int(pos)
		frac := float32(pos - float64(i))
		j := i + 1
		if j >= inFrames {
			j = inFrames - 1
		}
		for c := 0; c < channels; c++ {
			a := src.Samples[i*channels+c]
			z := src.Samples[j*channels+c]
			out.Samples[f*channels+c] = a + (z-a)*frac
		}
	}
	return out
}

// remix changes the channel count, averaging down or duplicating up.
func (b *Buffer) remix(channels int) *Buffer {
	if b.Channels == channels {
		return b
	}
	frames := b.Frames()
	out := &Buffer{
		SampleRate: b.SampleRate,
		Channels:   channels,
		Samples:    make([]float32, frames*channels),
	}
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < b.Channels; c++ {
			sum += b.Samples[f*b.Channels+c]
		}
		mono := sum / float32(b.Channels)
		for c := 0; c < channels; c++ {
			if c < b.Channels && channels > 1 && b.Channels > 1 {
				out.Samples[f*channels+c] = b.Samples[f*b.Channels+c]
			} else {
				out.Samples[f*channels+c] = mono
			}
		}
	}
	return out
}
