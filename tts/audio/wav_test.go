package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestWAVRoundTrip(t *testing.T) {
	src := Tone(16000, 1, 300, 0.8, 250*time.Millisecond)

	decoded, err := DecodeWAV(EncodeWAV(src))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if decoded.SampleRate != 16000 || decoded.Channels != 1 {
		t.Fatalf("format = %d/%d", decoded.SampleRate, decoded.Channels)
	}
	if decoded.Frames() != src.Frames() {
		t.Fatalf("frames = %d, want %d", decoded.Frames(), src.Frames())
	}
	for i := range src.Samples {
		if math.Abs(float64(decoded.Samples[i]-src.Samples[i])) > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, decoded.Samples[i], src.Samples[i])
		}
	}
}

func floatWAV(samples []float32) []byte {
	data := make([]byte, 0, 44+len(samples)*4)
	le := binary.LittleEndian
	data = append(data, "RIFF"...)
	data = le.AppendUint32(data, uint32(36+len(samples)*4))
	data = append(data, "WAVE"...)
	data = append(data, "fmt "...)
	data = le.AppendUint32(data, 16)
	data = le.AppendUint16(data, wavFormatFloat)
	data = le.AppendUint16(data, 1)
	data = le.AppendUint32(data, 8000)
	data = le.AppendUint32(data, 8000*4)
	data = le.AppendUint16(data, 4)
	data = le.AppendUint16(data, 32)
	// unknown chunk with odd size and padding byte
	data = append(data, "LIST"...)
	data = le.AppendUint32(data, 3)
	data = append(data, 'a', 'b', 'c', 0)
	data = append(data, "data"...)
	data = le.AppendUint32(data, uint32(len(samples)*4))
	for _, s := range samples {
		data = le.AppendUint32(data, math.Float32bits(s))
	}
	return data
}

func TestDecodeWAVFloatWithExtraChunks(t *testing.T) {
	buf, err := DecodeWAV(floatWAV([]float32{0.5, -0.25, 1}))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	want := []float32{0.5, -0.25, 1}
	for i, v := range want {
		if buf.Samples[i] != v {
			t.Errorf("sample %d = %v, want %v", i, buf.Samples[i], v)
		}
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	valid := EncodeWAV(Silence(8000, 1, 10*time.Millisecond))
	noData := valid[:36]

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not riff", []byte("ID3\x03\x00\x00\x00\x00\x00\x00\x00\x00")},
		{"no data chunk", noData},
		{"no fmt chunk", append([]byte("RIFF\x00\x00\x00\x00WAVEdata\x00\x00\x00\x00"), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWAV(tt.data); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("expected ErrUnsupportedFormat, got %v", err)
			}
		})
	}
}
