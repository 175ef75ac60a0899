package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAV format tags.
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// ErrUnsupportedFormat is returned for audio payloads that are not WAV or
// use an encoding the decoder does not handle.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// DecodeWAV decodes a RIFF/WAVE payload with 8, 16, 24 or 32 bit integer
// PCM or 32 bit float samples.
func DecodeWAV(data []byte) (*Buffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedFormat)
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       int
		pcm        []byte
		haveFmt    bool
	)

	// Walk chunks to find "fmt " and "data".
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		start := pos + 8
		end := start + size
		if end > len(data) || size < 0 {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-start < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			chunk := data[start:end]
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = int(binary.LittleEndian.Uint16(chunk[14:16]))
			if format == wavFormatExtensible && len(chunk) >= 26 {
				format = binary.LittleEndian.Uint16(chunk[24:26])
			}
			haveFmt = true
		case "data":
			pcm = data[start:end]
		}

		pos = start + size
		// Chunks are word-aligned.
		if size%2 != 0 {
			pos++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("%w: fmt chunk not found", ErrUnsupportedFormat)
	}
	if pcm == nil {
		return nil, fmt.Errorf("%w: data chunk not found", ErrUnsupportedFormat)
	}
	if channels < 1 || sampleRate < 1 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, channels, sampleRate)
	}

	samples, err := decodeSamples(pcm, format, bits)
	if err != nil {
		return nil, err
	}
	frames := len(samples) / channels
	return &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples[:frames*channels],
	}, nil
}

func decodeSamples(pcm []byte, format uint16, bits int) ([]float32, error) {
	width := bits / 8
	if width == 0 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, bits)
	}
	n := len(pcm) / width
	out := make([]float32, n)

	switch {
	case format == wavFormatPCM && bits == 8:
		for i := 0; i < n; i++ {
			out[i] = (float32(pcm[i]) - 128) / 128
		}
	case format == wavFormatPCM && bits == 16:
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
			out[i] = float32(v) / 32768
		}
	case format == wavFormatPCM && bits == 24:
		for i := 0; i < n; i++ {
			b := pcm[i*3:]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float32(v) / 8388608
		}
	case format == wavFormatPCM && bits == 32:
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(pcm[i*4:]))
			out[i] = float32(float64(v) / 2147483648)
		}
	case format == wavFormatFloat && bits == 32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		}
	default:
		return nil, fmt.Errorf("%w: format %d with %d bits", ErrUnsupportedFormat, format, bits)
	}
	return out, nil
}

// EncodeWAV encodes the buffer as 16 bit PCM WAV.
func EncodeWAV(b *Buffer) []byte {
	const bitsPerSample = 16
	dataSize := len(b.Samples) * 2
	blockAlign := b.Channels * bitsPerSample / 8
	byteRate := b.SampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	// RIFF header.
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt chunk.
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(b.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(b.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	// data chunk.
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range b.Samples {
		_ = binary.Write(&buf, binary.LittleEndian, floatToInt16(s))
	}
	return buf.Bytes()
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}
