// Package synth is the client of the external synthesis service: text
// rewriting into speakable segments, streamed segment synthesis, on-demand
// single segment synthesis and resource release.
package synth

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dgnsrekt/narrate/tts"
)

// Event is one message of a synthesis stream. It is one of SegmentEvent,
// SegmentErrorEvent, DoneEvent or FatalEvent.
type Event interface {
	event()
}

// SegmentEvent delivers the audio of one segment.
type SegmentEvent struct {
	Index          int
	AudioURL       string
	DurationMs     int
	WordTimestamps []tts.WordTimestamp
}

// SegmentErrorEvent reports that one segment failed to synthesize.
type SegmentErrorEvent struct {
	Index int
	Err   string
}

// DoneEvent ends a stream after every segment has been reported.
type DoneEvent struct{}

// FatalEvent ends a stream that failed as a whole.
type FatalEvent struct {
	Err error
}

func (SegmentEvent) event()      {}
func (SegmentErrorEvent) event() {}
func (DoneEvent) event()         {}
func (FatalEvent) event()        {}

// wireEvent is the JSON shape of a stream message. Older workers omit
// "type" and send inline base64 WAV "audio" instead of "audioUrl".
type wireEvent struct {
	Type           string              `json:"type"`
	SegmentIndex   *int                `json:"segmentIndex"`
	AudioURL       string              `json:"audioUrl"`
	Audio          string              `json:"audio"`
	DurationMs     *float64            `json:"durationMs"`
	WordTimestamps []tts.WordTimestamp `json:"wordTimestamps"`
	Error          string              `json:"error"`
}

// DecodeEvent parses and validates one stream message. Invalid messages
// return an error wrapping tts.ErrMalformedEvent.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", tts.ErrMalformedEvent, err)
	}

	kind := strings.ToLower(w.Type)
	if kind == "" {
		switch {
		case w.SegmentIndex != nil && w.Error != "":
			kind = "error"
		case w.SegmentIndex != nil:
			kind = "segment"
		}
	}

	switch kind {
	case "segment":
		return decodeSegment(w)
	case "error":
		if w.SegmentIndex == nil || *w.SegmentIndex < 0 {
			return nil, fmt.Errorf("%w: error event without segment index", tts.ErrMalformedEvent)
		}
		msg := w.Error
		if msg == "" {
			msg = "synthesis failed"
		}
		return SegmentErrorEvent{Index: *w.SegmentIndex, Err: msg}, nil
	case "done":
		return DoneEvent{}, nil
	case "fatal":
		msg := w.Error
		if msg == "" {
			msg = "synthesis stream failed"
		}
		return FatalEvent{Err: tts.NewError(tts.ErrorCodeFatalStream, msg, nil)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", tts.ErrMalformedEvent, w.Type)
	}
}

func decodeSegment(w wireEvent) (Event, error) {
	if w.SegmentIndex == nil || *w.SegmentIndex < 0 {
		return nil, fmt.Errorf("%w: segment event without segment index", tts.ErrMalformedEvent)
	}
	url := w.AudioURL
	if url == "" && w.Audio != "" {
		url = "data:audio/wav;base64," + w.Audio
	}
	if url == "" {
		return nil, fmt.Errorf("%w: segment %d has no audio", tts.ErrMalformedEvent, *w.SegmentIndex)
	}
	if w.DurationMs == nil || *w.DurationMs < 0 || math.IsNaN(*w.DurationMs) || math.IsInf(*w.DurationMs, 0) {
		return nil, fmt.Errorf("%w: segment %d has no valid duration", tts.ErrMalformedEvent, *w.SegmentIndex)
	}
	if err := validateTimestamps(w.WordTimestamps); err != nil {
		return nil, fmt.Errorf("%w: segment %d: %v", tts.ErrMalformedEvent, *w.SegmentIndex, err)
	}
	return SegmentEvent{
		Index:          *w.SegmentIndex,
		AudioURL:       url,
		DurationMs:     int(math.Round(*w.DurationMs)),
		WordTimestamps: w.WordTimestamps,
	}, nil
}

func validateTimestamps(ts []tts.WordTimestamp) error {
	prev := math.Inf(-1)
	for i, t := range ts {
		if t.StartMs < 0 || t.EndMs < t.StartMs {
			return fmt.Errorf("word %d has invalid bounds [%v, %v]", i, t.StartMs, t.EndMs)
		}
		if t.StartMs < prev {
			return fmt.Errorf("word %d starts before word %d", i, i-1)
		}
		prev = t.StartMs
	}
	return nil
}
