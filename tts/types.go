package tts

// SegmentStatus is the synthesis status of a single segment.
type SegmentStatus int

const (
	// StatusPending indicates the segment has no audio yet.
	StatusPending SegmentStatus = iota
	// StatusLoading indicates an on-demand synthesis request is in flight.
	StatusLoading
	// StatusReady indicates audio is available for playback.
	StatusReady
	// StatusError indicates synthesis failed for this segment only.
	StatusError
)

// String returns the string representation of the status.
func (s SegmentStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// WordTimestamp locates a spoken word inside its segment's audio.
type WordTimestamp struct {
	Word    string  `json:"word"`
	StartMs float64 `json:"startMs"`
	EndMs   float64 `json:"endMs"`
}

// Segment is a speakable unit of a block's rewritten text.
type Segment struct {
	Index          int
	Text           string
	AudioURL       string // empty until Ready
	DurationMs     int    // zero until Ready
	Status         SegmentStatus
	WordTimestamps []WordTimestamp
	Err            string
}

// MarkReady records synthesized audio for the segment. URL, duration and
// status always change together.
func (s *Segment) MarkReady(url string, durationMs int, timestamps []WordTimestamp) {
	s.AudioURL = url
	s.DurationMs = durationMs
	s.WordTimestamps = timestamps
	s.Status = StatusReady
	s.Err = ""
}

// MarkError records a per-segment synthesis failure.
func (s *Segment) MarkError(msg string) {
	s.Status = StatusError
	s.Err = msg
}

// Reset drops any synthesized audio but keeps the text.
func (s *Segment) Reset() {
	s.AudioURL = ""
	s.DurationMs = 0
	s.WordTimestamps = nil
	s.Status = StatusPending
	s.Err = ""
}

// Ready reports whether the segment can be played.
func (s Segment) Ready() bool {
	return s.Status == StatusReady && s.AudioURL != ""
}

// NarratorConfig holds the user's narrator settings.
type NarratorConfig struct {
	Enabled bool
	Voice   string
	Speed   float64
	Volume  float64
}

// PlaybackState is the narration playback state for the active block.
type PlaybackState struct {
	BlockID         string
	Phase           Phase
	Segments        []Segment
	Current         int
	Playing         bool
	Synthesizing    bool
	Waiting         bool
	AwaitingGesture bool
	Finished        bool    // played to the end of the block
	TotalDuration   float64 // seconds
	Err             error
}

// CurrentSegment returns the active segment, if any.
func (p PlaybackState) CurrentSegment() (Segment, bool) {
	if p.Current < 0 || p.Current >= len(p.Segments) {
		return Segment{}, false
	}
	return p.Segments[p.Current], true
}

// MusicState holds background music runtime state.
type MusicState struct {
	Enabled  bool
	Volume   float64
	Playlist []string // track ids in play order
	Current  int
}

// CurrentTrack returns the id of the selected track.
func (m MusicState) CurrentTrack() string {
	if m.Current < 0 || m.Current >= len(m.Playlist) {
		return ""
	}
	return m.Playlist[m.Current]
}

// SoundState holds runtime state for one ambient sound.
type SoundState struct {
	Enabled bool
	Volume  float64
}

// AmbienceState holds ambient sound runtime state.
type AmbienceState struct {
	Enabled bool
	Volume  float64
	Sounds  map[string]SoundState
}

// AudioState is the aggregate audio state of one open document.
type AudioState struct {
	Narrator       NarratorConfig
	Playback       PlaybackState
	Music          MusicState
	Ambience       AmbienceState
	MasterVolume   float64
	ActivePresetID string
}

// Clone returns a deep copy of the state so that a mutation never aliases a
// previously published snapshot.
func (s AudioState) Clone() AudioState {
	c := s
	if s.Playback.Segments != nil {
		c.Playback.Segments = make([]Segment, len(s.Playback.Segments))
		for i, seg := range s.Playback.Segments {
			if seg.WordTimestamps != nil {
				seg.WordTimestamps = append([]WordTimestamp(nil), seg.WordTimestamps...)
			}
			c.Playback.Segments[i] = seg
		}
	}
	if s.Music.Playlist != nil {
		c.Music.Playlist = append([]string(nil), s.Music.Playlist...)
	}
	if s.Ambience.Sounds != nil {
		c.Ambience.Sounds = make(map[string]SoundState, len(s.Ambience.Sounds))
		for id, snd := range s.Ambience.Sounds {
			c.Ambience.Sounds[id] = snd
		}
	}
	return c
}

// TotalDurationSeconds sums the durations of all segments in seconds.
func TotalDurationSeconds(segments []Segment) float64 {
	var ms int
	for _, s := range segments {
		ms += s.DurationMs
	}
	return float64(ms) / 1000
}

// AnyPending reports whether any segment still waits for audio.
func AnyPending(segments []Segment) bool {
	for _, s := range segments {
		if s.Status == StatusPending || s.Status == StatusLoading {
			return true
		}
	}
	return false
}

// NewAudioState builds the initial state for a session.
func NewAudioState(cfg Config, catalog *Catalog) AudioState {
	st := AudioState{
		Narrator: NarratorConfig{
			Enabled: true,
			Voice:   cfg.Narrator.Voice,
			Speed:   cfg.Narrator.Speed,
			Volume:  cfg.Narrator.Volume,
		},
		Playback:     PlaybackState{Phase: PhaseIdle},
		MasterVolume: cfg.MasterVolume,
		Music: MusicState{
			Volume: cfg.Music.Volume,
		},
		Ambience: AmbienceState{
			Enabled: true,
			Volume:  cfg.Ambience.Volume,
			Sounds:  make(map[string]SoundState),
		},
	}
	if catalog != nil {
		for _, t := range catalog.Tracks {
			st.Music.Playlist = append(st.Music.Playlist, t.ID)
		}
		for _, snd := range catalog.Sounds {
			st.Ambience.Sounds[snd.ID] = SoundState{Volume: snd.DefaultVolume}
		}
	}
	return st
}
