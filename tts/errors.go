package tts

import (
	"context"
	"errors"
	"fmt"
)

// Common narration errors.
var (
	// ErrNotPersisted indicates the document lacks the identity required for TTS.
	ErrNotPersisted = errors.New("document has not been persisted")

	// ErrNetwork indicates a rewrite, segment or stream request failed.
	ErrNetwork = errors.New("synthesis service request failed")

	// ErrSegmentSynthesis indicates a single segment failed to synthesize.
	ErrSegmentSynthesis = errors.New("segment synthesis failed")

	// ErrFatalStream indicates the synthesis stream failed for the whole block.
	ErrFatalStream = errors.New("synthesis stream failed")

	// ErrAutoplayBlocked indicates the audio output refused to start playback.
	ErrAutoplayBlocked = errors.New("playback start was blocked")

	// ErrCancelled indicates an operation was superseded by a newer action.
	ErrCancelled = errors.New("operation superseded")

	// ErrMalformedEvent indicates a stream event failed validation.
	ErrMalformedEvent = errors.New("malformed stream event")

	// ErrUnknownSound indicates an ambient sound id is not in the catalog.
	ErrUnknownSound = errors.New("unknown ambient sound")

	// ErrUnknownTrack indicates a music track id is not in the catalog.
	ErrUnknownTrack = errors.New("unknown music track")

	// ErrUnknownVoice indicates a narrator voice id is not in the catalog.
	ErrUnknownVoice = errors.New("unknown narrator voice")

	// ErrUnknownPreset indicates an ambience preset id is not in the catalog.
	ErrUnknownPreset = errors.New("unknown ambience preset")

	// ErrNothingLoaded indicates the audio output has no source.
	ErrNothingLoaded = errors.New("no audio loaded")

	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorCode identifies specific error types.
type ErrorCode string

const (
	ErrorCodeNotPersisted     ErrorCode = "NOT_PERSISTED"
	ErrorCodeNetwork          ErrorCode = "NETWORK"
	ErrorCodeSegmentSynthesis ErrorCode = "SEGMENT_SYNTHESIS"
	ErrorCodeFatalStream      ErrorCode = "FATAL_STREAM"
	ErrorCodeAutoplayBlocked  ErrorCode = "AUTOPLAY_BLOCKED"
	ErrorCodeCancelled        ErrorCode = "CANCELLED"
)

var codeSentinels = map[ErrorCode]error{
	ErrorCodeNotPersisted:     ErrNotPersisted,
	ErrorCodeNetwork:          ErrNetwork,
	ErrorCodeSegmentSynthesis: ErrSegmentSynthesis,
	ErrorCodeFatalStream:      ErrFatalStream,
	ErrorCodeAutoplayBlocked:  ErrAutoplayBlocked,
	ErrorCodeCancelled:        ErrCancelled,
}

// Error is a narration error with additional context.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// NewError creates a new narration error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel error that corresponds to the error code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsFatal returns true if the error aborts the whole block.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeFatalStream, ErrorCodeNetwork, ErrorCodeNotPersisted:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether err stems from a superseded operation. Such
// errors are never shown to the user.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
