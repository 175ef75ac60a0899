// Package audio connects the narration audio graph to an output device
// using the oto/v3 library, or to a headless clock when no device is
// available.
package audio
