// Package queue runs posted tasks one at a time, in posting order, on a
// single goroutine. Components that own mutable playback state post every
// mutation here so that no two mutations ever interleave.
package queue
