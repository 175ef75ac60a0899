// Package cache provides a two-level byte cache for fetched audio payloads
// and synthesis rewrite responses. Recently used entries live in an LRU
// memory cache (L1); everything is also persisted to a zstd compressed disk
// cache (L2) so that reopening a document does not hit the network again.
package cache
