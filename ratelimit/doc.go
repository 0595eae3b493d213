// Package ratelimit implements fixed-window attempt counters keyed by an
// arbitrary identifier.
//
// A window opens on the first attempt for an identifier and lasts Config.Window.
// Attempts beyond Config.MaxAttempts inside the window are denied without
// extending it. Once the window has passed, the next attempt starts a fresh
// window with a count of one.
//
// MemoryLimiter keeps state in process and evicts idle identifiers after one
// window. RedisLimiter provides the same semantics across processes.
package ratelimit
