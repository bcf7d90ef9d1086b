// Package server exposes the pipeline over HTTP.
package server

import "time"

// Server configuration constants
const (
	// Per-connection websocket rate limiting
	RateLimitMessages = 30          // Max client messages per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Per-connection event subscription buffer
	EventBuffer = 256
)
