package audio

import "time"

// Ring is a fixed-window circular buffer of chunks used for the pre-roll:
// while no segment is open it keeps the most recent Window of audio so a
// detected speech onset can be recorded from slightly before the VAD
// fired. It is owned by a single goroutine and does no locking.
type Ring struct {
	window time.Duration
	chunks []Chunk
}

// NewRing creates a ring holding at least window of trailing audio.
func NewRing(window time.Duration) *Ring {
	return &Ring{window: window}
}

// Push appends a chunk and evicts leading chunks that fall entirely
// outside the window ending at the new chunk's end time.
func (r *Ring) Push(c Chunk) {
	r.chunks = append(r.chunks, c)
	cutoff := c.End() - r.window
	i := 0
	for i < len(r.chunks) && r.chunks[i].End() <= cutoff {
		i++
	}
	if i > 0 {
		r.chunks = append(r.chunks[:0], r.chunks[i:]...)
	}
}

// Snapshot returns the buffered chunks oldest-first. The returned slice
// is only valid until the next Push.
func (r *Ring) Snapshot() []Chunk { return r.chunks }

// Start returns the stream time of the oldest buffered frame, and false
// when the ring is empty.
func (r *Ring) Start() (time.Duration, bool) {
	if len(r.chunks) == 0 {
		return 0, false
	}
	return r.chunks[0].Time, true
}

// Duration returns the total buffered span.
func (r *Ring) Duration() time.Duration {
	if len(r.chunks) == 0 {
		return 0
	}
	return r.chunks[len(r.chunks)-1].End() - r.chunks[0].Time
}

// Len returns the number of buffered chunks.
func (r *Ring) Len() int { return len(r.chunks) }

// Reset drops all buffered chunks.
func (r *Ring) Reset() { r.chunks = r.chunks[:0] }
