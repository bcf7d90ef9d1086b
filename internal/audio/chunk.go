// Package audio handles device capture, pre-buffering, resampling, and
// segment file writing.
package audio

import "time"

// Chunk is one block of captured samples. Time is the position of the
// first frame on the monotonic stream timeline (zero at session start),
// derived from the running frame count rather than the wall clock so that
// downstream arithmetic is exact. A Chunk is immutable once published;
// consumers that mutate must copy.
type Chunk struct {
	Samples  []int16
	Rate     int
	Channels int
	Time     time.Duration

	// InSpeech is set by the merge stage once the VAD decision covering
	// this chunk is known.
	InSpeech bool

	// Gap marks the first chunk delivered after the capture side had to
	// drop audio (device overrun or a full handoff channel).
	Gap bool
}

// Frames returns the number of frames (samples per channel).
func (c Chunk) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the chunk's span on the stream timeline.
func (c Chunk) Duration() time.Duration {
	if c.Rate == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Rate)
}

// End returns the stream time just past the last frame.
func (c Chunk) End() time.Duration { return c.Time + c.Duration() }

// Mono returns the chunk's frames mixed down to a single channel. For
// mono input the sample slice is returned as-is (no copy).
func (c Chunk) Mono() []int16 {
	if c.Channels <= 1 {
		return c.Samples
	}
	frames := c.Frames()
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for ch := 0; ch < c.Channels; ch++ {
			sum += int(c.Samples[i*c.Channels+ch])
		}
		out[i] = int16(sum / c.Channels)
	}
	return out
}

// FramesToDuration converts a frame count at the given rate to stream time.
func FramesToDuration(frames, rate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(rate)
}
