// Package merge reconciles the full-rate capture stream with the
// low-rate VAD decision stream: every full-rate chunk leaves tagged with
// the speech flag effective at its timestamp, and boundary events are
// surfaced between the two full-rate chunks that straddle them.
package merge

import (
	"time"

	"github.com/hushnote/platform/internal/audio"
	"github.com/hushnote/platform/internal/faults"
	"github.com/hushnote/platform/internal/vad"
)

// Merge is owned by the control goroutine. Decisions and boundaries are
// observed as the VAD side produces them; Tag applies them to the
// full-rate timeline.
//
// Tagging lag: a decision derived from a low-rate window only becomes
// effective at that window's end, so a full-rate chunk can carry a flag
// that is stale by at most one low-rate window duration. The bound is a
// property of the configured VAD window size, not a constant here; see
// merge_test.go.
type Merge struct {
	inSpeech  bool
	decisions []vad.Decision // effective in the future of the chunks seen so far
	pending   []vad.Boundary

	lastChunk time.Duration
	seen      bool
}

// New creates a merge hub with the flag initially false.
func New() *Merge { return &Merge{} }

// Observe records per-window decisions from the VAD side. Decisions must
// arrive in effective-time order.
func (m *Merge) Observe(ds ...vad.Decision) {
	m.decisions = append(m.decisions, ds...)
}

// ObserveBoundary records a debounced boundary for forwarding.
func (m *Merge) ObserveBoundary(bs ...vad.Boundary) {
	m.pending = append(m.pending, bs...)
}

// Tag stamps the chunk with the speech flag effective at or before its
// timestamp and returns any boundaries that belong before or within it.
// Chunks must arrive with non-decreasing timestamps; a violation is fatal.
func (m *Merge) Tag(c audio.Chunk) (audio.Chunk, []vad.Boundary, error) {
	if m.seen && c.Time < m.lastChunk {
		return c, nil, faults.Newf(faults.Protocol,
			"chunk timestamp moved backward: %v after %v", c.Time, m.lastChunk)
	}
	m.seen = true
	m.lastChunk = c.Time

	// Advance to the newest decision effective at or before this chunk.
	// Later decisions stay queued: a tag must never reflect a future
	// decision.
	i := 0
	for i < len(m.decisions) && m.decisions[i].Effective <= c.Time {
		m.inSpeech = m.decisions[i].InSpeech
		i++
	}
	if i > 0 {
		m.decisions = m.decisions[i:]
	}

	// Release boundaries the chunk straddles or has passed. A Start is
	// retroactive (its timestamp is the debounce-sustain start), so it is
	// released with the first chunk processed after the VAD fired.
	var out []vad.Boundary
	j := 0
	for j < len(m.pending) && m.pending[j].Time < c.End() {
		out = append(out, m.pending[j])
		j++
	}
	if j > 0 {
		m.pending = m.pending[j:]
	}

	c.InSpeech = m.inSpeech
	return c, out, nil
}

// InSpeech returns the current flag, for status reporting.
func (m *Merge) InSpeech() bool { return m.inSpeech }
