package merge

import (
	"testing"
	"time"

	"github.com/hushnote/platform/internal/audio"
	"github.com/hushnote/platform/internal/faults"
	"github.com/hushnote/platform/internal/vad"
)

func fullRate(at time.Duration) audio.Chunk {
	// ~23ms chunks at 44.1kHz
	return audio.Chunk{Samples: make([]int16, 1024), Rate: 44100, Channels: 1, Time: at}
}

func TestMerge_TagNeverReflectsFutureDecision(t *testing.T) {
	m := New()

	// Decision flips to speech effective at 100ms.
	m.Observe(vad.Decision{InSpeech: true, Effective: 100 * time.Millisecond})

	before, _, err := m.Tag(fullRate(50 * time.Millisecond))
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if before.InSpeech {
		t.Error("chunk at 50ms tagged with decision effective at 100ms")
	}

	after, _, err := m.Tag(fullRate(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if !after.InSpeech {
		t.Error("chunk at 100ms should carry the decision effective at 100ms")
	}
}

func TestMerge_TagLagBoundedByWindowDuration(t *testing.T) {
	// Low-rate windows of 32ms: decisions land at 32ms boundaries. A
	// full-rate chunk is stale by strictly less than one window.
	const window = 32 * time.Millisecond
	m := New()

	for i := 1; i <= 8; i++ {
		m.Observe(vad.Decision{InSpeech: i >= 4, Effective: time.Duration(i) * window})
	}

	// Speech truly began inside window 4, i.e. by 4*32ms = 128ms. Walk
	// full-rate chunks and find when the tag flips.
	var flipped time.Duration = -1
	for at := time.Duration(0); at < 300*time.Millisecond; at += 10 * time.Millisecond {
		c, _, err := m.Tag(fullRate(at))
		if err != nil {
			t.Fatalf("Tag: %v", err)
		}
		if c.InSpeech && flipped < 0 {
			flipped = at
		}
	}
	if flipped < 0 {
		t.Fatal("tag never flipped to speech")
	}

	lag := flipped - 4*window
	if lag < 0 || lag >= window {
		t.Errorf("tag flipped at %v, lag %v; want within one low-rate window (%v)", flipped, lag, window)
	}
}

func TestMerge_BoundariesReleasedBetweenStraddlingChunks(t *testing.T) {
	m := New()
	m.ObserveBoundary(vad.Boundary{Kind: vad.BoundaryStart, Time: 30 * time.Millisecond})

	// Chunk [0, ~23ms) ends before the boundary: not released yet.
	_, bs, err := m.Tag(fullRate(0))
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if len(bs) != 0 {
		t.Fatalf("boundary released too early: %v", bs)
	}

	// Chunk starting at 23ms spans the 30ms boundary: released now.
	_, bs, err = m.Tag(fullRate(23 * time.Millisecond))
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if len(bs) != 1 || bs[0].Kind != vad.BoundaryStart {
		t.Fatalf("boundaries = %v, want the start boundary", bs)
	}

	// Never delivered twice.
	_, bs, err = m.Tag(fullRate(46 * time.Millisecond))
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if len(bs) != 0 {
		t.Fatalf("boundary delivered twice: %v", bs)
	}
}

func TestMerge_RetroactiveStartReleasedImmediately(t *testing.T) {
	m := New()

	_, _, err := m.Tag(fullRate(0))
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}

	// Debounce fired late; the boundary timestamp is already in the past.
	m.ObserveBoundary(vad.Boundary{Kind: vad.BoundaryStart, Time: 5 * time.Millisecond})

	_, bs, err := m.Tag(fullRate(23 * time.Millisecond))
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if len(bs) != 1 {
		t.Fatalf("retroactive boundary not released with next chunk: %v", bs)
	}
}

func TestMerge_BackwardTimestampIsProtocolViolation(t *testing.T) {
	m := New()
	if _, _, err := m.Tag(fullRate(100 * time.Millisecond)); err != nil {
		t.Fatalf("Tag: %v", err)
	}

	_, _, err := m.Tag(fullRate(50 * time.Millisecond))
	if err == nil {
		t.Fatal("expected protocol violation for backward timestamp")
	}
	if !faults.IsKind(err, faults.Protocol) {
		t.Errorf("error kind = %v, want protocol", err)
	}
	if !faults.IsFatal(err) {
		t.Error("protocol violation must be fatal")
	}
}
