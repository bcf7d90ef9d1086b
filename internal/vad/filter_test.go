package vad

import (
	"context"
	"testing"
	"time"

	"github.com/hushnote/platform/internal/audio"
)

// scriptProvider returns a canned probability per window.
type scriptProvider struct {
	probs []float32
	i     int
}

func (p *scriptProvider) Load(context.Context) error { return nil }

func (p *scriptProvider) Probability([]int16) (float32, error) {
	if p.i >= len(p.probs) {
		return 0, nil
	}
	v := p.probs[p.i]
	p.i++
	return v, nil
}

func testConfig() Config {
	return Config{
		SampleRate:      16000,
		WindowSize:      160, // 10ms windows
		Threshold:       0.5,
		MinSpeech:       30 * time.Millisecond,
		MinSilence:      50 * time.Millisecond,
		LongNoteSilence: 200 * time.Millisecond,
	}
}

// feed pushes n windows worth of samples as one chunk starting at t.
func feed(t *testing.T, f *Filter, at time.Duration, windows int) ([]Decision, []Boundary) {
	t.Helper()
	c := audio.Chunk{
		Samples:  make([]int16, windows*160),
		Rate:     16000,
		Channels: 1,
		Time:     at,
	}
	ds, bs, err := f.Push(c)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	return ds, bs
}

func TestFilter_DebounceSuppressesShortSpeech(t *testing.T) {
	// 2 speechy windows (20ms) < MinSpeech (30ms), then silence.
	p := &scriptProvider{probs: []float32{0.9, 0.9, 0.1, 0.1, 0.1}}
	f := NewFilter(p, testConfig())

	_, bs := feed(t, f, 0, 5)
	if len(bs) != 0 {
		t.Fatalf("boundaries = %v, want none", bs)
	}
	if f.State() != Silence {
		t.Errorf("state = %v, want Silence", f.State())
	}
}

func TestFilter_StartBoundaryAtSustainStart(t *testing.T) {
	// Noise window, then sustained speech from window 1 (10ms).
	p := &scriptProvider{probs: []float32{0.1, 0.9, 0.9, 0.9, 0.9}}
	f := NewFilter(p, testConfig())

	_, bs := feed(t, f, 0, 5)
	if len(bs) != 1 {
		t.Fatalf("boundaries = %d, want 1", len(bs))
	}
	b := bs[0]
	if b.Kind != BoundaryStart {
		t.Errorf("kind = %v, want start", b.Kind)
	}
	if want := 10 * time.Millisecond; b.Time != want {
		t.Errorf("start time = %v, want %v (sustain start, not fire window)", b.Time, want)
	}
	if f.State() != Speech {
		t.Errorf("state = %v, want Speech", f.State())
	}
}

func TestFilter_StopRequiresSustainedSilence(t *testing.T) {
	probs := []float32{
		0.9, 0.9, 0.9, // start fires (30ms)
		0.1, 0.1, // 20ms silence, below hold
		0.9,           // speech resumes, run resets
		0.1, 0.1, 0.1, 0.1, 0.1, // 50ms silence, stop fires
	}
	p := &scriptProvider{probs: probs}
	f := NewFilter(p, testConfig())

	_, bs := feed(t, f, 0, len(probs))
	if len(bs) != 2 {
		t.Fatalf("boundaries = %d, want 2 (start, stop)", len(bs))
	}
	if bs[0].Kind != BoundaryStart || bs[1].Kind != BoundaryStop {
		t.Fatalf("kinds = %v,%v, want start,stop", bs[0].Kind, bs[1].Kind)
	}
	// Stop timestamp is the beginning of the final silence run (window 6).
	if want := 60 * time.Millisecond; bs[1].Time != want {
		t.Errorf("stop time = %v, want %v", bs[1].Time, want)
	}
}

func TestFilter_LongNoteModeStretchesHold(t *testing.T) {
	probs := make([]float32, 18)
	probs[0], probs[1], probs[2] = 0.9, 0.9, 0.9
	// 15 silent windows = 150ms: over MinSilence, under LongNoteSilence.
	p := &scriptProvider{probs: probs}
	f := NewFilter(p, testConfig())
	f.SetMode(ModeLongNote)

	_, bs := feed(t, f, 0, len(probs))
	for _, b := range bs {
		if b.Kind == BoundaryStop {
			t.Fatalf("unexpected stop in long-note mode after 150ms silence")
		}
	}
	if f.State() != Speech {
		t.Errorf("state = %v, want Speech", f.State())
	}
}

func TestFilter_DecisionsTrackStateWithWindowGranularity(t *testing.T) {
	probs := []float32{0.9, 0.9, 0.9, 0.9}
	p := &scriptProvider{probs: probs}
	f := NewFilter(p, testConfig())

	ds, _ := feed(t, f, 0, len(probs))
	if len(ds) != 4 {
		t.Fatalf("decisions = %d, want 4", len(ds))
	}
	// First two windows are still within the debounce; third flips.
	wantFlags := []bool{false, false, true, true}
	for i, d := range ds {
		if d.InSpeech != wantFlags[i] {
			t.Errorf("decision %d: in_speech = %v, want %v", i, d.InSpeech, wantFlags[i])
		}
		if want := time.Duration(i+1) * 10 * time.Millisecond; d.Effective != want {
			t.Errorf("decision %d: effective = %v, want %v", i, d.Effective, want)
		}
	}
}

func TestFilter_ResyncsAfterCaptureGap(t *testing.T) {
	p := &scriptProvider{probs: make([]float32, 16)}
	f := NewFilter(p, testConfig())

	feed(t, f, 0, 2) // windows ending at 10ms and 20ms

	// A second of audio was dropped; the next chunk is gap-flagged.
	ds, _, err := f.Push(audio.Chunk{
		Samples:  make([]int16, 160),
		Rate:     16000,
		Channels: 1,
		Time:     1020 * time.Millisecond,
		Gap:      true,
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("decisions = %d, want 1", len(ds))
	}
	if want := 1030 * time.Millisecond; ds[0].Effective != want {
		t.Errorf("effective = %v after gap, want %v", ds[0].Effective, want)
	}

	// An unflagged timestamp jump resyncs the same way.
	ds, _ = feed(t, f, 5*time.Second, 1)
	if want := 5*time.Second + 10*time.Millisecond; ds[0].Effective != want {
		t.Errorf("effective = %v after jump, want %v", ds[0].Effective, want)
	}
}

func TestEnergyProvider_SilenceVsTone(t *testing.T) {
	p := NewEnergyProvider()
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	quiet := make([]int16, 160)
	loud := make([]int16, 160)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 8000
		} else {
			loud[i] = -8000
		}
	}

	pq, err := p.Probability(quiet)
	if err != nil {
		t.Fatalf("Probability: %v", err)
	}
	pl, err := p.Probability(loud)
	if err != nil {
		t.Fatalf("Probability: %v", err)
	}
	if pl <= pq {
		t.Errorf("loud prob %v should exceed quiet prob %v", pl, pq)
	}
}
