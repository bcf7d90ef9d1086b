package audio

import (
	"testing"
	"time"
)

func chunkAt(t time.Duration, frames, rate int) Chunk {
	return Chunk{
		Samples:  make([]int16, frames),
		Rate:     rate,
		Channels: 1,
		Time:     t,
	}
}

func TestRing_KeepsWindow(t *testing.T) {
	// 100ms chunks at 16kHz, 300ms window
	r := NewRing(300 * time.Millisecond)
	for i := 0; i < 10; i++ {
		r.Push(chunkAt(time.Duration(i)*100*time.Millisecond, 1600, 16000))
	}

	if got := r.Duration(); got > 300*time.Millisecond {
		t.Errorf("buffered %v, want <= 300ms", got)
	}
	if got := r.Len(); got != 3 {
		t.Errorf("buffered %d chunks, want 3", got)
	}

	start, ok := r.Start()
	if !ok {
		t.Fatal("expected non-empty ring")
	}
	if want := 700 * time.Millisecond; start != want {
		t.Errorf("start = %v, want %v", start, want)
	}
}

func TestRing_SnapshotOrder(t *testing.T) {
	r := NewRing(time.Second)
	for i := 0; i < 5; i++ {
		r.Push(chunkAt(time.Duration(i)*100*time.Millisecond, 1600, 16000))
	}

	snap := r.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i].Time <= snap[i-1].Time {
			t.Fatalf("snapshot out of order at %d: %v <= %v", i, snap[i].Time, snap[i-1].Time)
		}
	}
}

func TestRing_Reset(t *testing.T) {
	r := NewRing(time.Second)
	r.Push(chunkAt(0, 1600, 16000))
	r.Reset()

	if r.Len() != 0 {
		t.Errorf("len = %d after reset, want 0", r.Len())
	}
	if _, ok := r.Start(); ok {
		t.Error("Start should report empty after reset")
	}
}

func TestChunk_Durations(t *testing.T) {
	c := chunkAt(500*time.Millisecond, 800, 16000)
	if got, want := c.Duration(), 50*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
	if got, want := c.End(), 550*time.Millisecond; got != want {
		t.Errorf("End = %v, want %v", got, want)
	}
}

func TestChunk_MonoMixdown(t *testing.T) {
	c := Chunk{
		Samples:  []int16{100, 200, -100, -200, 0, 50},
		Rate:     16000,
		Channels: 2,
	}
	mono := c.Mono()
	want := []int16{150, -150, 25}
	if len(mono) != len(want) {
		t.Fatalf("mono length = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("mono[%d] = %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestChunk_MonoPassthrough(t *testing.T) {
	c := Chunk{Samples: []int16{1, 2, 3}, Rate: 16000, Channels: 1}
	mono := c.Mono()
	if &mono[0] != &c.Samples[0] {
		t.Error("mono input should not be copied")
	}
}
