package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWavWriter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.wav")
	w, err := NewWavWriter(path, 16000)
	if err != nil {
		t.Fatalf("NewWavWriter: %v", err)
	}

	// Two incremental writes, 16000 frames total = 1s.
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	if err := w.Write(samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(samples); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, want := w.Duration().Seconds(), 1.0; got != want {
		t.Errorf("Duration = %vs, want %vs", got, want)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		t.Fatal("decoder reports invalid WAV")
	}
	if dec.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Errorf("channels = %d, want 1", dec.NumChans)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if got := len(buf.Data); got != 16000 {
		t.Errorf("decoded %d frames, want 16000", got)
	}
	if buf.Data[1] != 1 || buf.Data[999] != 999 {
		t.Error("decoded samples do not match written samples")
	}
}
