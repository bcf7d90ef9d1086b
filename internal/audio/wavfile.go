package audio

import (
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/hushnote/platform/internal/faults"
)

// WavWriter streams mono 16-bit PCM into a WAV file. Writes are
// incremental; Close patches the RIFF sizes. One writer exists per open
// segment.
type WavWriter struct {
	path   string
	f      *os.File
	enc    *wav.Encoder
	rate   int
	frames int

	// scratch buffer reused across Write calls
	ints []int
}

// NewWavWriter creates the file and writes a provisional header.
func NewWavWriter(path string, rate int) (*WavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, faults.Wrap(err, faults.IO, "create segment file")
	}
	return &WavWriter{
		path: path,
		f:    f,
		enc:  wav.NewEncoder(f, rate, 16, 1, 1),
		rate: rate,
	}, nil
}

// Path returns the file path.
func (w *WavWriter) Path() string { return w.path }

// Write appends mono samples.
func (w *WavWriter) Write(samples []int16) error {
	if cap(w.ints) < len(samples) {
		w.ints = make([]int, len(samples))
	}
	w.ints = w.ints[:len(samples)]
	for i, s := range samples {
		w.ints[i] = int(s)
	}

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: w.rate},
		Data:           w.ints,
		SourceBitDepth: 16,
	}
	if err := w.enc.Write(buf); err != nil {
		return faults.Wrap(err, faults.IO, "write segment audio")
	}
	w.frames += len(samples)
	return nil
}

// Duration returns the audio written so far.
func (w *WavWriter) Duration() time.Duration {
	return FramesToDuration(w.frames, w.rate)
}

// Close finalizes the header and closes the file.
func (w *WavWriter) Close() error {
	encErr := w.enc.Close()
	closeErr := w.f.Close()
	if encErr != nil {
		return faults.Wrap(encErr, faults.IO, "finalize segment file")
	}
	if closeErr != nil {
		return faults.Wrap(closeErr, faults.IO, "close segment file")
	}
	return nil
}
