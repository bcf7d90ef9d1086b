// Package recorder owns segment lifecycle: pre-roll injection, file
// writing, the silence-close timer, and discard of too-short segments.
package recorder

import (
	"encoding/json"
	"os"
	"time"

	"github.com/hushnote/platform/internal/faults"
)

// Segment is one continuous speech recording. Index is the monotonically
// increasing identity within a session. Start includes the pre-roll. A
// segment is mutated only while open; after close it is archived in the
// manifest and only its transcript fields are updated, by id.
type Segment struct {
	Index      int           `json:"index"`
	Path       string        `json:"path"`
	EventsPath string        `json:"events_path,omitempty"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Kept       bool          `json:"kept"`
	Corrupt    bool          `json:"corrupt,omitempty"`
	Gap        bool          `json:"gap,omitempty"`

	LiveTranscript string `json:"live_transcript,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	TranscriptErr  string `json:"transcript_error,omitempty"`
}

// logRecord is one line of a segment's events log.
type logRecord struct {
	TMs   int64  `json:"t_ms"`
	Kind  string `json:"kind"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
}

// eventLog writes newline-delimited JSON records keyed by stream time.
type eventLog struct {
	path string
	f    *os.File
	enc  *json.Encoder
}

func newEventLog(path string) (*eventLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, faults.Wrap(err, faults.IO, "create events log")
	}
	return &eventLog{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

func (l *eventLog) append(at time.Duration, kind, text string, final bool) error {
	rec := logRecord{TMs: at.Milliseconds(), Kind: kind, Text: text, Final: final}
	if err := l.enc.Encode(rec); err != nil {
		return faults.Wrap(err, faults.IO, "append events log")
	}
	return nil
}

func (l *eventLog) close() error {
	if err := l.f.Close(); err != nil {
		return faults.Wrap(err, faults.IO, "close events log")
	}
	return nil
}
