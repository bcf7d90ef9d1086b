// Package session owns the capture session lifecycle: directory layout,
// the control loop wiring every pipeline stage, and the manifest.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hushnote/platform/internal/faults"
	"github.com/hushnote/platform/internal/recorder"
)

// Manifest is the session's durable index. It is rewritten in full on
// every segment close and transcript merge; writes go through a temp file
// and rename so a crash never leaves a torn manifest.
type Manifest struct {
	ID        string             `json:"id"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitzero"`
	Mode      string             `json:"mode"`
	Title     string             `json:"title,omitempty"`
	Gaps      int                `json:"gaps,omitempty"`
	Segments  []recorder.Segment `json:"segments"`

	path string
}

func newManifest(id, dir string) *Manifest {
	return &Manifest{
		ID:        id,
		StartedAt: time.Now(),
		path:      filepath.Join(dir, "manifest.json"),
	}
}

// upsert inserts or replaces a segment by index. Segments close in order,
// so this is an append in practice; the search handles rewrites after
// transcript merges.
func (m *Manifest) upsert(seg recorder.Segment) {
	for i := range m.Segments {
		if m.Segments[i].Index == seg.Index {
			m.Segments[i] = seg
			return
		}
	}
	m.Segments = append(m.Segments, seg)
}

// setTranscript merges a refinement result into the segment with the
// given index. It reports whether the segment was found.
func (m *Manifest) setTranscript(index int, text, errMsg string) bool {
	for i := range m.Segments {
		if m.Segments[i].Index == index {
			m.Segments[i].Transcript = text
			m.Segments[i].TranscriptErr = errMsg
			return true
		}
	}
	return false
}

// write persists the manifest atomically.
func (m *Manifest) write() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return faults.Wrap(err, faults.IO, "encode manifest")
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return faults.Wrap(err, faults.IO, "write manifest")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return faults.Wrap(err, faults.IO, "rename manifest")
	}
	return nil
}
