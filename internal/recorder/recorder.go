package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hushnote/platform/internal/audio"
	"github.com/hushnote/platform/internal/events"
	"github.com/hushnote/platform/internal/faults"
	"github.com/hushnote/platform/internal/vad"
)

// State of the recorder.
type State int

const (
	// Idle keeps the pre-roll ring rolling; no file exists.
	Idle State = iota
	// Recording streams chunks into the open segment file.
	Recording
	// Closing means a Stop boundary armed the silence timer; chunks are
	// still accepted (held aside) in case speech resumes.
	Closing
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Closing:
		return "closing"
	default:
		return "idle"
	}
}

// Config for the recorder. Durations are stream time.
type Config struct {
	Dir          string
	SampleRate   int           // rate of the full-rate stream; files are mono at this rate
	PreBuffer    time.Duration // rolling pre-roll window
	SilenceClose time.Duration // hold after a Stop boundary before finalizing
	MinSegment   time.Duration // shorter segments are discarded
}

// CloseFunc receives each finalized segment (kept or discarded).
type CloseFunc func(Segment)

// Recorder is the segment state machine. It is owned by the control
// goroutine; the silence timer runs on stream time (chunk timestamps) so
// closure is deterministic under scheduling jitter.
type Recorder struct {
	cfg     Config
	bus     *events.Bus
	onClose CloseFunc

	ring  *audio.Ring
	state State
	next  int

	seg    *Segment
	wav    *audio.WavWriter
	log    *eventLog
	stopAt time.Duration

	// Set when a segment could not be opened. The VAD is in Speech state
	// and will deliver a matching Stop; that Stop is absorbed instead of
	// being treated as a protocol violation.
	skipStop bool

	// Chunks that arrived during Closing. Flushed into the file if
	// speech resumes; returned to the pre-roll ring if the segment
	// closes, so the next segment's pre-roll is seamless.
	held []audio.Chunk

	liveText []string
}

// New creates an idle recorder.
func New(cfg Config, bus *events.Bus, onClose CloseFunc) *Recorder {
	return &Recorder{
		cfg:     cfg,
		bus:     bus,
		onClose: onClose,
		ring:    audio.NewRing(cfg.PreBuffer),
	}
}

// State returns the current state.
func (r *Recorder) State() State { return r.state }

// HandleBoundary advances the state machine for a debounced speech edge.
// Boundaries must be delivered before the chunk they were released with.
func (r *Recorder) HandleBoundary(b vad.Boundary) error {
	switch b.Kind {
	case vad.BoundaryStart:
		switch r.state {
		case Idle:
			return r.open(b.Time)
		case Recording:
			// Duplicate Start signals are idempotent.
			return nil
		case Closing:
			// Speech resumed before the timer expired: same segment,
			// same file, held audio becomes part of it.
			return r.resume()
		}
	case vad.BoundaryStop:
		switch r.state {
		case Recording:
			r.state = Closing
			r.stopAt = b.Time
			return nil
		case Closing:
			// Timer already armed; a repeated Stop changes nothing.
			return nil
		case Idle:
			if r.skipStop {
				// Pairs with a Start whose segment open failed.
				r.skipStop = false
				return nil
			}
			return faults.Newf(faults.Protocol, "stop boundary at %v with no open segment", b.Time)
		}
	}
	return nil
}

// HandleChunk routes one tagged full-rate chunk according to state.
func (r *Recorder) HandleChunk(c audio.Chunk) error {
	switch r.state {
	case Idle:
		r.ring.Push(c)
		return nil

	case Recording:
		r.write(c)
		return nil

	case Closing:
		r.held = append(r.held, c)
		if c.End()-r.stopAt >= r.cfg.SilenceClose {
			return r.finalize()
		}
		return nil
	}
	return nil
}

// HandleText appends a live transcript fragment to the open segment's
// events log. Fragments arriving while no segment is open are dropped.
func (r *Recorder) HandleText(at time.Duration, text string, final bool) {
	if r.seg == nil || r.log == nil {
		return
	}
	if err := r.log.append(at, "text", text, final); err != nil {
		slog.Warn("events log write failed", "segment", r.seg.Index, "error", err)
	}
	if !final {
		r.liveText = append(r.liveText, text)
	}
}

// Finalize force-closes any open segment, as if a Stop boundary had been
// received and the timer expired. Used on session stop.
func (r *Recorder) Finalize() error {
	switch r.state {
	case Idle:
		return nil
	case Recording:
		r.state = Closing
		return r.finalize()
	case Closing:
		return r.finalize()
	}
	return nil
}

func (r *Recorder) open(boundaryAt time.Duration) error {
	idx := r.next
	r.next++

	seg := &Segment{
		Index: idx,
		Path:  filepath.Join(r.cfg.Dir, fmt.Sprintf("segment_%03d.wav", idx)),
	}

	preroll := r.ring.Snapshot()
	if start, ok := r.ring.Start(); ok {
		seg.Start = start
	} else {
		seg.Start = boundaryAt
	}

	w, err := audio.NewWavWriter(seg.Path, r.cfg.SampleRate)
	if err != nil {
		// Cannot even create the file: skip this segment, stay idle, keep
		// recording the next one. The matching Stop is absorbed.
		slog.Error("segment open failed", "segment", idx, "error", err)
		r.publishError(err)
		r.skipStop = true
		return nil
	}
	r.skipStop = false

	seg.EventsPath = filepath.Join(r.cfg.Dir, fmt.Sprintf("segment_%03d.events.jsonl", idx))
	lg, err := newEventLog(seg.EventsPath)
	if err != nil {
		slog.Warn("events log open failed", "segment", idx, "error", err)
		seg.EventsPath = ""
	}

	r.seg = seg
	r.wav = w
	r.log = lg
	r.state = Recording
	r.liveText = r.liveText[:0]

	// Pre-roll first, then live chunks.
	for _, c := range preroll {
		r.write(c)
	}
	r.ring.Reset()

	if r.log != nil {
		_ = r.log.append(seg.Start, "opened", "", false)
	}
	r.bus.Publish(events.Event{Kind: events.SegmentOpened, Stream: seg.Start, Segment: idx, Path: seg.Path})
	return nil
}

// write appends one chunk to the open file, downmixing multi-channel
// audio. A write failure marks the segment corrupt and recording of this
// segment stops, but the state machine continues so the session survives.
func (r *Recorder) write(c audio.Chunk) {
	if c.Gap {
		r.seg.Gap = true
	}
	if r.wav == nil {
		return
	}
	if err := r.wav.Write(c.Mono()); err != nil {
		slog.Error("segment write failed", "segment", r.seg.Index, "error", err)
		r.seg.Corrupt = true
		_ = r.wav.Close()
		r.wav = nil
		r.publishError(err)
	}
}

func (r *Recorder) resume() error {
	held := r.held
	r.held = nil
	for _, c := range held {
		r.write(c)
	}
	r.state = Recording
	return nil
}

func (r *Recorder) finalize() error {
	seg := r.seg
	var written time.Duration
	if r.wav != nil {
		written = r.wav.Duration()
		if err := r.wav.Close(); err != nil {
			slog.Error("segment finalize failed", "segment", seg.Index, "error", err)
			seg.Corrupt = true
			r.publishError(err)
		}
	}
	r.wav = nil

	seg.End = seg.Start + written
	seg.Kept = !seg.Corrupt && written >= r.cfg.MinSegment
	seg.LiveTranscript = strings.TrimSpace(strings.Join(r.liveText, " "))

	if r.log != nil {
		_ = r.log.append(seg.End, "closed", "", false)
		if err := r.log.close(); err != nil {
			slog.Warn("events log close failed", "segment", seg.Index, "error", err)
		}
	}
	r.log = nil

	if !seg.Kept {
		// Too short (or corrupt): the recording is discarded but the
		// segment stays in the manifest for accounting.
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("discard remove failed", "path", seg.Path, "error", err)
		}
		if seg.EventsPath != "" {
			_ = os.Remove(seg.EventsPath)
		}
		seg.Path = ""
		seg.EventsPath = ""
		r.bus.Publish(events.Event{Kind: events.SegmentDiscarded, Stream: seg.End, Segment: seg.Index})
	} else {
		r.bus.Publish(events.Event{
			Kind: events.SegmentClosed, Stream: seg.End,
			Segment: seg.Index, Path: seg.Path, Kept: true,
		})
	}

	// The audio held during the silence hold is the freshest pre-roll
	// candidate for the next segment.
	held := r.held
	r.held = nil
	r.state = Idle
	r.seg = nil
	for _, c := range held {
		r.ring.Push(c)
	}

	if r.onClose != nil {
		r.onClose(*seg)
	}
	return nil
}

func (r *Recorder) publishError(err error) {
	r.bus.Publish(events.Event{Kind: events.PipelineError, Error: err.Error()})
}
