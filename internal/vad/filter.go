package vad

import (
	"time"

	"github.com/hushnote/platform/internal/audio"
)

// State of the hysteresis machine.
type State int

const (
	Silence State = iota
	Speech
)

func (s State) String() string {
	if s == Speech {
		return "speech"
	}
	return "silence"
}

// Mode selects the silence hold. LongNote keeps a segment open through
// much longer pauses; the state machine topology is identical.
type Mode int

const (
	ModeNormal Mode = iota
	ModeLongNote
)

func (m Mode) String() string {
	if m == ModeLongNote {
		return "long_note"
	}
	return "normal"
}

// BoundaryKind tags a Boundary.
type BoundaryKind int

const (
	BoundaryStart BoundaryKind = iota
	BoundaryStop
)

func (k BoundaryKind) String() string {
	if k == BoundaryStop {
		return "stop"
	}
	return "start"
}

// Boundary is a debounced speech edge. Time is when the sustained run
// that satisfied the hysteresis began, not the window that completed it.
type Boundary struct {
	Kind BoundaryKind
	Time time.Duration
}

// Decision is the per-window speech flag. Effective is the stream time
// from which the flag applies: the end of the window that produced it,
// since the classification is only known once the window has been heard.
type Decision struct {
	InSpeech  bool
	Effective time.Duration
}

// Config for the filter. All durations are stream time.
type Config struct {
	SampleRate      int           // low-rate stream, e.g. 16000
	WindowSize      int           // samples per classification window
	Threshold       float32       // probability at or above which a window counts as speech
	MinSpeech       time.Duration // sustained speech required to emit Start
	MinSilence      time.Duration // sustained silence required to emit Stop (ModeNormal)
	LongNoteSilence time.Duration // silence hold in ModeLongNote
}

// Filter consumes the low-rate mono stream and emits per-window decisions
// plus debounced Start/Stop boundaries. Owned by the control goroutine.
type Filter struct {
	provider Provider
	cfg      Config
	mode     Mode

	state State

	// window assembly
	pending  []int16
	bufStart time.Duration
	primed   bool

	// hysteresis runs; zero Duration plus false flag means no candidate
	runStart time.Duration
	running  bool
}

// NewFilter creates a filter in Silence state.
func NewFilter(provider Provider, cfg Config) *Filter {
	return &Filter{provider: provider, cfg: cfg}
}

// SetMode switches the silence hold. Takes effect on the next window.
func (f *Filter) SetMode(m Mode) { f.mode = m }

// Mode returns the current mode.
func (f *Filter) Mode() Mode { return f.mode }

// State returns the current state.
func (f *Filter) State() State { return f.state }

func (f *Filter) silenceHold() time.Duration {
	if f.mode == ModeLongNote {
		return f.cfg.LongNoteSilence
	}
	return f.cfg.MinSilence
}

// Push feeds one low-rate chunk and returns the decisions and boundaries
// produced by the windows completed within it. A hole in the capture
// timeline (a gap-flagged chunk, or a timestamp that has diverged from
// the assembled window position by a full window) drops the partial
// window and resyncs assembly to the chunk's timestamp, so Effective
// stamps never drift behind the stream.
func (f *Filter) Push(c audio.Chunk) ([]Decision, []Boundary, error) {
	winDur := audio.FramesToDuration(f.cfg.WindowSize, f.cfg.SampleRate)

	if !f.primed {
		f.bufStart = c.Time
		f.primed = true
	} else {
		drift := c.Time - (f.bufStart + audio.FramesToDuration(len(f.pending), f.cfg.SampleRate))
		if c.Gap || drift >= winDur || drift <= -winDur {
			f.pending = f.pending[:0]
			f.running = false
			f.bufStart = c.Time
		}
	}
	f.pending = append(f.pending, c.Samples...)

	var decisions []Decision
	var boundaries []Boundary
	for len(f.pending) >= f.cfg.WindowSize {
		window := f.pending[:f.cfg.WindowSize]
		f.pending = f.pending[f.cfg.WindowSize:]

		winStart := f.bufStart
		winEnd := winStart + winDur
		f.bufStart = winEnd

		prob, err := f.provider.Probability(window)
		if err != nil {
			return decisions, boundaries, err
		}

		if b := f.classify(prob, winStart, winEnd); b != nil {
			boundaries = append(boundaries, *b)
		}
		decisions = append(decisions, Decision{
			InSpeech:  f.state == Speech,
			Effective: winEnd,
		})
	}

	return decisions, boundaries, nil
}

// classify advances the hysteresis for one window and returns a boundary
// if the machine flipped.
func (f *Filter) classify(prob float32, winStart, winEnd time.Duration) *Boundary {
	speechy := prob >= f.cfg.Threshold

	switch f.state {
	case Silence:
		if !speechy {
			f.running = false
			return nil
		}
		if !f.running {
			f.running = true
			f.runStart = winStart
		}
		if winEnd-f.runStart >= f.cfg.MinSpeech {
			f.state = Speech
			start := f.runStart
			f.running = false
			return &Boundary{Kind: BoundaryStart, Time: start}
		}

	case Speech:
		if speechy {
			f.running = false
			return nil
		}
		if !f.running {
			f.running = true
			f.runStart = winStart
		}
		if winEnd-f.runStart >= f.silenceHold() {
			f.state = Silence
			stop := f.runStart
			f.running = false
			return &Boundary{Kind: BoundaryStop, Time: stop}
		}
	}
	return nil
}
