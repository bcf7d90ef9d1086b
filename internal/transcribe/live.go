package transcribe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hushnote/platform/internal/audio"
)

// TextEvent is one piece of transcribed text positioned on the stream
// timeline. Live (fast tier) events carry Final=false; the session emits a
// Final event when the refined transcript replaces them.
type TextEvent struct {
	Text  string
	Start time.Duration
	End   time.Duration
	Final bool
	// Boundary marks the event produced by the span flushed at a speech
	// edge: once it arrives, no more live text for that segment follows.
	// It is set even when the span transcribed to nothing.
	Boundary bool
}

// LiveConfig holds live transcriber settings.
type LiveConfig struct {
	SampleRate int
	MinWindow  time.Duration
	TempDir    string
	QueueDepth int
}

// Live accumulates in-speech audio and transcribes it on the fast tier as
// soon as MinWindow has been buffered. Feed and FlushBoundary run on the
// control goroutine; a single worker goroutine performs the transcription
// calls so emitted events stay in stream order.
type Live struct {
	cfg LiveConfig
	tr  Transcriber

	pending []int16
	start   time.Duration
	end     time.Duration
	have    bool

	flush chan liveSpan
	out   chan TextEvent
	wg    sync.WaitGroup
}

type liveSpan struct {
	samples  []int16
	start    time.Duration
	end      time.Duration
	boundary bool
}

// NewLive creates a live transcriber.
func NewLive(tr Transcriber, cfg LiveConfig) *Live {
	if cfg.MinWindow <= 0 {
		cfg.MinWindow = 2 * time.Second
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Live{
		cfg:   cfg,
		tr:    tr,
		flush: make(chan liveSpan, cfg.QueueDepth),
		out:   make(chan TextEvent, cfg.QueueDepth),
	}
}

// Start launches the transcription worker.
func (l *Live) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.worker(ctx)
}

// Events returns the ordered stream of live text events.
func (l *Live) Events() <-chan TextEvent { return l.out }

// Feed buffers an in-speech chunk, queueing a transcription once at least
// MinWindow of audio has accumulated.
func (l *Live) Feed(c audio.Chunk) {
	if !l.have {
		l.start = c.Time
		l.have = true
	}
	l.pending = append(l.pending, c.Mono()...)
	l.end = c.End()
	if audio.FramesToDuration(len(l.pending), l.cfg.SampleRate) >= l.cfg.MinWindow {
		l.emit(false)
	}
}

// FlushBoundary transcribes whatever partial window is buffered, marking
// the span as the segment tail. Called when speech ends so the end of a
// segment is not lost. It reports whether a tail span was queued; when it
// returns false no Boundary event will follow.
func (l *Live) FlushBoundary() bool {
	if !l.have || len(l.pending) == 0 {
		return false
	}
	return l.emit(true)
}

func (l *Live) emit(boundary bool) bool {
	samples := make([]int16, len(l.pending))
	copy(samples, l.pending)

	queued := true
	select {
	case l.flush <- liveSpan{samples: samples, start: l.start, end: l.end, boundary: boundary}:
	default:
		slog.Warn("live transcription backlog full, dropping window",
			"start", l.start, "end", l.end)
		queued = false
	}
	l.pending = l.pending[:0]
	l.have = false
	return queued
}

// Stop closes the intake. The event channel closes once the in-flight
// spans have been transcribed; callers must keep draining Events until
// then, which is what lets a backlogged worker finish its sends.
func (l *Live) Stop() {
	close(l.flush)
	go func() {
		l.wg.Wait()
		close(l.out)
	}()
}

func (l *Live) worker(ctx context.Context) {
	defer l.wg.Done()
	for s := range l.flush {
		text, err := l.transcribeSpan(ctx, s)
		if err != nil {
			slog.Warn("live transcription failed", "start", s.start, "error", err)
			text = ""
		}
		text = strings.TrimSpace(text)
		if text == "" && !s.boundary {
			continue
		}
		select {
		case l.out <- TextEvent{Text: text, Start: s.start, End: s.end, Boundary: s.boundary}:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Live) transcribeSpan(ctx context.Context, s liveSpan) (string, error) {
	path := filepath.Join(l.cfg.TempDir, "live-"+uuid.NewString()+".wav")
	w, err := audio.NewWavWriter(path, l.cfg.SampleRate)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	if err := w.Write(s.samples); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return l.tr.Transcribe(ctx, path, TierFast)
}
