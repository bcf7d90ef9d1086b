package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hushnote/platform/internal/audio"
	"github.com/hushnote/platform/internal/command"
	"github.com/hushnote/platform/internal/config"
	"github.com/hushnote/platform/internal/events"
	"github.com/hushnote/platform/internal/faults"
	"github.com/hushnote/platform/internal/merge"
	"github.com/hushnote/platform/internal/metrics"
	"github.com/hushnote/platform/internal/recorder"
	"github.com/hushnote/platform/internal/transcribe"
	"github.com/hushnote/platform/internal/vad"
)

// Controller runs one capture session. All pipeline stages except capture
// and the transcription workers execute on its single control goroutine:
// the capture source hands chunks over a bounded channel, and the live
// transcriber and worker pool talk back through their result channels.
type Controller struct {
	cfg      *config.Config
	bus      *events.Bus
	met      *metrics.Metrics
	source   audio.Source
	provider vad.Provider

	down     *audio.DownSampler
	filter   *vad.Filter
	hub      *merge.Merge
	rec      *recorder.Recorder
	live     *transcribe.Live
	detector *command.Detector
	pool     *transcribe.Pool

	manifest *Manifest
	dir      string

	modeCh chan vad.Mode
	loaded bool
}

// New builds a controller and its session directory. The transcriber
// serves both tiers; the provider is loaded asynchronously by Run.
func New(cfg *config.Config, bus *events.Bus, met *metrics.Metrics,
	source audio.Source, provider vad.Provider, tr transcribe.Transcriber) (*Controller, error) {

	id := uuid.NewString()
	dir := filepath.Join(cfg.Session.Dir, time.Now().Format("20060102-150405")+"-"+id[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, faults.Wrap(err, faults.IO, "create session dir")
	}

	down, err := audio.NewDownSampler(cfg.Audio.DeviceRate, cfg.Audio.LowRate)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		bus:      bus,
		met:      met,
		source:   source,
		provider: provider,
		down:     down,
		hub:      merge.New(),
		detector: command.NewDetector(command.Config{
			Trigger: cfg.Command.Trigger,
			Stop:    cfg.Command.Stop,
		}),
		manifest: newManifest(id, dir),
		dir:      dir,
		modeCh:   make(chan vad.Mode, 4),
	}
	c.manifest.Mode = vad.ModeNormal.String()

	c.filter = vad.NewFilter(provider, vad.Config{
		SampleRate:      cfg.Audio.LowRate,
		WindowSize:      cfg.VAD.WindowSize,
		Threshold:       cfg.VAD.Threshold,
		MinSpeech:       cfg.VAD.MinSpeechDuration(),
		MinSilence:      cfg.VAD.MinSilenceDuration(),
		LongNoteSilence: cfg.VAD.LongNoteSilenceDuration(),
	})

	c.rec = recorder.New(recorder.Config{
		Dir:          dir,
		SampleRate:   cfg.Audio.DeviceRate,
		PreBuffer:    cfg.Recorder.PreBufferDuration(),
		SilenceClose: cfg.Recorder.SilenceCloseDuration(),
		MinSegment:   cfg.Recorder.MinSegmentDuration(),
	}, bus, c.onSegmentClose)

	c.live = transcribe.NewLive(tr, transcribe.LiveConfig{
		SampleRate: cfg.Audio.DeviceRate,
		MinWindow:  cfg.Transcription.LiveWindowDuration(),
		TempDir:    dir,
	})

	c.pool = transcribe.NewPool(tr, transcribe.PoolConfig{
		Workers:     cfg.Transcription.Workers,
		MaxAttempts: cfg.Transcription.MaxAttempts,
		JobTimeout:  cfg.Transcription.JobTimeoutDuration(),
		QueueDepth:  cfg.Transcription.QueueDepth,
		DrainWindow: cfg.Transcription.DrainWindowDuration(),
	})

	return c, nil
}

// Dir returns the session directory.
func (c *Controller) Dir() string { return c.dir }

// SetMode requests a silence-hold mode switch. The change is handed to
// the control goroutine over a bounded channel; it reports false if the
// channel is full.
func (c *Controller) SetMode(m vad.Mode) bool {
	select {
	case c.modeCh <- m:
		return true
	default:
		return false
	}
}

// Run executes the session until ctx is cancelled or the source closes.
// The VAD provider loads concurrently with capture startup; chunks that
// arrive before it is ready only feed the pre-roll ring.
func (c *Controller) Run(ctx context.Context) error {
	loadCh := make(chan error, 1)
	go func() { loadCh <- c.provider.Load(ctx) }()

	if err := c.source.Start(ctx); err != nil {
		return err
	}
	defer c.source.Stop()

	c.live.Start(ctx)
	c.pool.Start(ctx)

	if err := c.manifest.write(); err != nil {
		return err
	}
	c.bus.Publish(events.Event{Kind: events.RecordingStarted, Path: c.dir})
	slog.Info("session started", "id", c.manifest.ID, "dir", c.dir)

	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case err := <-loadCh:
			if err != nil {
				runErr = faults.Wrap(err, faults.ModelLoad, "load vad provider")
				break loop
			}
			c.loaded = true
			loadCh = nil

		case m := <-c.modeCh:
			c.filter.SetMode(m)
			c.manifest.Mode = m.String()
			c.bus.Publish(events.Event{Kind: events.ModeChanged, Mode: m.String()})

		case chunk, ok := <-c.source.Chunks():
			if !ok {
				break loop
			}
			if err := c.handleChunk(chunk); err != nil {
				runErr = err
				break loop
			}

		case ev, ok := <-c.live.Events():
			if ok {
				c.handleText(ev)
			}

		case res, ok := <-c.pool.Results():
			if ok {
				c.handleResult(res)
			}
		}
	}

	return c.shutdown(runErr)
}

// handleChunk drives one full-rate chunk through downsampling, VAD,
// merge, the recorder, and the live tier.
func (c *Controller) handleChunk(chunk audio.Chunk) error {
	c.met.ChunksCaptured.Inc()
	if chunk.Gap {
		c.met.ChunksDropped.Inc()
		c.manifest.Gaps++
		c.bus.Publish(events.Event{Kind: events.CaptureGap, Stream: chunk.Time})
		// The resampler's filter state spans the hole; start it fresh.
		if err := c.down.Reset(); err != nil {
			slog.Warn("resampler reset failed", "at", chunk.Time, "error", err)
			c.publishError(err)
		}
	}

	if !c.loaded {
		// Provider still loading: keep the pre-roll ring warm, no VAD.
		return c.rec.HandleChunk(chunk)
	}

	low, err := c.down.Process(chunk)
	if err != nil {
		slog.Warn("downsample failed", "at", chunk.Time, "error", err)
		c.publishError(err)
		return nil
	}
	if len(low.Samples) > 0 {
		decisions, boundaries, err := c.filter.Push(low)
		if err != nil {
			slog.Warn("vad window failed", "at", low.Time, "error", err)
			c.publishError(err)
		}
		c.met.VADWindowsProcessed.Add(float64(len(decisions)))
		c.hub.Observe(decisions...)
		c.hub.ObserveBoundary(boundaries...)
	}

	tagged, released, err := c.hub.Tag(chunk)
	if err != nil {
		return err
	}

	for _, b := range released {
		if err := c.handleBoundary(b); err != nil {
			return err
		}
	}

	if err := c.rec.HandleChunk(tagged); err != nil {
		if faults.IsFatal(err) {
			return err
		}
		c.publishError(err)
	}

	if tagged.InSpeech {
		c.live.Feed(tagged)
	}
	return nil
}

func (c *Controller) handleBoundary(b vad.Boundary) error {
	wasIdle := c.rec.State() == recorder.Idle

	switch b.Kind {
	case vad.BoundaryStart:
		c.met.SpeechStarts.Inc()
		c.bus.Publish(events.Event{Kind: events.SpeechStarted, Stream: b.Time})
	case vad.BoundaryStop:
		c.bus.Publish(events.Event{Kind: events.SpeechEnded, Stream: b.Time})
		// When a tail span was queued its text has not arrived yet; the
		// detector boundary waits for the marked event so a title ending
		// in the tail window is not cut off.
		if !c.live.FlushBoundary() {
			if det, ok := c.detector.Boundary(); ok {
				c.applyDetection(det)
			}
		}
	}

	if err := c.rec.HandleBoundary(b); err != nil {
		if faults.IsFatal(err) {
			return err
		}
		c.publishError(err)
	}
	if wasIdle && c.rec.State() == recorder.Recording {
		c.met.SegmentsOpened.Inc()
	}
	return nil
}

// handleText routes one live text event to the events log, the command
// detector, and the bus.
func (c *Controller) handleText(ev transcribe.TextEvent) {
	if ev.Text != "" {
		c.met.LiveWindows.Inc()
		c.rec.HandleText(ev.Start, ev.Text, ev.Final)
		c.bus.Publish(events.Event{Kind: events.LiveText, Stream: ev.Start, Text: ev.Text})

		for _, det := range c.detector.Feed(ev.Text) {
			c.applyDetection(det)
		}
	}
	if ev.Boundary {
		if det, ok := c.detector.Boundary(); ok {
			c.applyDetection(det)
		}
	}
}

func (c *Controller) applyDetection(det command.Detection) {
	switch det.Kind {
	case command.TriggerHeard:
		c.bus.Publish(events.Event{Kind: events.CommandDetected, Text: c.cfg.Command.Trigger})
	case command.TitleCaptured:
		c.manifest.Title = det.Title
		c.bus.Publish(events.Event{Kind: events.TitleCaptured, Text: det.Title})
		c.writeManifest()
	}
}

// handleResult merges one refinement result into the manifest.
func (c *Controller) handleResult(res transcribe.Result) {
	if res.Attempt > 0 {
		c.met.JobRetries.Add(float64(res.Attempt))
	}
	if res.OK {
		c.met.JobsCompleted.Inc()
		c.manifest.setTranscript(res.Segment, res.Text, "")
		c.bus.Publish(events.Event{
			Kind: events.JobCompleted, JobID: res.JobID,
			Segment: res.Segment, Text: res.Text,
		})
	} else {
		c.met.JobsFailed.Inc()
		errMsg := "unknown failure"
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		c.manifest.setTranscript(res.Segment, "", errMsg)
		c.bus.Publish(events.Event{
			Kind: events.JobFailed, JobID: res.JobID,
			Segment: res.Segment, Error: errMsg,
		})
	}
	c.writeManifest()
	c.publishQueueStatus()
}

// onSegmentClose runs on the control goroutine when the recorder
// finalizes a segment.
func (c *Controller) onSegmentClose(seg recorder.Segment) {
	dur := seg.End - seg.Start
	if seg.Kept {
		c.met.SegmentsClosed.Inc()
		c.met.SegmentDuration.Observe(dur.Seconds())
	} else {
		c.met.SegmentsDiscarded.Inc()
	}

	if seg.Kept {
		job := transcribe.NewJob(seg.Index, seg.Path, transcribe.TierRefined)
		if c.pool.Submit(job) {
			c.met.JobsQueued.Inc()
			c.bus.Publish(events.Event{Kind: events.JobQueued, JobID: job.ID, Segment: seg.Index})
		} else {
			seg.TranscriptErr = "refinement queue full"
			c.bus.Publish(events.Event{
				Kind: events.JobFailed, Segment: seg.Index,
				Error: seg.TranscriptErr,
			})
		}
	}

	c.manifest.upsert(seg)
	c.writeManifest()
	c.publishQueueStatus()
}

// shutdown flushes the open segment, drains the live tier and the pool,
// and writes the final manifest. The first error wins; shutdown still
// runs to completion so no audio is stranded.
func (c *Controller) shutdown(runErr error) error {
	// Live tier first: its remaining text belongs to the open segment.
	c.live.FlushBoundary()
	c.live.Stop()
	for ev := range c.live.Events() {
		c.handleText(ev)
	}
	if det, ok := c.detector.Boundary(); ok {
		c.applyDetection(det)
	}

	if err := c.rec.Finalize(); err != nil && runErr == nil {
		runErr = err
	}

	c.pool.Stop()
	for res := range c.pool.Results() {
		c.handleResult(res)
	}

	if err := c.down.Close(); err != nil {
		slog.Warn("resampler close failed", "error", err)
	}

	c.manifest.EndedAt = time.Now()
	if err := c.manifest.write(); err != nil && runErr == nil {
		runErr = err
	}

	c.bus.Publish(events.Event{Kind: events.RecordingStopped, Path: c.dir})
	slog.Info("session stopped", "id", c.manifest.ID,
		"segments", len(c.manifest.Segments), "gaps", c.manifest.Gaps)
	return runErr
}

func (c *Controller) writeManifest() {
	if err := c.manifest.write(); err != nil {
		slog.Error("manifest write failed", "error", err)
		c.publishError(err)
	}
}

func (c *Controller) publishQueueStatus() {
	pending := c.pool.Pending()
	c.met.QueueDepth.Set(float64(pending))
	c.bus.Publish(events.Event{Kind: events.QueueStatus, Pending: pending})
}

func (c *Controller) publishError(err error) {
	c.bus.Publish(events.Event{Kind: events.PipelineError, Error: err.Error()})
}

// Snapshot reports current session state for the status endpoint.
type Snapshot struct {
	ID       string `json:"id"`
	Dir      string `json:"dir"`
	Mode     string `json:"mode"`
	Segments int    `json:"segments"`
	Pending  int    `json:"pending_jobs"`
	Title    string `json:"title,omitempty"`
}

// Status returns a snapshot. Counts read through the pool's atomics; the
// manifest fields are read without synchronization and are advisory only.
func (c *Controller) Status() Snapshot {
	return Snapshot{
		ID:       c.manifest.ID,
		Dir:      c.dir,
		Mode:     c.manifest.Mode,
		Segments: len(c.manifest.Segments),
		Pending:  c.pool.Pending(),
		Title:    c.manifest.Title,
	}
}
