package transcribe

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hushnote/platform/internal/faults"
	"github.com/hushnote/platform/internal/resilience"
)

// Job is one refinement transcription request for a closed segment.
type Job struct {
	ID      string
	Segment int
	Path    string
	Tier    Tier
	Attempt int
}

// NewJob creates a job with a fresh id.
func NewJob(segment int, path string, tier Tier) Job {
	return Job{ID: uuid.NewString(), Segment: segment, Path: path, Tier: tier}
}

// Result reports the outcome of a job. Results are matched to segments by
// id and index, never by arrival order. Attempt is the zero-based attempt
// that produced the result, i.e. the number of retries consumed.
type Result struct {
	JobID   string
	Segment int
	Attempt int
	Text    string
	OK      bool
	Err     error
}

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	Workers     int
	MaxAttempts int
	JobTimeout  time.Duration
	QueueDepth  int
	DrainWindow time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.DrainWindow <= 0 {
		c.DrainWindow = 30 * time.Second
	}
	return c
}

// Pool runs W workers over a FIFO job queue. A dispatcher goroutine owns
// the queue so Submit never blocks the control loop and requeued jobs
// cannot deadlock against full channels. A panicking job is contained and
// retried like any other failure.
type Pool struct {
	cfg PoolConfig
	tr  Transcriber

	intake   chan Job
	requeue  chan Job
	ready    chan Job
	finished chan struct{}
	results  chan Result

	pending      atomic.Int64
	cancel       context.CancelFunc
	dispatchDone chan struct{}
	wg           sync.WaitGroup
}

// NewPool creates a worker pool around the given capability.
func NewPool(tr Transcriber, cfg PoolConfig) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:          cfg,
		tr:           tr,
		intake:       make(chan Job, cfg.QueueDepth),
		requeue:      make(chan Job, cfg.Workers),
		ready:        make(chan Job),
		finished:     make(chan struct{}, cfg.Workers),
		results:      make(chan Result, cfg.QueueDepth),
		dispatchDone: make(chan struct{}),
	}
}

// Start launches the dispatcher and workers.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.dispatch()
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit enqueues a job without blocking. It reports false when the intake
// buffer is full; the caller records the job as failed.
func (p *Pool) Submit(j Job) bool {
	select {
	case p.intake <- j:
		p.pending.Add(1)
		return true
	default:
		return false
	}
}

// Results returns the result stream. The channel is closed by Stop after
// the drain window.
func (p *Pool) Results() <-chan Result { return p.results }

// Pending returns the number of jobs submitted but not yet resolved.
func (p *Pool) Pending() int { return int(p.pending.Load()) }

// Stop closes the intake and waits up to DrainWindow for queued jobs to
// finish, then abandons the remainder.
func (p *Pool) Stop() {
	close(p.intake)
	select {
	case <-p.dispatchDone:
	case <-time.After(p.cfg.DrainWindow):
		slog.Warn("transcription pool drain window expired, abandoning jobs",
			"pending", p.Pending())
		p.cancel()
		<-p.dispatchDone
	}
	p.wg.Wait()
	p.cancel()
	close(p.results)
}

// dispatch owns the job queue. Workers return jobs via requeue (retry) or
// signal finished (resolved); both paths are always receivable here, which
// is what makes retry safe against a saturated pool.
func (p *Pool) dispatch() {
	defer close(p.dispatchDone)

	var queue []Job
	inflight := 0
	in := p.intake

	for {
		if in == nil && len(queue) == 0 && inflight == 0 {
			close(p.ready)
			return
		}

		var readyCh chan Job
		var next Job
		if len(queue) > 0 {
			readyCh = p.ready
			next = queue[0]
		}

		select {
		case j, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, j)
		case j := <-p.requeue:
			inflight--
			queue = append(queue, j)
		case <-p.finished:
			inflight--
		case readyCh <- next:
			queue = queue[1:]
			inflight++
		}
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for j := range p.ready {
		text, err := p.run(ctx, j)
		if err != nil && ctx.Err() == nil && resilience.IsRetryable(err) && j.Attempt+1 < p.cfg.MaxAttempts {
			j.Attempt++
			slog.Debug("requeueing transcription job",
				"job", j.ID, "segment", j.Segment, "attempt", j.Attempt)
			p.requeue <- j
			continue
		}

		res := Result{JobID: j.ID, Segment: j.Segment, Attempt: j.Attempt, Text: text, OK: err == nil, Err: err}
		select {
		case p.results <- res:
		case <-ctx.Done():
		}
		p.pending.Add(-1)
		p.finished <- struct{}{}
	}
}

// run invokes the capability with a per-job timeout, converting a panic in
// the provider path into an ordinary error.
func (p *Pool) run(ctx context.Context, j Job) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.Newf(faults.Transcription, "worker panic: %v", r)
		}
	}()

	jctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()
	return p.tr.Transcribe(jctx, j.Path, j.Tier)
}
