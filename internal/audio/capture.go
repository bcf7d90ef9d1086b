package audio

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/hushnote/platform/internal/faults"
)

// Source is anything that produces the session's chunk stream. The mic
// capturer implements it for real devices; Feeder implements it for tests
// and headless replay.
type Source interface {
	Start(ctx context.Context) error
	Chunks() <-chan Chunk
	Stop()
}

// Capturer owns the real-time capture side. The portaudio read loop only
// copies frames into a fresh chunk and hands it off with a non-blocking
// channel send; it never locks shared state for long, blocks, or touches
// a file. When the processing side falls behind the chunk is dropped and
// the next delivered chunk carries Gap=true so the manifest can record
// the hole.
type Capturer struct {
	outCh        chan Chunk
	rate         int
	channels     int
	framesPerBuf int
	deviceHint   string

	mu      sync.Mutex
	running bool
	dev     *deviceCapture

	frames     int64 // total frames delivered, for stream timestamps
	pendingGap bool
	dropped    int64
}

type deviceCapture struct {
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewCapturer creates a capturer. deviceHint optionally selects an input
// device by case-insensitive substring; empty means the default input.
func NewCapturer(rate, channels, framesPerBuf, queueDepth int, deviceHint string) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, faults.Wrap(err, faults.Device, "initialize portaudio")
	}
	return &Capturer{
		outCh:        make(chan Chunk, queueDepth),
		rate:         rate,
		channels:     channels,
		framesPerBuf: framesPerBuf,
		deviceHint:   deviceHint,
	}, nil
}

// Chunks returns the handoff channel into the control context.
func (c *Capturer) Chunks() <-chan Chunk { return c.outCh }

// Dropped returns the number of chunks discarded because the processing
// side was not keeping up.
func (c *Capturer) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Start opens the input device and begins the read loop. A device that
// cannot be opened is fatal to the session.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	dev, err := c.pickDevice()
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: c.channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.rate),
		FramesPerBuffer: c.framesPerBuf,
	}

	buf := make([]int16, c.framesPerBuf*c.channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return faults.Wrap(err, faults.Device, "open input stream")
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return faults.Wrap(err, faults.Device, "start input stream")
	}

	devCtx, cancel := context.WithCancel(ctx)
	dc := &deviceCapture{stream: stream, cancel: cancel}

	c.mu.Lock()
	c.dev = dc
	c.mu.Unlock()

	slog.Info("started audio capture", "device", dev.Name, "rate", c.rate, "channels", c.channels)

	go func() {
		defer dc.stop()
		for {
			select {
			case <-devCtx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				// Overruns and transient read failures are recoverable:
				// log, flag the gap, keep reading.
				slog.Warn("audio read error", "device", dev.Name, "error", err)
				c.mu.Lock()
				c.pendingGap = true
				c.mu.Unlock()
				continue
			}
			c.publish(buf)
		}
	}()

	return nil
}

// publish copies the device buffer into a chunk and hands it off without
// waiting. Runs on the read loop only.
func (c *Capturer) publish(buf []int16) {
	c.mu.Lock()
	t := FramesToDuration(int(c.frames), c.rate)
	gap := c.pendingGap
	c.pendingGap = false
	c.frames += int64(len(buf) / c.channels)
	c.mu.Unlock()

	chunk := Chunk{
		Samples:  append([]int16(nil), buf...),
		Rate:     c.rate,
		Channels: c.channels,
		Time:     t,
		Gap:      gap,
	}

	select {
	case c.outCh <- chunk:
	default:
		c.mu.Lock()
		c.pendingGap = true
		c.dropped++
		c.mu.Unlock()
		slog.Debug("chunk queue full, dropping")
	}
}

func (c *Capturer) pickDevice() (*portaudio.DeviceInfo, error) {
	if c.deviceHint == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, faults.Wrap(err, faults.Device, "no default input device")
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, faults.Wrap(err, faults.Device, "enumerate devices")
	}
	for _, dev := range devices {
		if dev.MaxInputChannels >= c.channels && containsFold(dev.Name, c.deviceHint) {
			return dev, nil
		}
	}
	return nil, faults.Newf(faults.Device, "no input device matching %q", c.deviceHint)
}

func (d *deviceCapture) stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		if d.stream != nil {
			_ = d.stream.Stop()
			_ = d.stream.Close()
		}
	})
}

// Stop ends capture and releases portaudio.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != nil {
		c.dev.stop()
		c.dev = nil
	}
	c.running = false
	_ = portaudio.Terminate()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Feeder is a Source fed programmatically. Tests and file replay push
// chunks; the pipeline consumes them exactly as it would mic audio.
type Feeder struct {
	ch   chan Chunk
	once sync.Once
}

// NewFeeder creates a feeder with the given queue depth.
func NewFeeder(queueDepth int) *Feeder {
	return &Feeder{ch: make(chan Chunk, queueDepth)}
}

func (f *Feeder) Start(context.Context) error { return nil }

// Chunks returns the chunk stream.
func (f *Feeder) Chunks() <-chan Chunk { return f.ch }

// Push delivers a chunk, blocking until the pipeline accepts it.
func (f *Feeder) Push(c Chunk) { f.ch <- c }

// Stop closes the stream; the pipeline drains and exits.
func (f *Feeder) Stop() {
	f.once.Do(func() { close(f.ch) })
}
