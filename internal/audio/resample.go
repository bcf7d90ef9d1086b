package audio

import (
	"bytes"
	"encoding/binary"

	"github.com/zaf/resample"

	"github.com/hushnote/platform/internal/faults"
)

// DownSampler converts device-rate chunks to a fixed low rate, mono, for
// VAD consumption. The soxr resampler keeps filter state across chunks so
// there are no boundary artifacts; output chunks are timestamp-aligned to
// the input chunk they were derived from. Owned by the control goroutine.
type DownSampler struct {
	inRate  int
	outRate int

	res    *resample.Resampler
	outBuf *bytes.Buffer

	// Reused per call to avoid per-chunk allocations on the hot path.
	inBytes []byte
}

// NewDownSampler creates a downsampler from inRate to outRate.
func NewDownSampler(inRate, outRate int) (*DownSampler, error) {
	outBuf := &bytes.Buffer{}
	res, err := resample.New(outBuf, float64(inRate), float64(outRate), 1, resample.I16, resample.HighQ)
	if err != nil {
		return nil, faults.Wrap(err, faults.ModelLoad, "create resampler")
	}
	return &DownSampler{
		inRate:  inRate,
		outRate: outRate,
		res:     res,
		outBuf:  outBuf,
	}, nil
}

// Process converts one chunk. The returned chunk may be empty while the
// resampler fills its internal filter window.
func (d *DownSampler) Process(c Chunk) (Chunk, error) {
	mono := c.Mono()

	need := len(mono) * 2
	if cap(d.inBytes) < need {
		d.inBytes = make([]byte, need)
	}
	d.inBytes = d.inBytes[:need]
	for i, s := range mono {
		binary.LittleEndian.PutUint16(d.inBytes[i*2:], uint16(s))
	}

	d.outBuf.Reset()
	if _, err := d.res.Write(d.inBytes); err != nil {
		return Chunk{}, faults.Wrap(err, faults.IO, "resample chunk")
	}

	out := d.outBuf.Bytes()
	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2:]))
	}

	return Chunk{
		Samples:  samples,
		Rate:     d.outRate,
		Channels: 1,
		Time:     c.Time,
		Gap:      c.Gap,
	}, nil
}

// Reset drops carried filter state after a hole in the capture timeline,
// so pre-gap samples are not smeared into post-gap audio.
func (d *DownSampler) Reset() error {
	_ = d.res.Close()
	d.outBuf.Reset()
	res, err := resample.New(d.outBuf, float64(d.inRate), float64(d.outRate), 1, resample.I16, resample.HighQ)
	if err != nil {
		return faults.Wrap(err, faults.IO, "recreate resampler")
	}
	d.res = res
	return nil
}

// Close releases the resampler.
func (d *DownSampler) Close() error { return d.res.Close() }
