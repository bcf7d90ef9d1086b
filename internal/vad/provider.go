// Package vad turns per-window speech probabilities into debounced
// speech/silence boundaries.
package vad

import (
	"context"
	"math"
	"sync"
)

// Provider is the speech-probability capability. Load runs once before
// first use and may be slow (model download, ONNX session setup);
// Probability classifies one low-rate mono window and must be cheap
// enough to run inline on the control goroutine.
type Provider interface {
	Load(ctx context.Context) error
	Probability(samples []int16) (float32, error)
}

// EnergyProvider scores windows by normalized RMS energy with light
// exponential smoothing. It is the in-tree default; model-backed
// providers plug in behind the same interface.
type EnergyProvider struct {
	// FullScale is the RMS level mapped to probability 1.0.
	FullScale float64
	// Smoothing in (0,1]; lower values react slower.
	Smoothing float32

	mu     sync.Mutex
	loaded bool
	last   float32
	seen   bool
}

// NewEnergyProvider returns a provider with defaults suited to 16-bit PCM
// speech at close mic distance.
func NewEnergyProvider() *EnergyProvider {
	return &EnergyProvider{FullScale: 6000, Smoothing: 0.4}
}

// Load marks the provider ready. Kept for interface symmetry with
// model-backed providers; there is nothing to fetch.
func (p *EnergyProvider) Load(context.Context) error {
	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	return nil
}

// Probability returns the smoothed, normalized RMS energy of the window.
func (p *EnergyProvider) Probability(samples []int16) (float32, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	prob := float32(rms / p.FullScale)
	if prob > 1 {
		prob = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen {
		prob = p.Smoothing*prob + (1-p.Smoothing)*p.last
	}
	p.last = prob
	p.seen = true
	return prob, nil
}

// Reset clears the smoothing state.
func (p *EnergyProvider) Reset() {
	p.mu.Lock()
	p.last = 0
	p.seen = false
	p.mu.Unlock()
}
