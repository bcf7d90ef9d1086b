// Package events provides the tagged event stream emitted by every
// pipeline component. All state changes funnel through one Event type so
// subscribers (UI, logger, websocket) dispatch on Kind instead of
// inspecting concrete types.
package events

import (
	"sync"
	"time"
)

// Kind tags an Event.
type Kind string

const (
	RecordingStarted Kind = "recording_started"
	RecordingStopped Kind = "recording_stopped"
	ModeChanged      Kind = "mode_changed"
	SpeechStarted    Kind = "speech_started"
	SpeechEnded      Kind = "speech_ended"
	SegmentOpened    Kind = "segment_opened"
	SegmentClosed    Kind = "segment_closed"
	SegmentDiscarded Kind = "segment_discarded"
	LiveText         Kind = "live_text"
	JobQueued        Kind = "job_queued"
	JobCompleted     Kind = "job_completed"
	JobFailed        Kind = "job_failed"
	CommandDetected  Kind = "command_detected"
	TitleCaptured    Kind = "title_captured"
	QueueStatus      Kind = "queue_status"
	CaptureGap       Kind = "capture_gap"
	PipelineError    Kind = "pipeline_error"
)

// Event is the single tagged variant carried by the bus. At is common to
// all kinds; Stream is the position in the audio timeline when the event
// relates to captured audio. The payload fields are sparse and keyed by
// Kind.
type Event struct {
	Kind   Kind          `json:"kind"`
	At     time.Time     `json:"at"`
	Stream time.Duration `json:"stream,omitempty"`

	Segment int    `json:"segment,omitempty"`
	Path    string `json:"path,omitempty"`
	Text    string `json:"text,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Error   string `json:"error,omitempty"`
	Pending int    `json:"pending,omitempty"`
	Kept    bool   `json:"kept,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: slow
// subscribers lose events rather than stalling the control loop, the same
// policy the capture side applies to its chunk channel. Delivery is
// in-order per publishing goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned cancel func removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to all subscribers, dropping it for any whose
// buffer is full.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close removes all subscribers and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
