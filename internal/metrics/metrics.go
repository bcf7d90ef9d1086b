// Package metrics registers the Prometheus instrumentation for the
// capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the pipeline.
type Metrics struct {
	// Capture
	ChunksCaptured prometheus.Counter
	ChunksDropped  prometheus.Counter

	// VAD
	VADWindowsProcessed prometheus.Counter
	SpeechStarts        prometheus.Counter

	// Segments
	SegmentsOpened    prometheus.Counter
	SegmentsClosed    prometheus.Counter
	SegmentsDiscarded prometheus.Counter
	SegmentDuration   prometheus.Histogram

	// Transcription jobs
	JobsQueued    prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobRetries    prometheus.Counter
	QueueDepth    prometheus.Gauge

	// Live tier
	LiveWindows prometheus.Counter
}

// New creates and registers all metrics. Pass nil to use the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_chunks_captured_total",
			Help: "Total number of audio chunks delivered by the capture device",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_chunks_dropped_total",
			Help: "Total number of audio chunks dropped on handoff overflow",
		}),

		VADWindowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_vad_windows_processed_total",
			Help: "Total number of VAD windows classified",
		}),
		SpeechStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_speech_starts_total",
			Help: "Total number of speech start boundaries",
		}),

		SegmentsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_segments_opened_total",
			Help: "Total number of segments opened",
		}),
		SegmentsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_segments_closed_total",
			Help: "Total number of segments closed and kept",
		}),
		SegmentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_segments_discarded_total",
			Help: "Total number of segments discarded below the minimum duration",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hushnote_segment_duration_seconds",
			Help:    "Duration of closed segments in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),

		JobsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_transcription_jobs_queued_total",
			Help: "Total number of refinement jobs submitted to the pool",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_transcription_jobs_completed_total",
			Help: "Total number of refinement jobs completed successfully",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_transcription_jobs_failed_total",
			Help: "Total number of refinement jobs failed after all attempts",
		}),
		JobRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_transcription_retries_total",
			Help: "Total number of refinement job retry attempts",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hushnote_transcription_queue_depth",
			Help: "Current number of unresolved refinement jobs",
		}),

		LiveWindows: factory.NewCounter(prometheus.CounterOpts{
			Name: "hushnote_live_windows_total",
			Help: "Total number of live transcription windows flushed",
		}),
	}
}
