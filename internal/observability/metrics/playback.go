// Package metrics provides playback metrics for observability
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PlaybackMetrics contains Prometheus metrics for buffered players
type PlaybackMetrics struct {
	registry *prometheus.Registry

	ringOccupancy      *prometheus.GaugeVec
	submittedBlocks    *prometheus.CounterVec
	submittedFrames    *prometheus.CounterVec
	submitFailures     *prometheus.CounterVec
	allocationFailures *prometheus.CounterVec
	completions        *prometheus.CounterVec
	underruns          *prometheus.CounterVec
	flushes            *prometheus.CounterVec
	flushWait          *prometheus.HistogramVec
	bytesInFlight      *prometheus.GaugeVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewPlaybackMetrics creates and registers new playback metrics
func NewPlaybackMetrics(registry *prometheus.Registry) (*PlaybackMetrics, error) {
	m := &PlaybackMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *PlaybackMetrics) initMetrics() {
	m.ringOccupancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playback_ring_occupancy",
			Help: "Number of descriptors queued in the ring, including the one being played",
		},
		[]string{labelStream},
	)

	m.submittedBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_submitted_blocks_total",
			Help: "Total number of blocks accepted into the ring",
		},
		[]string{labelStream},
	)

	m.submittedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_submitted_frames_total",
			Help: "Total number of frames accepted into the ring",
		},
		[]string{labelStream},
	)

	m.submitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_submit_failures_total",
			Help: "Total number of rejected submits by reason",
		},
		[]string{labelStream, labelReason},
	)

	m.allocationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_allocation_failures_total",
			Help: "Total number of failed arena placements by reason",
		},
		[]string{labelStream, labelReason},
	)

	m.completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_completions_total",
			Help: "Total number of transfer completions reported by the peripheral",
		},
		[]string{labelStream},
	)

	m.underruns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_underruns_total",
			Help: "Total number of completions with no queued block to continue with",
		},
		[]string{labelStream},
	)

	m.flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_flushes_total",
			Help: "Total number of flushes by mode",
		},
		[]string{labelStream, labelMode},
	)

	m.flushWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playback_flush_wait_seconds",
			Help:    "Time spent waiting for the ring to drain",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~16s
		},
		[]string{labelStream, labelMode},
	)

	m.bytesInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playback_arena_bytes_in_flight",
			Help: "Arena bytes held by queued descriptors",
		},
		[]string{labelStream},
	)

	m.collectors = []prometheus.Collector{
		m.ringOccupancy,
		m.submittedBlocks,
		m.submittedFrames,
		m.submitFailures,
		m.allocationFailures,
		m.completions,
		m.underruns,
		m.flushes,
		m.flushWait,
		m.bytesInFlight,
	}
}

// Describe implements the Collector interface
func (m *PlaybackMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PlaybackMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Stream returns a recorder bound to one player. Children for the
// completion path are resolved here so recording there is a plain atomic add.
func (m *PlaybackMetrics) Stream(streamID string) *StreamRecorder {
	return &StreamRecorder{
		metrics:         m,
		streamID:        streamID,
		occupancy:       m.ringOccupancy.WithLabelValues(streamID),
		submittedBlocks: m.submittedBlocks.WithLabelValues(streamID),
		submittedFrames: m.submittedFrames.WithLabelValues(streamID),
		completions:     m.completions.WithLabelValues(streamID),
		underruns:       m.underruns.WithLabelValues(streamID),
		bytesInFlight:   m.bytesInFlight.WithLabelValues(streamID),
	}
}

// RemoveStream drops every series labelled with streamID.
func (m *PlaybackMetrics) RemoveStream(streamID string) {
	labels := prometheus.Labels{labelStream: streamID}
	m.ringOccupancy.DeletePartialMatch(labels)
	m.submittedBlocks.DeletePartialMatch(labels)
	m.submittedFrames.DeletePartialMatch(labels)
	m.submitFailures.DeletePartialMatch(labels)
	m.allocationFailures.DeletePartialMatch(labels)
	m.completions.DeletePartialMatch(labels)
	m.underruns.DeletePartialMatch(labels)
	m.flushes.DeletePartialMatch(labels)
	m.flushWait.DeletePartialMatch(labels)
	m.bytesInFlight.DeletePartialMatch(labels)
}

// StreamRecorder implements PlaybackRecorder for a single stream.
type StreamRecorder struct {
	metrics  *PlaybackMetrics
	streamID string

	occupancy       prometheus.Gauge
	submittedBlocks prometheus.Counter
	submittedFrames prometheus.Counter
	completions     prometheus.Counter
	underruns       prometheus.Counter
	bytesInFlight   prometheus.Gauge
}

// RecordSubmit records an accepted block
func (r *StreamRecorder) RecordSubmit(frames int) {
	r.submittedBlocks.Inc()
	r.submittedFrames.Add(float64(frames))
}

// RecordSubmitFailure records a rejected submit
func (r *StreamRecorder) RecordSubmitFailure(reason string) {
	r.metrics.submitFailures.WithLabelValues(r.streamID, reason).Inc()
}

// RecordAllocationFailure records a failed arena placement
func (r *StreamRecorder) RecordAllocationFailure(reason string) {
	r.metrics.allocationFailures.WithLabelValues(r.streamID, reason).Inc()
}

func (r *StreamRecorder) RecordCompletion() {
	r.completions.Inc()
}

func (r *StreamRecorder) RecordUnderrun() {
	r.underruns.Inc()
}

// RecordFlush records a flush and how long it waited for the ring to drain
func (r *StreamRecorder) RecordFlush(mode string, wait time.Duration) {
	r.metrics.flushes.WithLabelValues(r.streamID, mode).Inc()
	r.metrics.flushWait.WithLabelValues(r.streamID, mode).Observe(wait.Seconds())
}

func (r *StreamRecorder) SetOccupancy(n int) {
	r.occupancy.Set(float64(n))
}

func (r *StreamRecorder) SetBytesInFlight(n int) {
	r.bytesInFlight.Set(float64(n))
}

// Remove drops this stream's series from the registry.
func (r *StreamRecorder) Remove() {
	r.metrics.RemoveStream(r.streamID)
}
