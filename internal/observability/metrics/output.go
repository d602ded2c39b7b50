// Package metrics provides output device metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutputMetrics contains Prometheus metrics for output devices
type OutputMetrics struct {
	registry *prometheus.Registry

	transfers       *prometheus.CounterVec
	transferFrames  *prometheus.CounterVec
	tapDroppedBytes *prometheus.CounterVec
	deviceErrors    *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewOutputMetrics creates and registers new output device metrics
func NewOutputMetrics(registry *prometheus.Registry) (*OutputMetrics, error) {
	m := &OutputMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OutputMetrics) initMetrics() {
	m.transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "output_transfers_total",
			Help: "Total number of blocks played out by the device",
		},
		[]string{labelDevice},
	)

	m.transferFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "output_frames_total",
			Help: "Total number of frames played out by the device",
		},
		[]string{labelDevice},
	)

	m.tapDroppedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "output_tap_dropped_bytes_total",
			Help: "Bytes the capture tap could not keep up with",
		},
		[]string{labelDevice},
	)

	m.deviceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "output_device_errors_total",
			Help: "Total number of device errors by operation",
		},
		[]string{labelDevice, labelOp},
	)

	m.collectors = []prometheus.Collector{
		m.transfers,
		m.transferFrames,
		m.tapDroppedBytes,
		m.deviceErrors,
	}
}

// Describe implements the Collector interface
func (m *OutputMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *OutputMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Device returns a recorder bound to one device name.
func (m *OutputMetrics) Device(name string) *DeviceRecorder {
	return &DeviceRecorder{
		metrics:         m,
		device:          name,
		transfers:       m.transfers.WithLabelValues(name),
		transferFrames:  m.transferFrames.WithLabelValues(name),
		tapDroppedBytes: m.tapDroppedBytes.WithLabelValues(name),
	}
}

// DeviceRecorder implements OutputRecorder for a single device.
type DeviceRecorder struct {
	metrics *OutputMetrics
	device  string

	transfers       prometheus.Counter
	transferFrames  prometheus.Counter
	tapDroppedBytes prometheus.Counter
}

func (r *DeviceRecorder) RecordTransfer(frames int) {
	r.transfers.Inc()
	r.transferFrames.Add(float64(frames))
}

func (r *DeviceRecorder) RecordTapDrop(bytes int) {
	r.tapDroppedBytes.Add(float64(bytes))
}

// RecordDeviceError records a failed device operation such as "start" or "setup"
func (r *DeviceRecorder) RecordDeviceError(operation string) {
	r.metrics.deviceErrors.WithLabelValues(r.device, operation).Inc()
}
