// Package metrics provides Prometheus instrumentation for strata.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined metrics for segment reads, writes and archives
//   - A Timer for recording operation latencies
//   - Automatic metric registration through promauto
//
// # Basic Usage
//
//	metrics.ColumnReads.WithLabelValues("UInt32", metrics.PathZeroCopy).Inc()
//
//	timer := metrics.NewTimer(metrics.OpPublish)
//	err := store.Publish(ctx, "users", b)
//	timer.ObserveDuration(err)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read paths recorded by ColumnReads.
const (
	PathZeroCopy = "zero_copy"
	PathCopy     = "copy"
)

// Operation labels recorded by OperationLatency.
const (
	OpOpenSegment = "open_segment"
	OpPublish     = "publish"
	OpArchivePush = "archive_push"
	OpArchivePull = "archive_pull"
	OpExport      = "export"
)

var (
	// SegmentsOpened counts decoders opened over segment files.
	SegmentsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_segments_opened_total",
			Help: "Total number of segment files mapped",
		},
	)

	// BytesMapped counts bytes of segment files mapped into memory.
	BytesMapped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_bytes_mapped_total",
			Help: "Total bytes of segment files mapped",
		},
	)

	// ColumnReads counts typed column reads.
	// Labels: type (logical type), path (zero_copy/copy)
	ColumnReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_column_reads_total",
			Help: "Total number of typed column reads",
		},
		[]string{"type", "path"},
	)

	// DecodeErrors counts failed column reads.
	// Labels: kind (error type)
	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_decode_errors_total",
			Help: "Total number of failed column reads",
		},
		[]string{"kind"},
	)

	// SegmentsPublished counts segments made visible in a table catalog.
	// Labels: table
	SegmentsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_segments_published_total",
			Help: "Total number of segments published",
		},
		[]string{"table"},
	)

	// BytesWritten counts bytes written to segment data files.
	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_segment_bytes_written_total",
			Help: "Total bytes written to segment data files",
		},
	)

	// ArchiveBytes counts compressed bytes moved to or from an object store.
	// Labels: direction (push/pull), backend
	ArchiveBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_archive_bytes_total",
			Help: "Total compressed archive bytes transferred",
		},
		[]string{"direction", "backend"},
	)

	// OperationLatency tracks the latency of storage operations in seconds.
	// Labels: operation, status (success/failure)
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "strata_operation_duration_seconds",
			Help: "Latency of storage operations in seconds",
			Buckets: []float64{
				0.0001, // 100μs - mapping a small segment
				0.001,  // 1ms
				0.01,   // 10ms - fsync on fast disks
				0.1,    // 100ms
				1,      // 1s - object store round trips
				10,     // 10s - large archives
			},
		},
		[]string{"operation", "status"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in OperationLatency, labelled by
// whether err is nil, and returns it.
func (t *Timer) ObserveDuration(err error) time.Duration {
	d := t.Stop()
	status := "success"
	if err != nil {
		status = "failure"
	}
	OperationLatency.WithLabelValues(t.name, status).Observe(d.Seconds())
	return d
}
