// Package metrics holds the Prometheus instruments for the upload pipeline
// and the janitor. All Record methods are safe on a nil *Metrics so
// components can run without instrumentation in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "uploader"

// Metrics holds application metrics
type Metrics struct {
	// Chunk metrics
	ChunksTotal     prometheus.Counter // uploader_chunks_total
	ChunkBytesTotal prometheus.Counter // uploader_chunk_bytes_total

	// Upload metrics
	UploadsTotal      prometheus.Counter       // uploader_uploads_total
	UploadBytesTotal  prometheus.Counter       // uploader_upload_bytes_total
	UploadDuration    prometheus.Histogram     // uploader_upload_finalize_seconds
	UploadErrorsTotal *prometheus.CounterVec   // uploader_upload_errors_total{kind}
	PlacementsTotal   *prometheus.CounterVec   // uploader_placements_total{method}
	RequestsTotal     *prometheus.CounterVec   // uploader_http_requests_total{code}
	RequestDuration   *prometheus.HistogramVec // uploader_http_request_duration_seconds{route}

	// Janitor metrics
	SweepsTotal        prometheus.Counter     // uploader_janitor_sweeps_total
	SweepEntriesTotal  *prometheus.CounterVec // uploader_janitor_entries_total{result}
	SweepDuration      prometheus.Histogram   // uploader_janitor_sweep_seconds
	LastSweepTimestamp prometheus.Gauge       // uploader_janitor_last_sweep_timestamp_seconds
}

// New registers every instrument with reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ChunksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks written to the holding area",
		}),
		ChunkBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Bytes written to the holding area",
		}),
		UploadsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads reassembled, validated and placed",
		}),
		UploadBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes placed into the destination tree",
		}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_finalize_seconds",
			Help:      "Time from last chunk to placement",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		}),
		UploadErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_errors_total",
			Help:      "Rejected or failed chunk requests by error kind",
		}, []string{"kind"}),
		PlacementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placements_total",
			Help:      "Placements by mechanism (rename, link, copy, object)",
		}, []string{"method"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by status code",
		}, []string{"code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		SweepsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_sweeps_total",
			Help:      "Completed janitor sweeps",
		}),
		SweepEntriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_entries_total",
			Help:      "Holding-area entries handled by the janitor by result",
		}, []string{"result"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "janitor_sweep_seconds",
			Help:      "Janitor sweep duration",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSweepTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "janitor_last_sweep_timestamp_seconds",
			Help:      "Unix time of the last completed sweep",
		}),
	}
}

// RecordChunk records a chunk written to the holding area.
func (m *Metrics) RecordChunk(bytes int64) {
	if m == nil {
		return
	}
	m.ChunksTotal.Inc()
	m.ChunkBytesTotal.Add(float64(bytes))
}

// RecordUpload records a successful placement.
func (m *Metrics) RecordUpload(bytes int64, method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UploadsTotal.Inc()
	m.UploadBytesTotal.Add(float64(bytes))
	m.UploadDuration.Observe(duration.Seconds())
	m.PlacementsTotal.WithLabelValues(method).Inc()
}

// RecordUploadError records a failed chunk request.
func (m *Metrics) RecordUploadError(kind string) {
	if m == nil {
		return
	}
	m.UploadErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordSweep records the outcome of one janitor sweep.
func (m *Metrics) RecordSweep(deleted, failed, exempt int, duration time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.SweepsTotal.Inc()
	m.SweepEntriesTotal.WithLabelValues("deleted").Add(float64(deleted))
	m.SweepEntriesTotal.WithLabelValues("failed").Add(float64(failed))
	m.SweepEntriesTotal.WithLabelValues("exempt").Add(float64(exempt))
	m.SweepDuration.Observe(duration.Seconds())
	m.LastSweepTimestamp.Set(float64(at.Unix()))
}
