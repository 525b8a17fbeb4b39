// Package metrics exposes ingestion counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

const namespace = "s2ingest"

const (
	MetricFilesTotal       = "files_total"
	MetricRecordsCommitted = "records_committed_total"
	MetricRecordsDropped   = "records_dropped_total"
	MetricBatchesCommitted = "batches_committed_total"
	MetricBytesDownloaded  = "bytes_downloaded_total"
	MetricWorkersActive    = "workers_active"
)

// Metrics holds the pipeline's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	files            *prometheus.CounterVec
	recordsCommitted *prometheus.CounterVec
	recordsDropped   *prometheus.CounterVec
	batches          *prometheus.CounterVec
	bytesDownloaded  *prometheus.CounterVec
	workersActive    prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricFilesTotal,
			Help:      "Source files processed, by dataset type and outcome.",
		}, []string{"dataset", "outcome"}),
		recordsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRecordsCommitted,
			Help:      "Records written to the object store.",
		}, []string{"dataset"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRecordsDropped,
			Help:      "Records not written, by reason.",
		}, []string{"dataset", "reason"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricBatchesCommitted,
			Help:      "Batches committed.",
		}, []string{"dataset"}),
		bytesDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricBytesDownloaded,
			Help:      "Bytes downloaded from source files.",
		}, []string{"dataset"}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricWorkersActive,
			Help:      "Workers currently processing a file.",
		}),
	}

	reg.MustRegister(m.files, m.recordsCommitted, m.recordsDropped, m.batches, m.bytesDownloaded, m.workersActive)
	return m
}

// BatchCommitted counts one committed batch of n records
func (m *Metrics) BatchCommitted(dt models.DatasetType, n int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(string(dt)).Inc()
	m.recordsCommitted.WithLabelValues(string(dt)).Add(float64(n))
}

// RecordsDropped counts records excluded for reason
func (m *Metrics) RecordsDropped(dt models.DatasetType, reason string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.recordsDropped.WithLabelValues(string(dt), reason).Add(float64(n))
}

// Downloaded counts downloaded bytes
func (m *Metrics) Downloaded(dt models.DatasetType, bytes int64) {
	if m == nil {
		return
	}
	m.bytesDownloaded.WithLabelValues(string(dt)).Add(float64(bytes))
}

// WorkerStarted tracks an active worker; call the returned func when it ends
func (m *Metrics) WorkerStarted() func() {
	if m == nil {
		return func() {}
	}
	m.workersActive.Inc()
	return m.workersActive.Dec
}

// FileFinished counts a worker outcome
func (m *Metrics) FileFinished(result models.WorkerResult) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if !result.Succeeded() {
		outcome = "failed"
		if result.Failure != nil {
			outcome = string(result.Failure.Kind)
		}
	}
	m.files.WithLabelValues(string(result.Source.DatasetType), outcome).Inc()
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *lib.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
