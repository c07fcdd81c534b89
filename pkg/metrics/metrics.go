// Package metrics records download run metrics with the Prometheus client.
//
// Every Prometheus recorder owns its registry, so several runs (or tests) in
// one process never collide on metric names. A run can export the registry
// to a node_exporter textfile when it finishes, or serve it over HTTP while
// it runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes used for the entries_total counter
const (
	OutcomeDownloaded = "downloaded"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
	OutcomeDryRun     = "dry_run"
)

// Recorder is what the download pipeline reports to
type Recorder interface {
	// EntryFinished counts one finished entry; kind is empty unless it failed
	EntryFinished(outcome, kind string)
	// AttemptFailed counts one failed attempt by error kind
	AttemptFailed(kind string)
	// ObserveDuration records how long an operation took
	ObserveDuration(operation string, d time.Duration)
	// ObserveFileSize records a saved file by extension
	ObserveFileSize(extension string, bytes int64)
	// InFlight adjusts the number of entries currently being processed
	InFlight(delta int)
}

// Nop discards everything
type Nop struct{}

func (Nop) EntryFinished(outcome, kind string)                {}
func (Nop) AttemptFailed(kind string)                         {}
func (Nop) ObserveDuration(operation string, d time.Duration) {}
func (Nop) ObserveFileSize(extension string, bytes int64)     {}
func (Nop) InFlight(delta int)                                {}

// Prometheus implements Recorder with prometheus collectors
type Prometheus struct {
	namespace string
	registry  *prometheus.Registry

	entriesTotal    *prometheus.CounterVec
	attemptFailures *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	durationSeconds *prometheus.HistogramVec
	fileSizeBytes   *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewPrometheus creates the collectors under namespace and registers them on a fresh registry
func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	p.entriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Manifest entries finished, by outcome and failure kind.",
		},
		[]string{"outcome", "kind"},
	)

	p.attemptFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_failures_total",
			Help:      "Failed download attempts by error kind.",
		},
		[]string{"kind"},
	)

	p.bytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloaded_bytes_total",
		Help:      "Bytes written by completed downloads.",
	})

	p.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of entry processing and browser steps.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"operation"},
	)

	// 1KB .. 1GB
	p.fileSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_size_bytes",
			Help:      "Sizes of saved images.",
			Buckets:   prometheus.ExponentialBuckets(1024, 10, 7),
		},
		[]string{"extension"},
	)

	p.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "entries_in_flight",
		Help:      "Entries currently being processed.",
	})

	p.registry.MustRegister(
		p.entriesTotal,
		p.attemptFailures,
		p.bytesTotal,
		p.durationSeconds,
		p.fileSizeBytes,
		p.inFlight,
	)

	return p
}

// Registry exposes the registry for exporters
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) EntryFinished(outcome, kind string) {
	p.entriesTotal.WithLabelValues(outcome, kind).Inc()
}

func (p *Prometheus) AttemptFailed(kind string) {
	p.attemptFailures.WithLabelValues(kind).Inc()
}

func (p *Prometheus) ObserveDuration(operation string, d time.Duration) {
	p.durationSeconds.WithLabelValues(operation).Observe(d.Seconds())
}

func (p *Prometheus) ObserveFileSize(extension string, bytes int64) {
	p.fileSizeBytes.WithLabelValues(extension).Observe(float64(bytes))
	p.bytesTotal.Add(float64(bytes))
}

func (p *Prometheus) InFlight(delta int) {
	p.inFlight.Add(float64(delta))
}

// WriteTextfile writes the registry in the text exposition format, atomically
func (p *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler serves the registry
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (p *Prometheus) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
