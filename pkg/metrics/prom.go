package metrics

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/edgeflare/itemetl/pkg/httputil/middleware"
	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"github.com/edgeflare/itemetl/pkg/pipeline/transform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	namespace = "itemetl"
	subsystem = "forwarder"
)

// RejectionReasons are pre-registered on the rejected counter so they are
// scraped as zero before the first rejection.
var RejectionReasons = []string{
	transform.ErrInvalidOperation.Error(),
	transform.ErrMissingItem.Error(),
	transform.ErrMissingItemID.Error(),
	transform.ErrMalformedPayload.Error(),
}

// ForwarderMetrics holds the collectors written by the forwarder loop.
// Prometheus collectors are safe for concurrent scrapes.
type ForwarderMetrics struct {
	created            prometheus.Counter
	updated            prometheus.Counter
	deleted            prometheus.Counter
	rejected           *prometheus.CounterVec
	publishErrors      prometheus.Counter
	processingDuration prometheus.Histogram
}

// NewForwarderMetrics registers the forwarder collectors on reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewForwarderMetrics(reg prometheus.Registerer) *ForwarderMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &ForwarderMetrics{
		created: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "created_total",
			Help:      "Total number of CREATE envelopes forwarded to the processed partition",
		}),
		updated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "updated_total",
			Help:      "Total number of CHANGE envelopes forwarded to the processed partition",
		}),
		deleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deleted_total",
			Help:      "Total number of DELETE envelopes forwarded to the processed partition",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejected_total",
			Help:      "Total number of raw envelopes dropped for violating the event contract",
		}, []string{"reason"}),
		publishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "publish_errors_total",
			Help:      "Total number of failed publish attempts to the processed partition",
		}),
		processingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "processing_duration_seconds",
			Help:      "Time from pulling a raw envelope to committing it after a successful forward",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, reason := range RejectionReasons {
		m.rejected.WithLabelValues(reason)
	}
	return m
}

// ObserveForwarded counts a forwarded envelope and records its latency.
func (m *ForwarderMetrics) ObserveForwarded(op event.Operation, elapsed time.Duration) {
	switch op {
	case event.OpCreate:
		m.created.Inc()
	case event.OpChange:
		m.updated.Inc()
	case event.OpDelete:
		m.deleted.Inc()
	}
	m.processingDuration.Observe(elapsed.Seconds())
}

func (m *ForwarderMetrics) ObserveRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *ForwarderMetrics) ObservePublishError() {
	m.publishErrors.Inc()
}

type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
	Gatherer          prometheus.Gatherer
	Logger            *zap.Logger
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		Gatherer:          prometheus.DefaultGatherer,
		Logger:            zap.NewNop(),
	}
}

// NewHandler serves the metrics exposition at path and a liveness probe at /healthz.
func NewHandler(g prometheus.Gatherer, path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// StartPrometheusServer binds the metrics listener and serves it in the
// background until ctx is canceled. It does not depend on broker connectivity.
// The bound address is returned so callers can use port 0.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) (net.Addr, error) {
	// merge with defaults
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
		if opts.Gatherer != nil {
			effectiveOpts.Gatherer = opts.Gatherer
		}
		if opts.Logger != nil {
			effectiveOpts.Logger = opts.Logger
		}
	}
	logger := effectiveOpts.Logger

	ln, err := net.Listen("tcp", effectiveOpts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", effectiveOpts.Addr, err)
	}

	server := &http.Server{
		Handler: middleware.Chain(
			NewHandler(effectiveOpts.Gatherer, effectiveOpts.Path),
			middleware.RequestID,
			middleware.AccessLog(&middleware.LoggerOptions{Logger: logger, Level: zapcore.DebugLevel}),
		),
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(2)

	go func() {
		defer wg.Done()
		logger.Info("Starting Prometheus metrics server", zap.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("Metrics server shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Metrics server shutdown timed out")
		}
	}()

	return ln.Addr(), nil
}
