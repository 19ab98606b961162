package itemetl

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/itemetl/pkg/metrics"
	"github.com/edgeflare/itemetl/pkg/pipeline"
	"github.com/edgeflare/itemetl/pkg/pipeline/peer/debug"
	"github.com/edgeflare/itemetl/pkg/pipeline/peer/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var dryRun bool

var forwardCmd = &cobra.Command{
	Use:     "forward",
	Aliases: []string{"fwd"},
	Short:   "Run the forward stage",
	Long: `Consume raw item events, validate and normalize them, and publish the
result to the processed partition. Offsets are committed only after a
successful publish.`,
	RunE: runForward,
}

func runForward(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The metrics server outlives the forwarder so the final counts stay
	// scrapeable while the in-flight envelope drains.
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		stopMetrics()
		waitTimeout(&wg, shutdownTimeout)
	}()

	recorder := metrics.NewForwarderMetrics(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		if _, err := metrics.StartPrometheusServer(metricsCtx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
			Logger: logger,
		}); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	client := kafka.NewClient(&cfg.Kafka, logger)
	if err := client.Connect(ctx); err != nil {
		logger.Error("Broker connection failed", zap.Error(err))
		return err
	}

	// a dry run commits under its own group so the real position is untouched
	group := cfg.Forwarder.GroupID
	if dryRun {
		group += "-dryrun"
	}
	source, err := client.NewSource(cfg.Topic.Name, cfg.Forwarder.RawPartition, group)
	if err != nil {
		return errors.Join(err, client.Close())
	}
	var sink pipeline.Sink
	if dryRun {
		logger.Warn("Dry run: envelopes are logged, not published", zap.String("group", group))
		sink = debug.NewSink(logger)
	} else {
		sink, err = client.NewSink(cfg.Topic.Name, cfg.Forwarder.ProcessedPartition)
		if err != nil {
			return errors.Join(err, source.Close(), client.Close())
		}
	}

	f := pipeline.NewForwarder(source, sink,
		pipeline.WithLogger(logger),
		pipeline.WithRecorder(recorder),
		pipeline.WithBackOff(pipeline.ExponentialBackOff(
			cfg.Forwarder.RetryInitialInterval,
			cfg.Forwarder.RetryMaxInterval,
		)),
	)

	logger.Info("Forwarding",
		zap.String("topic", cfg.Topic.Name),
		zap.Int32("raw_partition", cfg.Forwarder.RawPartition),
		zap.Int32("processed_partition", cfg.Forwarder.ProcessedPartition),
		zap.String("group", group))

	runErr := f.Run(ctx)
	if runErr != nil {
		logger.Error("Forwarder stopped", zap.Error(runErr))
	} else {
		logger.Info("Received termination signal, shutting down gracefully...")
	}

	// source first so the last commit is flushed before the client goes away
	closeErr := errors.Join(source.Close(), sink.Close(), client.Close())
	if closeErr != nil {
		logger.Warn("Error closing kafka resources", zap.Error(closeErr))
	}
	return runErr
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Shutdown complete")
	case <-time.After(d):
		logger.Warn("Shutdown timed out", zap.Duration("timeout", d))
	}
}

func init() {
	forwardCmd.Flags().Bool("metrics", true, "Enable Prometheus metrics server")
	forwardCmd.Flags().String("metrics-addr", ":9100", "Prometheus metrics server address")
	forwardCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log normalized envelopes instead of publishing them")

	mustBindPFlag("metrics.enabled", forwardCmd.Flags().Lookup("metrics"))
	mustBindPFlag("metrics.addr", forwardCmd.Flags().Lookup("metrics-addr"))
}
