package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"github.com/edgeflare/itemetl/pkg/pipeline/transform"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Forwarder.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateValidating
	StateForwarding
	StateCommitting
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateValidating:
		return "VALIDATING"
	case StateForwarding:
		return "FORWARDING"
	case StateCommitting:
		return "COMMITTING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Forwarder.
type Option func(*Forwarder)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(f *Forwarder) {
		if r != nil {
			f.metrics = r
		}
	}
}

// WithBackOff sets the policy used between publish retries and after pull
// errors. A fresh policy is requested for every retry sequence.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(f *Forwarder) {
		if newBackOff != nil {
			f.newBackOff = newBackOff
		}
	}
}

// ExponentialBackOff returns a policy factory that never gives up on its own.
func ExponentialBackOff(initial, maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		b.MaxElapsedTime = 0
		return b
	}
}

// Forwarder consumes raw envelopes from a Source one at a time, normalizes
// them and publishes the result to a Sink. A record is committed only after it
// was forwarded or rejected, so a failed publish is retried with the identical
// envelope and partition order is preserved.
type Forwarder struct {
	source     Source
	sink       Sink
	metrics    Recorder
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
	state      atomic.Int32
}

func NewForwarder(source Source, sink Sink, opts ...Option) *Forwarder {
	f := &Forwarder{
		source:     source,
		sink:       sink,
		metrics:    nopRecorder{},
		logger:     zap.NewNop(),
		newBackOff: ExponentialBackOff(100*time.Millisecond, 10*time.Second),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.setState(StateStarting)
	return f
}

// State reports the current lifecycle state. Safe for concurrent use.
func (f *Forwarder) State() State {
	return State(f.state.Load())
}

func (f *Forwarder) setState(s State) {
	f.state.Store(int32(s))
}

// Run processes envelopes until ctx is canceled. Cancellation is checked
// after each pull: an envelope already pulled is forwarded and committed
// before Run returns. Per-envelope failures never end the loop; Run returns
// an error only if the source is gone.
func (f *Forwarder) Run(ctx context.Context) error {
	f.setState(StateRunning)
	f.logger.Info("Forwarder running")
	defer func() {
		f.setState(StateShuttingDown)
		f.logger.Info("Forwarder stopped")
	}()

	pullBackOff := f.newBackOff()
	for ctx.Err() == nil {
		msg, err := f.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrSourceClosed) {
				return err
			}
			f.logger.Warn("Failed to pull raw envelope", zap.Error(err))
			if !sleep(ctx, pullBackOff.NextBackOff()) {
				return nil
			}
			continue
		}
		pullBackOff.Reset()

		f.handle(ctx, msg)
		f.setState(StateRunning)
	}
	return nil
}

func (f *Forwarder) handle(ctx context.Context, msg *Message) {
	start := time.Now()
	fields := []zap.Field{
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	}

	f.setState(StateValidating)
	env, err := transform.Process(msg.Value)
	if err != nil {
		reason := transform.Reason(err)
		var rej *transform.Rejection
		if errors.As(err, &rej) {
			fields = append(fields, zap.String("item_id", rej.Identifier), zap.Stringer("operation", rej.Operation))
		}
		f.metrics.ObserveRejected(reason)
		f.logger.Warn("Rejected raw envelope", append(fields, zap.String("reason", reason), zap.Error(err))...)
		f.commit(msg, fields)
		return
	}
	fields = append(fields, zap.String("item_id", env.Identifier()), zap.Stringer("operation", env.Operation))

	f.setState(StateForwarding)
	if !f.publish(ctx, env, fields) {
		f.logger.Warn("Stopped before envelope was forwarded, leaving it uncommitted", fields...)
		return
	}

	f.setState(StateCommitting)
	f.commit(msg, fields)
	f.metrics.ObserveForwarded(env.Operation, time.Since(start))
	f.logger.Debug("Forwarded envelope", fields...)
}

// publish retries the identical envelope until it is acknowledged. It gives
// up only when ctx is canceled, which leaves the record uncommitted for
// redelivery. The first attempt always runs, and no attempt is interrupted
// mid-flight.
func (f *Forwarder) publish(ctx context.Context, env *event.Envelope, fields []zap.Field) bool {
	attemptCtx := context.WithoutCancel(ctx)
	operation := func() error {
		err := f.sink.Publish(attemptCtx, env)
		if err != nil {
			f.metrics.ObservePublishError()
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		f.logger.Warn("Publish failed, retrying same envelope",
			append(fields, zap.Duration("retry_in", next), zap.Error(err))...)
	}

	for {
		err := backoff.RetryNotify(operation, backoff.WithContext(f.newBackOff(), ctx), notify)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		// policy exhausted; skipping the envelope would break ordering
	}
}

func (f *Forwarder) commit(msg *Message, fields []zap.Field) {
	if err := f.source.Commit(msg); err != nil {
		f.logger.Error("Failed to commit read position", append(fields, zap.Error(err))...)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d < 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
