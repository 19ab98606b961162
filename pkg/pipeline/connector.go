package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/edgeflare/itemetl/pkg/pipeline/event"
)

var (
	// ErrSourceClosed is returned by Source.Next once the underlying consumer
	// is gone and no further records can arrive.
	ErrSourceClosed = errors.New("source closed")
)

// Message is one record pulled from the raw partition.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// A Source yields raw records of a single partition in partition order.
type Source interface {
	// Next blocks until the next record is available, the consumer reports an
	// error, or ctx is done. It must not spin.
	Next(ctx context.Context) (*Message, error)

	// Commit durably records that msg, and everything before it, has been
	// consumed. A restart resumes after the last committed message.
	Commit(msg *Message) error

	Close() error
}

// A Sink publishes normalized envelopes to the processed partition.
type Sink interface {
	// Publish returns only after the broker acknowledged the envelope or the
	// attempt failed. A failed attempt may be repeated with the same envelope.
	Publish(ctx context.Context, env *event.Envelope) error

	Close() error
}

// Recorder receives forwarder measurements. It is written to, never read from.
type Recorder interface {
	ObserveForwarded(op event.Operation, elapsed time.Duration)
	ObserveRejected(reason string)
	ObservePublishError()
}

type nopRecorder struct{}

func (nopRecorder) ObserveForwarded(event.Operation, time.Duration) {}
func (nopRecorder) ObserveRejected(string)                          {}
func (nopRecorder) ObservePublishError()                            {}
