package debug

import (
	"context"

	"github.com/edgeflare/itemetl/pkg/pipeline"
	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"go.uber.org/zap"
)

// Sink logs normalized envelopes instead of publishing them. It backs
// `forward --dry-run`.
type Sink struct {
	logger *zap.Logger
}

var _ pipeline.Sink = (*Sink)(nil)

func NewSink(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

func (s *Sink) Publish(_ context.Context, env *event.Envelope) error {
	data, err := event.Encode(env)
	if err != nil {
		return err
	}
	s.logger.Info("Envelope",
		zap.Stringer("operation", env.Operation),
		zap.String("item_id", env.Identifier()),
		zap.ByteString("value", data))
	return nil
}

func (s *Sink) Close() error {
	return nil
}
