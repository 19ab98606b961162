package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/edgeflare/itemetl/pkg/pipeline"
	"go.uber.org/zap"
)

// offsetManager is the subset of sarama.OffsetManager the source needs.
type offsetManager interface {
	Commit()
	Close() error
}

// Source reads one partition in order and commits the consumer group's
// position explicitly. It implements pipeline.Source.
type Source struct {
	consumer sarama.Consumer
	pc       sarama.PartitionConsumer
	om       offsetManager
	pom      sarama.PartitionOffsetManager
	logger   *zap.Logger
}

var _ pipeline.Source = (*Source)(nil)

func newSource(consumer sarama.Consumer, pc sarama.PartitionConsumer, om offsetManager, pom sarama.PartitionOffsetManager, logger *zap.Logger) *Source {
	s := &Source{
		consumer: consumer,
		pc:       pc,
		om:       om,
		pom:      pom,
		logger:   logger,
	}
	if errs := pom.Errors(); errs != nil {
		go func() {
			for err := range errs {
				logger.Error("Offset commit error", zap.Error(err))
			}
		}()
	}
	return s
}

// Next blocks until the next record, a consumer error or ctx is done.
func (s *Source) Next(ctx context.Context) (*pipeline.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.pc.Messages():
		if !ok {
			return nil, pipeline.ErrSourceClosed
		}
		return toMessage(msg), nil
	case err, ok := <-s.pc.Errors():
		if !ok {
			return nil, pipeline.ErrSourceClosed
		}
		return nil, fmt.Errorf("partition consumer error: %w", err)
	}
}

// Commit marks the position after msg and flushes it to the broker.
func (s *Source) Commit(msg *pipeline.Message) error {
	s.pom.MarkOffset(msg.Offset+1, "")
	s.om.Commit()
	return nil
}

// Close stops consuming and flushes any marked offset.
func (s *Source) Close() error {
	var errs []error
	if err := s.pc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close partition consumer: %w", err))
	}
	if err := s.pom.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close partition offset manager: %w", err))
	}
	if err := s.om.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close offset manager: %w", err))
	}
	if err := s.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	return errors.Join(errs...)
}

func toMessage(msg *sarama.ConsumerMessage) *pipeline.Message {
	return &pipeline.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
	}
}
