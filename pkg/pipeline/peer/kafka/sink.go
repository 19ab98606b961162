package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/edgeflare/itemetl/pkg/pipeline"
	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"go.uber.org/zap"
)

// HeaderOperation carries the envelope operation name so consumers can
// route without decoding the value.
const HeaderOperation = "operation"

// Sink publishes envelopes synchronously to a fixed partition. It implements
// pipeline.Sink.
type Sink struct {
	producer  sarama.SyncProducer
	topic     string
	partition int32
	logger    *zap.Logger
}

var _ pipeline.Sink = (*Sink)(nil)

// NewSink wraps producer. The producer must be configured with
// sarama.NewManualPartitioner and Return.Successes.
func NewSink(producer sarama.SyncProducer, topic string, partition int32, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		producer:  producer,
		topic:     topic,
		partition: partition,
		logger:    logger,
	}
}

func (s *Sink) Publish(_ context.Context, env *event.Envelope) error {
	data, err := event.Encode(env)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderOperation), Value: []byte(env.Operation.String())},
		},
	}
	if id := env.Identifier(); id != "" {
		msg.Key = sarama.StringEncoder(id)
	}
	return s.send(msg)
}

// PublishRaw sends value as-is, without validation or headers.
func (s *Sink) PublishRaw(key, value []byte) error {
	msg := &sarama.ProducerMessage{Value: sarama.ByteEncoder(value)}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	return s.send(msg)
}

func (s *Sink) send(msg *sarama.ProducerMessage) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}
	msg.Topic = s.topic
	msg.Partition = s.partition

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	s.logger.Debug("Published message",
		zap.String("topic", s.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (s *Sink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
