package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/itemetl/pkg/pipeline"
	"go.uber.org/zap"
)

// Client owns the broker connection shared by the raw-partition source and
// the processed-partition sink.
type Client struct {
	config *Config
	logger *zap.Logger
	conf   *sarama.Config
	client sarama.Client
}

// NewClient creates a new Client. Call Connect before creating sources or sinks.
func NewClient(config *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		logger: logger,
	}
}

// Connect establishes the broker connection, retrying with exponential
// backoff until ConnectTimeout elapses or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	conf, err := c.config.ToSaramaConfig()
	if err != nil {
		return fmt.Errorf("failed to create sarama config: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.config.connectTimeout()

	operation := func() error {
		client, err := sarama.NewClient(c.config.GetBrokers(), conf)
		if err != nil {
			var cerr sarama.ConfigurationError
			if errors.As(err, &cerr) {
				return backoff.Permanent(err)
			}
			return err
		}
		c.client = client
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("Retrying broker connection",
			zap.Strings("brokers", c.config.GetBrokers()),
			zap.Duration("delay", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to connect to brokers %v: %w", c.config.GetBrokers(), err)
	}

	c.conf = conf
	c.logger.Info("Connected to Kafka", zap.Strings("brokers", c.config.GetBrokers()))
	return nil
}

// Close releases the broker connection. Sources and sinks must be closed first.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) connected() error {
	if c.client == nil {
		return fmt.Errorf("kafka client not connected")
	}
	return nil
}

// NewSource consumes one partition of topic on behalf of group, resuming at
// the group's committed offset.
func (c *Client) NewSource(topic string, partition int32, group string) (*Source, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}

	om, err := sarama.NewOffsetManagerFromClient(group, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create offset manager: %w", err)
	}
	pom, err := om.ManagePartition(topic, partition)
	if err != nil {
		om.Close()
		return nil, fmt.Errorf("failed to manage offsets of %s[%d]: %w", topic, partition, err)
	}

	consumer, err := sarama.NewConsumerFromClient(c.client)
	if err != nil {
		pom.Close()
		om.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	next, _ := pom.NextOffset()
	pc, err := consumer.ConsumePartition(topic, partition, next)
	if errors.Is(err, sarama.ErrOffsetOutOfRange) {
		c.logger.Warn("Committed offset out of range, falling back to initial offset",
			zap.String("topic", topic),
			zap.Int32("partition", partition),
			zap.Int64("offset", next))
		next = c.conf.Consumer.Offsets.Initial
		pc, err = consumer.ConsumePartition(topic, partition, next)
	}
	if err != nil {
		consumer.Close()
		pom.Close()
		om.Close()
		return nil, fmt.Errorf("failed to consume %s[%d]: %w", topic, partition, err)
	}

	c.logger.Info("Consumer started",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.String("group", group),
		zap.Int64("offset", next))

	return newSource(consumer, pc, om, pom, c.logger), nil
}

// NewSink publishes to one fixed partition of topic.
func (c *Client) NewSink(topic string, partition int32) (*Sink, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducerFromClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}
	c.logger.Info("Producer started", zap.String("topic", topic), zap.Int32("partition", partition))
	return NewSink(producer, topic, partition, c.logger), nil
}

// newClusterAdmin creates a standalone sarama.ClusterAdmin. It owns its own
// connection so closing it leaves the shared client untouched.
func (c *Client) newClusterAdmin() (sarama.ClusterAdmin, error) {
	saramaConfig, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	admin, err := sarama.NewClusterAdmin(c.config.GetBrokers(), saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster admin: %w", err)
	}

	return admin, nil
}

// TopicSpec describes the topic layout the forwarder relies on.
type TopicSpec struct {
	Name        string
	Partitions  int32
	Replicas    int16
	RetentionMS int64
}

// EnsureTopic creates the topic if it is missing. An existing topic with too
// few partitions is an error since the raw and processed partitions must both exist.
func (c *Client) EnsureTopic(spec TopicSpec) error {
	admin, err := c.newClusterAdmin()
	if err != nil {
		return err
	}
	defer admin.Close()

	return ensureTopic(admin, spec, c.logger)
}

func ensureTopic(admin sarama.ClusterAdmin, spec TopicSpec, logger *zap.Logger) error {
	topics, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}

	if detail, exists := topics[spec.Name]; exists {
		if detail.NumPartitions < spec.Partitions {
			return fmt.Errorf("topic %s has %d partitions, need at least %d",
				spec.Name, detail.NumPartitions, spec.Partitions)
		}
		logger.Info("Topic exists",
			zap.String("topic", spec.Name),
			zap.Int32("partitions", detail.NumPartitions))
		return nil
	}

	topicDetail := &sarama.TopicDetail{
		NumPartitions:     spec.Partitions,
		ReplicationFactor: spec.Replicas,
	}
	if spec.RetentionMS > 0 {
		topicDetail.ConfigEntries = map[string]*string{
			"retention.ms": stringPtr(fmt.Sprintf("%d", spec.RetentionMS)),
		}
	}

	if err := admin.CreateTopic(spec.Name, topicDetail, false); err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	logger.Info("Topic created",
		zap.String("topic", spec.Name),
		zap.Int32("partitions", spec.Partitions),
		zap.Int16("replicas", spec.Replicas))
	return nil
}

func stringPtr(s string) *string {
	return &s
}

// Tail consumes a partition from offset without a consumer group and calls fn
// for every record until ctx is done or fn returns an error. It returns the
// number of records consumed.
func (c *Client) Tail(ctx context.Context, topic string, partition int32, offset int64, fn func(*pipeline.Message) error) (int, error) {
	if err := c.connected(); err != nil {
		return 0, err
	}

	consumer, err := sarama.NewConsumerFromClient(c.client)
	if err != nil {
		return 0, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer consumer.Close()

	partitionConsumer, err := consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return 0, fmt.Errorf("failed to start consumer: %w", err)
	}
	defer func() {
		if err := partitionConsumer.Close(); err != nil {
			c.logger.Warn("Failed to close partition consumer", zap.Error(err))
		}
	}()

	return tail(ctx, partitionConsumer, fn, c.logger)
}

func tail(ctx context.Context, pc sarama.PartitionConsumer, fn func(*pipeline.Message) error, logger *zap.Logger) (int, error) {
	consumed := 0
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return consumed, pipeline.ErrSourceClosed
			}
			consumed++
			if err := fn(toMessage(msg)); err != nil {
				return consumed, err
			}
		case cerr, ok := <-pc.Errors():
			if !ok {
				return consumed, pipeline.ErrSourceClosed
			}
			logger.Warn("Consumer error", zap.Error(cerr))
		case <-ctx.Done():
			logger.Info("Consumption finished", zap.Int("consumed", consumed))
			return consumed, nil
		}
	}
}
