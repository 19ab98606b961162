package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testSaramaConfig(t *testing.T) *sarama.Config {
	t.Helper()
	conf, err := (&Config{Brokers: []string{"localhost:9092"}}).ToSaramaConfig()
	require.NoError(t, err)
	return conf
}

func TestSinkPublish(t *testing.T) {
	price := 12.5
	tests := []struct {
		name      string
		env       *event.Envelope
		wantKey   string
		wantValue string
		wantOp    string
	}{
		{
			name:      "create",
			env:       event.NewCreate(event.Item{ID: event.NumericID(7), Name: "Lamp", Category: "home", Price: &price}),
			wantKey:   "7",
			wantValue: `{"operation_type":3,"item_id":7,"item":{"id":7,"name":"Lamp","description":null,"price":12.5,"category":"home"}}`,
			wantOp:    "CREATE",
		},
		{
			name:      "delete",
			env:       event.NewDelete(event.StringID("sku-1")),
			wantKey:   "sku-1",
			wantValue: `{"operation_type":1,"item_id":"sku-1"}`,
			wantOp:    "DELETE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := mocks.NewSyncProducer(t, testSaramaConfig(t))
			producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
				if msg.Topic != "item-events" {
					return fmt.Errorf("unexpected topic %q", msg.Topic)
				}
				if msg.Partition != 1 {
					return fmt.Errorf("unexpected partition %d", msg.Partition)
				}
				key, err := msg.Key.Encode()
				if err != nil {
					return err
				}
				if string(key) != tt.wantKey {
					return fmt.Errorf("unexpected key %q", key)
				}
				value, err := msg.Value.Encode()
				if err != nil {
					return err
				}
				if string(value) != tt.wantValue {
					return fmt.Errorf("unexpected value %s", value)
				}
				if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderOperation || string(msg.Headers[0].Value) != tt.wantOp {
					return fmt.Errorf("unexpected headers %v", msg.Headers)
				}
				return nil
			})

			sink := NewSink(producer, "item-events", 1, zaptest.NewLogger(t))
			require.NoError(t, sink.Publish(context.Background(), tt.env))
			require.NoError(t, sink.Close())
		})
	}
}

func TestSinkPublishWithoutKey(t *testing.T) {
	producer := mocks.NewSyncProducer(t, testSaramaConfig(t))
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Key != nil {
			return errors.New("expected no key")
		}
		return nil
	})

	sink := NewSink(producer, "item-events", 1, nil)
	require.NoError(t, sink.Publish(context.Background(), event.NewChange(event.ID{}, event.Item{Name: "x"})))
	require.NoError(t, sink.Close())
}

func TestSinkPublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, testSaramaConfig(t))
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	sink := NewSink(producer, "item-events", 1, zaptest.NewLogger(t))
	err := sink.Publish(context.Background(), event.NewDelete(event.NumericID(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.Contains(t, err.Error(), "failed to publish message")
	require.NoError(t, sink.Close())
}

func TestSinkPublishRaw(t *testing.T) {
	producer := mocks.NewSyncProducer(t, testSaramaConfig(t))
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Partition != 0 || len(msg.Headers) != 0 {
			return fmt.Errorf("unexpected message %+v", msg)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		if string(value) != `{"operation_type":9}` {
			return fmt.Errorf("value was rewritten: %s", value)
		}
		return nil
	})

	sink := NewSink(producer, "item-events", 0, nil)
	require.NoError(t, sink.PublishRaw(nil, []byte(`{"operation_type":9}`)))
	require.NoError(t, sink.Close())
}

func TestSinkWithoutProducer(t *testing.T) {
	sink := NewSink(nil, "item-events", 1, nil)
	err := sink.Publish(context.Background(), event.NewDelete(event.NumericID(1)))
	require.Error(t, err)
	assert.NoError(t, sink.Close())
}
