package itemetl

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/edgeflare/itemetl/pkg/pipeline"
	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"oldest", sarama.OffsetOldest, false},
		{"newest", sarama.OffsetNewest, false},
		{"42", 42, false},
		{"-1", 0, true},
		{"latest", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseOffset(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildEnvelope(t *testing.T) {
	t.Cleanup(func() {
		produceOpts.op = "create"
		produceOpts.itemID = ""
		produceOpts.name = ""
	})

	t.Run("create generates an id", func(t *testing.T) {
		produceOpts.op = "create"
		produceOpts.itemID = ""
		produceOpts.name = "Lamp"

		env, err := buildEnvelope(produceCmd)
		require.NoError(t, err)
		assert.Equal(t, event.OpCreate, env.Operation)
		require.NotNil(t, env.Item)
		assert.Equal(t, "Lamp", env.Item.Name)
		assert.Len(t, env.Identifier(), 36)
		assert.Equal(t, env.ItemID, env.Item.ID)
	})

	t.Run("delete keeps the given id", func(t *testing.T) {
		produceOpts.op = "delete"
		produceOpts.itemID = "sku-1"

		env, err := buildEnvelope(produceCmd)
		require.NoError(t, err)
		assert.Equal(t, event.OpDelete, env.Operation)
		assert.Nil(t, env.Item)
		assert.Equal(t, "sku-1", env.Identifier())
	})

	t.Run("unknown operation", func(t *testing.T) {
		produceOpts.op = "upsert"
		_, err := buildEnvelope(produceCmd)
		require.Error(t, err)
	})
}

func TestLogRecord(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core)

	logRecord(l, &pipeline.Message{Partition: 1, Offset: 7, Value: []byte(`{"operation_type":1,"item_id":"a"}`)})
	logRecord(l, &pipeline.Message{Partition: 1, Offset: 8, Value: []byte(`not json`)})

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "Record", entries[0].Message)
	assert.Equal(t, "DELETE", entries[0].ContextMap()["operation"])
	assert.Equal(t, "a", entries[0].ContextMap()["item_id"])
	assert.Equal(t, int64(7), entries[0].ContextMap()["offset"])

	assert.Equal(t, "Undecodable record", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}
