package debug

import (
	"context"
	"testing"

	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSinkLogsEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewSink(zap.New(core))

	require.NoError(t, sink.Publish(context.Background(), event.NewDelete(event.NumericID(9))))
	require.NoError(t, sink.Close())

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "DELETE", fields["operation"])
	assert.Equal(t, "9", fields["item_id"])
	assert.JSONEq(t, `{"operation_type":1,"item_id":9}`, fields["value"].(string))
}
