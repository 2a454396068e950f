package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goldenpath/internal/record"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Run("full envelope", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"agent_started","run_token":"run-1","payload":{"agent_id":"a","retries":3,"done":false}}`))
		require.NoError(t, err)

		assert.Equal(t, "agent_started", env.Type)
		assert.Equal(t, "run-1", env.RunToken)
		assert.Equal(t, record.Object{
			"agent_id": record.String("a"),
			"retries":  record.Int(3),
			"done":     record.Bool(false),
		}, env.Payload)
	})

	t.Run("run token optional", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"agent_thinking","payload":{"content":"hm"}}`))
		require.NoError(t, err)
		assert.Empty(t, env.RunToken)
	})

	t.Run("absent payload means empty", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"agent_started"}`))
		require.NoError(t, err)
		assert.Equal(t, record.Object{}, env.Payload)
	})

	t.Run("nested payload values", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"type":"tool_completed","payload":{"result":{"rows":[1,2]}}}`))
		require.NoError(t, err)
		assert.Equal(t, record.Object{
			"result": record.Object{"rows": record.Array{record.Int(1), record.Int(2)}},
		}, env.Payload)
	})
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `agent_started`},
		{"missing type", `{"payload":{}}`},
		{"unknown top-level field", `{"type":"agent_started","seq":4}`},
		{"null payload", `{"type":"agent_started","payload":null}`},
		{"fractional number", `{"type":"tool_completed","payload":{"score":0.5}}`},
		{"null inside payload", `{"type":"agent_started","payload":{"agent_id":null}}`},
		{"payload not an object", `{"type":"agent_started","payload":[1]}`},
		{"trailing data", `{"type":"agent_started"}{"type":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, IsMalformedFrame(err), "want MalformedFrameError, got %T", err)
		})
	}
}

func TestDecodeEnvelopeIntegralNumbersStayInts(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"tool_completed","payload":{"count":42}}`))
	require.NoError(t, err)
	assert.Equal(t, record.Int(42), env.Payload["count"])
}
