package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := BatchConfig{BatchSize: 1024, TimeoutMs: 500}
	env, err := Encode(1, 123.456, TagUpdateBatchConfig, cfg)
	require.NoError(t, err)

	var decoded BatchConfig
	require.NoError(t, Decode(env, &decoded))
	assert.Equal(t, cfg, decoded)
}

func TestValidateRejectsUnknownTag(t *testing.T) {
	env := Envelope{MessageID: 1, Tag: Tag("not_a_real_tag")}
	err := Validate(env)
	require.Error(t, err)
}

func TestValidateAcceptsKnownTags(t *testing.T) {
	for tag := range KnownTags {
		require.NoError(t, Validate(Envelope{Tag: tag}))
	}
}

func TestDecodeMalformedPayloadSurfacesDeserializationError(t *testing.T) {
	env := Envelope{Tag: TagUpdateBatchConfig, Payload: []byte(`{"batchSize": "not-a-number"}`)}
	var cfg BatchConfig
	err := Decode(env, &cfg)
	require.Error(t, err)
}

func TestReturnBufferPayloadRoundTrip(t *testing.T) {
	env, err := Encode(7, 1.0, TagReturnBuffer, ReturnBufferPayload{BufferID: 42})
	require.NoError(t, err)
	var payload ReturnBufferPayload
	require.NoError(t, Decode(env, &payload))
	assert.Equal(t, uint32(42), payload.BufferID)
}
