// Package protocol implements the spec's cross-thread message envelope and
// payload sum types (§4.D). The wire shape is a tagged JSON object — style
// grounded on the teacher's transport.go ControlMsg (a Type string
// discriminator plus optional fields), though that file's dependency
// (quic-go/webtransport-go) is dropped entirely: there is no network peer
// here, only an in-process channel between two goroutines standing in for
// the audio-render thread and the application thread (spec §5, §9).
package protocol

import (
	"encoding/json"
	"fmt"

	coreerrors "github.com/mandersson1024/intonation-toy-sub003/internal/errors"
)

// Tag identifies a payload variant on the wire.
type Tag string

const (
	// To-worklet tags.
	TagStartProcessing             Tag = "start_processing"
	TagStopProcessing              Tag = "stop_processing"
	TagUpdateBatchConfig           Tag = "update_batch_config"
	TagUpdateTestSignalConfig      Tag = "update_test_signal_config"
	TagUpdateBackgroundNoiseConfig Tag = "update_background_noise_config"
	TagReturnBuffer                Tag = "return_buffer"

	// From-worklet tags.
	TagProcessorReady    Tag = "processor_ready"
	TagProcessingStarted Tag = "processing_started"
	TagProcessingStopped Tag = "processing_stopped"
	TagAudioDataBatch    Tag = "audio_data_batch"
	TagProcessingError   Tag = "processing_error"
	TagBatchConfigUpdated Tag = "batch_config_updated"
)

// Envelope is MessageEnvelope<P> from spec §4.D: a fixed three-field object.
// Payload is carried as Tag plus raw JSON (analogous to the "transferable"
// byte buffer being attached as a separate field for AudioDataBatch); this
// lets the decoder fail on unrecognised tags with DeserializationError
// instead of a type-switch panic.
type Envelope struct {
	MessageID uint32          `json:"messageId"`
	Timestamp float64         `json:"timestamp"`
	Tag       Tag             `json:"tag"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	// Buffer carries the transferred byte buffer for AudioDataBatch and
	// ReturnBuffer. It is never populated for any other tag.
	Buffer []byte `json:"buffer,omitempty"`
}

// BatchConfig mirrors the spec's BatchConfig.
type BatchConfig struct {
	BatchSize int `json:"batchSize"`
	// TimeoutMs is accepted and stored per spec §9's open question
	// ("accept and store but do not act on it") but is never read by any
	// timer in this module.
	TimeoutMs int `json:"timeoutMs"`
}

// TestSignalConfig mirrors the spec's TestSignalConfig.
type TestSignalConfig struct {
	Enabled   bool    `json:"enabled"`
	Frequency float64 `json:"frequency"`
	Amplitude float32 `json:"amplitude"`
}

// BackgroundNoiseType mirrors the spec's White|Pink tag.
type BackgroundNoiseType string

const (
	NoiseWhite BackgroundNoiseType = "white"
	NoisePink  BackgroundNoiseType = "pink"
)

// BackgroundNoiseConfig mirrors the spec's BackgroundNoiseConfig.
type BackgroundNoiseConfig struct {
	Enabled bool                `json:"enabled"`
	Level   float32             `json:"level"`
	Type    BackgroundNoiseType `json:"noiseType"`
}

// ReturnBufferPayload mirrors ReturnBuffer{buffer_id}.
type ReturnBufferPayload struct {
	BufferID uint32 `json:"bufferId"`
}

// ProcessorReadyPayload mirrors ProcessorReady{batch_size?}.
type ProcessorReadyPayload struct {
	BatchSize *int `json:"batchSize,omitempty"`
}

// PoolStats mirrors buffer_pool_stats attached to AudioDataBatch.
type PoolStats struct {
	Capacity   int     `json:"capacity"`
	FreeCount  int     `json:"freeCount"`
	InUseCount int      `json:"inUseCount"`
	HitRate    float64 `json:"hitRate"`
	DropCount  uint64  `json:"dropCount"`
}

// AudioDataBatchPayload mirrors AudioDataBatch{...} (spec §4.C outbound).
// The sample buffer itself travels in Envelope.Buffer, not in this struct,
// matching the spec's "byte buffer is attached as a separate field" rule.
type AudioDataBatchPayload struct {
	SampleCount    int       `json:"sampleCount"`
	BufferLength   int       `json:"bufferLength"`
	BufferID       uint32    `json:"bufferId"`
	Timestamp      float64   `json:"timestamp"`
	BufferPoolStats PoolStats `json:"bufferPoolStats"`
	LowEnergy      bool      `json:"lowEnergy"`
}

// ProcessingErrorPayload mirrors ProcessingError{reason}.
type ProcessingErrorPayload struct {
	Reason string `json:"reason"`
}

// Encode marshals payload into an Envelope with the given tag.
func Encode(messageID uint32, timestamp float64, tag Tag, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, coreerrors.Wrap(coreerrors.MessageDeserializationFailed, "encode payload", err)
		}
		raw = b
	}
	return Envelope{MessageID: messageID, Timestamp: timestamp, Tag: tag, Payload: raw}, nil
}

// Decode unmarshals env's payload into out. An unknown tag is the caller's
// responsibility to detect via a switch over env.Tag before calling Decode;
// a malformed payload for a known tag surfaces as
// MessageDeserializationFailed (spec §7: "log, discard, continue").
func Decode(env Envelope, out any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return coreerrors.Wrap(coreerrors.MessageDeserializationFailed, fmt.Sprintf("decode payload for tag %q", env.Tag), err)
	}
	return nil
}

// KnownTags lists every wire-stable tag recognised by this protocol version;
// used to reject unknown payloads per spec §4.D ("Unknown payloads fail with
// DeserializationError and are logged but not fatal").
var KnownTags = map[Tag]bool{
	TagStartProcessing:             true,
	TagStopProcessing:              true,
	TagUpdateBatchConfig:           true,
	TagUpdateTestSignalConfig:      true,
	TagUpdateBackgroundNoiseConfig: true,
	TagReturnBuffer:                true,
	TagProcessorReady:              true,
	TagProcessingStarted:           true,
	TagProcessingStopped:           true,
	TagAudioDataBatch:              true,
	TagProcessingError:             true,
	TagBatchConfigUpdated:          true,
}

// Validate reports a MessageDeserializationFailed error if env.Tag is not a
// recognised wire tag.
func Validate(env Envelope) error {
	if !KnownTags[env.Tag] {
		return coreerrors.New(coreerrors.MessageDeserializationFailed, fmt.Sprintf("unknown message tag %q", env.Tag))
	}
	return nil
}
