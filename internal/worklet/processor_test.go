package worklet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandersson1024/intonation-toy-sub003/internal/bufferpool"
	"github.com/mandersson1024/intonation-toy-sub003/internal/protocol"
	"github.com/mandersson1024/intonation-toy-sub003/internal/testsignal"
)

const testSampleRate = 48000.0

func newTestProcessor(batchSize int) *Processor {
	pool := bufferpool.New(batchSize*4, 4, 8)
	cfg := DefaultConfig()
	cfg.BatchConfig.BatchSize = batchSize
	p := New(cfg, pool, testSampleRate)
	p.Start()
	return p
}

func TestProcessQuantumOutputsFixedSize(t *testing.T) {
	p := newTestProcessor(1024)
	out := p.ProcessQuantum(nil)
	assert.Len(t, out, RenderQuantumSize)
}

func TestProcessQuantumSilentWhenNotRunning(t *testing.T) {
	pool := bufferpool.New(1024*4, 4, 8)
	p := New(DefaultConfig(), pool, testSampleRate)
	// Never started: state is Ready, running flag is false.
	in := make([]float32, RenderQuantumSize)
	for i := range in {
		in[i] = 1
	}
	out := p.ProcessQuantum(in)
	for _, v := range out {
		assert.Equal(t, float32(0), v)
	}
}

func TestProcessQuantumPassesThroughInputWhenNoSynthesis(t *testing.T) {
	p := newTestProcessor(1024)
	in := make([]float32, RenderQuantumSize)
	for i := range in {
		in[i] = 0.5
	}
	out := p.ProcessQuantum(in)
	for _, v := range out {
		assert.InDelta(t, 0.5, v, 1e-6)
	}
}

func TestBatchDispatchRoundTripsThroughBufferPool(t *testing.T) {
	batchSize := RenderQuantumSize * 2
	p := newTestProcessor(batchSize)

	quantaPerBatch := batchSize / RenderQuantumSize
	in := make([]float32, RenderQuantumSize)
	for i := 0; i < quantaPerBatch; i++ {
		p.ProcessQuantum(in)
	}

	var env protocol.Envelope
	select {
	case env = <-p.Outbound():
	default:
		t.Fatal("expected a dispatched AudioDataBatch envelope")
	}
	require.Equal(t, protocol.TagAudioDataBatch, env.Tag)

	var payload protocol.AudioDataBatchPayload
	require.NoError(t, protocol.Decode(env, &payload))
	assert.Equal(t, batchSize, payload.SampleCount)
	assert.Len(t, env.Buffer, batchSize*4)

	// Application thread is done with the buffer: return it.
	retEnv, err := protocol.Encode(1, 0, protocol.TagReturnBuffer, protocol.ReturnBufferPayload{BufferID: payload.BufferID})
	require.NoError(t, err)
	p.Inbound() <- retEnv

	// Drained at the next quantum boundary.
	p.ProcessQuantum(in)

	state, ok := p.pool.StateOf(payload.BufferID)
	require.True(t, ok)
	assert.Equal(t, bufferpool.Free, state)
}

func TestStartStopLifecycleTransitions(t *testing.T) {
	pool := bufferpool.New(1024*4, 4, 8)
	p := New(DefaultConfig(), pool, testSampleRate)
	assert.Equal(t, Ready, p.State())

	p.Start()
	assert.Equal(t, Processing, p.State())

	var sawStarted bool
	for i := 0; i < len(p.outbound); i++ {
		env := <-p.outbound
		if env.Tag == protocol.TagProcessingStarted {
			sawStarted = true
		}
	}
	assert.True(t, sawStarted)

	p.Stop()
	assert.Equal(t, Stopped, p.State())

	p.Start()
	assert.Equal(t, Processing, p.State())
}

func TestUpdateBatchConfigFlushesPartialBatchThenResizes(t *testing.T) {
	p := newTestProcessor(1024)
	in := make([]float32, RenderQuantumSize)

	// One quantum short of a full batch: partial, nothing dispatched yet.
	p.ProcessQuantum(in)

	newCfg := protocol.BatchConfig{BatchSize: 256}
	raw, err := json.Marshal(newCfg)
	require.NoError(t, err)
	env := protocol.Envelope{Tag: protocol.TagUpdateBatchConfig, Payload: raw}
	p.Inbound() <- env

	// Drained on next quantum boundary; the partial batch must flush first.
	p.ProcessQuantum(in)

	var sawFlushed, sawUpdated bool
	for len(p.outbound) > 0 {
		e := <-p.outbound
		switch e.Tag {
		case protocol.TagAudioDataBatch:
			sawFlushed = true
		case protocol.TagBatchConfigUpdated:
			sawUpdated = true
		}
	}
	assert.True(t, sawFlushed, "expected partial batch to flush before resize")
	assert.True(t, sawUpdated)
	assert.Equal(t, 256, len(p.batchFloats))
}

func TestLowEnergyQuantaAreTagged(t *testing.T) {
	batchSize := RenderQuantumSize
	p := newTestProcessor(batchSize)

	silent := make([]float32, RenderQuantumSize)
	p.ProcessQuantum(silent)

	env := <-p.Outbound()
	var payload protocol.AudioDataBatchPayload
	require.NoError(t, protocol.Decode(env, &payload))
	assert.True(t, payload.LowEnergy)
}

func TestLoudQuantaAreNotTaggedLowEnergy(t *testing.T) {
	batchSize := RenderQuantumSize
	p := newTestProcessor(batchSize)

	loud := make([]float32, RenderQuantumSize)
	for i := range loud {
		loud[i] = 0.9
	}
	p.ProcessQuantum(loud)

	env := <-p.Outbound()
	var payload protocol.AudioDataBatchPayload
	require.NoError(t, protocol.Decode(env, &payload))
	assert.False(t, payload.LowEnergy)
}

func TestTestSignalSynthesisOverridesInput(t *testing.T) {
	pool := bufferpool.New(1024*4, 4, 8)
	cfg := DefaultConfig()
	cfg.TestSignalConfig = testsignal.Config{Enabled: true, Frequency: 440, Amplitude: 1.0}
	p := New(cfg, pool, testSampleRate)
	p.Start()

	in := make([]float32, RenderQuantumSize) // silent input, should be ignored
	out := p.ProcessQuantum(in)

	var nonzero bool
	for _, v := range out {
		if v != 0 {
			nonzero = true
			break
		}
	}
	assert.True(t, nonzero, "expected synthesized tone to override silent input")
}

func TestOutboundDropsCountedWhenChannelFull(t *testing.T) {
	batchSize := RenderQuantumSize
	p := newTestProcessor(batchSize)

	// Fill the outbound channel without draining it.
	for i := 0; i < outboundChannelBuf+4; i++ {
		in := make([]float32, RenderQuantumSize)
		p.ProcessQuantum(in)
	}

	assert.Greater(t, p.OutboundDrops(), uint64(0))
}
