// Package worklet implements the spec's Audio Worklet Processor (§4.C): the
// component that runs on the dedicated audio-render thread, accumulating
// render quanta into analysis batches and dispatching them across a
// lock-free channel to the application thread. Grounded on the teacher's
// audio.go captureLoop goroutine (buffer-at-a-time pipeline, non-blocking
// channel sends with drop counters, atomic start/stop flags), generalized
// from a capture->encode->network-send pipeline to a
// render-quantum->batch->dispatch pipeline.
package worklet

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/mandersson1024/intonation-toy-sub003/internal/bufferpool"
	"github.com/mandersson1024/intonation-toy-sub003/internal/protocol"
	"github.com/mandersson1024/intonation-toy-sub003/internal/testsignal"
	"github.com/mandersson1024/intonation-toy-sub003/internal/volume"
)

// RenderQuantumSize is the fixed number of samples the audio graph calls the
// render callback with, per spec §2/§4.C.
const RenderQuantumSize = 128

// outboundChannelBuf and inboundChannelBuf mirror the teacher's
// captureChannelBuf/playbackChannelBuf sizing rationale: large enough to
// absorb a burst without the render callback ever blocking.
const (
	outboundChannelBuf = 64
	inboundChannelBuf  = 64
)

// noPoolBufferID marks a batch buffer that was allocated outside the pool
// (on exhaustion or a not-yet-resized acquire) rather than acquired from it.
// The pool's own ids start at 0 and grow by one per buffer, so this sentinel
// never collides with a real id; using it instead of the zero value or a
// just-transferred id keeps ReturnBuffer/MarkTransferred bookkeeping from
// touching a pooled buffer this batch never actually owned (spec invariant
// 2: a buffer is held by exactly one side at a time).
const noPoolBufferID = ^uint32(0)

// Config holds the processor's mutable, render-quantum-boundary-applied
// configuration (spec §4.C "State").
type Config struct {
	BatchConfig           protocol.BatchConfig
	TestSignalConfig      testsignal.Config
	BackgroundNoiseConfig testsignal.NoiseConfig

	// GateThresholdLevel optionally overrides the energy gate's compiled-in
	// threshold as a [0,100] UI-style level (see energyGate.setThreshold).
	// Nil keeps defaultGateThreshold.
	GateThresholdLevel *int
}

// DefaultConfig returns the spec's default batch size (1024, a multiple of
// the 128-sample render quantum) with test signal and noise disabled.
func DefaultConfig() Config {
	return Config{
		BatchConfig: protocol.BatchConfig{BatchSize: 1024},
	}
}

// Processor is the render-thread component. Its exported method,
// ProcessQuantum, is called synchronously by the audio graph's render
// callback and never blocks. A quantum that only fills the batch allocates
// nothing after warm-up; a quantum that dispatches a full batch allocates
// while JSON-encoding the batch payload and, when the pool is exhausted,
// for the replacement batch buffer.
type Processor struct {
	mu  sync.Mutex // guards cfg only; never held across ProcessQuantum's hot loop
	cfg Config

	pool *bufferpool.Pool

	state    atomic.Int32
	running  atomic.Bool
	msgID    atomic.Uint32

	batchBuf    []byte
	batchFloats []float32 // float32 view backing batchBuf, same length
	currentBufID uint32
	writeIdx    int

	toneGen  *testsignal.ToneGenerator
	noiseGen *testsignal.NoiseGenerator
	gate     *energyGate

	// outScratch/noiseScratch are the render callback's only working
	// buffers, pre-allocated once and reused every quantum so ProcessQuantum
	// never allocates them per call (spec §4.C, §8 invariant 1).
	outScratch   []float32
	noiseScratch []float32

	outbound chan protocol.Envelope
	inbound  chan protocol.Envelope

	renderClockMs float64 // monotonically increasing, advances one quantum per call
	quantumMs     float64

	outboundDrops atomic.Uint64
}

// New constructs a Processor backed by pool, at sampleRate, with cfg as the
// initial configuration.
func New(cfg Config, pool *bufferpool.Pool, sampleRate float64) *Processor {
	gate := newEnergyGate()
	if cfg.GateThresholdLevel != nil {
		gate.setThreshold(*cfg.GateThresholdLevel)
	}

	p := &Processor{
		cfg:       cfg,
		pool:      pool,
		toneGen:   testsignal.NewToneGenerator(sampleRate),
		noiseGen:  testsignal.NewNoiseGenerator(1, 1),
		gate:      gate,
		outbound:     make(chan protocol.Envelope, outboundChannelBuf),
		inbound:      make(chan protocol.Envelope, inboundChannelBuf),
		quantumMs:    float64(RenderQuantumSize) / sampleRate * 1000,
		outScratch:   make([]float32, RenderQuantumSize),
		noiseScratch: make([]float32, RenderQuantumSize),
	}
	p.state.Store(int32(Ready))
	p.allocateBatch(cfg.BatchConfig.BatchSize)
	return p
}

func (p *Processor) allocateBatch(batchSize int) {
	data, id, ok := p.pool.Acquire()
	if !ok || len(data) < batchSize*4 {
		// Fallback allocation: pool couldn't supply a correctly-sized
		// buffer (e.g. freshly resized batch size). This only happens on a
		// config change, never in steady-state render quanta.
		data = make([]byte, batchSize*4)
		id = noPoolBufferID
	}
	p.batchBuf = data
	p.batchFloats = bytesToFloat32(data)[:batchSize]
	p.currentBufID = id
	p.writeIdx = 0
}

// State returns the processor's current AudioWorkletState.
func (p *Processor) State() State { return State(p.state.Load()) }

// Outbound returns the channel the application thread reads dispatched
// envelopes from.
func (p *Processor) Outbound() <-chan protocol.Envelope { return p.outbound }

// Inbound returns the channel the application thread posts control
// envelopes to. Sends on this channel must never block the render thread;
// the processor drains it only at quantum boundaries.
func (p *Processor) Inbound() chan<- protocol.Envelope { return p.inbound }

// Start transitions Ready/Stopped -> Processing, emitting ProcessingStarted.
func (p *Processor) Start() {
	if p.state.CompareAndSwap(int32(Ready), int32(Processing)) ||
		p.state.CompareAndSwap(int32(Stopped), int32(Processing)) {
		p.running.Store(true)
		p.emit(protocol.TagProcessingStarted, nil, nil)
	}
}

// Stop transitions Processing -> Stopped, emitting ProcessingStopped.
// In-flight batches already queued on outbound are still delivered.
func (p *Processor) Stop() {
	if p.state.CompareAndSwap(int32(Processing), int32(Stopped)) {
		p.running.Store(false)
		p.emit(protocol.TagProcessingStopped, nil, nil)
	}
}

// OutboundDrops returns the count of envelopes dropped because the outbound
// channel was full (render callback never blocks to wait for room), plus
// batch payloads that failed to encode and pool-exhaustion fallback
// allocations in dispatchBatch.
func (p *Processor) OutboundDrops() uint64 { return p.outboundDrops.Load() }

// ProcessQuantum implements spec §4.C's per-render-quantum algorithm. input
// holds RenderQuantumSize mono samples (or is nil/empty if no upstream).
// The returned slice is exactly RenderQuantumSize samples to write to the
// output node.
func (p *Processor) ProcessQuantum(input []float32) []float32 {
	p.drainInbound()
	p.renderClockMs += p.quantumMs

	out := p.outScratch
	for i := range out {
		out[i] = 0
	}

	if !p.running.Load() {
		return out // stopped: discard input, output silence
	}

	p.mu.Lock()
	testCfg := p.cfg.TestSignalConfig
	noiseCfg := p.cfg.BackgroundNoiseConfig
	p.mu.Unlock()

	// Step 1: read input, substituting zeros if absent.
	src := out
	if len(input) == RenderQuantumSize {
		copy(src, input)
	}

	// Step 2: synthesise test signal / noise in place, else pass through.
	if testCfg.Enabled {
		p.toneGen.Fill(out, testCfg)
	}
	if noiseCfg.Enabled {
		noise := p.noiseScratch
		p.noiseGen.Fill(noise, noiseCfg)
		for i := range out {
			out[i] += noise[i]
		}
	}
	if !testCfg.Enabled && !noiseCfg.Enabled {
		copy(out, src)
	}

	// Step 3: copy into the current batch buffer, advance write index.
	rms := volume.RMS(out)
	lowEnergy := p.gate.observe(rms)
	copy(p.batchFloats[p.writeIdx:], out)
	p.writeIdx += RenderQuantumSize

	// Step 4: dispatch when full.
	if p.writeIdx >= len(p.batchFloats) {
		p.dispatchBatch(lowEnergy)
	}

	return out
}

func (p *Processor) dispatchBatch(lowEnergy bool) {
	bufID := p.currentBufID
	if bufID != noPoolBufferID {
		p.pool.MarkTransferred(bufID)
	}

	stats := p.pool.Stats()
	payload := protocol.AudioDataBatchPayload{
		SampleCount:  len(p.batchFloats),
		BufferLength: len(p.batchBuf),
		BufferID:     bufID,
		Timestamp:    p.renderClockMs,
		LowEnergy:    lowEnergy,
		BufferPoolStats: protocol.PoolStats{
			Capacity:   stats.Capacity,
			FreeCount:  stats.FreeCount,
			InUseCount: stats.InUseCount,
			HitRate:    stats.HitRate(),
			DropCount:  stats.DropCount,
		},
	}
	env, err := protocol.Encode(p.msgID.Add(1), p.renderClockMs, protocol.TagAudioDataBatch, payload)
	if err != nil {
		p.outboundDrops.Add(1)
		p.writeIdx = 0
		return
	}
	env.Buffer = p.batchBuf

	select {
	case p.outbound <- env:
	default:
		p.outboundDrops.Add(1)
	}

	// Acquire a fresh buffer for the next batch. On exhaustion, count it in
	// outboundDrops and allocate a non-pooled buffer (noPoolBufferID) instead
	// of blocking; no batch is discarded here.
	batchSize := len(p.batchFloats)
	data, id, ok := p.pool.Acquire()
	if !ok {
		p.outboundDrops.Add(1)
		data = make([]byte, len(p.batchBuf))
		id = noPoolBufferID
	}
	p.batchBuf = data
	p.batchFloats = bytesToFloat32(data)[:batchSize]
	p.currentBufID = id
	p.writeIdx = 0
}

func (p *Processor) emit(tag protocol.Tag, payload any, buffer []byte) {
	env, err := protocol.Encode(p.msgID.Add(1), p.renderClockMs, tag, payload)
	if err != nil {
		return
	}
	env.Buffer = buffer
	select {
	case p.outbound <- env:
	default:
		p.outboundDrops.Add(1)
	}
}

// drainInbound applies any queued control messages at this quantum
// boundary, per spec §4.C ("handled out-of-band between render quanta").
func (p *Processor) drainInbound() {
	for {
		select {
		case env := <-p.inbound:
			p.applyInbound(env)
		default:
			return
		}
	}
}

func (p *Processor) applyInbound(env protocol.Envelope) {
	switch env.Tag {
	case protocol.TagStartProcessing:
		p.Start()
	case protocol.TagStopProcessing:
		p.Stop()
	case protocol.TagUpdateBatchConfig:
		var cfg protocol.BatchConfig
		if protocol.Decode(env, &cfg) == nil {
			p.mu.Lock()
			p.cfg.BatchConfig = cfg
			p.mu.Unlock()
			p.flushAndResize(cfg.BatchSize)
			p.emit(protocol.TagBatchConfigUpdated, cfg, nil)
		}
	case protocol.TagUpdateTestSignalConfig:
		var cfg testsignal.Config
		if protocol.Decode(env, &cfg) == nil {
			p.mu.Lock()
			p.cfg.TestSignalConfig = cfg
			p.mu.Unlock()
		}
	case protocol.TagUpdateBackgroundNoiseConfig:
		var cfg testsignal.NoiseConfig
		if protocol.Decode(env, &cfg) == nil {
			p.mu.Lock()
			p.cfg.BackgroundNoiseConfig = cfg
			p.mu.Unlock()
		}
	case protocol.TagReturnBuffer:
		var payload protocol.ReturnBufferPayload
		if protocol.Decode(env, &payload) == nil {
			p.pool.Return(payload.BufferID)
		}
	}
}

// flushAndResize dispatches any partial batch then reallocates batchFloats
// for the new batch size, per spec §4.C UpdateBatchConfig ("must flush
// current partial batch first").
func (p *Processor) flushAndResize(newSize int) {
	if p.writeIdx > 0 {
		p.dispatchBatch(false)
	}
	data, id, ok := p.pool.Acquire()
	if !ok || len(data) < newSize*4 {
		data = make([]byte, newSize*4)
		id = noPoolBufferID
	}
	p.batchBuf = data
	p.batchFloats = bytesToFloat32(data)[:newSize]
	p.currentBufID = id
	p.writeIdx = 0
}

// bytesToFloat32 aliases b's backing array as a []float32 view without
// copying, so writes through the returned slice are visible in the byte
// buffer the pool transfers to the application thread. Grounded on the
// teacher's noise.go, which uses unsafe.Slice the same way to view a C
// float buffer without a copy.
func bytesToFloat32(b []byte) []float32 {
	n := len(b) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}

// BytesToFloat32 aliases b's backing array as a []float32 view without
// copying. Exported for internal/manager, which applies the same zero-copy
// technique to the buffers it receives off the processor's outbound channel.
func BytesToFloat32(b []byte) []float32 {
	return bytesToFloat32(b)
}
