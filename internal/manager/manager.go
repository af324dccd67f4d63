// Package manager implements the spec's Worklet Manager (§4.D, component D):
// the application-thread owner of the processor handle. It installs the
// inbound message handler, drives the AudioWorkletState machine, routes
// AudioDataBatch envelopes into the volume/pitch analyzers, and closes the
// buffer ping-pong loop by immediately re-emitting ReturnBuffer. Grounded on
// the teacher's App struct shape (rustyguts-bken/client/app.go): a thin
// struct holding atomic connection flags, a mutex-guarded metrics cache, and
// callback wiring over a transport handle — generalized here from a
// voice-session handle to a worklet handle, and from Wails event emission to
// a plain Go callback since there is no UI bridge in this spec's scope.
package manager

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mandersson1024/intonation-toy-sub003/internal/analyzer"
	coreerrors "github.com/mandersson1024/intonation-toy-sub003/internal/errors"
	"github.com/mandersson1024/intonation-toy-sub003/internal/model"
	"github.com/mandersson1024/intonation-toy-sub003/internal/protocol"
	"github.com/mandersson1024/intonation-toy-sub003/internal/worklet"
)

// processorHandle is the subset of *worklet.Processor the manager depends
// on, narrowed to an interface so tests can substitute a fake worklet
// without constructing a real bufferpool.Pool.
type processorHandle interface {
	State() worklet.State
	Outbound() <-chan protocol.Envelope
	Inbound() chan<- protocol.Envelope
	Start()
	Stop()
}

// StatusCallback is invoked whenever the manager observes a worklet state
// transition or a processing error, mirroring the teacher's EventsEmit
// callback wiring in wireSessionCallbacks but as a plain Go func instead of
// a Wails runtime event.
type StatusCallback func(state worklet.State, err error)

// Manager owns a processor handle and runs its receive loop on the
// application thread (§5: "Application thread... single-threaded,
// cooperatively scheduled").
type Manager struct {
	ID uuid.UUID

	proc processorHandle

	analyzer *analyzer.Analyzer

	mu              sync.Mutex
	state           worklet.State
	lastPoolStats   protocol.PoolStats
	lastBatchTS     float64
	permissionState model.PermissionState
	pendingErrors   []coreerrors.Kind

	onStatus StatusCallback

	pingPongEnabled atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Manager for proc, analyzing batches with a (reused across
// calls) *analyzer.Analyzer. Ping-pong (immediate ReturnBuffer re-emission)
// is enabled by default per spec §4.D.
func New(proc processorHandle, a *analyzer.Analyzer) *Manager {
	m := &Manager{
		ID:       uuid.New(),
		proc:     proc,
		analyzer: a,
		state:    worklet.Uninitialized,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	m.pingPongEnabled.Store(true)
	return m
}

// SetStatusCallback installs the callback invoked on state transitions and
// processing errors. Must be called before Run.
func (m *Manager) SetStatusCallback(cb StatusCallback) { m.onStatus = cb }

// SetPingPongEnabled toggles the immediate ReturnBuffer re-emission
// (§4.D inbound handling step 2, "If ping-pong is disabled, the buffer is
// dropped").
func (m *Manager) SetPingPongEnabled(enabled bool) { m.pingPongEnabled.Store(enabled) }

// State returns the manager's locally cached AudioWorkletState.
func (m *Manager) State() worklet.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(next worklet.State) {
	m.mu.Lock()
	prev := m.state
	transitioned := m.state.CanTransitionTo(next)
	if transitioned {
		m.state = next
	}
	m.mu.Unlock()
	if !transitioned {
		return
	}
	slog.Info("worklet state transition", "session", m.ID, "from", prev, "to", next)
	if m.onStatus != nil {
		m.onStatus(next, nil)
	}
}

// Initialize transitions Uninitialized -> Initializing -> Ready. Spec §4.D
// describes initialize() as suspending while awaiting module load and a
// ProcessorReady message; here the processor is constructed already Ready
// (there is no separate module-load step in this in-process model), so the
// transition completes synchronously instead of waiting on the outbound
// channel. A processorHandle that does emit TagProcessorReady is still
// handled in handleEnvelope, for a future out-of-process implementation.
func (m *Manager) Initialize() {
	m.setState(worklet.Initializing)
	m.setState(worklet.Ready)
}

// Start requests processing start. No-op if not yet Ready or already
// Processing.
func (m *Manager) Start() {
	m.proc.Inbound() <- protocol.Envelope{Tag: protocol.TagStartProcessing}
}

// Stop requests processing stop (§5 "Cancellation": idempotent, in-flight
// batches still arrive and are processed).
func (m *Manager) Stop() {
	m.proc.Inbound() <- protocol.Envelope{Tag: protocol.TagStopProcessing}
}

// Disconnect immediately transitions to Uninitialized and stops the receive
// loop; any still-arriving messages are discarded (§4.D "disconnect() is
// immediate").
func (m *Manager) Disconnect() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	<-m.doneCh
	m.mu.Lock()
	m.state = worklet.Uninitialized
	m.mu.Unlock()
}

// LastPoolStats returns the buffer-pool statistics cache updated on each
// processed AudioDataBatch.
func (m *Manager) LastPoolStats() protocol.PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPoolStats
}

// Run drives the receive loop until Disconnect is called. Intended to be
// run in its own goroutine — it is the application-thread side of the
// channel boundary described in spec §5.
func (m *Manager) Run() {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return
		case env, ok := <-m.proc.Outbound():
			if !ok {
				return
			}
			m.handleEnvelope(env)
		}
	}
}

func (m *Manager) handleEnvelope(env protocol.Envelope) {
	if err := protocol.Validate(env); err != nil {
		slog.Warn("discarding envelope with unknown tag", "session", m.ID, "tag", env.Tag, "error", err)
		m.recordError(coreerrors.MessageDeserializationFailed)
		return
	}

	switch env.Tag {
	case protocol.TagProcessorReady:
		m.setState(worklet.Ready)
	case protocol.TagProcessingStarted:
		m.setState(worklet.Processing)
	case protocol.TagProcessingStopped:
		m.setState(worklet.Stopped)
	case protocol.TagBatchConfigUpdated:
		// Acknowledgement only; no local state to update beyond the cache.
	case protocol.TagAudioDataBatch:
		m.handleAudioDataBatch(env)
	case protocol.TagProcessingError:
		var payload protocol.ProcessingErrorPayload
		if protocol.Decode(env, &payload) == nil {
			slog.Error("processor reported processing error", "session", m.ID, "reason", payload.Reason)
			m.setState(worklet.Failed)
			m.recordError(coreerrors.WorkletProcessingError)
		}
	}
}

func (m *Manager) handleAudioDataBatch(env protocol.Envelope) {
	var payload protocol.AudioDataBatchPayload
	if err := protocol.Decode(env, &payload); err != nil {
		slog.Warn("discarding malformed audio data batch", "session", m.ID, "error", err)
		m.recordError(coreerrors.MessageDeserializationFailed)
		return
	}

	if payload.BufferPoolStats.FreeCount == 0 && payload.BufferPoolStats.Capacity > 0 {
		slog.Warn("buffer pool exhausted", "session", m.ID, "capacity", payload.BufferPoolStats.Capacity, "dropCount", payload.BufferPoolStats.DropCount)
	}

	samples := bytesToFloat32View(env.Buffer)[:payload.SampleCount]

	if m.analyzer != nil {
		m.analyzer.UpdateVolumeAnalysis(samples)
		if _, err := m.analyzer.AnalyzeBatch(samples); err != nil {
			m.recordError(coreerrors.KindOf(err))
		}
	}

	m.mu.Lock()
	m.lastPoolStats = payload.BufferPoolStats
	m.lastBatchTS = payload.Timestamp
	m.mu.Unlock()

	// Close the ping-pong loop immediately (§4.D step 2): re-emit
	// ReturnBuffer so the processor can recycle the buffer. If disabled, the
	// buffer is simply dropped (never returned to the pool) per spec.
	if m.pingPongEnabled.Load() {
		retEnv, err := protocol.Encode(0, payload.Timestamp, protocol.TagReturnBuffer,
			protocol.ReturnBufferPayload{BufferID: payload.BufferID})
		if err == nil {
			retEnv.Buffer = env.Buffer
			select {
			case m.proc.Inbound() <- retEnv:
			default:
				// Inbound channel is the processor's own buffer; a full
				// channel here means the render thread is backed up beyond
				// its control-message budget. Dropping is safe: the
				// processor simply won't see this buffer again until a
				// later ReturnBuffer, at worst costing one pool slot.
			}
		}
	}
}

func (m *Manager) recordError(kind coreerrors.Kind) {
	m.mu.Lock()
	m.pendingErrors = append(m.pendingErrors, kind)
	m.mu.Unlock()
	if m.onStatus != nil {
		m.onStatus(m.State(), coreerrors.New(kind, "manager observed error"))
	}
}

// DrainErrors returns and clears the errors observed since the last call,
// for assembly into EngineUpdateResult.audio_errors (§6). Transient errors
// therefore appear once per tick, matching §7's propagation policy.
func (m *Manager) DrainErrors() []coreerrors.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pendingErrors
	m.pendingErrors = nil
	return out
}

// EngineSnapshot assembles a model.EngineUpdateResult from the manager's
// current caches, for the application tick described in spec §2's "data
// flow" diagram.
func (m *Manager) EngineSnapshot() model.EngineUpdateResult {
	var analysis *model.AudioAnalysis
	if m.analyzer != nil {
		if vol, ok := m.analyzer.LatestVolume(); ok {
			p := model.Pitch{}
			if latest, ok := m.analyzer.Latest(); ok {
				p = model.DetectedPitch(latest.Result)
			}
			analysis = &model.AudioAnalysis{Volume: vol, Pitch: p}
		}
	}
	return model.EngineUpdateResult{
		AudioAnalysis:   analysis,
		AudioErrors:     m.DrainErrors(),
		PermissionState: m.permissionState,
	}
}

// SetPermissionState updates the cached microphone permission state,
// reported in the next EngineSnapshot.
func (m *Manager) SetPermissionState(s model.PermissionState) {
	m.mu.Lock()
	m.permissionState = s
	m.mu.Unlock()
}

// bytesToFloat32View aliases b as a []float32 without copying, mirroring
// the processor's zero-copy transfer (§4.D inbound handling: "copy the byte
// buffer into an &[f32] view (no allocation other than the pre-sized
// destination held by the analyzer)" — here the view itself is the
// zero-allocation step, and AnalyzeSamples's internal copy into its
// pre-sized scratch buffer is the one permitted copy).
func bytesToFloat32View(b []byte) []float32 {
	return worklet.BytesToFloat32(b)
}
