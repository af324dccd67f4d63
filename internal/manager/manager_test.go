package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandersson1024/intonation-toy-sub003/internal/analyzer"
	"github.com/mandersson1024/intonation-toy-sub003/internal/bufferpool"
	"github.com/mandersson1024/intonation-toy-sub003/internal/metrics"
	"github.com/mandersson1024/intonation-toy-sub003/internal/pitch"
	"github.com/mandersson1024/intonation-toy-sub003/internal/protocol"
	"github.com/mandersson1024/intonation-toy-sub003/internal/testsignal"
	"github.com/mandersson1024/intonation-toy-sub003/internal/worklet"
)

const testSampleRate = 48000.0

// newTestManager builds a Manager over a real worklet.Processor, which is
// constructed already Ready (there is no separate module-load step in this
// in-process model).
func newTestManager(t *testing.T, batchSize int) (*Manager, *worklet.Processor) {
	t.Helper()
	pool := bufferpool.New(batchSize*4, 4, 8)
	cfg := worklet.DefaultConfig()
	cfg.BatchConfig.BatchSize = batchSize
	proc := worklet.New(cfg, pool, testSampleRate)

	a, err := analyzer.New(pitch.DefaultConfig(), testSampleRate, metrics.NoOpRecorder{})
	require.NoError(t, err)

	m := New(proc, a)
	return m, proc
}

func driveQuanta(proc *worklet.Processor, quanta int) {
	in := make([]float32, worklet.RenderQuantumSize)
	for i := 0; i < quanta; i++ {
		proc.ProcessQuantum(in)
	}
}

// startProcessing posts TagStartProcessing and drains it at the next
// quantum boundary, since the real processor only applies inbound control
// messages from ProcessQuantum, never from a background goroutine.
func startProcessing(m *Manager, proc *worklet.Processor) {
	m.Start()
	driveQuanta(proc, 1)
}

func TestInitializeReachesReadySynchronously(t *testing.T) {
	m, _ := newTestManager(t, 256)
	m.Initialize()
	assert.Equal(t, worklet.Ready, m.State())
}

func TestRunObservesProcessingStarted(t *testing.T) {
	m, proc := newTestManager(t, 256)
	go m.Run()
	defer m.Disconnect()

	m.Initialize()
	require.Equal(t, worklet.Ready, m.State())

	startProcessing(m, proc)
	require.Eventually(t, func() bool { return m.State() == worklet.Processing }, time.Second, time.Millisecond)
}

func TestAudioDataBatchUpdatesPoolStatsCache(t *testing.T) {
	m, proc := newTestManager(t, 256)
	go m.Run()
	defer m.Disconnect()

	m.Initialize()
	startProcessing(m, proc)
	require.Eventually(t, func() bool { return m.State() == worklet.Processing }, time.Second, time.Millisecond)

	driveQuanta(proc, 2) // 256 samples / 128 per quantum

	require.Eventually(t, func() bool {
		return m.LastPoolStats().Capacity > 0
	}, time.Second, time.Millisecond)
}

func TestEngineSnapshotReflectsLatestAnalysis(t *testing.T) {
	m, proc := newTestManager(t, 512)
	go m.Run()
	defer m.Disconnect()

	env, err := protocol.Encode(0, 0, protocol.TagUpdateTestSignalConfig,
		testsignal.Config{Enabled: true, Frequency: 440.0, Amplitude: 0.5})
	require.NoError(t, err)
	proc.Inbound() <- env

	m.Initialize()
	startProcessing(m, proc)
	require.Eventually(t, func() bool { return m.State() == worklet.Processing }, time.Second, time.Millisecond)

	driveQuanta(proc, 4*5) // enough quanta to fill a few 512-sample batches

	require.Eventually(t, func() bool {
		snap := m.EngineSnapshot()
		return snap.AudioAnalysis != nil
	}, 2*time.Second, time.Millisecond)
}

func TestDisconnectStopsRunLoop(t *testing.T) {
	m, _ := newTestManager(t, 256)
	go m.Run()

	m.Initialize()
	require.Equal(t, worklet.Ready, m.State())

	m.Disconnect()
	assert.Equal(t, worklet.Uninitialized, m.State())
}

func TestPingPongDisabledDropsBuffer(t *testing.T) {
	m, proc := newTestManager(t, 256)
	m.SetPingPongEnabled(false)
	go m.Run()
	defer m.Disconnect()

	m.Initialize()
	startProcessing(m, proc)
	require.Eventually(t, func() bool { return m.State() == worklet.Processing }, time.Second, time.Millisecond)

	driveQuanta(proc, 2)

	require.Eventually(t, func() bool { return m.LastPoolStats().Capacity > 0 }, time.Second, time.Millisecond)
	stats := m.LastPoolStats()
	assert.Less(t, stats.FreeCount, stats.Capacity)

	// With no ReturnBuffer ever sent, the pool's free list drains to empty
	// over the next batches.
	driveQuanta(proc, 8)
	require.Eventually(t, func() bool { return m.LastPoolStats().FreeCount == 0 }, time.Second, time.Millisecond)
}

// fakeProcessor lets handleEnvelope's TagProcessorReady/TagProcessingError
// branches be exercised directly, since the real worklet.Processor starts
// already Ready and never emits ProcessingError itself.
type fakeProcessor struct {
	out chan protocol.Envelope
	in  chan protocol.Envelope
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		out: make(chan protocol.Envelope, 8),
		in:  make(chan protocol.Envelope, 8),
	}
}

func (f *fakeProcessor) State() worklet.State               { return worklet.Processing }
func (f *fakeProcessor) Outbound() <-chan protocol.Envelope { return f.out }
func (f *fakeProcessor) Inbound() chan<- protocol.Envelope  { return f.in }
func (f *fakeProcessor) Start()                             {}
func (f *fakeProcessor) Stop()                              {}

func TestProcessingErrorSurfacesAsFailedState(t *testing.T) {
	fp := newFakeProcessor()
	m := New(fp, nil)
	go m.Run()
	defer m.Disconnect()

	m.Initialize()
	require.Equal(t, worklet.Ready, m.State())

	startedEnv, err := protocol.Encode(0, 0, protocol.TagProcessingStarted, nil)
	require.NoError(t, err)
	fp.out <- startedEnv
	require.Eventually(t, func() bool { return m.State() == worklet.Processing }, time.Second, time.Millisecond)

	errEnv, err := protocol.Encode(0, 0, protocol.TagProcessingError, protocol.ProcessingErrorPayload{Reason: "boom"})
	require.NoError(t, err)
	fp.out <- errEnv

	require.Eventually(t, func() bool { return m.State() == worklet.Failed }, time.Second, time.Millisecond)
}

func TestStatusCallbackFiresOnReadyTransition(t *testing.T) {
	m, _ := newTestManager(t, 256)
	var got worklet.State
	m.SetStatusCallback(func(s worklet.State, err error) { got = s })

	m.Initialize()
	assert.Equal(t, worklet.Ready, got)
}
