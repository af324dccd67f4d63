// Package analyzer implements the spec's Pitch Analyzer (§4.B): it
// orchestrates detection over incoming frames, tracks latency/accuracy
// metrics, and exposes the most recent result. It is pure single-threaded
// and owns its Detector exclusively, matching §4.B's contract.
package analyzer

import (
	"runtime"
	"time"

	coreerrors "github.com/mandersson1024/intonation-toy-sub003/internal/errors"
	"github.com/mandersson1024/intonation-toy-sub003/internal/metrics"
	"github.com/mandersson1024/intonation-toy-sub003/internal/pitch"
	"github.com/mandersson1024/intonation-toy-sub003/internal/volume"
)

// clock returns the current high-resolution time. Extracted so tests (and,
// per original_source's wasm/native split for get_high_resolution_time) any
// alternate clock source can be substituted without touching call sites.
var clock = time.Now

// PitchData is a cached detection paired with the timestamp it was produced.
type PitchData struct {
	Result    pitch.Result
	Timestamp time.Time
}

// Analyzer wraps a pitch.Detector with metrics tracking and cached last
// results, per spec §4.B.
type Analyzer struct {
	detector *pitch.Detector
	tracker  *metrics.Tracker

	analysisBuffer []float32 // pre-allocated scratch for window extraction

	lastDetection   *PitchData
	lastVolume      *volume.Analysis
	cyclesSincePublish int
}

// New constructs an Analyzer for cfg at sampleRate, reporting to recorder
// (pass metrics.NoOpRecorder{} if no backend is wired).
func New(cfg pitch.Config, sampleRate float64, recorder metrics.Recorder) (*Analyzer, error) {
	d, err := pitch.New(cfg, sampleRate)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{
		detector:       d,
		tracker:        metrics.NewTracker(recorder),
		analysisBuffer: make([]float32, cfg.SampleWindowSize),
	}
	a.tracker.SetMemoryUsageBytes(a.memoryUsageBytes())
	return a, nil
}

// Config returns the active detector configuration.
func (a *Analyzer) Config() pitch.Config { return a.detector.Config() }

// Detector exposes the underlying detector for advanced callers (e.g. to
// inspect its early-exit setting after an optimisation hook).
func (a *Analyzer) Detector() *pitch.Detector { return a.detector }

// UpdateConfig resizes the analysis buffer and detector scratch for a new
// config. ConfigurationError leaves the previous config and buffers intact.
func (a *Analyzer) UpdateConfig(cfg pitch.Config) error {
	if err := a.detector.UpdateConfig(cfg); err != nil {
		return err
	}
	a.analysisBuffer = make([]float32, cfg.SampleWindowSize)
	a.tracker.SetMemoryUsageBytes(a.memoryUsageBytes())
	return nil
}

// AnalyzeSamples runs the detector over exactly one window, recording
// metrics and caching the result. window must equal the configured
// SampleWindowSize or an InputSizeMismatch-classified ConfigurationError is
// returned.
func (a *Analyzer) AnalyzeSamples(window []float32) (*pitch.Result, error) {
	if len(window) != a.detector.Config().SampleWindowSize {
		return nil, coreerrors.New(coreerrors.ConfigurationError, "analyze_samples: input length must equal window size")
	}
	copy(a.analysisBuffer, window)

	start := clock()
	yinStart := start
	result, ok, err := a.detector.Analyze(a.analysisBuffer)
	yinEnd := clock()
	end := yinEnd

	if err != nil {
		a.tracker.Record(start, end, yinEnd.Sub(yinStart), false)
		return nil, coreerrors.Wrap(coreerrors.AnalysisError, "detector analyze failed", err)
	}
	a.tracker.Record(start, end, yinEnd.Sub(yinStart), ok)

	if !ok {
		return nil, nil
	}
	a.lastDetection = &PitchData{Result: result, Timestamp: end}
	a.publishMetricsIfDue()
	return &result, nil
}

// AnalyzeBatch slices batch into non-overlapping windows and returns a
// result per detected window (windows with no detection are omitted).
func (a *Analyzer) AnalyzeBatch(batch []float32) ([]pitch.Result, error) {
	n := a.detector.Config().SampleWindowSize
	var out []pitch.Result
	for off := 0; off+n <= len(batch); off += n {
		res, err := a.AnalyzeSamples(batch[off : off+n])
		if err != nil {
			return out, err
		}
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, nil
}

// AnalyzeBatchWithOverlap slices batch into strided, overlapping windows.
// overlap is clamped to [0, 0.9] per spec §9's safety clamp.
func (a *Analyzer) AnalyzeBatchWithOverlap(batch []float32, overlap float64) ([]pitch.Result, error) {
	if overlap < 0 {
		overlap = 0
	}
	if overlap > 0.9 {
		overlap = 0.9
	}
	n := a.detector.Config().SampleWindowSize
	step := int(float64(n) * (1 - overlap))
	if step < 1 {
		step = 1
	}
	var out []pitch.Result
	for off := 0; off+n <= len(batch); off += step {
		res, err := a.AnalyzeSamples(batch[off : off+n])
		if err != nil {
			return out, err
		}
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, nil
}

// UpdateVolumeAnalysis computes and caches volume analysis for frame.
func (a *Analyzer) UpdateVolumeAnalysis(frame []float32) volume.Analysis {
	analysis := volume.Analyze(frame)
	a.lastVolume = &analysis
	return analysis
}

// LatestVolume returns the last cached VolumeAnalysis, if any.
func (a *Analyzer) LatestVolume() (volume.Analysis, bool) {
	if a.lastVolume == nil {
		return volume.Analysis{}, false
	}
	return *a.lastVolume, true
}

// Latest returns the cached last detection with its timestamp.
func (a *Analyzer) Latest() (PitchData, bool) {
	if a.lastDetection == nil {
		return PitchData{}, false
	}
	return *a.lastDetection, true
}

// Metrics returns the current performance metrics snapshot.
func (a *Analyzer) Metrics() metrics.Performance { return a.tracker.Snapshot() }

// ResetMetrics zeroes all accumulated performance metrics.
func (a *Analyzer) ResetMetrics() { a.tracker.Reset() }

// publishMetricsIfDue advances the publish-cadence counter, wrapping it to
// zero every 1000 successful detections, mirroring
// original_source/pitch_analyzer.rs's publish_metrics_update cadence. It does
// no logging itself; a manager-level logger can poll ShouldPublishMetrics and
// read Metrics().
func (a *Analyzer) publishMetricsIfDue() {
	a.cyclesSincePublish++
	if a.cyclesSincePublish >= 1000 {
		a.cyclesSincePublish = 0
	}
}

// ShouldPublishMetrics reports whether the cadence counter has just wrapped
// to zero (and at least one cycle has been recorded). It does not modify the
// counter; publishMetricsIfDue does the wrapping.
func (a *Analyzer) ShouldPublishMetrics() bool {
	return a.cyclesSincePublish == 0 && a.Metrics().CycleCount > 0
}

// memoryUsageBytes statically accounts for scratch and batch buffer sizes:
// two float64 slices of length tauMax+1 inside the detector are not directly
// observable here, so this reports the analysis buffer plus an estimate that
// counts both scratch slices as window-sized float64 slices, matching
// original_source's approach of summing known allocation sizes rather than
// querying a runtime profiler.
func (a *Analyzer) memoryUsageBytes() uint64 {
	const float32Size = 4
	const detectorScratchMultiplier = 2 // diff + cmndf, estimated as window-sized
	n := uint64(len(a.analysisBuffer))
	return n*float32Size + n*detectorScratchMultiplier*8
}

// GetMemoryEfficiency reports whether memory usage per sample stays under
// the 100 bytes/sample threshold from original_source/pitch_analyzer.rs.
func (a *Analyzer) GetMemoryEfficiency() bool {
	n := len(a.analysisBuffer)
	if n == 0 {
		return true
	}
	perSample := float64(a.memoryUsageBytes()) / float64(n)
	return perSample < 100
}

// ValidateZeroAllocation runs iterations analyze calls over a fixed
// low-level constant window (every sample 0.01) and reports whether the Go runtime observed zero heap allocations
// during them — the Go analogue of original_source's host-allocator-counter
// invariant (spec §8 invariant 1).
func (a *Analyzer) ValidateZeroAllocation(iterations int) (bool, error) {
	window := make([]float32, a.detector.Config().SampleWindowSize)
	for i := range window {
		window[i] = 0.01
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	for i := 0; i < iterations; i++ {
		if _, err := a.AnalyzeSamples(window); err != nil {
			return false, err
		}
	}
	runtime.ReadMemStats(&after)
	return after.Mallocs-before.Mallocs == 0, nil
}

// BenchmarkResult is one window-size's measured average latency, from
// BenchmarkWindowSizes.
type BenchmarkResult struct {
	WindowSize       int
	AverageLatencyMs float64
}

// BenchmarkWindowSizes exercises each ladder rung for 10 synthetic
// iterations and reports average latency per size, matching
// original_source/pitch_analyzer.rs's benchmark_window_sizes.
func BenchmarkWindowSizes(sampleRate float64, recorder metrics.Recorder) ([]BenchmarkResult, error) {
	const iterations = 10
	results := make([]BenchmarkResult, 0, len(WindowLadder))
	for _, n := range WindowLadder {
		cfg := pitch.DefaultConfig()
		cfg.SampleWindowSize = n
		bench, err := New(cfg, sampleRate, recorder)
		if err != nil {
			return nil, err
		}
		window := make([]float32, n)
		for i := range window {
			window[i] = float32(0.5)
		}
		for i := 0; i < iterations; i++ {
			if _, err := bench.AnalyzeSamples(window); err != nil {
				return nil, err
			}
		}
		results = append(results, BenchmarkResult{
			WindowSize:       n,
			AverageLatencyMs: bench.Metrics().AverageLatencyMs,
		})
	}
	return results, nil
}

// OptimalWindowSizeForLatency returns the largest WindowLadder rung whose
// estimated window latency (N/sampleRate) is within targetMs, or the
// smallest rung if none is; the current window size does not enter into
// it. Grounded on
// internal/adapt.NextBitrate's step-by-one-rung discipline, generalized to
// a direct walk since there is no external feedback loop here (the target
// is known exactly, unlike observed network RTT/loss).
func (a *Analyzer) OptimalWindowSizeForLatency(targetMs float64, sampleRate float64) int {
	best := WindowLadder[0]
	for _, n := range WindowLadder {
		estMs := float64(n) / sampleRate * 1000
		if estMs <= targetMs {
			best = n
		}
	}
	return best
}

// AccuracyOptimizedWindowSize returns the largest ladder rung, maximising
// frequency resolution at the cost of latency.
func (a *Analyzer) AccuracyOptimizedWindowSize() int {
	return WindowLadder[len(WindowLadder)-1]
}

// IsPowerOf2Optimized reports whether the current window size is a power of
// two (every WindowLadder rung is, by construction).
func (a *Analyzer) IsPowerOf2Optimized() bool {
	return isPowerOfTwo(a.detector.Config().SampleWindowSize)
}

// OptimizeForLatency mutates detector config to the largest ladder rung
// that meets targetLatencyMs (see OptimalWindowSizeForLatency), and enables the detector's early-exit energy
// gate only when the target is tight (<25ms) — matching
// original_source/pitch_analyzer.rs's optimize_for_latency. This is
// explicit and caller-driven only; the analyzer never calls it on its own
// (spec §9, "Metrics influence on behaviour").
func (a *Analyzer) OptimizeForLatency(targetLatencyMs float64, sampleRate float64) error {
	n := a.OptimalWindowSizeForLatency(targetLatencyMs, sampleRate)
	cfg := a.detector.Config()
	cfg.SampleWindowSize = n
	if err := a.UpdateConfig(cfg); err != nil {
		return err
	}
	a.detector.SetEarlyExitEnabled(targetLatencyMs < 25)
	return nil
}

// OptimizeForAccuracy mutates detector config to the accuracy-optimised
// window size and disables early exit, matching
// original_source/pitch_analyzer.rs's optimize_for_accuracy.
func (a *Analyzer) OptimizeForAccuracy() error {
	cfg := a.detector.Config()
	cfg.SampleWindowSize = a.AccuracyOptimizedWindowSize()
	if err := a.UpdateConfig(cfg); err != nil {
		return err
	}
	a.detector.SetEarlyExitEnabled(false)
	return nil
}

// SetEarlyExitEnabled is a direct pass-through for callers that want to
// toggle the energy gate without a full optimisation-hook call.
func (a *Analyzer) SetEarlyExitEnabled(enabled bool) {
	a.detector.SetEarlyExitEnabled(enabled)
}

// MeetsLatencyRequirement reports whether the current average latency is
// within maxLatencyMs.
func (a *Analyzer) MeetsLatencyRequirement(maxLatencyMs float64) bool {
	return a.tracker.Snapshot().AverageLatencyMs <= maxLatencyMs
}
