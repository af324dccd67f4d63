// Package metrics tracks the pitch analyzer's performance characteristics
// (spec §4.B) and exposes them both as a plain struct for in-process polling
// and, via the Recorder interface, to an external metrics backend.
package metrics

import "time"

// violationThresholdMs is the per-call latency above which a cycle counts as
// a violation (spec §4.B / §4.B performance requirement).
const violationThresholdMs = 50.0

// emaAlpha is the smoothing factor for the exponential moving average of
// latency, fixed by spec §4.B.
const emaAlpha = 0.1

// Grade buckets analyzer latency into a human-readable performance tier,
// supplemented from original_source/pitch_analyzer.rs's performance_grade.
type Grade int

const (
	Unacceptable Grade = iota
	Poor
	Acceptable
	Good
	Excellent
)

func (g Grade) String() string {
	switch g {
	case Excellent:
		return "excellent"
	case Good:
		return "good"
	case Acceptable:
		return "acceptable"
	case Poor:
		return "poor"
	default:
		return "unacceptable"
	}
}

// Performance is the spec's PerformanceMetrics, with the supplemented
// memory-accounting fields from original_source/pitch_analyzer.rs.
type Performance struct {
	CurrentLatencyMs float64
	AverageLatencyMs float64
	MinLatencyMs     float64
	MaxLatencyMs     float64
	YinTimeUs        float64
	CycleCount       uint64
	SuccessCount     uint64
	FailureCount     uint64
	ViolationCount   uint64
	MemoryUsageBytes uint64
}

// SuccessRate returns SuccessCount / CycleCount, or 0 if no cycles have run.
func (p Performance) SuccessRate() float64 {
	if p.CycleCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.CycleCount)
}

// ViolationRate returns ViolationCount / CycleCount, or 0 if no cycles have run.
func (p Performance) ViolationRate() float64 {
	if p.CycleCount == 0 {
		return 0
	}
	return float64(p.ViolationCount) / float64(p.CycleCount)
}

// Grade buckets AverageLatencyMs per original_source's performance_grade:
// Excellent <=20ms, Good <=35ms, Acceptable <=50ms, Poor <=100ms, else
// Unacceptable.
func (p Performance) PerformanceGrade() Grade {
	switch {
	case p.AverageLatencyMs <= 20:
		return Excellent
	case p.AverageLatencyMs <= 35:
		return Good
	case p.AverageLatencyMs <= 50:
		return Acceptable
	case p.AverageLatencyMs <= 100:
		return Poor
	default:
		return Unacceptable
	}
}

// MeetsPerformanceRequirements reports whether average latency is within
// the spec's 50ms budget AND the violation rate is below 5%.
func (p Performance) MeetsPerformanceRequirements() bool {
	return p.AverageLatencyMs <= violationThresholdMs && p.ViolationRate() < 0.05
}

// Tracker accumulates Performance across analyze calls. It is not safe for
// concurrent use from multiple goroutines — the analyzer that owns it is
// single-threaded per spec §4.B ("Pure single-threaded, owns the detector
// exclusively").
type Tracker struct {
	perf     Performance
	recorder Recorder
}

// NewTracker constructs a Tracker reporting to recorder. Pass NoOpRecorder{}
// when no external metrics backend is wired.
func NewTracker(recorder Recorder) *Tracker {
	if recorder == nil {
		recorder = NoOpRecorder{}
	}
	return &Tracker{
		perf:     Performance{MinLatencyMs: 0, MaxLatencyMs: 0},
		recorder: recorder,
	}
}

// Reset zeroes all accumulated metrics.
func (t *Tracker) Reset() {
	t.perf = Performance{}
}

// Snapshot returns the current metrics.
func (t *Tracker) Snapshot() Performance { return t.perf }

// Record updates the tracker with the outcome of a single analyze call.
// start/end are high-resolution timestamps bracketing the whole call;
// yinTime is the micro-timing of the YIN computation alone.
func (t *Tracker) Record(start, end time.Time, yinTime time.Duration, success bool) {
	latencyMs := float64(end.Sub(start)) / float64(time.Millisecond)

	t.perf.CycleCount++
	if success {
		t.perf.SuccessCount++
	} else {
		t.perf.FailureCount++
	}

	t.perf.CurrentLatencyMs = latencyMs
	t.perf.YinTimeUs = float64(yinTime) / float64(time.Microsecond)

	if t.perf.CycleCount == 1 {
		t.perf.AverageLatencyMs = latencyMs
		t.perf.MinLatencyMs = latencyMs
		t.perf.MaxLatencyMs = latencyMs
	} else {
		t.perf.AverageLatencyMs = emaAlpha*latencyMs + (1-emaAlpha)*t.perf.AverageLatencyMs
		if latencyMs < t.perf.MinLatencyMs {
			t.perf.MinLatencyMs = latencyMs
		}
		if latencyMs > t.perf.MaxLatencyMs {
			t.perf.MaxLatencyMs = latencyMs
		}
	}

	if latencyMs > violationThresholdMs {
		t.perf.ViolationCount++
	}

	status := "success"
	if !success {
		status = "failure"
	}
	t.recorder.RecordOperation("analyze", status)
	t.recorder.RecordDuration("analyze", latencyMs/1000)
	if !success {
		t.recorder.RecordError("analyze", "no_detection")
	}
}

// SetMemoryUsageBytes updates the static memory-accounting field (scratch +
// batch buffer sizes); this is not derived from Record since it does not
// change per call.
func (t *Tracker) SetMemoryUsageBytes(bytes uint64) {
	t.perf.MemoryUsageBytes = bytes
}
