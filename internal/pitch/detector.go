// Package pitch implements a YIN-family fundamental-frequency (f0) detector.
// A Detector is stateless per call — two scratch buffers are pre-allocated
// at construction and reused on every Analyze, so the hot path never
// allocates. Resizing the scratch only happens on an explicit config change.
package pitch

import (
	"math"

	coreerrors "github.com/mandersson1024/intonation-toy-sub003/internal/errors"
)

// minEnergyDBFS is the energy-gate floor below which a window is treated as
// silence without running the difference function at all. This is the
// dominant optimisation for silence/noise described in spec §4.A step 1.
const minEnergyDBFS = -50.0

// Config holds the tunable parameters of a Detector.
type Config struct {
	// SampleWindowSize is the number of samples analyzed per call. Must be
	// >=128 and, for accurate detection, roughly >= 2*ceil(sampleRate/minFrequency).
	SampleWindowSize int
	// Threshold is the YIN clarity cutoff in (0, 1]. Default 0.15.
	Threshold float32
	// MinFrequency and MaxFrequency bound the accepted f0 range, 0 < Min < Max.
	MinFrequency float32
	MaxFrequency float32
}

// DefaultConfig returns the spec's documented default configuration.
func DefaultConfig() Config {
	return Config{
		SampleWindowSize: 1024,
		Threshold:        0.15,
		MinFrequency:     80,
		MaxFrequency:     2000,
	}
}

// Validate checks the config's invariants, returning a ConfigurationError
// if violated.
func (c Config) Validate() error {
	if c.SampleWindowSize < 128 {
		return coreerrors.New(coreerrors.ConfigurationError, "sample_window_size must be >= 128")
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return coreerrors.New(coreerrors.ConfigurationError, "threshold must be in (0, 1]")
	}
	if !(c.MinFrequency > 0 && c.MinFrequency < c.MaxFrequency) {
		return coreerrors.New(coreerrors.ConfigurationError, "min_frequency must be > 0 and < max_frequency")
	}
	return nil
}

// Result is a single f0 estimate with its clarity score. Analyze returns it
// alongside a bool that is false (with a zero Result) when no f0 passes,
// matching the spec's "absent when no f0 passes" semantics.
type Result struct {
	Frequency float32
	Clarity   float32
}

// Detector performs stateless-per-call f0 estimation over a fixed window.
// Construction fails only on invalid config bounds; Analyze never allocates.
type Detector struct {
	cfg        Config
	sampleRate float64

	tauMin int
	tauMax int
	window int // W = N - tauMax

	diff     []float64 // d(tau), length tauMax+1
	cmndf    []float64 // d'(tau), length tauMax+1
	earlyExit bool
}

// New constructs a Detector for the given config and sample rate.
func New(cfg Config, sampleRate float64) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{earlyExit: true}
	if err := d.reconfigure(cfg, sampleRate); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Detector) reconfigure(cfg Config, sampleRate float64) error {
	tauMin := int(math.Ceil(sampleRate / float64(cfg.MaxFrequency)))
	tauMax := int(math.Floor(sampleRate / float64(cfg.MinFrequency)))
	if tauMax < 1 {
		tauMax = 1
	}
	window := cfg.SampleWindowSize - tauMax
	if window <= 0 {
		return coreerrors.New(coreerrors.ConfigurationError, "sample_window_size too small for min_frequency at this sample rate")
	}

	d.cfg = cfg
	d.sampleRate = sampleRate
	d.tauMin = tauMin
	d.tauMax = tauMax
	d.window = window
	d.diff = make([]float64, tauMax+1)
	d.cmndf = make([]float64, tauMax+1)
	return nil
}

// UpdateConfig resizes scratch buffers and detector state for a new config.
// This is the only permitted allocation outside construction.
func (d *Detector) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return d.reconfigure(cfg, d.sampleRate)
}

// Config returns the active configuration.
func (d *Detector) Config() Config { return d.cfg }

// SetEarlyExitEnabled toggles the energy-gate early exit (step 1). Disabling
// it forces the full difference-function computation even on silent input;
// used by the analyzer's accuracy-optimisation hook.
func (d *Detector) SetEarlyExitEnabled(enabled bool) { d.earlyExit = enabled }

// EarlyExitEnabled reports whether the energy gate is active.
func (d *Detector) EarlyExitEnabled() bool { return d.earlyExit }

// Analyze runs YIN over exactly SampleWindowSize samples. It returns
// (result, true) when a detection passes the clarity and bounds tests, or
// (Result{}, false) otherwise. Analyze never allocates.
func (d *Detector) Analyze(x []float32) (Result, bool, error) {
	if len(x) != d.cfg.SampleWindowSize {
		return Result{}, false, coreerrors.New(coreerrors.ConfigurationError, "input length must equal sample_window_size")
	}

	if d.earlyExit {
		energy := 0.0
		for _, v := range x {
			energy += float64(v) * float64(v)
		}
		rms := math.Sqrt(energy / float64(len(x)))
		if dbfs(rms) < minEnergyDBFS {
			return Result{}, false, nil
		}
	}

	// Step 2: difference function d(tau) for tau in [0, tauMax].
	diff := d.diff
	diff[0] = 0
	for tau := 1; tau <= d.tauMax; tau++ {
		var sum float64
		for i := 0; i < d.window; i++ {
			delta := float64(x[i]) - float64(x[i+tau])
			sum += delta * delta
		}
		diff[tau] = sum
	}

	// Step 3: cumulative mean normalised difference function.
	cmndf := d.cmndf
	cmndf[0] = 1
	runningSum := 0.0
	for tau := 1; tau <= d.tauMax; tau++ {
		runningSum += diff[tau]
		if runningSum == 0 {
			cmndf[tau] = 1
		} else {
			cmndf[tau] = diff[tau] * float64(tau) / runningSum
		}
	}

	// Step 4: absolute threshold with local-minimum check, searched from tauMin.
	tauStar := -1
	for tau := d.tauMin; tau <= d.tauMax; tau++ {
		if cmndf[tau] < float64(d.cfg.Threshold) {
			// Walk forward while still descending into a local minimum.
			for tau+1 <= d.tauMax && cmndf[tau+1] < cmndf[tau] {
				tau++
			}
			tauStar = tau
			break
		}
	}
	if tauStar == -1 {
		return Result{}, false, nil
	}

	// Constant-signal guard: d(tau) == 0 for the chosen tau (and tau != 0)
	// together with every d(tau) being zero (runningSum == 0) means there's
	// no real periodicity to report. In that case every cmndf value is 1, so
	// the threshold search above has already returned.
	if tauStar > 0 && diff[tauStar] == 0 && runningSum == 0 {
		return Result{}, false, nil
	}

	// Step 5: parabolic interpolation across (tauStar-1, tauStar, tauStar+1).
	tauRefined := parabolicInterpolate(cmndf, tauStar, d.tauMax)

	// Step 6: frequency and clarity.
	freq := float32(d.sampleRate / tauRefined)
	clarity := float32(1 - cmndf[tauStar])
	if clarity < 0 {
		clarity = 0
	}
	if clarity > 1 {
		clarity = 1
	}

	if freq < d.cfg.MinFrequency || freq > d.cfg.MaxFrequency {
		return Result{}, false, nil
	}

	return Result{Frequency: freq, Clarity: clarity}, true, nil
}

// parabolicInterpolate refines the integer-lag minimum tau of cmndf into a
// real-valued estimate using its two neighbours, clamping at the array
// bounds where a neighbour is unavailable.
func parabolicInterpolate(cmndf []float64, tau, tauMax int) float64 {
	if tau <= 0 || tau >= tauMax {
		return float64(tau)
	}
	s0, s1, s2 := cmndf[tau-1], cmndf[tau], cmndf[tau+1]
	denom := 2*s1 - s2 - s0
	if denom == 0 {
		return float64(tau)
	}
	shift := (s2 - s0) / (2 * denom)
	return float64(tau) + shift
}

// dbfs converts a linear RMS amplitude (unit full scale = 1.0) to dBFS.
func dbfs(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}
