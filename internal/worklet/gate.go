package worklet

// energyGate tags dispatched batches as low-energy by setting
// AudioDataBatchPayload.LowEnergy; the gate is always active, and no
// component in this module reads the tag. This is
// additive instrumentation only — it never discards samples or alters the
// analysis path — grounded on the teacher's internal/noisegate.Gate
// (threshold + hold hysteresis over RMS), adapted from "zero the frame
// below threshold" to "tag the batch without touching its samples" since
// spec §4.C never calls for discarding audio.
type energyGate struct {
	threshold float32
	hold      int
	holdLeft  int
}

// defaultGateThreshold and defaultGateHold mirror the teacher's
// noisegate.DefaultThreshold/DefaultHold.
const (
	defaultGateThreshold float32 = 0.01
	defaultGateHold      int     = 10
)

func newEnergyGate() *energyGate {
	return &energyGate{threshold: defaultGateThreshold, hold: defaultGateHold}
}

// observe reports whether rms is below the gate threshold, applying hold
// hysteresis so a single quiet quantum amid louder ones doesn't flap the tag.
func (g *energyGate) observe(rms float32) (lowEnergy bool) {
	if rms >= g.threshold {
		g.holdLeft = g.hold
		return false
	}
	if g.holdLeft > 0 {
		g.holdLeft--
		return false
	}
	return true
}

// setThreshold maps a [0,100] UI-style level onto the gate's working range,
// mirroring the teacher's threshold-mapping pattern ([0,100] -> linear
// range) used across vad/noisegate/agc.
func (g *energyGate) setThreshold(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	const minT, maxT = 0.001, 0.10
	g.threshold = float32(minT + (maxT-minT)*float64(level)/100.0)
}
