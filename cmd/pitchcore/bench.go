package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mandersson1024/intonation-toy-sub003/internal/analyzer"
	"github.com/mandersson1024/intonation-toy-sub003/internal/config"
	"github.com/mandersson1024/intonation-toy-sub003/internal/metrics"
	"github.com/mandersson1024/intonation-toy-sub003/internal/testsignal"
)

// benchCommand measures analyzer throughput/latency against a synthetic
// tone, standing in for the teacher's XNNPACK-vs-standard inference
// benchmark (cmd/benchmark in the pack's birdnet-go) with a window-size
// comparison instead of a delegate comparison, since this spec's only
// performance knob is SampleWindowSize (§4.B).
func benchCommand() *cobra.Command {
	var (
		seconds     float64
		frequencyHz float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark pitch detector latency against a synthetic tone",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			for _, windowSize := range []int{256, 512, 1024, 2048, 4096} {
				detectorCfg := cfg.Detector
				detectorCfg.SampleWindowSize = windowSize

				a, err := analyzer.New(detectorCfg, defaultSampleRate, metrics.NoOpRecorder{})
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "window %5d: skipped (%v)\n", windowSize, err)
					continue
				}

				perf := runBenchOnce(a, windowSize, frequencyHz, seconds)
				fmt.Fprintf(cmd.OutOrStdout(), "window %5d: avg %6.2fms  p_max %6.2fms  violations %5.2f%%  grade %s\n",
					windowSize, perf.AverageLatencyMs, perf.MaxLatencyMs, perf.ViolationRate()*100, perf.PerformanceGrade())
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&seconds, "seconds", 2.0, "synthetic signal duration to analyze")
	cmd.Flags().Float64Var(&frequencyHz, "frequency", 440.0, "synthetic tone frequency in Hz")

	return cmd
}

func runBenchOnce(a *analyzer.Analyzer, windowSize int, frequencyHz, seconds float64) metrics.Performance {
	tone := testsignal.NewToneGenerator(defaultSampleRate)
	toneCfg := testsignal.Config{Enabled: true, Frequency: frequencyHz, Amplitude: 0.8}

	totalSamples := int(seconds * defaultSampleRate)
	buf := make([]float32, windowSize)
	for processed := 0; processed+windowSize <= totalSamples; processed += windowSize {
		tone.Fill(buf, toneCfg)
		_, _ = a.AnalyzeSamples(buf)
	}
	return a.Metrics()
}
