package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mandersson1024/intonation-toy-sub003/internal/analyzer"
	"github.com/mandersson1024/intonation-toy-sub003/internal/audiograph"
	"github.com/mandersson1024/intonation-toy-sub003/internal/bufferpool"
	"github.com/mandersson1024/intonation-toy-sub003/internal/config"
	"github.com/mandersson1024/intonation-toy-sub003/internal/httpapi"
	"github.com/mandersson1024/intonation-toy-sub003/internal/manager"
	"github.com/mandersson1024/intonation-toy-sub003/internal/metrics"
	"github.com/mandersson1024/intonation-toy-sub003/internal/model"
	"github.com/mandersson1024/intonation-toy-sub003/internal/tuning"
	"github.com/mandersson1024/intonation-toy-sub003/internal/worklet"
)

const defaultSampleRate = 48000.0

// tickerSnapshot is the httpapi.SnapshotSource fed by run's poll loop: it
// caches the last model.UpdateResult so concurrent HTTP requests never
// block on the application-thread tick, the same decoupling the spec's
// presentation layer gets from the channel boundary in §5.
type tickerSnapshot struct {
	mu     sync.Mutex
	latest model.UpdateResult
}

func (s *tickerSnapshot) set(r model.UpdateResult) {
	s.mu.Lock()
	s.latest = r
	s.mu.Unlock()
}

func (s *tickerSnapshot) Snapshot() model.UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// runCommand wires audiograph -> worklet -> manager -> model into a running
// pipeline, exposes it over internal/httpapi, and blocks until interrupted.
// Grounded on the teacher's app.go startup/shutdown pairing for
// portaudio.Initialize/Terminate, generalized from a Wails lifecycle hook to
// a signal.NotifyContext-driven main loop.
func runCommand() *cobra.Command {
	var (
		addr          string
		inputDeviceID int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pitch detection pipeline against a live input device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("input-device") {
				cfg.InputDeviceID = inputDeviceID
			}

			if err := portaudio.Initialize(); err != nil {
				return fmt.Errorf("initialize portaudio: %w", err)
			}
			defer portaudio.Terminate()

			reg := prometheus.NewRegistry()
			recorder := metrics.NewPrometheusRecorder(reg)

			a, err := analyzer.New(cfg.Detector, defaultSampleRate, recorder)
			if err != nil {
				return fmt.Errorf("construct analyzer: %w", err)
			}

			pool := bufferpool.New(cfg.Batch.BatchSize*4, 4, 32)
			workletCfg := worklet.Config{
				BatchConfig:           cfg.Batch,
				TestSignalConfig:      cfg.TestSignal,
				BackgroundNoiseConfig: cfg.Noise,
			}
			proc := worklet.New(workletCfg, pool, defaultSampleRate)

			m := manager.New(proc, a)
			m.SetStatusCallback(func(state worklet.State, err error) {
				if err != nil {
					slog.Warn("pipeline status", "state", state, "error", err)
					return
				}
				slog.Info("pipeline status", "state", state)
			})

			go m.Run()
			m.Initialize()

			graph := audiograph.New(defaultSampleRate)
			graph.SetInputDevice(cfg.InputDeviceID)
			if err := graph.Start(proc.ProcessQuantum); err != nil {
				return fmt.Errorf("start audio graph: %w", err)
			}
			m.Start()

			dataModel := model.NewWithTuning(tuning.Config{
				System:       cfg.Tuning.System,
				CustomRatios: cfg.Tuning.CustomRatios,
			}, cfg.Tuning.RootNote)
			snapshot := &tickerSnapshot{}
			server := httpapi.New(snapshot, reg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go pollModel(ctx, m, dataModel, snapshot)

			slog.Info("pitchcore listening", "addr", addr)
			server.Run(ctx, addr)

			m.Stop()
			graph.Stop()
			m.Disconnect()
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8090", "HTTP listen address")
	cmd.Flags().IntVar(&inputDeviceID, "input-device", -1, "input device index (-1 for platform default)")

	return cmd
}

// pollModel drives the application-thread tick described in spec §2's data
// flow diagram: pull the manager's latest engine snapshot, run it through
// the model transformer, and publish the result for httpapi to serve.
func pollModel(ctx context.Context, m *manager.Manager, dataModel *model.DataModel, snapshot *tickerSnapshot) {
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := dataModel.Update(m.EngineSnapshot())
			snapshot.set(result)
		}
	}
}
