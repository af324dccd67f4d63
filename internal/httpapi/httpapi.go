// Package httpapi exposes the spec's engine/model snapshots over a minimal
// HTTP surface (§6 "External Interfaces"), plus a Prometheus handler for
// internal/metrics. Grounded on rustyguts-bken/server/api.go's APIServer:
// the same echo.New/middleware/registerRoutes/Run(ctx, addr) shape, its
// jsonErrorHandler for a consistent error body, and its health-endpoint
// naming — narrowed from room/channel/upload/admin routes down to the two
// this spec's external interface names (a snapshot endpoint and a health
// check), plus /metrics which birdnet-go's style contributes instead.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mandersson1024/intonation-toy-sub003/internal/model"
)

// SnapshotSource is the subset of the application wiring the server depends
// on: a way to pull the latest model-layer tick result. Narrowed to an
// interface so tests can substitute a fake without constructing a real
// manager/pitch pipeline.
type SnapshotSource interface {
	Snapshot() model.UpdateResult
}

// Server is the HTTP exposition of one running pipeline, grounded on
// APIServer's struct shape (a held domain handle plus an *echo.Echo).
type Server struct {
	source SnapshotSource
	echo   *echo.Echo
}

// New constructs a Server and registers all routes. reg is the Prometheus
// registry whose collectors are already registered (by internal/metrics'
// PrometheusRecorder) before this call; pass nil to omit /metrics.
func New(source SnapshotSource, reg *prometheus.Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{source: source, echo: e}
	s.registerRoutes(reg)
	return s
}

func (s *Server) registerRoutes(reg *prometheus.Registry) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/analysis", s.handleAnalysis)
	if reg != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
}

// Run starts the server on addr and blocks until ctx is cancelled, then
// shuts down gracefully. Mirrors APIServer.Run's ctx-driven lifecycle.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// AnalysisResponse is the JSON projection of model.UpdateResult for
// GET /api/analysis (spec §6 "External Interfaces": "ModelUpdateResult...
// the shape the presentation layer consumes").
type AnalysisResponse struct {
	VolumeRMSDBFS     float64  `json:"volumeRmsDbfs"`
	VolumePeakDBFS    float64  `json:"volumePeakDbfs"`
	PitchDetected     bool     `json:"pitchDetected"`
	PitchFrequencyHz  float32  `json:"pitchFrequencyHz,omitempty"`
	PitchClarity      float32  `json:"pitchClarity,omitempty"`
	ClosestMidiNote   uint8    `json:"closestMidiNote"`
	CentsOffset       float64  `json:"centsOffset"`
	IntervalSemitones int      `json:"intervalSemitones"`
	TuningSystem      string   `json:"tuningSystem"`
	RootNote          uint8    `json:"rootNote"`
	Errors            []string `json:"errors,omitempty"`
	PermissionState   string   `json:"permissionState"`
}

func (s *Server) handleAnalysis(c echo.Context) error {
	r := s.source.Snapshot()

	errs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e.String()
	}

	return c.JSON(http.StatusOK, AnalysisResponse{
		VolumeRMSDBFS:     float64(r.Volume.RMSAmplitude),
		VolumePeakDBFS:    float64(r.Volume.PeakAmplitude),
		PitchDetected:     r.Pitch.Present,
		PitchFrequencyHz:  r.Pitch.Frequency,
		PitchClarity:      r.Pitch.Clarity,
		ClosestMidiNote:   uint8(r.ClosestMidiNote),
		CentsOffset:       r.CentsOffset,
		IntervalSemitones: r.IntervalSemitones,
		TuningSystem:      r.TuningSystem.String(),
		RootNote:          uint8(r.RootNote),
		Errors:            errs,
		PermissionState:   permissionStateString(r.PermissionState),
	})
}

func permissionStateString(s model.PermissionState) string {
	switch s {
	case model.NotRequested:
		return "not_requested"
	case model.Requested:
		return "requested"
	case model.Granted:
		return "granted"
	case model.Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// jsonErrorHandler ensures all error responses share a consistent JSON body
// ({"error": "message"}), ported from APIServer's handler of the same name.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}
