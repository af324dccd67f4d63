// Package audiograph implements the spec's abstract AudioGraph boundary
// (§1, §6 "To the audio graph"): device enumeration, node connection, and
// the render-quantum callback that drives §4.C. Grounded on the teacher's
// audio.go AudioEngine — its device listing, device resolution, and
// Start/Stop stream lifecycle are kept, narrowed from a duplex
// capture+playback+Opus pipeline down to capture-only (this spec has no
// speaker-output or network path) and generalized to call a render-quantum
// callback instead of running its own Opus encode loop.
package audiograph

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// RenderQuantumSize matches internal/worklet's fixed per-callback sample
// count (spec §2, §4.C).
const RenderQuantumSize = 128

// Device describes an available audio input device, mirroring the teacher's
// AudioDevice.
type Device struct {
	ID   int
	Name string
}

// RenderCallback is invoked once per render quantum with the captured input
// samples (RenderQuantumSize long, mono) and returns RenderQuantumSize output
// samples. PortAudioGraph opens an input-only stream and ignores the returned
// samples. Must behave per spec §4.C: non-blocking, non-allocating after
// warm-up.
type RenderCallback func(input []float32) []float32

// Graph is the spec's abstract AudioGraph (§1 "treated as an abstract
// AudioGraph interface providing device enumeration, node connections, and a
// render-quantum callback"). PortAudioGraph is the only implementation in
// this module; cmd/pitchcore constructs it directly, and internal/manager
// does not use a Graph.
type Graph interface {
	ListInputDevices() []Device
	SetInputDevice(id int)
	Start(cb RenderCallback) error
	Stop()
	Done() <-chan struct{}
}

// PortAudioGraph is the concrete Graph backed by PortAudio, grounded on
// audio.go's AudioEngine.
type PortAudioGraph struct {
	mu sync.Mutex

	inputDeviceID int
	sampleRate    float64

	stream  paStream
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// paStream abstracts a PortAudio stream for testing, mirroring the teacher's
// paStream interface in audio.go.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
}

// New returns a PortAudioGraph sampling at sampleRate (spec §2: "typically
// 48000 Hz; the pipeline must tolerate 44100 Hz").
func New(sampleRate float64) *PortAudioGraph {
	return &PortAudioGraph{
		inputDeviceID: -1,
		sampleRate:    sampleRate,
		stopCh:        make(chan struct{}),
	}
}

// ListInputDevices returns available microphone-capable devices, grounded on
// audio.go's ListInputDevices/listDevices.
func (g *PortAudioGraph) ListInputDevices() []Device {
	devices, err := portaudio.Devices()
	if err != nil {
		slog.Warn("list audio devices failed", "error", err)
		return nil
	}
	var out []Device
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out
}

// SetInputDevice selects the input device by index; -1 requests the
// platform default, per resolveDevice's fallback in the teacher.
func (g *PortAudioGraph) SetInputDevice(id int) {
	g.mu.Lock()
	g.inputDeviceID = id
	g.mu.Unlock()
}

// resolveDevice returns the device at idx if valid, otherwise the fallback
// (direct port of audio.go's resolveDevice).
func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// Start opens an input-only stream at RenderQuantumSize frames per buffer
// and calls cb once per render quantum (spec §4.C "Contract"). Errors
// listing devices or opening/starting the stream are returned wrapped with
// fmt.Errorf, not classified into an internal/errors Kind, and Start does
// not retry; cmd/pitchcore's run command returns them as-is.
func (g *PortAudioGraph) Start(cb RenderCallback) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	inputDev, err := resolveDevice(devices, g.inputDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return fmt.Errorf("resolve input device: %w", err)
	}

	captureBuf := make([]float32, RenderQuantumSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: 1,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      g.sampleRate,
		FramesPerBuffer: RenderQuantumSize,
	}
	stream, err := portaudio.OpenStream(params, captureBuf)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start stream: %w", err)
	}

	g.stream = stream
	g.stopCh = make(chan struct{})
	g.running = true

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.renderLoop(stream, captureBuf, cb)
	}()

	slog.Info("audio graph started", "device", inputDev.Name, "sampleRate", g.sampleRate)
	return nil
}

func (g *PortAudioGraph) renderLoop(stream paStream, buf []float32, cb RenderCallback) {
	for {
		select {
		case <-g.stopCh:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			g.mu.Lock()
			running := g.running
			g.mu.Unlock()
			if running {
				slog.Warn("audio capture read failed", "error", err)
			}
			return
		}
		cb(buf)
	}
}

// Stop halts the capture stream. Sequenced the same way as the teacher's
// AudioEngine.Stop: stop the stream first (unblocks any in-flight Read),
// then wait for the render goroutine, then close.
func (g *PortAudioGraph) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	close(g.stopCh)
	stream := g.stream
	g.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	g.wg.Wait()
	if stream != nil {
		stream.Close()
	}

	g.mu.Lock()
	g.stream = nil
	g.mu.Unlock()
	slog.Info("audio graph stopped")
}

// Done returns a channel closed when the graph stops, mirroring the
// teacher's AudioEngine.Done.
func (g *PortAudioGraph) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopCh
}
