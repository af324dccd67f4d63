// Command pitchcore is the headless CLI entrypoint for the pitch detection
// core, replacing the teacher's Wails desktop bootstrap (client/main.go)
// with a plain cobra command tree since this spec has no UI surface (§1
// Non-goals: UI). setDefaultEnv is kept from the teacher verbatim: PortAudio
// picks a sensible host API per platform but benefits from the same
// environment nudging the teacher applied before opening any stream.
package main

import (
	"fmt"
	"os"
	"runtime"
)

func setDefaultEnv(key, value string) {
	if os.Getenv(key) == "" {
		_ = os.Setenv(key, value)
	}
}

// configureAudioHostEnv nudges PortAudio toward a working host API on
// platforms where the default auto-selection is unreliable, mirroring the
// teacher's configureLinuxDesktopEnv (there: WebKitGTK/Wayland quirks; here:
// PortAudio host API selection).
func configureAudioHostEnv() {
	if runtime.GOOS == "linux" {
		setDefaultEnv("PA_ALSA_PLUGHW", "1")
	}
}

func main() {
	configureAudioHostEnv()

	if err := RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
