package main

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"

	"github.com/mandersson1024/intonation-toy-sub003/internal/audiograph"
)

// devicesCommand lists available input devices, grounded on the teacher's
// ListInputDevices/portaudio.Initialize-at-startup discipline (app.go's
// startup/shutdown), done here as a one-shot call instead of held open for
// an app lifetime.
func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := portaudio.Initialize(); err != nil {
				return fmt.Errorf("initialize portaudio: %w", err)
			}
			defer portaudio.Terminate()

			g := audiograph.New(48000.0)
			devices := g.ListInputDevices()
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no input devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", d.ID, d.Name)
			}
			return nil
		},
	}
}
