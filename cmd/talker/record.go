package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rojolang/talker-go/pkg/talker"
)

func newAudioManager(cfg *talker.Config) *talker.AudioManager {
	log := logger()
	return talker.NewAudioManager(talker.ManagerOptions{
		Input:  talker.NewPortAudioInput(cfg.Audio.DeviceID, log),
		Output: talker.NewSpeakerOutput(log),
		Config: cfg.Audio,
		Logger: log,
	})
}

func recordCmd() *cobra.Command {
	var (
		duration float64
		output   string
		meter     bool
		play      bool
		gain      float32
		normalize bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone to a WAV file",
		Long:  "Record until the duration elapses or Ctrl+C is pressed, then write the WAV file",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := clientConfig()
			if err := cfg.Audio.Validate(); err != nil {
				logger().WithError(err).Fatal("Invalid audio configuration")
			}
			m := newAudioManager(cfg)
			defer m.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			limit := make(chan struct{}, 1)
			handlers := []talker.RecordingStateHandler{
				talker.CreateDurationLimit(time.Duration(duration*float64(time.Second)), func() {
					limit <- struct{}{}
				}),
			}
			if meter {
				handlers = append(handlers, talker.CreateLevelMonitor(func(level, peak float64) {
					fmt.Printf("\r%-40s %3.0f%% peak %3.0f%%", strings.Repeat("#", int(level*40)), level*100, peak*100)
				}))
			}
			off := m.OnRecordingStateChange(talker.SequentialRecordingHandlers(handlers...))
			defer off()

			if err := m.StartRecording(ctx); err != nil {
				logger().WithError(err).Fatal("Failed to start recording")
			}
			fmt.Printf("Recording for %.1fs (Ctrl+C to stop early)...\n", duration)

			select {
			case <-limit:
			case <-ctx.Done():
			}

			state := m.RecordingState()
			data, err := m.StopRecording()
			if meter {
				fmt.Println()
			}
			if err != nil {
				logger().WithError(err).Fatal("Recording failed")
			}
			if gain != 0 || normalize {
				if data, err = talker.AdjustWAV(data, gain, normalize); err != nil {
					logger().WithError(err).Fatal("Failed to adjust recording")
				}
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				logger().WithError(err).Fatal("Failed to write recording")
			}
			fmt.Printf("Saved %.1fs (%d bytes) to %s\n", state.Duration, len(data), output)

			if play {
				playAndWait(context.Background(), m, talker.NewBytesSource(data), output)
			}
		},
	}

	cmd.Flags().Float64VarP(&duration, "duration", "d", 5.0, "Maximum recording duration in seconds")
	cmd.Flags().StringVarP(&output, "output", "o", "recording.wav", "Output WAV file")
	cmd.Flags().BoolVarP(&meter, "meter", "m", true, "Show a live level meter")
	cmd.Flags().BoolVarP(&play, "play", "p", false, "Play the recording back when done")
	cmd.Flags().Float32VarP(&gain, "gain", "g", 0, "Gain in dB applied before saving")
	cmd.Flags().BoolVarP(&normalize, "normalize", "n", false, "Normalize the peak level before saving")

	return cmd
}
