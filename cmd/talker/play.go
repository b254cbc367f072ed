package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rojolang/talker-go/pkg/talker"
)

func playCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <file-or-url>",
		Short: "Play an audio file or URL",
		Long:  "Play a WAV, MP3, FLAC or OGG file from disk or over HTTP through the speaker",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := clientConfig()
			m := newAudioManager(cfg)
			defer m.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var src talker.Source = talker.FileSource{Path: args[0]}
			if strings.HasPrefix(args[0], "http://") || strings.HasPrefix(args[0], "https://") {
				src = talker.URLSource{URL: args[0]}
			}
			if !playAndWait(ctx, m, src, args[0]) {
				os.Exit(1)
			}
		},
	}

	return cmd
}

// playAndWait plays src and blocks until it ends, fails or ctx is done. It
// reports whether playback finished without error.
func playAndWait(ctx context.Context, m *talker.AudioManager, src talker.Source, trackID string) bool {
	sub := m.SubscribePlayback()
	defer sub.Close()

	if err := m.PlayAudio(ctx, src, trackID); err != nil {
		logger().WithError(err).Error("Playback failed")
		return false
	}

	for {
		select {
		case s, ok := <-sub.C():
			if !ok {
				return false
			}
			switch s.Phase {
			case talker.PhasePlaying:
				fmt.Printf("\rPlaying %s  %5.1fs / %5.1fs", trackID, s.CurrentTime, s.Duration)
			case talker.PhaseEnded:
				fmt.Println("\nPlayback completed")
				return true
			case talker.PhaseError:
				fmt.Println()
				logger().WithError(s.Err).Error("Playback failed")
				return false
			}
		case <-ctx.Done():
			m.StopAudio()
			fmt.Println("\nPlayback stopped")
			return true
		}
	}
}
