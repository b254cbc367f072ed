package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/rojolang/talker-go/pkg/talker"
)

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device management",
		Long:  "Commands for listing and testing audio devices",
	}

	cmd.AddCommand(devicesListCmd())
	cmd.AddCommand(devicesTestCmd())

	return cmd
}

func devicesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Run: func(cmd *cobra.Command, args []string) {
			devices, err := talker.ListAudioDevices(logger())
			if err != nil {
				logger().WithError(err).Fatal("Failed to list audio devices")
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Name", "In", "Out", "Rate", "Host API", "Default"})
			for _, d := range devices {
				var defaults []string
				if d.IsDefaultInput {
					defaults = append(defaults, "input")
				}
				if d.IsDefaultOutput {
					defaults = append(defaults, "output")
				}
				t.AppendRow(table.Row{
					d.ID,
					d.Name,
					d.MaxInputChannels,
					d.MaxOutputChannels,
					fmt.Sprintf("%.0f Hz", d.DefaultSampleRate),
					d.HostAPI,
					text.FgGreen.Sprint(strings.Join(defaults, ", ")),
				})
			}
			t.Render()
		},
	}

	return cmd
}

func devicesTestCmd() *cobra.Command {
	var seconds float64

	cmd := &cobra.Command{
		Use:   "test [device-id]",
		Short: "Test recording from an input device",
		Long:  "Validate an input device and record from it briefly while showing the level",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := clientConfig()
			devices, err := talker.ListAudioDevices(logger())
			if err != nil {
				logger().WithError(err).Fatal("Failed to list audio devices")
			}

			var device *talker.AudioDevice
			if len(args) > 0 {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					logger().WithError(err).Fatal("Device id must be a number")
				}
				device, err = devices.ByID(id)
				if err != nil {
					logger().WithError(err).Fatal("Unknown device")
				}
			} else if device, err = devices.DefaultInput(); err != nil {
				logger().WithError(err).Fatal("No default input device")
			}

			warning, err := devices.Validate(device.ID, true, cfg.Audio.Channels, float64(cfg.Audio.SampleRate))
			if err != nil {
				logger().WithError(err).Fatal("Device validation failed")
			}
			if warning != "" {
				fmt.Printf("Warning: %s\n", warning)
			}
			fmt.Printf("\n%s\n", device.Describe())

			id := device.ID
			cfg.Audio.DeviceID = &id
			m := newAudioManager(cfg)
			defer m.Close()

			var mu sync.Mutex
			var peak float64
			off := m.OnRecordingStateChange(talker.CreateLevelMonitor(func(level, p float64) {
				mu.Lock()
				peak = p
				mu.Unlock()
			}))
			defer off()

			fmt.Printf("Recording %.1fs from device %d...\n", seconds, id)
			if err := m.StartRecording(context.Background()); err != nil {
				logger().WithError(err).Fatal("Device test failed")
			}
			time.Sleep(time.Duration(seconds * float64(time.Second)))
			state := m.RecordingState()
			data, err := m.StopRecording()
			if err != nil {
				logger().WithError(err).Fatal("Device test failed")
			}
			mu.Lock()
			fmt.Printf("Captured %.1fs, %d bytes, peak level %.0f%%\n", state.Duration, len(data), peak*100)
			mu.Unlock()
		},
	}

	cmd.Flags().Float64VarP(&seconds, "duration", "d", 3.0, "Test duration in seconds")

	return cmd
}
