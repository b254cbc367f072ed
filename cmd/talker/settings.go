package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rojolang/talker-go/pkg/talker"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change user settings",
		Long:  "Commands for the settings file shared by every talker client on this machine",
	}

	cmd.AddCommand(settingsShowCmd())
	cmd.AddCommand(settingsSetCmd())
	cmd.AddCommand(settingsResetCmd())

	return cmd
}

func settingsStore() *talker.SettingsStore {
	return talker.NewSettingsStore(clientConfig().SettingsPath, logger())
}

func printSettings(path string, s talker.Settings) {
	data, err := yaml.Marshal(s)
	if err != nil {
		logger().WithError(err).Fatal("Failed to encode settings")
	}
	fmt.Printf("# %s\n%s", path, data)
}

func settingsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Run: func(cmd *cobra.Command, args []string) {
			store := settingsStore()
			s, err := store.Load()
			if err != nil {
				logger().WithError(err).Warn("Showing default settings")
			}
			printSettings(store.Path(), s)
		},
	}

	return cmd
}

func settingsSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long:  "Change one setting. Keys: " + strings.Join(talker.SettingKeys, ", "),
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			store := settingsStore()
			if _, err := store.Load(); err != nil {
				logger().WithError(err).Fatal("Failed to load settings")
			}
			s, err := store.Update(args[0], args[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printSettings(store.Path(), s)
		},
	}

	return cmd
}

func settingsResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore the default settings",
		Run: func(cmd *cobra.Command, args []string) {
			store := settingsStore()
			s, err := store.Reset()
			if err != nil {
				logger().WithError(err).Fatal("Failed to reset settings")
			}
			printSettings(store.Path(), s)
		},
	}

	return cmd
}
