package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rojolang/talker-go/pkg/talker"
)

func configCmd() *cobra.Command {
	var showServer bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Long:  "Display the configuration read from flags, TALKER_* variables and .env, and report problems",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := clientConfig()
			cfg.PrintConfig(os.Stdout)
			issues := cfg.Validate()

			if showServer {
				fmt.Println()
				scfg := serverConfig()
				scfg.PrintConfig(os.Stdout)
				issues = append(issues, scfg.Validate()...)
			}

			if len(issues) == 0 {
				fmt.Println("\n✓ Configuration is valid")
				return
			}
			fmt.Println("\nConfiguration issues:")
			for _, issue := range issues {
				fmt.Printf("  ✗ %s\n", issue)
			}
			os.Exit(1)
		},
	}

	cmd.Flags().BoolVarP(&showServer, "server", "s", false, "Also show the server configuration")
	cmd.AddCommand(healthCmd())

	return cmd
}

func healthCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := clientConfig()
			api := talker.NewAPIClientFromConfig(cfg, logger())

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			status, err := api.HealthCheck(ctx)
			if err != nil {
				logger().WithError(err).Fatal("Backend unreachable")
			}
			fmt.Printf("%s: %s (store %s, %d sessions)\n", cfg.APIBaseURL, status.Status, status.Store, status.Sessions)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Request timeout")

	return cmd
}
