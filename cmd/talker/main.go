package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rojolang/talker-go/pkg/server"
	"github.com/rojolang/talker-go/pkg/talker"
)

var (
	v       = viper.New()
	verbose bool
	apiURL  string
	wsURL   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "talker",
		Short: "Talker voice chat client and server",
		Long: `Talker is a voice and text chat app for language practice.
It records from the microphone, plays replies through the speaker and
talks to a talker backend over REST and a WebSocket push channel.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			if verbose {
				v.Set("log_level", "debug")
			}
			talker.SetGlobalLogger(clientConfig().NewLogger(os.Stderr))
		},
	}

	talker.SetConfigDefaults(v)
	server.SetConfigDefaults(v)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend REST base URL (or set TALKER_API_URL)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws-url", "", "Push channel URL (or set TALKER_WS_URL)")
	v.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	v.BindPFlag("ws_url", rootCmd.PersistentFlags().Lookup("ws-url"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// clientConfig reads the client keys, with flags layered over the
// environment. An empty flag leaves the environment value in place.
func clientConfig() *talker.Config {
	return talker.ConfigFromViper(v)
}

func serverConfig() *server.Config {
	return server.ConfigFromViper(v)
}

func logger() *talker.Logger {
	return talker.GetGlobalLogger()
}
