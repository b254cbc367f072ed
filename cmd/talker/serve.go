package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rojolang/talker-go/pkg/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the talker backend",
		Long: `Serve the REST API and the WebSocket push channel. Sessions are kept in
memory or in redis (TALKER_SERVER_STORE), replies come from ollama or the
echo responder (TALKER_SERVER_LLM).`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := serverConfig()
			log := cfg.NewLogger(os.Stderr)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.NewFromConfig(ctx, cfg, log)
			if err != nil {
				log.WithError(err).Fatal("Failed to build server")
			}
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).Fatal("Server stopped with error")
			}
			log.Info("Server stopped")
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default :8000)")
	cmd.Flags().String("store", "", "Session store: memory or redis")
	cmd.Flags().String("redis-url", "", "Redis URL for the redis store")
	cmd.Flags().String("llm", "", "Reply backend: ollama or echo")
	v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	v.BindPFlag("server.store", cmd.Flags().Lookup("store"))
	v.BindPFlag("server.redis_url", cmd.Flags().Lookup("redis-url"))
	v.BindPFlag("server.llm", cmd.Flags().Lookup("llm"))

	return cmd
}
