package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heshi2019/Read-KouriChat/internal/logging"
	"github.com/heshi2019/Read-KouriChat/internal/mcp"
)

func mcpCmd() *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the status tools of a running bot over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if apiURL == "" {
				apiURL = cfg.API.URL
			}

			// stdout carries the protocol, logs stay on stderr
			cfg.Log.LogDir = ""
			logging.Init(cfg.Log)
			defer logging.Shutdown()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := mcp.NewClient(apiURL)
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := client.Health(probeCtx); err != nil {
				logging.ForComponent(logging.CompMCP).Warn("bot_unreachable",
					slog.String("url", apiURL), slog.String("error", err.Error()))
			}
			cancel()

			return mcp.NewServer(client, Version).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "", "status API URL (default: $BRIDGE_API_URL)")
	return cmd
}
