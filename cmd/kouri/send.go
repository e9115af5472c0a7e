package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/heshi2019/Read-KouriChat/internal/infra/feishu"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

func sendCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send <chat_id> <text...>",
		Short: "Send a text message to a Feishu chat as the bot",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if cfg.Feishu.AppID == "" || cfg.Feishu.AppSecret == "" {
				return errors.New("FEISHU_APP_ID and FEISHU_APP_SECRET are required")
			}
			cfg.Log.LogDir = ""
			logging.Init(cfg.Log)
			defer logging.Shutdown()

			chatID := args[0]
			text := strings.Join(args[1:], " ")

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
			if err := client.SendText(ctx, chatID, text); err != nil {
				return fmt.Errorf("send to %s: %w", chatID, err)
			}
			fmt.Printf("sent to %s\n", chatID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}
