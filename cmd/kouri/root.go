package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/heshi2019/Read-KouriChat/internal/conf"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

var (
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "kouri",
	Short: "Kouri - persona chatbot for Feishu",
	Long:  "Kouri answers Feishu chats in character: it batches bursts of messages, replies through an OpenAI-compatible model and reaches out on its own after long silences.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load (default: .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kouri %s\n", Version)
		},
	}
}

// loadConfig reads the env file and the environment
func loadConfig() *conf.Config {
	var err error
	if envFile != "" {
		err = godotenv.Load(envFile)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		slog.Debug("env_file_not_loaded", "error", err.Error())
	}

	cfg := conf.LoadFromEnv()
	if verbose || cfg.Debug {
		cfg.Log.Level = "debug"
	}
	return cfg
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logging.Shutdown()
		os.Exit(1)
	}
}
