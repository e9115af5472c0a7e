package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heshi2019/Read-KouriChat/internal/api"
	"github.com/heshi2019/Read-KouriChat/internal/biz"
	"github.com/heshi2019/Read-KouriChat/internal/data"
	"github.com/heshi2019/Read-KouriChat/internal/infra/feishu"
	llm "github.com/heshi2019/Read-KouriChat/internal/infra/openai"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
	"github.com/heshi2019/Read-KouriChat/internal/server"
	"github.com/heshi2019/Read-KouriChat/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Feishu and start chatting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.Init(cfg.Log)
	defer logging.Shutdown()
	logger := logging.ForComponent(logging.CompBot)

	// Clients
	feishuClient := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
	feishuClient.SetDownloadDir(cfg.Feishu.ImageDir)

	chatClient := llm.NewClient(cfg.LLM.ToClientConfig())
	var visionClient *llm.Client
	if cfg.VisionEnabled() {
		visionClient = llm.NewClient(cfg.VisionClientConfig())
		logger.Info("vision_enabled", slog.String("model", visionClient.Model()))
	}

	// Data layer
	repos, err := data.NewRepositories(feishuClient, chatClient, visionClient, cfg.ToDataOptions())
	if err != nil {
		return fmt.Errorf("create repositories: %w", err)
	}
	defer repos.Close()
	logger.Info("history_db_opened", slog.String("path", cfg.History.DBPath))

	// Usecase layer
	uc := biz.NewUsecases(biz.Repos{
		Message: repos.Message,
		History: repos.History,
		LLM:     repos.LLM,
		Link:    repos.Link,
		Image:   repos.Image,
	}, cfg.ToBizConfig())

	// Service layer
	bot := service.NewChatbotService(uc, repos.LLM, repos.Link, service.ChatbotConfig{
		ImagePrompt: cfg.Prompts.Vision.ImagePrompt,
	})
	tasks, err := service.NewTaskRunner(cfg.Prompts.Tasks, bot)
	if err != nil {
		return fmt.Errorf("load scheduled tasks: %w", err)
	}

	apiServer := api.NewServer(bot, tasks, cfg.API.Port)
	feishuServer := server.NewFeishuServer(feishuClient, bot, cfg.Feishu.BotName)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot.Start()
	tasks.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiServer.Start)
	g.Go(func() error {
		// The websocket client may not return on cancel, so wait on ctx too.
		errCh := make(chan error, 1)
		go func() { errCh <- feishuServer.Start(gctx) }()
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("feishu: %w", err)
			}
			return errors.New("feishu connection closed")
		case <-gctx.Done():
			feishuServer.Stop()
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return apiServer.Stop(shutdownCtx)
	})

	logger.Info("kouri_started",
		slog.String("version", Version),
		slog.String("model", chatClient.Model()),
		slog.Int("api_port", apiServer.GetPort()),
		slog.Int("tasks", len(cfg.Prompts.Tasks)))

	err = g.Wait()

	logger.Info("shutting_down")
	tasks.Stop()
	bot.Shutdown(true)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
