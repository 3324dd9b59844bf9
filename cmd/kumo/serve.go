package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/kumoagent/kumo/internal/bot"
	"github.com/kumoagent/kumo/internal/chatter"
	"github.com/kumoagent/kumo/internal/config"
	"github.com/kumoagent/kumo/internal/host"
	"github.com/kumoagent/kumo/internal/mcp"
	"github.com/kumoagent/kumo/internal/memory"
	"github.com/kumoagent/kumo/internal/recall"
	"github.com/kumoagent/kumo/internal/retry"
	"github.com/kumoagent/kumo/internal/scheduler"
	"github.com/kumoagent/kumo/internal/store"
	"github.com/kumoagent/kumo/internal/tools"
	"github.com/kumoagent/kumo/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "kumo.yaml", "Path to configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Persistent message log.
	messageLog, err := store.Open(cfg.Data.MessageDB)
	if err != nil {
		return err
	}
	defer messageLog.Close()

	// Long-term recall, enabled when an embedding key is available.
	var sink memory.Sink
	if cfg.Embedding.APIKey != "" {
		embedder, err := recall.NewOpenAIEmbedder(recall.EmbedderConfig{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
		})
		if err != nil {
			return err
		}
		recallSink, err := recall.Open(cfg.Data.RecallDB, embedder, logger)
		if err != nil {
			return err
		}
		defer recallSink.Close()
		sink = recallSink
	} else {
		logger.Warn("no embedding key configured, long-term recall disabled")
	}

	// Remote tool endpoints. A missing config file leaves the pool empty.
	mcpCfg, err := mcp.LoadConfig(cfg.MCPConfig)
	if err != nil {
		return err
	}
	pool := mcp.NewPool(mcpCfg, logger)
	pool.ConnectAll(ctx)
	defer pool.DisconnectAll()

	// Completion client.
	clientCfg := openai.DefaultConfig(cfg.Provider.APIKey)
	if cfg.Provider.BaseURL != "" {
		clientCfg.BaseURL = cfg.Provider.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	// One-shot reminder scheduling.
	sched := scheduler.New(logger)
	sched.Start()
	defer sched.Stop()

	// Platform connection.
	platform := host.NewClient(cfg.Host.URL, cfg.Host.Token, logger)

	locals := tools.NewRegistry()

	deps := chatter.Deps{
		Client: client,
		Locals: locals,
		Remote: pool,
		Logger: logger,
		Retry: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       cfg.Retry.Delay,
		},
	}
	registry := chatter.NewRegistry(cfg.PromptRoot, deps, sink, platform, messageLog)
	registry.Warm(ctx, messageLog)

	b := bot.New(registry, platform, messageLog, bot.LoadMemes(cfg.MemeRoot), logger)

	// The reminder tool routes fired reminders back through the bot.
	locals.Register(tools.NewReminder(sched, func(ctx context.Context, key models.ConversationKey, content string) {
		b.DeliverReminder(ctx, key, content)
	}, logger))

	platform.OnEvent(b.HandleEvent)
	if err := platform.Connect(ctx); err != nil {
		return fmt.Errorf("connect to host: %w", err)
	}
	defer platform.Close()

	logger.Info("kumo is up",
		"host", cfg.Host.URL,
		"remote_endpoints", pool.Sessions(),
		"remote_tools", len(pool.Catalog()))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
