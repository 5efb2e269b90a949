package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linerelay/internal/bus"
	"linerelay/internal/channel"
	"linerelay/internal/config"
	"linerelay/internal/journal"
	"linerelay/internal/provider"
	"linerelay/internal/relay"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "linerelay",
		Short: "linerelay: LINE webhook relay for AI chat and image description",
		Long:  "linerelay receives LINE webhook events, forwards text and images to an AI inference provider, and replies into the originating conversation.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.linerelay/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Edit the file and set your channel credentials, or export")
			fmt.Println("LINE_CHANNEL_ACCESS_TOKEN, LINE_CHANNEL_SECRET and OPENAI_API_KEY.")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("linerelay " + version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook relay",
		Long:  "Starts the webhook HTTP server and the background reply pipeline. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = newLogger(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := bus.New(cfg.Relay.QueueSize, logger)

	var recorder relay.OutcomeRecorder
	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = journal.NewStore(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("outcome journal: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.Default()
	if err != nil {
		return fmt.Errorf("inference provider: %w", err)
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	sender := channel.NewSender(channel.SenderConfig{
		APIBase: cfg.Line.APIBase,
		Token:   cfg.Line.ChannelAccessToken,
		Logger:  logger,
	})
	fetcher := channel.NewFetcher(channel.FetcherConfig{
		BaseURL: cfg.Line.ContentAPIBase,
		Token:   cfg.Line.ChannelAccessToken,
		Timeout: time.Duration(cfg.Line.FetchTimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	coordinator := relay.NewCoordinator(relay.CoordinatorConfig{
		Queue:       queue,
		Gateway:     provider.NewGateway(prov, logger),
		Sender:      sender,
		Recorder:    recorder,
		Logger:      logger,
		Concurrency: cfg.Relay.MaxConcurrentJobs,
		JobTimeout:  time.Duration(cfg.Relay.JobTimeoutSeconds) * time.Second,
	})
	go coordinator.Run(ctx)

	router := relay.NewRouter(relay.RouterConfig{
		Coordinator: coordinator,
		Fetcher:     fetcher,
		Logger:      logger,
	})

	webhook := channel.NewLineWebhook(channel.LineWebhookConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Path:           cfg.Server.CallbackPath,
		Secret:         cfg.Line.ChannelSecret,
		Dispatcher:     router,
		MetricsEnabled: cfg.Metrics.Enabled,
		Logger:         logger,
	})

	logger.Info("relay started", "provider", prov.Name(), "port", cfg.Server.Port)
	err = webhook.Start(ctx)

	// Give in-flight jobs a short drain window before closing the queue;
	// replies lost past this point are recovered by platform redelivery.
	time.Sleep(200 * time.Millisecond)
	queue.Close()

	return err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
