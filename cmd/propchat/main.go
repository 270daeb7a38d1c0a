package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"propchat/internal/chat"
	"propchat/internal/config"
	"propchat/internal/notify"
	"propchat/internal/store"
	"propchat/internal/transport"
	"propchat/internal/web"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// Local .env files are a convenience for development; absence is fine.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "propchat",
		Short:   "PropChat: property-management assistant chat backend",
		Long:    "PropChat is the backend for a browser chat client talking to a property-management assistant webhook.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.propchat/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

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

// loadOrDefault loads config, falling back to defaults when the file is
// missing. Only commands that strictly need a webhook URL fail later.
func loadOrDefault() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				logger.Info("config already exists", "path", cfgPath)
				return nil
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "data", cfg.General.DataDir)
			logger.Info("next: set the assistant endpoint", "cmd", "propchat config set webhook.url https://...")
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (terminal)",
		RunE:  runChat,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway for the browser client",
		Long:  "Serves the chat API, conversation history, and the notice WebSocket. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// buildService wires the store, transport client, notifier, and chat
// service from config. The caller owns closing the returned store and hub.
func buildService(cfg *config.Config, log *slog.Logger) (*chat.Service, *store.SQLStore, *notify.Hub, error) {
	st, err := store.Open(store.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
		Logger: log,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	client, err := transport.NewClient(transport.ClientConfig{
		Endpoint:        cfg.Webhook.URL,
		App:             cfg.Webhook.App,
		MaxMessageChars: cfg.Webhook.MaxMessageChars,
		Limiter: transport.NewLimiter(transport.LimiterConfig{
			Window: time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
			Max:    cfg.RateLimit.MaxPerWindow,
		}),
		HTTPClient: transport.SharedHTTPClient(time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second),
		Logger:     log,
	})
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("webhook client: %w", err)
	}

	hub := notify.NewHub(log)
	return chat.NewService(client, st, hub, log), st, hub, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.General.LogLevel)
	logger = log

	svc, st, hub, err := buildService(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	defer hub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := web.NewServer(web.ServerConfig{
		Web:      cfg.Web,
		Metrics:  cfg.Metrics,
		Chat:     svc,
		Store:    st,
		Notifier: hub,
		Logger:   log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
		// Start's shutdown goroutine drains in-flight requests.
		if err := <-errCh; err != nil {
			return err
		}
		log.Info("shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check config, webhook endpoint, and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config", "path", cfgPath, "loaded", false, "err", err)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			if err := transport.ValidateEndpoint(cfg.Webhook.URL); err != nil {
				logger.Warn("webhook", "ok", false, "err", err)
			} else {
				logger.Info("webhook", "ok", true)
			}

			st, err := store.Open(store.Config{
				Driver: cfg.Storage.Driver,
				DSN:    cfg.Storage.DSN,
				Logger: logger,
			})
			if err != nil {
				logger.Warn("storage", "driver", cfg.Storage.Driver, "ok", false, "err", err)
				return nil
			}
			st.Close()
			logger.Info("storage", "driver", cfg.Storage.Driver, "ok", true)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. webhook.url)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. webhook.url https://hook.example.com)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
