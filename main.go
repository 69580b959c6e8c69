// Command fluxbot is the overlay server for a Twitch stream.
// It:
//   - Loads configuration and initializes structured logging.
//   - Loads the YAML sequence catalog and binds it to the overlay client.
//   - Serves overlay pages over a websocket and accepts events over HTTP.
//   - Listens to Twitch chat for commands when credentials are set.
//   - Exposes /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/fluxbot/catalog"
	"github.com/onnwee/fluxbot/chat"
	"github.com/onnwee/fluxbot/config"
	"github.com/onnwee/fluxbot/overlay"
	"github.com/onnwee/fluxbot/server"
	"github.com/onnwee/fluxbot/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("fluxbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	var cat *catalog.Catalog
	if cfg.CatalogFile != "" {
		cat, err = catalog.Load(cfg.CatalogFile)
		if err != nil {
			slog.Error("catalog load failed", slog.String("path", cfg.CatalogFile), slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("catalog loaded",
			slog.String("path", cfg.CatalogFile),
			slog.Int("sequences", len(cat.Sequences)),
			slog.Int("sounds", len(cat.Sounds)))
	} else {
		slog.Info("no CATALOG_FILE set; running without sequences")
	}

	hub := server.NewHub(slog.Default())
	client, err := overlay.NewClient(hub, cat, overlay.Config{
		ImageDuration:   cfg.ImageDuration,
		ParrotBaseDelay: cfg.ParrotBaseDelay,
		ParrotVariance:  cfg.ParrotVariance,
	}, overlay.WithEmitter(hub))
	if err != nil {
		slog.Error("overlay client init failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer client.Close()
	hub.SetInbound(client.Handle)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.ParrotAutoplay {
		client.StartParrot()
	}

	var checks []server.Check
	if err := cfg.ValidateChatReady(); err == nil {
		router := chat.NewRouter(cfg.CommandPrefix, chat.DefaultCommands(cfg.CommandCooldown), client.Handle)
		listener := chat.NewListener(chat.Config{
			Channel:  cfg.TwitchChannel,
			Username: cfg.TwitchBotUsername,
			OAuth:    cfg.TwitchOAuthToken,
		}, router)
		checks = append(checks, server.Check{Name: "chat", Fn: listener.Ready})
		go listener.Start(ctx)
		slog.Info("chat commands enabled",
			slog.String("channel", cfg.TwitchChannel),
			slog.String("prefix", router.Prefix()),
			slog.Any("commands", router.Names()))
	} else {
		slog.Info("chat commands disabled", slog.Any("reason", err))
	}

	go func() {
		if err := server.Start(ctx, server.Deps{Client: client, Hub: hub, Checks: checks}, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}
