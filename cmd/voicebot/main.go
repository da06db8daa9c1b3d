// Command voicebot is the process entrypoint: it loads configuration,
// wires the shared singletons (Redis-backed snoop store, Phase Lifecycle
// Contract, ARI REST client, webhook gate, Domain Port), starts the metrics
// and tracing exporters, and runs the Engine Runner until a termination
// signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/ari"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/config"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/domain/rutintake"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/engine"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/obsv"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/phase"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/snoop"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/webhook"
)

func main() {
	if os.Getenv("VOICEBOT_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("voicebot: .env load: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("voicebot: config: %v", err)
	}
	logx.SetLevel(parseLevel(cfg.LogLevel))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	snoopStore := snoop.New(redisClient)
	contract := phase.Default()
	ariClient := ari.NewClient(cfg.ARIURL, cfg.ARIUsername, cfg.ARIPassword, cfg.ARIApp)
	webhookGate := webhook.NewGate(webhook.New(cfg.RUTWebhookURL, cfg.WebhookBackgroundTimeout))
	port := rutintake.New(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exporter := obsv.NewExporter(cfg.MetricsAddr)
	go func() {
		if err := exporter.Start(); err != nil {
			logx.Warn("voicebot: metrics exporter stopped", "error", err)
		}
	}()

	if cfg.OTLPEndpoint != "" {
		tp, err := obsv.NewTracerProvider(ctx, cfg.OTLPEndpoint, cfg.OTelServiceName)
		if err != nil {
			logx.Warn("voicebot: tracer provider setup failed, continuing without tracing", "error", err)
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
			obsv.SetupPropagation()
		}
	}

	runner := engine.NewRunner(cfg, ariClient, snoopStore, contract, webhookGate, port)

	logx.Info("voicebot: starting", "ari_url", cfg.ARIURL, "ari_app", cfg.ARIApp, "metrics_addr", cfg.MetricsAddr)
	if err := runner.Run(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = exporter.Shutdown(shutdownCtx)
		cancel()
		log.Fatalf("voicebot: engine runner stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exporter.Shutdown(shutdownCtx); err != nil {
		logx.Warn("voicebot: metrics exporter shutdown", "error", err)
	}
	fmt.Println("voicebot: stopped")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
