package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/anonchat/internal/api"
	"github.com/susu3304/anonchat/internal/bot"
	"github.com/susu3304/anonchat/internal/commands"
	"github.com/susu3304/anonchat/internal/config"
	"github.com/susu3304/anonchat/internal/consensus"
	"github.com/susu3304/anonchat/internal/db"
	"github.com/susu3304/anonchat/internal/logger"
	"github.com/susu3304/anonchat/internal/payment"
	"github.com/susu3304/anonchat/internal/redis"
	"github.com/susu3304/anonchat/internal/relay"
	"github.com/susu3304/anonchat/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg := logger.New(cfg.LogLevel, cfg.AppEnv)
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	if err := database.RunMigrations(ctx); err != nil {
		lg.Fatal("failed to run migrations", zap.Error(err))
	}

	rc, err := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		lg.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rc.Close()

	storeCfg := session.Config{Namespace: cfg.KeyNamespace, TTL: cfg.SessionTTL}
	store := session.NewRedisStore(rc.Client, storeCfg)
	index := session.NewIndex(rc.Client, store, storeCfg)

	pool := relay.NewPool(cfg.RelayWorkers, logger.Component(lg, "pool"))

	// Initialize Discord bot
	discordBot, err := bot.New(cfg.DiscordToken, pool, logger.Component(lg, "bot"))
	if err != nil {
		lg.Fatal("failed to create discord bot", zap.Error(err))
	}

	dispatcher := relay.NewDispatcher(discordBot, pool, logger.Component(lg, "relay"),
		relay.WithMaxAttempts(cfg.RelayMaxAttempts),
		relay.WithBaseDelay(cfg.RelayBaseDelay))

	engine := consensus.New(store, index, dispatcher, logger.Component(lg, "consensus"))

	routerOpts := []commands.Option{commands.WithMenuUpdater(discordBot)}
	if cfg.PaymentLinkURL != "" {
		var payments *payment.Client
		if cfg.PaymentOAuthEnabled() {
			payments = payment.NewOAuthClient(ctx, cfg.PaymentLinkURL, cfg.PaymentClientID, cfg.PaymentClientSecret, cfg.PaymentTokenURL)
		} else {
			payments = payment.NewClient(cfg.PaymentLinkURL)
		}
		routerOpts = append(routerOpts, commands.WithPayments(database, payments))
	} else {
		lg.Warn("PAYMENT_LINK_URL is not set, /pay will not send payment links")
	}
	discordBot.SetHandler(commands.NewRouter(engine, index, dispatcher, logger.Component(lg, "commands"), routerOpts...))

	// Initialize API server
	apiServer := api.New(cfg.WebBind, cfg.JWTSecret, engine, index, database, logger.Component(lg, "api"))
	apiServer.AddHealthCheck("postgres", database.Ping)
	apiServer.AddHealthCheck("redis", func(ctx context.Context) error { return rc.Ping(ctx).Err() })

	// Start Discord bot
	if err := discordBot.Start(); err != nil {
		lg.Fatal("failed to start discord bot", zap.Error(err))
	}

	// Start API server
	go func() {
		if err := apiServer.Start(); err != nil {
			lg.Error("API server error", zap.Error(err))
			stop()
		}
	}()

	// Wait for signal to stop
	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		lg.Error("failed to shut down API server", zap.Error(err))
	}
	if err := discordBot.Stop(); err != nil {
		lg.Error("failed to close discord session", zap.Error(err))
	}
	pool.Wait()
}
