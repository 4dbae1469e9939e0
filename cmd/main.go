package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moodpair/backend/internal/api/handler"
	"moodpair/backend/internal/app"
	"moodpair/backend/internal/chathub"
	"moodpair/backend/internal/config"
	"moodpair/backend/internal/logger"
	"moodpair/backend/internal/telegram"
	"moodpair/backend/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const serviceName = "moodpair-backend"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Debug("No .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.WithFields(logrus.Fields{
		"store":  cfg.StoreBackend,
		"queue":  cfg.QueueBackend,
		"policy": cfg.MatchPolicy,
	}).Info("Starting MoodPair backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up tracing")
	}

	// 1. Backends and engine
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialise dependencies")
	}
	if err := a.StartFanout(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start event fan-out")
	}

	// 2. Background workers
	go chathub.NewSweeper(a.Engine, cfg.SweepInterval, log).Run(ctx)

	if cfg.TelegramBotToken != "" {
		bot, err := telegram.NewBotService(cfg.TelegramBotToken, a.Engine, a.Hub, a.Texts, cfg.Language, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to start Telegram bot")
		}
		go bot.Run(ctx)
	} else {
		log.Info("MOODPAIR_TELEGRAM_BOT_TOKEN not set, Telegram bot disabled")
	}

	// 3. HTTP
	var tokens *handler.TokenIssuer
	if cfg.JWTSecret != "" {
		tokens, err = handler.NewTokenIssuer(cfg.JWTSecret, 0)
		if err != nil {
			log.WithError(err).Fatal("Failed to create token issuer")
		}
	} else {
		log.Warn("MOODPAIR_JWT_SECRET not set, /anonid is disabled")
	}
	if cfg.AdminAPIKey == "" {
		log.Warn("MOODPAIR_ADMIN_API_KEY not set, maintenance endpoints are closed")
	}

	gin.SetMode(gin.ReleaseMode)
	h := handler.NewHandler(a.Engine, a.Hub, tokens, cfg.AdminAPIKey, log)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        h.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := a.Close(); err != nil {
		log.WithError(err).Error("Failed to close backends")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to flush traces")
	}
}
