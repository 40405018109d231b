// Package main is the entry point for the lead relay server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	"github.com/capitalize-ai/leadrelay/internal/bus"
	"github.com/capitalize-ai/leadrelay/internal/config"
	"github.com/capitalize-ai/leadrelay/internal/handler"
	natsclient "github.com/capitalize-ai/leadrelay/internal/nats"
	"github.com/capitalize-ai/leadrelay/internal/service"
	"github.com/capitalize-ai/leadrelay/internal/store"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
	"github.com/capitalize-ai/leadrelay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting lead relay",
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.String("bus_driver", cfg.BusDriver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "leadrelay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Open the store
	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	leadStore := store.NewLeadStore(db)
	conversationStore := store.NewConversationStore(db)

	// Connect the cluster bus
	eventBus, err := bus.Open(ctx, bus.Options{
		Driver: cfg.BusDriver,
		NATS: natsclient.Config{
			Name:     "leadrelay",
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		},
		RedisURL:     cfg.RedisURL,
		RedisChannel: cfg.RedisChannel,
		AMQPURL:      cfg.AMQPURL,
		AMQPExchange: cfg.AMQPExchange,
		DialTimeout:  cfg.BusDialTimeout,
	}, log)
	if err != nil {
		log.Fatal("failed to open bus", zap.String("driver", cfg.BusDriver), zap.Error(err))
	}
	defer eventBus.Close()

	// Every node fans bus messages out to its own sessions
	registry := broker.NewRegistry(log, cfg.SessionBuffer)
	if err := bus.Forward(ctx, eventBus, registry, log); err != nil {
		log.Fatal("failed to start bus forwarder", zap.Error(err))
	}

	// Initialize services
	leadSvc := service.NewLeadService(leadStore, eventBus, log)
	conversationSvc := service.NewConversationService(conversationStore, log)

	// Initialize handlers
	handlers := handler.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"database": leadStore.Ping,
			"bus":      eventBus.Ping,
		}),
		Leads:         handler.NewLeadHandler(leadSvc, log),
		Conversations: handler.NewConversationHandler(conversationSvc, log),
		Socket:        handler.NewSocketHandler(registry, cfg.HeartbeatInterval, log),
		Stream:        handler.NewStreamHandler(registry, cfg.HeartbeatInterval, log),
	}

	// Create HTTP server
	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: handler.NewRouter(handlers, handler.RouterOptions{
			JWTSecret:         cfg.JWTSecret,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
			EditLimitRequests: cfg.EditLimitRequests,
		}, log),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Stop forwarding before the listener goes away
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
