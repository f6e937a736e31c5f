// Package main is the entry point for the relay: the browser-facing service
// that proxies generation streams and serves per-user workspace stores.
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

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/config"
	"github.com/capitalize-ai/marketplace-stream/internal/handler"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	natsclient "github.com/capitalize-ai/marketplace-stream/internal/nats"
	"github.com/capitalize-ai/marketplace-stream/internal/scratch"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
	"github.com/capitalize-ai/marketplace-stream/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	var log *logger.Logger
	if cfg.Development {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting relay", zap.String("backend", cfg.BackendURL))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "marketplace-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// NATS is optional: it carries cache invalidations between relay
	// instances and can hold the scratch stores.
	var natsClient *natsclient.Client
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     "marketplace-relay",
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
	}

	var kv jetstream.KeyValue
	if cfg.ScratchBackend == config.ScratchNATS {
		kv, err = natsClient.KeyValue(ctx, cfg.NATSKVBucket)
		if err != nil {
			log.Fatal("failed to open scratch bucket", zap.Error(err))
		}
	}
	scratchBackend, closer, err := scratch.OpenBackend(cfg.ScratchBackend, scratch.OpenOptions{
		Dir:       cfg.ScratchDir,
		SQLiteDSN: cfg.ScratchSQLiteDSN,
		KeyValue:  kv,
	})
	if err != nil {
		log.Fatal("failed to open scratch backend", zap.Error(err), zap.String("backend", cfg.ScratchBackend))
	}
	defer closer.Close()

	messages := cache.New[[]model.Message]()
	conversations := cache.New[[]model.Conversation]()
	local := cache.Fanout(messages, conversations)

	invalidators := []cache.Invalidator{local}
	if natsClient != nil {
		bus := natsclient.NewInvalidationBus(natsClient.Conn(), cfg.InvalidationSubject, log)
		sub, err := bus.Subscribe(local)
		if err != nil {
			log.Fatal("failed to subscribe to invalidations", zap.Error(err))
		}
		defer sub.Unsubscribe()
		invalidators = append(invalidators, bus)
	}

	backend := api.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.RequestTimeout, log)

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Health:            handler.NewHealthHandler(natsClient),
		Conversations:     handler.NewConversationHandler(backend, conversations, log),
		Messages:          handler.NewMessageHandler(backend, messages, log),
		Stream:            handler.NewStreamHandler(backend, cache.Fanout(invalidators...), handler.DefaultHeartbeat, log),
		Workspace:         handler.NewWorkspaceHandler(scratchBackend, log),
		Logger:            log,
	})

	// WriteTimeout stays at its configured value (0 by default) so long
	// streams are not cut off.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
