// Package main runs the frame-protocol emulator: a local stand-in for the
// backend's chat endpoints.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/config"
	"github.com/capitalize-ai/marketplace-stream/internal/devstream"
	"github.com/capitalize-ai/marketplace-stream/internal/llm"
	"github.com/capitalize-ai/marketplace-stream/internal/middleware"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	var providers []llm.Client
	for _, p := range []struct {
		provider llm.Provider
		key      string
	}{
		{llm.ProviderAnthropic, cfg.AnthropicAPIKey},
		{llm.ProviderOpenAI, cfg.OpenAIAPIKey},
	} {
		if p.key == "" {
			continue
		}
		client, err := llm.NewClient(p.provider, p.key)
		if err != nil {
			log.Warn("provider disabled", zap.String("provider", string(p.provider)), zap.Error(err))
			continue
		}
		providers = append(providers, client)
	}
	if len(providers) == 0 {
		log.Info("no provider keys configured, every model is echoed")
	}

	srv := devstream.NewServer(
		devstream.NewStore(),
		llm.NewRouter(llm.NewEchoClient(cfg.DevTokenDelay), providers...),
		devstream.Config{CoinRate: cfg.DevCoinRate},
		log,
	)

	r := chi.NewRouter()
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(middleware.Bearer())
		srv.Routes(r)
	})

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     r,
		ReadTimeout: cfg.ServerReadTimeout,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("emulator listening", zap.String("port", cfg.ServerPort), zap.Int("providers", len(providers)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
}
