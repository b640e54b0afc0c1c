package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jasonchiu/cloudhelper/core/backend"
	coreconfig "github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/core/gateway"
	corerouter "github.com/jasonchiu/cloudhelper/core/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cloudhelper-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	coreconfig.LoadDotenvIfPresent()

	cfg := coreconfig.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	gwCfg, err := coreconfig.LoadGatewayOrDefault(cfg.ConfigPath)
	if err != nil {
		return err
	}
	store, err := backend.Open(gwCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	gw := gateway.New(store.Provider,
		gateway.WithLogger(logger),
		gateway.WithPageSize(gwCfg.PageSize),
	)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corerouter.New(corerouter.Deps{Config: cfg, Gateway: gw}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cloudhelper server listening",
			slog.String("addr", cfg.Addr),
			slog.String("base_url", cfg.BaseURL),
			slog.String("channel", cfg.Channel),
			slog.String("backend", store.Kind),
			slog.Bool("sealed", store.Sealed),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
