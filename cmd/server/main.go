/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eco-challenge-rewards-go/internal/common"
	"eco-challenge-rewards-go/internal/config"
	"eco-challenge-rewards-go/internal/sweeper"
	"eco-challenge-rewards-go/internal/transport"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	zap.L().Info("Starting eco challenge rewards server")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if catalog, err := common.LoadChallengeCatalog(cfg.Catalog.ChallengesFile); err != nil {
		zap.L().Warn("Challenge catalog not loaded",
			zap.String("file", cfg.Catalog.ChallengesFile),
			zap.Error(err))
	} else if err := common.SeedChallenges(ctx, services.DbService, catalog); err != nil {
		zap.L().Fatal("Failed to seed challenges", zap.Error(err))
	}

	sw := sweeper.New(services.VerificationService, cfg.Sweeper)
	if err := sw.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start sweeper", zap.Error(err))
	}
	defer sw.Stop()

	router := transport.NewRouter(transport.Config{
		HTTP:          cfg.HTTP,
		Auth:          cfg.Auth,
		MaxImageBytes: cfg.ImageStore.MaxBytes,
	}, services.VerificationService, services.LedgerService)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}
	if err := http2.ConfigureServer(server, &http2.Server{}); err != nil {
		zap.L().Fatal("Failed to configure HTTP/2", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		zap.L().Info("Shutdown signal received, draining requests...")
	case err := <-errCh:
		if err != nil {
			zap.L().Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
		return
	}
	zap.L().Info("Server stopped gracefully")
}
