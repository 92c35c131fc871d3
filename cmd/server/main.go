// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/mcptrading/internal/audit"
	"github.com/opentrusty/mcptrading/internal/config"
	"github.com/opentrusty/mcptrading/internal/identity"
	"github.com/opentrusty/mcptrading/internal/janitor"
	"github.com/opentrusty/mcptrading/internal/oauth2"
	"github.com/opentrusty/mcptrading/internal/observability/logger"
	"github.com/opentrusty/mcptrading/internal/observability/metrics"
	"github.com/opentrusty/mcptrading/internal/observability/tracing"
	"github.com/opentrusty/mcptrading/internal/store/postgres"
	transportHTTP "github.com/opentrusty/mcptrading/internal/transport/http"
	"github.com/opentrusty/mcptrading/internal/upstreamoauth"
	"github.com/opentrusty/mcptrading/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting mcptrading authorization server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down tracer", logger.Error(err))
		}
	}()

	if _, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName); err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		os.Exit(1)
	}

	db, err := postgres.New(ctx, postgres.Config{
		DSN:          cfg.Database.URL,
		MaxConns:     cfg.Database.MaxConns,
		MinConns:     cfg.Database.MinConns,
		MaxConnIdle:  cfg.Database.MaxConnIdle,
		HealthPeriod: cfg.Database.HealthPeriod,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	v, err := vault.New(cfg.Security.EncryptionKey)
	if err != nil {
		slog.Error("failed to initialize credential vault", logger.Error(err))
		os.Exit(1)
	}

	auditLogger := audit.NewSlogLogger()

	userRepo := postgres.NewUserRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	codeRepo := postgres.NewAuthorizationCodeRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	credentialRepo := postgres.NewCredentialRepository(db)
	stateRepo := postgres.NewUpstreamStateRepository(db)

	identityService := identity.NewService(userRepo, identity.NewPasswordHasher(cfg.Security.BcryptCost), auditLogger)

	oauth2Service := oauth2.NewService(
		clientRepo,
		codeRepo,
		tokenRepo,
		auditLogger,
		[]byte(cfg.Security.JWTSecretKey),
		cfg.Server.PublicURL,
		cfg.Security.AuthCodeLifetime,
		cfg.Security.AccessTokenLTTL,
		cfg.Security.RefreshTokenLTTL,
	)

	schwabExchanger := upstreamoauth.NewSchwabExchanger(cfg.Schwab.AppKey, cfg.Schwab.AppSecret, cfg.Schwab.CallbackURL)
	upstreamService := upstreamoauth.NewService(
		stateRepo,
		credentialRepo,
		identityService,
		schwabExchanger,
		v,
		auditLogger,
		cfg.Security.UpstreamStateLTTL,
	)

	j := janitor.New(codeRepo, tokenRepo, auditLogger, cfg.Janitor.Interval)
	go j.Run(ctx)
	defer j.Stop()

	handler := transportHTTP.NewHandler(identityService, oauth2Service, upstreamService, tokenRepo, auditLogger, cfg.Server.PublicURL)
	rateLimiter := transportHTTP.NewRateLimiter(transportHTTP.RateLimiterConfig{
		LoginRPM:     cfg.RateLimit.LoginRPM,
		AuthorizeRPM: cfg.RateLimit.AuthorizeRPM,
		TokenRPM:     cfg.RateLimit.TokenRPM,
	})
	router := transportHTTP.NewRouter(handler, rateLimiter)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", logger.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", logger.Error(err))
	}
}
