// Package main runs the development API that backs the cockpit's identity
// endpoints: pilot login, email login and registration, and /me.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atinyakov/koracockpit/internal/config"
	"github.com/atinyakov/koracockpit/internal/db"
	"github.com/atinyakov/koracockpit/internal/logger"
	"github.com/atinyakov/koracockpit/internal/models"
	"github.com/atinyakov/koracockpit/internal/repository"
	"github.com/atinyakov/koracockpit/internal/server/handler/http"
	"github.com/atinyakov/koracockpit/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const shutdownTimeout = 5 * time.Second

func main() {
	options, err := config.ParseDevAPI(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))
	if options.ShowVersion {
		return
	}

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	zapLogger := log.Log

	var repo service.UserRepository
	if options.DatabaseDSN != "" {
		postgresDB, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			zapLogger.Fatal("cannot init database", zap.Error(err))
		}
		defer postgresDB.Close()
		repo = repository.NewPostgresUserRepository(postgresDB)
	} else {
		zapLogger.Info("no database configured, users are kept in memory")
		repo = repository.NewMemoryUserRepository()
	}

	authService := service.NewAuthService(repo, service.Options{
		Secret: []byte(options.JWTSecret),
		TTL:    options.TokenTTL.Duration,
		PilotPasswords: map[models.Role]string{
			models.RoleOperator: options.OperatorPassword,
			models.RoleAnchor:   options.AnchorPassword,
		},
	})
	authHandler := &http.AuthHandler{AuthService: authService, Logger: zapLogger}
	router := http.NewRouter(authHandler, authService, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		zapLogger.Info("shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
}
