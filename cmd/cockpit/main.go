// Package main runs the KORA pilot cockpit, an interactive terminal client
// for operators and anchors of the pilot API.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/atinyakov/koracockpit/internal/client/api"
	"github.com/atinyakov/koracockpit/internal/client/storage"
	"github.com/atinyakov/koracockpit/internal/cockpit"
	"github.com/atinyakov/koracockpit/internal/config"
	"github.com/atinyakov/koracockpit/internal/logger"
	"github.com/atinyakov/koracockpit/internal/session"
)

var (
	version   string
	buildDate string
)

func main() {
	options, err := config.ParseCockpit(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if options.ShowVersion {
		fmt.Printf("KORA cockpit\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return
	}

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	var paths []string
	if options.LogFile != "" {
		paths = append(paths, options.LogFile)
	}
	if err := log.Init(options.LogLevel, paths...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options, log.Log); err != nil {
		log.Log.Error("cockpit stopped", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, options *config.Cockpit, zapLogger *zap.Logger) error {
	st, closeStorage, err := storage.Open(ctx, storage.Options{
		Backend:   options.Storage,
		Path:      options.StoragePath,
		RedisAddr: options.RedisAddr,
		DSN:       options.DatabaseDSN,
		Profile:   options.Profile,
	})
	if err != nil {
		return fmt.Errorf("open session storage: %w", err)
	}
	defer func() { _ = closeStorage() }()

	stored, _, err := st.Get(ctx, storage.KeyAPIURL)
	if err != nil {
		return fmt.Errorf("read stored API URL: %w", err)
	}
	baseURL := config.ResolveAPIURL(options.APIURL, stored)

	httpClient, err := api.NewHTTPClient(api.TransportOptions{
		CAFile:   options.CAFile,
		CertFile: options.CertFile,
		KeyFile:  options.KeyFile,
		Timeout:  options.Timeout.Duration,
	})
	if err != nil {
		return err
	}

	store, err := session.Open(ctx, st, api.NewFactory(baseURL, httpClient), zapLogger)
	if err != nil {
		return err
	}

	panels, err := options.PanelPaths()
	if err != nil {
		return err
	}
	app := cockpit.New(store, cockpit.Options{
		ExplorerBase: options.ExplorerBase,
		PanelPaths:   panels,
		Logger:       zapLogger,
	})
	zapLogger.Info("cockpit starting",
		zap.String("api", baseURL),
		zap.String("storage", options.Storage),
	)
	app.Start(ctx)

	sh := &shell{app: app, storage: st, baseURL: baseURL, out: os.Stdout}
	sh.run(ctx, os.Stdin)
	return nil
}
