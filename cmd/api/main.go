package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldadmin.org/internal/auth"
	"fieldadmin.org/internal/config"
	"fieldadmin.org/internal/geo"
	"fieldadmin.org/internal/httpapi"
	"fieldadmin.org/internal/obs"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := obs.InitLogger(cfg.LogLevel, os.Stdout)
	obs.Init()

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Error("open db", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := auth.NewPGStore(db)

	// A catalog that disagrees with the binary is a deployment fault; fail
	// before serving.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := auth.ValidateModules(ctx, store.Permissions()); err != nil {
		cancel()
		logger.Error("validate module catalog", "err", err)
		os.Exit(1)
	}
	cancel()

	tokens, err := auth.NewTokenService(cfg.AuthSecret, cfg.Issuer, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		logger.Error("build token service", "err", err)
		os.Exit(1)
	}
	svc, err := auth.NewService(store, geo.NewPGStore(db), tokens,
		auth.WithStrictEmptyGrants(cfg.StrictEmptyGrants))
	if err != nil {
		logger.Error("build auth service", "err", err)
		os.Exit(1)
	}

	api := httpapi.New(svc, tokens, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(cfg.RateBurst, cfg.RatePerSecond),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting fieldadmin-api", "version", version, "addr", srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = db.Close()
	logger.Info("stopped")
}
