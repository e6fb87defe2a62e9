// Command scamguard-auth is the account and persistence service: signup,
// login, guest tokens and the saved call summaries of signed-in users.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/scamguard/internal/auth"
	"github.com/MrWong99/scamguard/internal/config"
	"github.com/MrWong99/scamguard/internal/health"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/server"
	"github.com/MrWong99/scamguard/internal/store"
	"github.com/MrWong99/scamguard/internal/store/memstore"
	"github.com/MrWong99/scamguard/internal/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "scamguard-auth: load %s: %v\n", *envPath, err)
		return 1
	}

	cfg, fromFile, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scamguard-auth: %v\n", err)
		return 1
	}

	logger, _ := server.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	if !fromFile {
		slog.Warn("config file not found, using defaults", "config", *configPath)
	}
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		slog.Warn("auth.jwt_secret is the built-in default; set JWT_SECRET before exposing this service")
	}
	slog.Info("scamguard-auth starting", "listen_addr", cfg.Auth.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.Setup(ctx, observe.TelemetryConfig{Service: "scamguard-auth"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── Store ─────────────────────────────────────────────────────────────────
	var st store.Store
	if dsn := cfg.Auth.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open postgres store", "err", err)
			return 1
		}
		st = pg
		slog.Info("using postgres store")
	} else {
		st = memstore.New()
		slog.Warn("auth.postgres_dsn not set, accounts and summaries are kept in memory only")
	}
	defer st.Close()

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := auth.NewHandler(st, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		auth.WithBcryptCost(cfg.Auth.BcryptCost),
		auth.WithMetrics(metrics),
	)
	hh := health.New(health.Check{Name: "store", Fn: st.Ping})
	mux := server.NewMux(hh, tel.Handler())
	handler.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Auth.ListenAddr,
		Handler:           server.Wrap(mux, metrics, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.Run(ctx, srv, cfg.Server.TLS, hh, nil); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
