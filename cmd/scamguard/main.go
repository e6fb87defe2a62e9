// Command scamguard is the call server: browsers open a websocket per call,
// the server follows the conversation and asks the classification service
// whether the caller is running a scam.
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

	"github.com/MrWong99/scamguard/internal/app"
	"github.com/MrWong99/scamguard/internal/classify"
	"github.com/MrWong99/scamguard/internal/config"
	"github.com/MrWong99/scamguard/internal/health"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/resilience"
	"github.com/MrWong99/scamguard/internal/server"
	"github.com/MrWong99/scamguard/internal/summary"
	"github.com/MrWong99/scamguard/pkg/provider/stt"
	"github.com/MrWong99/scamguard/pkg/provider/stt/deepgram"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "scamguard: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scamguard: %v\n", err)
		return 1
	}

	logger, levelVar := server.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	if !fromFile {
		slog.Warn("config file not found, using defaults", "config", *configPath)
	}
	slog.Info("scamguard starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.Setup(ctx, observe.TelemetryConfig{Service: "scamguard"})
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

	// ── Providers and collaborators ───────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Capture)

	var sttProvider stt.Provider
	if cfg.Capture.Engine == config.CaptureStream {
		sttProvider, err = reg.CreateSTT(cfg.Capture.STT)
		if err != nil {
			slog.Error("failed to create stt provider", "name", cfg.Capture.STT.Name, "err", err)
			return 1
		}
		slog.Info("provider created", "kind", "stt", "name", cfg.Capture.STT.Name)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "classifier",
		MaxFailures:   cfg.Classifier.Breaker.MaxFailures,
		ResetTimeout:  cfg.Classifier.Breaker.ResetTimeout,
		IsFailure:     classify.IsServerFailure,
		OnStateChange: server.BreakerObserver(metrics),
	})
	classifier := classify.NewClient(cfg.Classifier.URL,
		classify.WithBreaker(breaker),
		classify.WithHTTPClient(&http.Client{Timeout: cfg.Classifier.Timeout}),
	)

	application, err := app.New(cfg, app.Deps{
		Classifier: classifier,
		Saver:      summary.NewClient(cfg.Persistence.URL, cfg.Persistence.Timeout),
		STT:        sttProvider,
		Metrics:    metrics,
	})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if fromFile {
		w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				levelVar.Set(d.NewLogLevel.Level())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.CallChanged {
				if err := application.SetCallConfig(d.NewCall); err != nil {
					slog.Warn("call config rejected", "err", err)
				} else {
					slog.Info("call config updated, applies to new calls")
				}
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes require a restart", "fields", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer w.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	hh := health.New(health.Breaker("classifier", breaker))
	mux := server.NewMux(hh, tel.Handler())
	application.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Wrap(mux, metrics, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	if err := server.Run(ctx, srv, cfg.Server.TLS, hh, application.Shutdown); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the STT factories into reg. Recognition
// settings come from the capture section; the provider entry may override the
// language through options.language.
func registerBuiltinProviders(reg *config.Registry, capture config.CaptureConfig) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		lang := entry.OptString("language")
		if lang == "" {
			lang = capture.Language
		}
		if lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if capture.SampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(capture.SampleRate))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	slog.Debug("registered provider", "kind", "stt", "name", "deepgram")
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Scamguard call server summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Capture", string(cfg.Capture.Engine))
	if cfg.Capture.Engine == config.CaptureStream {
		printRow("STT", cfg.Capture.STT.Name)
	}
	printRow("Classifier", cfg.Classifier.URL)
	printRow("Persistence", cfg.Persistence.URL)
	printRow("Trigger", cfg.Call.Trigger)
	printRow("Silence", cfg.Call.Silence.String())
	printRow("Window", fmt.Sprint(cfg.Call.WindowSize))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}
