// Command scamguard-classifier is the classification service: it summarizes
// a conversation and rates how likely the caller is a scammer with an LLM.
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
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/scamguard/internal/classifier"
	"github.com/MrWong99/scamguard/internal/config"
	"github.com/MrWong99/scamguard/internal/health"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/resilience"
	"github.com/MrWong99/scamguard/internal/server"
	"github.com/MrWong99/scamguard/pkg/provider/llm"
	"github.com/MrWong99/scamguard/pkg/provider/llm/anyllm"
	"github.com/MrWong99/scamguard/pkg/provider/llm/openai"
)

// llmTimeout bounds a single completion of the OpenAI backend.
const llmTimeout = 60 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "scamguard-classifier: load %s: %v\n", *envPath, err)
		return 1
	}

	cfg, fromFile, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scamguard-classifier: %v\n", err)
		return 1
	}

	logger, _ := server.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	if !fromFile {
		slog.Warn("config file not found, using defaults", "config", *configPath)
	}
	slog.Info("scamguard-classifier starting",
		"listen_addr", cfg.ClassifyService.ListenAddr,
		"llm", cfg.ClassifyService.LLM.Name,
		"model", cfg.ClassifyService.LLM.Model,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.Setup(ctx, observe.TelemetryConfig{Service: "scamguard-classifier"})
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

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	fb, err := buildLLM(cfg.ClassifyService, reg, metrics)
	if err != nil {
		slog.Error("failed to build llm providers", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := classifier.NewHandler(classifier.NewWorkflow(fb, metrics))
	hh := health.New(health.Check{Name: "llm", Fn: fb.Ready})
	mux := server.NewMux(hh, tel.Handler())
	handler.Register(mux)

	srv := &http.Server{
		Addr:              cfg.ClassifyService.ListenAddr,
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

// registerBuiltinProviders wires the LLM factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai goes through the official SDK; the remaining hosted providers
	// share the any-llm pattern of optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{openai.WithTimeout(llmTimeout)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildLLM creates the primary provider and its fallbacks, each behind its own
// circuit breaker.
func buildLLM(cfg config.ClassifyServiceConfig, reg *config.Registry, metrics *observe.Metrics) (*resilience.LLMFallback, error) {
	fb := resilience.NewLLMFallback(resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   cfg.Breaker.MaxFailures,
			ResetTimeout:  cfg.Breaker.ResetTimeout,
			OnStateChange: server.BreakerObserver(metrics),
		},
		OnFailure: func(name string, _ error) {
			metrics.RecordProviderError(context.Background(), name)
		},
	})

	entries := append([]config.ProviderEntry{cfg.LLM}, cfg.Fallbacks...)
	for i, e := range entries {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", e.Name, err)
		}
		// Two entries may use the same provider with different models.
		label := e.Name
		if i > 0 {
			label = fmt.Sprintf("%s#%d", e.Name, i)
		}
		fb.Add(label, p)
		slog.Info("provider created", "kind", "llm", "name", e.Name, "model", e.Model, "label", label)
	}
	return fb, nil
}
