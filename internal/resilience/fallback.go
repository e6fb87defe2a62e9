package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result.
var ErrAllFailed = errors.New("all providers failed")

// ErrNoProviders is returned when a [FallbackGroup] has no entries.
var ErrNoProviders = errors.New("no providers configured")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup]. The entry name overrides CircuitBreaker.Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// OnFailure, if set, is called for every entry that was tried and failed.
	// Entries skipped because of an open breaker are not reported.
	OnFailure func(name string, err error)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds an ordered list of interchangeable providers, each
// guarded by its own [CircuitBreaker]. Entries must be added before the group
// is shared between goroutines.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []fallbackEntry[T]
}

// NewFallbackGroup returns an empty group.
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends a provider. Providers are tried in the order they were added.
func (g *FallbackGroup[T]) Add(name string, v T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.entries = append(g.entries, fallbackEntry[T]{
		name:    name,
		value:   v,
		breaker: NewCircuitBreaker(bc),
	})
}

// Len returns the number of entries.
func (g *FallbackGroup[T]) Len() int { return len(g.entries) }

// Names returns the entry names in order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the breaker of the named entry, or nil.
func (g *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range g.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Call runs fn against each entry in order until one succeeds. Entries with an
// open breaker are skipped. Iteration stops early once ctx is done. This is a
// function rather than a method because methods cannot carry their own type
// parameters.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	if len(g.entries) == 0 {
		return zero, ErrNoProviders
	}

	var errs []error
	for i := range g.entries {
		e := &g.entries[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		var out R
		err := e.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(ctx, e.value)
			return callErr
		})
		if err == nil {
			if i > 0 {
				slog.Info("served by fallback provider", "provider", e.name)
			}
			return out, nil
		}

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider with open circuit", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
			if g.cfg.OnFailure != nil {
				g.cfg.OnFailure(e.name, err)
			}
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
