package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newStringGroup(cfg CircuitBreakerConfig, names ...string) *FallbackGroup[string] {
	g := NewFallbackGroup[string](FallbackConfig{CircuitBreaker: cfg})
	for _, n := range names {
		g.Add(n, n)
	}
	return g
}

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    string
		wantErr bool
	}{
		{name: "primary succeeds", want: "primary"},
		{name: "falls back", failing: map[string]bool{"primary": true}, want: "secondary"},
		{name: "all fail", failing: map[string]bool{"primary": true, "secondary": true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := newStringGroup(CircuitBreakerConfig{MaxFailures: 3}, "primary", "secondary")
			got, err := Call(context.Background(), g, func(_ context.Context, v string) (string, error) {
				if tt.failing[v] {
					return "", errTest
				}
				return v, nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrAllFailed", err)
				}
				if !errors.Is(err, errTest) {
					t.Errorf("err = %v, want the provider errors joined in", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCall_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	g := newStringGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, "primary", "secondary")
	calls := map[string]int{}
	fn := func(_ context.Context, v string) (string, error) {
		calls[v]++
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	}

	for range 2 {
		if _, err := Call(context.Background(), g, fn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if g.Breaker("primary").State() != StateOpen {
		t.Fatalf("primary breaker = %v, want open", g.Breaker("primary").State())
	}

	got, err := Call(context.Background(), g, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secondary" {
		t.Errorf("got %q, want secondary", got)
	}
	if calls["primary"] != 2 {
		t.Errorf("primary called %d times, want 2", calls["primary"])
	}
}

func TestCall_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	g := newStringGroup(CircuitBreakerConfig{}, "primary", "secondary")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Call(ctx, g, func(_ context.Context, v string) (string, error) {
		called = true
		return v, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn must not run with a cancelled context")
	}
}

func TestCall_Empty(t *testing.T) {
	t.Parallel()

	g := NewFallbackGroup[string](FallbackConfig{})
	_, err := Call(context.Background(), g, func(_ context.Context, v string) (string, error) { return v, nil })
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	g := newStringGroup(CircuitBreakerConfig{}, "openai", "gemini", "ollama")
	names := g.Names()
	want := []string{"openai", "gemini", "ollama"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if g.Breaker("gemini").Name() != "gemini" {
		t.Errorf("breaker name = %q, want gemini", g.Breaker("gemini").Name())
	}
	if g.Breaker("missing") != nil {
		t.Error("Breaker(missing) should be nil")
	}
}
