package resilience

import (
	"context"

	"github.com/MrWong99/scamguard/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] on top of a [FallbackGroup] of LLM
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns an empty LLMFallback. Register backends with Add,
// primary first.
func NewLLMFallback(cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup[llm.Provider](cfg)}
}

// Add registers a backend.
func (f *LLMFallback) Add(name string, p llm.Provider) {
	f.group.Add(name, p)
}

// Names returns the registered backend names in failover order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Model returns the primary backend's model.
func (f *LLMFallback) Model() string {
	if f.group.Len() == 0 {
		return ""
	}
	return f.group.entries[0].value.Model()
}

// Ready returns nil while at least one backend's breaker is not open.
func (f *LLMFallback) Ready(context.Context) error {
	if f.group.Len() == 0 {
		return ErrNoProviders
	}
	for _, e := range f.group.entries {
		if e.breaker.State() != StateOpen {
			return nil
		}
	}
	return ErrCircuitOpen
}
