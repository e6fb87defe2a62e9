package summary

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/scamguard/internal/observe"
)

// IsGuestToken reports whether token carries a true "guest" claim. The
// signature is not checked; the persistence service verifies tokens itself.
// A token that cannot be parsed is not treated as a guest.
func IsGuestToken(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	guest, _ := claims["guest"].(bool)
	return guest
}

// Bridge forwards summaries to a Saver in the background. Failures are logged
// and never reach the caller.
type Bridge struct {
	saver   Saver
	timeout time.Duration
	metrics *observe.Metrics

	wg sync.WaitGroup
}

// NewBridge returns a Bridge saving through s. metrics may be nil.
func NewBridge(s Saver, timeout time.Duration, metrics *observe.Metrics) *Bridge {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bridge{saver: s, timeout: timeout, metrics: metrics}
}

// Forward issues one asynchronous save of text for the user behind token. It
// does nothing and returns false when text or token is empty or the token
// belongs to a guest.
func (b *Bridge) Forward(ctx context.Context, token, text string) bool {
	if b == nil || b.saver == nil || text == "" || token == "" || IsGuestToken(token) {
		b.record(ctx, "skipped")
		return false
	}

	// The save outlives the call that produced the summary.
	ctx = context.WithoutCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		if err := b.saver.Save(sctx, token, text); err != nil {
			observe.Logger(ctx).Warn("failed to save summary", "err", err)
			b.record(ctx, "error")
			return
		}
		observe.Logger(ctx).Debug("summary saved")
		b.record(ctx, "ok")
	}()
	return true
}

// Wait blocks until all pending saves finished.
func (b *Bridge) Wait() {
	if b != nil {
		b.wg.Wait()
	}
}

func (b *Bridge) record(ctx context.Context, status string) {
	if b != nil && b.metrics != nil {
		b.metrics.RecordSummary(ctx, status)
	}
}
