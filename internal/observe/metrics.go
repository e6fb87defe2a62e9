// Package observe provides the observability primitives shared by the three
// scamguard binaries: OpenTelemetry metrics, tracing, context loggers and the
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by the [Telemetry] each binary sets up. Tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all scamguard metrics.
const meterName = "github.com/MrWong99/scamguard"

// Classification outcomes recorded by [Metrics.RecordClassification].
const (
	OutcomeOK          = "ok"
	OutcomeStatusError = "status_error"
	OutcomeUnreachable = "unreachable"
	OutcomeStale       = "stale"
)

// Metrics holds every metric instrument. All fields are safe for concurrent
// use.
type Metrics struct {
	// ActiveCalls tracks call sessions with a live websocket.
	ActiveCalls metric.Int64UpDownCounter

	// Utterances counts finalized utterances by speaker.
	Utterances metric.Int64Counter

	// SpeakerFlips counts silence-driven speaker changes.
	SpeakerFlips metric.Int64Counter

	// CaptureRestarts counts automatic engine restarts by status (ok, error).
	CaptureRestarts metric.Int64Counter

	// ClassifyDuration tracks the round trip to the classification service.
	ClassifyDuration metric.Float64Histogram

	// ClassifyOutcomes counts classification completions by outcome.
	ClassifyOutcomes metric.Int64Counter

	// SummariesForwarded counts summary saves by status (ok, error, skipped).
	SummariesForwarded metric.Int64Counter

	// LLMDuration tracks LLM completion latency in the classification service.
	// Use with attribute.String("step", "summarize"|"classify").
	LLMDuration metric.Float64Histogram

	// ProviderErrors counts LLM provider failures by provider.
	ProviderErrors metric.Int64Counter

	// AuthRequests counts auth service requests by action and status.
	AuthRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by breaker and
	// target state.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time by method and
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Classification runs two
// LLM calls, so the upper buckets matter.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveCalls, err = m.Int64UpDownCounter("scamguard.calls.active",
		metric.WithDescription("Number of call sessions with a connected browser."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("scamguard.utterances",
		metric.WithDescription("Finalized utterances by speaker."),
	); err != nil {
		return nil, err
	}
	if met.SpeakerFlips, err = m.Int64Counter("scamguard.speaker.flips",
		metric.WithDescription("Speaker changes caused by silence."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRestarts, err = m.Int64Counter("scamguard.capture.restarts",
		metric.WithDescription("Automatic speech engine restarts by status."),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("scamguard.classify.duration",
		metric.WithDescription("Round trip latency of classification requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyOutcomes, err = m.Int64Counter("scamguard.classify.outcomes",
		metric.WithDescription("Classification completions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SummariesForwarded, err = m.Int64Counter("scamguard.summaries.forwarded",
		metric.WithDescription("Summary save attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("scamguard.llm.duration",
		metric.WithDescription("Latency of LLM completions by workflow step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("scamguard.provider.errors",
		metric.WithDescription("LLM provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.AuthRequests, err = m.Int64Counter("scamguard.auth.requests",
		metric.WithDescription("Auth service requests by action and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("scamguard.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("scamguard.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance counts one finalized utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, speaker string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("speaker", speaker)))
}

// RecordCaptureRestart counts one automatic engine restart.
func (m *Metrics) RecordCaptureRestart(ctx context.Context, err error) {
	m.CaptureRestarts.Add(ctx, 1, metric.WithAttributes(Attr("status", statusOf(err))))
}

// RecordClassification counts one classification completion. seconds is
// ignored for stale outcomes, whose latency is meaningless.
func (m *Metrics) RecordClassification(ctx context.Context, outcome string, seconds float64) {
	m.ClassifyOutcomes.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	if outcome != OutcomeStale {
		m.ClassifyDuration.Record(ctx, seconds, metric.WithAttributes(Attr("outcome", outcome)))
	}
}

// RecordSummary counts one summary forward attempt.
func (m *Metrics) RecordSummary(ctx context.Context, status string) {
	m.SummariesForwarded.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordAuth counts one auth service request.
func (m *Metrics) RecordAuth(ctx context.Context, action, status string) {
	m.AuthRequests.Add(ctx, 1, metric.WithAttributes(Attr("action", action), Attr("status", status)))
}

// RecordProviderError counts one LLM provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider)))
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("breaker", breaker), Attr("state", to)))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
