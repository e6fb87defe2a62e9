// Package classifier implements the classification service: a two step LLM
// workflow that summarises a phone conversation from the caller's side and
// then scores the summary for scam likelihood.
//
// The [Workflow] talks to any [llm.Provider]; the service binary hands it a
// [resilience.LLMFallback] so a failing primary model falls over to the
// configured fallbacks. [Handler] exposes the workflow as POST /classify.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/pkg/provider/llm"
	"github.com/MrWong99/scamguard/pkg/types"
)

// MinCycles is the number of Caller-Receiver exchanges a conversation needs
// before it is scored.
const MinCycles = 2

// ErrUnparsable is returned by [Workflow.Run] when the model's verdict is not
// a JSON object carrying one of the five model levels.
var ErrUnparsable = errors.New("classifier: unparsable verdict")

const (
	summarizeTemperature = 0.3
	summarizeMaxTokens   = 300
	classifyTemperature  = 0.4
	classifyMaxTokens    = 200
)

const summarizePrompt = `You are a call summarizer assistant. You need to summarize this phone conversation while focusing more on the Caller side and not keeping the receiver replies much into context unless they are very important.

Conversation:
%s

Instructions:
- Focus primarily on what the CALLER is saying and doing
- Include receiver responses only if they are crucial to understanding the context
- In the last line of summary, clearly mention what was the last reply/question by the Caller (The current conversation point)
- Keep the summary concise but comprehensive

Summary:`

const classifyPrompt = `You are a scam call detection specialist. Analyze the following conversation summary and classify it into one of five confidence levels for scam likelihood.

Conversation Summary:
%s

Classification Guidelines:
- "Very High": Clear scam indicators (urgency, suspicious requests, impersonation)
- "High": Strong scam indicators but some uncertainty
- "Not Clear": Unclear or insufficient information to make confident assessment
- "Low": Unlikely to be scam but has some minor concerning elements
- "Very Low": Clearly legitimate conversation

Special Instructions:
- When the confidence level is "Not Clear" OR "High", you MUST provide a suggested reply
- The suggested reply should help the receiver gather more information to determine if it's a scam
- The reply should be polite but probing, asking for verification or specific details
- Do NOT reveal personal information in the suggested reply

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"confidence_level": "<Very High|High|Not Clear|Low|Very Low>", "suggested_reply": "<reply or empty string>"}`

// CountCycles returns the number of complete Caller-Receiver exchanges in a
// rendered conversation: the smaller of the number of lines starting with
// "caller:" and with "receiver:", compared case-insensitively. Blank lines are
// ignored.
func CountCycles(conversation string) int {
	var callers, receivers int
	for line := range strings.Lines(conversation) {
		line = strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(line, "caller:"):
			callers++
		case strings.HasPrefix(line, "receiver:"):
			receivers++
		}
	}
	return min(callers, receivers)
}

// Verdict is the model's classification of a summary.
type Verdict struct {
	ConfidenceLevel types.ConfidenceLevel `json:"confidence_level"`
	SuggestedReply  string                `json:"suggested_reply"`
}

// Result is the outcome of a full workflow run.
type Result struct {
	Summary string
	Verdict Verdict
}

// Workflow runs the summarise-then-classify chain. It is safe for concurrent
// use.
type Workflow struct {
	llm     llm.Provider
	metrics *observe.Metrics
}

// NewWorkflow returns a Workflow completing through p. metrics may be nil.
func NewWorkflow(p llm.Provider, metrics *observe.Metrics) *Workflow {
	return &Workflow{llm: p, metrics: metrics}
}

// Run summarises conversation and classifies the summary. The caller is
// expected to have checked [CountCycles] first.
//
// A verdict the model produced but that cannot be parsed is reported as
// [ErrUnparsable] together with the summary that was classified.
func (w *Workflow) Run(ctx context.Context, conversation string) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "classifier.workflow")
	defer span.End()

	summary, err := w.complete(ctx, "summarize", llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(summarizePrompt, conversation)}},
		Temperature: summarizeTemperature,
		MaxTokens:   summarizeMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)

	raw, err := w.complete(ctx, "classify", llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(classifyPrompt, summary)}},
		Temperature: classifyTemperature,
		MaxTokens:   classifyMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return Result{Summary: summary}, fmt.Errorf("classify: %w", err)
	}

	v, err := parseVerdict(raw)
	if err != nil {
		observe.Logger(ctx).Warn("unparsable verdict", "content", raw, "err", err)
		return Result{Summary: summary}, err
	}
	return Result{Summary: summary, Verdict: v}, nil
}

func (w *Workflow) complete(ctx context.Context, step string, req llm.CompletionRequest) (string, error) {
	start := time.Now()
	resp, err := w.llm.Complete(ctx, req)
	if w.metrics != nil {
		w.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("step", step), observe.Attr("status", statusOf(err))))
	}
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("empty completion")
	}
	return resp.Content, nil
}

// parseVerdict decodes the classify step output, tolerating markdown code
// fences around the JSON.
func parseVerdict(content string) (Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrUnparsable, err)
	}
	if !v.ConfidenceLevel.IsModelLevel() {
		return Verdict{}, fmt.Errorf("%w: unknown level %q", ErrUnparsable, v.ConfidenceLevel)
	}
	v.SuggestedReply = strings.TrimSpace(v.SuggestedReply)
	return v, nil
}

// stripMarkdown removes optional ```json fences some models wrap JSON in.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
