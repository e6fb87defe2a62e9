// Package classify sends conversation windows to the classification service
// and turns its answers into display results.
//
// [Client] performs the HTTP exchange. [Dispatcher] runs requests in the
// background, tags them with monotonically increasing sequence numbers and
// drops answers that arrive after a newer one was applied or after the call
// was reset. [Apply] maps an [Outcome] onto the previous result.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/resilience"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// Request is the body of POST /classify.
type Request struct {
	Conversation string `json:"conversation"`
}

// Response is the body returned by the classification service.
type Response struct {
	ConfidenceLevel string `json:"confidence_level,omitempty"`
	SuggestedReply  string `json:"suggested_reply,omitempty"`
	Summary         string `json:"summary,omitempty"`
	Error           string `json:"error,omitempty"`
}

// StatusError is returned when the service answered with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("classify: server returned %d", e.Code)
	}
	return fmt.Sprintf("classify: server returned %d: %s", e.Code, e.Message)
}

// Classifier scores a rendered conversation.
type Classifier interface {
	Classify(ctx context.Context, conversation string) (*Response, error)
}

// Client talks to the classification service over HTTP. Every call passes
// through a circuit breaker; an open breaker fails the call without touching
// the network. Client performs no retries.
type Client struct {
	endpoint string
	http     *http.Client
	breaker  *resilience.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// NewClient returns a Client posting to baseURL + "/classify".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/classify",
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "classifier",
			IsFailure: IsServerFailure,
		})
	}
	return c
}

// IsServerFailure reports whether err should count against the classifier's
// circuit breaker. Rejections with a 4xx status do not.
func IsServerFailure(err error) bool {
	if !resilience.CountsAsFailure(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// Classify posts conversation and decodes the answer.
func (c *Client) Classify(ctx context.Context, conversation string) (*Response, error) {
	body, err := json.Marshal(Request{Conversation: conversation})
	if err != nil {
		return nil, fmt.Errorf("classify: encode request: %w", err)
	}

	var out *Response
	err = c.breaker.Execute(func() error {
		var callErr error
		out, callErr = c.post(ctx, body)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cid := observe.CorrelationID(ctx); cid != "" {
		req.Header.Set(observe.CorrelationHeader, cid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify: post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("classify: read response: %w", err)
	}

	var decoded Response
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The message is only taken from a well-formed JSON error body.
		se := &StatusError{Code: resp.StatusCode}
		if decodeErr == nil {
			se.Message = decoded.Error
		}
		return nil, se
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("classify: decode response: %w", decodeErr)
	}
	return &decoded, nil
}

var _ Classifier = (*Client)(nil)
