// Package summary forwards classifier summaries of a call to the persistence
// service for signed-in users.
package summary

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

// APIError is a non-2xx answer from the persistence service.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("summary: save returned %d: %s", e.Code, e.Message)
}

// Saver persists one summary for the user identified by token.
type Saver interface {
	Save(ctx context.Context, token, summary string) error
}

// Client posts summaries to {baseURL}/save-summary.
type Client struct {
	endpoint string
	http     *http.Client
	breaker  *resilience.CircuitBreaker
}

// NewClient returns a Client for the persistence service at baseURL (for
// example http://localhost:4000/api).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/save-summary",
		http:     &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "persistence",
			IsFailure: func(err error) bool {
				var ae *APIError
				if errors.As(err, &ae) {
					return ae.Code >= 500
				}
				return resilience.CountsAsFailure(err)
			},
		}),
	}
}

type saveRequest struct {
	Token   string `json:"token"`
	Summary string `json:"summary"`
}

type saveResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Save implements Saver.
func (c *Client) Save(ctx context.Context, token, summary string) error {
	body, err := json.Marshal(saveRequest{Token: token, Summary: summary})
	if err != nil {
		return fmt.Errorf("summary: encode: %w", err)
	}
	return c.breaker.Execute(func() error {
		return c.post(ctx, body)
	})
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("summary: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cid := observe.CorrelationID(ctx); cid != "" {
		req.Header.Set(observe.CorrelationHeader, cid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("summary: post: %w", err)
	}
	defer resp.Body.Close()

	var out saveResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Code: resp.StatusCode, Message: msg}
	}
	return nil
}

var _ Saver = (*Client)(nil)
