package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/resilience"
)

func TestClient_Classify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		want       *Response
		wantStatus int
		wantMsg    string
		wantErr    bool
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"confidence_level":"High","suggested_reply":"Hang up.","summary":"Caller asks for OTP."}`,
			want:   &Response{ConfidenceLevel: "High", SuggestedReply: "Hang up.", Summary: "Caller asks for OTP."},
		},
		{
			name:   "error field on success",
			status: http.StatusOK,
			body:   `{"error":"model busy"}`,
			want:   &Response{Error: "model busy"},
		},
		{
			name:       "status with message",
			status:     http.StatusInternalServerError,
			body:       `{"error":"Error during scam detection workflow: timeout"}`,
			wantStatus: 500,
			wantMsg:    "Error during scam detection workflow: timeout",
		},
		{
			name:       "status without json",
			status:     http.StatusBadGateway,
			body:       `<html>bad gateway</html>`,
			wantStatus: 502,
		},
		{
			name:    "malformed success body",
			status:  http.StatusOK,
			body:    `{"confidence_level":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewClient(srv.URL).Classify(context.Background(), "Caller: hi")

			var se *StatusError
			switch {
			case tt.wantStatus != 0:
				if !errors.As(err, &se) {
					t.Fatalf("err = %v, want *StatusError", err)
				}
				if se.Code != tt.wantStatus || se.Message != tt.wantMsg {
					t.Errorf("StatusError = {%d %q}, want {%d %q}", se.Code, se.Message, tt.wantStatus, tt.wantMsg)
				}
			case tt.wantErr:
				if err == nil {
					t.Fatal("expected error")
				}
				if errors.As(err, &se) {
					t.Errorf("err = %v, must not be a StatusError", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if *got != *tt.want {
					t.Errorf("response = %+v, want %+v", *got, *tt.want)
				}
			}
		})
	}
}

func TestClient_SendsConversationAndCorrelationID(t *testing.T) {
	t.Parallel()

	type seen struct {
		path, method, contentType, cid string
		req                            Request
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s seen
		s.path, s.method = r.URL.Path, r.Method
		s.contentType = r.Header.Get("Content-Type")
		s.cid = r.Header.Get(observe.CorrelationHeader)
		_ = json.NewDecoder(r.Body).Decode(&s.req)
		got <- s
		_, _ = w.Write([]byte(`{"confidence_level":"Low"}`))
	}))
	defer srv.Close()

	ctx := observe.WithCorrelationID(context.Background(), "call-1")
	conv := "Caller: hello\nReceiver: who is this?"
	if _, err := NewClient(srv.URL+"/").Classify(ctx, conv); err != nil {
		t.Fatalf("Classify: %v", err)
	}

	s := <-got
	if s.path != "/classify" || s.method != http.MethodPost {
		t.Errorf("request = %s %s, want POST /classify", s.method, s.path)
	}
	if s.contentType != "application/json" {
		t.Errorf("Content-Type = %q", s.contentType)
	}
	if s.cid != "call-1" {
		t.Errorf("correlation header = %q, want call-1", s.cid)
	}
	if s.req.Conversation != conv {
		t.Errorf("conversation = %q, want %q", s.req.Conversation, conv)
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "classifier",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
		IsFailure:    IsServerFailure,
	})
	c := NewClient(srv.URL, WithBreaker(cb))

	for range 2 {
		_, _ = c.Classify(context.Background(), "Caller: hi")
	}
	_, err := c.Classify(context.Background(), "Caller: hi")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

func TestIsServerFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad request", &StatusError{Code: 400, Message: "Empty conversation"}, false},
		{"server error", &StatusError{Code: 500}, true},
		{"transport", errors.New("connection refused"), true},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		if got := IsServerFailure(tt.err); got != tt.want {
			t.Errorf("%s: IsServerFailure = %v, want %v", tt.name, got, tt.want)
		}
	}
}
