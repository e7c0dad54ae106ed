package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeSuccess},
		{"cancelled", fmt.Errorf("get: %w", context.Canceled), ErrorTypeFatal},
		{"deadline", context.DeadlineExceeded, ErrorTypeTransient},
		{"timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, ErrorTypeTransient},
		{"connection refused", &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, ErrorTypeTransient},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), ErrorTypeTransient},
		{"503", statusErr(503), ErrorTypeTransient},
		{"403", fmt.Errorf("download: %w", statusErr(403)), ErrorTypeForbidden},
		{"401", statusErr(401), ErrorTypeForbidden},
		{"404", statusErr(404), ErrorTypeNotFound},
		{"500", statusErr(500), ErrorTypeFatal},
		{"disk full", errors.New("no space left on device"), ErrorTypeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func testRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, Delay: 10 * time.Millisecond}
}

func get(t *testing.T, cfg RetryConfig, target string) (*http.Response, error) {
	t.Helper()
	rc := NewRetryClient(&http.Client{}, cfg, nil)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target, nil)
	if err != nil {
		t.Fatal(err)
	}
	return rc.StandardClient().Do(req)
}

// TestRetryClient_RecoversOnThirdAttempt verifies two transient failures are retried.
func TestRetryClient_RecoversOnThirdAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := get(t, testRetryConfig(), srv.URL)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("expected 200 ok, got %d %q", resp.StatusCode, body)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Errorf("expected 3 requests, got %d", n)
	}
}

// TestRetryClient_GivesUpAfterThreeAttempts verifies there is no fourth attempt.
func TestRetryClient_GivesUpAfterThreeAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var retries []int
	cfg := testRetryConfig()
	cfg.OnRetry = func(attempt int) { retries = append(retries, attempt) }

	resp, err := get(t, cfg, srv.URL)
	if err != nil {
		t.Fatalf("expected the final response, got error %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected final 502, got %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Errorf("expected exactly 3 requests, got %d", n)
	}
	if len(retries) != 2 {
		t.Errorf("expected 2 retry callbacks, got %v", retries)
	}
}

// TestRetryClient_NoRetryOnClientError verifies 4xx is returned immediately.
func TestRetryClient_NoRetryOnClientError(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(code)
		}))

		resp, err := get(t, testRetryConfig(), srv.URL)
		if err != nil {
			t.Fatalf("%d: unexpected error %v", code, err)
		}
		resp.Body.Close()
		if n := atomic.LoadInt32(&hits); n != 1 {
			t.Errorf("%d: expected 1 request, got %d", code, n)
		}
		srv.Close()
	}
}

// TestRetryClient_ConnectionRefused verifies transport errors are retried then returned.
func TestRetryClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	var retries int32
	cfg := testRetryConfig()
	cfg.OnRetry = func(int) { atomic.AddInt32(&retries, 1) }

	_, err := get(t, cfg, addr)
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if ClassifyError(err) != ErrorTypeTransient {
		t.Errorf("expected transient classification, got %s", ClassifyError(err))
	}
	if n := atomic.LoadInt32(&retries); n != 2 {
		t.Errorf("expected 2 retries, got %d", n)
	}
}

// TestRetryClient_ContextCancelled verifies a cancelled request is not retried.
func TestRetryClient_ContextCancelled(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := NewRetryClient(&http.Client{}, RetryConfig{MaxRetries: 2, Delay: time.Second}, nil)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	start := time.Now()
	if _, err := rc.StandardClient().Do(req); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancelled request should not wait for retry delay")
	}
}

// TestWithResponseHeaderTimeout verifies slow headers surface as a transient error.
func TestWithResponseHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := WithResponseHeaderTimeout(&http.Client{Transport: &http.Transport{}}, 50*time.Millisecond)
	tr := client.Transport.(*http.Transport)
	if tr.ResponseHeaderTimeout != 50*time.Millisecond {
		t.Fatalf("expected header timeout to be set, got %v", tr.ResponseHeaderTimeout)
	}

	_, err := client.Get(srv.URL)
	if err == nil {
		t.Fatal("expected header timeout error")
	}
	if ClassifyError(err) != ErrorTypeTransient {
		t.Errorf("expected transient, got %s (%v)", ClassifyError(err), err)
	}
}
