package light

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ModeHTTP sends commands to a JSON HTTP endpoint.
const ModeHTTP = "http"

// DefaultHTTPTimeout bounds a single HTTP light request.
const DefaultHTTPTimeout = 5 * time.Second

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpPayload struct {
	Brightness int `json:"brightness"`
	DurationMS int `json:"duration_ms"`
}

// HTTPBackend sends {"brightness":N,"duration_ms":D} to a URL. With
// method GET the values travel as query parameters instead.
type HTTPBackend struct {
	client  HTTPDoer
	url     string
	method  string
	timeout time.Duration

	mu      sync.Mutex
	last    int
	lastErr error
}

// NewHTTPBackend creates an HTTP backend. A nil client uses
// http.DefaultClient.
func NewHTTPBackend(client HTTPDoer, url, method string, timeout time.Duration) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	if method == "" {
		method = http.MethodPost
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPBackend{client: client, url: url, method: strings.ToUpper(method), timeout: timeout}
}

// Send implements Backend.
func (b *HTTPBackend) Send(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := b.newRequest(ctx, cmd)
	if err != nil {
		return err
	}
	err = doRequest(b.client, req)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	if err != nil {
		return err
	}
	b.last = cmd.Brightness
	return nil
}

func (b *HTTPBackend) newRequest(ctx context.Context, cmd Command) (*http.Request, error) {
	if b.method == http.MethodGet {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		q := req.URL.Query()
		q.Set("brightness", fmt.Sprint(cmd.Brightness))
		q.Set("duration_ms", fmt.Sprint(cmd.DurationMS))
		req.URL.RawQuery = q.Encode()
		return req, nil
	}

	body, err := json.Marshal(httpPayload{Brightness: cmd.Brightness, DurationMS: cmd.DurationMS})
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, b.method, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// doRequest sends req and treats any non-2xx status as an error.
func doRequest(client HTTPDoer, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Redacted(), resp.StatusCode)
	}
	return nil
}

// Status implements Backend.
func (b *HTTPBackend) Status() BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BackendStatus{Mode: ModeHTTP, Connected: b.lastErr == nil, Brightness: b.last}
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	return st
}

// Mode implements Backend.
func (b *HTTPBackend) Mode() string { return ModeHTTP }

// Close implements Backend.
func (b *HTTPBackend) Close() error { return nil }
