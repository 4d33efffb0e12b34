package light

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ModeHue drives a Philips Hue light through the bridge's local API.
const ModeHue = "hue"

type hueState struct {
	On             bool `json:"on"`
	Bri            int  `json:"bri,omitempty"`
	TransitionTime int  `json:"transitiontime"`
}

// HueBackend sets a single Hue light.
type HueBackend struct {
	client  HTTPDoer
	url     string
	timeout time.Duration

	mu      sync.Mutex
	last    int
	lastErr error
}

// NewHueBackend creates a backend for light lightID on the bridge.
func NewHueBackend(client HTTPDoer, bridgeIP, username, lightID string, timeout time.Duration) *HueBackend {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	u := url.URL{
		Scheme: "http",
		Host:   bridgeIP,
		Path:   fmt.Sprintf("/api/%s/lights/%s/state", username, lightID),
	}
	return &HueBackend{client: client, url: u.String(), timeout: timeout}
}

// hueBrightness maps 0-100 to the bridge's 1-254 range. Zero stays zero.
func hueBrightness(pct int) int {
	pct = clampBrightness(pct)
	if pct == 0 {
		return 0
	}
	return max(1, pct*254/100)
}

// Send implements Backend.
func (b *HueBackend) Send(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	state := hueState{
		On:  cmd.Brightness > 0,
		Bri: hueBrightness(cmd.Brightness),
		// Hue transitions are in 100ms steps.
		TransitionTime: cmd.DurationMS / 100,
	}
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding hue state: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
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

// Status implements Backend.
func (b *HueBackend) Status() BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BackendStatus{Mode: ModeHue, Connected: b.lastErr == nil, Brightness: b.last}
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	return st
}

// Mode implements Backend.
func (b *HueBackend) Mode() string { return ModeHue }

// Close implements Backend.
func (b *HueBackend) Close() error { return nil }
