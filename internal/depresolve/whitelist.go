package depresolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxWhitelistBytes bounds the registry response body.
const maxWhitelistBytes = 4 << 20

// Whitelist maps an installable dependency name to its VCS source URL.
type Whitelist map[string]string

// Source returns the fetch location for name.
func (w Whitelist) Source(name string) (string, bool) {
	src, ok := w[name]
	return src, ok
}

// WhitelistSource yields the current whitelist snapshot.
type WhitelistSource interface {
	Fetch(ctx context.Context) (Whitelist, error)
}

// HTTPWhitelist fetches the whitelist as a JSON object from a registry URL.
type HTTPWhitelist struct {
	URL    string
	Client *http.Client
}

// NewHTTPWhitelist creates a registry client with the given request timeout.
func NewHTTPWhitelist(url string, timeout time.Duration) *HTTPWhitelist {
	return &HTTPWhitelist{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the whitelist. Every failure wraps ErrRegistryUnavailable.
func (h *HTTPWhitelist) Fetch(ctx context.Context) (Whitelist, error) {
	if h.URL == "" {
		return nil, fmt.Errorf("%w: registry url is not configured", ErrRegistryUnavailable)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRegistryUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: registry returned %s", ErrRegistryUnavailable, resp.Status)
	}

	var wl Whitelist
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxWhitelistBytes)).Decode(&wl); err != nil {
		return nil, fmt.Errorf("%w: decode whitelist: %v", ErrRegistryUnavailable, err)
	}
	if wl == nil {
		wl = Whitelist{}
	}
	return wl, nil
}

// StaticWhitelist serves a fixed snapshot.
type StaticWhitelist Whitelist

func (s StaticWhitelist) Fetch(context.Context) (Whitelist, error) {
	out := make(Whitelist, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}
