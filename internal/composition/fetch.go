package composition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/erp-gateway/internal/subgraph"
)

// serviceSDLQuery asks a federation-capable subgraph for its schema SDL.
const serviceSDLQuery = `{"query":"query { _service { sdl } }"}`

// Fetcher retrieves subgraph SDL over HTTP with a per-request deadline.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher returns a fetcher whose requests are bounded by timeout.
// A slow subgraph is cancelled at the deadline, not merely abandoned.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{}, timeout: timeout}
}

type serviceSDLResponse struct {
	Data struct {
		Service struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchSDL retrieves the SDL of one subgraph.
func (f *Fetcher) FetchSDL(ctx context.Context, d subgraph.Descriptor) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader([]byte(serviceSDLQuery)))
	if err != nil {
		return "", fmt.Errorf("build sdl request for %s: %w", d.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch sdl from %s: %w", d.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read sdl response from %s: %w", d.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch sdl from %s: unexpected status %d", d.Name, resp.StatusCode)
	}

	var parsed serviceSDLResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode sdl response from %s: %w", d.Name, err)
	}
	if len(parsed.Errors) > 0 {
		return "", fmt.Errorf("subgraph %s rejected sdl query: %s", d.Name, parsed.Errors[0].Message)
	}
	if parsed.Data.Service.SDL == "" {
		return "", fmt.Errorf("subgraph %s returned an empty sdl", d.Name)
	}
	return parsed.Data.Service.SDL, nil
}
