package subgraph

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/couchcryptid/erp-gateway/internal/observability"
)

// ProbeResult reports the outcome of one startup probe cycle for a
// single subgraph. Advisory only: a subgraph that never answered is
// logged, not removed from composition.
type ProbeResult struct {
	Subgraph  Descriptor
	Reachable bool
	Attempts  int
	Elapsed   time.Duration
}

// Prober checks subgraph liveness at startup with bounded retries.
type Prober struct {
	client   *http.Client
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewProber returns a prober that retries every interval until timeout.
func NewProber(timeout, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Prober {
	return &Prober{
		client:   &http.Client{},
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Probe tries the subgraph's liveness candidates until one answers with
// a 2xx status or the timeout elapses. Individual candidate failures
// (connection refused, bad URL, non-2xx) are swallowed and counted as a
// failed attempt.
func (p *Prober) Probe(ctx context.Context, d Descriptor) ProbeResult {
	start := time.Now()
	result := ProbeResult{Subgraph: d}

	candidates := probeCandidates(d.URL)
	deadline := start.Add(p.timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		for _, c := range candidates {
			if ctx.Err() != nil {
				result.Elapsed = time.Since(start)
				return result
			}
			result.Attempts++
			if p.tryCandidate(ctx, c) {
				result.Reachable = true
				result.Elapsed = time.Since(start)
				p.metrics.ProbeAttempts.WithLabelValues(d.Name, "success").Inc()
				return result
			}
			p.metrics.ProbeAttempts.WithLabelValues(d.Name, "failure").Inc()
		}

		select {
		case <-ctx.Done():
			result.Elapsed = time.Since(start)
			return result
		case <-time.After(p.interval):
		}
	}
}

// ProbeAll probes every subgraph concurrently, one goroutine each, so a
// slow subgraph delays only its own result. Intended to be launched in
// the background; callers must not gate startup on it.
func (p *Prober) ProbeAll(ctx context.Context, descriptors []Descriptor) []ProbeResult {
	results := make([]ProbeResult, len(descriptors))
	var wg sync.WaitGroup
	for i, d := range descriptors {
		wg.Add(1)
		go func(i int, d Descriptor) {
			defer wg.Done()
			p.logger.Info("probing subgraph", "subgraph", d.Name, "url", d.URL)
			res := p.Probe(ctx, d)
			results[i] = res
			if res.Reachable {
				p.logger.Info("subgraph reachable",
					"subgraph", d.Name, "attempts", res.Attempts, "elapsed", res.Elapsed)
			} else {
				p.logger.Warn("subgraph did not become reachable within timeout; composition will still be attempted",
					"subgraph", d.Name, "url", d.URL, "attempts", res.Attempts, "elapsed", res.Elapsed)
			}
		}(i, d)
	}
	wg.Wait()
	return results
}

// probeCandidates derives the liveness checks for an endpoint: the
// conventional /health path, the Spring-style /actuator/health path,
// and the GraphQL endpoint itself answering a {__typename} query.
func probeCandidates(endpoint string) []probeCandidate {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		// Unparseable endpoint: only the raw GraphQL probe is possible.
		return []probeCandidate{{url: endpoint, graphql: true}}
	}
	base := parsed.Scheme + "://" + parsed.Host
	return []probeCandidate{
		{url: base + "/health"},
		{url: base + "/actuator/health"},
		{url: endpoint, graphql: true},
	}
}

type probeCandidate struct {
	url     string
	graphql bool
}

var typenameQuery = []byte(`{"query":"{__typename}"}`)

func (p *Prober) tryCandidate(ctx context.Context, c probeCandidate) bool {
	var (
		req *http.Request
		err error
	)
	if c.graphql {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(typenameQuery))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	}
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
