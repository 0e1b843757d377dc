package composition

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/erp-gateway/internal/config"
	"github.com/couchcryptid/erp-gateway/internal/observability"
	"github.com/couchcryptid/erp-gateway/internal/subgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(registry *subgraph.Registry, holder *Holder) *Poller {
	composer := newTestComposer(time.Second)
	return NewPoller(registry, composer, holder,
		time.Hour, time.Hour, slog.Default(), observability.NewTestMetrics())
}

func registryFor(urls ...string) *subgraph.Registry {
	cfg := &config.Config{}
	if len(urls) > 0 {
		cfg.UserServiceURL = urls[0]
	}
	if len(urls) > 1 {
		cfg.OrdersServiceURL = urls[1]
	}
	return subgraph.NewRegistry(cfg)
}

func TestPoller_VersionAdvancesOnEverySuccessfulCompose(t *testing.T) {
	srv := sdlServer(t, userSDL)
	defer srv.Close()

	holder := NewHolder()
	p := newTestPoller(registryFor(srv.URL), holder)

	// The schema content never changes between cycles, yet the version
	// is attempt-counted, not content-hashed: it advances every time.
	p.runOnce(context.Background())
	require.EqualValues(t, 1, holder.Snapshot().Version)
	p.runOnce(context.Background())
	require.EqualValues(t, 2, holder.Snapshot().Version)
	p.runOnce(context.Background())
	assert.EqualValues(t, 3, holder.Snapshot().Version)
}

func TestPoller_FailureKeepsServingPreviousSchema(t *testing.T) {
	up := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"_service": map[string]any{"sdl": userSDL}},
		})
	}))
	defer srv.Close()

	holder := NewHolder()
	p := newTestPoller(registryFor(srv.URL), holder)

	p.runOnce(context.Background())
	good := holder.Snapshot()
	require.NotNil(t, good.Composition)
	require.EqualValues(t, 1, good.Version)

	up = false
	p.runOnce(context.Background())

	stale := holder.Snapshot()
	assert.Same(t, good.Composition, stale.Composition, "previous schema must keep serving")
	assert.EqualValues(t, 1, stale.Version)
	assert.NotEmpty(t, stale.LastError)
}

func TestPoller_FirstAttemptFailureLeavesSchemaAbsent(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	holder := NewHolder()
	p := newTestPoller(registryFor(deadURL), holder)

	p.runOnce(context.Background())

	state := holder.Snapshot()
	assert.Nil(t, state.Composition)
	assert.EqualValues(t, 0, state.Version)
	assert.NotEmpty(t, state.LastError)
}

// A subgraph whose health endpoints all fail can still serve its SDL.
// Probe outcome and composition eligibility are deliberately decoupled.
func TestPoller_ComposesRegardlessOfProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			if strings.Contains(string(body), "_service") {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"data": map[string]any{"_service": map[string]any{"sdl": userSDL}},
				})
				return
			}
		}
		// Every liveness candidate fails, introspection alone works.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	registry := registryFor(srv.URL + "/graphql")
	d := registry.Active()[0]

	prober := subgraph.NewProber(150*time.Millisecond, 40*time.Millisecond,
		slog.Default(), observability.NewTestMetrics())
	probeRes := prober.Probe(context.Background(), d)
	require.False(t, probeRes.Reachable)

	holder := NewHolder()
	newTestPoller(registry, holder).runOnce(context.Background())

	state := holder.Snapshot()
	require.NotNil(t, state.Composition, "composition must not be gated on probe success")
	assert.Contains(t, state.Composition.QueryRoutes, "me")
}

func TestPoller_RunHonoursInitialDelayAndCancellation(t *testing.T) {
	srv := sdlServer(t, userSDL)
	defer srv.Close()

	holder := NewHolder()
	composer := newTestComposer(time.Second)
	p := NewPoller(registryFor(srv.URL), composer, holder,
		10*time.Millisecond, 50*time.Millisecond, slog.Default(), observability.NewTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Inside the warm-up window nothing is composed yet.
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, holder.Snapshot().Composition)

	require.Eventually(t, func() bool {
		return holder.Snapshot().Composition != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on context cancellation")
	}
}

func TestHolder_SnapshotNeverNil(t *testing.T) {
	h := NewHolder()
	s := h.Snapshot()
	require.NotNil(t, s)
	assert.Nil(t, s.Composition)
	assert.EqualValues(t, 0, s.Version)
}
