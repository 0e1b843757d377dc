package composition

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/erp-gateway/internal/observability"
	"github.com/couchcryptid/erp-gateway/internal/subgraph"
)

// Poller periodically recomposes the supergraph from the federated
// subgraphs and publishes successful results to the state holder.
// Cycles are strictly sequential: one completes (or times out through
// its per-request deadlines) before the next begins.
type Poller struct {
	registry *subgraph.Registry
	composer *Composer
	holder   *Holder

	interval     time.Duration
	initialDelay time.Duration

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPoller wires a poller to the registry, composer and state holder.
func NewPoller(registry *subgraph.Registry, composer *Composer, holder *Holder, interval, initialDelay time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	return &Poller{
		registry:     registry,
		composer:     composer,
		holder:       holder,
		interval:     interval,
		initialDelay: initialDelay,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run composes on a fixed interval until the context is cancelled. The
// first attempt waits for the warm-up window so subgraphs can finish
// booting. Composition failure is never fatal: the previous good state
// keeps serving and the next tick retries.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("composition poller started",
		"initial_delay", p.initialDelay, "interval", p.interval)

	select {
	case <-ctx.Done():
		return
	case <-time.After(p.initialDelay):
	}

	p.runOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	prev := p.holder.Snapshot()

	comp, err := p.composer.Compose(ctx, p.registry.Federated())
	if err != nil {
		p.metrics.CompositionRuns.WithLabelValues("failure").Inc()
		p.logger.Error("failed to compose supergraph; will retry",
			"error", err, "serving_version", prev.Version)
		// Keep serving the previous schema, record the failure.
		p.holder.Publish(&State{
			Composition: prev.Composition,
			Version:     prev.Version,
			ComposedAt:  prev.ComposedAt,
			LastError:   err.Error(),
		})
		return
	}

	next := &State{
		Composition: comp,
		Version:     prev.Version + 1,
		ComposedAt:  time.Now(),
	}
	p.holder.Publish(next)
	p.metrics.CompositionRuns.WithLabelValues("success").Inc()
	p.metrics.CompositionVersion.Set(float64(next.Version))

	if prev.Composition == nil {
		p.logger.Info("initial supergraph composed",
			"version", next.Version,
			"subgraphs", len(comp.Subgraphs),
			"query_fields", len(comp.QueryRoutes),
			"mutation_fields", len(comp.MutationRoutes))
	} else {
		p.logger.Info("supergraph updated", "version", next.Version)
	}
}
