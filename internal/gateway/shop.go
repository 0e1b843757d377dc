package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/couchcryptid/erp-gateway/internal/subgraph"
	"github.com/google/uuid"
)

// Shop proxy error codes. Clients branch on these, not on message text.
const (
	codeShopTimeout          = "SHOP_TIMEOUT"
	codeShopUnavailable      = "SHOP_UNAVAILABLE"
	codeShopConnectionFailed = "SHOP_CONNECTION_FAILED"
	codeShopError            = "SHOP_ERROR"
)

// ShopProxy forwards /shop/graphql to the shop service outside the
// federated graph. The shop schema conflicts with the supergraph's type
// names, so it is kept on its own route with a hard timeout and a fixed
// failure taxonomy.
type ShopProxy struct {
	target  subgraph.Descriptor
	enabled bool
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewShopProxy returns the proxy route handler. A disabled shop service
// answers every request with SHOP_UNAVAILABLE.
func NewShopProxy(registry *subgraph.Registry, timeout time.Duration, logger *slog.Logger) *ShopProxy {
	d, ok := registry.Lookup(subgraph.ShopServiceName)
	return &ShopProxy{
		target:  d,
		enabled: ok,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

func (p *ShopProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()
	w.Header().Set("X-Correlation-Id", correlationID)
	start := time.Now()

	if !p.enabled {
		p.logger.Warn("shop proxy request with shop service disabled",
			"correlation_id", correlationID)
		writeGraphQLError(w, http.StatusServiceUnavailable, codeShopUnavailable, "shop service is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeGraphQLError(w, http.StatusBadRequest, "BAD_REQUEST", "unreadable request body")
		return
	}

	// The outbound call gets a hard deadline and inherits the caller's
	// context, so both expiry and client disconnect actively abort the
	// in-flight request instead of leaking it.
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.target.URL, bytes.NewReader(body))
	if err != nil {
		p.fail(w, correlationID, start, http.StatusInternalServerError, codeShopError,
			fmt.Sprintf("shop proxy error: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	CallerFromRequest(r).Apply(req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		status, code, message := p.classify(r.Context(), err)
		p.fail(w, correlationID, start, status, code, message)
		return
	}
	defer resp.Body.Close()

	// Pass the upstream response through untouched, GraphQL-level
	// errors included. The proxy interprets transport semantics only.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	n, _ := io.Copy(w, resp.Body)

	p.logger.Info("shop proxy request completed",
		"correlation_id", correlationID,
		"upstream_status", resp.StatusCode,
		"bytes", n,
		"duration", time.Since(start))
}

// classify maps a transport failure onto the proxy's outcome taxonomy.
// The inbound context distinguishes our deadline expiring from the
// caller abandoning the request.
func (p *ShopProxy) classify(inbound context.Context, err error) (status int, code, message string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) && inbound.Err() == nil:
		return http.StatusGatewayTimeout, codeShopTimeout,
			fmt.Sprintf("shop service did not respond within %s", p.timeout)
	case errors.Is(err, context.Canceled) || inbound.Err() != nil:
		return http.StatusServiceUnavailable, codeShopUnavailable,
			"shop request was cancelled"
	case isConnectionError(err):
		return http.StatusServiceUnavailable, codeShopConnectionFailed,
			"could not connect to shop service"
	default:
		return http.StatusInternalServerError, codeShopError,
			fmt.Sprintf("shop proxy error: %v", err)
	}
}

func isConnectionError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (p *ShopProxy) fail(w http.ResponseWriter, correlationID string, start time.Time, status int, code, message string) {
	p.logger.Warn("shop proxy request failed",
		"correlation_id", correlationID,
		"classification", code,
		"status", status,
		"duration", time.Since(start))
	writeGraphQLError(w, status, code, message)
}
