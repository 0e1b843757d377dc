package subgraph

import (
	"strings"

	"github.com/couchcryptid/erp-gateway/internal/config"
)

// Descriptor identifies one backend GraphQL service by name and endpoint.
// Immutable once loaded.
type Descriptor struct {
	Name string
	URL  string
}

// ShopServiceName is the subgraph served through the dedicated proxy
// route instead of the federated graph. Its schema historically
// conflicts with the supergraph's type names.
const ShopServiceName = "shop-service"

// Registry holds the active subgraph set computed once at startup.
type Registry struct {
	active []Descriptor
}

// NewRegistry builds the active subgraph list from configuration.
// Entries whose URL is blank after trimming are dropped; an absent
// subgraph is a normal operating mode, not an error. Input order is
// preserved.
func NewRegistry(cfg *config.Config) *Registry {
	candidates := []Descriptor{
		{Name: "user-service", URL: cfg.UserServiceURL},
		{Name: "company-service", URL: cfg.CompanyServiceURL},
		{Name: "masterdata-service", URL: cfg.MasterdataServiceURL},
		{Name: "accounting-service", URL: cfg.AccountingServiceURL},
		{Name: "translation-service", URL: cfg.TranslationServiceURL},
		{Name: ShopServiceName, URL: cfg.ShopServiceURL},
		{Name: "orders-service", URL: cfg.OrdersServiceURL},
	}

	var active []Descriptor
	for _, c := range candidates {
		if url := strings.TrimSpace(c.URL); url != "" {
			active = append(active, Descriptor{Name: c.Name, URL: url})
		}
	}
	return &Registry{active: active}
}

// Active returns every enabled subgraph, in registration order.
func (r *Registry) Active() []Descriptor {
	return r.active
}

// Federated returns the enabled subgraphs that participate in schema
// composition. The shop service is excluded; it is reachable only
// through its dedicated proxy route.
func (r *Registry) Federated() []Descriptor {
	var out []Descriptor
	for _, d := range r.active {
		if d.Name != ShopServiceName {
			out = append(out, d)
		}
	}
	return out
}

// Lookup returns the descriptor for the named subgraph, if enabled.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	for _, d := range r.active {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
