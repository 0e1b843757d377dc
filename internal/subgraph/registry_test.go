package subgraph

import (
	"testing"

	"github.com/couchcryptid/erp-gateway/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewRegistry_FiltersBlankEndpoints(t *testing.T) {
	cfg := &config.Config{
		UserServiceURL:       "http://user-service:5000/graphql",
		CompanyServiceURL:    "   ", // whitespace only counts as disabled
		AccountingServiceURL: "http://accounting-service:5001/graphql",
	}

	active := NewRegistry(cfg).Active()

	assert.Equal(t, []Descriptor{
		{Name: "user-service", URL: "http://user-service:5000/graphql"},
		{Name: "accounting-service", URL: "http://accounting-service:5001/graphql"},
	}, active)
}

func TestNewRegistry_EmptyConfig(t *testing.T) {
	active := NewRegistry(&config.Config{}).Active()
	assert.Empty(t, active)
}

func TestNewRegistry_PreservesInputOrder(t *testing.T) {
	cfg := &config.Config{
		UserServiceURL:        "http://u/graphql",
		CompanyServiceURL:     "http://c/graphql",
		MasterdataServiceURL:  "http://m/graphql",
		AccountingServiceURL:  "http://a/graphql",
		TranslationServiceURL: "http://t/graphql",
		ShopServiceURL:        "http://s/graphql",
		OrdersServiceURL:      "http://o/graphql",
	}

	var names []string
	for _, d := range NewRegistry(cfg).Active() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"user-service", "company-service", "masterdata-service",
		"accounting-service", "translation-service", "shop-service",
		"orders-service",
	}, names)
}

func TestFederated_ExcludesShopService(t *testing.T) {
	cfg := &config.Config{
		UserServiceURL:   "http://u/graphql",
		ShopServiceURL:   "http://s/graphql",
		OrdersServiceURL: "http://o/graphql",
	}
	r := NewRegistry(cfg)

	var names []string
	for _, d := range r.Federated() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"user-service", "orders-service"}, names)

	// Shop stays in the active set; it is just not federated.
	shop, ok := r.Lookup(ShopServiceName)
	assert.True(t, ok)
	assert.Equal(t, "http://s/graphql", shop.URL)
}

func TestLookup_Missing(t *testing.T) {
	_, ok := NewRegistry(&config.Config{}).Lookup("user-service")
	assert.False(t, ok)
}
