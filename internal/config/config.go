package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds gateway settings loaded from environment variables.
type Config struct {
	Port        string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	ShutdownTimeout time.Duration

	// Supergraph composition.
	PollInterval          time.Duration
	InitialComposeDelay   time.Duration
	ComposeRequestTimeout time.Duration

	// Startup health probing.
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration

	// Shop proxy.
	ShopProxyTimeout time.Duration

	// Subgraph endpoints. Blank means the service is disabled.
	UserServiceURL        string
	CompanyServiceURL     string
	MasterdataServiceURL  string
	AccountingServiceURL  string
	TranslationServiceURL string
	ShopServiceURL        string
	OrdersServiceURL      string
}

// Load reads configuration from environment variables and returns it,
// or an error if any duration value fails to parse.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        envOrDefault("PORT", "4000"),
		CORSOrigins: splitAndTrim(envOrDefault("CORS_ORIGIN", "*")),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),

		UserServiceURL:        os.Getenv("USER_SERVICE_URL"),
		CompanyServiceURL:     os.Getenv("COMPANY_SERVICE_URL"),
		MasterdataServiceURL:  os.Getenv("MASTERDATA_SERVICE_URL"),
		AccountingServiceURL:  os.Getenv("ACCOUNTING_SERVICE_URL"),
		TranslationServiceURL: os.Getenv("TRANSLATION_SERVICE_URL"),
		ShopServiceURL:        os.Getenv("SHOP_SERVICE_URL"),
		OrdersServiceURL:      os.Getenv("ORDERS_SERVICE_URL"),
	}

	for _, d := range []struct {
		dst *time.Duration
		env string
		def time.Duration
	}{
		{&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", 10 * time.Second},
		{&cfg.PollInterval, "POLL_INTERVAL", 15 * time.Second},
		{&cfg.InitialComposeDelay, "INITIAL_COMPOSE_DELAY", 60 * time.Second},
		{&cfg.ComposeRequestTimeout, "COMPOSE_REQUEST_TIMEOUT", 30 * time.Second},
		{&cfg.ProbeTimeout, "PROBE_TIMEOUT", 120 * time.Second},
		{&cfg.ProbeInterval, "PROBE_INTERVAL", 2 * time.Second},
		{&cfg.ShopProxyTimeout, "SHOP_PROXY_TIMEOUT", 10 * time.Second},
	} {
		v, err := durationOrDefault(d.env, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOrDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
