package gateway

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/couchcryptid/erp-gateway/internal/subgraph"
	"github.com/tidwall/gjson"
)

// loginShape recognises a login(...) call anywhere in the raw query
// text. Deliberately a regex over the body rather than a parsed check:
// login must work before the first composition completes, and the match
// must stay permissive about whitespace and casing.
var loginShape = regexp.MustCompile(`(?i)login\s*\(`)

// LoginFastPath short-circuits login-shaped mutations straight to the
// user service, bypassing composition, authorization and metrics. This
// keeps authentication working during the composition warm-up window,
// when no schema exists yet to serve it.
type LoginFastPath struct {
	userService subgraph.Descriptor
	enabled     bool
	client      *http.Client
	logger      *slog.Logger
}

// NewLoginFastPath returns a fast-path targeting the user service. If
// the user service is disabled the fast-path never matches.
func NewLoginFastPath(registry *subgraph.Registry, logger *slog.Logger) *LoginFastPath {
	d, ok := registry.Lookup("user-service")
	return &LoginFastPath{
		userService: d,
		enabled:     ok,
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

// Match reports whether the raw request body carries a login-shaped
// query. Non-string query members never match.
func (l *LoginFastPath) Match(body []byte) bool {
	if !l.enabled {
		return false
	}
	q := gjson.GetBytes(body, "query")
	return q.Type == gjson.String && loginShape.MatchString(q.Str)
}

// Forward relays the original JSON body verbatim to the user service
// and copies its status and body back unmodified. A transport failure
// becomes a structured 502.
func (l *LoginFastPath) Forward(w http.ResponseWriter, r *http.Request, body []byte) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, l.userService.URL, bytes.NewReader(body))
	if err != nil {
		l.fail(w, err)
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := l.client.Do(req)
	if err != nil {
		l.fail(w, err)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (l *LoginFastPath) fail(w http.ResponseWriter, err error) {
	l.logger.Error("login fast-path forward to user-service failed", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"errors":[{"message":"User service unavailable"}]}`))
}
