package gateway

import (
	"net/http"
	"strings"
)

// CallerContext is the caller identity forwarded to subgraphs on every
// outbound call. Each piece is independently optional.
type CallerContext struct {
	Authorization string
	UserID        string
	CompanyID     string
	Language      string
}

// defaultLanguage is used when the caller sent no Accept-Language.
const defaultLanguage = "en"

// CallerFromRequest extracts the forwardable caller context from an
// inbound request. Language is the first tag of Accept-Language with
// any quality weight stripped.
func CallerFromRequest(r *http.Request) CallerContext {
	return CallerContext{
		Authorization: r.Header.Get("Authorization"),
		UserID:        r.Header.Get("X-User-Id"),
		CompanyID:     r.Header.Get("X-Company-Id"),
		Language:      firstLanguageTag(r.Header.Get("Accept-Language")),
	}
}

// Apply sets the forwarded headers on an outbound request. Missing
// values mean the header is omitted entirely, never sent empty.
// Accept-Language is the exception: it is always sent, defaulting to
// "en", matching what the backend services expect.
func (c CallerContext) Apply(h http.Header) {
	if c.Authorization != "" {
		h.Set("Authorization", c.Authorization)
	}
	if c.UserID != "" {
		h.Set("X-User-Id", c.UserID)
	}
	if c.CompanyID != "" {
		h.Set("X-Company-Id", c.CompanyID)
	}
	lang := c.Language
	if lang == "" {
		lang = defaultLanguage
	}
	h.Set("Accept-Language", lang)
}

func firstLanguageTag(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.TrimSpace(first)
}
