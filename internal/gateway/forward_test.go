package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallerFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	r.Header.Set("Authorization", "Bearer abc")
	r.Header.Set("X-User-Id", "u-1")
	r.Header.Set("X-Company-Id", "c-9")
	r.Header.Set("Accept-Language", "de-DE;q=0.9, en;q=0.8")

	c := CallerFromRequest(r)
	assert.Equal(t, "Bearer abc", c.Authorization)
	assert.Equal(t, "u-1", c.UserID)
	assert.Equal(t, "c-9", c.CompanyID)
	assert.Equal(t, "de-DE", c.Language)
}

func TestApply_OmitsMissingHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	r.Header.Set("Authorization", "Bearer abc")

	h := http.Header{}
	CallerFromRequest(r).Apply(h)

	assert.Equal(t, "Bearer abc", h.Get("Authorization"))
	// Missing values mean no header at all, not an empty one.
	_, hasUser := h["X-User-Id"]
	_, hasCompany := h["X-Company-Id"]
	assert.False(t, hasUser)
	assert.False(t, hasCompany)
}

func TestApply_LanguageDefaultsToEn(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/graphql", nil)

	h := http.Header{}
	CallerFromRequest(r).Apply(h)

	assert.Equal(t, "en", h.Get("Accept-Language"))
}

func TestFirstLanguageTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"en", "en"},
		{"fr-CH, fr;q=0.9, en;q=0.8", "fr-CH"},
		{"de;q=0.7", "de"},
		{"  sv-SE ,en", "sv-SE"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, firstLanguageTag(tt.in), "input %q", tt.in)
	}
}
