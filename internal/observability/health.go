package observability

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler reports process liveness. It returns 200 unconditionally
// once the process is serving; it does not reflect subgraph health.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
