package diagnostics

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewHandler returns the HTTP surface for session diagnostics:
//
//	GET /diagnostics/sessions — the collector's current Summary as JSON
//
// The handler is an internal monitoring surface and performs no
// authentication; deployments should bind it to a private address.
func NewHandler(collector *Collector) http.Handler {
	r := chi.NewRouter()

	r.Get("/diagnostics/sessions", func(w http.ResponseWriter, req *http.Request) {
		summary, err := collector.Summary(req.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
