package names

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/quailyquaily/peerchat/internal/metrics"
	"github.com/quailyquaily/peerchat/peerchat"
)

// NewRouter serves a read-only name directory backed by names.
func NewRouter(names peerchat.NameService, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/names/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "name")))
		address, err := names.ResolveName(r.Context(), name)
		metrics.ObserveLookup(err)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, nameResponse{Name: name, Address: address})
		case errors.Is(err, peerchat.ErrNameNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "name not found", Symbol: peerchat.SymbolOf(err)})
		default:
			logger.Warn("name lookup failed", "name", name, "request_id", chimw.GetReqID(r.Context()), "err", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "lookup failed", Symbol: peerchat.SymbolOf(err)})
		}
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
