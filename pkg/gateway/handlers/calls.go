package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/voiceline-ai/voiceline/pkg/store"
)

// CallsHandler lists recent call records for diagnostics.
type CallsHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	recs, err := h.Store.Recent(r.Context(), limit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("list call records failed", "error", err)
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []store.CallRecord{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Calls []store.CallRecord `json:"calls"`
	}{Calls: recs})
}
