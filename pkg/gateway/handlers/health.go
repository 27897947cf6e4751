// Package handlers holds the gateway's HTTP and WebSocket handlers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voiceline-ai/voiceline/pkg/gateway/config"
	"github.com/voiceline-ai/voiceline/pkg/gateway/lifecycle"
	"github.com/voiceline-ai/voiceline/pkg/gateway/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway should receive new calls.
// It flips to 503 while draining so the load balancer stops routing.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Registry  *sessions.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool `json:"ok"`
		Draining bool `json:"draining"`
		Sessions int  `json:"sessions"`
		Capacity int  `json:"capacity"`
	}

	draining := h.Lifecycle.Draining()
	count := 0
	if h.Registry != nil {
		count = h.Registry.Count()
	}

	ok := !draining && count < h.Config.MaxSessions
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:       ok,
		Draining: draining,
		Sessions: count,
		Capacity: h.Config.MaxSessions,
	})
}

// ConfigzHandler exposes the redacted runtime configuration.
type ConfigzHandler struct {
	Config config.Config
}

func (h ConfigzHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.Config.Redacted())
}
