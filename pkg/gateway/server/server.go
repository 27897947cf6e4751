// Package server wires configuration, pipeline providers, and handlers
// into the voice gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/voiceline-ai/voiceline/pkg/gateway/config"
	"github.com/voiceline-ai/voiceline/pkg/gateway/handlers"
	"github.com/voiceline-ai/voiceline/pkg/gateway/lifecycle"
	"github.com/voiceline-ai/voiceline/pkg/gateway/mw"
	"github.com/voiceline-ai/voiceline/pkg/gateway/sessions"
	"github.com/voiceline-ai/voiceline/pkg/store"
	"github.com/voiceline-ai/voiceline/pkg/voice/llm"
	"github.com/voiceline-ai/voiceline/pkg/voice/stt"
	"github.com/voiceline-ai/voiceline/pkg/voice/tts"
)

// Providers bundles the pipeline backends a session needs.
type Providers struct {
	STT    stt.Provider
	TTS    tts.Provider
	Engine llm.Engine
}

// BuildProviders constructs the production backends from configuration.
func BuildProviders(ctx context.Context, cfg config.Config) (Providers, error) {
	p := Providers{
		STT: stt.NewDeepgram(cfg.DeepgramAPIKey),
		TTS: tts.NewElevenLabs(cfg.ElevenLabsAPIKey),
	}

	switch cfg.Engine {
	case config.EngineGemini:
		engine, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.EngineModel,
		})
		if err != nil {
			return Providers{}, fmt.Errorf("build gemini engine: %w", err)
		}
		p.Engine = engine
	default:
		p.Engine = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.EngineModel,
		})
	}

	return p, nil
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry  *sessions.Registry
	lifecycle *lifecycle.Lifecycle
	store     store.Store
	providers Providers
}

func New(cfg config.Config, logger *slog.Logger, st store.Store, providers Providers) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.Noop{}
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		registry:  sessions.NewRegistry(cfg.MaxSessions),
		lifecycle: &lifecycle.Lifecycle{},
		store:     st,
		providers: providers,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Registry:  s.registry,
	})
	s.mux.Handle("/configz", handlers.ConfigzHandler{Config: s.cfg})
	s.mux.Handle("/calls", handlers.CallsHandler{Store: s.store, Logger: s.logger})

	s.mux.Handle("/webhook/twilio", handlers.TwiMLHandler{
		Config: s.cfg,
		Logger: s.logger,
	})
	s.mux.Handle(s.cfg.StreamPath, handlers.StreamHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Registry:  s.registry,
		Store:     s.store,
		Lifecycle: s.lifecycle,
		STT:       s.providers.STT,
		TTS:       s.providers.TTS,
		Engine:    s.providers.Engine,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Registry exposes the live session registry.
func (s *Server) Registry() *sessions.Registry {
	return s.registry
}

// SetDraining flips readiness so the load balancer routes new calls
// elsewhere. Live calls keep running.
func (s *Server) SetDraining() {
	s.lifecycle.StartDraining()
}

// CloseSessions closes every live call session.
func (s *Server) CloseSessions() int {
	return s.registry.CloseAll()
}

// WaitSessions blocks until live sessions have unwound or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.registry.Wait(ctx)
}
