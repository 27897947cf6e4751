// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voiceline-ai/voiceline/pkg/session"
)

// Engine selects the response generation backend.
type Engine string

const (
	EngineOpenAI Engine = "openai"
	EngineGemini Engine = "gemini"
)

type Config struct {
	Addr string

	// PublicDomain is the externally reachable host for the media
	// stream URL handed to the carrier, without scheme.
	PublicDomain string
	StreamPath   string

	// ConnectNotice, when set, is spoken by the carrier voice before
	// the media stream opens.
	ConnectNotice string

	// Conversation profile.
	SystemPrompt      string
	Greeting          string
	FallbackUtterance string
	Language          string
	Voice             string

	// Backends.
	Engine           Engine
	EngineModel      string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	GeminiAPIKey     string
	DeepgramAPIKey   string
	STTModel         string
	ElevenLabsAPIKey string

	// Pipeline tuning.
	MaxRetries      int
	EngineTimeout   time.Duration
	ChunkMinWords   int
	VADThreshold    float64
	VADStartLatency time.Duration
	VADEndLatency   time.Duration

	// Optional call-record database. Empty disables persistence.
	DatabaseURL string

	MaxSessions int

	// Operational defaults.
	WSWriteTimeout      time.Duration
	WSPingInterval      time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	var env envReader
	cfg := Config{
		Addr:                envOr("VOICELINE_ADDR", ":8080"),
		PublicDomain:        envOr("VOICELINE_PUBLIC_DOMAIN", ""),
		StreamPath:          envOr("VOICELINE_STREAM_PATH", "/ws/twilio"),
		ConnectNotice:       envOr("VOICELINE_CONNECT_NOTICE", ""),
		SystemPrompt:        envOr("VOICELINE_SYSTEM_PROMPT", "You are a concise, friendly phone assistant. Keep answers short enough to speak."),
		Greeting:            envOr("VOICELINE_GREETING", ""),
		FallbackUtterance:   envOr("VOICELINE_FALLBACK_UTTERANCE", "I'm sorry, something went wrong on my end. Please call again later."),
		Language:            envOr("VOICELINE_LANGUAGE", "en"),
		Voice:               envOr("VOICELINE_VOICE", ""),
		Engine:              Engine(envOr("VOICELINE_ENGINE", string(EngineOpenAI))),
		EngineModel:         envOr("VOICELINE_ENGINE_MODEL", ""),
		OpenAIAPIKey:        envOr("VOICELINE_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:       envOr("VOICELINE_OPENAI_BASE_URL", ""),
		GeminiAPIKey:        envOr("VOICELINE_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
		DeepgramAPIKey:      envOr("VOICELINE_DEEPGRAM_API_KEY", os.Getenv("DEEPGRAM_API_KEY")),
		STTModel:            envOr("VOICELINE_STT_MODEL", ""),
		ElevenLabsAPIKey:    envOr("VOICELINE_ELEVENLABS_API_KEY", os.Getenv("ELEVENLABS_API_KEY")),
		MaxRetries:          env.intOr("VOICELINE_MAX_RETRIES", 2),
		EngineTimeout:       env.durationOr("VOICELINE_ENGINE_TIMEOUT", 30*time.Second),
		ChunkMinWords:       env.intOr("VOICELINE_CHUNK_MIN_WORDS", 5),
		VADThreshold:        env.floatOr("VOICELINE_VAD_THRESHOLD", 0.02),
		VADStartLatency:     env.durationOr("VOICELINE_VAD_START_LATENCY", 100*time.Millisecond),
		VADEndLatency:       env.durationOr("VOICELINE_VAD_END_LATENCY", 300*time.Millisecond),
		DatabaseURL:         envOr("VOICELINE_DATABASE_URL", ""),
		MaxSessions:         env.intOr("VOICELINE_MAX_SESSIONS", 50),
		WSWriteTimeout:      env.durationOr("VOICELINE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:      env.durationOr("VOICELINE_WS_PING_INTERVAL", 20*time.Second),
		ReadHeaderTimeout:   env.durationOr("VOICELINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: env.durationOr("VOICELINE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}
	if err := env.err(); err != nil {
		return Config{}, err
	}

	if cfg.PublicDomain == "" {
		return Config{}, fmt.Errorf("VOICELINE_PUBLIC_DOMAIN must be set")
	}
	if strings.Contains(cfg.PublicDomain, "://") {
		return Config{}, fmt.Errorf("VOICELINE_PUBLIC_DOMAIN must be a bare host, not a URL")
	}
	if !strings.HasPrefix(cfg.StreamPath, "/") {
		return Config{}, fmt.Errorf("VOICELINE_STREAM_PATH must start with /")
	}

	switch cfg.Engine {
	case EngineOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("VOICELINE_OPENAI_API_KEY must be set when VOICELINE_ENGINE=openai")
		}
	case EngineGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("VOICELINE_GEMINI_API_KEY must be set when VOICELINE_ENGINE=gemini")
		}
	default:
		return Config{}, fmt.Errorf("VOICELINE_ENGINE must be one of openai|gemini")
	}

	if cfg.DeepgramAPIKey == "" {
		return Config{}, fmt.Errorf("VOICELINE_DEEPGRAM_API_KEY must be set")
	}
	if cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("VOICELINE_ELEVENLABS_API_KEY must be set")
	}

	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("VOICELINE_MAX_RETRIES must be >= 0")
	}
	if cfg.EngineTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_ENGINE_TIMEOUT must be > 0")
	}
	if cfg.ChunkMinWords <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_CHUNK_MIN_WORDS must be > 0")
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold >= 1 {
		return Config{}, fmt.Errorf("VOICELINE_VAD_THRESHOLD must be in (0, 1)")
	}
	if cfg.VADStartLatency <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_VAD_START_LATENCY must be > 0")
	}
	if cfg.VADEndLatency <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_VAD_END_LATENCY must be > 0")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_MAX_SESSIONS must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICELINE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// SessionConfig builds a per-call session configuration.
func (c Config) SessionConfig(callSID, streamSID, accountSID string) session.Config {
	sc := session.DefaultConfig()
	sc.CallSID = callSID
	sc.StreamSID = streamSID
	sc.AccountSID = accountSID
	sc.SystemPrompt = c.SystemPrompt
	sc.Greeting = c.Greeting
	sc.FallbackUtterance = c.FallbackUtterance
	sc.Language = c.Language
	sc.Voice = c.Voice
	sc.STTModel = c.STTModel
	sc.MaxRetries = c.MaxRetries
	sc.EngineTimeout = c.EngineTimeout
	sc.ChunkMinWords = c.ChunkMinWords
	sc.Detector.Threshold = c.VADThreshold
	sc.Detector.StartLatency = c.VADStartLatency
	sc.Detector.EndLatency = c.VADEndLatency
	return sc
}

// Redacted returns the configuration for diagnostics with secrets
// masked.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"addr":                  c.Addr,
		"public_domain":         c.PublicDomain,
		"stream_path":           c.StreamPath,
		"language":              c.Language,
		"voice":                 c.Voice,
		"engine":                string(c.Engine),
		"engine_model":          c.EngineModel,
		"stt_model":             c.STTModel,
		"max_retries":           c.MaxRetries,
		"engine_timeout":        c.EngineTimeout.String(),
		"chunk_min_words":       c.ChunkMinWords,
		"vad_threshold":         c.VADThreshold,
		"vad_start_latency":     c.VADStartLatency.String(),
		"vad_end_latency":       c.VADEndLatency.String(),
		"max_sessions":          c.MaxSessions,
		"database_configured":   c.DatabaseURL != "",
		"openai_api_key":        mask(c.OpenAIAPIKey),
		"gemini_api_key":        mask(c.GeminiAPIKey),
		"deepgram_api_key":      mask(c.DeepgramAPIKey),
		"elevenlabs_api_key":    mask(c.ElevenLabsAPIKey),
		"shutdown_grace_period": c.ShutdownGracePeriod.String(),
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 6 {
		return "***"
	}
	return secret[:3] + "***"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// envReader parses typed environment variables and records every value
// it could not parse. A malformed value is a deployment mistake and
// must stop startup rather than silently fall back to a default.
type envReader struct {
	bad []string
}

func (e *envReader) intOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.bad = append(e.bad, fmt.Sprintf("%s: %q is not an integer", key, raw))
		return def
	}
	return n
}

func (e *envReader) floatOr(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.bad = append(e.bad, fmt.Sprintf("%s: %q is not a number", key, raw))
		return def
	}
	return n
}

func (e *envReader) durationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.bad = append(e.bad, fmt.Sprintf("%s: %q is not a duration", key, raw))
		return def
	}
	return d
}

func (e *envReader) err() error {
	if len(e.bad) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment: %s", strings.Join(e.bad, "; "))
}
