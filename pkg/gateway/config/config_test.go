package config

import (
	"strings"
	"testing"
	"time"
)

// setRequiredEnv sets the minimum environment for LoadFromEnv to
// succeed, clearing ambient fallbacks first.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "GEMINI_API_KEY", "DEEPGRAM_API_KEY", "ELEVENLABS_API_KEY",
		"VOICELINE_ENGINE", "VOICELINE_GEMINI_API_KEY", "VOICELINE_DATABASE_URL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("VOICELINE_PUBLIC_DOMAIN", "agent.example.com")
	t.Setenv("VOICELINE_OPENAI_API_KEY", "sk-test")
	t.Setenv("VOICELINE_DEEPGRAM_API_KEY", "dg-test")
	t.Setenv("VOICELINE_ELEVENLABS_API_KEY", "el-test")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.StreamPath != "/ws/twilio" {
		t.Errorf("StreamPath = %q", cfg.StreamPath)
	}
	if cfg.Engine != EngineOpenAI {
		t.Errorf("Engine = %q", cfg.Engine)
	}
	if cfg.Language != "en" {
		t.Errorf("Language = %q", cfg.Language)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.EngineTimeout != 30*time.Second {
		t.Errorf("EngineTimeout = %v", cfg.EngineTimeout)
	}
	if cfg.VADThreshold != 0.02 {
		t.Errorf("VADThreshold = %v", cfg.VADThreshold)
	}
	if cfg.VADStartLatency != 100*time.Millisecond || cfg.VADEndLatency != 300*time.Millisecond {
		t.Errorf("VAD latencies = %v / %v", cfg.VADStartLatency, cfg.VADEndLatency)
	}
	if cfg.FallbackUtterance == "" {
		t.Error("FallbackUtterance default empty")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VOICELINE_ADDR", ":9090")
	t.Setenv("VOICELINE_LANGUAGE", "de")
	t.Setenv("VOICELINE_GREETING", "Guten Tag!")
	t.Setenv("VOICELINE_MAX_RETRIES", "5")
	t.Setenv("VOICELINE_VAD_THRESHOLD", "0.05")
	t.Setenv("VOICELINE_VAD_END_LATENCY", "500ms")
	t.Setenv("VOICELINE_ENGINE", "gemini")
	t.Setenv("VOICELINE_GEMINI_API_KEY", "gx-test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9090" || cfg.Language != "de" || cfg.Greeting != "Guten Tag!" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.MaxRetries != 5 || cfg.VADThreshold != 0.05 || cfg.VADEndLatency != 500*time.Millisecond {
		t.Errorf("tuning overrides not applied: %+v", cfg)
	}
	if cfg.Engine != EngineGemini {
		t.Errorf("Engine = %q", cfg.Engine)
	}
}

func TestLoadFromEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"missing domain", "VOICELINE_PUBLIC_DOMAIN", ""},
		{"domain with scheme", "VOICELINE_PUBLIC_DOMAIN", "wss://agent.example.com"},
		{"bad stream path", "VOICELINE_STREAM_PATH", "ws/twilio"},
		{"unknown engine", "VOICELINE_ENGINE", "llama"},
		{"missing deepgram key", "VOICELINE_DEEPGRAM_API_KEY", ""},
		{"missing elevenlabs key", "VOICELINE_ELEVENLABS_API_KEY", ""},
		{"negative retries", "VOICELINE_MAX_RETRIES", "-1"},
		{"zero engine timeout", "VOICELINE_ENGINE_TIMEOUT", "0s"},
		{"threshold too high", "VOICELINE_VAD_THRESHOLD", "1.5"},
		{"zero sessions", "VOICELINE_MAX_SESSIONS", "0"},
		{"zero chunk words", "VOICELINE_CHUNK_MIN_WORDS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv accepted %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"retries not a number", "VOICELINE_MAX_RETRIES", "tw0"},
		{"sessions not a number", "VOICELINE_MAX_SESSIONS", "many"},
		{"chunk words not a number", "VOICELINE_CHUNK_MIN_WORDS", "five"},
		{"threshold not a number", "VOICELINE_VAD_THRESHOLD", "0,02"},
		{"timeout missing unit", "VOICELINE_ENGINE_TIMEOUT", "30"},
		{"latency garbage", "VOICELINE_VAD_END_LATENCY", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("LoadFromEnv accepted %s=%q", tt.key, tt.val)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestSessionConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VOICELINE_SYSTEM_PROMPT", "be terse")
	t.Setenv("VOICELINE_VAD_THRESHOLD", "0.03")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}

	sc := cfg.SessionConfig("CA1", "MZ1", "AC1")
	if sc.CallSID != "CA1" || sc.StreamSID != "MZ1" || sc.AccountSID != "AC1" {
		t.Errorf("ids = %q/%q/%q", sc.CallSID, sc.StreamSID, sc.AccountSID)
	}
	if sc.SystemPrompt != "be terse" {
		t.Errorf("SystemPrompt = %q", sc.SystemPrompt)
	}
	if sc.Detector.Threshold != 0.03 {
		t.Errorf("Detector.Threshold = %v", sc.Detector.Threshold)
	}
	if sc.Audio.SampleRate != 8000 {
		t.Errorf("Audio.SampleRate = %d", sc.Audio.SampleRate)
	}
	if sc.ChunkMinWords != 5 {
		t.Errorf("ChunkMinWords = %d", sc.ChunkMinWords)
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VOICELINE_OPENAI_API_KEY", "sk-verysecretkey")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}

	red := cfg.Redacted()
	got, _ := red["openai_api_key"].(string)
	if strings.Contains(got, "verysecret") {
		t.Errorf("secret leaked: %q", got)
	}
	if got != "sk-***" {
		t.Errorf("mask = %q, want sk-***", got)
	}
}
