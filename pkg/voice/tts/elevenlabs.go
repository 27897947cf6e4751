package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const elevenLabsDefaultWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// ElevenLabsProvider implements Provider using ElevenLabs' stream-input
// WebSocket API.
type ElevenLabsProvider struct {
	apiKey    string
	wsBaseURL string
}

// NewElevenLabs creates an ElevenLabs streaming TTS provider.
func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:    strings.TrimSpace(apiKey),
		wsBaseURL: elevenLabsDefaultWSBase,
	}
}

// WithWSBaseURL overrides the WebSocket endpoint. Used by tests.
func (e *ElevenLabsProvider) WithWSBaseURL(base string) *ElevenLabsProvider {
	base = strings.TrimSpace(base)
	if base != "" {
		e.wsBaseURL = base
	}
	return e
}

// Name returns the provider identifier.
func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// NewStreamingContext opens a stream-input synthesis session producing
// carrier-ready audio (ulaw_8000 unless overridden).
func (e *ElevenLabsProvider) NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error) {
	if strings.TrimSpace(e.apiKey) == "" {
		return nil, fmt.Errorf("%w: elevenlabs api key is required", ErrSynthesisFailed)
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		return nil, fmt.Errorf("%w: voice id is required", ErrSynthesisFailed)
	}
	wsURL, err := buildElevenLabsWSURL(e.wsBaseURL, voiceID, opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrSynthesisFailed, err)
	}

	sc := NewStreamingContext()
	ctxDone := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() error {
		var closeErr error
		closeOnce.Do(func() {
			close(ctxDone)
			closeErr = conn.Close()
		})
		return closeErr
	}

	// Initial space primes the session per the stream-input protocol.
	if err := conn.WriteJSON(map[string]any{
		"text":     " ",
		"voice_id": voiceID,
	}); err != nil {
		_ = closeConn()
		return nil, fmt.Errorf("%w: handshake: %v", ErrSynthesisFailed, err)
	}

	sc.SendFunc = func(text string, isFinal bool) error {
		payload := map[string]any{
			"text": strings.TrimSpace(text),
		}
		if payload["text"] != "" && !strings.HasSuffix(payload["text"].(string), " ") {
			payload["text"] = payload["text"].(string) + " "
		}
		if isFinal {
			payload["flush"] = true
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(payload)
	}
	sc.CloseFunc = closeConn

	go func() {
		defer sc.FinishAudio()
		defer sc.Close()
		for {
			select {
			case <-ctx.Done():
				sc.SetError(ctx.Err())
				return
			case <-ctxDone:
				return
			default:
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-ctxDone:
					// Deliberate close, not a failure.
				default:
					sc.SetError(fmt.Errorf("%w: %v", ErrSynthesisFailed, err))
				}
				return
			}
			var msg map[string]json.RawMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if audioB64 := decodeStringRaw(msg["audio"]); audioB64 != "" {
				audio, err := base64.StdEncoding.DecodeString(audioB64)
				if err == nil && len(audio) > 0 {
					if !sc.PushAudio(audio) {
						return
					}
				}
			}
			if decodeBoolRaw(msg["isFinal"]) || decodeBoolRaw(msg["is_final"]) {
				return
			}
		}
	}()

	return sc, nil
}

func buildElevenLabsWSURL(base, voiceID string, opts StreamingContextOptions) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = elevenLabsDefaultWSBase
	}
	base = strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ws url: %v", ErrSynthesisFailed, err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	}

	q := u.Query()
	model := opts.Model
	if model == "" {
		model = "eleven_turbo_v2"
	}
	q.Set("model_id", model)

	format := opts.OutputFormat
	if format == "" {
		format = "ulaw_8000"
	}
	q.Set("output_format", format)

	if opts.Language != "" {
		q.Set("language_code", opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeStringRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func decodeBoolRaw(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var out bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return false
	}
	return out
}
