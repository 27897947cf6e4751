package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeDeepgram upgrades connections and echoes canned results.
type fakeDeepgram struct {
	mu       sync.Mutex
	query    map[string]string
	auth     string
	audio    [][]byte
	finalize bool
}

func (f *fakeDeepgram) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.query = map[string]string{}
		for k, v := range r.URL.Query() {
			f.query[k] = v[0]
		}
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch kind {
			case websocket.BinaryMessage:
				f.mu.Lock()
				f.audio = append(f.audio, data)
				f.mu.Unlock()
				// Interim result for each audio message
				conn.WriteJSON(map[string]any{
					"type":     "Results",
					"is_final": false,
					"channel": map[string]any{
						"alternatives": []map[string]any{
							{"transcript": "hel", "confidence": 0.4},
						},
					},
				})
			case websocket.TextMessage:
				var ctl struct {
					Type string `json:"type"`
				}
				if json.Unmarshal(data, &ctl) == nil && ctl.Type == "Finalize" {
					f.mu.Lock()
					f.finalize = true
					f.mu.Unlock()
					conn.WriteJSON(map[string]any{
						"type":     "Results",
						"is_final": true,
						"channel": map[string]any{
							"alternatives": []map[string]any{
								{"transcript": "hello", "confidence": 0.97},
							},
						},
					})
				}
				if ctl.Type == "CloseStream" {
					return
				}
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramStream(t *testing.T) {
	fake := &fakeDeepgram{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewDeepgramWithURL("dg-key", wsURL(srv))
	if p.Name() != "deepgram" {
		t.Fatalf("name = %q, want deepgram", p.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := p.NewStream(ctx, StreamOptions{
		Language:   "de",
		SampleRate: 8000,
		Interim:    true,
	})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	if err := stream.SendAudio([]byte{0xFF, 0xFF}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case r := <-stream.Results():
		if r.IsFinal || r.Text != "hel" {
			t.Errorf("unexpected interim result: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for interim result")
	}

	if err := stream.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	select {
	case r := <-stream.Results():
		if !r.IsFinal || r.Text != "hello" {
			t.Errorf("unexpected final result: %+v", r)
		}
		if r.Confidence < 0.9 {
			t.Errorf("expected confidence to carry through, got %v", r.Confidence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final result")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.auth != "Token dg-key" {
		t.Errorf("auth header = %q", fake.auth)
	}
	if fake.query["encoding"] != "mulaw" || fake.query["sample_rate"] != "8000" {
		t.Errorf("unexpected audio params: %v", fake.query)
	}
	if fake.query["language"] != "de" || fake.query["model"] != "nova-2-general" {
		t.Errorf("unexpected model params: %v", fake.query)
	}
	if fake.query["interim_results"] != "true" {
		t.Errorf("expected interim_results=true: %v", fake.query)
	}
	if len(fake.audio) != 1 {
		t.Errorf("expected 1 audio message, got %d", len(fake.audio))
	}
	if !fake.finalize {
		t.Error("expected finalize control message")
	}
}

func TestDeepgramConnectExhaustsRetryBudget(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewDeepgramWithURL("dg-key", wsURL(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.NewStream(ctx, StreamOptions{MaxRetries: 2})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrTranscriptionUnavailable) {
		t.Errorf("expected ErrTranscriptionUnavailable, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected 3 connect attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestDeepgramStreamClosedRejectsWrites(t *testing.T) {
	fake := &fakeDeepgram{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewDeepgramWithURL("dg-key", wsURL(srv))
	stream, err := p.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := stream.SendAudio([]byte{1}); err == nil {
		t.Error("expected SendAudio to fail after close")
	}
	if err := stream.Finalize(); err == nil {
		t.Error("expected Finalize to fail after close")
	}

	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Error("expected Done to close after stream shutdown")
	}
}
