package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// sseHandler streams canned chat completion chunks.
func sseHandler(t *testing.T, deltas []string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, `{"error":{"message":"overloaded"}}`, status)
			return
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["stream"] != true {
			t.Errorf("expected streaming request, got %v", req["stream"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, d := range deltas {
			chunk := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"model":   "gpt-4o-mini",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": d}}},
			}
			raw, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func TestOpenAIGenerateStreams(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"Guten ", "Tag", "!"}, http.StatusOK))
	defer srv.Close()

	engine := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if engine.Name() != "openai" {
		t.Fatalf("name = %q", engine.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ts, err := engine.Generate(ctx, []Message{
		{Role: RoleSystem, Content: "Du bist Ellie."},
		{Role: RoleUser, Content: "hallo"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	out, err := Collect(ctx, ts)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if out != "Guten Tag!" {
		t.Errorf("collected %q", out)
	}
}

func TestOpenAIGenerateFailure(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil, http.StatusServiceUnavailable))
	defer srv.Close()

	engine := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts, err := engine.Generate(ctx, []Message{{Role: RoleUser, Content: "hallo"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	_, err = Collect(ctx, ts)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestTextStreamAbandon(t *testing.T) {
	ts := NewTextStream()

	go func() {
		defer ts.Finish()
		for i := 0; ; i++ {
			if !ts.Push(fmt.Sprintf("delta-%d ", i)) {
				return
			}
		}
	}()

	// Read a couple of deltas, then abandon mid-stream.
	<-ts.Deltas()
	<-ts.Deltas()
	ts.Close()

	select {
	case <-ts.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done after Close")
	}
}

func TestCollectStopsOnCancel(t *testing.T) {
	ts := NewTextStream()
	ctx, cancel := context.WithCancel(context.Background())

	ts.Push("partial ")
	cancel()

	out, err := Collect(ctx, ts)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if out != "" && out != "partial " {
		t.Errorf("unexpected collected text %q", out)
	}
}

func TestConvOpenAIMessages(t *testing.T) {
	msgs := convOpenAIMessages([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "a1"},
	})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil || msgs[1].OfUser == nil || msgs[2].OfAssistant == nil {
		t.Errorf("roles not mapped onto union variants: %+v", msgs)
	}
}

func TestConvGeminiMessages(t *testing.T) {
	contents, cfg := convGeminiMessages([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "a1"},
	})

	if cfg.SystemInstruction == nil {
		t.Fatal("expected system instruction")
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Errorf("unexpected roles: %q, %q", contents[0].Role, contents[1].Role)
	}
}
