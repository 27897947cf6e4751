package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

const deepgramLiveURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider implements Provider using Deepgram's live API.
type DeepgramProvider struct {
	apiKey  string
	baseURL string
}

// NewDeepgram creates a Deepgram streaming STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: deepgramLiveURL}
}

// NewDeepgramWithURL creates a provider pointed at a custom endpoint.
// Used by tests to target a local WebSocket server.
func NewDeepgramWithURL(apiKey, baseURL string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: baseURL}
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

// NewStream opens a live transcription session. The connect is retried
// with exponential backoff up to opts.MaxRetries; a budget overrun
// returns an error wrapping ErrTranscriptionUnavailable.
func (p *DeepgramProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()

	model := opts.Model
	if model == "" {
		model = "nova-2-general"
	}
	q.Set("model", model)

	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)

	encoding := opts.Encoding
	if encoding == "" {
		encoding = "mulaw"
	}
	q.Set("encoding", encoding)

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	q.Set("sample_rate", strconv.Itoa(sampleRate))

	channels := opts.Channels
	if channels == 0 {
		channels = 1
	}
	q.Set("channels", strconv.Itoa(channels))

	if opts.Interim {
		q.Set("interim_results", "true")
	}
	q.Set("punctuate", "true")

	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	var conn *websocket.Conn
	backoff := retry.WithMaxRetries(uint64(opts.MaxRetries), retry.NewExponential(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, resp, dialErr := dialer.DialContext(ctx, u.String(), headers)
		if dialErr != nil {
			if resp != nil {
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				if len(body) > 0 {
					return retry.RetryableError(fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body)))
				}
				return retry.RetryableError(fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, dialErr))
			}
			return retry.RetryableError(fmt.Errorf("websocket connect: %w", dialErr))
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscriptionUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:    conn,
		results: make(chan Result, 100),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go s.readLoop()

	return s, nil
}

// deepgramStream is a live transcription session over one WebSocket.
type deepgramStream struct {
	conn    *websocket.Conn
	results chan Result
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *deepgramStream) readLoop() {
	defer func() {
		close(s.results)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg deepgramResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			result := Result{
				Text:       alt.Transcript,
				IsFinal:    msg.IsFinal,
				Confidence: alt.Confidence,
			}
			select {
			case s.results <- result:
			case <-s.ctx.Done():
				return
			}

		case "Metadata", "UtteranceEnd", "SpeechStarted":
			continue

		case "Error":
			return
		}
	}
}

type deepgramResponse struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// SendAudio sends raw audio bytes to the live session.
func (s *deepgramStream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Finalize flushes buffered audio, forcing a final result for the
// current utterance.
func (s *deepgramStream) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
}

// Results returns the channel of transcription results.
func (s *deepgramStream) Results() <-chan Result {
	return s.results
}

// Done returns a channel that's closed when the stream ends.
func (s *deepgramStream) Done() <-chan struct{} {
	return s.done
}

// Close shuts the live session down.
func (s *deepgramStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
