// Package session orchestrates one live phone conversation: caller
// audio in, turn detection, transcription, response generation,
// synthesis, and carrier audio out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/voiceline-ai/voiceline/pkg/audio"
	"github.com/voiceline-ai/voiceline/pkg/voice/llm"
	"github.com/voiceline-ai/voiceline/pkg/voice/stt"
	"github.com/voiceline-ai/voiceline/pkg/voice/tts"
)

// replayWindowMs is how much trailing caller audio is kept for replay
// into a reopened transcription stream.
const replayWindowMs = 1000

// Output is the carrier-facing side of a session. The media transport
// implements it; per-direction ordering of audio chunks is preserved.
type Output interface {
	// SendAudio delivers one synthesized chunk to the caller.
	SendAudio(chunk audio.Chunk) error

	// SendMark places a playback checkpoint after queued audio.
	SendMark(name string) error

	// SendClear discards carrier-buffered audio not yet played.
	SendClear() error
}

// Deps are a session's collaborators.
type Deps struct {
	STT      stt.Provider
	TTS      tts.Provider
	Engine   llm.Engine
	Output   Output
	Detector TurnDetector // optional, defaults to EnergyDetector
	Logger   *slog.Logger // optional
}

// Session is the orchestrator for one call. It owns the conversation
// history and every pipeline stage; all state transitions happen here.
type Session struct {
	cfg    Config
	logger *slog.Logger

	sttProv  stt.Provider
	ttsProv  tts.Provider
	engine   llm.Engine
	out      Output
	detector TurnDetector
	history  *History

	mu        sync.RWMutex
	state     State
	errored   bool
	errorCode string

	events       chan Event
	eventsMu     sync.Mutex
	eventsClosed bool
	audioIn      chan audio.Chunk
	done         chan struct{}
	closed       atomic.Bool

	// recent rings the last second of caller audio; it is replayed into
	// a reopened transcription stream so an utterance onset spanning the
	// reconnect gap is not lost. resync asks the audio loop to do the
	// replay, keeping detector and stream access on one goroutine.
	recent *audio.RingBuffer
	resync chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	sttMu     sync.Mutex
	sttStream stt.Stream

	// In-flight response bookkeeping. At most one generation runs at a
	// time; respID fences late updates from a superseded response.
	respMu     sync.Mutex
	respID     uint64
	responding bool
	respCancel context.CancelFunc
	respTTS    *tts.StreamingContext
	partial    string

	// outMu serializes outbound sends against barge-in clear, so no
	// audio chunk can reach the carrier after a clear directive.
	outMu  sync.Mutex
	outSeq atomic.Uint64
	marks  atomic.Uint64
}

// New creates a session in the connecting state.
func New(cfg Config, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("call_sid", cfg.CallSID, "stream_sid", cfg.StreamSID)

	detector := deps.Detector
	if detector == nil {
		detector = NewEnergyDetector(cfg.Detector, cfg.Audio)
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.EngineTimeout == 0 {
		cfg.EngineTimeout = 30 * time.Second
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = audio.DefaultConfig()
	}
	if cfg.ChunkMinWords == 0 {
		cfg.ChunkMinWords = defaultChunkMinWords
	}

	return &Session{
		cfg:      cfg,
		logger:   logger,
		sttProv:  deps.STT,
		ttsProv:  deps.TTS,
		engine:   deps.Engine,
		out:      deps.Output,
		detector: detector,
		history:  NewHistory(cfg.SystemPrompt),
		state:    StateConnecting,
		events:   make(chan Event, 100),
		audioIn:  make(chan audio.Chunk, 100),
		done:     make(chan struct{}),
		recent:   audio.NewRingBuffer(cfg.Audio, replayWindowMs),
		resync:   make(chan struct{}, 1),
	}
}

// CallSID returns the carrier call identifier.
func (s *Session) CallSID() string { return s.cfg.CallSID }

// StreamSID returns the carrier media stream identifier.
func (s *Session) StreamSID() string { return s.cfg.StreamSID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Failed reports whether the session passed through the error state.
func (s *Session) Failed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errored
}

// ErrorCode returns the failure code when Failed, empty otherwise.
func (s *Session) ErrorCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorCode
}

// History returns the session's conversation history.
func (s *Session) History() *History { return s.history }

// Events returns the channel of session events. Closed on teardown.
func (s *Session) Events() <-chan Event { return s.events }

// Done returns a channel that's closed when the session has closed.
// The media transport tears the carrier connection down on it.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start transitions the session to active: it opens the transcription
// stream, starts the pipeline loops, and plays the greeting.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.openSTT(); err != nil {
		s.fail(err)
		return err
	}

	s.setState(StateActive)
	s.emit(&StartedEvent{CallSID: s.cfg.CallSID, StreamSID: s.cfg.StreamSID})

	go s.audioLoop()
	go s.sttLoop()

	if s.cfg.Greeting != "" {
		go s.speakCanned(s.cfg.Greeting, "greeting")
	}

	return nil
}

// PushAudio hands one caller audio chunk to the pipeline. When the
// pipeline is saturated the chunk is dropped rather than blocking the
// transport read loop.
func (s *Session) PushAudio(chunk audio.Chunk) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	select {
	case s.audioIn <- chunk:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.logger.Debug("audio buffer full, dropping chunk", "seq", chunk.Seq)
		return nil
	}
}

// HandleDTMF surfaces a keypad digit as a session event.
func (s *Session) HandleDTMF(digit string) {
	s.emit(&DTMFEvent{Digit: digit})
}

// HandleMark surfaces a carrier playback confirmation.
func (s *Session) HandleMark(name string) {
	s.emit(&MarkEvent{Name: name})
}

// Close tears the session down: Ending, then Closed. Idempotent.
func (s *Session) Close() error {
	return s.closeWithReason("closed")
}

func (s *Session) closeWithReason(reason string) error {
	if s.closed.Swap(true) {
		return nil
	}

	s.setState(StateEnding)

	s.cancelResponse(false)
	if s.cancel != nil {
		s.cancel()
	}

	s.sttMu.Lock()
	if s.sttStream != nil {
		s.sttStream.Close()
		s.sttStream = nil
	}
	s.sttMu.Unlock()

	close(s.done)

	s.setState(StateClosed)
	s.emit(&ClosedEvent{Reason: reason})

	s.eventsMu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.eventsMu.Unlock()

	s.logger.Info("session closed", "reason", reason)
	return nil
}

// audioLoop drives the turn detector and forwards caller audio to the
// transcription stream.
func (s *Session) audioLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-s.resync:
			s.detector.Reset()
			s.replayRecent()
		case chunk := <-s.audioIn:
			s.processChunk(chunk)
		}
	}
}

// replayRecent pushes the ringed audio into the freshly opened
// transcription stream, then empties the ring so a later reconnect does
// not resend it.
func (s *Session) replayRecent() {
	data := s.recent.Read()
	if len(data) == 0 {
		return
	}
	s.recent.Clear()

	s.sttMu.Lock()
	stream := s.sttStream
	s.sttMu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.SendAudio(data); err != nil {
		s.logger.Debug("replay send failed", "error", err)
		return
	}
	s.logger.Info("replayed buffered audio into new transcription stream", "bytes", len(data))
}

func (s *Session) processChunk(chunk audio.Chunk) {
	for _, b := range s.detector.Process(chunk.Payload) {
		switch b {
		case SpeechStarted:
			s.emit(&SpeechStartedEvent{})
			s.bargeIn()
		case SpeechEnded:
			s.emit(&SpeechEndedEvent{})
			s.finalizeUtterance()
		}
	}

	s.recent.Write(chunk.Payload)

	// Audio flows to STT continuously, not just inside detector spans:
	// the stream stays warm and utterance onsets are never clipped.
	s.sttMu.Lock()
	stream := s.sttStream
	s.sttMu.Unlock()
	if stream != nil {
		if err := stream.SendAudio(chunk.Payload); err != nil {
			s.logger.Debug("stt send failed", "error", err)
		}
	}
}

func (s *Session) finalizeUtterance() {
	s.sttMu.Lock()
	stream := s.sttStream
	s.sttMu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Finalize(); err != nil {
		s.logger.Warn("stt finalize failed", "error", err)
	}
}

// openSTT opens (or reopens) the transcription stream. The provider
// applies the connect retry budget; an error here is past the budget.
func (s *Session) openSTT() error {
	encoding := "mulaw"
	if s.cfg.Audio.Encoding == audio.EncodingPCM16 {
		encoding = "linear16"
	}

	stream, err := s.sttProv.NewStream(s.ctx, stt.StreamOptions{
		Model:      s.cfg.STTModel,
		Language:   s.cfg.Language,
		Encoding:   encoding,
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.Channels,
		MaxRetries: s.cfg.MaxRetries,
		Interim:    true,
	})
	if err != nil {
		return err
	}

	s.sttMu.Lock()
	if s.sttStream != nil {
		s.sttStream.Close()
	}
	s.sttStream = stream
	s.sttMu.Unlock()
	return nil
}

// sttLoop consumes transcription results and commits user turns.
func (s *Session) sttLoop() {
	for {
		s.sttMu.Lock()
		stream := s.sttStream
		s.sttMu.Unlock()
		if stream == nil {
			return
		}

		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case result, ok := <-stream.Results():
			if !ok {
				if s.closed.Load() || s.ctx.Err() != nil {
					return
				}
				s.logger.Warn("transcription stream ended, reconnecting")
				if err := s.openSTT(); err != nil {
					s.fail(err)
					return
				}
				// The audio loop resets the detector and replays the
				// ringed audio into the new stream.
				select {
				case s.resync <- struct{}{}:
				default:
				}
				continue
			}
			s.handleTranscript(result)
		}
	}
}

func (s *Session) handleTranscript(result stt.Result) {
	s.emit(&TranscriptEvent{Text: result.Text, IsFinal: result.IsFinal})

	// Partials are hints only; a turn commits on the final result.
	if !result.IsFinal {
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return
	}
	s.commitUserTurn(text)
}

// commitUserTurn folds the utterance into the history and starts
// response generation over a snapshot that ends with it. A response
// still in flight at this point is answering a turn the caller has
// since extended, so it is cancelled and regenerated.
func (s *Session) commitUserTurn(text string) {
	s.cancelResponse(true)

	if merged := s.history.CommitUser(text); merged {
		s.logger.Debug("utterance coalesced into open user turn", "text", text)
	}
	s.emit(&TurnCommittedEvent{Text: text})

	msgs := s.history.Messages()

	s.respMu.Lock()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.EngineTimeout)
	s.respID++
	id := s.respID
	s.responding = true
	s.respCancel = cancel
	s.respTTS = nil
	s.partial = ""
	s.respMu.Unlock()

	go s.respond(ctx, id, msgs)
}

// respond runs one generation with a bounded retry budget. Attempts
// stop retrying once audio has been spoken; repeating an utterance is
// worse than failing.
func (s *Session) respond(ctx context.Context, id uint64, msgs []llm.Message) {
	defer s.finishResponse(id)

	var spoke bool
	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxRetries), retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptErr := s.generateAndSpeak(ctx, id, msgs, &spoke)
		if attemptErr == nil {
			return nil
		}
		if ctx.Err() != nil || spoke || errors.Is(attemptErr, ErrInvalidTurnSequence) {
			return attemptErr
		}
		return retry.RetryableError(attemptErr)
	})
	if err == nil {
		return
	}
	if ctx.Err() != nil && !spoke {
		// Cancelled by barge-in or teardown; nothing to report.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !s.closed.Load() {
			s.fail(fmt.Errorf("%w: engine deadline exceeded", llm.ErrGenerationFailed))
		}
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.fail(err)
}

func (s *Session) generateAndSpeak(ctx context.Context, id uint64, msgs []llm.Message, spoke *bool) error {
	ts, err := s.engine.Generate(ctx, msgs)
	if err != nil {
		return err
	}
	defer ts.Close()

	ttsCtx, err := s.ttsProv.NewStreamingContext(ctx, tts.StreamingContextOptions{
		Voice:    s.cfg.Voice,
		Language: s.cfg.Language,
	})
	if err != nil {
		return err
	}
	s.trackRespTTS(id, ttsCtx)
	defer ttsCtx.Close()

	forwardDone := make(chan error, 1)
	go func() {
		forwardDone <- s.forwardAudio(ctx, ttsCtx, fmt.Sprintf("response-%d", s.marks.Add(1)))
	}()

	writer := newSentenceWriter(s.cfg.ChunkMinWords, func(text string, last bool) error {
		*spoke = true
		if err := ttsCtx.SendText(text, last); err != nil && !errors.Is(err, tts.ErrContextClosed) {
			s.logger.Warn("tts send failed", "error", err)
		}
		return nil
	})

	var full strings.Builder
	for delta := range ts.Deltas() {
		full.WriteString(delta)
		s.trackPartial(id, full.String())
		s.emit(&ResponseDeltaEvent{Delta: delta})

		if err := writer.Write(delta); err != nil {
			return err
		}
	}
	if err := ts.Err(); err != nil {
		writer.Discard()
		return err
	}

	closed, err := writer.Finish()
	if err != nil {
		return err
	}
	if !closed {
		if err := ttsCtx.Flush(); err != nil && !errors.Is(err, tts.ErrContextClosed) {
			s.logger.Warn("tts flush failed", "error", err)
		}
	}

	select {
	case err := <-forwardDone:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	text := strings.TrimSpace(full.String())
	if text == "" {
		return nil
	}
	if err := s.history.Append(llm.RoleAssistant, text); err != nil {
		return err
	}
	s.emit(&ResponseDoneEvent{Text: text})
	return nil
}

// forwardAudio moves synthesized audio to the carrier until the TTS
// stream ends, then places a playback mark.
func (s *Session) forwardAudio(ctx context.Context, ttsCtx *tts.StreamingContext, mark string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ttsCtx.Audio():
			if !ok {
				if err := ttsCtx.Err(); err != nil && ctx.Err() == nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := s.sendMark(ctx, mark); err != nil {
					s.logger.Warn("mark send failed", "error", err)
				}
				return nil
			}
			if err := s.sendAudio(ctx, data); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}

// sendAudio writes one outbound chunk. The check inside outMu pairs
// with bargeIn: once a clear went out, chunks from the cancelled
// response can no longer slip through.
func (s *Session) sendAudio(ctx context.Context, data []byte) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.out.SendAudio(audio.Chunk{
		Seq:        s.outSeq.Add(1),
		Payload:    data,
		Encoding:   s.cfg.Audio.Encoding,
		SampleRate: s.cfg.Audio.SampleRate,
	})
}

func (s *Session) sendMark(ctx context.Context, name string) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.out.SendMark(name)
}

// bargeIn cancels the in-flight response: generation and synthesis are
// stopped, undelivered audio is dropped, the carrier buffer is cleared,
// and no assistant turn is committed.
func (s *Session) bargeIn() {
	s.respMu.Lock()
	if !s.responding {
		s.respMu.Unlock()
		return
	}
	partial := s.partial
	cancel := s.respCancel
	ttsCtx := s.respTTS
	s.responding = false
	s.respCancel = nil
	s.respTTS = nil
	s.respMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ttsCtx != nil {
		ttsCtx.Close()
	}

	s.outMu.Lock()
	if err := s.out.SendClear(); err != nil {
		s.logger.Warn("clear send failed", "error", err)
	}
	s.outMu.Unlock()

	s.emit(&ResponseInterruptedEvent{PartialText: partial})
	s.logger.Info("barge-in, response cancelled", "partial_len", len(partial))
}

// cancelResponse stops any in-flight response, discarding carrier
// audio too when clear is set. A no-op when nothing is generating.
func (s *Session) cancelResponse(clear bool) {
	s.respMu.Lock()
	active := s.responding
	cancel := s.respCancel
	ttsCtx := s.respTTS
	s.responding = false
	s.respCancel = nil
	s.respTTS = nil
	s.respMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ttsCtx != nil {
		ttsCtx.Close()
	}
	if clear && active {
		s.outMu.Lock()
		_ = s.out.SendClear()
		s.outMu.Unlock()
	}
}

func (s *Session) trackRespTTS(id uint64, ttsCtx *tts.StreamingContext) {
	s.respMu.Lock()
	if s.respID == id && s.responding {
		s.respTTS = ttsCtx
	}
	s.respMu.Unlock()
}

func (s *Session) trackPartial(id uint64, text string) {
	s.respMu.Lock()
	if s.respID == id && s.responding {
		s.partial = text
	}
	s.respMu.Unlock()
}

func (s *Session) finishResponse(id uint64) {
	s.respMu.Lock()
	var cancel context.CancelFunc
	if s.respID == id {
		s.responding = false
		cancel = s.respCancel
		s.respCancel = nil
		s.respTTS = nil
		s.partial = ""
	}
	s.respMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// speakCanned synthesizes a fixed utterance outside the conversation
// history (greeting, failure apology).
func (s *Session) speakCanned(text, mark string) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	data, err := tts.Synthesize(ctx, s.ttsProv, text, tts.StreamingContextOptions{
		Voice:    s.cfg.Voice,
		Language: s.cfg.Language,
	})
	if err != nil {
		s.logger.Warn("canned utterance synthesis failed", "mark", mark, "error", err)
		return
	}
	if err := s.sendAudio(ctx, data); err != nil {
		s.logger.Warn("canned utterance send failed", "mark", mark, "error", err)
		return
	}
	if err := s.sendMark(ctx, mark); err != nil {
		s.logger.Warn("canned utterance mark failed", "mark", mark, "error", err)
	}
}

// fail moves the session into the error state, speaks the fallback
// apology when configured, and tears down. The caller is never cut off
// silently if synthesis still works.
func (s *Session) fail(err error) {
	if s.closed.Load() {
		return
	}
	code := errorCode(err)
	s.mu.Lock()
	if s.errored {
		s.mu.Unlock()
		return
	}
	s.errored = true
	s.errorCode = code
	s.mu.Unlock()

	s.logger.Error("session failed", "error", err)
	s.setState(StateErrored)
	s.emit(&ErrorEvent{Code: code, Message: err.Error()})

	s.cancelResponse(true)

	if s.cfg.FallbackUtterance != "" {
		s.speakCanned(s.cfg.FallbackUtterance, "fallback")
	}

	s.closeWithReason("error")
}

// errorCode maps error kinds onto stable event codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, stt.ErrTranscriptionUnavailable):
		return "transcription_unavailable"
	case errors.Is(err, llm.ErrGenerationFailed):
		return "generation_failed"
	case errors.Is(err, tts.ErrSynthesisFailed):
		return "synthesis_failed"
	case errors.Is(err, ErrInvalidTurnSequence):
		return "invalid_turn_sequence"
	default:
		return "internal_error"
	}
}

// setState updates the lifecycle state and emits an event.
func (s *Session) setState(newState State) {
	s.mu.Lock()
	oldState := s.state
	s.state = newState
	s.mu.Unlock()

	if oldState != newState {
		s.logger.Debug("state changed", "from", oldState.String(), "to", newState.String())
		s.emit(&StateChangedEvent{From: oldState, To: newState})
	}
}

// emit sends an event without ever blocking the pipeline.
func (s *Session) emit(event Event) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- event:
	default:
		// Channel full, drop event
	}
}
