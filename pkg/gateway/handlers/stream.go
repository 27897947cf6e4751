package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceline-ai/voiceline/pkg/audio"
	"github.com/voiceline-ai/voiceline/pkg/gateway/config"
	"github.com/voiceline-ai/voiceline/pkg/gateway/lifecycle"
	"github.com/voiceline-ai/voiceline/pkg/gateway/sessions"
	"github.com/voiceline-ai/voiceline/pkg/session"
	"github.com/voiceline-ai/voiceline/pkg/store"
	"github.com/voiceline-ai/voiceline/pkg/telephony/twilio"
	"github.com/voiceline-ai/voiceline/pkg/voice/llm"
	"github.com/voiceline-ai/voiceline/pkg/voice/stt"
	"github.com/voiceline-ai/voiceline/pkg/voice/tts"
)

// handshakeTimeout bounds the wait for the carrier's start frame.
const handshakeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The carrier connects server-to-server without an Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler terminates the carrier's media-stream WebSocket and
// runs one call session over it.
type StreamHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Registry  *sessions.Registry
	Store     store.Store
	Lifecycle *lifecycle.Lifecycle

	STT    stt.Provider
	TTS    tts.Provider
	Engine llm.Engine
}

// wsOutput adapts the WebSocket connection to the session's carrier
// output. Writes are serialized; the session already guarantees
// per-direction ordering.
type wsOutput struct {
	conn      *websocket.Conn
	streamSID string
	timeout   time.Duration
	mu        sync.Mutex
}

func (o *wsOutput) write(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(o.timeout))
	return o.conn.WriteMessage(websocket.TextMessage, frame)
}

func (o *wsOutput) SendAudio(chunk audio.Chunk) error {
	frame, err := twilio.EncodeMedia(o.streamSID, chunk)
	if err != nil {
		return err
	}
	return o.write(frame)
}

func (o *wsOutput) SendMark(name string) error {
	frame, err := twilio.EncodeMark(o.streamSID, name)
	if err != nil {
		return err
	}
	return o.write(frame)
}

func (o *wsOutput) SendClear() error {
	frame, err := twilio.EncodeClear(o.streamSID)
	if err != nil {
		return err
	}
	return o.write(frame)
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if h.Lifecycle.Draining() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	dec := twilio.NewDecoder(twilio.Config{})

	start, ok := h.awaitStart(conn, dec, logger)
	if !ok {
		return
	}
	logger = logger.With("call_sid", start.CallSID, "stream_sid", start.StreamSID)

	out := &wsOutput{conn: conn, streamSID: start.StreamSID, timeout: h.Config.WSWriteTimeout}
	sessCfg := h.Config.SessionConfig(start.CallSID, start.StreamSID, start.AccountSID)
	sessCfg.Audio = start.MediaFormat.AudioConfig()
	sess := session.New(sessCfg, session.Deps{
		STT:    h.STT,
		TTS:    h.TTS,
		Engine: h.Engine,
		Output: out,
		Logger: h.Logger,
	})

	if err := h.Registry.Register(sess); err != nil {
		logger.Warn("rejecting media stream", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(h.Config.WSWriteTimeout))
		return
	}
	defer h.Registry.Unregister(start.CallSID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = h.Store.CallStarted(ctx, &store.CallRecord{
		CallSID:    start.CallSID,
		StreamSID:  start.StreamSID,
		AccountSID: start.AccountSID,
	})

	if err := sess.Start(ctx); err != nil {
		logger.Error("session start failed", "error", err)
		h.sealRecord(sess, false)
		return
	}
	defer sess.Close()

	// The carrier connection falls with the session, and vice versa.
	go func() {
		<-sess.Done()
		_ = conn.Close()
	}()
	go h.pingLoop(conn, sess.Done())

	logger.Info("media stream active")

	clean := h.readLoop(conn, dec, sess, logger)

	_ = sess.Close()
	h.sealRecord(sess, clean)
	logger.Info("media stream ended", "clean", clean, "failed", sess.Failed())
}

// awaitStart consumes handshake frames until the start frame arrives.
func (h StreamHandler) awaitStart(conn *websocket.Conn, dec *twilio.Decoder, logger *slog.Logger) (twilio.Start, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("media stream closed before start frame", "error", err)
			return twilio.Start{}, false
		}
		msg, err := dec.Decode(data)
		if err != nil {
			logger.Warn("malformed frame during handshake", "error", err)
			continue
		}
		switch m := msg.(type) {
		case twilio.Connected:
			// Handshake preamble.
		case twilio.Start:
			return m, true
		default:
			logger.Debug("frame before start ignored", "kind", msg.Kind())
		}
	}
}

// readLoop pumps carrier frames into the session until the stream
// stops or the connection drops. Returns true for a clean stop.
func (h StreamHandler) readLoop(conn *websocket.Conn, dec *twilio.Decoder, sess *session.Session, logger *slog.Logger) bool {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}

		msg, err := dec.Decode(data)
		if err != nil {
			// One bad frame does not end the call.
			logger.Warn("malformed frame", "error", err)
			continue
		}

		switch m := msg.(type) {
		case twilio.Media:
			_ = sess.PushAudio(m.Chunk)
		case twilio.DTMF:
			sess.HandleDTMF(m.Digit)
		case twilio.Mark:
			sess.HandleMark(m.Name)
		case twilio.Stop:
			return true
		}
	}
}

func (h StreamHandler) sealRecord(sess *session.Session, clean bool) {
	disposition := store.DispositionDropped
	switch {
	case sess.Failed():
		disposition = store.DispositionError
	case clean:
		disposition = store.DispositionCompleted
	}

	// Committed turns, not counting the system prompt.
	turns := sess.History().Len() - 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.Store.CallEnded(ctx, sess.CallSID(), disposition, sess.ErrorCode(), turns)
}

func (h StreamHandler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	interval := h.Config.WSPingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				return
			}
		}
	}
}
