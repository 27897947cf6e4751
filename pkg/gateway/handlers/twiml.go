package handlers

import (
	"log/slog"
	"net/http"

	"github.com/voiceline-ai/voiceline/pkg/gateway/config"
	"github.com/voiceline-ai/voiceline/pkg/gateway/mw"
	"github.com/voiceline-ai/voiceline/pkg/telephony/twilio"
)

// TwiMLHandler answers the carrier's inbound-call webhook with a call
// control document that bridges the call onto the media stream.
type TwiMLHandler struct {
	Config config.Config
	Logger *slog.Logger
}

func (h TwiMLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	doc := twilio.ConnectStream{
		Domain:   h.Config.PublicDomain,
		Path:     h.Config.StreamPath,
		Greeting: h.Config.ConnectNotice,
		Language: h.Config.Language,
	}
	body, err := doc.Render()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if h.Logger != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		h.Logger.Info("inbound call",
			"request_id", reqID,
			"call_sid", r.FormValue("CallSid"),
			"from", r.FormValue("From"),
			"stream_url", doc.StreamURL(),
		)
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
