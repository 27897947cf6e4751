// Package twilio implements the Twilio Media Streams wire protocol: the
// JSON frame codec carried over the call WebSocket and the TwiML call
// control documents returned from the voice webhook.
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/voiceline-ai/voiceline/pkg/audio"
)

// ErrMalformedFrame reports a carrier frame that could not be decoded:
// invalid envelope JSON, an unknown event, or an undecodable payload.
// Malformed frames are dropped and logged; the session survives.
var ErrMalformedFrame = errors.New("malformed media frame")

// envelope is the wire shape of every inbound Media Streams message.
type envelope struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *startPayload `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Mark           *markPayload  `json:"mark,omitempty"`
	Stop           *stopPayload  `json:"stop,omitempty"`
	DTMF           *dtmfPayload  `json:"dtmf,omitempty"`
}

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  MediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

// MediaFormat describes the audio format the carrier negotiated.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// AudioConfig maps the negotiated carrier format onto the pipeline's
// audio configuration. Unrecognized values fall back to the telephony
// defaults.
func (f MediaFormat) AudioConfig() audio.Config {
	cfg := audio.DefaultConfig()
	switch f.Encoding {
	case string(audio.EncodingMuLaw), "mulaw":
		cfg.Encoding = audio.EncodingMuLaw
	case string(audio.EncodingPCM16), "linear16":
		cfg.Encoding = audio.EncodingPCM16
	}
	if f.SampleRate > 0 {
		cfg.SampleRate = f.SampleRate
	}
	if f.Channels > 0 {
		cfg.Channels = f.Channels
	}
	return cfg
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // Base64 encoded audio
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type dtmfPayload struct {
	Digit string `json:"digit"`
}

// Message is a decoded inbound carrier frame.
type Message interface {
	// Kind returns the carrier event name ("connected", "start", ...).
	Kind() string
}

// Connected is the first frame on a new media stream.
type Connected struct {
	Protocol string
	Version  string
}

func (Connected) Kind() string { return "connected" }

// Start announces the stream and call identifiers. It is the second
// frame on a new media stream and carries everything needed to
// construct a session.
type Start struct {
	StreamSID    string
	CallSID      string
	AccountSID   string
	Tracks       []string
	MediaFormat  MediaFormat
	CustomParams map[string]string
}

func (Start) Kind() string { return "start" }

// Media carries one chunk of caller audio.
type Media struct {
	StreamSID string
	Track     string
	Timestamp string
	Chunk     audio.Chunk
}

func (Media) Kind() string { return "media" }

// Stop signals the carrier is tearing the stream down.
type Stop struct {
	StreamSID  string
	CallSID    string
	AccountSID string
}

func (Stop) Kind() string { return "stop" }

// Mark echoes a playback checkpoint previously sent outbound.
type Mark struct {
	StreamSID string
	Name      string
}

func (Mark) Kind() string { return "mark" }

// DTMF reports a keypad digit pressed by the caller.
type DTMF struct {
	StreamSID string
	Digit     string
}

func (DTMF) Kind() string { return "dtmf" }

// Decoder turns raw carrier frames into typed messages. It tracks a
// monotonic sequence counter for media chunks whose frames omit one.
// A Decoder is owned by a single connection read loop and is not
// safe for concurrent use.
type Decoder struct {
	format Config
	seq    uint64
}

// Config holds the audio format the decoder stamps onto media chunks.
type Config struct {
	Encoding   audio.Encoding
	SampleRate int
}

// NewDecoder creates a decoder producing chunks in the given format.
func NewDecoder(format Config) *Decoder {
	if format.Encoding == "" {
		format.Encoding = audio.EncodingMuLaw
	}
	if format.SampleRate == 0 {
		format.SampleRate = 8000
	}
	return &Decoder{format: format}
}

// Decode parses one raw frame. Malformed input returns an error
// wrapping ErrMalformedFrame; the decoder remains usable.
func (d *Decoder) Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Event {
	case "connected":
		return Connected{Protocol: env.Protocol, Version: env.Version}, nil

	case "start":
		if env.Start == nil {
			return nil, fmt.Errorf("%w: start frame without start payload", ErrMalformedFrame)
		}
		msg := Start{
			StreamSID:    env.Start.StreamSID,
			CallSID:      env.Start.CallSID,
			AccountSID:   env.Start.AccountSID,
			Tracks:       env.Start.Tracks,
			MediaFormat:  env.Start.MediaFormat,
			CustomParams: env.Start.CustomParams,
		}
		// Media chunks after this frame are stamped with the format the
		// carrier negotiated.
		ac := msg.MediaFormat.AudioConfig()
		d.format = Config{Encoding: ac.Encoding, SampleRate: ac.SampleRate}
		return msg, nil

	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return nil, fmt.Errorf("%w: media frame without payload", ErrMalformedFrame)
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload base64: %v", ErrMalformedFrame, err)
		}
		seq := d.nextSeq(env.Media.Chunk)
		return Media{
			StreamSID: env.StreamSID,
			Track:     env.Media.Track,
			Timestamp: env.Media.Timestamp,
			Chunk: audio.Chunk{
				Seq:        seq,
				Payload:    payload,
				Encoding:   d.format.Encoding,
				SampleRate: d.format.SampleRate,
			},
		}, nil

	case "stop":
		msg := Stop{StreamSID: env.StreamSID}
		if env.Stop != nil {
			msg.CallSID = env.Stop.CallSID
			msg.AccountSID = env.Stop.AccountSID
		}
		return msg, nil

	case "mark":
		if env.Mark == nil {
			return nil, fmt.Errorf("%w: mark frame without mark payload", ErrMalformedFrame)
		}
		return Mark{StreamSID: env.StreamSID, Name: env.Mark.Name}, nil

	case "dtmf":
		if env.DTMF == nil {
			return nil, fmt.Errorf("%w: dtmf frame without dtmf payload", ErrMalformedFrame)
		}
		return DTMF{StreamSID: env.StreamSID, Digit: env.DTMF.Digit}, nil

	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedFrame, env.Event)
	}
}

// nextSeq uses the carrier chunk counter when present, otherwise falls
// back to a locally monotonic counter.
func (d *Decoder) nextSeq(chunk string) uint64 {
	if chunk != "" {
		if n, err := strconv.ParseUint(chunk, 10, 64); err == nil {
			d.seq = n
			return n
		}
	}
	d.seq++
	return d.seq
}

// EncodeMedia builds an outbound media frame carrying the chunk payload
// base64-encoded. The chunk sequence number travels in the chunk field,
// so EncodeMedia and Decode round-trip both payload and ordering.
func EncodeMedia(streamSID string, chunk audio.Chunk) ([]byte, error) {
	env := envelope{
		Event:     "media",
		StreamSID: streamSID,
		Media: &mediaPayload{
			Chunk:   strconv.FormatUint(chunk.Seq, 10),
			Payload: base64.StdEncoding.EncodeToString(chunk.Payload),
		},
	}
	return json.Marshal(env)
}

// EncodeMark builds an outbound mark frame. The carrier echoes the mark
// back once all audio queued before it has been played.
func EncodeMark(streamSID, name string) ([]byte, error) {
	env := envelope{
		Event:     "mark",
		StreamSID: streamSID,
		Mark:      &markPayload{Name: name},
	}
	return json.Marshal(env)
}

// EncodeClear builds an outbound clear frame, discarding all audio the
// carrier has buffered but not yet played. Sent on barge-in.
func EncodeClear(streamSID string) ([]byte, error) {
	env := envelope{
		Event:     "clear",
		StreamSID: streamSID,
	}
	return json.Marshal(env)
}
