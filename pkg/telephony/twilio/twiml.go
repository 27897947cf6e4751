package twilio

import (
	"encoding/xml"
	"fmt"
)

// sayElement is a TwiML <Say> verb.
type sayElement struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// streamElement is a TwiML <Stream> noun inside <Connect>.
type streamElement struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

type connectElement struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  streamElement
}

type responseElement struct {
	XMLName xml.Name `xml:"Response"`
	Say     *sayElement
	Connect connectElement
}

// ConnectStream describes the call control document that bridges an
// answered call onto the media-stream WebSocket.
type ConnectStream struct {
	// Domain is the publicly reachable host serving the stream endpoint.
	Domain string
	// Path is the WebSocket path, default "/ws/twilio".
	Path string
	// Greeting, when set, is spoken by the carrier before the stream opens.
	Greeting string
	// Language is the carrier voice language for the greeting.
	Language string
}

// StreamURL returns the wss:// URL the document points the carrier at.
func (c ConnectStream) StreamURL() string {
	path := c.Path
	if path == "" {
		path = "/ws/twilio"
	}
	return fmt.Sprintf("wss://%s%s", c.Domain, path)
}

// Render produces the TwiML document.
func (c ConnectStream) Render() ([]byte, error) {
	resp := responseElement{
		Connect: connectElement{Stream: streamElement{URL: c.StreamURL()}},
	}
	if c.Greeting != "" {
		resp.Say = &sayElement{Text: c.Greeting, Language: c.Language}
	}

	body, err := xml.MarshalIndent(resp, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
