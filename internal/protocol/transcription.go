// Package protocol holds the wire formats of the transcription and translation sockets.
// Inbound frames are decoded into closed sets of message types at the socket boundary,
// so consumers switch on concrete types instead of probing optional fields.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"livescribe/internal/domain"
)

// TranscriptionMessage is one decoded server message from the transcription socket.
type TranscriptionMessage interface {
	transcriptionMessage()
}

// Partial is a transcription fragment. Retranscriptions supersede every
// fragment received since the previous retranscription.
type Partial struct {
	Text           string
	IsRetranscribe bool
}

// DetectedLanguage reports the language the service detected for auto input.
type DetectedLanguage struct {
	Lang string
}

// ServerError is an error reported in-band by either service.
type ServerError struct {
	Message string
}

// Done acknowledges that the server flushed everything after an end request.
type Done struct{}

func (Partial) transcriptionMessage()          {}
func (DetectedLanguage) transcriptionMessage() {}
func (ServerError) transcriptionMessage()      {}
func (Done) transcriptionMessage()             {}

const (
	eventEnd  = "end"
	eventDone = "done"
)

type controlFrame struct {
	Event string `json:"event"`
}

type transcriptionWire struct {
	PartialText    *string `json:"partial_text"`
	IsRetranscribe bool    `json:"is_retranscribe"`
	DetectedLang   *string `json:"detected_lang"`
	Error          *string `json:"error"`
	Event          *string `json:"event"`
}

// EncodeEnd returns the control frame asking the server to finalize.
func EncodeEnd() []byte {
	payload, _ := json.Marshal(controlFrame{Event: eventEnd})
	return payload
}

// DecodeTranscription decodes one text frame. The service may combine a
// detected language with a fragment in a single frame; the language is
// returned first so observers see it before the text it applies to.
func DecodeTranscription(payload []byte) ([]TranscriptionMessage, error) {
	var wire transcriptionWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	var out []TranscriptionMessage
	if wire.Error != nil {
		out = append(out, ServerError{Message: *wire.Error})
	}
	if wire.DetectedLang != nil {
		if lang := strings.TrimSpace(*wire.DetectedLang); lang != "" {
			out = append(out, DetectedLanguage{Lang: lang})
		}
	}
	if wire.PartialText != nil {
		out = append(out, Partial{Text: *wire.PartialText, IsRetranscribe: wire.IsRetranscribe})
	}
	if wire.Event != nil {
		if *wire.Event != eventDone {
			return nil, fmt.Errorf("%w: unknown event %q", domain.ErrMalformedMessage, *wire.Event)
		}
		out = append(out, Done{})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no known fields", domain.ErrMalformedMessage)
	}
	return out, nil
}
