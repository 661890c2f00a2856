package protocol

import (
	"encoding/json"
	"fmt"

	"livescribe/internal/domain"
)

const (
	requestInit       = "init"
	requestChangeLang = "changeLang"
	requestTranslate  = "translate"
)

// TranslationRequest is a client frame on the translation socket.
type TranslationRequest struct {
	Type       string                 `json:"type"`
	InputLang  string                 `json:"inputLang,omitempty"`
	TargetLang string                 `json:"targetLang,omitempty"`
	Mode       domain.TranslationMode `json:"mode,omitempty"`
	Text       string                 `json:"text,omitempty"`
}

func InitRequest(inputLang, targetLang string) TranslationRequest {
	return TranslationRequest{Type: requestInit, InputLang: inputLang, TargetLang: targetLang}
}

func ChangeLangRequest(inputLang, targetLang string) TranslationRequest {
	return TranslationRequest{Type: requestChangeLang, InputLang: inputLang, TargetLang: targetLang}
}

func TranslateRequest(mode domain.TranslationMode, text string) TranslationRequest {
	return TranslationRequest{Type: requestTranslate, Mode: mode, Text: text}
}

// IsTranslate reports whether r asks for a translation.
func (r TranslationRequest) IsTranslate() bool {
	return r.Type == requestTranslate
}

// EncodeTranslation marshals a request frame.
func EncodeTranslation(req TranslationRequest) ([]byte, error) {
	switch req.Type {
	case requestInit, requestChangeLang, requestTranslate:
	default:
		return nil, fmt.Errorf("unknown translation request type %q", req.Type)
	}
	return json.Marshal(req)
}

// TranslationMessage is one decoded server message from the translation socket.
type TranslationMessage interface {
	translationMessage()
}

// Translated carries the translation of one request.
type Translated struct {
	Text string
	Mode domain.TranslationMode
}

func (Translated) translationMessage()  {}
func (ServerError) translationMessage() {}

type translationWire struct {
	TranslatedText *string                `json:"translated_text"`
	Mode           domain.TranslationMode `json:"mode"`
	Error          *string                `json:"error"`
}

// DecodeTranslation decodes one text frame from the translation socket.
func DecodeTranslation(payload []byte) (TranslationMessage, error) {
	var wire translationWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	switch {
	case wire.Error != nil:
		return ServerError{Message: *wire.Error}, nil
	case wire.TranslatedText != nil:
		mode := wire.Mode
		if mode == "" {
			mode = domain.TranslationIncremental
		}
		if mode != domain.TranslationIncremental && mode != domain.TranslationRefresh {
			return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrMalformedMessage, wire.Mode)
		}
		return Translated{Text: *wire.TranslatedText, Mode: mode}, nil
	default:
		return nil, fmt.Errorf("%w: no known fields", domain.ErrMalformedMessage)
	}
}
