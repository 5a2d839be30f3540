// Package protocol defines the websocket payloads exchanged between the
// interview screen in the browser and the gateway-side controller.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ddoriboo/hestorygem/internal/conversation"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client commands.
	TypeClientStart        MessageType = "client_start"
	TypeClientStop         MessageType = "client_stop"
	TypeClientSendText     MessageType = "client_send_text"
	TypeClientVoiceToggle  MessageType = "client_voice_toggle"
	TypeClientStopSpeaking MessageType = "client_stop_speaking"

	// Server events.
	TypeLifecycleState       MessageType = "lifecycle_state"
	TypeConversationSnapshot MessageType = "conversation_snapshot"
	TypeTurnPending          MessageType = "turn_pending"
	TypeTurnResolved         MessageType = "turn_resolved"
	TypeTurnRolledBack       MessageType = "turn_rolled_back"
	TypeTranscriptInterim    MessageType = "transcript_interim"
	TypeRecordingState       MessageType = "recording_state"
	TypeSpeakingState        MessageType = "speaking_state"
	TypeCapabilityState      MessageType = "capability_state"
	TypeErrorEvent           MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientStart struct {
	Type MessageType `json:"type"`
}

type ClientStop struct {
	Type MessageType `json:"type"`
}

type ClientSendText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ClientVoiceToggle struct {
	Type MessageType `json:"type"`
}

type ClientStopSpeaking struct {
	Type MessageType `json:"type"`
}

type LifecycleState struct {
	Type      MessageType `json:"type"`
	SessionID int64       `json:"session_id"`
	State     string      `json:"state"`
}

type ConversationSnapshot struct {
	Type      MessageType         `json:"type"`
	SessionID int64               `json:"session_id"`
	Turns     []conversation.Turn `json:"turns"`
}

type TurnPending struct {
	Type      MessageType       `json:"type"`
	SessionID int64             `json:"session_id"`
	Turn      conversation.Turn `json:"turn"`
}

type TurnResolved struct {
	Type      MessageType       `json:"type"`
	SessionID int64             `json:"session_id"`
	Turn      conversation.Turn `json:"turn"`
}

type TurnRolledBack struct {
	Type      MessageType `json:"type"`
	SessionID int64       `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type TranscriptInterim struct {
	Type      MessageType `json:"type"`
	SessionID int64       `json:"session_id"`
	Text      string      `json:"text"`
}

type RecordingState struct {
	Type      MessageType `json:"type"`
	SessionID int64       `json:"session_id"`
	Recording bool        `json:"recording"`
}

type SpeakingState struct {
	Type      MessageType `json:"type"`
	SessionID int64       `json:"session_id"`
	Speaking  bool        `json:"speaking"`
}

type CapabilityState struct {
	Type           MessageType `json:"type"`
	SessionID      int64       `json:"session_id"`
	SpeechInput    bool        `json:"speech_input"`
	SpeechOutput   bool        `json:"speech_output"`
	SpeechLanguage string      `json:"speech_language"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID int64       `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
	// Message is the user-visible banner text, localized for the deployment.
	Message string `json:"message"`
}

// ParseClientMessage decodes and validates one inbound UI command.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientStart:
		return ClientStart{Type: env.Type}, nil
	case TypeClientStop:
		return ClientStop{Type: env.Type}, nil
	case TypeClientSendText:
		var msg ClientSendText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("client_send_text requires text")
		}
		return msg, nil
	case TypeClientVoiceToggle:
		return ClientVoiceToggle{Type: env.Type}, nil
	case TypeClientStopSpeaking:
		return ClientStopSpeaking{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
