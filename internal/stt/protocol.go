// Package stt implements the STT Session Client (C5): a persistent duplex
// session to the realtime speech service, with incremental partial
// transcripts, a completed-transcript event, response cancellation, and
// stream-stability endpointing.
package stt

import "encoding/json"

// RealtimeEndpoint is the realtime duplex WebSocket endpoint consumed by
// this client.
const RealtimeEndpoint = "wss://api.openai.com/v1/realtime"

// RealtimeBetaHeader is the required OpenAI-Beta header value.
const RealtimeBetaHeader = "realtime=v1"

// Client→server event type strings, per §6.
const (
	EvSessionUpdate          = "session.update"
	EvConversationItemCreate = "conversation.item.create"
	EvInputAudioAppend       = "input_audio_buffer.append"
	EvInputAudioCommit       = "input_audio_buffer.commit"
	EvInputAudioClear        = "input_audio_buffer.clear"
	EvResponseCreate         = "response.create"
	EvResponseCancel         = "response.cancel"
)

// Server→client event type strings, per §6.
const (
	EvSessionCreated               = "session.created"
	EvTranscriptionCompleted       = "conversation.item.input_audio_transcription.completed"
	EvConversationItemCreated      = "conversation.item.created"
	EvResponseCreated              = "response.created"
	EvResponseAudioTranscriptDone  = "response.audio_transcript.done"
	EvResponseAudioDelta           = "response.audio.delta"
	EvResponseDone                 = "response.done"
	EvError                        = "error"
)

// SessionConfig is sent once on connect, per §4.4's session semantics:
// input format = telephony μ-law, output format = linear PCM16 @ 24kHz,
// transcription enabled, server-side turn detection disabled (the Turn SM
// makes the endpointing decision).
type SessionConfig struct {
	Modalities              []string               `json:"modalities"`
	Instructions            string                 `json:"instructions,omitempty"`
	InputAudioFormat        string                 `json:"input_audio_format"`
	OutputAudioFormat       string                 `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig   `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetectionConfig   `json:"turn_detection"` // nil: server-side detection disabled
	Temperature             float64                `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                    `json:"max_response_output_tokens,omitempty"`
}

// TranscriptionConfig selects the batch transcription model used for input
// audio transcription within the realtime session.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetectionConfig mirrors the provider's server-VAD config shape. The
// engine leaves this nil so turn detection stays client-side (§4.4).
type TurnDetectionConfig struct {
	Type              string `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// DefaultSessionConfig returns the session config this client always sends:
// telephony-format input, 24kHz PCM output, transcription on, no
// server-side turn detection.
func DefaultSessionConfig(temperature float64, maxTokens int) SessionConfig {
	return SessionConfig{
		Modalities:        []string{"text", "audio"},
		InputAudioFormat:  "g711_ulaw",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &TranscriptionConfig{
			Model: "whisper-1",
		},
		TurnDetection:           nil,
		Temperature:             temperature,
		MaxResponseOutputTokens: maxTokens,
	}
}

// clientEvent is the envelope every outbound event shares.
type clientEvent struct {
	Type string `json:"type"`
}

type sessionUpdateEvent struct {
	clientEvent
	Session SessionConfig `json:"session"`
}

type inputAudioAppendEvent struct {
	clientEvent
	Audio string `json:"audio"` // base64
}

type inputAudioCommitEvent struct {
	clientEvent
}

type inputAudioClearEvent struct {
	clientEvent
}

type responseCreateEvent struct {
	clientEvent
}

type responseCancelEvent struct {
	clientEvent
	ResponseID string `json:"response_id,omitempty"`
}

type conversationItemCreateEvent struct {
	clientEvent
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string                `json:"type"`
	Role    string                `json:"role"`
	Content []conversationContent `json:"content"`
}

type conversationContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// baseServerEvent is decoded first to dispatch on Type.
type baseServerEvent struct {
	Type string `json:"type"`
}

type sessionCreatedEvent struct {
	Type    string `json:"type"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type transcriptionCompletedEvent struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type responseCreatedEvent struct {
	Type     string `json:"type"`
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

type responseAudioDeltaEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"` // base64 PCM16
}

type responseDoneEvent struct {
	Type     string `json:"type"`
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// parseServerEvent dispatches on the base event's Type by type-switching on
// a decoded base struct.
func parseServerEvent(data []byte) (any, error) {
	var base baseServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	switch base.Type {
	case EvSessionCreated:
		var e sessionCreatedEvent
		err := json.Unmarshal(data, &e)
		return &e, err
	case EvTranscriptionCompleted:
		var e transcriptionCompletedEvent
		err := json.Unmarshal(data, &e)
		return &e, err
	case EvResponseCreated:
		var e responseCreatedEvent
		err := json.Unmarshal(data, &e)
		return &e, err
	case EvResponseAudioDelta:
		var e responseAudioDeltaEvent
		err := json.Unmarshal(data, &e)
		return &e, err
	case EvResponseDone:
		var e responseDoneEvent
		err := json.Unmarshal(data, &e)
		return &e, err
	case EvError:
		var e errorEvent
		err := json.Unmarshal(data, &e)
		return &e, err
	default:
		return &base, nil
	}
}
