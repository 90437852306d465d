package protocol

import (
	"encoding/json"

	"murmur/internal/domain"
)

// Envelope is the inbound control message, demuxed on the Type tag. Fields
// are a union across message kinds; unused ones stay zero.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	State     string          `json:"state,omitempty"`
	Text      string          `json:"text,omitempty"`
	Emotion   string          `json:"emotion,omitempty"`
	Command   string          `json:"command,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Data      string          `json:"data,omitempty"`

	// Server hello fields.
	Transport   string       `json:"transport,omitempty"`
	Version     int          `json:"version,omitempty"`
	AudioParams *AudioParams `json:"audio_params,omitempty"`
}

// AudioParams describes the audio framing negotiated in the hello exchange.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

type helloMessage struct {
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

func clientHelloMessage(transport string, version int, params AudioParams) string {
	return marshalMessage(helloMessage{
		Type:        "hello",
		Version:     version,
		Transport:   transport,
		AudioParams: params,
	})
}

type listenMessage struct {
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	State     string          `json:"state"`
	Mode      string          `json:"mode,omitempty"`
	Text      string          `json:"text,omitempty"`
	UserInfo  json.RawMessage `json:"user_info,omitempty"`
}

func startListeningMessage(sessionID string, mode domain.ListeningMode) string {
	return marshalMessage(listenMessage{
		SessionID: sessionID,
		Type:      "listen",
		State:     "start",
		Mode:      mode.String(),
	})
}

func stopListeningMessage(sessionID string) string {
	return marshalMessage(listenMessage{
		SessionID: sessionID,
		Type:      "listen",
		State:     "stop",
	})
}

// wakeWordDetectedMessage reports the detected phrase. When userInfo parses
// as a JSON object it rides in the user_info field; otherwise it is embedded
// in the text as "word|info" for servers predating the structured field.
func wakeWordDetectedMessage(sessionID string, wakeWord string, userInfo string) string {
	msg := listenMessage{
		SessionID: sessionID,
		Type:      "listen",
		State:     "detect",
		Text:      wakeWord,
	}
	if userInfo != "" {
		if isJSONObject(userInfo) {
			msg.UserInfo = json.RawMessage(userInfo)
		} else {
			msg.Text = wakeWord + "|" + userInfo
		}
	}
	return marshalMessage(msg)
}

func isJSONObject(s string) bool {
	var probe map[string]any
	return json.Unmarshal([]byte(s), &probe) == nil
}

type abortMessage struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Reason    string `json:"reason,omitempty"`
}

func abortSpeakingMessage(sessionID string, reason domain.AbortReason) string {
	msg := abortMessage{SessionID: sessionID, Type: "abort"}
	if reason == domain.AbortReasonWakeWordDetected {
		msg.Reason = "wake_word_detected"
	}
	return marshalMessage(msg)
}

type mcpEnvelope struct {
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func mcpMessage(sessionID string, payload json.RawMessage) string {
	return marshalMessage(mcpEnvelope{SessionID: sessionID, Type: "mcp", Payload: payload})
}

type goodbyeMessage struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
}

func goodbye(sessionID string) string {
	return marshalMessage(goodbyeMessage{SessionID: sessionID, Type: "goodbye"})
}

type audioEnvelope struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Data      string `json:"data"`
}

func marshalMessage(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
