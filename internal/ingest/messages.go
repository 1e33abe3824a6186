package ingest

import (
	"bytes"
	"encoding/json"
	"strings"
)

// TranscriptMessage is the JSON form of a transcript published over MQTT.
// Plain-text payloads are accepted too; their id is the topic.
type TranscriptMessage struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// OptionsMessage changes the relay's prompt and/or model.
type OptionsMessage struct {
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model,omitempty"`
}

// TranslateMessage asks for every segment of a stored transcription.
type TranslateMessage struct {
	TranscriptionID string `json:"transcription_id"`
}

// parseTranscript decodes a transcript payload. A JSON object must carry a
// "text" field; anything else is taken as the transcript itself.
func parseTranscript(topic string, payload []byte) TranscriptMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg TranscriptMessage
		if err := json.Unmarshal(trimmed, &msg); err == nil && msg.Text != "" {
			if msg.ID == "" {
				msg.ID = topic
			}
			return msg
		}
	}
	return TranscriptMessage{Text: string(trimmed), ID: topic}
}

// parseTranslate accepts a bare transcription id or a TranslateMessage.
func parseTranslate(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg TranslateMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return ""
		}
		return strings.TrimSpace(msg.TranscriptionID)
	}
	return string(trimmed)
}
