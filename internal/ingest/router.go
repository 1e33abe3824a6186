package ingest

import "strings"

// Route describes a parsed MQTT input topic.
type Route struct {
	Handler string // "transcript", "options", or "translate"
	Source  string // last topic segment, used as the default correlation id prefix
}

// ParseTopic maps an MQTT topic string to a Route.
//
// Routing is based on the trailing segment; the prefix is ignored, so any
// prefix works as long as MQTT_TOPICS subscribes to it.
//
//	.../options   → options   (JSON {"prompt": "...", "model": "..."})
//	.../translate → translate (transcription id, plain or {"transcription_id": "..."})
//	.../{source}  → transcript
func ParseTopic(topic string) *Route {
	topic = strings.Trim(topic, "/")
	if topic == "" {
		return nil
	}
	parts := strings.Split(topic, "/")
	last := parts[len(parts)-1]

	switch last {
	case "options", "translate":
		return &Route{Handler: last}
	}
	return &Route{Handler: "transcript", Source: last}
}
