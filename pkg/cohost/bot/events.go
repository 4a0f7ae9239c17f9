package bot

import (
	"time"

	"github.com/jholhewres/cohost/pkg/cohost/parser"
)

// Event types pushed to WebSocket subscribers.
const (
	EventStatus        = "status"
	EventChatMessage   = "chat_message"
	EventParsedMessage = "parsed_message"
	EventBotResponse   = "bot_response"
	EventCommand       = "command"
)

// Event is one live update for dashboard and overlay clients.
type Event struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Content    string                  `json:"content"`
	Author     string                  `json:"author,omitempty"`
	ParsedData *parser.DialogueMessage `json:"parsed_data,omitempty"`
	TTSPlayed  *bool                   `json:"tts_played,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
}

// Broadcaster fans events out to live subscribers.
type Broadcaster interface {
	Broadcast(ev Event)
}
