// Package channels defines the interface and types shared by the chat
// platforms the co-host can sit in. Each platform (Twitch, Discord)
// implements Channel to receive chat lines and post replies uniformly.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel defines the interface that every chat platform must implement.
type Channel interface {
	// Name returns the platform identifier (e.g. "twitch", "discord").
	Name() string

	// Connect establishes the connection to the chat platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send posts a message to the given chat (a Twitch channel name or a
	// Discord channel ID).
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming chat lines.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// IncomingMessage represents a chat line received from any platform.
type IncomingMessage struct {
	// ID is the unique message identifier in the source platform.
	ID string

	// Channel identifies the source platform (e.g. "twitch").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name.
	FromName string

	// ChatID is where replies go.
	ChatID string

	// Content is the text content of the message.
	Content string

	// Emotes holds the emote names the platform reported for this line.
	// Nil means the platform supplied none and callers may fall back to
	// heuristics.
	Emotes []string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Metadata contains additional platform-specific data.
	Metadata map[string]any
}

// Author returns the best human-readable sender name.
func (m *IncomingMessage) Author() string {
	if m.FromName != "" {
		return m.FromName
	}
	return m.From
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool           `json:"connected"`
	LastMessageAt time.Time      `json:"last_message_at"`
	ErrorCount    int            `json:"error_count"`
	Details       map[string]any `json:"details,omitempty"`
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
)
