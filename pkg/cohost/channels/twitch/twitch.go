// Package twitch implements the Twitch chat channel using go-twitch-irc.
//
// The bot joins a single channel with a user access token obtained through
// the OAuth flow, forwards every chat line (with Twitch's own emote tags)
// and ignores its own echoes.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"
	"github.com/jholhewres/cohost/pkg/cohost/channels"
)

// Config holds Twitch chat configuration.
type Config struct {
	// Username is the bot account login.
	Username string

	// Channel is the broadcaster channel to join (without '#').
	Channel string

	// AccessToken is the OAuth user access token (without "oauth:").
	AccessToken string

	// IrcAddress overrides the chat server (tests).
	IrcAddress string
}

// Twitch implements channels.Channel.
type Twitch struct {
	cfg    Config
	logger *slog.Logger
	client *irc.Client

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	done chan struct{}
	mu   sync.Mutex
}

// New creates a new Twitch channel instance.
func New(cfg Config, logger *slog.Logger) *Twitch {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Username = strings.ToLower(cfg.Username)
	cfg.Channel = strings.ToLower(strings.TrimPrefix(cfg.Channel, "#"))
	return &Twitch{
		cfg:      cfg,
		logger:   logger.With("component", "twitch"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "twitch".
func (t *Twitch) Name() string { return "twitch" }

// Connect joins the configured channel. The IRC read loop runs in the
// background until Disconnect.
func (t *Twitch) Connect(ctx context.Context) error {
	if t.cfg.AccessToken == "" {
		return fmt.Errorf("twitch: access token is required")
	}
	if t.cfg.Channel == "" {
		return fmt.Errorf("twitch: channel is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	client := irc.NewClient(t.cfg.Username, "oauth:"+strings.TrimPrefix(t.cfg.AccessToken, "oauth:"))
	if t.cfg.IrcAddress != "" {
		client.IrcAddress = t.cfg.IrcAddress
	}

	ready := make(chan struct{})
	var once sync.Once
	client.OnConnect(func() {
		t.connected.Store(true)
		once.Do(func() { close(ready) })
	})
	client.OnPrivateMessage(t.onPrivateMessage)
	client.Join(t.cfg.Channel)

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := client.Connect()
		t.connected.Store(false)
		if err != nil && !errors.Is(err, irc.ErrClientDisconnected) {
			t.errorCount.Add(1)
			t.logger.Error("twitch: connection closed", "error", err)
		}
		errCh <- err
	}()

	select {
	case <-ready:
	case err := <-errCh:
		return fmt.Errorf("twitch: connecting: %w", err)
	case <-ctx.Done():
		_ = client.Disconnect()
		return ctx.Err()
	case <-time.After(15 * time.Second):
		_ = client.Disconnect()
		return fmt.Errorf("twitch: %w: timed out", channels.ErrConnectionFailed)
	}

	t.client = client
	t.done = done
	t.logger.Info("twitch: connected", "bot", t.cfg.Username, "channel", t.cfg.Channel)
	return nil
}

// Disconnect closes the IRC connection and waits for the read loop.
func (t *Twitch) Disconnect() error {
	t.mu.Lock()
	client, done := t.client, t.done
	t.client, t.done = nil, nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	err := client.Disconnect()
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
	t.connected.Store(false)
	t.logger.Info("twitch: disconnected")
	if err != nil && !errors.Is(err, irc.ErrConnectionIsNotOpen) {
		return err
	}
	return nil
}

// Send posts a chat line. An empty target uses the joined channel.
func (t *Twitch) Send(_ context.Context, to string, message *channels.OutgoingMessage) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil || !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	if to == "" {
		to = t.cfg.Channel
	}
	for _, line := range splitMessage(message.Content, maxMessageLen) {
		if message.ReplyTo != "" {
			client.Reply(to, message.ReplyTo, line)
			continue
		}
		client.Say(to, line)
	}
	return nil
}

// Receive returns the incoming messages channel.
func (t *Twitch) Receive() <-chan *channels.IncomingMessage { return t.messages }

// IsConnected returns true if the bot is in chat.
func (t *Twitch) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Twitch) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
		Details:       map[string]any{"channel": t.cfg.Channel},
	}
}

func (t *Twitch) onPrivateMessage(m irc.PrivateMessage) {
	if strings.EqualFold(m.User.Name, t.cfg.Username) {
		return
	}
	incoming := toIncoming(m)

	t.lastMsg.Store(time.Now())
	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("twitch: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

func toIncoming(m irc.PrivateMessage) *channels.IncomingMessage {
	// Nil when untagged so the parser falls back to its own detection.
	var emotes []string
	for _, e := range m.Emotes {
		emotes = append(emotes, e.Name)
	}
	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	name := m.User.DisplayName
	if name == "" {
		name = m.User.Name
	}
	return &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "twitch",
		From:      m.User.Name,
		FromName:  name,
		ChatID:    m.Channel,
		Content:   m.Message,
		Emotes:    emotes,
		Timestamp: ts,
		Metadata:  map[string]any{"user_id": m.User.ID, "badges": m.User.Badges},
	}
}

// maxMessageLen is Twitch's per-line chat limit.
const maxMessageLen = 500

// splitMessage splits text on word boundaries into lines of at most maxLen bytes.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var lines []string
	for len(text) > maxLen {
		cut := strings.LastIndex(text[:maxLen], " ")
		if cut <= 0 {
			cut = maxLen
		}
		lines = append(lines, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}

var _ channels.Channel = (*Twitch)(nil)
