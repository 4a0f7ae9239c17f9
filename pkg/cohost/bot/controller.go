// Package bot wires the co-host together. A Controller owns the live chat
// session and drains inbound chat lines through a single worker: parse,
// decide, generate a reply, post it, speak it, and fan the result out to
// WebSocket subscribers.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/cohost/pkg/cohost/channels"
	"github.com/jholhewres/cohost/pkg/cohost/dialogue"
	"github.com/jholhewres/cohost/pkg/cohost/history"
	"github.com/jholhewres/cohost/pkg/cohost/parser"
)

// FallbackProcessing is returned by Chat when the request path fails.
const FallbackProcessing = "I'm having trouble processing that message right now!"

const ttsUsage = "Usage: !tts <text to speak>"

// Speaker plays replies out loud. playback.Supervisor implements it.
type Speaker interface {
	Speak(ctx context.Context, text string) bool
	Ready() bool
}

// TokenSaver persists the refresh token of the live session.
type TokenSaver interface {
	Save(refreshToken string) error
}

// ChannelFactory builds a chat connection for an access token.
type ChannelFactory func(accessToken string) (channels.Channel, error)

// Credentials is the token pair behind a chat session.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Config tunes the controller.
type Config struct {
	// Platform is reported in status ("twitch" or "discord").
	Platform string

	// ChatTarget is the default chat to reply into (the Twitch channel).
	ChatTarget string

	// QueueSize bounds the inbound queue.
	QueueSize int

	// Delay separates worker iterations.
	Delay time.Duration
}

// Deps are the components the controller drives. Speaker, Events, History
// and Tokens are optional.
type Deps struct {
	Parser     *parser.Parser
	Dialogue   *dialogue.Manager
	Speaker    Speaker
	Events     Broadcaster
	History    *history.Store
	Tokens     TokenSaver
	NewChannel ChannelFactory
}

// Status is the controller's externally visible state.
type Status struct {
	Online        bool       `json:"online"`
	Authenticated bool       `json:"authenticated"`
	Platform      string     `json:"platform"`
	Channel       string     `json:"channel"`
	QueueDepth    int        `json:"queue_depth"`
	Responding    bool       `json:"responding"`
	TTSReady      bool       `json:"tts_ready"`
	ConnectedAt   *time.Time `json:"connected_at,omitempty"`
}

// ChatResult is the outcome of a direct chat request.
type ChatResult struct {
	Response       string    `json:"response"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ContextSummary string    `json:"context_summary,omitempty"`
	CurrentTopics  []string  `json:"current_topics,omitempty"`
}

type session struct {
	channel     channels.Channel
	creds       Credentials
	connectedAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// lifecycle is implemented by speakers that run background initialization.
type lifecycle interface {
	Start(ctx context.Context)
	Stop()
}

// Controller is the application context: it owns the session and the
// message pipeline. It replaces process-wide bot state.
type Controller struct {
	cfg  Config
	deps Deps

	logger *slog.Logger

	queue      chan *channels.IncomingMessage
	responding atomic.Bool

	// replaceMu serializes session replacement.
	replaceMu sync.Mutex
	mu        sync.RWMutex
	session   *session
	lastCreds Credentials

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New creates a Controller.
func New(cfg Config, deps Deps, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "bot"),
		queue:  make(chan *channels.IncomingMessage, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker and the speaker's background initialization.
func (c *Controller) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	if l, ok := c.deps.Speaker.(lifecycle); ok {
		l.Start(ctx)
	}
	go func() {
		select {
		case <-ctx.Done():
			c.cancel()
		case <-c.ctx.Done():
		}
	}()
	c.wg.Add(1)
	go c.run()
	c.logger.Info("bot controller started", "platform", c.cfg.Platform, "queue_size", c.cfg.QueueSize)
}

// Stop tears down the session, stops the worker and the speaker.
func (c *Controller) Stop() {
	c.replaceMu.Lock()
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	c.replaceMu.Unlock()
	if s != nil {
		c.teardown(s)
	}

	c.cancel()
	c.wg.Wait()
	if l, ok := c.deps.Speaker.(lifecycle); ok {
		l.Stop()
	}
	c.logger.Info("bot controller stopped")
}

// Enqueue hands a chat line to the worker without blocking. It reports
// false when the queue is full and the line was dropped.
func (c *Controller) Enqueue(msg *channels.IncomingMessage) bool {
	select {
	case c.queue <- msg:
		return true
	default:
		c.logger.Warn("message queue full, dropping message", "author", msg.Author())
		return false
	}
}

// ReplaceSession connects a new chat session with creds. The previous
// session is torn down first so only one connection is ever live.
func (c *Controller) ReplaceSession(ctx context.Context, creds Credentials) error {
	if c.deps.NewChannel == nil {
		return errors.New("no chat channel factory configured")
	}

	c.replaceMu.Lock()
	defer c.replaceMu.Unlock()

	c.mu.Lock()
	old := c.session
	c.session = nil
	c.mu.Unlock()
	if old != nil {
		c.logger.Info("shutting down existing chat session", "channel", old.channel.Name())
		c.teardown(old)
	}

	ch, err := c.deps.NewChannel(creds.AccessToken)
	if err != nil {
		return fmt.Errorf("building chat channel: %w", err)
	}
	if err := ch.Connect(ctx); err != nil {
		return fmt.Errorf("connecting %s: %w", ch.Name(), err)
	}

	sctx, cancel := context.WithCancel(c.ctx)
	s := &session{
		channel:     ch,
		creds:       creds,
		connectedAt: time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go c.pump(sctx, s)

	c.mu.Lock()
	c.session = s
	if creds.RefreshToken == "" {
		creds.RefreshToken = c.lastCreds.RefreshToken
	}
	c.lastCreds = creds
	c.mu.Unlock()

	if c.deps.Tokens != nil && creds.RefreshToken != "" {
		if err := c.deps.Tokens.Save(creds.RefreshToken); err != nil {
			c.logger.Warn("failed to persist refresh token", "error", err)
		}
	}

	c.publish(Event{Type: EventStatus, Content: fmt.Sprintf("Bot connected to %s chat", ch.Name())})
	c.logger.Info("chat session started", "channel", ch.Name(), "target", c.cfg.ChatTarget)
	return nil
}

// RefreshToken returns the refresh token of the most recent session.
func (c *Controller) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCreds.RefreshToken
}

// SetRefreshToken seeds the refresh token, e.g. from the keyring at boot.
func (c *Controller) SetRefreshToken(token string) {
	c.mu.Lock()
	c.lastCreds.RefreshToken = token
	c.mu.Unlock()
}

// Status reports the session and pipeline state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	s := c.session
	authenticated := c.lastCreds.AccessToken != "" || s != nil
	c.mu.RUnlock()

	st := Status{
		Authenticated: authenticated,
		Platform:      c.cfg.Platform,
		Channel:       c.cfg.ChatTarget,
		QueueDepth:    len(c.queue),
		Responding:    c.responding.Load(),
	}
	if s != nil {
		st.Online = s.channel.IsConnected()
		at := s.connectedAt
		st.ConnectedAt = &at
	}
	if c.deps.Speaker != nil {
		st.TTSReady = c.deps.Speaker.Ready()
	}
	return st
}

// Chat runs one message through the dialogue manager outside the chat
// session. It always returns a renderable response.
func (c *Controller) Chat(ctx context.Context, username, message string, emotes []string) (res ChatResult) {
	now := time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("chat request panicked", "panic", r)
			res = ChatResult{Response: FallbackProcessing, Error: fmt.Sprint(r), Timestamp: now}
		}
	}()

	if err := ctx.Err(); err != nil {
		return ChatResult{Response: FallbackProcessing, Error: err.Error(), Timestamp: now}
	}

	c.deps.Dialogue.AddMessage(ctx, username, message, emotes)
	reply := c.deps.Dialogue.GenerateResponse(ctx)
	c.record(ctx, history.KindChatMessage, username, message, false)
	c.record(ctx, history.KindBotResponse, c.deps.Parser.BotName(), reply, false)

	return ChatResult{
		Response:       reply,
		Timestamp:      now,
		ContextSummary: c.deps.Dialogue.Summary(),
		CurrentTopics:  c.deps.Dialogue.Topics(),
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.queue:
			c.handle(c.ctx, msg)
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.Delay):
		}
	}
}

func (c *Controller) pump(ctx context.Context, s *session) {
	defer close(s.done)
	in := s.channel.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			c.Enqueue(msg)
		}
	}
}

func (c *Controller) teardown(s *session) {
	s.cancel()
	if err := s.channel.Disconnect(); err != nil {
		c.logger.Warn("error disconnecting chat session", "channel", s.channel.Name(), "error", err)
	}
	<-s.done
}

// handle runs the per-message pipeline. Failures are logged; a panic in
// one message never stops the worker.
func (c *Controller) handle(ctx context.Context, msg *channels.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", "panic", r)
		}
	}()

	author := msg.Author()
	c.publish(Event{Type: EventChatMessage, Content: msg.Content, Author: author})
	c.record(ctx, history.KindChatMessage, author, msg.Content, false)

	if text, ok := ttsCommand(msg.Content); ok {
		c.handleTTS(ctx, msg, text)
		return
	}

	parsed, err := c.deps.Parser.Parse(parser.RawMessage{
		Content:   msg.Content,
		Author:    author,
		Timestamp: msg.Timestamp,
		Emotes:    msg.Emotes,
	})
	if errors.Is(err, parser.ErrSuppressed) {
		c.logger.Debug("command suppressed", "author", author)
		return
	}
	if err != nil {
		c.logger.Error("dropping malformed message", "author", author, "error", err)
		return
	}

	dm := parser.FormatForDialogue(parsed)
	c.publish(Event{Type: EventParsedMessage, Content: parsed.Content, Author: author, ParsedData: &dm})

	if !c.deps.Parser.ShouldRespond(parsed.Content) {
		return
	}
	if !c.responding.CompareAndSwap(false, true) {
		c.logger.Debug("already responding, skipping", "author", author)
		return
	}
	defer c.responding.Store(false)

	c.deps.Dialogue.AddMessage(ctx, author, parsed.Content, parsed.Emotes)
	reply := c.deps.Dialogue.GenerateResponse(ctx)
	if reply == dialogue.FallbackFailed || reply == dialogue.FallbackUnavailable {
		c.logger.Error("failed to generate response")
		return
	}

	if err := c.send(ctx, msg.ChatID, reply, msg.ID); err != nil {
		c.logger.Error("failed to send response", "error", err)
	}

	played := c.speak(ctx, reply)
	if !played {
		c.logger.Warn("failed to play speech for response")
	}

	c.publish(Event{Type: EventBotResponse, Content: reply, TTSPlayed: &played})
	c.record(ctx, history.KindBotResponse, c.deps.Parser.BotName(), reply, played)
}

func (c *Controller) handleTTS(ctx context.Context, msg *channels.IncomingMessage, text string) {
	c.record(ctx, history.KindCommand, msg.Author(), msg.Content, false)

	var ack string
	played := false
	switch {
	case text == "":
		ack = ttsUsage
	case c.deps.Speaker == nil:
		ack = "TTS is not available."
	default:
		if played = c.speak(ctx, text); played {
			ack = "Playing TTS: " + text
		} else {
			ack = "Failed to play TTS message. Please try again later."
		}
	}

	if err := c.send(ctx, msg.ChatID, ack, msg.ID); err != nil {
		c.logger.Error("failed to acknowledge tts command", "error", err)
	}
	c.publish(Event{Type: EventCommand, Content: msg.Content, Author: msg.Author(), TTSPlayed: &played})
}

func (c *Controller) speak(ctx context.Context, text string) bool {
	if c.deps.Speaker == nil || strings.TrimSpace(text) == "" {
		return false
	}
	return c.deps.Speaker.Speak(ctx, text)
}

func (c *Controller) send(ctx context.Context, chatID, text, replyTo string) error {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s == nil {
		return channels.ErrChannelDisconnected
	}
	if chatID == "" {
		chatID = c.cfg.ChatTarget
	}
	return s.channel.Send(ctx, chatID, &channels.OutgoingMessage{Content: text, ReplyTo: replyTo})
}

func (c *Controller) publish(ev Event) {
	if c.deps.Events == nil {
		return
	}
	ev.ID = uuid.NewString()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.deps.Events.Broadcast(ev)
}

func (c *Controller) record(ctx context.Context, kind history.Kind, author, content string, played bool) {
	if c.deps.History == nil {
		return
	}
	err := c.deps.History.Record(ctx, history.Event{Kind: kind, Author: author, Content: content, TTSPlayed: played})
	if err != nil {
		c.logger.Warn("failed to record history", "kind", kind, "error", err)
	}
}

// ttsCommand extracts the text of a "!tts" command.
func ttsCommand(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if len(content) < 4 || !strings.EqualFold(content[:4], "!tts") {
		return "", false
	}
	rest := content[4:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
