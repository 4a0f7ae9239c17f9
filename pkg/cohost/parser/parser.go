// Package parser classifies inbound chat lines: commands, questions,
// mentions, emotes, and whether the bot is being spoken to.
package parser

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrMalformed is returned for lines without an author or text.
	ErrMalformed = errors.New("malformed chat message")

	// ErrSuppressed is returned for commands when command suppression is on.
	ErrSuppressed = errors.New("command suppressed")
)

var (
	mentionPattern = regexp.MustCompile(`@(\w+)`)

	// emotePattern is the fallback used when the platform reports no emotes.
	// It is a naive capitalized-word heuristic, not a catalog lookup.
	emotePattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_]+\b`)

	questionPattern = regexp.MustCompile(`(?i)^(?:who|what|when|where|why|how|is|are|can|could|would|will|do|does|did|should|may|might)\b.*\?$`)
)

// RawMessage is a chat line as delivered by the platform.
type RawMessage struct {
	Content   string
	Author    string
	Timestamp time.Time

	// Emotes is nil when the platform did not report any.
	Emotes []string
}

// ParsedMessage is the classified form of a RawMessage.
type ParsedMessage struct {
	Content        string    `json:"content"`
	Author         string    `json:"author"`
	Timestamp      time.Time `json:"timestamp"`
	IsCommand      bool      `json:"is_command"`
	MentionedUsers []string  `json:"mentioned_users"`
	Emotes         []string  `json:"emotes"`
	IsQuestion     bool      `json:"is_question"`
	AddressedToBot bool      `json:"addressed_to_bot"`
}

// DialogueMessage is the shape pushed to WebSocket clients as parsed_data.
type DialogueMessage struct {
	Role     string         `json:"role"`
	Author   string         `json:"author"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Options tunes the parser.
type Options struct {
	// SuppressCommands makes Parse reject "!" commands with ErrSuppressed.
	SuppressCommands bool
}

// Parser classifies messages for a given bot account.
type Parser struct {
	botName string
	opts    Options
	logger  *slog.Logger
}

// New creates a parser for botName.
func New(botName string, opts Options, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		botName: strings.ToLower(strings.TrimPrefix(botName, "@")),
		opts:    opts,
		logger:  logger.With("component", "parser"),
	}
}

// BotName returns the lower-cased bot name.
func (p *Parser) BotName() string { return p.botName }

// Parse classifies a raw chat line.
func (p *Parser) Parse(raw RawMessage) (*ParsedMessage, error) {
	content := strings.TrimSpace(raw.Content)
	author := strings.TrimSpace(raw.Author)
	if content == "" || author == "" {
		return nil, ErrMalformed
	}

	isCommand := strings.HasPrefix(content, "!")
	if isCommand && p.opts.SuppressCommands {
		return nil, ErrSuppressed
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := &ParsedMessage{
		Content:        content,
		Author:         author,
		Timestamp:      ts,
		IsCommand:      isCommand,
		MentionedUsers: extractMentions(content),
		Emotes:         p.extractEmotes(content, raw.Emotes),
		IsQuestion:     strings.Contains(content, "?"),
		AddressedToBot: p.addressedToBot(content),
	}

	p.logger.Debug("parsed message",
		"author", author,
		"command", msg.IsCommand,
		"question", msg.IsQuestion,
		"addressed", msg.AddressedToBot,
	)
	return msg, nil
}

// ShouldRespond decides whether a chat line deserves a reply. Rules apply
// in order: commands always; any line when the bot is not named or is
// explicitly @-mentioned; interrogative questions; lines under two words
// never; everything else never.
func (p *Parser) ShouldRespond(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))

	if strings.HasPrefix(text, "!") {
		return true
	}

	if p.botName == "" || !strings.Contains(text, p.botName) || strings.Contains(text, "@"+p.botName) {
		return true
	}

	if questionPattern.MatchString(text) {
		return true
	}

	if len(strings.Fields(text)) < 2 {
		p.logger.Debug("skipping short message", "text", text)
		return false
	}

	p.logger.Debug("no response rule matched", "text", text)
	return false
}

// FormatForDialogue converts a parsed message into the dialogue payload.
func FormatForDialogue(m *ParsedMessage) DialogueMessage {
	return DialogueMessage{
		Role:    "user",
		Author:  m.Author,
		Content: m.Content,
		Metadata: map[string]any{
			"timestamp":        m.Timestamp,
			"is_command":       m.IsCommand,
			"mentioned_users":  m.MentionedUsers,
			"emotes":           m.Emotes,
			"is_question":      m.IsQuestion,
			"addressed_to_bot": m.AddressedToBot,
		},
	}
}

func (p *Parser) addressedToBot(content string) bool {
	lower := strings.ToLower(content)
	if strings.HasPrefix(lower, "!") {
		return true
	}
	if p.botName == "" {
		return false
	}
	return strings.Contains(lower, p.botName) || strings.HasPrefix(lower, "@"+p.botName)
}

func extractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	users := make([]string, 0, len(matches))
	for _, m := range matches {
		users = append(users, strings.ToLower(m[1]))
	}
	return users
}

func (p *Parser) extractEmotes(content string, supplied []string) []string {
	if supplied != nil {
		return supplied
	}
	seen := make(map[string]bool)
	emotes := []string{}
	for _, w := range emotePattern.FindAllString(content, -1) {
		if !seen[w] {
			seen[w] = true
			emotes = append(emotes, w)
		}
	}
	return emotes
}
