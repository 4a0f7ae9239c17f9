// Package dialogue maintains the co-host's short conversational memory: a
// small rolling window of chat turns plus running stream metadata (topics,
// emote usage, who is active) that is folded into the system prompt for
// every reply.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/cohost/pkg/cohost/llm"
)

// Canned replies returned instead of errors so chat always gets an answer.
const (
	FallbackUnavailable = "Sorry, I'm having trouble connecting to my brain right now!"
	FallbackFailed      = "I'm having trouble thinking of a response right now!"
)

const defaultTopic = "general chat"

// DefaultPersona is the base system prompt.
const DefaultPersona = "You are a friendly and engaging Twitch co-host. Respond directly to messages without any meta-commentary. " +
	"Keep responses concise (1-2 sentences), entertaining, and suitable for a live stream. " +
	"Never explain your thought process or how you plan to respond. " +
	"Never quote example responses. Just give your actual response naturally. " +
	"Match the chat's energy and use emotes when appropriate. " +
	"If chat is using specific emotes, consider using them in your response too."

const (
	topicPrompt = "Extract 1-2 main topics from this Twitch chat message. " +
		"Return only the topics as a comma-separated list. " +
		"Topics should be 1-2 words each. If no clear topics, return 'general chat'."

	summaryPrompt = "Summarize the following Twitch chat conversation in one brief sentence. " +
		"Focus on the main topic, mood, and any recurring themes or memes. " +
		"If there are popular emotes being used, mention them."
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Generator is the subset of the model client the manager needs.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
	IsAvailable(ctx context.Context) bool
}

// Config tunes the manager. Zero values take defaults.
type Config struct {
	// Capacity is the number of turns kept in the window.
	Capacity int

	// SummaryEvery triggers a background summary every N user messages.
	SummaryEvery int

	// TopicLimit caps the number of remembered topics.
	TopicLimit int

	// ActiveWindow is how recently a chatter must have spoken to count as active.
	ActiveWindow time.Duration

	// InactiveTTL drops chatters from the active map when pruning.
	InactiveTTL time.Duration

	// EmoteLimit caps the emote histogram when pruning.
	EmoteLimit int

	// Persona replaces DefaultPersona when set.
	Persona string
}

func (c *Config) applyDefaults() {
	if c.Capacity < 1 {
		c.Capacity = 5
	}
	if c.SummaryEvery < 1 {
		c.SummaryEvery = 3
	}
	if c.TopicLimit < 1 {
		c.TopicLimit = 5
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = 5 * time.Minute
	}
	if c.InactiveTTL <= 0 {
		c.InactiveTTL = 10 * time.Minute
	}
	if c.EmoteLimit < 1 {
		c.EmoteLimit = 10
	}
	if c.Persona == "" {
		c.Persona = DefaultPersona
	}
}

// MetadataView is the JSON snapshot of the stream metadata.
type MetadataView struct {
	TotalMessages     int                  `json:"total_messages"`
	UniqueUsers       []string             `json:"unique_users"`
	ActiveUsers       map[string]time.Time `json:"active_users"`
	EmotesUsed        map[string]int       `json:"emotes_used"`
	CurrentTopics     []string             `json:"current_topics"`
	MentionedUsers    []string             `json:"mentioned_users"`
	ContextSummary    string               `json:"context_summary"`
	ConversationStart time.Time            `json:"conversation_start"`
}

// ContextInfo is the full inspectable state of the manager.
type ContextInfo struct {
	Context      []Turn       `json:"context"`
	Metadata     MetadataView `json:"metadata"`
	SystemPrompt string       `json:"system_prompt"`
}

type metadata struct {
	totalMessages int
	uniqueUsers   map[string]struct{}
	activeUsers   map[string]time.Time
	emotesUsed    map[string]int
	topics        []string
	mentioned     map[string]struct{}
	summary       string
	start         time.Time
}

func newMetadata(now time.Time) metadata {
	return metadata{
		uniqueUsers: make(map[string]struct{}),
		activeUsers: make(map[string]time.Time),
		emotesUsed:  make(map[string]int),
		mentioned:   make(map[string]struct{}),
		start:       now,
	}
}

// Manager owns the conversation window and its metadata. All methods are
// safe for concurrent use.
type Manager struct {
	cfg    Config
	model  Generator
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	buf          *Buffer
	meta         metadata
	systemPrompt string

	// generation increments on Reset so late summaries are discarded.
	generation uint64

	ctx       context.Context
	cancel    context.CancelFunc
	summaries sync.WaitGroup
}

// New creates a manager backed by model.
func New(model Generator, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		model:  model,
		logger: logger.With("component", "dialogue"),
		now:    time.Now,
		buf:    NewBuffer(cfg.Capacity),
		ctx:    ctx,
		cancel: cancel,
	}
	m.meta = newMetadata(m.now())
	m.rebuildPrompt()
	return m
}

// AddMessage records a chat line from author and refreshes the metadata
// and system prompt.
func (m *Manager) AddMessage(ctx context.Context, author, text string, emotes []string) {
	author = strings.TrimSpace(author)
	text = strings.TrimSpace(text)
	now := m.now()

	m.mu.Lock()
	m.meta.totalMessages++
	m.meta.uniqueUsers[author] = struct{}{}
	m.meta.activeUsers[author] = now
	for _, e := range emotes {
		m.meta.emotesUsed[e]++
	}
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		m.meta.mentioned[strings.ToLower(match[1])] = struct{}{}
	}
	total := m.meta.totalMessages
	m.mu.Unlock()

	// The topic call is a network round trip; keep it outside the lock.
	topics := m.extractTopics(ctx, text)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rememberTopics(topics)
	m.buf.Append(Turn{
		Role:      RoleUser,
		Author:    author,
		Content:   author + ": " + text,
		Timestamp: now,
		Emotes:    slices.Clone(emotes),
	})

	if total%m.cfg.SummaryEvery == 0 {
		m.summarizeAsync()
	}
	m.rebuildPrompt()
}

// GenerateResponse asks the model for the next co-host line. It never
// fails: model problems yield one of the Fallback strings.
func (m *Manager) GenerateResponse(ctx context.Context) string {
	if !m.model.IsAvailable(ctx) {
		m.logger.Warn("model server unavailable")
		return FallbackUnavailable
	}

	m.mu.Lock()
	messages := m.promptMessages()
	m.mu.Unlock()

	text, err := m.model.Generate(ctx, llm.Request{
		Messages:    messages,
		MaxTokens:   100,
		Temperature: 0.7,
		TopP:        0.95,
		UseCache:    true,
	})
	if err != nil || text == "" {
		m.logger.Error("response generation failed", "error", err)
		return FallbackFailed
	}

	m.mu.Lock()
	m.buf.Append(Turn{
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: m.now(),
		Emotes:    []string{},
	})
	m.mu.Unlock()
	return text
}

// ContextInfo prunes stale metadata and returns a snapshot.
func (m *Manager) ContextInfo() ContextInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	m.rebuildPrompt()

	view := MetadataView{
		TotalMessages:     m.meta.totalMessages,
		UniqueUsers:       sortedKeys(m.meta.uniqueUsers),
		ActiveUsers:       make(map[string]time.Time, len(m.meta.activeUsers)),
		EmotesUsed:        make(map[string]int, len(m.meta.emotesUsed)),
		CurrentTopics:     slices.Clone(m.meta.topics),
		MentionedUsers:    sortedKeys(m.meta.mentioned),
		ContextSummary:    m.meta.summary,
		ConversationStart: m.meta.start,
	}
	for k, v := range m.meta.activeUsers {
		view.ActiveUsers[k] = v
	}
	for k, v := range m.meta.emotesUsed {
		view.EmotesUsed[k] = v
	}
	if view.CurrentTopics == nil {
		view.CurrentTopics = []string{}
	}

	return ContextInfo{
		Context:      m.buf.Turns(),
		Metadata:     view,
		SystemPrompt: m.systemPrompt,
	}
}

// Summary returns the latest conversation summary ("" before the first one).
func (m *Manager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.summary
}

// Topics returns the remembered topics, oldest first.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.meta.topics)
}

// SystemPrompt returns the current system prompt.
func (m *Manager) SystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systemPrompt
}

// Prune drops inactive chatters and trims the emote histogram.
func (m *Manager) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.rebuildPrompt()
}

// Reset clears the window and all metadata.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.Reset()
	m.meta = newMetadata(m.now())
	m.generation++
	m.rebuildPrompt()
	m.logger.Info("conversation context cleared")
}

// Wait blocks until in-flight summaries finish.
func (m *Manager) Wait() {
	m.summaries.Wait()
}

// Close cancels in-flight summaries and waits for them.
func (m *Manager) Close() {
	m.cancel()
	m.summaries.Wait()
}

func (m *Manager) extractTopics(ctx context.Context, text string) []string {
	resp, err := m.model.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: topicPrompt},
			{Role: llm.RoleUser, Content: text},
		},
		MaxTokens:   30,
		Temperature: 0.3,
		UseCache:    true,
	})
	if err != nil || strings.TrimSpace(resp) == "" {
		if err != nil {
			m.logger.Debug("topic extraction failed", "error", err)
		}
		return []string{defaultTopic}
	}

	var topics []string
	for _, part := range strings.Split(resp, ",") {
		if t := strings.ToLower(strings.TrimSpace(part)); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{defaultTopic}
	}
	return topics
}

// rememberTopics appends topics (moving repeats to the end) and keeps the
// most recent TopicLimit.
func (m *Manager) rememberTopics(topics []string) {
	for _, t := range topics {
		if i := slices.Index(m.meta.topics, t); i >= 0 {
			m.meta.topics = slices.Delete(m.meta.topics, i, i+1)
		}
		m.meta.topics = append(m.meta.topics, t)
	}
	if over := len(m.meta.topics) - m.cfg.TopicLimit; over > 0 {
		m.meta.topics = slices.Clone(m.meta.topics[over:])
	}
}

// summarizeAsync must be called with mu held.
func (m *Manager) summarizeAsync() {
	turns := m.buf.Turns()
	if len(turns) == 0 {
		return
	}
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.Content
	}
	generation := m.generation

	m.summaries.Add(1)
	go func() {
		defer m.summaries.Done()

		summary, err := m.model.Generate(m.ctx, llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: summaryPrompt},
				{Role: llm.RoleUser, Content: strings.Join(lines, "\n")},
			},
			MaxTokens:   50,
			Temperature: 0.5,
		})
		if err != nil || summary == "" {
			m.logger.Warn("context summary failed, keeping previous", "error", err)
			return
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if generation != m.generation {
			return
		}
		m.meta.summary = summary
		m.rebuildPrompt()
		m.logger.Debug("context summary updated", "summary", summary)
	}()
}

// promptMessages must be called with mu held.
func (m *Manager) promptMessages() []llm.Message {
	turns := m.buf.Turns()
	messages := make([]llm.Message, 0, len(turns)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: m.systemPrompt})
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return messages
}

// rebuildPrompt must be called with mu held.
func (m *Manager) rebuildPrompt() {
	var b strings.Builder
	b.WriteString(m.cfg.Persona)

	if m.meta.summary != "" {
		b.WriteString("\nCurrent conversation context: ")
		b.WriteString(m.meta.summary)
	}
	if len(m.meta.topics) > 0 {
		b.WriteString("\nCurrent topics: ")
		b.WriteString(strings.Join(m.meta.topics, ", "))
	}
	if top := topEmotes(m.meta.emotesUsed, 3); len(top) > 0 {
		b.WriteString("\nPopular emotes: ")
		b.WriteString(strings.Join(top, ", "))
	}

	now := m.now()
	active := 0
	for _, seen := range m.meta.activeUsers {
		if now.Sub(seen) < m.cfg.ActiveWindow {
			active++
		}
	}
	fmt.Fprintf(&b, "\nStream stats: %d active chatters, %d unique chatters, %d total messages",
		active, len(m.meta.uniqueUsers), m.meta.totalMessages)

	m.systemPrompt = b.String()
}

// pruneLocked must be called with mu held.
func (m *Manager) pruneLocked() {
	now := m.now()
	for user, seen := range m.meta.activeUsers {
		if now.Sub(seen) >= m.cfg.InactiveTTL {
			delete(m.meta.activeUsers, user)
		}
	}
	if len(m.meta.emotesUsed) > m.cfg.EmoteLimit {
		keep := topEmotes(m.meta.emotesUsed, m.cfg.EmoteLimit)
		trimmed := make(map[string]int, len(keep))
		for _, e := range keep {
			trimmed[e] = m.meta.emotesUsed[e]
		}
		m.meta.emotesUsed = trimmed
	}
}

// topEmotes returns up to n emotes by descending count, ties by name.
func topEmotes(counts map[string]int, n int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
