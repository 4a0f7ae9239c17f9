package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/cohost/pkg/cohost/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel answers topic, summary and chat requests by inspecting the
// system prompt.
type fakeModel struct {
	mu          sync.Mutex
	unavailable bool
	topics      string
	topicErr    error
	summary     string
	summaryErr  error
	reply       string
	replyErr    error
	requests    []llm.Request
}

func (f *fakeModel) Generate(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	system := req.Messages[0].Content
	switch {
	case strings.HasPrefix(system, "Extract"):
		return f.topics, f.topicErr
	case strings.HasPrefix(system, "Summarize"):
		return f.summary, f.summaryErr
	default:
		return f.reply, f.replyErr
	}
}

func (f *fakeModel) IsAvailable(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable
}

func (f *fakeModel) lastChatRequest(t *testing.T) llm.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if strings.HasPrefix(f.requests[i].Messages[0].Content, DefaultPersona[:20]) {
			return f.requests[i]
		}
	}
	t.Fatal("no chat request recorded")
	return llm.Request{}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(model *fakeModel, cfg Config) (*Manager, *clock) {
	clk := &clock{now: time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)}
	m := New(model, cfg, nil)
	m.now = clk.Now
	return m, clk
}

func TestAddMessage_UpdatesMetadataAndPrompt(t *testing.T) {
	model := &fakeModel{topics: "Speedrun, Boss Fight"}
	m, _ := newTestManager(model, Config{})
	ctx := context.Background()

	m.AddMessage(ctx, "alice", "that boss fight PogChamp @bob", []string{"PogChamp"})
	m.AddMessage(ctx, "bob", "PogChamp PogChamp", []string{"PogChamp", "Kappa"})

	info := m.ContextInfo()
	require.Len(t, info.Context, 2)
	assert.Equal(t, "alice: that boss fight PogChamp @bob", info.Context[0].Content)
	assert.Equal(t, RoleUser, info.Context[0].Role)
	assert.Equal(t, 2, info.Metadata.TotalMessages)
	assert.Equal(t, []string{"alice", "bob"}, info.Metadata.UniqueUsers)
	assert.Equal(t, map[string]int{"PogChamp": 2, "Kappa": 1}, info.Metadata.EmotesUsed)
	assert.Equal(t, []string{"speedrun", "boss fight"}, info.Metadata.CurrentTopics)
	assert.Equal(t, []string{"bob"}, info.Metadata.MentionedUsers)

	prompt := info.SystemPrompt
	assert.True(t, strings.HasPrefix(prompt, DefaultPersona))
	assert.Contains(t, prompt, "\nCurrent topics: speedrun, boss fight")
	assert.Contains(t, prompt, "\nPopular emotes: PogChamp, Kappa")
	assert.Contains(t, prompt, "\nStream stats: 2 active chatters, 2 unique chatters, 2 total messages")
	assert.NotContains(t, prompt, "Current conversation context")
}

func TestAddMessage_TopicFailureFallsBack(t *testing.T) {
	model := &fakeModel{topicErr: errors.New("down")}
	m, _ := newTestManager(model, Config{})

	m.AddMessage(context.Background(), "alice", "hello", nil)
	assert.Equal(t, []string{"general chat"}, m.Topics())
}

func TestAddMessage_KeepsFiveMostRecentTopics(t *testing.T) {
	model := &fakeModel{}
	m, _ := newTestManager(model, Config{SummaryEvery: 100})
	ctx := context.Background()

	for _, topic := range []string{"a", "b", "c", "d", "e", "f", "b"} {
		model.mu.Lock()
		model.topics = topic
		model.mu.Unlock()
		m.AddMessage(ctx, "alice", "msg", nil)
	}
	assert.Equal(t, []string{"c", "d", "e", "f", "b"}, m.Topics())
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	model := &fakeModel{topics: "x", summary: "s"}
	m, _ := newTestManager(model, Config{Capacity: 3})
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		m.AddMessage(ctx, "alice", text, nil)
	}
	m.Wait()

	info := m.ContextInfo()
	require.Len(t, info.Context, 3)
	assert.Equal(t, "alice: two", info.Context[0].Content)
	assert.Equal(t, "alice: four", info.Context[2].Content)
}

func TestSummaryEveryThirdMessage(t *testing.T) {
	model := &fakeModel{topics: "chat", summary: "Chat is hyped about the boss."}
	m, _ := newTestManager(model, Config{})
	ctx := context.Background()

	m.AddMessage(ctx, "a", "one", nil)
	m.AddMessage(ctx, "b", "two", nil)
	m.Wait()
	assert.Empty(t, m.Summary())

	m.AddMessage(ctx, "c", "three", nil)
	m.Wait()
	assert.Equal(t, "Chat is hyped about the boss.", m.Summary())
	assert.Contains(t, m.SystemPrompt(), "\nCurrent conversation context: Chat is hyped about the boss.")

	// The summary request carries the buffered lines.
	var summaryReq llm.Request
	model.mu.Lock()
	for _, r := range model.requests {
		if strings.HasPrefix(r.Messages[0].Content, "Summarize") {
			summaryReq = r
		}
	}
	model.mu.Unlock()
	assert.Equal(t, "a: one\nb: two\nc: three", summaryReq.Messages[1].Content)
	assert.Equal(t, 50, summaryReq.MaxTokens)
	assert.InDelta(t, 0.5, summaryReq.Temperature, 0.001)
}

func TestSummaryFailureKeepsPrevious(t *testing.T) {
	model := &fakeModel{topics: "chat", summary: "first summary"}
	m, _ := newTestManager(model, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.AddMessage(ctx, "a", "msg", nil)
	}
	m.Wait()
	require.Equal(t, "first summary", m.Summary())

	model.mu.Lock()
	model.summaryErr = errors.New("timeout")
	model.mu.Unlock()
	for i := 0; i < 3; i++ {
		m.AddMessage(ctx, "a", "msg", nil)
	}
	m.Wait()
	assert.Equal(t, "first summary", m.Summary())
}

func TestGenerateResponse(t *testing.T) {
	model := &fakeModel{topics: "chat", reply: "Welcome in, alice!"}
	m, _ := newTestManager(model, Config{SummaryEvery: 100})
	ctx := context.Background()

	m.AddMessage(ctx, "alice", "hi bot", nil)
	got := m.GenerateResponse(ctx)
	assert.Equal(t, "Welcome in, alice!", got)

	req := model.lastChatRequest(t)
	assert.Equal(t, 100, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 0.001)
	assert.InDelta(t, 0.95, req.TopP, 0.001)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "alice: hi bot", req.Messages[1].Content)

	info := m.ContextInfo()
	require.Len(t, info.Context, 2)
	assert.Equal(t, RoleAssistant, info.Context[1].Role)
	assert.Equal(t, "Welcome in, alice!", info.Context[1].Content)
}

func TestGenerateResponse_Fallbacks(t *testing.T) {
	model := &fakeModel{unavailable: true}
	m, _ := newTestManager(model, Config{})
	assert.Equal(t, FallbackUnavailable, m.GenerateResponse(context.Background()))

	model.mu.Lock()
	model.unavailable = false
	model.replyErr = errors.New("500")
	model.mu.Unlock()
	assert.Equal(t, FallbackFailed, m.GenerateResponse(context.Background()))

	// Failures never add assistant turns.
	assert.Empty(t, m.ContextInfo().Context)
}

func TestPrune(t *testing.T) {
	model := &fakeModel{topics: "chat"}
	m, clk := newTestManager(model, Config{EmoteLimit: 2, SummaryEvery: 100})
	ctx := context.Background()

	m.AddMessage(ctx, "old", "hi", []string{"A", "A", "A"})
	clk.Advance(6 * time.Minute)
	m.AddMessage(ctx, "mid", "hi", []string{"B", "B"})
	clk.Advance(5 * time.Minute)
	m.AddMessage(ctx, "new", "hi", []string{"C"})

	info := m.ContextInfo()
	// "old" was seen 11 minutes ago and is dropped; "mid" 5 minutes ago stays.
	assert.Len(t, info.Metadata.ActiveUsers, 2)
	assert.NotContains(t, info.Metadata.ActiveUsers, "old")
	assert.Equal(t, map[string]int{"A": 3, "B": 2}, info.Metadata.EmotesUsed)
	// Unique users are never pruned; only "new" is inside the 5 minute window.
	assert.Contains(t, info.SystemPrompt, "Stream stats: 1 active chatters, 3 unique chatters, 3 total messages")
}

func TestReset(t *testing.T) {
	model := &fakeModel{topics: "chat", summary: "s"}
	m, _ := newTestManager(model, Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.AddMessage(ctx, "a", "msg", []string{"Kappa"})
	}
	m.Wait()

	m.Reset()
	info := m.ContextInfo()
	assert.Empty(t, info.Context)
	assert.Zero(t, info.Metadata.TotalMessages)
	assert.Empty(t, info.Metadata.ContextSummary)
	assert.Empty(t, info.Metadata.CurrentTopics)
	assert.Equal(t, DefaultPersona+"\nStream stats: 0 active chatters, 0 unique chatters, 0 total messages", info.SystemPrompt)
}

func TestCustomPersona(t *testing.T) {
	m, _ := newTestManager(&fakeModel{}, Config{Persona: "You are Sparky."})
	assert.True(t, strings.HasPrefix(m.SystemPrompt(), "You are Sparky.\nStream stats:"))
	m.Close()
}
