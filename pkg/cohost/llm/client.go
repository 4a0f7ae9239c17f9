// Package llm talks to a locally hosted OpenAI-compatible model server
// (LM Studio, llama.cpp, Ollama). It caches completions by request hash and
// cleans reasoning artifacts out of the generated text.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/patrickmn/go-cache"
	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Role values for Message.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one chat-completion message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
	TopP        float32

	// UseCache serves identical requests from the response cache.
	UseCache bool
}

// Config configures the Client.
type Config struct {
	BaseURL         string
	Model           string
	APIKey          string
	Timeout         time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Client generates completions against the model server.
type Client struct {
	cfg    Config
	api    *openai.Client
	cache  *cache.Cache
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:1234/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "local-model"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 512
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		cfg:    cfg,
		api:    openai.NewClientWithConfig(apiCfg),
		cache:  cache.New(cfg.CacheTTL, cfg.CacheTTL/4),
		logger: logger.With("component", "llm"),
	}
}

// Generate returns the cleaned completion for req.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	key, err := c.cacheKey(req)
	if err != nil {
		return "", err
	}

	if req.UseCache {
		if v, ok := c.cache.Get(key); ok {
			c.hits.Add(1)
			c.logger.Debug("cache hit", "key", key[:12])
			return v.(string), nil
		}
		c.misses.Add(1)
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      false,
	})
	if err != nil {
		c.logger.Error("completion request failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text := Clean(resp.Choices[0].Message.Content)
	if text == "" {
		c.logger.Warn("completion empty after cleaning", "raw_len", len(resp.Choices[0].Message.Content))
		return "", ErrEmptyResponse
	}

	c.logger.Debug("completion generated",
		"duration_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
	)

	if req.UseCache {
		c.store(key, text)
	}
	return text, nil
}

// IsAvailable probes the model listing endpoint. Every failure reads as
// unavailable.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		c.logger.Debug("model server unavailable", "error", err)
		return false
	}
	return true
}

// Stats returns cache counters.
func (c *Client) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.cache.ItemCount(),
	}
}

// ClearCache drops every cached completion.
func (c *Client) ClearCache() {
	c.cache.Flush()
}

// store inserts text, evicting the entry closest to expiry when the cache
// is at capacity.
func (c *Client) store(key, text string) {
	if c.cache.ItemCount() >= c.cfg.CacheMaxEntries {
		var oldestKey string
		var oldest int64
		for k, item := range c.cache.Items() {
			if oldestKey == "" || item.Expiration < oldest {
				oldestKey, oldest = k, item.Expiration
			}
		}
		if oldestKey != "" {
			c.cache.Delete(oldestKey)
		}
	}
	c.cache.Set(key, text, cache.DefaultExpiration)
}

type cacheKeyPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
	TopP        float32   `json:"top_p"`
}

func (c *Client) cacheKey(req Request) (string, error) {
	data, err := sonic.Marshal(cacheKeyPayload{
		Model:       c.cfg.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("llm: encoding cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
