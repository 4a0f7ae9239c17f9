package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	*httptest.Server
	completions atomic.Int64
	reply       atomic.Value // string
	status      atomic.Int64
	lastBody    atomic.Value // map[string]any
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.reply.Store("Hello chat!")
	fs.status.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		fs.completions.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fs.lastBody.Store(body)

		if code := int(fs.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "local-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": fs.reply.Load().(string)},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"object":"list","data":[{"id":"local-model","object":"model"}]}`)
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func newTestClient(fs *fakeServer, maxEntries int) *Client {
	return New(Config{
		BaseURL:         fs.URL + "/v1",
		Timeout:         5 * time.Second,
		CacheTTL:        3600 * time.Second,
		CacheMaxEntries: maxEntries,
	}, nil)
}

func greeting(text string) Request {
	return Request{
		Messages:    []Message{{Role: RoleSystem, Content: "be nice"}, {Role: RoleUser, Content: text}},
		MaxTokens:   100,
		Temperature: 0.7,
		TopP:        0.95,
		UseCache:    true,
	}
}

func TestGenerate_CleansAndSendsParameters(t *testing.T) {
	fs := newFakeServer(t)
	fs.reply.Store("<think>plan the greeting</think> Hello   chat!")
	c := newTestClient(fs, 10)

	text, err := c.Generate(context.Background(), greeting("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello chat!", text)

	body := fs.lastBody.Load().(map[string]any)
	assert.Equal(t, "local-model", body["model"])
	assert.EqualValues(t, 100, body["max_tokens"])
	assert.InDelta(t, 0.7, body["temperature"], 0.001)
	assert.InDelta(t, 0.95, body["top_p"], 0.001)
	assert.Len(t, body["messages"], 2)
}

func TestGenerate_CacheHitSkipsNetwork(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs, 10)
	ctx := context.Background()

	first, err := c.Generate(ctx, greeting("hi"))
	require.NoError(t, err)
	second, err := c.Generate(ctx, greeting("hi"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, fs.completions.Load())
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Entries: 1}, c.Stats())

	// Different parameters produce a different key.
	req := greeting("hi")
	req.Temperature = 0.3
	_, err = c.Generate(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, fs.completions.Load())
}

func TestGenerate_NoCacheAlwaysCalls(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs, 10)

	req := greeting("hi")
	req.UseCache = false
	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), req)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, fs.completions.Load())
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestGenerate_CacheIsBounded(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs, 2)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := c.Generate(ctx, greeting(text))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().Entries)
}

func TestGenerate_ServerError(t *testing.T) {
	fs := newFakeServer(t)
	fs.status.Store(http.StatusInternalServerError)
	c := newTestClient(fs, 10)

	text, err := c.Generate(context.Background(), greeting("hi"))
	require.Error(t, err)
	assert.Empty(t, text)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestGenerate_EmptyAfterCleaning(t *testing.T) {
	fs := newFakeServer(t)
	fs.reply.Store("<think>only thoughts</think>")
	c := newTestClient(fs, 10)

	_, err := c.Generate(context.Background(), greeting("hi"))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestIsAvailable(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs, 10)
	assert.True(t, c.IsAvailable(context.Background()))

	down := New(Config{BaseURL: "http://127.0.0.1:1/v1", Timeout: time.Second}, nil)
	assert.False(t, down.IsAvailable(context.Background()))
}
