package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jholhewres/cohost/pkg/cohost/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wavBytes(t *testing.T, w audio.Waveform) []byte {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(f, w))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return data
}

func TestHTTPProvider_Synthesize(t *testing.T) {
	payload := wavBytes(t, audio.Waveform{Samples: []float32{0.25, -0.25, 0.5}, SampleRate: 24000})

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	p := NewHTTPProvider(Config{BaseURL: srv.URL + "/v1/", APIKey: "key", Voice: "alloy"})
	wf, err := p.Synthesize(context.Background(), "hello chat")
	require.NoError(t, err)

	assert.Equal(t, 24000, wf.SampleRate)
	require.Len(t, wf.Samples, 3)
	assert.InDelta(t, 0.5, wf.Samples[2], 1e-3)
	assert.Equal(t, "hello chat", got["input"])
	assert.Equal(t, "alloy", got["voice"])
	assert.Equal(t, "wav", got["response_format"])
}

func TestHTTPProvider_Errors(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	_, err := NewHTTPProvider(Config{BaseURL: down.URL}).Synthesize(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	junk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not wav"))
	}))
	defer junk.Close()

	_, err = NewHTTPProvider(Config{BaseURL: junk.URL}).Synthesize(context.Background(), "hi")
	assert.ErrorIs(t, err, audio.ErrInvalidWaveform)
}

func TestHTTPProvider_TruncatesOnRuneBoundary(t *testing.T) {
	payload := wavBytes(t, audio.Waveform{Samples: []float32{0.1}, SampleRate: 16000})

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	// 4095 ASCII bytes followed by a 3-byte rune straddles the limit.
	long := strings.Repeat("a", 4095) + "€€"
	_, err := NewHTTPProvider(Config{BaseURL: srv.URL}).Synthesize(context.Background(), long)
	require.NoError(t, err)

	input := got["input"].(string)
	assert.True(t, utf8.ValidString(input))
	assert.Equal(t, strings.Repeat("a", 4095), input)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("ab€", 4))
	assert.Equal(t, "ab€", truncate("ab€", 5))
	assert.Equal(t, "", truncate("€", 2))
}

type stubProvider struct {
	w     audio.Waveform
	err   error
	calls int
}

func (s *stubProvider) Synthesize(context.Context, string) (audio.Waveform, error) {
	s.calls++
	return s.w, s.err
}

func TestFallbackProvider(t *testing.T) {
	primary := &stubProvider{err: errors.New("down")}
	secondary := &stubProvider{w: audio.Waveform{Samples: []float32{0.1}, SampleRate: 8000}}

	w, err := NewFallbackProvider(primary, secondary, nil).Synthesize(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 8000, w.SampleRate)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)

	primary.err = nil
	primary.w = audio.Waveform{Samples: []float32{0.2}, SampleRate: 16000}
	w, err = NewFallbackProvider(primary, secondary, nil).Synthesize(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 16000, w.SampleRate)
	assert.Equal(t, 1, secondary.calls)
}
