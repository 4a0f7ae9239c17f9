// Package tts synthesizes speech through an OpenAI-compatible
// /audio/speech endpoint. Local servers (openedai-speech, Coqui XTTS,
// Piper wrappers) expose the same API, so the co-host can keep its voice
// on the streaming machine.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/jholhewres/cohost/pkg/cohost/audio"
)

// maxInputBytes is the speech API's input cap.
const maxInputBytes = 4096

// Provider is the interface for TTS backends.
type Provider interface {
	// Synthesize converts text to a mono waveform.
	Synthesize(ctx context.Context, text string) (audio.Waveform, error)
}

// Config configures HTTPProvider.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Timeout time.Duration
}

// HTTPProvider implements TTS via an OpenAI-compatible speech API,
// requesting WAV output so no audio codec is needed locally.
type HTTPProvider struct {
	cfg Config
	api *openai.Client
}

// NewHTTPProvider creates an HTTP speech provider.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:5002/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &HTTPProvider{
		cfg: cfg,
		api: openai.NewClientWithConfig(apiCfg),
	}
}

// Synthesize converts text to audio using the speech endpoint.
func (p *HTTPProvider) Synthesize(ctx context.Context, text string) (audio.Waveform, error) {
	resp, err := p.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.cfg.Model),
		Input:          truncate(text, maxInputBytes),
		Voice:          openai.SpeechVoice(p.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("tts: API request failed: %w", err)
	}
	defer resp.Close()

	// The WAV decoder seeks, so the body is buffered first.
	data, err := io.ReadAll(resp)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("tts: reading audio: %w", err)
	}
	w, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("tts: %w", err)
	}
	return w, nil
}

// truncate cuts text to at most max bytes without splitting a rune.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// FallbackProvider tries the primary provider and falls back to the
// secondary if the primary fails.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
	logger    *slog.Logger
}

// NewFallbackProvider creates a provider that tries primary first, then secondary.
func NewFallbackProvider(primary, secondary Provider, logger *slog.Logger) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With("component", "tts-fallback"),
	}
}

// Synthesize tries the primary provider, falling back to secondary on failure.
func (p *FallbackProvider) Synthesize(ctx context.Context, text string) (audio.Waveform, error) {
	w, err := p.primary.Synthesize(ctx, text)
	if err == nil {
		return w, nil
	}
	p.logger.Warn("primary TTS failed, trying fallback", "error", err)
	return p.secondary.Synthesize(ctx, text)
}
