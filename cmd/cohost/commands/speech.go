package commands

import (
	"fmt"
	"log/slog"

	"github.com/jholhewres/cohost/pkg/cohost/audio"
	"github.com/jholhewres/cohost/pkg/cohost/config"
	"github.com/jholhewres/cohost/pkg/cohost/playback"
	"github.com/jholhewres/cohost/pkg/cohost/playback/portaudio"
	"github.com/jholhewres/cohost/pkg/cohost/tts"
)

// speech bundles the playback stack so callers can close the audio host.
type speech struct {
	supervisor *playback.Supervisor
	cache      *audio.Cache
	backend    *portaudio.Backend
}

func (s *speech) Close() {
	if err := s.backend.Close(); err != nil {
		slog.Warn("closing audio host", "error", err)
	}
}

// newSpeech wires the speech server, the WAV cache and the audio device.
func newSpeech(cfg *config.Config, logger *slog.Logger) (*speech, error) {
	var provider tts.Provider = tts.NewHTTPProvider(tts.Config{
		BaseURL: cfg.TTS.BaseURL,
		APIKey:  cfg.TTS.APIKey,
		Model:   cfg.TTS.Model,
		Voice:   cfg.TTS.Voice,
	})
	if cfg.TTS.FallbackBaseURL != "" {
		secondary := tts.NewHTTPProvider(tts.Config{
			BaseURL: cfg.TTS.FallbackBaseURL,
			APIKey:  cfg.TTS.APIKey,
			Model:   cfg.TTS.Model,
			Voice:   cfg.TTS.Voice,
		})
		provider = tts.NewFallbackProvider(provider, secondary, logger)
	}

	var cache *audio.Cache
	if cfg.TTS.CacheDir != "" {
		cache = audio.NewCache(cfg.TTS.CacheDir, logger)
		if err := cache.EnsureDir(); err != nil {
			logger.Warn("speech cache disabled", "dir", cfg.TTS.CacheDir, "error", err)
			cache = nil
		}
	}

	backend, err := portaudio.Open()
	if err != nil {
		return nil, fmt.Errorf("opening audio host: %w", err)
	}

	engine := playback.NewEngine(provider, backend, cache, playback.Config{DeviceIndex: cfg.TTS.DeviceIndex}, logger)
	return &speech{
		supervisor: playback.NewSupervisor(engine, playback.SupervisorConfig{
			Retries:      cfg.TTS.InitRetries,
			RetryDelay:   cfg.TTS.RetryDelay,
			WarmupPhrase: cfg.TTS.WarmupPhrase,
		}, logger),
		cache:   cache,
		backend: backend,
	}, nil
}
