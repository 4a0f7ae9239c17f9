// Package playback turns co-host replies into speech on a local output
// device: sentence-wise synthesis, normalization, an on-disk cache, device
// selection and blocking playback that callers can stop waiting on.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/cohost/pkg/cohost/audio"
	"github.com/jholhewres/cohost/pkg/cohost/tts"
)

// ErrNoOutputDevice is returned when no device can play audio.
var ErrNoOutputDevice = errors.New("no audio output device available")

// Device describes an audio output device.
type Device struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefault         bool    `json:"is_default"`
}

// Backend is the OS audio binding.
type Backend interface {
	// Devices lists every device known to the host API.
	Devices() ([]Device, error)

	// DefaultOutput returns the system default output device.
	DefaultOutput() (Device, error)

	// Play blocks until the interleaved samples have been played or ctx is
	// cancelled.
	Play(ctx context.Context, dev Device, samples []float32, channels, sampleRate int) error

	// Close releases the audio subsystem.
	Close() error
}

// Config configures the Engine.
type Config struct {
	// DeviceIndex selects an explicit output device.
	DeviceIndex *int
}

var (
	sentenceEnd  = regexp.MustCompile(`[^.!?]+[.!?]*`)
	emoteToken   = regexp.MustCompile(`:\w+:`)
	extraSpacing = regexp.MustCompile(`\s+`)
)

// Engine synthesizes and plays speech.
type Engine struct {
	provider tts.Provider
	backend  Backend
	cache    *audio.Cache
	cfg      Config
	logger   *slog.Logger

	// playMu serializes playback so replies never talk over each other.
	playMu sync.Mutex
}

// NewEngine creates an Engine. cache may be nil to disable caching.
func NewEngine(provider tts.Provider, backend Backend, cache *audio.Cache, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider: provider,
		backend:  backend,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.With("component", "playback"),
	}
}

// Cache returns the engine's audio cache (nil when disabled).
func (e *Engine) Cache() *audio.Cache { return e.cache }

// Synthesize returns speech for text, from cache when available. Sentences
// are synthesized independently; failed sentences are skipped.
func (e *Engine) Synthesize(ctx context.Context, text string) (audio.Waveform, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Waveform{}, fmt.Errorf("%w: empty text", audio.ErrInvalidWaveform)
	}

	if e.cache != nil {
		if w, ok := e.cache.Get(text); ok {
			e.logger.Debug("speech cache hit", "chars", len(text))
			return w, nil
		}
	}

	var segments []audio.Waveform
	for _, sentence := range SplitSentences(text) {
		w, err := e.provider.Synthesize(ctx, sentence)
		if err != nil {
			if ctx.Err() != nil {
				return audio.Waveform{}, ctx.Err()
			}
			e.logger.Warn("skipping sentence after synthesis failure", "sentence", sentence, "error", err)
			continue
		}
		segments = append(segments, w)
	}

	w, err := audio.Concat(segments)
	if err != nil {
		return audio.Waveform{}, err
	}
	audio.Normalize(w.Samples)
	if err := audio.Validate(w); err != nil {
		return audio.Waveform{}, err
	}

	if e.cache != nil {
		if err := e.cache.Put(text, w); err != nil {
			e.logger.Warn("failed to cache speech", "error", err)
		}
	}
	return w, nil
}

// SelectDevice picks the explicit device when it can output audio, else
// the system default, else the first device with output channels.
func (e *Engine) SelectDevice() (Device, error) {
	devices, err := e.backend.Devices()
	if err != nil {
		return Device{}, fmt.Errorf("listing audio devices: %w", err)
	}

	if idx := e.cfg.DeviceIndex; idx != nil {
		for _, d := range devices {
			if d.Index == *idx && d.MaxOutputChannels > 0 {
				return d, nil
			}
		}
		e.logger.Warn("configured audio device unavailable, falling back", "index", *idx)
	}

	if d, err := e.backend.DefaultOutput(); err == nil && d.MaxOutputChannels > 0 {
		return d, nil
	}

	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return Device{}, ErrNoOutputDevice
}

// Play plays w on the selected device. It returns when playback finishes
// or ctx is cancelled, whichever comes first.
func (e *Engine) Play(ctx context.Context, w audio.Waveform) error {
	if err := audio.Validate(w); err != nil {
		return err
	}
	dev, err := e.SelectDevice()
	if err != nil {
		return err
	}

	samples, channels, rate := w.Samples, 1, w.SampleRate
	if devRate := int(dev.DefaultSampleRate); devRate > 0 && devRate != rate {
		samples, rate = audio.Resample(samples, rate, devRate), devRate
	}
	if dev.MaxOutputChannels >= 2 {
		samples, channels = audio.ToStereo(samples), 2
	}

	e.playMu.Lock()
	defer e.playMu.Unlock()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- e.backend.Play(ctx, dev, samples, channels, rate)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("playing on %q: %w", dev.Name, err)
		}
		e.logger.Debug("playback finished", "device", dev.Name, "seconds", w.Duration(), "elapsed_ms", time.Since(start).Milliseconds())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speak strips chat emote tokens from text, then synthesizes and plays it.
func (e *Engine) Speak(ctx context.Context, text string) error {
	text = StripEmotes(text)
	if text == "" {
		return fmt.Errorf("%w: nothing to say", audio.ErrInvalidWaveform)
	}
	w, err := e.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesizing: %w", err)
	}
	return e.Play(ctx, w)
}

// SplitSentences breaks text on sentence terminators, keeping them.
func SplitSentences(text string) []string {
	var out []string
	for _, s := range sentenceEnd.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" && strings.Trim(s, ".!?") != "" {
			out = append(out, s)
		}
	}
	return out
}

// StripEmotes removes :emote: tokens and tidies spacing.
func StripEmotes(text string) string {
	text = emoteToken.ReplaceAllString(text, "")
	return strings.TrimSpace(extraSpacing.ReplaceAllString(text, " "))
}
