package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SupervisorConfig controls initialization retries.
type SupervisorConfig struct {
	// Retries is the number of startup attempts.
	Retries int

	// RetryDelay separates startup attempts.
	RetryDelay time.Duration

	// WarmupPhrase is synthesized to prove the speech server works.
	WarmupPhrase string

	// PlayWarmup also plays the warm-up phrase on the device.
	PlayWarmup bool
}

// Supervisor owns the engine's health. It initializes in the background
// with bounded retries and lazily re-initializes after failures, so a
// missing speech server or audio device never blocks chat.
type Supervisor struct {
	engine *Engine
	cfg    SupervisorConfig
	logger *slog.Logger

	ready atomic.Bool

	// initMu serializes initialization attempts.
	initMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor wraps engine.
func NewSupervisor(engine *Engine, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retries < 1 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.WarmupPhrase == "" {
		cfg.WarmupPhrase = "TTS system initialization test."
	}
	return &Supervisor{
		engine: engine,
		cfg:    cfg,
		logger: logger.With("component", "tts-supervisor"),
	}
}

// Start begins background initialization. Stop cancels it.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
			if s.initialize(ctx) {
				return
			}
			if attempt == s.cfg.Retries {
				break
			}
			s.logger.Info("retrying speech initialization", "attempt", attempt, "delay", s.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
		}
		s.logger.Error("speech initialization failed; will retry on next use", "attempts", s.cfg.Retries)
	}()
}

// Stop cancels background initialization and waits for it.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Ready reports whether speech is initialized.
func (s *Supervisor) Ready() bool { return s.ready.Load() }

// Ensure initializes on demand with a single attempt.
func (s *Supervisor) Ensure(ctx context.Context) bool {
	if s.ready.Load() {
		return true
	}
	return s.initialize(ctx)
}

// Speak says text and reports success. Failures mark the engine for
// re-initialization on the next call.
func (s *Supervisor) Speak(ctx context.Context, text string) bool {
	if !s.Ensure(ctx) {
		return false
	}
	if err := s.engine.Speak(ctx, text); err != nil {
		s.logger.Error("speech failed", "error", err)
		s.ready.Store(false)
		return false
	}
	return true
}

// Engine returns the supervised engine.
func (s *Supervisor) Engine() *Engine { return s.engine }

func (s *Supervisor) initialize(ctx context.Context) bool {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready.Load() {
		return true
	}

	w, err := s.engine.Synthesize(ctx, s.cfg.WarmupPhrase)
	if err == nil {
		_, err = s.engine.SelectDevice()
	}
	if err == nil && s.cfg.PlayWarmup {
		err = s.engine.Play(ctx, w)
	}
	if err != nil {
		s.logger.Warn("speech initialization attempt failed", "error", err)
		return false
	}

	s.ready.Store(true)
	s.logger.Info("speech initialized")
	return true
}
