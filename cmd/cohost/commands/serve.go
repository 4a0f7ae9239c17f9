package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/cohost/pkg/cohost/auth"
	"github.com/jholhewres/cohost/pkg/cohost/bot"
	"github.com/jholhewres/cohost/pkg/cohost/channels"
	"github.com/jholhewres/cohost/pkg/cohost/channels/discord"
	"github.com/jholhewres/cohost/pkg/cohost/channels/twitch"
	"github.com/jholhewres/cohost/pkg/cohost/config"
	"github.com/jholhewres/cohost/pkg/cohost/dialogue"
	"github.com/jholhewres/cohost/pkg/cohost/gateway"
	"github.com/jholhewres/cohost/pkg/cohost/history"
	"github.com/jholhewres/cohost/pkg/cohost/parser"
	"github.com/jholhewres/cohost/pkg/cohost/scheduler"
)

// newServeCmd creates the `cohost serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot and its HTTP control surface",
		Long: `Start the co-host: the HTTP API and status page, the message worker,
speech playback and, once authenticated, the chat connection.

On Twitch the bot waits for the OAuth login at http://<host>:<port>/ unless
a refresh token saved by a previous login is found in the OS keyring.

Examples:
  cohost serve
  cohost serve --config ./config.yaml
  cohost serve --no-tts`,
		RunE: runServe,
	}

	cmd.Flags().Bool("no-tts", false, "disable speech playback")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if noTTS, _ := cmd.Flags().GetBool("no-tts"); noTTS {
		cfg.TTS.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── Configure logger ──
	log, err := newLogger(cmd, cfg, true)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Logger
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Model and dialogue ──
	model := newModel(cfg, logger)
	dm := dialogue.New(model, dialogue.Config{
		Capacity:     cfg.Dialogue.Capacity,
		SummaryEvery: cfg.Dialogue.SummaryEvery,
		Persona:      cfg.Dialogue.Persona,
	}, logger)
	defer dm.Close()

	// ── Speech ──
	// speaker stays a nil interface when speech is off.
	var speaker bot.Speaker
	var sp *speech
	if cfg.TTS.Enabled {
		sp, err = newSpeech(cfg, logger)
		if err != nil {
			logger.Warn("speech disabled", "error", err)
		} else {
			defer sp.Close()
			speaker = sp.supervisor
		}
	}

	// ── History ──
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	// ── Credentials ──
	var flow *auth.Flow
	var tokens *auth.TokenStore
	var saver bot.TokenSaver
	if cfg.Platform != config.PlatformDiscord {
		flow = auth.NewFlow(auth.Config{
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
			RedirectURI:  cfg.Twitch.RedirectURI,
		}, logger)
		if auth.Available() {
			tokens = auth.NewTokenStore(cfg.Twitch.BotUsername)
			saver = tokens
		} else {
			logger.Warn("OS keyring unavailable; the Twitch login will not survive restarts")
		}
	}

	// ── Bot controller ──
	hub := gateway.NewHub(logger)
	chatTarget := cfg.Twitch.Channel
	if cfg.Platform == config.PlatformDiscord {
		chatTarget = ""
	}
	ctl := bot.New(bot.Config{
		Platform:   string(cfg.Platform),
		ChatTarget: chatTarget,
		QueueSize:  cfg.Bot.QueueSize,
		Delay:      cfg.Bot.Delay,
	}, bot.Deps{
		Parser:     parser.New(cfg.BotName(), parser.Options{SuppressCommands: cfg.Bot.SuppressCommands}, logger),
		Dialogue:   dm,
		Speaker:    speaker,
		Events:     hub,
		History:    store,
		Tokens:     saver,
		NewChannel: channelFactory(cfg, logger),
	}, logger)
	ctl.Start(ctx)

	// ── Housekeeping ──
	sched := scheduler.New(logger)
	hk := bot.Housekeeping{RotateLogs: log.Rotate}
	if sp != nil {
		hk.Cache = sp.cache
		hk.CacheMaxEntries = cfg.TTS.CacheMaxEntries
	}
	if err := ctl.RegisterHousekeeping(sched, hk); err != nil {
		return fmt.Errorf("registering housekeeping jobs: %w", err)
	}
	sched.Start()

	// ── Gateway ──
	gw := gateway.New(gateway.Deps{
		Bot:      ctl,
		Dialogue: dm,
		Model:    model,
		Auth:     flow,
		History:  store,
		Jobs:     sched,
		Hub:      hub,
	}, cfg.Server, logger)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	// ── Connect chat ──
	switch {
	case cfg.Platform == config.PlatformDiscord:
		if err := ctl.ReplaceSession(ctx, bot.Credentials{}); err != nil {
			logger.Error("failed to connect to Discord", "error", err)
		}
	case tokens != nil:
		resumeTwitch(ctx, ctl, flow, tokens, logger)
	}
	if !ctl.Status().Online && cfg.Platform != config.PlatformDiscord {
		logger.Info("waiting for Twitch authentication",
			"login", fmt.Sprintf("http://localhost:%d/", cfg.Server.Port))
	}

	// ── Wait for shutdown ──
	logger.Info("cohost running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"platform", cfg.Platform,
		"address", cfg.Server.Address(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := gw.Stop(stopCtx); err != nil {
			logger.Warn("gateway shutdown", "error", err)
		}
		sched.Stop()
		ctl.Stop()
		cancel()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// channelFactory builds the chat connection for a session.
func channelFactory(cfg *config.Config, logger *slog.Logger) bot.ChannelFactory {
	return func(accessToken string) (channels.Channel, error) {
		if cfg.Platform == config.PlatformDiscord {
			return discord.New(cfg.Discord, logger), nil
		}
		if accessToken == "" {
			return nil, fmt.Errorf("twitch: no access token: %w", channels.ErrConnectionFailed)
		}
		return twitch.New(twitch.Config{
			Username:    cfg.Twitch.BotUsername,
			Channel:     cfg.Twitch.Channel,
			AccessToken: accessToken,
		}, logger), nil
	}
}

// resumeTwitch reconnects with the refresh token saved by the last login.
func resumeTwitch(ctx context.Context, ctl *bot.Controller, flow *auth.Flow, tokens *auth.TokenStore, logger *slog.Logger) {
	refresh, err := tokens.Load()
	if err != nil {
		logger.Warn("reading saved Twitch login", "error", err)
		return
	}
	if refresh == "" {
		return
	}
	ctl.SetRefreshToken(refresh)

	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	tok, err := flow.Refresh(rctx, refresh)
	if err != nil {
		logger.Warn("saved Twitch login expired; log in again", "error", err)
		return
	}
	if err := ctl.ReplaceSession(ctx, bot.Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}); err != nil {
		logger.Error("failed to resume Twitch session", "error", err)
		return
	}
	logger.Info("resumed Twitch session from saved login")
}
