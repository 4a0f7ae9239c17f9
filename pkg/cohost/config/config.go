// Package config holds the cohost configuration: the YAML file layout, its
// defaults, and the environment variables that override it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/cohost/pkg/cohost/channels/discord"
)

// Platform names the chat network the bot connects to.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformDiscord Platform = "discord"
)

// Config is the root configuration.
type Config struct {
	// Name is the persona name used in logs and the status page.
	Name string `yaml:"name"`

	// Platform selects the chat network ("twitch" or "discord").
	Platform Platform `yaml:"platform"`

	Twitch   TwitchConfig   `yaml:"twitch"`
	Discord  discord.Config `yaml:"discord"`
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Dialogue DialogueConfig `yaml:"dialogue"`
	TTS      TTSConfig      `yaml:"tts"`
	Bot      BotConfig      `yaml:"bot"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TwitchConfig holds the Twitch application and channel settings.
type TwitchConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BotUsername  string `yaml:"bot_username"`
	Channel      string `yaml:"channel"`
	RedirectURI  string `yaml:"redirect_uri"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AuthToken, when set, requires "Authorization: Bearer <token>" on the
	// JSON API routes. The OAuth and WebSocket routes stay public.
	AuthToken string `yaml:"auth_token"`

	CORSOrigins []string `yaml:"cors_origins"`
}

// Address returns host:port for net/http.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig configures the OpenAI-compatible model endpoint.
type LLMConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
}

// DialogueConfig configures the rolling conversation context.
type DialogueConfig struct {
	Capacity     int    `yaml:"capacity"`
	SummaryEvery int    `yaml:"summary_every"`
	Persona      string `yaml:"persona"`
}

// TTSConfig configures speech synthesis and playback.
type TTSConfig struct {
	Enabled         bool          `yaml:"enabled"`
	BaseURL         string        `yaml:"base_url"`
	FallbackBaseURL string        `yaml:"fallback_base_url"`
	Model           string        `yaml:"model"`
	Voice           string        `yaml:"voice"`
	APIKey          string        `yaml:"api_key"`
	CacheDir        string        `yaml:"cache_dir"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
	DeviceIndex     *int          `yaml:"device_index"`
	InitRetries     int           `yaml:"init_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	WarmupPhrase    string        `yaml:"warmup_phrase"`
}

// BotConfig tunes the message worker.
type BotConfig struct {
	QueueSize        int           `yaml:"queue_size"`
	Delay            time.Duration `yaml:"delay"`
	SuppressCommands bool          `yaml:"suppress_commands"`
}

// HistoryConfig locates the SQLite event log.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures slog output and log files.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Name:     "cohost",
		Platform: PlatformTwitch,
		Twitch: TwitchConfig{
			RedirectURI: "http://localhost:8000/auth/callback",
		},
		Discord: discord.DefaultConfig(),
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		LLM: LLMConfig{
			BaseURL:         "http://localhost:1234/v1",
			Model:           "local-model",
			Timeout:         30 * time.Second,
			CacheTTL:        time.Hour,
			CacheMaxEntries: 512,
		},
		Dialogue: DialogueConfig{
			Capacity:     5,
			SummaryEvery: 3,
		},
		TTS: TTSConfig{
			Enabled:         true,
			BaseURL:         "http://localhost:5002/v1",
			Model:           "tts-1",
			Voice:           "default",
			CacheDir:        "cache/tts",
			CacheMaxEntries: 1000,
			InitRetries:     3,
			RetryDelay:      5 * time.Second,
			WarmupPhrase:    "TTS system initialization test.",
		},
		Bot: BotConfig{
			QueueSize: 256,
			Delay:     100 * time.Millisecond,
		},
		History: HistoryConfig{
			Path: "data/cohost.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// ValidationError lists the settings that must be provided before the bot
// can start.
type ValidationError struct {
	Missing []string
	Hint    string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("missing required environment variables: ")
	b.WriteString(strings.Join(e.Missing, ", "))
	if e.Hint != "" {
		b.WriteString("\n\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

const twitchHint = `To set up the Twitch bot:
1. Register an application at https://dev.twitch.tv/console/apps
2. Add this OAuth redirect URL to the application: %s
3. Copy the client ID and client secret into .env (or run "cohost setup")
4. Set TWITCH_CHANNEL to the channel to join and TWITCH_BOT_USERNAME to the bot account`

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var missing []string
	switch c.Platform {
	case PlatformTwitch, "":
		if c.Twitch.ClientID == "" {
			missing = append(missing, "TWITCH_CLIENT_ID")
		}
		if c.Twitch.ClientSecret == "" {
			missing = append(missing, "TWITCH_CLIENT_SECRET")
		}
		if c.Twitch.Channel == "" {
			missing = append(missing, "TWITCH_CHANNEL")
		}
		if c.Twitch.BotUsername == "" {
			missing = append(missing, "TWITCH_BOT_USERNAME")
		}
		if len(missing) > 0 {
			return &ValidationError{Missing: missing, Hint: fmt.Sprintf(twitchHint, c.Twitch.RedirectURI)}
		}
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return &ValidationError{
				Missing: []string{"DISCORD_TOKEN"},
				Hint:    "Create a bot at https://discord.com/developers/applications and enable the message content intent.",
			}
		}
	default:
		return fmt.Errorf("unknown platform %q (expected twitch or discord)", c.Platform)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Dialogue.Capacity < 1 {
		return fmt.Errorf("dialogue capacity must be at least 1, got %d", c.Dialogue.Capacity)
	}
	return nil
}

// BotName returns the name the bot answers to in chat.
func (c *Config) BotName() string {
	if c.Platform == PlatformDiscord {
		return c.Name
	}
	return c.Twitch.BotUsername
}
