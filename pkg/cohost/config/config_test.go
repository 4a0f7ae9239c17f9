package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET", "TWITCH_BOT_USERNAME",
		"TWITCH_CHANNEL", "TWITCH_REDIRECT_URI", "API_HOST", "API_PORT",
		"LLM_BASE_URL", "TTS_BASE_URL", "TTS_FALLBACK_BASE_URL", "DISCORD_TOKEN",
		"COHOST_PLATFORM",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Address())
	assert.Equal(t, "http://localhost:8000/auth/callback", cfg.Twitch.RedirectURI)
	assert.Equal(t, "http://localhost:1234/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Dialogue.Capacity)
	assert.Equal(t, 3, cfg.TTS.InitRetries)
}

func TestValidate_ListsEveryMissingVariable(t *testing.T) {
	cfg := Default()
	cfg.Twitch.ClientID = "abc"

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"TWITCH_CLIENT_SECRET", "TWITCH_CHANNEL", "TWITCH_BOT_USERNAME"}, verr.Missing)
	assert.Contains(t, err.Error(), "dev.twitch.tv")
	assert.Contains(t, err.Error(), cfg.Twitch.RedirectURI)
}

func TestValidate_Discord(t *testing.T) {
	cfg := Default()
	cfg.Platform = PlatformDiscord
	require.Error(t, cfg.Validate())

	cfg.Discord.Token = "token"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "cohost", cfg.BotName())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
name: sparky
twitch:
  client_id: ${TEST_COHOST_CLIENT:-fallback-id}
  client_secret: secret
  bot_username: SparkyBot
  channel: somestreamer
llm:
  timeout: 10s
dialogue:
  capacity: 8
tts:
  fallback_base_url: http://backup:5002/v1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("API_PORT", "9090")
	t.Setenv("TWITCH_CHANNEL", "otherstreamer")

	cfg, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "sparky", cfg.Name)
	assert.Equal(t, "fallback-id", cfg.Twitch.ClientID)
	assert.Equal(t, "otherstreamer", cfg.Twitch.Channel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 8, cfg.Dialogue.Capacity)
	assert.Equal(t, "http://backup:5002/v1", cfg.TTS.FallbackBaseURL)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Dialogue.SummaryEvery)
	require.NoError(t, cfg.Validate())
}

func TestParse_RequiredVariable(t *testing.T) {
	clearEnv(t)
	err := Parse([]byte("twitch:\n  client_id: ${TEST_COHOST_MISSING:?set the client id}\n"), Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_COHOST_MISSING")
	assert.Contains(t, err.Error(), "set the client id")
}

func TestSaveEnvFile_Merges(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KEEP=1\nTWITCH_CHANNEL=old\n"), 0o600))

	require.NoError(t, SaveEnvFile(path, map[string]string{
		"TWITCH_CHANNEL": "new",
		"EMPTY":          "",
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "KEEP=1")
	assert.Contains(t, string(data), `TWITCH_CHANNEL="new"`)
	assert.NotContains(t, string(data), "EMPTY")
}

func TestLoad_FallbackSpeechFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TTS_FALLBACK_BASE_URL", "http://spare:5002/v1")

	cfg, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit path must exist")
	assert.Nil(t, cfg)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tts:\n  fallback_base_url: http://file:5002/v1\n"), 0o600))
	cfg, _, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://spare:5002/v1", cfg.TTS.FallbackBaseURL)
	assert.Empty(t, Default().TTS.FallbackBaseURL)
}
