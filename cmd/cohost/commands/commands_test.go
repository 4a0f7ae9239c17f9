package commands

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/cohost/pkg/cohost/channels"
	"github.com/jholhewres/cohost/pkg/cohost/config"
)

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "console", "setup", "devices", "health", "logout"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("verbose"))
}

func TestSetupAnswers_EnvValues(t *testing.T) {
	twitch := setupAnswers{
		Platform:     "twitch",
		ClientID:     " id ",
		ClientSecret: "secret",
		Channel:      "#SomeStreamer",
		BotUsername:  "SparkyBot",
		DiscordToken: "ignored",
		LLMBaseURL:   "http://localhost:1234/v1",
	}
	values := twitch.envValues()
	assert.Equal(t, "id", values["TWITCH_CLIENT_ID"])
	assert.Equal(t, "somestreamer", values["TWITCH_CHANNEL"])
	assert.Equal(t, "sparkybot", values["TWITCH_BOT_USERNAME"])
	assert.NotContains(t, values, "DISCORD_TOKEN")

	discord := setupAnswers{Platform: "discord", DiscordToken: "tok", ClientID: "ignored"}
	values = discord.envValues()
	assert.Equal(t, "tok", values["DISCORD_TOKEN"])
	assert.Equal(t, "discord", values["COHOST_PLATFORM"])
	assert.NotContains(t, values, "TWITCH_CLIENT_ID")
}

func TestSetupValidators(t *testing.T) {
	assert.Error(t, required("channel")("  "))
	assert.NoError(t, required("channel")("x"))

	assert.NoError(t, validURL("http://localhost:1234/v1"))
	assert.Error(t, validURL("localhost:1234"))
	assert.Error(t, validURL(""))
}

func TestChannelFactory(t *testing.T) {
	cfg := config.Default()
	cfg.Twitch.BotUsername = "sparkybot"
	cfg.Twitch.Channel = "somestreamer"

	factory := channelFactory(cfg, nil)
	_, err := factory("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, channels.ErrConnectionFailed))

	ch, err := factory("access")
	require.NoError(t, err)
	assert.Equal(t, "twitch", ch.Name())
	assert.False(t, ch.IsConnected())

	cfg.Platform = config.PlatformDiscord
	ch, err = factory("")
	require.NoError(t, err)
	assert.Equal(t, "discord", ch.Name())
}
