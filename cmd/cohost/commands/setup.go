package commands

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/cohost/pkg/cohost/config"
)

// newSetupCmd creates the `cohost setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes the credentials and endpoints
the bot needs into a .env file (mode 0600). Existing values are kept unless
replaced.

Examples:
  cohost setup
  cohost setup --env-file ./deploy/.env`,
		RunE: runSetup,
	}
	cmd.Flags().String("env-file", ".env", "file to write the settings to")
	return cmd
}

// setupAnswers holds the wizard fields.
type setupAnswers struct {
	Platform     string
	ClientID     string
	ClientSecret string
	Channel      string
	BotUsername  string
	DiscordToken string
	LLMBaseURL   string
	TTSBaseURL   string
}

// envValues maps the answers onto the variables config.Load reads.
func (a setupAnswers) envValues() map[string]string {
	values := map[string]string{
		"COHOST_PLATFORM": a.Platform,
		"LLM_BASE_URL":    strings.TrimSpace(a.LLMBaseURL),
		"TTS_BASE_URL":    strings.TrimSpace(a.TTSBaseURL),
	}
	switch config.Platform(a.Platform) {
	case config.PlatformDiscord:
		values["DISCORD_TOKEN"] = strings.TrimSpace(a.DiscordToken)
	default:
		values["TWITCH_CLIENT_ID"] = strings.TrimSpace(a.ClientID)
		values["TWITCH_CLIENT_SECRET"] = strings.TrimSpace(a.ClientSecret)
		values["TWITCH_CHANNEL"] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a.Channel), "#"))
		values["TWITCH_BOT_USERNAME"] = strings.ToLower(strings.TrimSpace(a.BotUsername))
	}
	return values
}

func runSetup(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("setup needs an interactive terminal; edit the .env file directly instead")
	}
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := loadConfig(cmd)
	if err != nil {
		cfg = config.Default()
	}
	a := setupAnswers{
		Platform:    string(cfg.Platform),
		ClientID:    cfg.Twitch.ClientID,
		Channel:     cfg.Twitch.Channel,
		BotUsername: cfg.Twitch.BotUsername,
		LLMBaseURL:  cfg.LLM.BaseURL,
		TTSBaseURL:  cfg.TTS.BaseURL,
	}
	if a.Platform == "" {
		a.Platform = string(config.PlatformTwitch)
	}

	isTwitch := func() bool { return a.Platform != string(config.PlatformDiscord) }

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Chat platform").
				Options(
					huh.NewOption("Twitch", string(config.PlatformTwitch)),
					huh.NewOption("Discord", string(config.PlatformDiscord)),
				).
				Value(&a.Platform),
		),
		huh.NewGroup(
			huh.NewNote().
				Title("Twitch application").
				Description("Register an app at https://dev.twitch.tv/console/apps\nOAuth redirect URL: "+cfg.Twitch.RedirectURI),
			huh.NewInput().Title("Client ID").Value(&a.ClientID).Validate(required("client ID")),
			huh.NewInput().Title("Client secret").EchoMode(huh.EchoModePassword).Value(&a.ClientSecret).
				Validate(func(s string) error {
					if s == "" && cfg.Twitch.ClientSecret != "" {
						return nil
					}
					return required("client secret")(s)
				}),
			huh.NewInput().Title("Channel to join").Value(&a.Channel).Validate(required("channel")),
			huh.NewInput().Title("Bot account username").Value(&a.BotUsername).Validate(required("bot username")),
		).WithHideFunc(func() bool { return !isTwitch() }),
		huh.NewGroup(
			huh.NewInput().Title("Discord bot token").EchoMode(huh.EchoModePassword).Value(&a.DiscordToken).
				Validate(required("bot token")),
		).WithHideFunc(isTwitch),
		huh.NewGroup(
			huh.NewInput().Title("Language model URL (OpenAI-compatible)").Value(&a.LLMBaseURL).Validate(validURL),
			huh.NewInput().Title("Speech server URL").Value(&a.TTSBaseURL).Validate(validURL),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled; nothing was written.")
			return nil
		}
		return err
	}

	if err := config.SaveEnvFile(envFile, a.envValues()); err != nil {
		return err
	}
	fmt.Printf("Settings saved to %s. Start the bot with: cohost serve\n", envFile)
	return nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("enter a full URL such as http://localhost:1234/v1")
	}
	return nil
}
