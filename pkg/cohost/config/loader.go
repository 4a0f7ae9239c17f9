package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// envFiles are loaded in order; earlier files and the real environment win.
var envFiles = []string{".env", ".env.local"}

// Load reads the configuration. An empty path triggers discovery; when no
// file exists the defaults are used. Environment variables always override
// the file.
func Load(path string) (*Config, string, error) {
	loadEnvFiles()

	if path == "" {
		path = FindConfigFile()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, "", err
		}
	}

	applyEnv(cfg)
	return cfg, path, nil
}

// Parse expands environment references in data and overlays it on cfg.
func Parse(data []byte, cfg *Config) error {
	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return fmt.Errorf("expanding environment variables: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	return nil
}

// FindConfigFile searches the standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"cohost.yaml",
		"cohost.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// SaveEnvFile merges values into the .env file at path.
func SaveEnvFile(path string, values map[string]string) error {
	existing, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		existing = make(map[string]string)
	}
	for k, v := range values {
		if v == "" {
			continue
		}
		existing[k] = v
	}
	if err := godotenv.Write(existing, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

func loadEnvFiles() {
	for _, f := range envFiles {
		// godotenv.Load never overwrites variables that are already set.
		_ = godotenv.Load(f)
	}
}

func expandEnvVars(input string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, modifier, arg := groups[1], groups[2], groups[3]

		val, ok := os.LookupEnv(name)
		if ok && val != "" {
			return val
		}
		switch modifier {
		case "-":
			return arg
		case "?":
			if firstErr == nil {
				if arg == "" {
					arg = "required environment variable not set"
				}
				firstErr = fmt.Errorf("%s: %s", name, arg)
			}
			return ""
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// applyEnv overlays the documented environment variables.
func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setString(&cfg.Twitch.ClientID, "TWITCH_CLIENT_ID")
	setString(&cfg.Twitch.ClientSecret, "TWITCH_CLIENT_SECRET")
	setString(&cfg.Twitch.BotUsername, "TWITCH_BOT_USERNAME")
	setString(&cfg.Twitch.Channel, "TWITCH_CHANNEL")
	setString(&cfg.Twitch.RedirectURI, "TWITCH_REDIRECT_URI")
	setString(&cfg.Server.Host, "API_HOST")
	setString(&cfg.Server.AuthToken, "COHOST_AUTH_TOKEN")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.TTS.BaseURL, "TTS_BASE_URL")
	setString(&cfg.TTS.FallbackBaseURL, "TTS_FALLBACK_BASE_URL")
	setString(&cfg.Discord.Token, "DISCORD_TOKEN")

	var platform string
	setString(&platform, "COHOST_PLATFORM")
	if platform != "" {
		cfg.Platform = Platform(strings.ToLower(platform))
	}

	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TTS_DEVICE_INDEX"); v != "" {
		if idx, err := strconv.Atoi(v); err == nil {
			cfg.TTS.DeviceIndex = &idx
		}
	}
}
