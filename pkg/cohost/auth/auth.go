// Package auth implements the Twitch authorization-code login used to
// obtain the bot's chat token, and persists the refresh token in the OS
// keyring so a restarted process can resume its session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

var (
	// ErrInvalidState is returned when a callback carries an unknown or
	// expired state value.
	ErrInvalidState = errors.New("invalid or expired oauth state")

	// ErrNoRefreshToken is returned when a refresh is requested before any
	// token was obtained.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// Scopes are the permissions the bot requests.
var Scopes = []string{
	"chat:read",
	"chat:edit",
	"channel:moderate",
	"channel:read:redemptions",
}

// stateTTL bounds how long a login link stays valid.
const stateTTL = 10 * time.Minute

// Config configures the Flow.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// AuthURL and TokenURL override the Twitch endpoints.
	AuthURL  string
	TokenURL string
}

// Flow runs the authorization-code exchange.
type Flow struct {
	oauth  *oauth2.Config
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

// NewFlow creates a Flow.
func NewFlow(cfg Config, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := twitch.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &Flow{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
		logger: logger.With("component", "auth"),
		states: make(map[string]time.Time),
		now:    time.Now,
	}
}

// LoginURL returns the authorize URL and the state it embeds.
func (f *Flow) LoginURL() (string, string) {
	state := uuid.NewString()

	f.mu.Lock()
	now := f.now()
	for s, issued := range f.states {
		if now.Sub(issued) > stateTTL {
			delete(f.states, s)
		}
	}
	f.states[state] = now
	f.mu.Unlock()

	url := f.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("force_verify", "true"))
	return url, state
}

// Exchange trades an authorization code for a token. The state must be
// one LoginURL issued within the last ten minutes; each is single use.
func (f *Flow) Exchange(ctx context.Context, code, state string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	if state == "" || !f.consumeState(state) {
		return nil, ErrInvalidState
	}

	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	f.logger.Info("oauth token obtained", "expires", tok.Expiry)
	return tok, nil
}

// Refresh obtains a fresh access token.
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	src := f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	f.logger.Info("oauth token refreshed", "expires", tok.Expiry)
	return tok, nil
}

func (f *Flow) consumeState(state string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	issued, ok := f.states[state]
	if !ok {
		return false
	}
	delete(f.states, state)
	return f.now().Sub(issued) <= stateTTL
}
