package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "cohost"

	// keyringRefreshToken is the key holding the bot's refresh token.
	keyringRefreshToken = "twitch_refresh_token"
)

// TokenStore keeps the refresh token in the OS keyring, keyed per account.
type TokenStore struct {
	account string
}

// NewTokenStore returns a store for account (usually the bot username).
func NewTokenStore(account string) *TokenStore {
	return &TokenStore{account: account}
}

func (s *TokenStore) key() string {
	if s.account == "" {
		return keyringRefreshToken
	}
	return keyringRefreshToken + ":" + s.account
}

// Save stores the refresh token.
func (s *TokenStore) Save(refreshToken string) error {
	if refreshToken == "" {
		return ErrNoRefreshToken
	}
	if err := keyring.Set(keyringService, s.key(), refreshToken); err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return nil
}

// Load returns the stored refresh token, or "" when none exists.
func (s *TokenStore) Load() (string, error) {
	val, err := keyring.Get(keyringService, s.key())
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading refresh token: %w", err)
	}
	return val, nil
}

// Clear removes the stored refresh token.
func (s *TokenStore) Clear() error {
	err := keyring.Delete(keyringService, s.key())
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting refresh token: %w", err)
	}
	return nil
}

// Available reports whether the OS keyring is usable.
func Available() bool {
	const probe = "__cohost_probe__"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}
