// Package relay – keyring.go stores the Discord bot token in the operating
// system's native keyring (Linux: Secret Service/GNOME Keyring, macOS:
// Keychain, Windows: Credential Manager).
//
// Priority for resolving the token:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable / .env file (AUTORELAY_DISCORD_TOKEN)
//  3. config.yaml value (least secure — plaintext on disk)
package relay

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "autorelay"

	// keyringDiscordToken is the key name for the Discord bot token.
	keyringDiscordToken = "discord_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	// Try a write+delete cycle with a test key.
	testKey := "__autorelay_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveDiscordToken resolves the Discord token using the priority chain:
// keyring → env var → config value. Updates the config in-place.
func ResolveDiscordToken(cfg *Config, logger *slog.Logger) {
	// 1. Try OS keyring (encrypted by the OS).
	if val := GetKeyring(keyringDiscordToken); val != "" {
		cfg.Channels.Discord.Token = val
		logger.Debug("Discord token loaded from OS keyring")
		return
	}

	// 2. If config already has a resolved value (from env expansion), keep it.
	if cfg.Channels.Discord.Token != "" && !IsEnvReference(cfg.Channels.Discord.Token) {
		logger.Debug("Discord token loaded from config/env")
		return
	}

	if cfg.Channels.Discord.Enabled {
		logger.Warn("no Discord token found. " +
			"Set AUTORELAY_DISCORD_TOKEN or run: autorelay setup")
	}
}

// MigrateTokenToKeyring moves the Discord token from config/env to the OS
// keyring.
func MigrateTokenToKeyring(token string, logger *slog.Logger) error {
	if err := StoreKeyring(keyringDiscordToken, token); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("Discord token stored in OS keyring",
		"service", keyringService,
		"hint", "You can now remove it from .env and config.yaml")
	return nil
}
