// Package relay wires the pieces of autorelay together: configuration, the
// admin command dispatcher, the authorization gate, and the event loop that
// turns incoming messages into rule-matched replies.
package relay

import (
	"time"

	"github.com/jholhewres/autorelay/pkg/autorelay/rules"
)

// Config holds all relay configuration.
type Config struct {
	// Name is the bot name shown in /status and /help output.
	Name string `yaml:"name"`

	// Storage configures the shared database.
	Storage StorageConfig `yaml:"storage"`

	// Channels configures the two messaging transports.
	Channels ChannelsConfig `yaml:"channels"`

	// Rules configures trigger matching.
	Rules RulesConfig `yaml:"rules"`

	// Contacts configures the auto-reply allow-list.
	Contacts ContactsConfig `yaml:"contacts"`

	// Relay configures reply delivery behavior.
	Relay RelayConfig `yaml:"relay"`

	// Admins lists the senders allowed to run admin commands: WhatsApp
	// phone numbers, Discord user IDs, or both. Entries and live sender
	// IDs go through the same normalization, so either form matches the
	// surface it arrives on. An empty list leaves the command surface
	// open on Discord only (single-operator mode).
	Admins []string `yaml:"admins"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the shared SQLite database.
type StorageConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`
}

// ChannelsConfig holds per-channel configuration.
type ChannelsConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// DiscordConfig configures the admin/command channel.
type DiscordConfig struct {
	// Enabled turns the Discord channel on.
	Enabled bool `yaml:"enabled"`

	// Token is the bot token. Usually "${AUTORELAY_DISCORD_TOKEN}";
	// resolution order is OS keyring, environment, then this value.
	Token string `yaml:"token"`

	// GuildID restricts the bot to one server ("" = all).
	GuildID string `yaml:"guild_id"`

	// ChannelID restricts the bot to one text channel ("" = all).
	ChannelID string `yaml:"channel_id"`
}

// WhatsAppConfig configures the auto-reply channel.
type WhatsAppConfig struct {
	// Enabled turns the WhatsApp channel on.
	Enabled bool `yaml:"enabled"`

	// SessionPath is the whatsmeow session database path.
	SessionPath string `yaml:"session_path"`

	// IgnoreGroups skips group chats entirely.
	IgnoreGroups bool `yaml:"ignore_groups"`
}

// RulesConfig configures trigger matching.
type RulesConfig struct {
	// MatchMode selects how overlapping triggers resolve:
	// "first" (storage order) or "longest" (longest trigger wins).
	MatchMode rules.MatchMode `yaml:"match_mode"`
}

// ContactsConfig configures contact normalization.
type ContactsConfig struct {
	// DefaultCountryCode is prefixed to numbers that lack one.
	DefaultCountryCode string `yaml:"default_country_code"`
}

// RelayConfig configures reply delivery.
type RelayConfig struct {
	// HumanDelay is the pause before an auto-reply is sent, so replies
	// don't land instantly. Zero disables the delay.
	HumanDelay time.Duration `yaml:"human_delay"`

	// SendTimeout bounds every outbound send.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "autorelay",
		Storage: StorageConfig{
			Path: "autorelay.db",
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled: true,
				Token:   "${AUTORELAY_DISCORD_TOKEN}",
			},
			WhatsApp: WhatsAppConfig{
				Enabled:      true,
				SessionPath:  "whatsapp.db",
				IgnoreGroups: true,
			},
		},
		Rules: RulesConfig{
			MatchMode: rules.MatchFirst,
		},
		Contacts: ContactsConfig{
			DefaultCountryCode: "91",
		},
		Relay: RelayConfig{
			HumanDelay:  3 * time.Second,
			SendTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
