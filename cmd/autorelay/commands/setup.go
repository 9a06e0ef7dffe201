package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/autorelay/pkg/autorelay/relay"
	"github.com/jholhewres/autorelay/pkg/autorelay/rules"
)

// newSetupCmd creates the `autorelay setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for bot name, default country code, match mode, and the Discord
bot token. The token goes to the OS keyring when available — never
into config.yaml in plaintext.

Examples:
  autorelay setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := relay.DefaultConfig()

	var (
		name         = cfg.Name
		countryCode  = cfg.Contacts.DefaultCountryCode
		matchMode    = string(cfg.Rules.MatchMode)
		humanDelay   = cfg.Relay.HumanDelay.String()
		ignoreGroups = cfg.Channels.WhatsApp.IgnoreGroups
		discordToken string
		adminsRaw    string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Shown in /status and /help output.").
				Value(&name),

			huh.NewInput().
				Title("Default country code").
				Description("Prefixed to phone numbers that lack one, e.g. 91 or 55.").
				Validate(validateDigits).
				Value(&countryCode),

			huh.NewSelect[string]().
				Title("Trigger match mode").
				Description("How overlapping triggers resolve.").
				Options(
					huh.NewOption("first match wins (storage order)", string(rules.MatchFirst)),
					huh.NewOption("longest trigger wins", string(rules.MatchLongest)),
				).
				Value(&matchMode),

			huh.NewInput().
				Title("Reply delay").
				Description("Pause before an auto-reply is sent, e.g. 3s. 0 disables it.").
				Validate(validateDuration).
				Value(&humanDelay),

			huh.NewConfirm().
				Title("Ignore WhatsApp group chats?").
				Value(&ignoreGroups),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Description("Leave empty to configure later via AUTORELAY_DISCORD_TOKEN.").
				EchoMode(huh.EchoModePassword).
				Value(&discordToken),

			huh.NewInput().
				Title("Admins").
				Description("Comma-separated WhatsApp numbers or Discord user IDs\nallowed to run commands. Empty leaves commands open on Discord.").
				Value(&adminsRaw),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Println("Setup cancelled.")
		return nil
	}

	cfg.Name = strings.TrimSpace(name)
	cfg.Contacts.DefaultCountryCode = strings.TrimSpace(countryCode)
	cfg.Rules.MatchMode = rules.MatchMode(matchMode)
	cfg.Relay.HumanDelay, _ = time.ParseDuration(humanDelay)
	cfg.Channels.WhatsApp.IgnoreGroups = ignoreGroups
	cfg.Admins = splitAdmins(adminsRaw)

	// ── Token storage ──
	tokenStorage := "not set"
	discordToken = strings.TrimSpace(discordToken)
	if discordToken != "" {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		if relay.KeyringAvailable() {
			if err := relay.MigrateTokenToKeyring(discordToken, logger); err == nil {
				tokenStorage = "OS keyring"
			}
		}
		if tokenStorage == "not set" {
			// No keyring on this system. Keep the value in config.yaml and
			// warn; the env var path stays available.
			cfg.Channels.Discord.Token = discordToken
			tokenStorage = "config.yaml (plaintext, prefer AUTORELAY_DISCORD_TOKEN)"
		}
	}

	// ── Summary ──
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println("  Configuration summary:")
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("  Name:          %s\n", cfg.Name)
	fmt.Printf("  Country code:  %s\n", cfg.Contacts.DefaultCountryCode)
	fmt.Printf("  Match mode:    %s\n", cfg.Rules.MatchMode)
	fmt.Printf("  Reply delay:   %s\n", cfg.Relay.HumanDelay)
	fmt.Printf("  Ignore groups: %v\n", cfg.Channels.WhatsApp.IgnoreGroups)
	fmt.Printf("  Discord token: %s\n", tokenStorage)
	if len(cfg.Admins) > 0 {
		fmt.Printf("  Admins:        %s\n", strings.Join(cfg.Admins, ", "))
	} else {
		fmt.Println("  Admins:        (open mode)")
	}
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println()

	// ── Confirm and save ──
	target := "config.yaml"
	save := true
	if _, err := os.Stat(target); err == nil {
		save = false
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
			Value(&save)
		if err := confirm.Run(); err != nil || !save {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := relay.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("%s created (permissions: 600).\n\n", target)
	fmt.Println("Next steps:")
	fmt.Println("  1. Run: autorelay serve")
	fmt.Println("  2. Scan the QR code with WhatsApp (Linked Devices)")
	fmt.Println("  3. Manage rules from Discord: /addrule \"trigger\" \"reply\"")
	fmt.Println()

	return nil
}

// splitAdmins parses a comma-separated admin list, dropping empties.
func splitAdmins(raw string) []string {
	var admins []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			admins = append(admins, part)
		}
	}
	return admins
}

// validateDigits accepts non-empty strings of decimal digits.
func validateDigits(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("required")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return fmt.Errorf("digits only")
		}
	}
	return nil
}

// validateDuration accepts anything time.ParseDuration understands.
func validateDuration(s string) error {
	if _, err := time.ParseDuration(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("invalid duration, use e.g. 3s or 0")
	}
	return nil
}
