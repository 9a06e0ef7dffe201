package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/autorelay/pkg/autorelay/relay"
	"github.com/jholhewres/autorelay/pkg/autorelay/rules"
	"github.com/jholhewres/autorelay/pkg/autorelay/storage"
)

// newConsoleCmd creates the `autorelay console` command, a local REPL for
// exercising trigger rules against the configured database without
// connecting any channel.
func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive rule-testing console",
		Long: `Opens a local console that matches typed messages against the rule
store, exactly as the relay would. Useful for checking triggers before
going live.

Examples:
  autorelay console
  autorelay console --config ./config.yaml`,
		RunE: runConsole,
	}
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		// No config yet is fine for a dry run; use defaults.
		cfg = relay.DefaultConfig()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ruleStore, err := rules.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	mode := cfg.Rules.MatchMode

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "autorelay> ",
		HistoryFile:     os.TempDir() + "/autorelay_console_history",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("opening console: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Rule console — %d rule(s) loaded, match mode %q.\n", ruleStore.Count(), mode)
	fmt.Println("Type a message to test it. Commands: :rules, :mode first|longest, :quit")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			if quit := consoleCommand(line, ruleStore, &mode); quit {
				return nil
			}
			continue
		}

		rule, ok := rules.Match(line, ruleStore.Snapshot(), mode)
		if !ok {
			fmt.Println("  (no match)")
			continue
		}
		fmt.Printf("  matched %q\n  reply: %s\n", rule.Trigger, rule.Reply)
	}
}

// consoleCommand handles the console's colon commands. Returns true on quit.
func consoleCommand(line string, store *rules.Store, mode *rules.MatchMode) bool {
	fields := strings.Fields(line)

	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true

	case ":rules":
		list := store.List()
		if len(list) == 0 {
			fmt.Println("  no rules configured")
			return false
		}
		for i, r := range list {
			fmt.Printf("  %d. %q -> %s\n", i+1, r.Trigger, r.Reply)
		}

	case ":mode":
		if len(fields) < 2 {
			fmt.Printf("  current mode: %s\n", *mode)
			return false
		}
		switch fields[1] {
		case string(rules.MatchFirst):
			*mode = rules.MatchFirst
		case string(rules.MatchLongest):
			*mode = rules.MatchLongest
		default:
			fmt.Println("  usage: :mode first|longest")
			return false
		}
		fmt.Printf("  mode set to %s\n", *mode)

	default:
		fmt.Println("  commands: :rules, :mode first|longest, :quit")
	}

	return false
}
