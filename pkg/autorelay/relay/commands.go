// Package relay – commands.go implements the admin command surface,
// executed via chat messages on the control channel.
//
// Commands are prefixed with "/"; arguments containing spaces are wrapped
// in double quotes:
//
//	/rules                             - List reply rules
//	/addrule "trigger" "reply"         - Add or overwrite a rule
//	/editrule "trigger" "reply"        - Edit an existing rule
//	/delrule "trigger"                 - Delete a rule
//	/contacts                          - List allow-listed contacts
//	/addcontact <number>               - Allow a contact
//	/delcontact <number>               - Remove a contact
//	/send <number> <message...>        - Send a message now
//	/schedule <number> <HH:MM> <msg>   - Schedule a daily message
//	/schedules                         - List schedules
//	/cancel <number> <HH:MM>           - Cancel a schedule
//	/status                            - Show bot status
//	/help                              - Show available commands
package relay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/autorelay/pkg/autorelay/channels"
	"github.com/jholhewres/autorelay/pkg/autorelay/scheduler"
)

// CommandResult contains the result of a command execution.
type CommandResult struct {
	// Response is the text to send back.
	Response string

	// Handled is true if the message was a command.
	Handled bool
}

// IsCommand returns true if the message starts with "/".
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "/")
}

// HandleCommand processes an admin command from a chat message.
// Returns handled=true for any command-shaped input, including denied and
// unknown commands, so command text never falls through to rule matching.
func (r *Relay) HandleCommand(msg *channels.IncomingMessage) CommandResult {
	content := strings.TrimSpace(msg.Content)
	if !IsCommand(content) {
		return CommandResult{Handled: false}
	}

	args := splitArgs(content)
	cmd := strings.ToLower(args[0])
	args = args[1:]

	// Every command requires authorization, listings included; denied
	// senders get one uniform reply with no detail about what exists.
	if !r.gate.IsAdmin(msg.From) {
		r.logger.Warn("command denied", "from", msg.From, "command", cmd)
		return CommandResult{Response: DeniedReply, Handled: true}
	}

	switch cmd {
	case "/help":
		return CommandResult{Response: r.helpCommand(), Handled: true}

	case "/status":
		return CommandResult{Response: r.statusCommand(), Handled: true}

	case "/rules":
		return CommandResult{Response: r.rulesCommand(), Handled: true}

	case "/addrule":
		return CommandResult{Response: r.addRuleCommand(args), Handled: true}

	case "/editrule":
		return CommandResult{Response: r.editRuleCommand(args), Handled: true}

	case "/delrule":
		return CommandResult{Response: r.delRuleCommand(args), Handled: true}

	case "/contacts":
		return CommandResult{Response: r.contactsCommand(), Handled: true}

	case "/addcontact":
		return CommandResult{Response: r.addContactCommand(args), Handled: true}

	case "/delcontact":
		return CommandResult{Response: r.delContactCommand(args), Handled: true}

	case "/send":
		return CommandResult{Response: r.sendCommand(args), Handled: true}

	case "/schedule":
		return CommandResult{Response: r.scheduleCommand(args), Handled: true}

	case "/schedules":
		return CommandResult{Response: r.schedulesCommand(), Handled: true}

	case "/cancel":
		return CommandResult{Response: r.cancelCommand(args), Handled: true}

	default:
		return CommandResult{
			Response: fmt.Sprintf("Unknown command %s. Try /help.", cmd),
			Handled:  true,
		}
	}
}

// --- Command implementations ---

func (r *Relay) helpCommand() string {
	var b strings.Builder
	b.WriteString("*" + r.cfg.Name + " Commands*\n\n")

	b.WriteString("*Rules:*\n")
	b.WriteString("/rules - List reply rules\n")
	b.WriteString("/addrule \"trigger\" \"reply\" - Add or overwrite a rule\n")
	b.WriteString("/editrule \"trigger\" \"reply\" - Edit an existing rule\n")
	b.WriteString("/delrule \"trigger\" - Delete a rule\n\n")

	b.WriteString("*Contacts:*\n")
	b.WriteString("/contacts - List allow-listed contacts\n")
	b.WriteString("/addcontact <number> - Allow a contact\n")
	b.WriteString("/delcontact <number> - Remove a contact\n\n")

	b.WriteString("*Messaging:*\n")
	b.WriteString("/send <number> <message> - Send a message now\n")
	b.WriteString("/schedule <number> <HH:MM> <message> - Schedule a daily message\n")
	b.WriteString("/schedules - List schedules\n")
	b.WriteString("/cancel <number> <HH:MM> - Cancel a schedule\n\n")

	b.WriteString("/status - Bot status\n")
	b.WriteString("/help - Show this message")
	return b.String()
}

func (r *Relay) statusCommand() string {
	var b strings.Builder
	b.WriteString("*" + r.cfg.Name + " Status*\n\n")
	b.WriteString(fmt.Sprintf("Uptime: %s\n", time.Since(r.startedAt).Round(time.Second)))
	b.WriteString(fmt.Sprintf("Rules: %d\n", r.rules.Count()))
	b.WriteString(fmt.Sprintf("Contacts: %d\n", r.contacts.Count()))
	b.WriteString(fmt.Sprintf("Schedules: %d\n", r.scheduler.Count()))

	for name, h := range r.manager.HealthAll() {
		status := "disconnected"
		if h.Connected {
			status = "connected"
		}
		b.WriteString(fmt.Sprintf("Channel %s: %s (errors: %d)\n", name, status, h.ErrorCount))
	}

	return b.String()
}

func (r *Relay) rulesCommand() string {
	list := r.rules.List()
	if len(list) == 0 {
		return "No rules configured. Add one with /addrule \"trigger\" \"reply\"."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("*Rules (%d)*\n", len(list)))
	for i, rule := range list {
		b.WriteString(fmt.Sprintf("%d. \"%s\" → %s\n", i+1, rule.Trigger, rule.Reply))
	}
	return b.String()
}

func (r *Relay) addRuleCommand(args []string) string {
	if len(args) < 2 {
		return "Usage: /addrule \"trigger\" \"reply\""
	}
	trigger, reply := args[0], args[1]

	if err := r.rules.Upsert(trigger, reply); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Rule added: \"%s\" → %s", strings.ToLower(trigger), reply)
}

func (r *Relay) editRuleCommand(args []string) string {
	if len(args) < 2 {
		return "Usage: /editrule \"trigger\" \"reply\""
	}
	trigger, reply := args[0], args[1]

	if _, ok := r.rules.Get(trigger); !ok {
		return fmt.Sprintf("No rule for \"%s\". Add it with /addrule.", trigger)
	}
	if err := r.rules.Upsert(trigger, reply); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Rule updated: \"%s\" → %s", strings.ToLower(trigger), reply)
}

func (r *Relay) delRuleCommand(args []string) string {
	if len(args) < 1 {
		return "Usage: /delrule \"trigger\""
	}
	trigger := args[0]

	removed, err := r.rules.Remove(trigger)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if !removed {
		return fmt.Sprintf("No rule for \"%s\".", trigger)
	}
	return fmt.Sprintf("Rule \"%s\" deleted.", strings.ToLower(trigger))
}

func (r *Relay) contactsCommand() string {
	list := r.contacts.List()
	if len(list) == 0 {
		return "Allow-list is empty. Add a contact with /addcontact <number>."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("*Contacts (%d)*\n", len(list)))
	for i, id := range list {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, id))
	}
	return b.String()
}

func (r *Relay) addContactCommand(args []string) string {
	if len(args) < 1 {
		return "Usage: /addcontact <number>"
	}

	id, err := r.contacts.Add(args[0])
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Contact %s added to the allow-list.", id)
}

func (r *Relay) delContactCommand(args []string) string {
	if len(args) < 1 {
		return "Usage: /delcontact <number>"
	}

	removed, err := r.contacts.Remove(args[0])
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if !removed {
		return fmt.Sprintf("Contact %s is not on the allow-list.",
			r.contacts.Normalize(args[0]))
	}
	return fmt.Sprintf("Contact %s removed from the allow-list.",
		r.contacts.Normalize(args[0]))
}

func (r *Relay) sendCommand(args []string) string {
	if len(args) < 2 {
		return "Usage: /send <number> <message>"
	}

	contactID := r.contacts.Normalize(args[0])
	if contactID == "" {
		return fmt.Sprintf("Invalid number %q.", args[0])
	}
	message := strings.Join(args[1:], " ")

	if err := r.SendDirect(r.ctx, contactID, message); err != nil {
		if errors.Is(err, channels.ErrChannelDisconnected) {
			return "WhatsApp is not connected. Try again after it reconnects."
		}
		return fmt.Sprintf("Send failed: %v", err)
	}
	return fmt.Sprintf("Message sent to %s.", contactID)
}

func (r *Relay) scheduleCommand(args []string) string {
	if len(args) < 3 {
		return "Usage: /schedule <number> <HH:MM> <message>"
	}

	contactID := r.contacts.Normalize(args[0])
	if contactID == "" {
		return fmt.Sprintf("Invalid number %q.", args[0])
	}

	hour, minute, err := parseClock(args[1])
	if err != nil {
		return fmt.Sprintf("Invalid time %q: use 24h HH:MM.", args[1])
	}
	message := strings.Join(args[2:], " ")

	sched, err := r.scheduler.Create(contactID, message, hour, minute)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Scheduled daily message to %s at %02d:%02d (id %s).",
		sched.ContactID, sched.Hour, sched.Minute, sched.ID)
}

func (r *Relay) schedulesCommand() string {
	list := r.scheduler.List()
	if len(list) == 0 {
		return "No schedules. Create one with /schedule <number> <HH:MM> <message>."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("*Schedules (%d)*\n", len(list)))
	for i, s := range list {
		b.WriteString(fmt.Sprintf("%d. %s at %02d:%02d → %s\n",
			i+1, s.ContactID, s.Hour, s.Minute, s.Message))
	}
	return b.String()
}

func (r *Relay) cancelCommand(args []string) string {
	if len(args) < 2 {
		return "Usage: /cancel <number> <HH:MM>"
	}

	contactID := r.contacts.Normalize(args[0])
	hour, minute, err := parseClock(args[1])
	if err != nil {
		return fmt.Sprintf("Invalid time %q: use 24h HH:MM.", args[1])
	}

	if err := r.scheduler.Cancel(contactID, hour, minute); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			return fmt.Sprintf("No schedule for %s at %02d:%02d.", contactID, hour, minute)
		}
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Schedule for %s at %02d:%02d cancelled.", contactID, hour, minute)
}

// --- Helpers ---

// splitArgs tokenizes a command line, keeping double-quoted segments as
// single arguments: `/addrule "out of office" "back monday"` yields three
// tokens.
func splitArgs(content string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false

	for _, r := range content {
		switch {
		case r == '"':
			if inQuotes {
				args = append(args, current.String())
				current.Reset()
			}
			inQuotes = !inQuotes

		case r == ' ' && !inQuotes:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}

		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}

// parseClock parses "HH:MM" in 24h format.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	return hour, minute, nil
}
