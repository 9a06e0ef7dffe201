// Package relay – relay.go runs the main event loop: every incoming message
// is either an admin command (handled by the dispatcher) or a candidate for
// a rule-matched auto-reply.
//
// The two channels play different roles. Discord is the control surface:
// commands work there and rule replies are sent to anyone, since reaching
// the bot's server already implies access. WhatsApp is the auto-reply
// surface: only allow-listed contacts get replies, and each reply waits a
// configurable delay before sending so responses don't land instantly.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/autorelay/pkg/autorelay/channels"
	"github.com/jholhewres/autorelay/pkg/autorelay/contacts"
	"github.com/jholhewres/autorelay/pkg/autorelay/rules"
	"github.com/jholhewres/autorelay/pkg/autorelay/scheduler"
)

// whatsappChannel is the transport used for outbound relay sends.
const whatsappChannel = "whatsapp"

// Relay owns the event loop and the domain components.
type Relay struct {
	cfg       *Config
	manager   *channels.Manager
	rules     *rules.Store
	contacts  *contacts.AllowList
	scheduler *scheduler.Scheduler
	gate      *Gate
	logger    *slog.Logger

	// startedAt feeds the /status uptime line.
	startedAt time.Time

	// pending tracks delayed-reply timers by task ID so shutdown can
	// cancel replies that haven't fired yet.
	pending map[string]*time.Timer
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Relay from its components.
func New(cfg *Config, manager *channels.Manager, ruleStore *rules.Store,
	allowList *contacts.AllowList, sched *scheduler.Scheduler,
	gate *Gate, logger *slog.Logger) *Relay {

	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		cfg:       cfg,
		manager:   manager,
		rules:     ruleStore,
		contacts:  allowList,
		scheduler: sched,
		gate:      gate,
		logger:    logger.With("component", "relay"),
		pending:   make(map[string]*time.Timer),
	}
}

// Run consumes the channel manager's message stream until the context is
// cancelled or the stream closes. Blocks; call from the serve command.
func (r *Relay) Run(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.startedAt = time.Now()

	r.logger.Info("relay started",
		"match_mode", r.cfg.Rules.MatchMode,
		"human_delay", r.cfg.Relay.HumanDelay,
	)

	for {
		select {
		case <-r.ctx.Done():
			return nil

		case msg, ok := <-r.manager.Messages():
			if !ok {
				return nil
			}
			r.handleIncoming(msg)
		}
	}
}

// Stop cancels pending delayed replies and waits for in-flight sends.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}

	r.mu.Lock()
	for id, timer := range r.pending {
		// A successful Stop means the callback will never run, so its
		// waitgroup slot is released here; otherwise the callback is
		// already in flight and releases it itself.
		if timer.Stop() {
			r.wg.Done()
		}
		delete(r.pending, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("relay stopped")
}

// SendDirect delivers a message to a contact over WhatsApp immediately,
// bypassing rules and the allow-list. Used by /send and the scheduler.
func (r *Relay) SendDirect(ctx context.Context, contactID, message string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ch, ok := r.manager.Channel(whatsappChannel)
	if !ok {
		return fmt.Errorf("whatsapp channel not registered")
	}
	if !ch.IsConnected() {
		return channels.ErrChannelDisconnected
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Relay.SendTimeout)
	defer cancel()

	return ch.Send(ctx, contactID, &channels.OutgoingMessage{Content: message})
}

// TransportReady reports whether the WhatsApp channel can deliver.
// Installed as the scheduler's readiness probe.
func (r *Relay) TransportReady() bool {
	return r.manager.IsReady(whatsappChannel)
}

// ---------- Event loop ----------

func (r *Relay) handleIncoming(msg *channels.IncomingMessage) {
	if msg.Content == "" {
		return
	}

	switch msg.Channel {
	case "discord":
		r.handleDiscord(msg)
	case whatsappChannel:
		r.handleWhatsApp(msg)
	default:
		r.logger.Warn("message from unknown channel", "channel", msg.Channel)
	}
}

// handleDiscord processes control-surface traffic: admin commands first,
// then rule matching without allow-list gating or delay.
func (r *Relay) handleDiscord(msg *channels.IncomingMessage) {
	if IsCommand(msg.Content) {
		result := r.HandleCommand(msg)
		if result.Handled && result.Response != "" {
			r.reply(msg, result.Response)
		}
		return
	}

	rule, ok := rules.Match(msg.Content, r.rules.Snapshot(), r.cfg.Rules.MatchMode)
	if !ok {
		return
	}
	r.logger.Debug("rule matched on discord",
		"trigger", rule.Trigger, "from", msg.From)
	r.reply(msg, rule.Reply)
}

// handleWhatsApp processes auto-reply traffic: allow-list first, then rule
// matching, then a delayed send. Configured admins additionally reach the
// command surface here, so phone-number admin entries are usable without a
// Discord account.
func (r *Relay) handleWhatsApp(msg *channels.IncomingMessage) {
	if msg.IsGroup && r.cfg.Channels.WhatsApp.IgnoreGroups {
		return
	}

	// Only an explicit admin match opens commands on WhatsApp. Open mode
	// keeps them off this surface, so unknown senders still see nothing.
	if IsCommand(msg.Content) && !r.gate.OpenMode() && r.gate.IsAdmin(msg.From) {
		result := r.HandleCommand(msg)
		if result.Handled && result.Response != "" {
			r.reply(msg, result.Response)
		}
		return
	}

	if !r.contacts.IsAllowed(msg.From) {
		// Silently ignored: unknown senders must not learn the bot exists.
		r.logger.Debug("sender not on allow-list", "from", msg.From)
		return
	}

	rule, ok := rules.Match(msg.Content, r.rules.Snapshot(), r.cfg.Rules.MatchMode)
	if !ok {
		return
	}

	r.logger.Info("rule matched",
		"trigger", rule.Trigger,
		"from", r.contacts.Normalize(msg.From),
	)
	r.replyDelayed(msg, rule.Reply)
}

// reply sends a response back on the channel the message arrived on.
func (r *Relay) reply(msg *channels.IncomingMessage, content string) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Relay.SendTimeout)
	defer cancel()

	err := r.manager.Send(ctx, msg.Channel, msg.ChatID, &channels.OutgoingMessage{
		Content: content,
		ReplyTo: msg.ID,
	})
	if err != nil {
		r.logger.Error("reply failed",
			"channel", msg.Channel, "chat", msg.ChatID, "error", err)
	}
}

// replyDelayed schedules a reply after the configured human delay. The
// timer is registered under a task ID so Stop can cancel it; a reply that
// hasn't fired by shutdown is dropped, never sent late.
func (r *Relay) replyDelayed(msg *channels.IncomingMessage, content string) {
	delay := r.cfg.Relay.HumanDelay
	if delay <= 0 {
		r.reply(msg, content)
		return
	}

	taskID := uuid.NewString()

	// The waitgroup slot is claimed before the timer exists, so Stop's
	// Wait always covers a callback that slips past cancellation. The
	// cancellation check shares the lock with Stop's purge: after the
	// purge ran, no new timer may register.
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer r.wg.Done()

		r.mu.Lock()
		delete(r.pending, taskID)
		r.mu.Unlock()

		if r.ctx.Err() != nil {
			return
		}
		r.reply(msg, content)
	})
	r.pending[taskID] = timer
	r.mu.Unlock()
}

// PendingReplies returns the number of delayed replies not yet sent.
func (r *Relay) PendingReplies() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
