package relay

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/autorelay/pkg/autorelay/channels"
	"github.com/jholhewres/autorelay/pkg/autorelay/contacts"
	"github.com/jholhewres/autorelay/pkg/autorelay/rules"
	"github.com/jholhewres/autorelay/pkg/autorelay/scheduler"
	"github.com/jholhewres/autorelay/pkg/autorelay/storage"
)

// fakeChannel is an in-memory channels.Channel for driving the relay.
type fakeChannel struct {
	name string
	in   chan *channels.IncomingMessage

	mu        sync.Mutex
	sent      []sentMessage
	connected bool
}

type sentMessage struct {
	To      string
	Content string
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{
		name: name,
		in:   make(chan *channels.IncomingMessage, 16),
	}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.in)
	}
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: to, Content: msg.Content})
	return nil
}

func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return f.in }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: f.IsConnected()}
}

func (f *fakeChannel) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// testHarness bundles a running relay with its fake transports.
type testHarness struct {
	relay   *Relay
	manager *channels.Manager
	discord *fakeChannel
	wa      *fakeChannel
}

func newTestHarness(t *testing.T, admins []string) *testHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ruleStore, err := rules.NewStore(db, logger)
	if err != nil {
		t.Fatalf("new rule store: %v", err)
	}
	allowList, err := contacts.NewAllowList(db, "91", logger)
	if err != nil {
		t.Fatalf("new allow-list: %v", err)
	}

	sched := scheduler.New(scheduler.NewSQLiteStorage(db),
		func(ctx context.Context, contactID, message string) error { return nil },
		logger)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(sched.Stop)

	cfg := DefaultConfig()
	cfg.Relay.HumanDelay = 0 // deterministic replies in tests
	cfg.Admins = admins

	gate := NewGate(admins, allowList.Normalize, logger)

	manager := channels.NewManager(logger)
	discord := newFakeChannel("discord")
	wa := newFakeChannel("whatsapp")
	if err := manager.Register(discord); err != nil {
		t.Fatalf("register discord: %v", err)
	}
	if err := manager.Register(wa); err != nil {
		t.Fatalf("register whatsapp: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}

	r := New(cfg, manager, ruleStore, allowList, sched, gate, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(context.Background())
	}()
	t.Cleanup(func() {
		r.Stop()
		manager.Stop()
		<-done
	})

	return &testHarness{relay: r, manager: manager, discord: discord, wa: wa}
}

// waitForSent polls a fake channel until it has sent n messages.
func waitForSent(t *testing.T, f *fakeChannel, n int) []sentMessage {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := f.sentMessages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent messages, got %d", n, len(f.sentMessages()))
	return nil
}

func incoming(channel, from, chatID, content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:        "msg-1",
		Channel:   channel,
		From:      from,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestWhatsAppAutoReply(t *testing.T) {
	h := newTestHarness(t, nil)

	if err := h.relay.rules.Upsert("urgent", "I'll reply ASAP"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := h.relay.contacts.Add("9876543210"); err != nil {
		t.Fatalf("add contact: %v", err)
	}

	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "this is URGENT")

	msgs := waitForSent(t, h.wa, 1)
	if msgs[0].Content != "I'll reply ASAP" {
		t.Errorf("unexpected reply %q", msgs[0].Content)
	}
	if msgs[0].To != "919876543210@s.whatsapp.net" {
		t.Errorf("reply sent to wrong chat %q", msgs[0].To)
	}
}

func TestWhatsAppIgnoresUnknownSender(t *testing.T) {
	h := newTestHarness(t, nil)

	if err := h.relay.rules.Upsert("urgent", "I'll reply ASAP"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Sender is not on the allow-list: no reply at all.
	h.wa.in <- incoming("whatsapp", "5511999998888@s.whatsapp.net",
		"5511999998888@s.whatsapp.net", "urgent please")

	// Then a matched message from an allowed contact proves the loop is
	// alive and the first message was dropped, not delayed.
	if _, err := h.relay.contacts.Add("9876543210"); err != nil {
		t.Fatalf("add contact: %v", err)
	}
	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "urgent too")

	msgs := waitForSent(t, h.wa, 1)
	if len(msgs) != 1 || msgs[0].To != "919876543210@s.whatsapp.net" {
		t.Errorf("expected exactly one reply to the allowed contact, got %+v", msgs)
	}
}

func TestWhatsAppNoMatchNoReply(t *testing.T) {
	h := newTestHarness(t, nil)

	if _, err := h.relay.contacts.Add("9876543210"); err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if err := h.relay.rules.Upsert("ping", "pong"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "nothing matching here")
	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "ping")

	msgs := waitForSent(t, h.wa, 1)
	if len(msgs) != 1 || msgs[0].Content != "pong" {
		t.Errorf("expected only the matched reply, got %+v", msgs)
	}
}

func TestDiscordCommandRoundTrip(t *testing.T) {
	h := newTestHarness(t, nil)

	h.discord.in <- incoming("discord", "operator", "chan-1",
		`/addrule "urgent" "I'll reply ASAP"`)

	msgs := waitForSent(t, h.discord, 1)
	if msgs[0].To != "chan-1" {
		t.Errorf("response sent to wrong chat %q", msgs[0].To)
	}
	if _, ok := h.relay.rules.Get("urgent"); !ok {
		t.Error("expected rule to be stored")
	}
}

func TestDiscordRuleReplyWithoutAllowList(t *testing.T) {
	h := newTestHarness(t, nil)

	if err := h.relay.rules.Upsert("hello", "hi there"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Discord senders are never filtered through the allow-list.
	h.discord.in <- incoming("discord", "random-user", "chan-1", "hello everyone")

	msgs := waitForSent(t, h.discord, 1)
	if msgs[0].Content != "hi there" {
		t.Errorf("unexpected reply %q", msgs[0].Content)
	}
}

func TestCommandDeniedForNonAdmin(t *testing.T) {
	h := newTestHarness(t, []string{"9876543210"})

	h.discord.in <- incoming("discord", "intruder", "chan-1", "/rules")

	msgs := waitForSent(t, h.discord, 1)
	if msgs[0].Content != DeniedReply {
		t.Errorf("expected uniform denial, got %q", msgs[0].Content)
	}
}

func TestDiscordSnowflakeAdmin(t *testing.T) {
	// Discord senders carry snowflake user IDs, not phone numbers. A
	// snowflake admin entry must match its own sender form.
	h := newTestHarness(t, []string{"210987654321098765"})

	h.discord.in <- incoming("discord", "210987654321098765", "chan-1", "/rules")

	msgs := waitForSent(t, h.discord, 1)
	if msgs[0].Content == DeniedReply {
		t.Fatal("snowflake admin was denied its own command surface")
	}

	// Any other snowflake stays denied.
	h.discord.in <- incoming("discord", "999999999999999999", "chan-1", "/rules")
	msgs = waitForSent(t, h.discord, 2)
	if msgs[1].Content != DeniedReply {
		t.Errorf("expected uniform denial for non-admin snowflake, got %q", msgs[1].Content)
	}
}

func TestWhatsAppAdminCommands(t *testing.T) {
	// Phone-number admins run commands over WhatsApp, where their sender
	// ID actually is a phone JID.
	h := newTestHarness(t, []string{"9876543210"})

	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "/status")

	msgs := waitForSent(t, h.wa, 1)
	if !strings.Contains(msgs[0].Content, "Rules: 0") {
		t.Errorf("expected status output, got %q", msgs[0].Content)
	}

	// A non-admin sender gets nothing, not even a denial: the WhatsApp
	// surface stays silent to unknowns. The follow-up admin command
	// proves the first message was dropped.
	h.wa.in <- incoming("whatsapp", "5511999998888@s.whatsapp.net",
		"5511999998888@s.whatsapp.net", "/status")
	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "/rules")

	msgs = waitForSent(t, h.wa, 2)
	if len(msgs) != 2 || msgs[1].To != "919876543210@s.whatsapp.net" {
		t.Errorf("expected silence for the unknown sender, got %+v", msgs)
	}
}

func TestWhatsAppOpenModeKeepsCommandsOff(t *testing.T) {
	// With no admins configured Discord commands are open, but the
	// WhatsApp surface must not expose the dispatcher to arbitrary
	// senders.
	h := newTestHarness(t, nil)

	if err := h.relay.rules.Upsert("ping", "pong"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := h.relay.contacts.Add("9876543210"); err != nil {
		t.Fatalf("add contact: %v", err)
	}

	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "/rules")
	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "ping")

	msgs := waitForSent(t, h.wa, 1)
	if len(msgs) != 1 || msgs[0].Content != "pong" {
		t.Errorf("expected only the rule reply, got %+v", msgs)
	}
}

func TestSendDirect(t *testing.T) {
	h := newTestHarness(t, nil)

	err := h.relay.SendDirect(context.Background(), "919876543210", "scheduled hello")
	if err != nil {
		t.Fatalf("send direct: %v", err)
	}

	msgs := h.wa.sentMessages()
	if len(msgs) != 1 || msgs[0].To != "919876543210" || msgs[0].Content != "scheduled hello" {
		t.Errorf("unexpected sends %+v", msgs)
	}
}

func TestStopDropsRepliesRacingShutdown(t *testing.T) {
	// Delays short enough to fire while Stop runs: once Stop has
	// returned, no reply may go out, no matter how the timers raced.
	h := newTestHarness(t, nil)
	h.relay.cfg.Relay.HumanDelay = 10 * time.Millisecond

	if err := h.relay.rules.Upsert("ping", "pong"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := h.relay.contacts.Add("9876543210"); err != nil {
		t.Fatalf("add contact: %v", err)
	}

	for i := 0; i < 8; i++ {
		h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
			"919876543210@s.whatsapp.net", "ping")
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.relay.PendingReplies() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	h.relay.Stop()
	sentAtStop := len(h.wa.sentMessages())

	time.Sleep(50 * time.Millisecond)
	if got := len(h.wa.sentMessages()); got != sentAtStop {
		t.Errorf("reply sent after Stop returned: %d then %d", sentAtStop, got)
	}
	if h.relay.PendingReplies() != 0 {
		t.Errorf("expected no pending replies after stop, got %d", h.relay.PendingReplies())
	}
}

func TestDelayedReplyCancelledOnStop(t *testing.T) {
	h := newTestHarness(t, nil)
	h.relay.cfg.Relay.HumanDelay = 1 * time.Hour

	if err := h.relay.rules.Upsert("ping", "pong"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := h.relay.contacts.Add("9876543210"); err != nil {
		t.Fatalf("add contact: %v", err)
	}

	h.wa.in <- incoming("whatsapp", "919876543210@s.whatsapp.net",
		"919876543210@s.whatsapp.net", "ping")

	deadline := time.Now().Add(2 * time.Second)
	for h.relay.PendingReplies() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.relay.PendingReplies() != 1 {
		t.Fatalf("expected 1 pending reply, got %d", h.relay.PendingReplies())
	}

	h.relay.Stop()

	if h.relay.PendingReplies() != 0 {
		t.Errorf("expected pending replies cleared on stop, got %d", h.relay.PendingReplies())
	}
	if len(h.wa.sentMessages()) != 0 {
		t.Error("expected delayed reply to be dropped, not sent")
	}
}
