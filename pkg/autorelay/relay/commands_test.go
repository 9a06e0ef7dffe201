package relay

import (
	"strings"
	"testing"

	"github.com/jholhewres/autorelay/pkg/autorelay/channels"
)

func TestSplitArgs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`/rules`, []string{"/rules"}},
		{`/addcontact 9876543210`, []string{"/addcontact", "9876543210"}},
		{`/addrule "out of office" "back monday"`,
			[]string{"/addrule", "out of office", "back monday"}},
		{`/addrule "hi" reply`, []string{"/addrule", "hi", "reply"}},
		{`/send 123 hello   world`, []string{"/send", "123", "hello", "world"}},
	}

	for _, tc := range cases {
		got := splitArgs(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("splitArgs(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitArgs(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestParseClock(t *testing.T) {
	t.Run("valid times", func(t *testing.T) {
		for in, want := range map[string][2]int{
			"08:30": {8, 30},
			"23:59": {23, 59},
			"0:05":  {0, 5},
		} {
			h, m, err := parseClock(in)
			if err != nil {
				t.Errorf("parseClock(%q): %v", in, err)
				continue
			}
			if h != want[0] || m != want[1] {
				t.Errorf("parseClock(%q) = %d:%d, want %d:%d", in, h, m, want[0], want[1])
			}
		}
	})

	t.Run("invalid times", func(t *testing.T) {
		for _, in := range []string{"24:00", "12:60", "noon", "12", "12:xx", "-1:30"} {
			if _, _, err := parseClock(in); err == nil {
				t.Errorf("parseClock(%q): expected error", in)
			}
		}
	})
}

func command(from, content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:      "cmd-1",
		Channel: "discord",
		From:    from,
		ChatID:  "chan-1",
		Content: content,
	}
}

func TestHandleCommandRules(t *testing.T) {
	h := newTestHarness(t, nil)
	r := h.relay

	t.Run("addrule stores the rule", func(t *testing.T) {
		res := r.HandleCommand(command("op", `/addrule "urgent" "I'll reply ASAP"`))
		if !res.Handled {
			t.Fatal("expected handled")
		}
		if reply, ok := r.rules.Get("urgent"); !ok || reply != "I'll reply ASAP" {
			t.Errorf("rule not stored, got %q ok=%v", reply, ok)
		}
	})

	t.Run("rules lists stored rules", func(t *testing.T) {
		res := r.HandleCommand(command("op", "/rules"))
		if !strings.Contains(res.Response, "urgent") {
			t.Errorf("expected listing to mention the rule, got %q", res.Response)
		}
	})

	t.Run("editrule requires an existing rule", func(t *testing.T) {
		res := r.HandleCommand(command("op", `/editrule "missing" "x"`))
		if !strings.Contains(res.Response, "No rule") {
			t.Errorf("expected not-found message, got %q", res.Response)
		}

		res = r.HandleCommand(command("op", `/editrule "urgent" "updated"`))
		if reply, _ := r.rules.Get("urgent"); reply != "updated" {
			t.Errorf("expected rule updated, got %q (response %q)", reply, res.Response)
		}
	})

	t.Run("delrule removes and reports missing", func(t *testing.T) {
		r.HandleCommand(command("op", `/delrule "urgent"`))
		if _, ok := r.rules.Get("urgent"); ok {
			t.Error("expected rule deleted")
		}

		res := r.HandleCommand(command("op", `/delrule "urgent"`))
		if !strings.Contains(res.Response, "No rule") {
			t.Errorf("expected not-found message, got %q", res.Response)
		}
	})

	t.Run("addrule usage on missing args", func(t *testing.T) {
		res := r.HandleCommand(command("op", "/addrule"))
		if !strings.HasPrefix(res.Response, "Usage:") {
			t.Errorf("expected usage message, got %q", res.Response)
		}
	})
}

func TestHandleCommandContacts(t *testing.T) {
	h := newTestHarness(t, nil)
	r := h.relay

	res := r.HandleCommand(command("op", "/addcontact 9876543210"))
	if !strings.Contains(res.Response, "919876543210") {
		t.Errorf("expected normalized number in response, got %q", res.Response)
	}
	if !r.contacts.IsAllowed("9876543210") {
		t.Error("expected contact on the allow-list")
	}

	res = r.HandleCommand(command("op", "/contacts"))
	if !strings.Contains(res.Response, "919876543210") {
		t.Errorf("expected listing to show the contact, got %q", res.Response)
	}

	res = r.HandleCommand(command("op", "/delcontact 09876543210"))
	if r.contacts.IsAllowed("9876543210") {
		t.Errorf("expected contact removed (response %q)", res.Response)
	}

	res = r.HandleCommand(command("op", "/delcontact 9876543210"))
	if !strings.Contains(res.Response, "not on the allow-list") {
		t.Errorf("expected not-found message, got %q", res.Response)
	}
}

func TestHandleCommandSchedules(t *testing.T) {
	h := newTestHarness(t, nil)
	r := h.relay

	t.Run("schedule creates a daily entry", func(t *testing.T) {
		res := r.HandleCommand(command("op", "/schedule 9876543210 08:30 good morning"))
		if !strings.Contains(res.Response, "919876543210_08:30") {
			t.Errorf("expected schedule id in response, got %q", res.Response)
		}
		if r.scheduler.Count() != 1 {
			t.Errorf("expected 1 schedule, got %d", r.scheduler.Count())
		}
	})

	t.Run("schedules lists entries", func(t *testing.T) {
		res := r.HandleCommand(command("op", "/schedules"))
		if !strings.Contains(res.Response, "08:30") ||
			!strings.Contains(res.Response, "good morning") {
			t.Errorf("expected listing with time and message, got %q", res.Response)
		}
	})

	t.Run("invalid time is rejected", func(t *testing.T) {
		res := r.HandleCommand(command("op", "/schedule 9876543210 25:00 hello"))
		if !strings.Contains(res.Response, "Invalid time") {
			t.Errorf("expected time error, got %q", res.Response)
		}
	})

	t.Run("cancel removes the entry", func(t *testing.T) {
		r.HandleCommand(command("op", "/cancel 9876543210 08:30"))
		if r.scheduler.Count() != 0 {
			t.Errorf("expected schedule cancelled, got %d", r.scheduler.Count())
		}

		res := r.HandleCommand(command("op", "/cancel 9876543210 08:30"))
		if !strings.Contains(res.Response, "No schedule") {
			t.Errorf("expected not-found message, got %q", res.Response)
		}
	})
}

func TestHandleCommandSend(t *testing.T) {
	h := newTestHarness(t, nil)

	res := h.relay.HandleCommand(command("op", "/send 9876543210 hello from admin"))
	if !strings.Contains(res.Response, "sent") {
		t.Errorf("expected confirmation, got %q", res.Response)
	}

	msgs := h.wa.sentMessages()
	if len(msgs) != 1 || msgs[0].To != "919876543210" ||
		msgs[0].Content != "hello from admin" {
		t.Errorf("unexpected sends %+v", msgs)
	}
}

func TestHandleCommandMisc(t *testing.T) {
	h := newTestHarness(t, nil)
	r := h.relay

	t.Run("non-command passes through", func(t *testing.T) {
		res := r.HandleCommand(command("op", "just chatting"))
		if res.Handled {
			t.Error("expected non-command to be unhandled")
		}
	})

	t.Run("unknown command is swallowed with a hint", func(t *testing.T) {
		res := r.HandleCommand(command("op", "/frobnicate"))
		if !res.Handled {
			t.Error("expected command-shaped input to be handled")
		}
		if !strings.Contains(res.Response, "/help") {
			t.Errorf("expected hint, got %q", res.Response)
		}
	})

	t.Run("status reports counters and channels", func(t *testing.T) {
		res := r.HandleCommand(command("op", "/status"))
		for _, want := range []string{"Rules:", "Contacts:", "Schedules:", "whatsapp", "discord"} {
			if !strings.Contains(res.Response, want) {
				t.Errorf("expected status to contain %q, got %q", want, res.Response)
			}
		}
	})

	t.Run("help lists every command", func(t *testing.T) {
		res := r.HandleCommand(command("op", "/help"))
		for _, want := range []string{
			"/rules", "/addrule", "/editrule", "/delrule",
			"/contacts", "/addcontact", "/delcontact",
			"/send", "/schedule", "/schedules", "/cancel",
			"/status", "/help",
		} {
			if !strings.Contains(res.Response, want) {
				t.Errorf("expected help to mention %s", want)
			}
		}
	})
}

func TestHandleCommandAuthorization(t *testing.T) {
	h := newTestHarness(t, []string{"9876543210"})
	r := h.relay

	t.Run("admin passes in any equivalent form", func(t *testing.T) {
		res := r.HandleCommand(command("919876543210@s.whatsapp.net", "/rules"))
		if res.Response == DeniedReply {
			t.Error("expected admin to pass the gate")
		}
	})

	t.Run("every command denied uniformly for unknowns", func(t *testing.T) {
		for _, cmd := range []string{
			"/rules", "/addrule \"a\" \"b\"", "/contacts", "/schedules",
			"/status", "/help", "/send 123 x",
		} {
			res := r.HandleCommand(command("intruder", cmd))
			if res.Response != DeniedReply {
				t.Errorf("%s: expected uniform denial, got %q", cmd, res.Response)
			}
		}
	})
}
