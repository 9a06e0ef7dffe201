package rules

import "testing"

func TestMatch(t *testing.T) {
	snapshot := []Rule{
		{Trigger: "hi", Reply: "hello there"},
		{Trigger: "urgent", Reply: "I'll reply ASAP"},
		{Trigger: "hit", Reply: "ouch"},
	}

	t.Run("matches substring case-insensitively", func(t *testing.T) {
		r, ok := Match("this is URGENT!!", snapshot, MatchFirst)
		if !ok {
			t.Fatal("expected a match")
		}
		if r.Trigger != "urgent" || r.Reply != "I'll reply ASAP" {
			t.Errorf("unexpected rule: %+v", r)
		}
	})

	t.Run("no match for unrelated text", func(t *testing.T) {
		if _, ok := Match("nothing special", snapshot, MatchFirst); ok {
			t.Error("expected no match")
		}
	})

	t.Run("first mode resolves overlap by storage order", func(t *testing.T) {
		// "hit me" contains both "hi" and "hit"; "hi" is stored first.
		r, ok := Match("hit me", snapshot, MatchFirst)
		if !ok {
			t.Fatal("expected a match")
		}
		if r.Trigger != "hi" {
			t.Errorf("expected first-stored trigger, got %q", r.Trigger)
		}
	})

	t.Run("longest mode prefers the longer trigger", func(t *testing.T) {
		r, ok := Match("hit me", snapshot, MatchLongest)
		if !ok {
			t.Fatal("expected a match")
		}
		if r.Trigger != "hit" {
			t.Errorf("expected longest trigger, got %q", r.Trigger)
		}
	})

	t.Run("longest mode ties break by storage order", func(t *testing.T) {
		snap := []Rule{
			{Trigger: "abc", Reply: "one"},
			{Trigger: "xyz", Reply: "two"},
		}
		r, ok := Match("abc xyz", snap, MatchLongest)
		if !ok {
			t.Fatal("expected a match")
		}
		if r.Reply != "one" {
			t.Errorf("expected first-stored rule to win the tie, got %+v", r)
		}
	})

	t.Run("empty snapshot never matches", func(t *testing.T) {
		if _, ok := Match("anything", nil, MatchFirst); ok {
			t.Error("expected no match on empty rule set")
		}
	})
}
