package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()

	d, err := Data("quest", "done", "42")
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if d != "quest:done:42" {
		t.Fatalf("got %q", d)
	}
	cd, err := ParseData("\f" + d)
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if cd.Scope != "quest" || cd.Action != "done" || cd.Payload != "42" {
		t.Fatalf("parsed %+v", cd)
	}
}

func TestDataLimits(t *testing.T) {
	t.Parallel()

	if _, err := Data("quest", "done", strings.Repeat("x", MaxCallbackDataLen)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("expected ErrCallbackDataTooLong, got %v", err)
	}
	for _, bad := range []string{"", "quest", ":done", "quest:"} {
		if _, err := ParseData(bad); !errors.Is(err, ErrCallbackDataInvalid) {
			t.Fatalf("ParseData(%q): expected ErrCallbackDataInvalid, got %v", bad, err)
		}
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	tests := []struct {
		items []string
		max   int
		want  string
	}{
		{[]string{"a", "b"}, 5, "a, b"},
		{[]string{"a", "b", "c"}, 2, "a, b +1 more"},
		{[]string{"a", "b", "c"}, 0, "a, b, c"},
		{nil, 5, ""},
	}
	for _, tt := range tests {
		tt := tt
		if got := Preview(tt.items, tt.max, ", "); got != tt.want {
			t.Fatalf("Preview(%v, %d) = %q, want %q", tt.items, tt.max, got, tt.want)
		}
	}
}

func TestBuilderEscapesAndAttachesKeyboard(t *testing.T) {
	t.Parallel()

	kb := NewInline().Row(Btn("✅ Done", "quest:done:1"))
	m := New().Title("🔔", "A<B").Line("x & y").KV("Cooldown", "1h").Inline(kb).Build()

	want := "🔔 <b>A&lt;B</b>\nx &amp; y\n• <b>Cooldown</b>: 1h"
	if m.Text != want {
		t.Fatalf("text:\n%q\nwant\n%q", m.Text, want)
	}
	if m.Opt.ParseMode != "HTML" || m.Opt.ReplyMarkupAdapter == nil {
		t.Fatalf("unexpected options %+v", m.Opt)
	}

	plain := New().Line("hi").Inline(NewInline()).Build()
	if plain.Opt.ReplyMarkupAdapter != nil {
		t.Fatalf("empty keyboard should not be attached")
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	if got := TruncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("hi", 3); got != "hi" {
		t.Fatalf("got %q", got)
	}
}
