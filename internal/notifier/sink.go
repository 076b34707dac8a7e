package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"questbot/internal/quest"
	kit "questbot/internal/transport"
	"questbot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

var (
	ErrNoSink        = errors.New("notifier: no sink configured")
	ErrNoTarget      = errors.New("notifier: no target chat")
	ErrUnknownHandle = errors.New("notifier: unknown handle")
)

// Sink delivers rendered cards to one chat platform.
type Sink interface {
	Name() string
	Send(ctx context.Context, c Card) (Handle, error)
	Delete(ctx context.Context, h Handle) error
}

// CallbackScope prefixes callback data of card buttons.
const CallbackScope = "quest"

// TelegramSink sends cards through the Telegram adapter. Cards without a
// target go to Fallback.
type TelegramSink struct {
	ad       kit.Adapter
	Fallback quest.Target
}

func NewTelegramSink(ad kit.Adapter, fallback quest.Target) *TelegramSink {
	return &TelegramSink{ad: ad, Fallback: fallback}
}

func (t *TelegramSink) Name() string { return "tg" }

func (t *TelegramSink) Send(ctx context.Context, c Card) (Handle, error) {
	to := c.Target
	if to.IsZero() {
		to = t.Fallback
	}
	if to.IsZero() {
		return "", ErrNoTarget
	}

	b := tgui.New().Title(c.Emoji, c.Title)
	for _, ln := range c.Lines {
		b.Line(ln)
	}
	if len(c.Actions) > 0 {
		kb := tgui.NewInline()
		btns := make([]tele.Btn, 0, len(c.Actions))
		for _, a := range c.Actions {
			data, err := tgui.Data(CallbackScope, string(a), strconv.FormatInt(c.TaskID, 10))
			if err != nil {
				return "", err
			}
			btns = append(btns, tgui.Btn(a.Label(), data))
		}
		b.Inline(kb.Row(btns...))
	}
	msg := b.Build()

	ref, err := t.ad.SendText(ctx, kit.ChatTarget{ChatID: to.ChatID, ThreadID: to.ThreadID}, msg.Text, msg.Opt)
	if err != nil {
		return "", err
	}
	return TelegramHandle(ref), nil
}

func (t *TelegramSink) Delete(ctx context.Context, h Handle) error {
	ref, err := ParseTelegramHandle(h)
	if err != nil {
		return err
	}
	return t.ad.DeleteText(ctx, ref)
}

// TelegramHandle encodes ref as "tg:<chat>:<thread>:<message>".
func TelegramHandle(ref kit.MessageRef) Handle {
	return Handle(fmt.Sprintf("tg:%d:%d:%d", ref.ChatID, ref.ThreadID, ref.MessageID))
}

func ParseTelegramHandle(h Handle) (kit.MessageRef, error) {
	parts := strings.Split(string(h), ":")
	if len(parts) != 4 || parts[0] != "tg" {
		return kit.MessageRef{}, fmt.Errorf("%w: %q", ErrUnknownHandle, h)
	}
	chat, err1 := strconv.ParseInt(parts[1], 10, 64)
	thread, err2 := strconv.Atoi(parts[2])
	msg, err3 := strconv.Atoi(parts[3])
	if err := errors.Join(err1, err2, err3); err != nil {
		return kit.MessageRef{}, fmt.Errorf("%w: %q: %v", ErrUnknownHandle, h, err)
	}
	return kit.MessageRef{ChatID: chat, ThreadID: thread, MessageID: msg}, nil
}
