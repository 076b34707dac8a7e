package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "questbot/internal/transport"
)

func (a *Adapter) forward(up kit.Update) {
	box := a.out.Load()
	if box == nil || box.ch == nil {
		return
	}
	select {
	case box.ch <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) onText(c tele.Context) error {
	if up, ok := messageUpdate(c.Message()); ok {
		a.forward(up)
	}
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	if up, ok := callbackUpdate(c.Callback()); ok {
		a.forward(up)
	}
	return nil
}

// messageUpdate converts a text message. Messages without a sender, such as
// channel posts, are ignored.
func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return kit.Update{}, false
	}
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			ThreadID:     m.ThreadID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
			IsGroup:      m.Chat.Type != tele.ChatPrivate,
		},
	}, true
}

// callbackUpdate converts a button press on one of our messages. Telebot
// prefixes unique-button data with a form feed.
func callbackUpdate(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil || cb.Sender == nil {
		return kit.Update{}, false
	}
	m := cb.Message
	return kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID:           cb.ID,
			ChatID:       m.Chat.ID,
			ThreadID:     m.ThreadID,
			FromID:       cb.Sender.ID,
			FromUsername: cb.Sender.Username,
			MessageID:    m.ID,
			Data:         strings.TrimPrefix(cb.Data, "\f"),
		},
	}, true
}
