package adapter

import (
	"context"
	"hash/fnv"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "questbot/internal/transport"
	logx "questbot/pkg/logx"
)

// Telegram accepts at most 100 menu entries with 256-byte descriptions.
const (
	maxMenuEntries = 100
	maxMenuDesc    = 256
)

// UpdateMenuCommands publishes cmds as the bot's command menu. It is a
// no-op when the list has not changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := menuOf(cmds)
	sum := menuChecksum(menu)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuSum {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menuSum = sum
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

func menuOf(cmds []kit.BotCommand) []tele.Command {
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > maxMenuDesc {
			d = d[:maxMenuDesc]
			for !utf8.ValidString(d) {
				d = d[:len(d)-1]
			}
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) == maxMenuEntries {
			break
		}
	}
	return out
}

func menuChecksum(menu []tele.Command) uint64 {
	h := fnv.New64a()
	for _, c := range menu {
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
