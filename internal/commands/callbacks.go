package commands

import (
	"context"
	"errors"
	"strconv"

	"questbot/internal/notifier"
	"questbot/internal/storage"
	kit "questbot/internal/transport"
	"questbot/internal/transport/telegram/router"
	logx "questbot/pkg/logx"
)

// resolveCard finds the task behind a pressed button. The message handle is
// tried first so a card always acts on the task it was sent for; the
// payload id covers cards whose handle was overwritten by a later delivery.
func (s *Set) resolveCard(ctx context.Context, req *router.Request, payload string) (int64, notifier.Handle, error) {
	cb := req.Callback()
	if cb == nil {
		return 0, "", router.Userf("not a button press")
	}
	own := notifier.TelegramHandle(kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID})
	v, err := s.store.FindByDeliveryHandle(ctx, string(own))
	switch {
	case err == nil:
		return v.Task.ID, notifier.Handle(v.Record.NotificationHandle), nil
	case !errors.Is(err, storage.ErrNotFound):
		return 0, "", err
	}
	id, perr := strconv.ParseInt(payload, 10, 64)
	if perr != nil || id <= 0 {
		return 0, "", router.Userf("unknown task")
	}
	return id, own, nil
}

// editCard replaces the Telegram part of h with html. Other sinks keep
// their copy.
func (s *Set) editCard(ctx context.Context, req *router.Request, h notifier.Handle, html string) {
	for _, p := range h.Parts() {
		if p.Sink() != "tg" {
			continue
		}
		ref, err := notifier.ParseTelegramHandle(p)
		if err != nil {
			continue
		}
		if err := req.Adapter.EditText(ctx, ref, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
			req.Logger.Debug("edit card failed", logx.String("handle", string(p)), logx.Err(err))
		}
	}
}

func (s *Set) answer(ctx context.Context, req *router.Request, text string) {
	if cb := req.Callback(); cb != nil {
		_ = req.Adapter.AnswerCallback(ctx, cb.ID, text)
	}
}

func (s *Set) cbDone(ctx context.Context, req *router.Request, payload string) error {
	id, h, err := s.resolveCard(ctx, req, payload)
	if err != nil {
		s.answer(ctx, req, "❌ "+err.Error())
		return err
	}
	r, err := s.tr.OnComplete(ctx, id)
	s.audit(ctx, req, "quest.done", strconv.FormatInt(id, 10), err)
	if err != nil {
		s.answer(ctx, req, "❌ Failed")
		return err
	}
	s.editCard(ctx, req, h, r.Replace)
	s.answer(ctx, req, "✅ Done")
	return req.Reply(ctx, r.Reply)
}

func (s *Set) cbSkip(ctx context.Context, req *router.Request, payload string) error {
	id, h, err := s.resolveCard(ctx, req, payload)
	if err != nil {
		s.answer(ctx, req, "❌ "+err.Error())
		return err
	}
	r, err := s.tr.OnSkip(ctx, id)
	s.audit(ctx, req, "quest.skip", strconv.FormatInt(id, 10), err)
	if err != nil {
		s.answer(ctx, req, "❌ Failed")
		return err
	}
	s.editCard(ctx, req, h, r.Replace)
	s.answer(ctx, req, "⏭️ Skipped")
	return nil
}

func (s *Set) cbSnooze(ctx context.Context, req *router.Request, payload string) error {
	id, h, err := s.resolveCard(ctx, req, payload)
	if err != nil {
		s.answer(ctx, req, "❌ "+err.Error())
		return err
	}
	r, err := s.tr.OnSnooze(ctx, id, h, 0)
	s.audit(ctx, req, "quest.snooze", strconv.FormatInt(id, 10), err)
	if err != nil {
		s.answer(ctx, req, "❌ Failed")
		return err
	}
	s.answer(ctx, req, "⏰ Snoozed")
	return req.Reply(ctx, r.Reply)
}
