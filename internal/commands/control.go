package commands

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"questbot/internal/notifier"
	"questbot/internal/storage"
	"questbot/internal/transport/telegram/router"
	logx "questbot/pkg/logx"
	"questbot/pkg/tgui"
)

func (s *Set) cmdDone(ctx context.Context, req *router.Request) error {
	name := strings.TrimSpace(strings.Join(req.Args, " "))
	if name == "" {
		return router.Userf("usage: /done NAME")
	}
	it, err := s.tr.StatusByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return router.Userf("no task named %q", name)
	}
	if err != nil {
		return err
	}
	r, err := s.tr.OnComplete(ctx, it.Task.ID)
	s.audit(ctx, req, "quest.done", it.Task.Name, err)
	if err != nil {
		return err
	}
	// The open notification, if any, is struck through like a button press.
	if h := notifier.Handle(it.Record.NotificationHandle); h != "" {
		s.editCard(ctx, req, h, r.Replace)
	}
	return req.Reply(ctx, r.Reply)
}

func (s *Set) cmdPause(ctx context.Context, req *router.Request) error {
	err := s.tr.Pause(ctx)
	s.audit(ctx, req, "tracker.pause", "", err)
	if err != nil {
		return err
	}
	return req.Reply(ctx, "⏸️ Notifications paused. Use /resume to continue.")
}

func (s *Set) cmdResume(ctx context.Context, req *router.Request) error {
	err := s.tr.Resume(ctx)
	s.audit(ctx, req, "tracker.resume", "", err)
	if err != nil {
		return err
	}
	return req.Reply(ctx, "▶️ Notifications resumed.")
}

// settingAliases maps short names accepted by /settings set to stored keys.
var settingAliases = map[string]string{
	"cooldown":     storage.SettingNotificationCooldown,
	"stale":        storage.SettingAutoRefresh,
	"auto_refresh": storage.SettingAutoRefresh,
	"active":       storage.SettingBotActive,
}

func settingKey(k string) (string, bool) {
	k = strings.ToLower(strings.TrimSpace(k))
	if full, ok := settingAliases[k]; ok {
		return full, true
	}
	_, ok := storage.DefaultSettings()[k]
	return k, ok
}

// normalizeSetting validates v for key and returns its stored form.
func normalizeSetting(key, v string) (string, error) {
	v = strings.TrimSpace(v)
	if key == storage.SettingBotActive {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", router.Userf("%s must be true or false", key)
		}
		return strconv.FormatBool(b), nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return "", router.Userf("%s must be a whole number of minutes", key)
	}
	return strconv.Itoa(n), nil
}

func (s *Set) cmdSettings(ctx context.Context, req *router.Request) error {
	kv, err := s.store.Settings(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := tgui.New().Title("⚙️", "Settings")
	for _, k := range keys {
		b.KV(k, kv[k])
	}
	b.Blank().HTML(tgui.Esc("Change with ") + tgui.Code("/settings set KEY VALUE"))
	return req.ReplyMsg(ctx, b.Build())
}

func (s *Set) cmdSettingsSet(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 2 {
		return router.Userf("usage: /settings set KEY VALUE")
	}
	key, ok := settingKey(req.Args[0])
	if !ok {
		return router.Userf("unknown setting %q", req.Args[0])
	}
	val, err := normalizeSetting(key, req.Args[1])
	if err != nil {
		return err
	}
	err = s.store.SetSetting(ctx, key, val)
	s.audit(ctx, req, "settings.set", key+"="+val, err)
	if err != nil {
		return err
	}
	req.Logger.Info("setting changed", logx.String("key", key), logx.String("value", val))
	return req.Reply(ctx, "✅ "+key+" = "+val)
}
