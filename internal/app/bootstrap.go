package app

import (
	"questbot/internal/config"
	"questbot/internal/gametime"
	"questbot/internal/notifier"
	"questbot/internal/storage"
	kit "questbot/internal/transport"
	logx "questbot/pkg/logx"
)

// openStore opens the configured record store. Without a storage section
// the bot runs on an in-memory store seeded with the stock catalogue.
func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		log.Warn("storage not configured; records will not survive a restart")
		sc = storage.Config{Driver: "memory", Seed: true}
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))
	return st, nil
}

// notifierSinks builds the delivery sinks, Telegram first.
func notifierSinks(cfg *config.Config, ad kit.Adapter, clock *gametime.Clock) ([]notifier.Sink, error) {
	sinks := []notifier.Sink{notifier.NewTelegramSink(ad, fallbackTarget(cfg))}
	dc, err := discordSink(cfg, clock)
	if err != nil {
		return nil, err
	}
	if dc != nil {
		sinks = append(sinks, dc)
	}
	return sinks, nil
}
