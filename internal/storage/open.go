package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "questbot/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case "file":
		st, err = openFile(cfg, log)
	case "memory", "mem":
		st, err = openMemory(log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Seed {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		seeded, err := st.Seed(ctx, DefaultCatalog())
		cancel()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		if seeded {
			log.Info("storage seeded with default catalogue", logx.String("driver", driver))
		}
	}
	return st, nil
}
