package storage

import (
	"context"
	"fmt"
	"strings"

	logx "framesched/pkg/logx"
)

// Store is the persistence API used by the history recorder and the status
// server. Implementations are safe for concurrent use.
type Store interface {
	AppendTaskRecord(ctx context.Context, r TaskRecord) error
	// RecentTaskRecords returns up to n records, newest first.
	RecentTaskRecords(ctx context.Context, n int) ([]TaskRecord, error)
	Close() error
}

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

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
