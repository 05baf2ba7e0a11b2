package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"alchemy.ai/internal/persistence/indexdb"
	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/session"
	"alchemy.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	session.EventLogger
	Close() error
	UpsertCatalog(cat *catalogs.Catalog, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	Achievements(ctx context.Context) ([]indexdb.Achievement, error)
	Dropped() uint64
}

func openRuntimeIndex(sessionDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ALCHEMY_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(sessionDir, "index", "session.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported ALCHEMY_INDEX_BACKEND: %s", backend)
	}
}

// multiEventLogger fans one entry out to the file log and the index.
type multiEventLogger struct {
	a session.EventLogger
	b session.EventLogger
}

func (m multiEventLogger) WriteEvent(entry session.LogEntry) error {
	if m.a != nil {
		_ = m.a.WriteEvent(entry)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(entry)
	}
	return nil
}
