package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/game"
	"alchemy.ai/internal/sim/session"
	"alchemy.ai/internal/sim/tuning"
)

func TestSQLiteIndexRecordsEventsAndSnapshots(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "session.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	entries := []session.LogEntry{
		{Seq: 1, TimeMs: 0, Kind: session.OpStart, TaskID: "A", Key: "A#0", Digest: "d1"},
		{Seq: 2, TimeMs: 1000, Kind: session.OpFinish, TaskID: "A", Key: "A#0", Digest: "d2", Events: []game.Event{
			{Kind: game.EventAchievement, TaskID: "A", Name: "Light Fire"},
			{Kind: game.EventEffect, TaskID: "A", Name: "Light Fire"},
		}},
		{Seq: 3, TimeMs: 1000, Kind: session.OpStart, TaskID: "B", Key: "B#0", Digest: "d3"},
	}
	for _, e := range entries {
		if err := idx.WriteEvent(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	idx.RecordSnapshot("snapshots/3.snap.zst", snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, SessionID: "s1", Variant: "starter", Seq: 3, TimeMs: 1000},
		Ledger: map[string]int{"fire": 3},
	})
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if n, err := idx.EventCount(ctx); err != nil || n != 3 {
		t.Fatalf("events: n=%d err=%v", n, err)
	}
	if n, err := idx.SnapshotCount(ctx); err != nil || n != 1 {
		t.Fatalf("snapshots: n=%d err=%v", n, err)
	}
	ach, err := idx.Achievements(ctx)
	if err != nil {
		t.Fatalf("achievements: %v", err)
	}
	if len(ach) != 1 || ach[0].TaskID != "A" || ach[0].Seq != 2 || ach[0].TimeMs != 1000 {
		t.Fatalf("achievements: %+v", ach)
	}
	if idx.Dropped() != 0 {
		t.Fatalf("dropped %d writes", idx.Dropped())
	}
}

func TestSQLiteIndexUpsertCatalog(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "session.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	cat, err := catalogs.LoadVariant("../../../configs/catalogs", "starter")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := idx.UpsertCatalog(cat, tuning.Defaults()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.UpsertCatalog(cat, tuning.Defaults()); err != nil {
		t.Fatalf("upsert twice: %v", err)
	}

	var digest string
	if err := idx.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name = 'tasks:starter'`).Scan(&digest); err != nil {
		t.Fatalf("query: %v", err)
	}
	if digest != cat.Digest {
		t.Fatalf("digest %q want %q", digest, cat.Digest)
	}
	var variant string
	if err := idx.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'variant'`).Scan(&variant); err != nil || variant != "starter" {
		t.Fatalf("meta variant: %q %v", variant, err)
	}
}

func TestClosedIndexIgnoresWrites(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "session.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.WriteEvent(session.LogEntry{Seq: 1}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
