package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/game"
	"alchemy.ai/internal/sim/session"
	"alchemy.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of the event log. The JSONL files
// stay the source of truth; writes here are dropped when the writer lags.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	event    session.LogEntry
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Seq        uint64
	Path       string
	SessionID  string
	Variant    string
	TimeMs     int64
	Resources  int
	InProgress int
}

type Achievement struct {
	Seq    uint64
	TimeMs int64
	TaskID string
	Name   string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			time_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			task_id TEXT NOT NULL,
			task_key TEXT NOT NULL,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id, seq);`,
		`CREATE TABLE IF NOT EXISTS achievements (
			seq INTEGER NOT NULL,
			task_id TEXT NOT NULL,
			name TEXT NOT NULL,
			time_ms INTEGER NOT NULL,
			PRIMARY KEY (seq, task_id)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			session_id TEXT NOT NULL,
			variant TEXT NOT NULL,
			time_ms INTEGER NOT NULL,
			resources INTEGER NOT NULL,
			in_progress INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteEvent(entry session.LogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: entry}:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Seq:        snap.Header.Seq,
		Path:       path,
		SessionID:  snap.Header.SessionID,
		Variant:    snap.Header.Variant,
		TimeMs:     snap.Header.TimeMs,
		Resources:  len(snap.Ledger),
		InProgress: len(snap.InProgress),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropped.Add(1)
	}
}

// Sync blocks until every write queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// UpsertCatalog stores the active catalog and the applied tuning.
func (s *SQLiteIndex) UpsertCatalog(cat *catalogs.Catalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if len(cat.Raw) > 0 {
		rows = append(rows, kv{name: "tasks:" + cat.Variant, digest: cat.Digest, json: cat.Raw})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('variant',?)`, cat.Variant); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Achievements(ctx context.Context) ([]Achievement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, time_ms, task_id, name FROM achievements ORDER BY seq, task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Achievement
	for rows.Next() {
		var a Achievement
		var seq int64
		if err := rows.Scan(&seq, &a.TimeMs, &a.TaskID, &a.Name); err != nil {
			return nil, err
		}
		a.Seq = uint64(seq)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) EventCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(seq,time_ms,kind,task_id,task_key,digest,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertAchievement, _ := s.db.Prepare(`INSERT OR REPLACE INTO achievements(seq,task_id,name,time_ms) VALUES(?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(seq,path,session_id,variant,time_ms,resources,in_progress) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, insertAchievement, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			raw, _ := json.Marshal(e)
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(int64(e.Seq), e.TimeMs, string(e.Kind), e.TaskID, e.Key, e.Digest, string(raw)); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for _, ev := range e.Events {
				if ev.Kind != game.EventAchievement || insertAchievement == nil {
					continue
				}
				if _, err := tx.Stmt(insertAchievement).Exec(int64(e.Seq), ev.TaskID, ev.Name, e.TimeMs); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(int64(sn.Seq), sn.Path, sn.SessionID, sn.Variant, sn.TimeMs, sn.Resources, sn.InProgress); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		// Batch while the queue is busy; commit as soon as it drains so
		// readers on the single connection are not held up.
		if tx != nil && (len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
