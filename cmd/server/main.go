package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "alchemy.ai/internal/persistence/log"
	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/session"
	"alchemy.ai/internal/sim/tuning"
	"alchemy.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sessionID  = flag.String("session", "session_1", "session id")
		variant    = flag.String("variant", "", "catalog variant (default: tuning default_variant)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (events, achievements, snapshot metadata)")
		scale      = flag.Float64("duration_scale", 0, "override tuning duration_scale, development only (0 keeps tuning)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *scale > 0 {
		tune.DurationScale = *scale
	}
	if tune.DevSpeed() {
		logger.Printf("duration_scale=%v: task durations differ from the catalog (development only)", tune.DurationScale)
	}

	v := strings.TrimSpace(*variant)
	if v == "" {
		v = tune.DefaultVariant
	}
	cats, err := catalogs.Load(filepath.Join(*configDir, "catalogs"))
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	cat, err := cats.Get(v)
	if err != nil {
		logger.Fatalf("catalog: %v", err)
	}
	for _, w := range cat.Lint() {
		logger.Printf("catalog %s: %s", cat.Variant, w)
	}

	sessionDir := filepath.Join(*dataDir, "sessions", *sessionID)
	_ = os.MkdirAll(sessionDir, 0o755)
	snapDir := filepath.Join(sessionDir, "snapshots")

	idx, err := openRuntimeIndex(sessionDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalog(cat, tune); err != nil {
			logger.Printf("index backend: upsert catalog: %v", err)
		}
	}

	sess := session.New(session.Config{
		ID:                    *sessionID,
		Variant:               cat.Variant,
		CatalogDigest:         cat.Digest,
		TickRateHz:            tune.TickRateHz,
		DurationScale:         tune.DurationScale,
		SnapshotEveryFinishes: tune.SnapshotEveryFinishes,
		Seed:                  cat.Seed,
	}, cat.Defs, session.RealClock{})

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(snapDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.SessionID != "" && snap.Header.SessionID != *sessionID {
			logger.Fatalf("snapshot session id mismatch: flag=%s snap=%s", *sessionID, snap.Header.SessionID)
		}
		if snap.Header.Variant != cat.Variant {
			logger.Fatalf("snapshot variant mismatch: catalog=%s snap=%s", cat.Variant, snap.Header.Variant)
		}
		if snap.CatalogDigest != cat.Digest {
			logger.Printf("snapshot taken against another catalog revision; unknown tasks are dropped")
		}
		sess.Restore(snap)
		logger.Printf("resumed from snapshot=%s seq=%d", filepath.Base(snapshotToLoad), snap.Header.Seq)
	}
	if n, err := resumeSession(sess, sessionDir); err != nil {
		logger.Fatalf("resume: %v", err)
	} else if n > 0 {
		logger.Printf("replayed %d logged ops; seq=%d", n, sess.Metrics().Seq)
	}

	ctx, cancel := signalContext()
	defer cancel()

	eventLog := persistlog.NewEventLogger(sessionDir)
	defer eventLog.Close()
	var idxLogger session.EventLogger
	if idx != nil {
		idxLogger = idx
	}
	sess.SetEventLogger(multiEventLogger{a: eventLog, b: idxLogger})

	persist := func(snap snapshot.SnapshotV1) (string, error) {
		path := filepath.Join(snapDir, snapshot.FileName(snap.Header.Seq))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			return "", err
		}
		if idx != nil {
			idx.RecordSnapshot(path, snap)
		}
		return path, nil
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	sess.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				if _, err := persist(snap); err != nil {
					logger.Printf("snapshot write: %v", err)
				}
			}
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := sess.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("session stopped: %v", err)
		}
	}()

	rt := &serverRuntime{
		sess:    sess,
		cat:     cat,
		idx:     idx,
		ws:      ws.NewServer(sess, cat, tune.RateLimits, logger),
		logger:  logger,
		persist: persist,
	}
	mux := buildMux(rt,
		envBool("ALCHEMY_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		envBool("ALCHEMY_ENABLE_PPROF_HTTP", false),
	)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("session=%s variant=%s tasks=%d listening on %s", *sessionID, cat.Variant, len(cat.Defs), *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	cancel()
	<-runDone
	if path, err := writeFinalSnapshot(sess, snapDir, persist); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else if path != "" {
		logger.Printf("final snapshot=%s seq=%d", filepath.Base(path), sess.Metrics().Seq)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
