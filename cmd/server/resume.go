package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	persistlog "alchemy.ai/internal/persistence/log"
	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/session"
)

// resumeSession replays the operations logged after the loaded snapshot
// (or all of them for a fresh session). A session without an events dir
// has nothing to replay.
func resumeSession(sess *session.Session, sessionDir string) (int, error) {
	entries, err := persistlog.ReadEvents(filepath.Join(sessionDir, "events"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read events: %w", err)
	}
	n, err := sess.Resume(entries)
	if err != nil {
		return n, fmt.Errorf("replay events: %w", err)
	}
	return n, nil
}

// writeFinalSnapshot persists the state of a stopped session unless the
// newest snapshot on disk already has its seq.
func writeFinalSnapshot(sess *session.Session, snapDir string, persist func(snapshot.SnapshotV1) (string, error)) (string, error) {
	snap := sess.Snapshot()
	if snap.Header.Seq == 0 {
		return "", nil
	}
	if latest := snapshot.Latest(snapDir); latest != "" {
		if h, err := snapshot.ReadHeader(latest); err == nil && h.Seq >= snap.Header.Seq {
			return "", nil
		}
	}
	return persist(snap)
}
