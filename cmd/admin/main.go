package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	persistlog "alchemy.ai/internal/persistence/log"
	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/game"
	"alchemy.ai/internal/sim/session"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rewind":
			rewindCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			httpCmd("state", http.MethodGet, "/admin/v1/state", os.Args[2:])
			return
		case "snapshot":
			httpCmd("snapshot", http.MethodPost, "/admin/v1/snapshot", os.Args[2:])
			return
		case "achievements":
			httpCmd("achievements", http.MethodGet, "/admin/v1/achievements", os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "sessions")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		line := e.Name()
		if p := snapshot.Latest(filepath.Join(base, e.Name(), "snapshots")); p != "" {
			if h, err := snapshot.ReadHeader(p); err == nil {
				line += fmt.Sprintf("\tvariant=%s seq=%d", h.Variant, h.Seq)
			}
		}
		fmt.Println(line)
	}
}

// rewindCmd rebuilds the session state as of to_seq from the newest
// snapshot at or before it plus the event log, and writes it as a new
// snapshot. The server replays a session's whole log on start, so a
// rewound state is played on under a new session id: with -fork the
// snapshot becomes the first snapshot of that session.
func rewindCmd(args []string) {
	fs := flag.NewFlagSet("rewind", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sessionID := fs.String("session", "", "session id")
	configDir := fs.String("configs", "./configs", "config directory")
	variant := fs.String("variant", "", "catalog variant (default: from the base snapshot)")
	toSeq := fs.Uint64("to_seq", 0, "target seq (required)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	fork := fs.String("fork", "", "new session id to start from the rewound state (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*sessionID) == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}
	if *toSeq == 0 {
		fmt.Fprintln(os.Stderr, "missing -to_seq")
		os.Exit(2)
	}

	sessionDir := filepath.Join(*dataDir, "sessions", *sessionID)
	base, hasBase := snapshot.AtOrBefore(filepath.Join(sessionDir, "snapshots"), *toSeq)

	var (
		snap    snapshot.SnapshotV1
		baseSeq uint64
	)
	if hasBase {
		s, err := snapshot.ReadSnapshot(base.Path)
		if err != nil {
			fail("read snapshot", err)
		}
		snap, baseSeq = s, s.Header.Seq
		if *variant == "" {
			*variant = s.Header.Variant
		}
	}
	if *variant == "" {
		fmt.Fprintln(os.Stderr, "no snapshot at or before to_seq; provide -variant to rewind from a fresh session")
		os.Exit(2)
	}

	cat, err := catalogs.LoadVariant(filepath.Join(*configDir, "catalogs"), *variant)
	if err != nil {
		fail("load catalog", err)
	}
	st := game.State{Ledger: cat.Seed}
	if hasBase {
		st = snap.State()
	}
	eng := game.Import(cat.Defs, st)

	entries, err := persistlog.ReadEvents(filepath.Join(sessionDir, "events"))
	if err != nil && baseSeq < *toSeq {
		fail("read events", err)
	}
	applied, err := session.Replay(eng, entries, baseSeq, *toSeq)
	if err != nil {
		fail("replay", err)
	}
	if got := baseSeq + uint64(applied); got != *toSeq {
		fmt.Fprintf(os.Stderr, "event log ends at seq %d, before to_seq %d\n", got, *toSeq)
		os.Exit(1)
	}

	var timeMs int64
	for _, e := range entries {
		if e.Seq == *toSeq {
			timeMs = e.TimeMs
		}
	}
	if timeMs == 0 {
		timeMs = snap.Header.TimeMs
	}
	outSession := *sessionID
	forkID := strings.TrimSpace(*fork)
	if forkID != "" {
		if forkID == *sessionID {
			fmt.Fprintln(os.Stderr, "-fork must differ from -session")
			os.Exit(2)
		}
		outSession = forkID
	}
	out := snapshot.FromState(snapshot.Header{
		SessionID: outSession,
		Variant:   cat.Variant,
		Seq:       *toSeq,
		TimeMs:    timeMs,
	}, cat.Digest, eng.Export())

	dst := strings.TrimSpace(*outPath)
	switch {
	case dst != "":
	case forkID != "":
		forkDir := filepath.Join(*dataDir, "sessions", forkID)
		if _, err := os.Stat(forkDir); err == nil {
			fmt.Fprintf(os.Stderr, "session %s already exists\n", forkID)
			os.Exit(2)
		}
		dst = filepath.Join(forkDir, "snapshots", snapshot.FileName(*toSeq))
	default:
		dst = filepath.Join(sessionDir, "rewind", snapshot.FileName(*toSeq))
	}
	if err := snapshot.WriteSnapshot(dst, out); err != nil {
		fail("write snapshot", err)
	}
	fmt.Printf("rewind ok: base_seq=%d applied=%d seq=%d digest=%s out=%s\n", baseSeq, applied, *toSeq, eng.Digest(), dst)
}
