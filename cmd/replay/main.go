package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "alchemy.ai/internal/persistence/log"
	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/game"
	"alchemy.ai/internal/sim/session"
)

func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst (optional; replays from a fresh session when empty)")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		configDir = flag.String("configs", "./configs", "config directory")
		variant   = flag.String("variant", "", "catalog variant (default: the snapshot's)")
		toSeq     = flag.Uint64("to_seq", 0, "stop after seq (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" && *variant == "" {
		fmt.Fprintln(os.Stderr, "need -snapshot or -variant")
		os.Exit(2)
	}

	var (
		snap    snapshot.SnapshotV1
		hasSnap bool
	)
	if *snapPath != "" {
		s, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		snap, hasSnap = s, true
		fmt.Printf("snapshot v%d session=%s variant=%s seq=%d resources=%d in_progress=%d finishes=%d\n",
			snap.Header.Version, snap.Header.SessionID, snap.Header.Variant, snap.Header.Seq,
			len(snap.Ledger), len(snap.InProgress), snap.Finishes)
		if *variant == "" {
			*variant = snap.Header.Variant
		}
	}

	if *eventsDir == "" {
		return
	}

	cat, err := catalogs.LoadVariant(filepath.Join(*configDir, "catalogs"), *variant)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalog:", err)
		os.Exit(1)
	}

	eng := game.Import(cat.Defs, game.State{Ledger: cat.Seed})
	var startSeq uint64
	if hasSnap {
		if snap.CatalogDigest != cat.Digest {
			fmt.Fprintln(os.Stderr, "warning: snapshot catalog digest differs from", cat.Variant)
		}
		eng = game.Import(cat.Defs, snap.State())
		startSeq = snap.Header.Seq
	}

	entries, err := persistlog.ReadEvents(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no events found in", *eventsDir)
		os.Exit(1)
	}

	checked, err := session.Replay(eng, entries, startSeq, *toSeq)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ops (from seq=%d) digest=%s\n", checked, startSeq, eng.Digest())
}
