package snapshot

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"alchemy.ai/internal/sim/game"
)

func sampleState() game.State {
	return game.State{
		Ledger:    map[string]int{"fire": 3, "stone": 2, "CHOICE_RELIGION": 1},
		TaskTimes: map[string]int{"A": 1, "B": 2},
		InProgress: []game.InProgress{
			{ID: "B", Started: true, StartTimeMs: 4200},
			{ID: "C", Started: false},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots", FileName(7))

	h := Header{SessionID: "s-1", Variant: "starter", Seq: 7, TimeMs: 5000}
	snap := FromState(h, "digest-abc", sampleState())
	snap.Finishes = 3
	if snap.Header.Version != Version {
		t.Fatalf("version not stamped: %+v", snap.Header)
	}
	if len(snap.InProgress) != 1 {
		t.Fatalf("only running tasks are persisted: %+v", snap.InProgress)
	}

	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
	}

	hdr, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if hdr != snap.Header {
		t.Fatalf("header: got %+v want %+v", hdr, snap.Header)
	}

	st := got.State()
	if st.Ledger["fire"] != 3 || st.TaskTimes["B"] != 2 {
		t.Fatalf("state: %+v", st)
	}
	if len(st.InProgress) != 1 || !st.InProgress[0].Started || st.InProgress[0].StartTimeMs != 4200 {
		t.Fatalf("in progress: %+v", st.InProgress)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.snap.zst")
	if err := os.WriteFile(p, []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(p); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if got := Latest(dir); got != "" {
		t.Fatalf("empty dir: %q", got)
	}
	for _, name := range []string{FileName(9), FileName(120), FileName(30), "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := Latest(dir); got != filepath.Join(dir, "120.snap.zst") {
		t.Fatalf("latest: %q", got)
	}
	if got := Latest(filepath.Join(dir, "missing")); got != "" {
		t.Fatalf("missing dir: %q", got)
	}

	if l := List(dir); len(l) != 3 || l[0].Seq != 9 || l[2].Seq != 120 {
		t.Fatalf("list: %+v", l)
	}
	if e, ok := AtOrBefore(dir, 100); !ok || e.Seq != 30 {
		t.Fatalf("at or before 100: %+v %v", e, ok)
	}
	if _, ok := AtOrBefore(dir, 5); ok {
		t.Fatalf("expected nothing at or before 5")
	}
}
