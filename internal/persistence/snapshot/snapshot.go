package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"alchemy.ai/internal/sim/game"
)

const Version = 1

const fileSuffix = ".snap.zst"

type Header struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	Variant   string `json:"variant"`
	Seq       uint64 `json:"seq"`
	TimeMs    int64  `json:"time_ms"`
}

// SnapshotV1 is the persisted session state. The catalog itself is not
// stored; CatalogDigest pins which catalog the state was taken against.
type SnapshotV1 struct {
	Header Header `json:"header"`

	CatalogDigest string `json:"catalog_digest"`

	Ledger     map[string]int `json:"completed_counts"`
	TaskTimes  map[string]int `json:"tasks_times"`
	InProgress []InProgressV1 `json:"in_progress"`

	Finishes uint64 `json:"finishes"`
}

type InProgressV1 struct {
	ID          string `json:"id"`
	StartTimeMs int64  `json:"start_time_ms"`
}

func FromState(h Header, catalogDigest string, st game.State) SnapshotV1 {
	h.Version = Version
	snap := SnapshotV1{
		Header:        h,
		CatalogDigest: catalogDigest,
		Ledger:        st.Ledger,
		TaskTimes:     st.TaskTimes,
	}
	for _, ip := range st.InProgress {
		if !ip.Started {
			continue
		}
		snap.InProgress = append(snap.InProgress, InProgressV1{ID: ip.ID, StartTimeMs: ip.StartTimeMs})
	}
	return snap
}

func (s SnapshotV1) State() game.State {
	st := game.State{
		Ledger:    map[string]int{},
		TaskTimes: map[string]int{},
	}
	for k, v := range s.Ledger {
		st.Ledger[k] = v
	}
	for k, v := range s.TaskTimes {
		st.TaskTimes[k] = v
	}
	for _, ip := range s.InProgress {
		st.InProgress = append(st.InProgress, game.InProgress{ID: ip.ID, Started: true, StartTimeMs: ip.StartTimeMs})
	}
	return st
}

// FileName is the canonical name for a snapshot at seq.
func FileName(seq uint64) string { return fmt.Sprintf("%d%s", seq, fileSuffix) }

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	br, closeFn, err := open(path)
	if err != nil {
		return snap, err
	}
	defer closeFn()

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	br, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	defer closeFn()

	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	closeFn := func() {
		dec.Close()
		_ = f.Close()
	}
	return bufio.NewReaderSize(dec, 64*1024), closeFn, nil
}

// Entry is one snapshot file found on disk.
type Entry struct {
	Seq  uint64
	Path string
}

// List returns the snapshots in dir ordered by seq. Files that do not
// follow the <seq>.snap.zst naming are skipped.
func List(dir string) []Entry {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Entry
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Seq: seq, Path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Latest returns the snapshot in dir with the highest seq, or "" if none.
func Latest(dir string) string {
	l := List(dir)
	if len(l) == 0 {
		return ""
	}
	return l[len(l)-1].Path
}

// AtOrBefore returns the newest snapshot in dir whose seq is <= seq.
func AtOrBefore(dir string, seq uint64) (Entry, bool) {
	var best Entry
	found := false
	for _, e := range List(dir) {
		if e.Seq > seq {
			break
		}
		best, found = e, true
	}
	return best, found
}
