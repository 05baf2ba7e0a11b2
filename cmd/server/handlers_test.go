package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alchemy.ai/internal/persistence/indexdb"
	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/session"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func newTestRuntime(t *testing.T) *serverRuntime {
	t.Helper()
	root := findRepoRootForServerTests(t)
	cat, err := catalogs.LoadVariant(filepath.Join(root, "configs", "catalogs"), "starter")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	sess := session.New(session.Config{
		ID:            "test_session",
		Variant:       cat.Variant,
		CatalogDigest: cat.Digest,
		TickRateHz:    50,
	}, cat.Defs, session.NewFakeClock(0))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = sess.Run(ctx) }()

	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "session.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	sess.SetEventLogger(multiEventLogger{b: idx})

	snapDir := filepath.Join(t.TempDir(), "snapshots")
	return &serverRuntime{
		sess:   sess,
		cat:    cat,
		idx:    idx,
		logger: log.New(io.Discard, "", 0),
		persist: func(snap snapshot.SnapshotV1) (string, error) {
			path := filepath.Join(snapDir, snapshot.FileName(snap.Header.Seq))
			return path, snapshot.WriteSnapshot(path, snap)
		},
	}
}

func startTask(t *testing.T, sess *session.Session, id string) {
	t.Helper()
	resp := make(chan session.StartResponse, 1)
	sess.Starts() <- session.StartRequest{TaskID: id, Resp: resp}
	select {
	case r := <-resp:
		if r.Err != nil {
			t.Fatalf("start %s: %v", id, r.Err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("start %s: timeout", id)
	}
}

func TestBuildMux_AdminLoopbackOnly(t *testing.T) {
	rt := newTestRuntime(t)
	mux := buildMux(rt, true, false)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback admin state, got %d body=%s", rec.Code, rec.Body.String())
	}

	startTask(t, rt.sess, "A")

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin state status=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		SessionID string       `json:"session_id"`
		Variant   string       `json:"variant"`
		View      session.View `json:"view"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if body.SessionID != "test_session" || body.Variant != "starter" || body.View.Seq != 1 {
		t.Fatalf("state: %+v", body)
	}
	if len(body.View.Offers) != 1 || !body.View.Offers[0].Started {
		t.Fatalf("offers: %+v", body.View.Offers)
	}
}

func TestBuildMux_AdminSnapshot(t *testing.T) {
	rt := newTestRuntime(t)
	mux := buildMux(rt, true, false)
	startTask(t, rt.sess, "A")

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/snapshot", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET snapshot status=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/v1/snapshot", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		OK   bool   `json:"ok"`
		Seq  uint64 `json:"seq"`
		Path string `json:"path"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Seq != 1 {
		t.Fatalf("snapshot response: %+v", body)
	}
	snap, err := snapshot.ReadSnapshot(body.Path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(snap.InProgress) != 1 || snap.InProgress[0].ID != "A" {
		t.Fatalf("in progress: %+v", snap.InProgress)
	}
}

func TestBuildMux_AdminDisabled(t *testing.T) {
	rt := newTestRuntime(t)
	mux := buildMux(rt, false, false)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with admin disabled, got %d", rec.Code)
	}
}

func TestBuildMux_Metrics(t *testing.T) {
	rt := newTestRuntime(t)
	mux := buildMux(rt, true, false)
	startTask(t, rt.sess, "A")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{
		`alchemy_session_seq{session="test_session",variant="starter"} 1`,
		`alchemy_session_ops_total{session="test_session",op="start"} 1`,
		`alchemy_index_dropped_total{session="test_session"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80":   true,
		"[::1]:8080":     true,
		"10.0.0.1:80":    false,
		"not-an-address": false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
