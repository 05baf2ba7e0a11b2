package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"alchemy.ai/internal/persistence/snapshot"
	"alchemy.ai/internal/sim/catalogs"
	"alchemy.ai/internal/sim/session"
	"alchemy.ai/internal/transport/ws"
)

type serverRuntime struct {
	sess   *session.Session
	cat    *catalogs.Catalog
	idx    runtimeIndex
	ws     *ws.Server
	logger *log.Logger

	// persist writes snap to disk and returns its path.
	persist func(snap snapshot.SnapshotV1) (string, error)
}

func buildMux(rt *serverRuntime, enableAdminHTTP, enablePprofHTTP bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)

	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", loopbackOnly(rt.handleAdminState))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(rt.handleAdminSnapshot))
		mux.HandleFunc("/admin/v1/achievements", loopbackOnly(rt.handleAdminAchievements))
	} else if rt.logger != nil {
		rt.logger.Printf("admin endpoints disabled (ALCHEMY_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	if rt.ws != nil {
		mux.HandleFunc("/v1/ws", rt.ws.Handler())
	}
	return mux
}

func (rt *serverRuntime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	cfg := rt.sess.Config()
	m := rt.sess.Metrics()
	sid := cfg.ID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP alchemy_session_seq Sequence number of the last accepted operation.\n")
	fmt.Fprintf(rw, "# TYPE alchemy_session_seq gauge\n")
	fmt.Fprintf(rw, "alchemy_session_seq{session=%q,variant=%q} %d\n", sid, cfg.Variant, m.Seq)

	fmt.Fprintf(rw, "# HELP alchemy_session_ops_total Accepted and rejected operations.\n")
	fmt.Fprintf(rw, "# TYPE alchemy_session_ops_total counter\n")
	fmt.Fprintf(rw, "alchemy_session_ops_total{session=%q,op=%q} %d\n", sid, "start", m.Starts)
	fmt.Fprintf(rw, "alchemy_session_ops_total{session=%q,op=%q} %d\n", sid, "finish", m.Finishes)
	fmt.Fprintf(rw, "alchemy_session_ops_total{session=%q,op=%q} %d\n", sid, "rejected", m.Rejected)

	fmt.Fprintf(rw, "# HELP alchemy_session_subscribers Connected clients.\n")
	fmt.Fprintf(rw, "# TYPE alchemy_session_subscribers gauge\n")
	fmt.Fprintf(rw, "alchemy_session_subscribers{session=%q} %d\n", sid, m.Subscribers)

	fmt.Fprintf(rw, "# HELP alchemy_session_snapshots_total Snapshots handed to the writer.\n")
	fmt.Fprintf(rw, "# TYPE alchemy_session_snapshots_total counter\n")
	fmt.Fprintf(rw, "alchemy_session_snapshots_total{session=%q} %d\n", sid, m.Snapshots)

	if rt.idx != nil {
		fmt.Fprintf(rw, "# HELP alchemy_index_dropped_total Index writes dropped because the writer lagged.\n")
		fmt.Fprintf(rw, "# TYPE alchemy_index_dropped_total counter\n")
		fmt.Fprintf(rw, "alchemy_index_dropped_total{session=%q} %d\n", sid, rt.idx.Dropped())
	}
}

func (rt *serverRuntime) handleAdminState(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	view, err := rt.sess.CurrentView(ctx)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	cfg := rt.sess.Config()
	resp := struct {
		SessionID     string          `json:"session_id"`
		Variant       string          `json:"variant"`
		CatalogDigest string          `json:"catalog_digest"`
		Metrics       session.Metrics `json:"metrics"`
		View          session.View    `json:"view"`
		Lint          []string        `json:"lint,omitempty"`
	}{
		SessionID:     cfg.ID,
		Variant:       cfg.Variant,
		CatalogDigest: cfg.CatalogDigest,
		Metrics:       rt.sess.Metrics(),
		View:          view,
	}
	if rt.cat != nil {
		resp.Lint = rt.cat.Lint()
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (rt *serverRuntime) handleAdminSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rw.Header().Set("Content-Type", "application/json")

	snap, err := rt.sess.RequestSnapshot(ctx)
	if err == nil && rt.persist != nil {
		var path string
		path, err = rt.persist(snap)
		if err == nil {
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "seq": snap.Header.Seq, "path": path})
			return
		}
	}
	if err == nil {
		err = fmt.Errorf("snapshot writer not configured")
	}
	rw.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "seq": snap.Header.Seq, "error": err.Error()})
}

func (rt *serverRuntime) handleAdminAchievements(rw http.ResponseWriter, r *http.Request) {
	if rt.idx == nil {
		http.Error(rw, "index disabled", http.StatusNotFound)
		return
	}
	ach, err := rt.idx.Achievements(r.Context())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"achievements": ach})
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
