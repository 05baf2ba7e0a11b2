package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sessionID := fs.String("session", "", "session id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	taskID := fs.String("task", "", "task_id filter (events)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*sessionID) == "" {
			fmt.Fprintln(os.Stderr, "missing -session or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "sessions", *sessionID, "index", "session.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT seq,path,session_id,variant,time_ms,resources,in_progress FROM snapshots ORDER BY seq DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq        int64  `json:"seq"`
				Path       string `json:"path"`
				SessionID  string `json:"session_id"`
				Variant    string `json:"variant"`
				TimeMs     int64  `json:"time_ms"`
				Resources  int    `json:"resources"`
				InProgress int    `json:"in_progress"`
			}
			if err := rows.Scan(&r.Seq, &r.Path, &r.SessionID, &r.Variant, &r.TimeMs, &r.Resources, &r.InProgress); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "events":
		query := `SELECT raw_json FROM events ORDER BY seq DESC LIMIT ?`
		qargs := []any{*limit}
		if t := strings.TrimSpace(*taskID); t != "" {
			query = `SELECT raw_json FROM events WHERE task_id=? ORDER BY seq DESC LIMIT ?`
			qargs = []any{t, *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				fail("scan", err)
			}
			printJSON(json.RawMessage(raw))
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "achievements":
		rows, err := db.Query(`SELECT seq,time_ms,task_id,name FROM achievements ORDER BY seq LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq    int64  `json:"seq"`
				TimeMs int64  `json:"time_ms"`
				TaskID string `json:"task_id"`
				Name   string `json:"name"`
			}
			if err := rows.Scan(&r.Seq, &r.TimeMs, &r.TaskID, &r.Name); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (snapshots, events, achievements, catalogs)\n", q)
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
