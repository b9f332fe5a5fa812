package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			task_name   TEXT NOT NULL DEFAULT '',
			prompt_file TEXT NOT NULL DEFAULT '',
			config_file TEXT NOT NULL DEFAULT '',
			work_dir    TEXT NOT NULL DEFAULT '',
			pid         INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL DEFAULT 'running',
			detail      TEXT NOT NULL DEFAULT '',
			started_at  INTEGER NOT NULL,
			ended_at    INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create runs: %w", err)
	}
	if _, err := d.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at DESC)`); err != nil {
		return fmt.Errorf("index runs: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS host_snapshots (
			id                INTEGER PRIMARY KEY,
			ts_ms             INTEGER NOT NULL,
			cpu_percent       REAL NOT NULL DEFAULT 0,
			mem_total         INTEGER NOT NULL DEFAULT 0,
			mem_used          INTEGER NOT NULL DEFAULT 0,
			mem_used_percent  REAL NOT NULL DEFAULT 0,
			disk_used_percent REAL NOT NULL DEFAULT 0,
			load1             REAL NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create host_snapshots: %w", err)
	}
	if _, err := d.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_host_snapshots_ts ON host_snapshots(ts_ms DESC)`); err != nil {
		return fmt.Errorf("index host_snapshots: %w", err)
	}

	return nil
}

func (d *DB) InsertRun(r *Run) error {
	_, err := d.sql.Exec(`
		INSERT INTO runs (
			id, session_id, task_name, prompt_file, config_file,
			work_dir, pid, status, detail, started_at, ended_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.SessionID, r.TaskName, r.PromptFile, r.ConfigFile,
		r.WorkDir, r.PID, string(r.Status), r.Detail,
		r.StartedAt.UnixMilli(), endedAtMilli(r.EndedAt),
	)
	return err
}

// FinishRun closes out a live run. Calling it on an already-finished run
// overwrites the terminal status, which is what restarts want.
func (d *DB) FinishRun(id string, status RunStatus, detail string) error {
	_, err := d.sql.Exec(
		"UPDATE runs SET status = ?, detail = ?, ended_at = ? WHERE id = ?",
		string(status), detail, time.Now().UnixMilli(), id,
	)
	return err
}

// MarkStaleRuns flips every still-"running" row to a terminal status. Called
// on startup: any run recorded as live belongs to a previous server process.
func (d *DB) MarkStaleRuns(detail string) (int64, error) {
	res, err := d.sql.Exec(
		"UPDATE runs SET status = ?, detail = ?, ended_at = ? WHERE status = ?",
		string(RunFailed), detail, time.Now().UnixMilli(), string(RunRunning),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) GetRun(id string) (*Run, error) {
	row := d.sql.QueryRow(`
		SELECT id, session_id, task_name, prompt_file, config_file,
			work_dir, pid, status, detail, started_at, ended_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func (d *DB) ListRuns(limit int) ([]*Run, error) {
	rows, err := d.sql.Query(`
		SELECT id, session_id, task_name, prompt_file, config_file,
			work_dir, pid, status, detail, started_at, ended_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (d *DB) RunsForSession(sessionID string, limit int) ([]*Run, error) {
	rows, err := d.sql.Query(`
		SELECT id, session_id, task_name, prompt_file, config_file,
			work_dir, pid, status, detail, started_at, ended_at
		FROM runs WHERE session_id = ? ORDER BY started_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (d *DB) InsertHostSnapshot(s *HostSnapshot) error {
	_, err := d.sql.Exec(`
		INSERT INTO host_snapshots (
			ts_ms, cpu_percent, mem_total, mem_used,
			mem_used_percent, disk_used_percent, load1
		) VALUES (?,?,?,?,?,?,?)`,
		s.TsMs, s.CPUPercent, s.MemTotal, s.MemUsed,
		s.MemUsedPercent, s.DiskUsedPercent, s.Load1,
	)
	return err
}

func (d *DB) RecentHostSnapshots(limit int) ([]HostSnapshot, error) {
	rows, err := d.sql.Query(`
		SELECT id, ts_ms, cpu_percent, mem_total, mem_used,
			mem_used_percent, disk_used_percent, load1
		FROM host_snapshots ORDER BY ts_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var snaps []HostSnapshot
	for rows.Next() {
		var s HostSnapshot
		if err := rows.Scan(&s.ID, &s.TsMs, &s.CPUPercent, &s.MemTotal, &s.MemUsed,
			&s.MemUsedPercent, &s.DiskUsedPercent, &s.Load1); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// PruneHostSnapshots deletes samples older than the cutoff.
func (d *DB) PruneHostSnapshots(before time.Time) error {
	_, err := d.sql.Exec("DELETE FROM host_snapshots WHERE ts_ms < ?", before.UnixMilli())
	return err
}

func (d *DB) SetMeta(key, value string) error {
	_, err := d.sql.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?,?)", key, value)
	return err
}

func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// rowScanner is implemented by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var status string
	var startedAt, endedAt int64
	err := row.Scan(
		&r.ID, &r.SessionID, &r.TaskName, &r.PromptFile, &r.ConfigFile,
		&r.WorkDir, &r.PID, &status, &r.Detail, &startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.StartedAt = time.UnixMilli(startedAt)
	if endedAt > 0 {
		r.EndedAt = time.UnixMilli(endedAt)
	}
	return &r, nil
}

func endedAtMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
