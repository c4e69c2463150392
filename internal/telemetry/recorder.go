// Package telemetry maintains an episode-outcome index in SQLite,
// written off the hot path by a single writer goroutine. It is a
// read-model for tooling and dashboards; the rollout protocol never
// depends on it.
package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Episode is one finished episode's outcome row.
type Episode struct {
	Scene          uint32
	Success        float32
	SPL            float32
	DistanceToGoal float32
	Steps          uint32
}

// Recorder buffers episode outcomes into SQLite. RecordEpisode is safe
// to call from worker threads; a full buffer drops the row rather than
// stalling the step loop.
type Recorder struct {
	db    *sql.DB
	runID string

	ch     chan Episode
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	dropped atomic.Uint64
}

// Open creates (or appends to) the index at path and starts the writer.
// Each Recorder gets a fresh run id so multiple training runs can share
// one database.
func Open(path string) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	r := &Recorder{
		db:    db,
		runID: uuid.NewString(),
		// Sized for bursty terminations (many envs finishing on the
		// same iteration) without stalling workers.
		ch: make(chan Episode, 65536),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
	return r, nil
}

func initSchema(db *sql.DB) error {
	// WAL suits the append-only workload; NORMAL is enough durability
	// for a secondary index.
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			scene INTEGER NOT NULL,
			success REAL NOT NULL,
			spl REAL NOT NULL,
			distance_to_goal REAL NOT NULL,
			steps INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_run_scene ON episodes(run_id, scene);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("telemetry schema: %w", err)
		}
	}
	return nil
}

// RunID identifies this recorder's rows.
func (r *Recorder) RunID() string { return r.runID }

// RecordEpisode enqueues one outcome. Never blocks.
func (r *Recorder) RecordEpisode(e Episode) {
	if r.closed.Load() {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped counts rows discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) loop() {
	insert, err := r.db.Prepare(`INSERT INTO episodes
		(run_id, scene, success, spl, distance_to_goal, steps, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return
	}
	defer insert.Close()

	for e := range r.ch {
		_, _ = insert.Exec(r.runID, e.Scene, e.Success, e.SPL, e.DistanceToGoal,
			e.Steps, time.Now().UTC().Format(time.RFC3339Nano))
	}
}

// Close drains the buffer and closes the database.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.ch)
		r.wg.Wait()
		_ = r.db.Close()
	})
}

// SceneStats is an aggregate over one scene's recorded episodes.
type SceneStats struct {
	Scene       uint32
	Episodes    int64
	SuccessRate float64
	MeanSPL     float64
}

// StatsByScene aggregates a run's outcomes, or all runs when runID is
// empty. Used by the dataset admin tool.
func StatsByScene(db *sql.DB, runID string) ([]SceneStats, error) {
	q := `SELECT scene, COUNT(*), AVG(success), AVG(spl) FROM episodes `
	var args []any
	if runID != "" {
		q += `WHERE run_id = ? `
		args = append(args, runID)
	}
	q += `GROUP BY scene ORDER BY scene`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SceneStats
	for rows.Next() {
		var s SceneStats
		if err := rows.Scan(&s.Scene, &s.Episodes, &s.SuccessRate, &s.MeanSPL); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
