// Package db persists stabilization runs and per-frame metrics to sqlite.
// One database holds many runs; each run belongs to one engine instance
// processing one clip or live session.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle.
type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the database at path. The schema is managed by
// migrations; call MigrateUp before first use.
func NewDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway; a single connection avoids
	// SQLITE_BUSY under concurrent recorder flushes.
	sqldb.SetMaxOpenConns(1)

	if _, err := sqldb.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	return &DB{sqldb}, nil
}

// Run is one stabilization session.
type Run struct {
	ID         int64      `json:"id"`
	InstanceID string     `json:"instance_id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Frames     int64      `json:"frames"`
	Notes      string     `json:"notes"`
}

// FrameRecord is one persisted frame observation.
type FrameRecord struct {
	RunID          int64   `json:"run_id"`
	FrameIndex     int64   `json:"frame_index"`
	State          string  `json:"state"`
	Regime         string  `json:"regime"`
	TrackedPoints  int     `json:"tracked_points"`
	ValidPoints    int     `json:"valid_points"`
	Inliers        int     `json:"inliers"`
	MotionTX       float64 `json:"motion_tx"`
	MotionTY       float64 `json:"motion_ty"`
	MotionRotation float64 `json:"motion_rotation"`
	CorrectiveTX   float64 `json:"corrective_tx"`
	CorrectiveTY   float64 `json:"corrective_ty"`
	StabilityScore float64 `json:"stability_score"`
	TotalNanos     int64   `json:"total_nanos"`
	TimestampNs    int64   `json:"timestamp_ns"`
}

// StateChange is one persisted engine state transition.
type StateChange struct {
	RunID      int64  `json:"run_id"`
	FrameIndex int64  `json:"frame_index"`
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
	Reason     string `json:"reason"`
}

// StartRun creates a new run record and returns its ID.
func (db *DB) StartRun(instanceID, source, notes string) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO runs (instance_id, source, notes) VALUES (?, ?, ?)`,
		instanceID, source, notes)
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}
	return res.LastInsertId()
}

// EndRun closes a run, recording its end time and frame count.
func (db *DB) EndRun(runID int64) error {
	_, err := db.Exec(`
		UPDATE runs
		SET end_timestamp = UNIXEPOCH('subsec'),
		    frames = (SELECT COUNT(*) FROM frame_metrics WHERE run_id = ?)
		WHERE id = ?`, runID, runID)
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	return nil
}

// InsertFrames writes a batch of frame records in one transaction.
func (db *DB) InsertFrames(records []FrameRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin frame batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO frame_metrics (
			run_id, frame_index, state, regime,
			tracked_points, valid_points, inliers,
			motion_tx, motion_ty, motion_rotation,
			corrective_tx, corrective_ty,
			stability_score, total_nanos, timestamp_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare frame insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(
			r.RunID, r.FrameIndex, r.State, r.Regime,
			r.TrackedPoints, r.ValidPoints, r.Inliers,
			r.MotionTX, r.MotionTY, r.MotionRotation,
			r.CorrectiveTX, r.CorrectiveTY,
			r.StabilityScore, r.TotalNanos, r.TimestampNs,
		); err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", r.FrameIndex, err)
		}
	}
	return tx.Commit()
}

// InsertStateChange writes one state transition record.
func (db *DB) InsertStateChange(c StateChange) error {
	_, err := db.Exec(`
		INSERT INTO state_changes (run_id, frame_index, from_state, to_state, reason)
		VALUES (?, ?, ?, ?, ?)`,
		c.RunID, c.FrameIndex, c.FromState, c.ToState, c.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert state change: %w", err)
	}
	return nil
}

// FramesForRun returns the frame records of a run in frame order.
func (db *DB) FramesForRun(runID int64) ([]FrameRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, frame_index, state, regime,
		       tracked_points, valid_points, inliers,
		       motion_tx, motion_ty, motion_rotation,
		       corrective_tx, corrective_ty,
		       stability_score, total_nanos, timestamp_ns
		FROM frame_metrics WHERE run_id = ? ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var r FrameRecord
		if err := rows.Scan(
			&r.RunID, &r.FrameIndex, &r.State, &r.Regime,
			&r.TrackedPoints, &r.ValidPoints, &r.Inliers,
			&r.MotionTX, &r.MotionTY, &r.MotionRotation,
			&r.CorrectiveTX, &r.CorrectiveTY,
			&r.StabilityScore, &r.TotalNanos, &r.TimestampNs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan frame row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StateChangesForRun returns the state transitions of a run in order.
func (db *DB) StateChangesForRun(runID int64) ([]StateChange, error) {
	rows, err := db.Query(`
		SELECT run_id, frame_index, from_state, to_state, reason
		FROM state_changes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query state changes: %w", err)
	}
	defer rows.Close()

	var out []StateChange
	for rows.Next() {
		var c StateChange
		if err := rows.Scan(&c.RunID, &c.FrameIndex, &c.FromState, &c.ToState, &c.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan state change row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentRuns returns the most recent runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := db.Query(`
		SELECT id, instance_id, source, start_timestamp, end_timestamp, frames, notes
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started float64
		var ended sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.InstanceID, &r.Source, &started, &ended, &r.Frames, &r.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.StartedAt = time.Unix(0, int64(started*float64(time.Second)))
		if ended.Valid {
			t := time.Unix(0, int64(ended.Float64*float64(time.Second)))
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
