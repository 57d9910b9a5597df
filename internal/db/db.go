// Package db persists targeting sessions, track observations and
// telemetry snapshots to sqlite. Recording is best-effort: the pipeline
// never blocks on storage, and callers log write failures rather than
// aborting a frame.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path and bootstraps
// the schema. The bootstrap matches migration 1, so a fresh database is
// usable without running the migration tooling.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			image_width INTEGER,
			image_height INTEGER,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			stopped_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS track_observations (
			observation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			frame INTEGER,
			mode TEXT,
			x INTEGER,
			y INTEGER,
			w INTEGER,
			h INTEGER,
			confidence DOUBLE,
			predicted INTEGER,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS telemetry_frames (
			frame_id INTEGER PRIMARY KEY AUTOINCREMENT,
			uptime_millis BIGINT,
			roll DOUBLE,
			pitch DOUBLE,
			yaw DOUBLE,
			lat DOUBLE,
			lon DOUBLE,
			alt DOUBLE,
			servo0 DOUBLE,
			servo1 DOUBLE,
			servo2 DOUBLE,
			servo3 DOUBLE,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// CreateSession records the start of a targeting session.
func (db *DB) CreateSession(sessionID string, imageWidth, imageHeight int) error {
	_, err := db.Exec(
		"INSERT INTO sessions (session_id, image_width, image_height) VALUES (?, ?, ?)",
		sessionID, imageWidth, imageHeight)
	return err
}

// CloseSession stamps a session as stopped.
func (db *DB) CloseSession(sessionID string) error {
	_, err := db.Exec(
		"UPDATE sessions SET stopped_at = CURRENT_TIMESTAMP WHERE session_id = ?",
		sessionID)
	return err
}

// RecordObservation stores one tracker output frame for a session.
func (db *DB) RecordObservation(sessionID string, frame int, mode string, x, y, w, h int, confidence float64, predicted bool) error {
	_, err := db.Exec(
		`INSERT INTO track_observations
			(session_id, frame, mode, x, y, w, h, confidence, predicted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, frame, mode, x, y, w, h, confidence, predicted)
	return err
}

// RecordTelemetry stores one platform snapshot in engineering units.
func (db *DB) RecordTelemetry(uptimeMillis int64, roll, pitch, yaw, lat, lon, alt float64, servos [4]float64) error {
	_, err := db.Exec(
		`INSERT INTO telemetry_frames
			(uptime_millis, roll, pitch, yaw, lat, lon, alt, servo0, servo1, servo2, servo3)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uptimeMillis, roll, pitch, yaw, lat, lon, alt,
		servos[0], servos[1], servos[2], servos[3])
	return err
}

// Session summarises one row of the sessions table.
type Session struct {
	SessionID   string
	ImageWidth  int
	ImageHeight int
	StartedAt   string
	StoppedAt   sql.NullString
}

func (s *Session) String() string {
	return fmt.Sprintf("Session %s (%dx%d, started %s)", s.SessionID, s.ImageWidth, s.ImageHeight, s.StartedAt)
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, image_width, image_height, started_at, stopped_at
			FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.SessionID, &s.ImageWidth, &s.ImageHeight, &s.StartedAt, &s.StoppedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Observation is one stored tracker output frame.
type Observation struct {
	Frame      int
	Mode       string
	X, Y, W, H int
	Confidence float64
	Predicted  bool
}

// Observations returns the stored track for a session in frame order.
func (db *DB) Observations(sessionID string) ([]Observation, error) {
	rows, err := db.Query(
		`SELECT frame, mode, x, y, w, h, confidence, predicted
			FROM track_observations WHERE session_id = ? ORDER BY frame ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.Frame, &o.Mode, &o.X, &o.Y, &o.W, &o.H, &o.Confidence, &o.Predicted); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return obs, nil
}
