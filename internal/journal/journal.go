// Package journal records tracking sessions and gimbal attitude in SQLite.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gimbal-tracker/internal/monitoring"
	"gimbal-tracker/internal/ptz"
)

//go:embed schema.sql
var schemaSQL string

// Event kinds.
const (
	EventSelect = "select"
	EventLost   = "lost"
	EventCancel = "cancel"
)

// Event is one row of tracking_events.
type Event struct {
	Session string
	Kind    string
	Box     image.Rectangle
	At      time.Time
}

// Sample is one row of attitude.
type Sample struct {
	Attitude ptz.Attitude
	At       time.Time
}

// Journal is safe for concurrent use.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}

	monitoring.Logf("Journal: Opened %s", path)
	return &Journal{db: db, now: time.Now}, nil
}

// StartSession opens a tracking session and returns its id.
func (j *Journal) StartSession(backend string) (string, error) {
	id := uuid.NewString()
	_, err := j.db.Exec(`INSERT INTO sessions (id, backend, started_at) VALUES (?, ?, ?)`,
		id, backend, j.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (j *Journal) EndSession(id string) error {
	_, err := j.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		j.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// RecordEvent appends a tracking event to session.
func (j *Journal) RecordEvent(session, kind string, box image.Rectangle) error {
	_, err := j.db.Exec(`
		INSERT INTO tracking_events (session, kind, x, y, w, h, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session, kind, box.Min.X, box.Min.Y, box.Dx(), box.Dy(), j.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert tracking event: %w", err)
	}
	return nil
}

// RecordAttitude appends an attitude sample.
func (j *Journal) RecordAttitude(a ptz.Attitude) error {
	_, err := j.db.Exec(`INSERT INTO attitude (yaw, pitch, roll, at) VALUES (?, ?, ?, ?)`,
		a.Yaw, a.Pitch, a.Roll, j.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert attitude: %w", err)
	}
	return nil
}

// Events returns the events of session, oldest first.
func (j *Journal) Events(session string) ([]Event, error) {
	rows, err := j.db.Query(`
		SELECT session, kind, x, y, w, h, at FROM tracking_events
		WHERE session = ?
		ORDER BY at, id
	`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e          Event
			x, y, w, h int
			at         int64
		)
		if err := rows.Scan(&e.Session, &e.Kind, &x, &y, &w, &h, &at); err != nil {
			return nil, err
		}
		e.Box = image.Rect(x, y, x+w, y+h)
		e.At = time.Unix(0, at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentAttitude returns up to limit samples, newest first.
func (j *Journal) RecentAttitude(limit int) ([]Sample, error) {
	rows, err := j.db.Query(`SELECT yaw, pitch, roll, at FROM attitude ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attitude: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			s  Sample
			at int64
		)
		if err := rows.Scan(&s.Attitude.Yaw, &s.Attitude.Pitch, &s.Attitude.Roll, &at); err != nil {
			return nil, err
		}
		s.At = time.Unix(0, at)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
