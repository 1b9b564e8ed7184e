// Package db is the SQLite archive of decoded telemetry. The schema is
// managed by embedded golang-migrate migrations applied on Open.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pitwall/internal/monitoring"
)

// DB wraps the archive connection.
type DB struct {
	*sql.DB
	log *zap.Logger
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Open opens (creating if needed) the archive at path and migrates it to
// the latest schema.
func Open(path string, log *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection keeps pragmas in effect.
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, log: monitoring.OrDefault(log).Named("db")}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// CarDataRow is one archived record.
type CarDataRow struct {
	SessionID  string
	Car        string
	Time       int64
	Speed      float64
	Airspeed   float64
	EngineTemp float64
	RadTemp    float64
	Distance   float64
	// Record is the full record as JSON.
	Record []byte
}

// InsertCarData archives row.
func (db *DB) InsertCarData(ctx context.Context, row CarDataRow) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO car_data (
			session_id, car, time, speed, airspeed, engine_temp, rad_temp, distance_traveled, record
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.Car, row.Time, row.Speed, row.Airspeed,
		row.EngineTemp, row.RadTemp, row.Distance, string(row.Record),
	)
	if err != nil {
		return fmt.Errorf("insert car_data: %w", err)
	}
	return nil
}

// CarData returns the rows of a session in time order. A limit of zero or
// less returns every row.
func (db *DB) CarData(ctx context.Context, sessionID string, limit int) ([]CarDataRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, car, time, speed, airspeed, engine_temp, rad_temp, distance_traveled, record
		FROM car_data
		WHERE session_id = ?
		ORDER BY time, id
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query car_data: %w", err)
	}
	defer rows.Close()

	var out []CarDataRow
	for rows.Next() {
		var r CarDataRow
		var record string
		if err := rows.Scan(&r.SessionID, &r.Car, &r.Time, &r.Speed, &r.Airspeed,
			&r.EngineTemp, &r.RadTemp, &r.Distance, &record); err != nil {
			return nil, fmt.Errorf("scan car_data: %w", err)
		}
		r.Record = []byte(record)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountCarData returns the number of archived rows.
func (db *DB) CountCarData(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM car_data").Scan(&n); err != nil {
		return 0, fmt.Errorf("count car_data: %w", err)
	}
	return n, nil
}

// Session describes one acquisition session.
type Session struct {
	ID        string
	Car       string
	Reason    string
	StartedAt int64
}

// ErrSessionNotFound is returned by SessionByID.
var ErrSessionNotFound = errors.New("session not found")

// StartSession records the start of a session.
func (db *DB) StartSession(ctx context.Context, s Session) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO sessions (session_id, car, reason, started_at) VALUES (?, ?, ?, ?)",
		s.ID, s.Car, s.Reason, s.StartedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	db.log.Info("session started", zap.String("session_id", s.ID), zap.String("reason", s.Reason))
	return nil
}

// SessionByID returns the session with the given id.
func (db *DB) SessionByID(ctx context.Context, id string) (Session, error) {
	var s Session
	err := db.QueryRowContext(ctx,
		"SELECT session_id, car, reason, started_at FROM sessions WHERE session_id = ?", id,
	).Scan(&s.ID, &s.Car, &s.Reason, &s.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrSessionNotFound
	}
	if err != nil {
		return s, fmt.Errorf("query session: %w", err)
	}
	return s, nil
}
