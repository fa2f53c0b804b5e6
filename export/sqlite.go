package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sensorlog/protocol"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS readings (
	ts INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	temperature_c REAL NOT NULL,
	humidity_pct REAL NOT NULL,
	temperature_raw INTEGER NOT NULL,
	humidity_raw INTEGER NOT NULL,
	exported_at TIMESTAMP NOT NULL,
	PRIMARY KEY (ts, seq)
)`

const sqliteUpsert = `INSERT INTO readings (ts, seq, temperature_c, humidity_pct, temperature_raw, humidity_raw, exported_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (ts, seq) DO UPDATE SET
	temperature_c = excluded.temperature_c,
	humidity_pct = excluded.humidity_pct,
	temperature_raw = excluded.temperature_raw,
	humidity_raw = excluded.humidity_raw,
	exported_at = excluded.exported_at`

// SQLiteSink writes records into the readings table of a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write upserts recs in one transaction.
func (s *SQLiteSink) Write(ctx context.Context, recs []protocol.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range recs {
		sl := r.Slot
		if _, err := stmt.ExecContext(ctx,
			int64(sl.Timestamp), int64(r.Seq),
			sl.TemperatureC(), sl.HumidityPct(),
			int64(sl.Temperature), int64(sl.Humidity),
			now,
		); err != nil {
			return 0, fmt.Errorf("upsert ts=%d seq=%d: %w", sl.Timestamp, r.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n)
	return n, err
}

// Range returns stored readings with from <= ts <= to, ordered by time.
func (s *SQLiteSink) Range(ctx context.Context, from, to uint32) ([]protocol.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, seq, temperature_raw, humidity_raw FROM readings WHERE ts BETWEEN ? AND ? ORDER BY ts, seq`,
		int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.Record
	for rows.Next() {
		var ts, seq, temp, hum int64
		if err := rows.Scan(&ts, &seq, &temp, &hum); err != nil {
			return nil, err
		}
		out = append(out, protocol.Record{
			Seq:  uint32(seq),
			Slot: protocol.Slot{Timestamp: uint32(ts), Temperature: int8(temp), Humidity: uint8(hum)},
		})
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
