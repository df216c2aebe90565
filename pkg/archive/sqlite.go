// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package archive

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/NotCoffee418/dbmigrator"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLite archives records in a SQLite database
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies migrations
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	// one writer; the dispatcher goroutine is the only caller
	db.SetMaxOpenConns(1)

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")

	if _, err := db.Exec("SELECT 1 FROM readings LIMIT 1;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive %s not migrated: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// Write implements Sink
func (s *SQLite) Write(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO readings "+
			"(instrument, model, timestamp, value, unit, digits, overflow, error, message, settings, status) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.Instrument,
		rec.Model,
		rec.Time.UnixNano(),
		rec.Value,
		rec.Unit,
		rec.Digits,
		rec.Overflow,
		rec.Error,
		rec.Message,
		rec.Settings,
		int(rec.Status),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Recent returns up to limit records of one instrument, newest first
func (s *SQLite) Recent(ctx context.Context, name string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT instrument, model, timestamp, value, unit, digits, overflow, error, message, settings, status "+
			"FROM readings WHERE instrument = ? ORDER BY timestamp DESC, id DESC LIMIT ?",
		name, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec    Record
			nanos  int64
			status int
		)
		if err := rows.Scan(&rec.Instrument, &rec.Model, &nanos, &rec.Value, &rec.Unit, &rec.Digits,
			&rec.Overflow, &rec.Error, &rec.Message, &rec.Settings, &status); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		rec.Time = time.Unix(0, nanos)
		rec.Status = byte(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of archived records of one instrument
func (s *SQLite) Count(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings WHERE instrument = ?", name).Scan(&n)
	return n, err
}

// Close implements Sink
func (s *SQLite) Close() error {
	return s.db.Close()
}
