package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteAuditLog persists the delay-audit and customer-response tables to an
// append-only sqlite database (§6). Nothing ever updates or deletes a row.
type SQLiteAuditLog struct {
	db *sql.DB
}

// OpenSQLiteAuditLog opens (creating if needed) the audit database at path
// and migrates its schema.
func OpenSQLiteAuditLog(path string) (*SQLiteAuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS delay_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		appointment_id TEXT NOT NULL,
		old_time TEXT NOT NULL,
		new_time TEXT NOT NULL,
		caller TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS customer_response (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		appointment_id TEXT NOT NULL,
		response TEXT NOT NULL,
		new_time TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}

	return &SQLiteAuditLog{db: db}, nil
}

func (a *SQLiteAuditLog) LogDelay(ctx context.Context, e DelayAuditEntry) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO delay_audit (appointment_id, old_time, new_time, caller, reason, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.AppointmentID, e.OldTime.Format(time.RFC3339), e.NewTime.Format(time.RFC3339), e.Caller, e.Reason, e.Status, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("audit: log delay: %w", err)
	}
	return nil
}

func (a *SQLiteAuditLog) LogCustomerResponse(ctx context.Context, e CustomerResponseEntry) error {
	var newTime string
	if !e.NewTime.IsZero() {
		newTime = e.NewTime.Format(time.RFC3339)
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO customer_response (appointment_id, response, new_time, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.AppointmentID, e.Response, newTime, e.Status, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("audit: log customer response: %w", err)
	}
	return nil
}

func (a *SQLiteAuditLog) Close() error {
	return a.db.Close()
}
