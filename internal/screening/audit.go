package screening

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"medscreen/internal/domain"
	"medscreen/internal/logging"
)

// AuditLog is the append-only reproducibility store. Every screening
// decision writes one row; nothing ever updates or deletes rows.
type AuditLog struct {
	db   *sql.DB
	path string
}

// OpenAuditLog opens (or creates) the SQLite audit database.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		criteria_id TEXT NOT NULL,
		criteria_version TEXT NOT NULL,
		final_decision TEXT NOT NULL,
		tier INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_entries(record_id);
	CREATE INDEX IF NOT EXISTS idx_audit_criteria ON audit_entries(criteria_id, criteria_version);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &AuditLog{db: db, path: path}, nil
}

// Append writes one audit entry. Entries are immutable once written.
func (a *AuditLog) Append(ctx context.Context, entry domain.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO audit_entries (record_id, criteria_id, criteria_version, final_decision, tier, seed, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RecordID, entry.CriteriaID, entry.CriteriaVersion,
		string(entry.FinalDecision), int(entry.Tier), entry.Seed,
		string(payload), entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry for %s: %w", entry.RecordID, err)
	}
	return nil
}

// ByRecord returns every audit entry for a record, oldest first.
func (a *AuditLog) ByRecord(ctx context.Context, recordID string) ([]domain.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT payload FROM audit_entries WHERE record_id = ? ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries for %s: %w", recordID, err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		var entry domain.AuditEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count reports the total number of entries, for the status CLI.
func (a *AuditLog) Count(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (a *AuditLog) Close() error { return a.db.Close() }
