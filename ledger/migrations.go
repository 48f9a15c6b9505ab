package ledger

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// migrate создает схему журнала кампании
func migrate(db *sql.DB) error {
	log.Println("[Ledger] Running migrations...")

	tables := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			contact_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT,
			phone_e164 TEXT,
			source_keys TEXT NOT NULL DEFAULT '[]',
			category_text TEXT,
			social_handle TEXT,
			photo_url TEXT,
			seq INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS contact_states (
			contact_id TEXT PRIMARY KEY,
			state TEXT NOT NULL CHECK(state IN ('NEW', 'CLASSIFIED', 'COMPOSED', 'QUEUED', 'SENT', 'FAILED_PERMANENT')) DEFAULT 'NEW',
			message TEXT,
			not_before TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(contact_id) REFERENCES contacts(contact_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS send_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			outcome TEXT NOT NULL CHECK(outcome IN ('success', 'transient_failure', 'permanent_failure')),
			error_detail TEXT,
			FOREIGN KEY(contact_id) REFERENCES contacts(contact_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS classifications (
			contact_id TEXT PRIMARY KEY,
			venue_type TEXT NOT NULL,
			confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
			classified_at TIMESTAMP NOT NULL,
			FOREIGN KEY(contact_id) REFERENCES contacts(contact_id) ON DELETE CASCADE
		)`,
	}

	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			errStr := strings.ToLower(err.Error())
			if !strings.Contains(errStr, "already exists") {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_contact_states_state ON contact_states(state)`,
		`CREATE INDEX IF NOT EXISTS idx_send_attempts_contact_id ON send_attempts(contact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_seq ON contacts(seq)`,
	}

	successCount := 0
	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			errStr := strings.ToLower(err.Error())
			if !strings.Contains(errStr, "already exists") && !strings.Contains(errStr, "duplicate index") {
				return fmt.Errorf("failed to create index: %w - %s", err, indexSQL)
			}
		} else {
			successCount++
		}
	}

	log.Printf("[Ledger] Migrations completed: %d tables, %d indexes", len(tables), successCount)
	return nil
}
