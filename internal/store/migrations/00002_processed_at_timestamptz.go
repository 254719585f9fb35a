package migrations

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upProcessedAtTimestamptz, downProcessedAtTimestamptz)
}

// Rows written before this were stored as UTC wall time.
func upProcessedAtTimestamptz(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		ALTER TABLE contents
		ALTER COLUMN processed_at TYPE TIMESTAMPTZ USING processed_at AT TIME ZONE 'UTC',
		ALTER COLUMN processed_at SET DEFAULT now()
	`); err != nil {
		return fmt.Errorf("converting processed_at to timestamptz: %w", err)
	}

	return nil
}

func downProcessedAtTimestamptz(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		ALTER TABLE contents
		ALTER COLUMN processed_at TYPE TIMESTAMP USING processed_at AT TIME ZONE 'UTC',
		ALTER COLUMN processed_at SET DEFAULT (now() AT TIME ZONE 'UTC')
	`); err != nil {
		return fmt.Errorf("converting processed_at to timestamp: %w", err)
	}

	return nil
}
