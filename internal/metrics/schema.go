package metrics

import (
	"database/sql"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/logger"
)

// SchemaVersion is bumped whenever the flushes table changes shape. A
// database carrying any other version is backed up and recreated.
const SchemaVersion = 1

const (
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS flushes (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp       INTEGER NOT NULL,
	       records         INTEGER NOT NULL CHECK (records >= 0),
	       written         INTEGER NOT NULL CHECK (written >= 0),
	       failed          INTEGER NOT NULL CHECK (failed >= 0),
	       lost            INTEGER NOT NULL CHECK (lost >= 0),
	       start_address   INTEGER NOT NULL,
	       end_address     INTEGER NOT NULL CHECK (end_address >= start_address),
	       duration_us     INTEGER NOT NULL,
	       buffer_capacity INTEGER NOT NULL,
	       buffer_dropped  INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS flushes_timestamp ON flushes (timestamp);`

	insertVersionSQL = `INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`

	selectVersionSQL = `SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`

	tableExistsSQL = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`

	insertSnapshotSQL = `
    INSERT INTO flushes (
        timestamp,
        records, written, failed, lost,
        start_address, end_address, duration_us,
        buffer_capacity, buffer_dropped
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectRecentSQL = `
    SELECT
        timestamp,
        records, written, failed, lost,
        start_address, end_address, duration_us,
        buffer_capacity, buffer_dropped
    FROM flushes
    ORDER BY id DESC
    LIMIT ?`
)

// phaseError carries the step of a storage operation that failed.
type phaseError struct {
	Phase string
	Error string
}

// withTx runs fn inside a transaction, rolling back unless fn and the commit
// both succeed. Failures are reported under code.
func withTx(db *sql.DB, code errors.ErrorCode, log logger.Logger, fn func(*sql.Tx) error) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(code, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Debug().Err(rbErr).Msg("Failed to roll back schema transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errFactory.WithData(code, phaseError{Phase: "commit", Error: err.Error()})
	}
	return nil
}

// createSchema creates the flushes table and stamps the current version.
func createSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	err := withTx(db, ErrSchemaInitFailed, log, func(tx *sql.Tx) error {
		if _, err := tx.Exec(createTablesSQL); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, phaseError{Phase: "create_tables", Error: err.Error()})
		}
		if _, err := tx.Exec(insertVersionSQL, SchemaVersion); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, phaseError{Phase: "record_version", Error: err.Error()})
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("version", SchemaVersion).Msg("Metrics schema created")
	return nil
}

// schemaVersion reports the stored schema version, or 0 for an empty database.
func schemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	var exists bool
	if err := db.QueryRow(tableExistsSQL, "schema_versions").Scan(&exists); err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, phaseError{Phase: "check_table", Error: err.Error()})
	}
	if !exists {
		return 0, nil
	}

	var version int
	err := db.QueryRow(selectVersionSQL).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, errFactory.WithData(ErrSchemaValidationFailed, phaseError{Phase: "get_version", Error: err.Error()})
	}
	return version, nil
}
