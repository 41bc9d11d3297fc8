package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/logger"
)

// migrate brings db to SchemaVersion. Flush history is diagnostic only, so a
// mismatched database is copied into backupDir and recreated empty rather
// than converted.
func migrate(db *sql.DB, backupDir string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := schemaVersion(db)
	if err != nil {
		return err
	}

	switch version {
	case SchemaVersion:
		log.Debug().Int("version", version).Msg("Metrics schema is current")
		return nil
	case 0:
		log.Debug().Msg("Metrics database is empty")
	default:
		path, err := backup(db, backupDir, version)
		if err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}
		log.Warn().
			Int("found", version).
			Int("want", SchemaVersion).
			Str("backup", path).
			Msg("Metrics schema mismatch, recreating")
	}

	err = withTx(db, ErrSchemaMigrationFailed, log, func(tx *sql.Tx) error {
		for _, table := range []string{"flushes", "schema_versions"} {
			if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return errFactory.WithData(ErrSchemaMigrationFailed, phaseError{
					Phase: "drop_" + table,
					Error: err.Error(),
				})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return createSchema(db, log)
}

// backup copies db to backupDir/metrics_v<version>_<utc timestamp>.db.
func backup(db *sql.DB, backupDir string, version int) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, phaseError{Phase: "create_backup_dir", Error: err.Error()})
	}

	path := filepath.Join(backupDir,
		fmt.Sprintf("metrics_v%d_%s.db", version, time.Now().UTC().Format("20060102T150405Z")))

	// VACUUM INTO must run outside a transaction
	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, phaseError{Phase: "vacuum_into", Error: err.Error()})
	}
	return path, nil
}
