package metrics

import (
	"database/sql"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL,
	       board      TEXT NOT NULL,
	       cpu_temp   INTEGER NOT NULL CHECK (typeof(cpu_temp) = 'integer'),
	       cpu_duty   INTEGER NOT NULL CHECK (typeof(cpu_duty) = 'integer'),
	       cpu_rpm    INTEGER NOT NULL CHECK (typeof(cpu_rpm) = 'integer'),
	       gpu_temp   INTEGER NOT NULL CHECK (typeof(gpu_temp) = 'integer'),
	       gpu_duty   INTEGER NOT NULL CHECK (typeof(gpu_duty) = 'integer'),
	       gpu_rpm    INTEGER NOT NULL CHECK (typeof(gpu_rpm) = 'integer')
	   );
	   CREATE INDEX IF NOT EXISTS samples_timestamp ON samples (timestamp);`

	insertSampleSQL = `
    INSERT INTO samples (
        timestamp, board,
        cpu_temp, cpu_duty, cpu_rpm,
        gpu_temp, gpu_duty, gpu_rpm
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectSamplesSQL = `
    SELECT timestamp, board,
        cpu_temp, cpu_duty, cpu_rpm,
        gpu_temp, gpu_duty, gpu_rpm
    FROM samples
    WHERE timestamp >= ?
    ORDER BY timestamp, id`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WrapWithData(ErrSchemaInitFailed, err, struct {
			Phase string
		}{
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WrapWithData(ErrSchemaInitFailed, err, struct {
			Phase string
		}{
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WrapWithData(ErrSchemaValidationFailed, err, struct {
			Phase string
		}{
			Phase: "get_version",
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WrapWithData(ErrSchemaValidationFailed, err, struct {
			Phase string
			Table string
		}{
			Phase: "check_table_exists",
			Table: tableName,
		})
	}
	return exists, nil
}
