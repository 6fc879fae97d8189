package db

import (
	"database/sql"
	"embed"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hireloop/mailroom/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const bootstrapVersion = "000"

// Migrate brings the run database schema up to date. Migrations run in
// filename order inside individual transactions; migration 000 bootstraps
// the schema_migrations ledger and records itself like any other version.
// A nil logger is fine; the setup command passes one, tests do not.
func Migrate(conn *sql.DB, logger *zap.SugaredLogger) error {
	files, err := migrationFiles()
	if err != nil {
		return err
	}

	done, err := appliedVersions(conn)
	if err != nil {
		return err
	}

	applied := 0
	for _, filename := range files {
		version := strings.SplitN(filename, "_", 2)[0]
		if done[version] {
			continue
		}
		if len(done) == 0 && applied == 0 && version != bootstrapVersion {
			return errors.Newf("schema ledger missing and first pending migration is %s, not %s", filename, bootstrapVersion)
		}

		if err := applyMigration(conn, filename, version); err != nil {
			return err
		}
		if logger != nil {
			logger.Infow("Applied migration", "version", version, "file", filename)
		}
		applied++
	}

	if logger != nil {
		if applied == 0 {
			logger.Debugw("Schema up to date", "versions", len(files))
		} else {
			logger.Infow("Schema migrated", "applied", applied, "versions", len(files))
		}
	}

	return nil
}

func migrationFiles() ([]string, error) {
	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// appliedVersions reads the schema ledger. On a fresh database the table does
// not exist yet; that reads as nothing applied and lets 000 bootstrap it.
func appliedVersions(conn *sql.DB) (map[string]bool, error) {
	rows, err := conn.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return map[string]bool{}, nil
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, errors.Wrap(err, "failed to scan schema ledger")
		}
		done[version] = true
	}
	return done, rows.Err()
}

func applyMigration(conn *sql.DB, filename, version string) error {
	script, err := migrations.ReadFile(filepath.Join("sqlite/migrations", filename))
	if err != nil {
		return errors.Wrapf(err, "failed to read migration %s", filename)
	}

	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin migration %s", filename)
	}

	if _, err := tx.Exec(string(script)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to execute migration %s", filename)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to record migration %s", filename)
	}

	return errors.Wrapf(tx.Commit(), "failed to commit migration %s", filename)
}
