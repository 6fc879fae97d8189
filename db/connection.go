package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hireloop/mailroom/errors"
)

// openPragmas are applied to every new connection. WAL lets status queries
// read while the dispatch loop writes; the busy timeout covers the brief
// overlap between a finalizing slice and the next dispatch pass. NORMAL
// synchronous is safe under WAL and keeps per-item step writes cheap.
var openPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// Open opens the run database at path and applies the connection pragmas.
// A nil logger is fine; the CLI commands open the database silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening run database", "path", path)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	for _, pragma := range openPragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}

	if logger != nil {
		logger.Infow("Run database ready", "path", path, "journal_mode", "wal")
	}

	return conn, nil
}
