package symbols

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS symbols (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    line INTEGER NOT NULL,
    col INTEGER NOT NULL,
    UNIQUE(name, path, line)
);

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path);
`

// OpenDB opens or creates the symbol export database at the given path
func OpenDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func initSchema(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		// Missing table or empty table: fresh database.
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
		return nil
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	return nil
}

// WriteDB exports idx to the SQLite file at dbPath, creating it if needed.
func WriteDB(ctx context.Context, dbPath string, idx *Index) (int, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return Export(ctx, db, idx)
}

// Export replaces the contents of the symbols table with idx, one row per
// location, in a single transaction.
func Export(ctx context.Context, db *sql.DB, idx *Index) (rows int, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM symbols"); err != nil {
		return 0, fmt.Errorf("clearing symbols: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO symbols (name, kind, path, line, col) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	idx.Each(func(name string, e Entry) {
		if err != nil {
			return
		}
		for _, loc := range e.Locations {
			if _, err = stmt.ExecContext(ctx, name, e.Kind.String(), loc.Path, loc.Line, loc.Column); err != nil {
				err = fmt.Errorf("inserting %s: %w", name, err)
				return
			}
			rows++
		}
	})
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return rows, nil
}

// Stats returns the number of exported rows and distinct files.
func Stats(db *sql.DB) (symbolCount int, fileCount int, err error) {
	if err = db.QueryRow("SELECT COUNT(*) FROM symbols").Scan(&symbolCount); err != nil {
		return 0, 0, err
	}
	if err = db.QueryRow("SELECT COUNT(DISTINCT path) FROM symbols").Scan(&fileCount); err != nil {
		return 0, 0, err
	}
	return symbolCount, fileCount, nil
}
