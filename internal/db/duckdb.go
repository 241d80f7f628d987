package db

import (
	"database/sql"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/strrl/tpcpid/internal/errors"
)

// Open opens a DuckDB database at path. An empty path opens a private
// in-memory database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open DuckDB %q", path)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WithHint(errors.Wrapf(err, "failed to connect to DuckDB %q", path),
			"check that --out points to a writable file not held open by another process")
	}

	return db, nil
}
