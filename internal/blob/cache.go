package blob

import (
	"database/sql"
	"embed"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strrl/tpcpid/internal/errors"
)

const (
	CacheFileName = "ccdb-cache.db"
	dirMode       = 0o700
)

var (
	//go:embed sql/*
	f embed.FS

	errCacheClosed = errors.New("cache not initialized")
)

const (
	selectObject = `SELECT data, valid_from, valid_until FROM object
		WHERE path = ? AND valid_from <= ? AND ? < valid_until
		ORDER BY valid_from DESC LIMIT 1`

	insertObject = `INSERT INTO object (path, valid_from, valid_until, data, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path, valid_from) DO UPDATE SET valid_until = ?, data = ?, fetched_at = ?`
)

// Cache keeps fetched objects on disk together with their validity window
// so that a later run at a covered timestamp does not go to the network.
type Cache struct {
	db *sql.DB
}

// OpenCache opens or creates the SQLite cache file in dir.
func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.Configf("cache directory not specified")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, errors.Wrapf(err, "creating cache dir: %s", dir)
	}

	path := filepath.Join(dir, CacheFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open cache: %s", path)
	}
	db.SetMaxOpenConns(1)

	b, err := f.ReadFile("sql/ddl.sql")
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to read the cache schema file")
	}
	if _, err := db.Exec(string(b)); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to create cache schema in: %s", path)
	}

	return &Cache{db: db}, nil
}

// Lookup returns the newest cached object for path that is valid at timestamp.
func (c *Cache) Lookup(path string, timestamp int64) (*Object, bool, error) {
	if c == nil || c.db == nil {
		return nil, false, errCacheClosed
	}

	obj := &Object{Path: path}
	err := c.db.QueryRow(selectObject, path, timestamp, timestamp).Scan(&obj.Data, &obj.ValidFrom, &obj.ValidUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "failed to query cache for %s", path)
	}
	return obj, true, nil
}

// Put stores obj, replacing an entry with the same path and start of validity.
func (c *Cache) Put(obj *Object) error {
	if c == nil || c.db == nil {
		return errCacheClosed
	}
	if obj == nil || obj.Path == "" {
		return errors.New("object with a path required")
	}

	now := time.Now().UnixMilli()
	if _, err := c.db.Exec(insertObject,
		obj.Path, obj.ValidFrom, obj.ValidUntil, obj.Data, now,
		obj.ValidUntil, obj.Data, now,
	); err != nil {
		return errors.Wrapf(err, "failed to cache %s", obj.Path)
	}
	return nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
