package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/stevemurr/docstore/dialect"
)

// Open opens the database dsn with the named dialect and describes the
// document table of opts on it.
//
// Supported dialects:
//
//	"postgres" - dsn is a PostgreSQL URL or keyword/value string (default)
//	"sqlite"   - dsn is a database file path; foreign keys are enabled
func Open(dialectName, dsn string, opts Options) (*Repository, error) {
	d, err := dialect.New(dialectName)
	if err != nil {
		return nil, err
	}
	if d.Name() == "sqlite" {
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if d.Name() == "sqlite" {
		// one writer at a time; a second session would block on the file lock
		db.SetMaxOpenConns(1)
	}
	r, err := NewRepository(db, d, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// sqliteDSN creates the directory of a database file and enables foreign
// keys and case sensitive LIKE.
func sqliteDSN(dsn string) (string, error) {
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "file:")
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_fk=1&_cslike=1", nil
}
