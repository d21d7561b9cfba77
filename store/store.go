// Package store persists documents in a single SQL table: declared keys
// chosen by a promotion policy get dedicated typed columns, every other key
// lives in one residual JSON column.
//
// A Repository holds the immutable table description and is safe for
// concurrent use. A Connection is one database session and must be used by
// one goroutine at a time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/dialect"
	"github.com/stevemurr/docstore/diff"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/query"
	"github.com/stevemurr/docstore/schema"
)

// Repository is a document table on a database.
type Repository struct {
	db      *sql.DB
	d       dialect.Dialect
	table   string
	layout  *column.Layout
	ids     IDGenerator
	strict  bool
	diffs   *diff.Compiler
	queries *query.Compiler
	facets  query.FacetResolver
	paths   query.PathResolver
	log     *slog.Logger
}

// NewRepository describes the document table of opts on db. It does not
// touch the database; call Init to create the table.
func NewRepository(db *sql.DB, d dialect.Dialect, opts Options) (*Repository, error) {
	opts.fill()
	fields, err := opts.Schema.Fields()
	if err != nil {
		return nil, err
	}
	types, err := schema.Build(append(column.SystemFields(), fields...))
	if err != nil {
		return nil, err
	}
	layout, err := column.Build(types, opts.Promote)
	if err != nil {
		return nil, err
	}
	if opts.Registerer != nil {
		if err := RegisterMetrics(opts.Registerer); err != nil {
			return nil, err
		}
	}
	var qopts []query.Option
	if opts.Fulltext != nil {
		qopts = append(qopts, query.WithFulltext(opts.Fulltext))
	}
	return &Repository{
		db:      db,
		d:       d,
		table:   opts.Table,
		layout:  layout,
		ids:     opts.IDs,
		strict:  opts.Strict,
		diffs:   diff.New(d, layout, opts.Strict),
		queries: query.New(d, layout, qopts...),
		facets:  opts.Facets,
		paths:   opts.Paths,
		log:     opts.Logger.With("table", opts.Table, "dialect", d.Name()),
	}, nil
}

// Layout returns the column layout of the table.
func (r *Repository) Layout() *column.Layout {
	return r.layout
}

// Dialect returns the backend dialect.
func (r *Repository) Dialect() dialect.Dialect {
	return r.d
}

// Table returns the table name.
func (r *Repository) Table() string {
	return r.table
}

// MissingColumnsError is returned by Init when the existing table lacks
// columns of the layout. Tables are never migrated.
type MissingColumnsError struct {
	Table   string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("store: table %q is missing columns: %s", e.Table, strings.Join(e.Columns, ", "))
}

// Init creates the table, its indexes and its id sequence when the table
// does not exist. An existing table is checked against the layout.
func (r *Repository) Init(ctx context.Context) error {
	existing, err := r.d.TableColumns(ctx, r.db, r.table)
	if err != nil {
		return docerr.Backend("init", err)
	}
	if len(existing) > 0 {
		return r.check(existing)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return docerr.Backend("init", err)
	}
	defer tx.Rollback()
	for _, stmt := range r.d.CreateTable(r.table, r.layout.Columns(), usesSequence(r.ids)) {
		r.log.Debug("schema", "sql", stmt)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return docerr.Backend("init", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return docerr.Backend("init", err)
	}
	r.log.Info("created table", "columns", len(r.layout.Columns()), "promoted", r.layout.PromotedKeys())
	return nil
}

func (r *Repository) check(existing []string) error {
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}
	var missing []string
	for _, c := range r.layout.Columns() {
		if !have[c.Name] {
			missing = append(missing, c.Name)
		}
		delete(have, c.Name)
	}
	if len(missing) > 0 {
		r.log.Error("table does not match the layout", "missing", missing)
		return &MissingColumnsError{Table: r.table, Columns: missing}
	}
	if len(have) > 0 {
		extra := make([]string, 0, len(have))
		for name := range have {
			extra = append(extra, name)
		}
		r.log.Info("table has columns outside the layout", "extra", extra)
	}
	return nil
}

// Connect opens a Connection on its own database session.
func (r *Repository) Connect(ctx context.Context) (*Connection, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, docerr.Backend("connect", err)
	}
	return &Connection{r: r, conn: conn}, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}
