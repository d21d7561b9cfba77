package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stevemurr/docstore/codec"
	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/dialect"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/query"
	"github.com/stevemurr/docstore/sqlb"
	"github.com/stevemurr/docstore/state"
)

// Connection is a session on the document table. Statements run in
// autocommit mode unless a transaction was started with Begin.
type Connection struct {
	r      *Repository
	conn   *sql.Conn
	tx     *sql.Tx
	closed bool
}

// Layout returns the column layout of the table.
func (c *Connection) Layout() *column.Layout {
	return c.r.layout
}

func (c *Connection) q() dialect.Querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *Connection) check() error {
	if c.closed {
		return docerr.ErrClosed
	}
	return nil
}

// Begin starts a transaction.
func (c *Connection) Begin(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	if c.tx != nil {
		return errors.New("store: transaction already started")
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return docerr.Backend("begin", err)
	}
	c.tx = tx
	return nil
}

// Commit commits the transaction started by Begin.
func (c *Connection) Commit() error {
	if c.tx == nil {
		return errors.New("store: no transaction")
	}
	err := c.tx.Commit()
	c.tx = nil
	return docerr.Backend("commit", err)
}

// Rollback aborts the transaction started by Begin, if any.
func (c *Connection) Rollback() error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	return docerr.Backend("rollback", err)
}

// Close rolls back any open transaction and releases the session.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	rerr := c.Rollback()
	if err := c.conn.Close(); err != nil {
		return docerr.Backend("close", err)
	}
	return rerr
}

func (c *Connection) render(f sqlb.Fragment) (string, []any, error) {
	args := make([]any, len(f.Args))
	for i, p := range f.Args {
		a, err := c.r.d.Arg(p)
		if err != nil {
			return "", nil, err
		}
		args[i] = a
	}
	return c.r.d.Rebind(f.SQL), args, nil
}

func (c *Connection) observe(op, text string, nargs int, start time.Time, err error) {
	elapsed := time.Since(start)
	StatementCount.WithLabelValues(c.r.table, op).Inc()
	StatementDuration.WithLabelValues(c.r.table, op).Observe(float64(elapsed.Microseconds()) / 1000)
	if err != nil {
		StatementErrors.WithLabelValues(c.r.table, op).Inc()
		c.r.log.Debug("statement failed", "op", op, "sql", text, "args", nargs, "err", err)
		return
	}
	c.r.log.Debug("statement", "op", op, "sql", text, "args", nargs, "duration", elapsed)
}

func (c *Connection) exec(ctx context.Context, op string, f sqlb.Fragment) (sql.Result, error) {
	text, args, err := c.render(f)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.q().ExecContext(ctx, text, args...)
	c.observe(op, text, len(args), start, err)
	if err != nil {
		return nil, docerr.Backend(op, err)
	}
	return res, nil
}

func (c *Connection) query(ctx context.Context, op string, f sqlb.Fragment) (*sql.Rows, error) {
	text, args, err := c.render(f)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := c.q().QueryContext(ctx, text, args...)
	c.observe(op, text, len(args), start, err)
	if err != nil {
		return nil, docerr.Backend(op, err)
	}
	return rows, nil
}

// prepare runs the lookups of the pseudo paths of p.
func (c *Connection) prepare(ctx context.Context, p query.Predicate) (query.Predicate, error) {
	if p == nil {
		return nil, nil
	}
	paths := c.r.paths
	if paths == nil {
		paths = c
	}
	return query.Prepare(ctx, p, query.Resolvers{Paths: paths, Facets: c.r.facets})
}

// Read returns the document id, or nil when it does not exist.
func (c *Connection) Read(ctx context.Context, id string) (*state.State, error) {
	docs, err := c.ReadMany(ctx, id)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// ReadMany returns the documents ids in the order given. Missing ids are
// skipped.
func (c *Connection) ReadMany(ctx context.Context, ids ...string) ([]*state.State, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := c.Query(ctx, query.Query{Where: idIn(ids)})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*state.State, len(docs))
	for _, doc := range docs {
		if id, ok := doc.Get(column.KeyID).(state.String); ok {
			byID[string(id)] = doc
		}
	}
	out := make([]*state.State, 0, len(docs))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
			delete(byID, id)
		}
	}
	return out, nil
}

func idIn(ids []string) query.Predicate {
	vs := make([]state.Value, len(ids))
	for i, id := range ids {
		vs[i] = state.String(id)
	}
	return query.Compare(column.KeyID, query.In, vs...)
}

// ReadByKey returns the documents whose key equals v. On list keys it
// returns the documents whose list contains v.
func (c *Connection) ReadByKey(ctx context.Context, key string, v state.Value) ([]*state.State, error) {
	return c.Query(ctx, query.Query{Where: query.Equal(key, v)})
}

// ReadByKeys returns the documents whose key is one of vs.
func (c *Connection) ReadByKeys(ctx context.Context, key string, vs ...state.Value) ([]*state.State, error) {
	return c.Query(ctx, query.Query{Where: query.Compare(key, query.In, vs...)})
}

// Query returns the documents matching q. With Select paths each result
// holds the selected values keyed by path.
func (c *Connection) Query(ctx context.Context, q query.Query) ([]*state.State, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	where, err := c.prepare(ctx, q.Where)
	if err != nil {
		return nil, err
	}
	q.Where = where
	stmt, err := c.r.queries.Select(c.r.table, q)
	if err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, "query", stmt.Fragment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*state.State
	for rows.Next() {
		dests := make([]any, len(stmt.Columns))
		for i, p := range stmt.Columns {
			dests[i] = c.r.d.ScanDest(p.Type)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, docerr.Backend("query", err)
		}
		doc, err := c.assemble(stmt.Columns, dests, len(q.Select) == 0)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, docerr.Backend("query", err)
	}
	return out, nil
}

// assemble converts a scanned row into a State. For whole documents the
// residual column holds the keys without a dedicated column.
func (c *Connection) assemble(cols []query.Projection, dests []any, whole bool) (*state.State, error) {
	doc := state.New()
	for i, p := range cols {
		v, err := c.r.d.Value(p.Type, dests[i])
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if p.Type == column.TypeJSON {
			text := string(v.(state.String))
			if whole && p.Column.IsResidual() {
				decode := codec.Decode
				if !c.r.strict {
					decode = codec.DecodeLenient
				}
				residual, err := decode(text, c.r.layout.Types())
				if err != nil {
					return nil, err
				}
				for _, k := range residual.Keys() {
					doc.Set(k, residual.Get(k))
				}
				continue
			}
			if v, err = codec.DecodeValue(text, p.Node, p.Path); err != nil {
				return nil, err
			}
		}
		doc.Set(p.Path, v)
	}
	return doc, nil
}

// Count returns the number of documents matching p.
func (c *Connection) Count(ctx context.Context, p query.Predicate) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	where, err := c.prepare(ctx, p)
	if err != nil {
		return 0, err
	}
	stmt, err := c.r.queries.Count(c.r.table, where)
	if err != nil {
		return 0, err
	}
	rows, err := c.query(ctx, "count", stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, docerr.Backend("count", err)
		}
	}
	return n, docerr.Backend("count", rows.Err())
}

// Create inserts doc and returns its id. A document without an id gets one
// from the id generator; a document with a parent and no ancestors gets the
// ancestors of its parent followed by the parent.
func (c *Connection) Create(ctx context.Context, doc *state.State) (string, error) {
	ids, err := c.CreateMany(ctx, doc)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// CreateMany inserts docs with a single statement and returns their ids.
// Parents may appear earlier in the same batch.
func (c *Connection) CreateMany(ctx context.Context, docs ...*state.State) ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	cols := c.r.layout.Columns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = c.r.d.Quote(col.Name)
	}
	ids := make([]string, len(docs))
	rows := make([]sqlb.Fragment, len(docs))
	batch := make(map[string]*state.State, len(docs))
	for i, doc := range docs {
		doc = doc.Clone()
		if doc == nil {
			doc = state.New()
		}
		id, err := c.ensureID(ctx, doc)
		if err != nil {
			return nil, err
		}
		if err := c.fillAncestors(ctx, doc, batch); err != nil {
			return nil, err
		}
		if c.r.strict {
			if err := c.r.layout.Types().Validate(doc); err != nil {
				return nil, err
			}
		}
		if rows[i], err = c.row(cols, doc); err != nil {
			return nil, err
		}
		ids[i] = id
		batch[id] = doc
	}
	stmt := sqlb.Sprintf("INSERT INTO %s (%s) VALUES %s",
		sqlb.Raw(c.r.d.Quote(c.r.table)), sqlb.Raw(strings.Join(names, ", ")), sqlb.Join(", ", rows))
	if _, err := c.exec(ctx, "create", stmt); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Connection) ensureID(ctx context.Context, doc *state.State) (string, error) {
	switch id := doc.Get(column.KeyID).(type) {
	case state.String:
		return string(id), nil
	case nil:
	default:
		return "", docerr.AtPath(docerr.ErrTypeMismatch, column.KeyID, "expected string, got %s", id.Kind())
	}
	id, err := c.r.ids.NewID(ctx, IDScope{Q: c.q(), Dialect: c.r.d, Table: c.r.table})
	if err != nil {
		return "", docerr.Backend("id", err)
	}
	doc.Set(column.KeyID, state.String(id))
	return id, nil
}

func (c *Connection) fillAncestors(ctx context.Context, doc *state.State, batch map[string]*state.State) error {
	if _, ok := doc.Lookup(column.KeyAncestorIDs); ok {
		return nil
	}
	parent, ok := doc.Get(column.KeyParentID).(state.String)
	if !ok {
		return nil
	}
	p, ok := batch[string(parent)]
	if !ok {
		found, err := c.Query(ctx, query.Query{
			Select: []string{column.KeyAncestorIDs},
			Where:  query.Equal(column.KeyID, parent),
		})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			// the foreign key rejects the insert
			return nil
		}
		p = found[0]
	}
	ancestors, _ := p.Get(column.KeyAncestorIDs).(state.Array)
	doc.Set(column.KeyAncestorIDs, append(append(state.Array(nil), ancestors...), parent))
	return nil
}

// row returns the VALUES tuple of doc.
func (c *Connection) row(cols []column.Column, doc *state.State) (sqlb.Fragment, error) {
	vals := make([]sqlb.Fragment, len(cols))
	index := make(map[string]int, len(cols))
	for i, col := range cols {
		vals[i] = sqlb.Raw("NULL")
		index[col.Name] = i
	}
	residual := state.New()
	for _, key := range doc.Keys() {
		col, err := c.r.layout.Resolve(key, c.r.strict)
		if err != nil {
			return sqlb.Fragment{}, err
		}
		v := doc.Get(key)
		if state.IsNull(v) {
			continue
		}
		if col.IsResidual() {
			residual.Set(key, v)
			continue
		}
		p, err := sqlb.Typed(col.Type, v)
		if err != nil {
			return sqlb.Fragment{}, docerr.AtPath(docerr.ErrTypeMismatch, key, "%v", err)
		}
		vals[index[col.Name]] = c.r.d.Bind(p)
	}
	if residual.Len() > 0 {
		p, err := sqlb.JSONParam(residual)
		if err != nil {
			return sqlb.Fragment{}, err
		}
		vals[index[c.r.layout.Residual().Name]] = c.r.d.Bind(p)
	}
	return sqlb.Paren(sqlb.Join(", ", vals)), nil
}

// Update applies d to the document id. When cond is not nil the document
// must also match it. An update matching no row fails with
// docerr.ErrConcurrentUpdate and changes nothing.
func (c *Connection) Update(ctx context.Context, id string, d *state.StateDiff, cond query.Predicate) error {
	if err := c.check(); err != nil {
		return err
	}
	if !state.IsNOP(d.Get(column.KeyID)) {
		return docerr.AtPath(docerr.ErrUnsupportedField, column.KeyID, "ids are immutable")
	}
	as, err := c.r.diffs.Assignments(d)
	if err != nil {
		return err
	}
	if len(as) == 0 {
		return nil
	}
	sets := make([]sqlb.Fragment, len(as))
	for i, a := range as {
		sets[i] = sqlb.Sprintf("%s = %s", sqlb.Raw(c.r.d.Quote(a.Column.Name)), a.Expr)
	}
	match := query.And{query.Equal(column.KeyID, state.String(id))}
	if cond != nil {
		p, err := c.prepare(ctx, cond)
		if err != nil {
			return err
		}
		match = append(match, p)
	}
	where, err := c.r.queries.Where(match)
	if err != nil {
		return err
	}
	stmt := sqlb.Sprintf("UPDATE %s SET %s WHERE %s",
		sqlb.Raw(c.r.d.Quote(c.r.table)), sqlb.Join(", ", sets), where)
	res, err := c.exec(ctx, "update", stmt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return docerr.Backend("update", err)
	}
	if n == 0 {
		ConflictCount.WithLabelValues(c.r.table).Inc()
		c.r.log.Warn("update matched no row", "id", id)
		return fmt.Errorf("%w: document %s", docerr.ErrConcurrentUpdate, id)
	}
	return nil
}

// Delete removes the documents ids and, through the parent foreign key,
// their descendants. It returns the number of ids that existed.
func (c *Connection) Delete(ctx context.Context, ids ...string) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	where, err := c.r.queries.Where(idIn(ids))
	if err != nil {
		return 0, err
	}
	res, err := c.exec(ctx, "delete", sqlb.Sprintf("DELETE FROM %s WHERE %s", sqlb.Raw(c.r.d.Quote(c.r.table)), where))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return n, docerr.Backend("delete", err)
}

// ResolvePath resolves "/a/b" to the id of the document named "b" whose
// parent is the top level document named "a".
func (c *Connection) ResolvePath(ctx context.Context, path string) (string, bool, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", false, nil
	}
	var parent query.Predicate = query.IsNull{Path: column.KeyParentID}
	var id string
	for _, name := range strings.Split(trimmed, "/") {
		if name == "" {
			return "", false, nil
		}
		found, err := c.Query(ctx, query.Query{
			Select: []string{column.KeyID},
			Where:  query.And{parent, query.Equal(column.KeyName, state.String(name))},
			Limit:  1,
		})
		if err != nil {
			return "", false, err
		}
		if len(found) == 0 {
			return "", false, nil
		}
		s, _ := found[0].Get(column.KeyID).(state.String)
		id = string(s)
		parent = query.Equal(column.KeyParentID, s)
	}
	return id, true, nil
}
