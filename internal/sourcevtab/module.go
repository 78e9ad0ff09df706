// Package sourcevtab exposes the graph's per-source node bitmaps as the
// SQLite virtual table graphmaster_sources(source, node, token), one row per
// node a loaded source references.
package sourcevtab

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"modernc.org/sqlite/vtab"
)

// ModuleName is the name the module is registered under.
const ModuleName = "graphmaster_sources"

var (
	once      sync.Once
	singleton *Module
	initErr   error
)

// Module implements vtab.Module. modernc.org/sqlite registers modules with
// the driver, not per database, so there is one per process.
type Module struct {
	mu sync.RWMutex
	// dbs maps the id passed to CREATE VIRTUAL TABLE to the database that
	// holds the source_nodes and nodes tables.
	dbs map[string]*sql.DB
}

// Register registers the module with the SQLite driver. Only the first call
// registers; every call returns the same module.
func Register() (*Module, error) {
	once.Do(func() {
		singleton = &Module{dbs: make(map[string]*sql.DB)}
		if err := vtab.RegisterModule(nil, ModuleName, singleton); err != nil {
			initErr = fmt.Errorf("sourcevtab: register module: %w", err)
			singleton = nil
		}
	})
	return singleton, initErr
}

// RegisterDB makes db reachable as id. The id must be a bare SQL word.
func (m *Module) RegisterDB(id string, db *sql.DB) {
	m.mu.Lock()
	m.dbs[id] = db
	m.mu.Unlock()
}

// UnregisterDB forgets id if it still refers to db.
func (m *Module) UnregisterDB(id string, db *sql.DB) {
	m.mu.Lock()
	if m.dbs[id] == db {
		delete(m.dbs, id)
	}
	m.mu.Unlock()
}

func (m *Module) lookup(id string) (*sql.DB, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	db, ok := m.dbs[id]
	return db, ok
}

// Create implements vtab.Module. args are the module name, the database
// name, the table name, then the arguments inside USING module(...).
func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("%s: missing DB ID argument (expected USING %s(id))", ModuleName, ModuleName)
	}
	id := strings.TrimSpace(args[3])
	db, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s: unknown DB ID %q", ModuleName, id)
	}
	if err := ctx.Declare("CREATE TABLE x(source TEXT, node INTEGER, token TEXT)"); err != nil {
		return nil, err
	}
	return &table{db: db}, nil
}

// Connect implements vtab.Module.
func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Create(ctx, args)
}

type table struct {
	db *sql.DB
}

const (
	scanAll = iota
	scanEqual
	scanLike
	scanGlob
)

func (t *table) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable || c.Column != 0 {
			continue
		}
		switch c.Op {
		case vtab.OpEQ:
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = scanEqual
			info.EstimatedCost = 1
			info.EstimatedRows = 100
			return nil
		case vtab.OpLIKE:
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = scanLike
			info.EstimatedCost = 100
			info.EstimatedRows = 1000
			return nil
		case vtab.OpGLOB:
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = scanGlob
			info.EstimatedCost = 100
			info.EstimatedRows = 1000
			return nil
		}
	}
	info.IdxNum = scanAll
	info.EstimatedCost = 1e6
	info.EstimatedRows = 1e6
	return nil
}

func (t *table) Open() (vtab.Cursor, error) {
	return &cursor{db: t.db}, nil
}

func (t *table) Disconnect() error { return nil }
func (t *table) Destroy() error    { return nil }

type row struct {
	source string
	node   int64
	token  string
}

type cursor struct {
	db   *sql.DB
	rows []row
	pos  int
}

type entry struct {
	source string
	blob   []byte
}

func (c *cursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	c.rows = c.rows[:0]
	c.pos = 0

	var (
		where string
		args  []any
	)
	switch idxNum {
	case scanEqual:
		where = " WHERE source = ?"
	case scanLike:
		where = " WHERE source LIKE ?"
	case scanGlob:
		where = " WHERE source GLOB ?"
	}
	if where != "" {
		v, ok := vals[0].(string)
		if !ok {
			return nil
		}
		args = append(args, v)
	}

	// Collect the bitmaps and close the scan before resolving tokens, so
	// the two queries never hold two pooled connections at once.
	rows, err := c.db.Query("SELECT source, bitmap FROM source_nodes"+where+" ORDER BY source", args...)
	if err != nil {
		return fmt.Errorf("%s: scan source_nodes: %w", ModuleName, err)
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.source, &e.blob); err != nil {
			_ = rows.Close() // ignore error
			return fmt.Errorf("%s: scan source_nodes row: %w", ModuleName, err)
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	_ = rows.Close() // ignore error
	if err != nil {
		return fmt.Errorf("%s: scan source_nodes rows: %w", ModuleName, err)
	}

	for _, e := range entries {
		if err := c.expand(e); err != nil {
			return err
		}
	}
	return nil
}

// expand turns one source's bitmap into rows, resolving node ids to their
// edge tokens. Ids whose node has since been pruned are skipped.
func (c *cursor) expand(e entry) error {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(e.blob); err != nil {
		return fmt.Errorf("%s: unmarshal bitmap for %q: %w", ModuleName, e.source, err)
	}
	if bm.IsEmpty() {
		return nil
	}

	ids := bm.ToArray()
	args := make([]any, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("SELECT id, token FROM nodes WHERE id IN (%s) ORDER BY id", strings.Join(placeholders, ","))
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("%s: resolve nodes: %w", ModuleName, err)
	}
	defer func() { _ = rows.Close() }() // ignore error

	for rows.Next() {
		r := row{source: e.source}
		if err := rows.Scan(&r.node, &r.token); err != nil {
			return fmt.Errorf("%s: resolve nodes row: %w", ModuleName, err)
		}
		c.rows = append(c.rows, r)
	}
	return rows.Err()
}

func (c *cursor) Next() error {
	c.pos++
	return nil
}

func (c *cursor) Eof() bool {
	return c.pos >= len(c.rows)
}

func (c *cursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	r := c.rows[c.pos]
	switch col {
	case 0:
		return r.source, nil
	case 1:
		return r.node, nil
	case 2:
		return r.token, nil
	default:
		return nil, errors.New(ModuleName + ": no such column")
	}
}

func (c *cursor) Rowid() (int64, error) {
	return int64(c.pos), nil
}

func (c *cursor) Close() error {
	c.rows = nil
	return nil
}
