package graph

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/graphmaster/api"
	"github.com/agentic-research/graphmaster/internal/sourcevtab"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteGraph implements Graph on a SQLite database so that a loaded graph
// survives restarts. The trie is stored as an adjacency table keyed by
// (parent, token); leaves live in their own table so several terminal rows
// can share one leaf after AddForBot. Each leaf keeps the templates its
// sources inserted, in order, so unloading one source can merge the rest
// again.
//
// Writes are serialized by writeMu and each runs in a single transaction.
// Lookups read committed state through the pool (WAL mode), so a reader
// never sees a half-inserted path.
type SQLiteGraph struct {
	*counters

	db      *sql.DB
	dbPath  string
	writeMu sync.Mutex

	// vtabID names this database to the source_refs virtual table. Empty
	// for :memory: databases, which cannot serve it.
	vtabID string
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS nodes (
		id     INTEGER PRIMARY KEY,
		parent INTEGER NOT NULL,
		token  TEXT NOT NULL,
		leaf   INTEGER,
		UNIQUE (parent, token)
	);
	CREATE INDEX IF NOT EXISTS nodes_leaf ON nodes (leaf);
	CREATE TABLE IF NOT EXISTS leaves (
		id       INTEGER PRIMARY KEY,
		template TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS contributions (
		leaf     INTEGER NOT NULL,
		seq      INTEGER NOT NULL,
		source   TEXT NOT NULL,
		template TEXT NOT NULL,
		PRIMARY KEY (leaf, seq)
	);
	CREATE TABLE IF NOT EXISTS source_nodes (
		source TEXT PRIMARY KEY,
		bitmap BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	INSERT OR IGNORE INTO nodes (id, parent, token) VALUES (0, -1, '');
	INSERT OR IGNORE INTO counters (name, value) VALUES ('total', 0), ('duplicates', 0);
`

// OpenSQLiteGraph opens (creating if needed) the graph database at dbPath.
// Counters persisted by an earlier run are restored.
func OpenSQLiteGraph(dbPath string, opts Options) (*SQLiteGraph, error) {
	// Connections only see modules registered before they are opened, and
	// sql.Open does not connect until the first Exec.
	mod, err := sourcevtab.Register()
	if err != nil {
		return nil, err
	}

	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close() // ignore error
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("create graph tables: %w", err)
	}

	g := &SQLiteGraph{
		counters: newCounters("sqlite", opts),
		db:       db,
		dbPath:   dbPath,
	}
	var total, dups int64
	err = db.QueryRow(`SELECT
		(SELECT value FROM counters WHERE name = 'total'),
		(SELECT value FROM counters WHERE name = 'duplicates')`).Scan(&total, &dups)
	if err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("read counters: %w", err)
	}
	g.total.Store(total)
	g.duplicates.Store(dups)

	if dbPath != ":memory:" {
		if err := g.createSourceRefs(mod); err != nil {
			_ = db.Close() // ignore error
			return nil, err
		}
	}
	return g, nil
}

// createSourceRefs registers the database with the source_refs virtual
// table module and creates the table on first open. The table definition
// is persisted with the graph id stored in meta, so it keeps resolving
// after the file is moved.
func (g *SQLiteGraph) createSourceRefs(mod *sourcevtab.Module) error {
	newID := "g" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := g.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES ('graph_id', ?)", newID); err != nil {
		return fmt.Errorf("store graph id: %w", err)
	}
	if err := g.db.QueryRow("SELECT value FROM meta WHERE key = 'graph_id'").Scan(&g.vtabID); err != nil {
		return fmt.Errorf("read graph id: %w", err)
	}
	mod.RegisterDB(g.vtabID, g.db)

	query := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS source_refs USING %s(%s)", sourcevtab.ModuleName, g.vtabID)
	if _, err := g.db.Exec(query); err != nil {
		mod.UnregisterDB(g.vtabID, g.db)
		return fmt.Errorf("create source_refs vtab: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteCursor adapts a querier to the matcher and dump walkers.
type sqliteCursor struct {
	ctx context.Context
	q   querier
}

func (c sqliteCursor) Child(id int64, token string) (int64, bool, error) {
	var child int64
	err := c.q.QueryRowContext(c.ctx, "SELECT id FROM nodes WHERE parent = ? AND token = ?", id, token).Scan(&child)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return child, true, nil
}

func (c sqliteCursor) Leaf(id int64) (*Leaf, error) {
	var leafID int64
	var tmpl string
	err := c.q.QueryRowContext(c.ctx,
		"SELECT l.id, l.template FROM nodes n JOIN leaves l ON l.id = n.leaf WHERE n.id = ?", id).Scan(&leafID, &tmpl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sources, err := leafSources(c.ctx, c.q, leafID)
	if err != nil {
		return nil, err
	}
	return &Leaf{Template: tmpl, Sources: sources}, nil
}

func (c sqliteCursor) Children(id int64) ([]string, error) {
	rows, err := c.q.QueryContext(c.ctx, "SELECT token FROM nodes WHERE parent = ? ORDER BY token", id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func leafSources(ctx context.Context, q querier, leafID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT source FROM contributions WHERE leaf = ? GROUP BY source ORDER BY MIN(seq)", leafID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// loadBitmap reads the node set recorded for source. ok is false when the
// source has no row.
func loadBitmap(ctx context.Context, q querier, source string) (bm *roaring.Bitmap, ok bool, err error) {
	var blob []byte
	err = q.QueryRowContext(ctx, "SELECT bitmap FROM source_nodes WHERE source = ?", source).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return roaring.New(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	bm = roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(blob)); err != nil {
		return nil, false, fmt.Errorf("decode node set for %s: %w", source, err)
	}
	return bm, true, nil
}

func storeBitmap(ctx context.Context, q querier, source string, bm *roaring.Bitmap) error {
	bm.RunOptimize()
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO source_nodes (source, bitmap) VALUES (?, ?) ON CONFLICT(source) DO UPDATE SET bitmap = excluded.bitmap",
		source, buf.Bytes())
	return err
}

func ensureNode(ctx context.Context, q querier, parent int64, token string) (int64, error) {
	c, ok, err := sqliteCursor{ctx, q}.Child(parent, token)
	if err != nil || ok {
		return c, err
	}
	res, err := q.ExecContext(ctx, "INSERT INTO nodes (parent, token) VALUES (?, ?)", parent, token)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func bumpCounter(ctx context.Context, q querier, name string) error {
	_, err := q.ExecContext(ctx, "UPDATE counters SET value = value + 1 WHERE name = ?", name)
	return err
}

// Insert implements Graph.
func (g *SQLiteGraph) Insert(ctx context.Context, path Path, template, source string) (Outcome, error) {
	if err := path.Validate(); err != nil {
		return 0, err
	}
	if err := g.checkLength(path); err != nil {
		return 0, err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	bm, _, err := loadBitmap(ctx, tx, source)
	if err != nil {
		return 0, err
	}
	id := int64(rootID)
	for _, tok := range path {
		if id, err = ensureNode(ctx, tx, id, tok); err != nil {
			return 0, fmt.Errorf("insert %s: %w", path, err)
		}
		bm.Add(uint32(id))
	}

	var leafID sql.NullInt64
	var existing sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT n.leaf, l.template FROM nodes n LEFT JOIN leaves l ON l.id = n.leaf WHERE n.id = ?", id).Scan(&leafID, &existing)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", path, err)
	}

	outcome := Created
	if !leafID.Valid {
		res, err := tx.ExecContext(ctx, "INSERT INTO leaves (template) VALUES (?)", template)
		if err != nil {
			return 0, err
		}
		newLeaf, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE nodes SET leaf = ? WHERE id = ?", newLeaf, id); err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO contributions (leaf, seq, source, template) VALUES (?, 0, ?, ?)", newLeaf, source, template)
		if err != nil {
			return 0, err
		}
		if err := bumpCounter(ctx, tx, "total"); err != nil {
			return 0, err
		}
	} else {
		var merged string
		merged, outcome = g.opts.Resolver.Merge(existing.String, template)
		if _, err := tx.ExecContext(ctx, "UPDATE leaves SET template = ? WHERE id = ?", merged, leafID.Int64); err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO contributions (leaf, seq, source, template)
			VALUES (?1, (SELECT COALESCE(MAX(seq), -1) + 1 FROM contributions WHERE leaf = ?1), ?2, ?3)`,
			leafID.Int64, source, template)
		if err != nil {
			return 0, err
		}
		if err := bumpCounter(ctx, tx, "duplicates"); err != nil {
			return 0, err
		}
	}
	if err := storeBitmap(ctx, tx, source, bm); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}

	g.recordInsert(path, source, outcome)
	return outcome, nil
}

// AddCategory implements Graph.
func (g *SQLiteGraph) AddCategory(ctx context.Context, c api.Category) (Outcome, error) {
	path, err := composeCategory(c)
	if err != nil {
		return 0, err
	}
	return g.Insert(ctx, path, c.Template, c.Source)
}

// Unload implements Graph. Unloading a source that is not loaded is a no-op.
func (g *SQLiteGraph) Unload(ctx context.Context, source string) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unload: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	bm, ok, err := loadBitmap(ctx, tx, source)
	if err != nil || !ok {
		return err
	}

	var prune []int64
	it := bm.Iterator()
	for it.HasNext() {
		id := int64(it.Next())
		prune = append(prune, id)

		var leafID sql.NullInt64
		err := tx.QueryRowContext(ctx, "SELECT leaf FROM nodes WHERE id = ?", id).Scan(&leafID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !leafID.Valid) {
			continue
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM contributions WHERE leaf = ? AND source = ?", leafID.Int64, source)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		left, err := leafTemplates(ctx, tx, leafID.Int64)
		if err != nil {
			return err
		}
		if len(left) > 0 {
			merged := g.opts.Resolver.Replay(left)
			if _, err := tx.ExecContext(ctx, "UPDATE leaves SET template = ? WHERE id = ?", merged, leafID.Int64); err != nil {
				return err
			}
			continue
		}
		// Terminals added for other bots share the leaf and go with it.
		shared, err := nodesWithLeaf(ctx, tx, leafID.Int64)
		if err != nil {
			return err
		}
		prune = append(prune, shared...)
		if _, err := tx.ExecContext(ctx, "UPDATE nodes SET leaf = NULL WHERE leaf = ?", leafID.Int64); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM leaves WHERE id = ?", leafID.Int64); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM source_nodes WHERE source = ?", source); err != nil {
		return err
	}

	freed := 0
	for _, id := range prune {
		n, err := pruneNode(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("unload %s: %w", source, err)
		}
		freed += n
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unload: %w", err)
	}

	sourceUnloads.WithLabelValues(g.backend).Inc()
	g.logger.Debug("Unloaded source", slog.String("source", source), slog.Int("nodes_freed", freed))
	return nil
}

// leafTemplates returns the templates still contributed to leafID, oldest
// first.
func leafTemplates(ctx context.Context, q querier, leafID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT template FROM contributions WHERE leaf = ? ORDER BY seq", leafID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nodesWithLeaf(ctx context.Context, q querier, leafID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, "SELECT id FROM nodes WHERE leaf = ?", leafID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pruneNode deletes id and each ancestor left with neither a leaf nor
// children. The root is never deleted.
func pruneNode(ctx context.Context, q querier, id int64) (int, error) {
	freed := 0
	for id != int64(rootID) {
		var parent int64
		var leaf sql.NullInt64
		var children int
		err := q.QueryRowContext(ctx, `SELECT parent, leaf,
			(SELECT COUNT(*) FROM nodes c WHERE c.parent = n.id)
			FROM nodes n WHERE n.id = ?`, id).Scan(&parent, &leaf, &children)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return freed, err
		}
		if leaf.Valid || children > 0 {
			break
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id); err != nil {
			return freed, err
		}
		freed++
		id = parent
	}
	return freed, nil
}

// Match implements Graph.
func (g *SQLiteGraph) Match(ctx context.Context, key Path) (*Match, error) {
	start := time.Now()
	if err := g.checkLength(key); err != nil {
		observeMatch(g.backend, start, nil, err)
		return nil, err
	}

	m, err := g.match(ctx, key)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrMatchTimeout) {
		err = fmt.Errorf("%w: %v", ErrMatchTimeout, ctx.Err())
	}
	observeMatch(g.backend, start, m, err)
	return m, err
}

func (g *SQLiteGraph) match(ctx context.Context, key Path) (*Match, error) {
	// One transaction pins a single snapshot for the whole search.
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin match: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return search[int64](ctx, sqliteCursor{ctx, tx}, int64(rootID), key)
}

// AddForBot implements Graph.
func (g *SQLiteGraph) AddForBot(ctx context.Context, source, botID string) error {
	if err := g.checkBot(botID); err != nil {
		return err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add for bot: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	bm, ok, err := loadBitmap(ctx, tx, source)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, source)
	}

	type terminal struct{ parent, leaf int64 }
	var terminals []terminal
	it := bm.Iterator()
	for it.HasNext() {
		id := int64(it.Next())
		var t terminal
		var token string
		err := tx.QueryRowContext(ctx, `SELECT n.parent, n.leaf, n.token FROM nodes n
			JOIN nodes p ON p.id = n.parent
			WHERE n.id = ? AND p.token = ?
			AND EXISTS (SELECT 1 FROM contributions c WHERE c.leaf = n.leaf AND c.source = ?)`,
			id, BotMarker, source).Scan(&t.parent, &t.leaf, &token)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if token != botID {
			terminals = append(terminals, t)
		}
	}

	for _, t := range terminals {
		var other sql.NullInt64
		err := tx.QueryRowContext(ctx, "SELECT leaf FROM nodes WHERE parent = ? AND token = ?", t.parent, botID).Scan(&other)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if other.Valid {
			if other.Int64 != t.leaf {
				if err := bumpCounter(ctx, tx, "duplicates"); err != nil {
					return err
				}
				g.duplicates.Add(1)
				g.logger.Warn("Bot already has a category on this path",
					slog.String("source", source), slog.String("bot", botID))
			}
			continue
		}
		id, err := ensureNode(ctx, tx, t.parent, botID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE nodes SET leaf = ? WHERE id = ?", t.leaf, id); err != nil {
			return err
		}
		bm.Add(uint32(id))
	}
	if err := storeBitmap(ctx, tx, source, bm); err != nil {
		return err
	}
	return tx.Commit()
}

// Loaded implements Graph.
func (g *SQLiteGraph) Loaded(source string) bool {
	var n int
	err := g.db.QueryRow("SELECT COUNT(*) FROM source_nodes WHERE source = ?", source).Scan(&n)
	if err != nil {
		g.logger.Error("Loaded query failed", slog.String("source", source), slog.Any("error", err))
		return false
	}
	return n > 0
}

// Sources implements Graph.
func (g *SQLiteGraph) Sources() []string {
	rows, err := g.db.Query("SELECT source FROM source_nodes ORDER BY source")
	if err != nil {
		g.logger.Error("Sources query failed", slog.Any("error", err))
		return nil
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			g.logger.Error("Sources scan failed", slog.Any("error", err))
			return out
		}
		out = append(out, s)
	}
	return out
}

// SourceNodeCounts implements Graph. File databases answer through the
// source_refs virtual table; :memory: ones decode the bitmaps directly.
func (g *SQLiteGraph) SourceNodeCounts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	if g.vtabID == "" {
		for _, src := range g.Sources() {
			bm, ok, err := loadBitmap(ctx, g.db, src)
			if err != nil {
				return nil, err
			}
			if ok {
				out[src] = int(bm.GetCardinality())
			}
		}
		return out, nil
	}

	rows, err := g.db.QueryContext(ctx, "SELECT source, COUNT(*) FROM source_refs GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("query source_refs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, err
		}
		out[src] = n
	}
	return out, rows.Err()
}

// SourceNodes lists the edge tokens of the nodes source references, in
// node order. It needs a file database.
func (g *SQLiteGraph) SourceNodes(ctx context.Context, source string) ([]string, error) {
	if g.vtabID == "" {
		return nil, fmt.Errorf("source_refs is not available for %s", g.dbPath)
	}
	rows, err := g.db.QueryContext(ctx, "SELECT token FROM source_refs WHERE source = ? ORDER BY node", source)
	if err != nil {
		return nil, fmt.Errorf("query source_refs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// NodeCount returns the number of stored nodes, root included.
func (g *SQLiteGraph) NodeCount() (int, error) {
	var n int
	err := g.db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&n)
	return n, err
}

// Dump implements Graph.
func (g *SQLiteGraph) Dump(ctx context.Context, w io.Writer) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dump: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return writeDump[int64](ctx, sqliteCursor{ctx, tx}, int64(rootID), w)
}

// Reset implements Graph.
func (g *SQLiteGraph) Reset() error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	_, err := g.db.Exec(`
		DELETE FROM nodes WHERE id != 0;
		UPDATE nodes SET leaf = NULL;
		DELETE FROM leaves;
		DELETE FROM contributions;
		DELETE FROM source_nodes;
		UPDATE counters SET value = 0;
	`)
	if err != nil {
		return fmt.Errorf("reset graph: %w", err)
	}
	g.reset()
	return nil
}

// Close implements Graph.
func (g *SQLiteGraph) Close() error {
	if g.vtabID != "" {
		if mod, err := sourcevtab.Register(); err == nil && mod != nil {
			mod.UnregisterDB(g.vtabID, g.db)
		}
	}
	return g.db.Close()
}
