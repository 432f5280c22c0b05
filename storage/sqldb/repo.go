package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/storage/sqldb/migrations"
	"github.com/c0deZ3R0/listsync/store"
)

// Dialect selects placeholder style, migrations and transaction options.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// Migrate applies the embedded schema migrations for dialect.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	var fsys fs.FS
	var dir string
	switch dialect {
	case SQLite:
		fsys, dir = migrations.SQLite, "sqlite"
	case Postgres:
		fsys, dir = migrations.Postgres, "postgres"
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Repo runs the store queries for one dialect.
type Repo struct {
	dialect Dialect
	queries map[string]string
}

// NewRepo prepares the queries for dialect.
func NewRepo(dialect Dialect) *Repo {
	r := &Repo{dialect: dialect, queries: make(map[string]string)}
	for name, q := range baseQueries {
		r.queries[name] = r.rebind(q)
	}
	return r
}

// SnapshotTxOptions returns the options for a consistent read.
func (r *Repo) SnapshotTxOptions() *sql.TxOptions {
	if r.dialect == Postgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (r *Repo) rebind(q string) string {
	if r.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

var baseQueries = map[string]string{
	"selectLists":  `SELECT id, name, order_number, created_at, modified_at, archived FROM lists ORDER BY order_number, id`,
	"selectItems":  `SELECT id, list_id, title, description, quantity, order_number, crossed_out, created_at, modified_at FROM items ORDER BY list_id, order_number, id`,
	"selectImages": `SELECT id, item_id, data, order_number FROM images ORDER BY item_id, order_number, id`,

	"upsertList": `INSERT INTO lists (id, name, order_number, created_at, modified_at, archived) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, order_number = excluded.order_number,
created_at = excluded.created_at, modified_at = excluded.modified_at, archived = excluded.archived`,
	"upsertItem": `INSERT INTO items (id, list_id, title, description, quantity, order_number, crossed_out, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET list_id = excluded.list_id, title = excluded.title, description = excluded.description,
quantity = excluded.quantity, order_number = excluded.order_number, crossed_out = excluded.crossed_out,
created_at = excluded.created_at, modified_at = excluded.modified_at`,
	"upsertImage": `INSERT INTO images (id, item_id, data, order_number) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET item_id = excluded.item_id, data = excluded.data, order_number = excluded.order_number`,

	"orderList":  `UPDATE lists SET order_number = ? WHERE id = ?`,
	"orderItem":  `UPDATE items SET order_number = ? WHERE id = ?`,
	"orderImage": `UPDATE images SET order_number = ? WHERE id = ?`,

	"deleteListImages": `DELETE FROM images WHERE item_id IN (SELECT id FROM items WHERE list_id = ?)`,
	"deleteListItems":  `DELETE FROM items WHERE list_id = ?`,
	"deleteList":       `DELETE FROM lists WHERE id = ?`,
	"deleteItemImages": `DELETE FROM images WHERE item_id = ?`,
	"deleteItem":       `DELETE FROM items WHERE id = ?`,
	"deleteImage":      `DELETE FROM images WHERE id = ?`,
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Snapshot reads all entities through q, which should be a read
// transaction for a consistent view.
func (r *Repo) Snapshot(ctx context.Context, q DBTX) (*model.Snapshot, error) {
	out := &model.Snapshot{}

	rows, err := q.QueryContext(ctx, r.queries["selectLists"])
	if err != nil {
		return nil, fmt.Errorf("select lists: %w", err)
	}
	for rows.Next() {
		var l model.List
		var created, modified int64
		if err := rows.Scan(&l.ID, &l.Name, &l.OrderNumber, &created, &modified, &l.Archived); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan list: %w", err)
		}
		l.CreatedAt, l.ModifiedAt = fromNanos(created), fromNanos(modified)
		out.Lists = append(out.Lists, l)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("select lists: %w", err)
	}

	rows, err = q.QueryContext(ctx, r.queries["selectItems"])
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	for rows.Next() {
		var it model.Item
		var created, modified int64
		if err := rows.Scan(&it.ID, &it.ListID, &it.Title, &it.Description, &it.Quantity, &it.OrderNumber,
			&it.CrossedOut, &created, &modified); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.CreatedAt, it.ModifiedAt = fromNanos(created), fromNanos(modified)
		out.Items = append(out.Items, it)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}

	rows, err = q.QueryContext(ctx, r.queries["selectImages"])
	if err != nil {
		return nil, fmt.Errorf("select images: %w", err)
	}
	for rows.Next() {
		var im model.Image
		if err := rows.Scan(&im.ID, &im.ItemID, &im.Data, &im.OrderNumber); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out.Images = append(out.Images, im)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("select images: %w", err)
	}
	return out, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

// Writer returns a store.Tx that writes through q.
func (r *Repo) Writer(q DBTX) store.Tx {
	return &writer{r: r, q: q}
}

type writer struct {
	r *Repo
	q DBTX
}

func (w *writer) exec(ctx context.Context, name string, args ...any) error {
	if _, err := w.q.ExecContext(ctx, w.r.queries[name], args...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (w *writer) PutList(ctx context.Context, l model.List) error {
	return w.exec(ctx, "upsertList", l.ID, l.Name, l.OrderNumber, toNanos(l.CreatedAt), toNanos(l.ModifiedAt), l.Archived)
}

func (w *writer) PutItem(ctx context.Context, it model.Item) error {
	return w.exec(ctx, "upsertItem", it.ID, it.ListID, it.Title, it.Description, it.Quantity, it.OrderNumber,
		it.CrossedOut, toNanos(it.CreatedAt), toNanos(it.ModifiedAt))
}

func (w *writer) PutImage(ctx context.Context, im model.Image) error {
	return w.exec(ctx, "upsertImage", im.ID, im.ItemID, im.Data, im.OrderNumber)
}

func (w *writer) SetOrder(ctx context.Context, kind model.Kind, id string, order int) error {
	var name string
	switch kind {
	case model.KindList:
		name = "orderList"
	case model.KindItem:
		name = "orderItem"
	case model.KindImage:
		name = "orderImage"
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	res, err := w.q.ExecContext(ctx, w.r.queries[name], order, id)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %s %s does not exist", name, kind, id)
	}
	return nil
}

func (w *writer) DeleteList(ctx context.Context, id string) error {
	for _, name := range []string{"deleteListImages", "deleteListItems", "deleteList"} {
		if err := w.exec(ctx, name, id); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) DeleteItem(ctx context.Context, id string) error {
	if err := w.exec(ctx, "deleteItemImages", id); err != nil {
		return err
	}
	return w.exec(ctx, "deleteItem", id)
}

func (w *writer) DeleteImage(ctx context.Context, id string) error {
	return w.exec(ctx, "deleteImage", id)
}

func joinRollback(err, rbErr error) error {
	return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
}
