// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sqlitestore implements storage.Store on top of a sqlite database file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

// Error is the default sqlitestore errs class.
var Error = errs.Class("sqlitestore")

const (
	schemaKey = "schema"
	clockKey  = "clock"

	// scanBatch is the number of rows fetched at once during scans.
	scanBatch = 64
)

// Store is a storage.Store backed by sqlite.
type Store struct {
	*storage.SchemaAdmin

	Path  string
	db    *sql.DB
	clock storage.Clock
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (_ *Store, err error) {
	defer mon.Task()(&ctx)(&err)

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=10000&_txlock=immediate")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// sqlite allows a single writer, a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	store := &Store{Path: path, db: db}
	store.SchemaAdmin = storage.NewSchemaAdmin(store)

	if err := store.prepare(ctx); err != nil {
		return nil, errs.Combine(err, Error.Wrap(db.Close()))
	}
	return store, nil
}

func (store *Store) prepare(ctx context.Context) error {
	_, err := store.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cells (
			tbl       TEXT    NOT NULL,
			row_key   BLOB    NOT NULL,
			family    TEXT    NOT NULL,
			qualifier BLOB    NOT NULL,
			ts        INTEGER NOT NULL,
			value     BLOB    NOT NULL,
			PRIMARY KEY (tbl, row_key, family, qualifier, ts)
		);
		INSERT OR IGNORE INTO meta (key, value) VALUES ('schema', x''), ('clock', x'');
	`)
	return Error.Wrap(err)
}

// Close closes the database.
func (store *Store) Close() error {
	return Error.Wrap(store.db.Close())
}

func (store *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, Error.Wrap(tx.Rollback()))
			return
		}
		err = Error.Wrap(tx.Commit())
	}()
	return fn(tx)
}

func loadMeta(ctx context.Context, tx *sql.Tx, key string) ([]byte, error) {
	var data []byte
	err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&data)
	return data, Error.Wrap(err)
}

func loadSchema(ctx context.Context, tx *sql.Tx) (*storage.Schema, error) {
	data, err := loadMeta(ctx, tx, schemaKey)
	if err != nil {
		return nil, err
	}
	schema, err := storage.UnmarshalSchema(data)
	return schema, Error.Wrap(err)
}

// LoadSchema implements storage.SchemaStore.
func (store *Store) LoadSchema(ctx context.Context) (schema *storage.Schema, err error) {
	defer mon.Task()(&ctx)(&err)
	err = store.inTx(ctx, func(tx *sql.Tx) error {
		schema, err = loadSchema(ctx, tx)
		return err
	})
	return schema, err
}

// UpdateSchema implements storage.SchemaStore.
func (store *Store) UpdateSchema(ctx context.Context, fn func(*storage.Schema) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return store.inTx(ctx, func(tx *sql.Tx) error {
		schema, err := loadSchema(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(schema); err != nil {
			return err
		}
		data, err := storage.MarshalSchema(schema)
		if err != nil {
			return Error.Wrap(err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE meta SET value = ? WHERE key = ?`, data, schemaKey)
		return Error.Wrap(err)
	})
}

// DropData implements storage.SchemaStore.
func (store *Store) DropData(ctx context.Context, table storage.TableName, families ...string) (err error) {
	defer mon.Task()(&ctx)(&err)
	name, err := table.MarshalText()
	if err != nil {
		return Error.Wrap(err)
	}
	if len(families) == 0 {
		_, err = store.db.ExecContext(ctx, `DELETE FROM cells WHERE tbl = ?`, string(name))
		return Error.Wrap(err)
	}

	args := []any{string(name)}
	for _, family := range families {
		args = append(args, family)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(families)), ", ")
	_, err = store.db.ExecContext(ctx, `DELETE FROM cells WHERE tbl = ? AND family IN (`+placeholders+`)`, args...)
	return Error.Wrap(err)
}

// OpenTable returns a handle for an existing table.
func (store *Store) OpenTable(ctx context.Context, name storage.TableName) (_ storage.Table, err error) {
	defer mon.Task()(&ctx)(&err)
	schema, err := store.LoadSchema(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := schema.Table(name); err != nil {
		return nil, err
	}
	key, err := name.MarshalText()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Table{store: store, name: name, key: string(key)}, nil
}

// Table is a handle to a table stored in sqlite.
type Table struct {
	store *Store
	name  storage.TableName
	key   string
}

// Name returns the table name.
func (table *Table) Name() storage.TableName { return table.name }

// Close releases the table handle.
func (table *Table) Close() error { return nil }

func (table *Table) descriptor(ctx context.Context, tx *sql.Tx) (storage.TableDescriptor, error) {
	schema, err := loadSchema(ctx, tx)
	if err != nil {
		return storage.TableDescriptor{}, err
	}
	return schema.Table(table.name)
}

func readCells(ctx context.Context, tx *sql.Tx, tbl string, key []byte) (_ []storage.Cell, err error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT family, qualifier, ts, value FROM cells
		WHERE tbl = ? AND row_key = ?`, tbl, key)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var cells []storage.Cell
	for rows.Next() {
		var cell storage.Cell
		if err := rows.Scan(&cell.Family, &cell.Qualifier, &cell.Timestamp, &cell.Value); err != nil {
			return nil, Error.Wrap(err)
		}
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	storage.SortCells(cells)
	return cells, nil
}

// Get returns the row with the given key.
func (table *Table) Get(ctx context.Context, key []byte, opts storage.ReadOptions) (row storage.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(key) == 0 {
		return storage.Row{}, storage.ErrEmptyRow.New("")
	}
	row.Key = storage.CloneBytes(key)
	err = table.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := table.descriptor(ctx, tx); err != nil {
			return err
		}
		row.Cells, err = readCells(ctx, tx, table.key, key)
		return err
	})
	if err != nil {
		return storage.Row{}, err
	}
	return row.Project(opts.AllVersions), nil
}

// Mutate applies the mutation within a single transaction.
func (table *Table) Mutate(ctx context.Context, mutation storage.Mutation) (ts int64, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(mutation.Row) == 0 {
		return 0, storage.ErrEmptyRow.New("")
	}
	store := table.store
	err = store.inTx(ctx, func(tx *sql.Tx) error {
		desc, err := table.descriptor(ctx, tx)
		if err != nil {
			return err
		}
		for _, family := range mutation.Families() {
			if _, ok := desc.Family(family); !ok {
				return storage.ErrFamilyNotFound.New("%s:%s", table.name, family)
			}
		}

		last, err := loadMeta(ctx, tx, clockKey)
		if err != nil {
			return err
		}
		if len(last) == 8 {
			store.clock.Observe(int64(binary.BigEndian.Uint64(last)))
		}

		current, err := readCells(ctx, tx, table.key, mutation.Row)
		if err != nil {
			return err
		}

		ts = store.clock.Next()
		cells := storage.ApplyMutation(current, mutation, ts, desc.MaxVersions)
		written, removed := storage.DiffCells(current, cells)

		for _, cell := range removed {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM cells
				WHERE tbl = ? AND row_key = ? AND family = ? AND qualifier = ? AND ts = ?`,
				table.key, mutation.Row, cell.Family, cell.Qualifier, cell.Timestamp)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		for _, cell := range written {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cells (tbl, row_key, family, qualifier, ts, value)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (tbl, row_key, family, qualifier, ts) DO UPDATE SET value = excluded.value`,
				table.key, mutation.Row, cell.Family, nonNil(cell.Qualifier), cell.Timestamp, nonNil(cell.Value))
			if err != nil {
				return Error.Wrap(err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE meta SET value = ? WHERE key = ?`,
			binary.BigEndian.AppendUint64(nil, uint64(ts)), clockKey)
		return Error.Wrap(err)
	})
	if err != nil {
		return 0, err
	}
	return ts, nil
}

// nonNil keeps empty values from being stored as NULL.
func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}

// Scan calls fn for every row within the range. Rows are read in batches and
// fn is called outside of any transaction, so it may modify the table.
func (table *Table) Scan(ctx context.Context, opts storage.ScanOptions, fn func(context.Context, storage.Row) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	start, inclusive := opts.Start, true
	for {
		rows, last, err := table.scanBatch(ctx, start, inclusive, opts)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, row); err != nil {
				return err
			}
		}
		if last == nil {
			return nil
		}
		start, inclusive = last, false
	}
}

func (table *Table) scanBatch(ctx context.Context, start []byte, inclusive bool, opts storage.ScanOptions) (result []storage.Row, last []byte, err error) {
	op := ">="
	if !inclusive {
		op = ">"
	}
	err = table.store.inTx(ctx, func(tx *sql.Tx) (err error) {
		if _, err := table.descriptor(ctx, tx); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT row_key, family, qualifier, ts, value FROM cells
			WHERE tbl = ?1 AND row_key IN (
				SELECT DISTINCT row_key FROM cells
				WHERE tbl = ?1
					AND (?2 IS NULL OR row_key `+op+` ?2)
					AND (?3 IS NULL OR row_key < ?3)
				ORDER BY row_key
				LIMIT ?4
			)
			ORDER BY row_key`, table.key, start, opts.Stop, scanBatch)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

		var current *storage.Row
		var examined int
		flush := func() {
			if current == nil {
				return
			}
			storage.SortCells(current.Cells)
			if opts.Filter.Match(*current) {
				result = append(result, current.Project(opts.AllVersions))
			}
		}
		for rows.Next() {
			var key []byte
			var cell storage.Cell
			if err := rows.Scan(&key, &cell.Family, &cell.Qualifier, &cell.Timestamp, &cell.Value); err != nil {
				return Error.Wrap(err)
			}
			if current == nil || string(current.Key) != string(key) {
				flush()
				current = &storage.Row{Key: key}
				examined++
			}
			current.Cells = append(current.Cells, cell)
		}
		if err := rows.Err(); err != nil {
			return Error.Wrap(err)
		}
		flush()

		if examined == scanBatch {
			last = current.Key
		}
		return nil
	})
	return result, last, err
}
