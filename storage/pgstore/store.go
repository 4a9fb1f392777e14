// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package pgstore implements storage.Store on top of postgres.
package pgstore

import (
	"context"
	"encoding/binary"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

// Error is the default pgstore errs class.
var Error = errs.Class("pgstore")

const (
	schemaKey = "schema"
	clockKey  = "clock"

	// scanBatch is the number of rows fetched at once during scans.
	scanBatch = 64
)

// Store is a storage.Store backed by postgres.
type Store struct {
	*storage.SchemaAdmin

	URL    string
	schema string
	pool   *pgxpool.Pool
	clock  storage.Clock
}

var _ storage.Store = (*Store)(nil)

// Open connects to postgres and prepares the tables. When schema is not
// empty the tables are created in that postgres schema.
func Open(ctx context.Context, url, schema string) (_ *Store, err error) {
	defer mon.Task()(&ctx)(&err)

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if schema != "" {
		config.ConnConfig.RuntimeParams["search_path"] = schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	store := &Store{URL: url, schema: schema, pool: pool}
	store.SchemaAdmin = storage.NewSchemaAdmin(store)

	if err := store.prepare(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (store *Store) prepare(ctx context.Context, schema string) error {
	if schema != "" {
		_, err := store.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize())
		if err != nil {
			return Error.Wrap(err)
		}
	}
	_, err := store.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cells (
			tbl       TEXT   NOT NULL,
			row_key   BYTEA  NOT NULL,
			family    TEXT   NOT NULL,
			qualifier BYTEA  NOT NULL,
			ts        BIGINT NOT NULL,
			value     BYTEA  NOT NULL,
			PRIMARY KEY (tbl, row_key, family, qualifier, ts)
		);
		INSERT INTO meta (key, value) VALUES ('schema', ''), ('clock', '')
			ON CONFLICT (key) DO NOTHING;
	`)
	return Error.Wrap(err)
}

// DropSchema drops the postgres schema given to Open with all of its data.
func (store *Store) DropSchema(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	if store.schema == "" {
		return Error.New("store was opened without a schema")
	}
	_, err = store.pool.Exec(ctx, `DROP SCHEMA `+pgx.Identifier{store.schema}.Sanitize()+` CASCADE`)
	return Error.Wrap(err)
}

// Close closes the connection pool.
func (store *Store) Close() error {
	store.pool.Close()
	return nil
}

func loadSchema(ctx context.Context, tx pgx.Tx, lock string) (*storage.Schema, error) {
	var data []byte
	err := tx.QueryRow(ctx, `SELECT value FROM meta WHERE key = $1 `+lock, schemaKey).Scan(&data)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	schema, err := storage.UnmarshalSchema(data)
	return schema, Error.Wrap(err)
}

func (store *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, store.pool, fn)
}

// LoadSchema implements storage.SchemaStore.
func (store *Store) LoadSchema(ctx context.Context) (schema *storage.Schema, err error) {
	defer mon.Task()(&ctx)(&err)
	err = store.inTx(ctx, func(tx pgx.Tx) error {
		schema, err = loadSchema(ctx, tx, "")
		return err
	})
	return schema, err
}

// UpdateSchema implements storage.SchemaStore.
func (store *Store) UpdateSchema(ctx context.Context, fn func(*storage.Schema) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return store.inTx(ctx, func(tx pgx.Tx) error {
		schema, err := loadSchema(ctx, tx, "FOR UPDATE")
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
		_, err = tx.Exec(ctx, `UPDATE meta SET value = $2 WHERE key = $1`, schemaKey, data)
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
		_, err = store.pool.Exec(ctx, `DELETE FROM cells WHERE tbl = $1`, string(name))
		return Error.Wrap(err)
	}
	_, err = store.pool.Exec(ctx, `DELETE FROM cells WHERE tbl = $1 AND family = ANY($2)`, string(name), families)
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

// Table is a handle to a table stored in postgres.
type Table struct {
	store *Store
	name  storage.TableName
	key   string
}

// Name returns the table name.
func (table *Table) Name() storage.TableName { return table.name }

// Close releases the table handle.
func (table *Table) Close() error { return nil }

func (table *Table) descriptor(ctx context.Context, tx pgx.Tx) (storage.TableDescriptor, error) {
	schema, err := loadSchema(ctx, tx, "FOR SHARE")
	if err != nil {
		return storage.TableDescriptor{}, err
	}
	return schema.Table(table.name)
}

func readCells(ctx context.Context, tx pgx.Tx, tbl string, key []byte, lock string) ([]storage.Cell, error) {
	rows, err := tx.Query(ctx, `
		SELECT family, qualifier, ts, value FROM cells
		WHERE tbl = $1 AND row_key = $2 `+lock, tbl, key)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

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
	err = table.store.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := table.descriptor(ctx, tx); err != nil {
			return err
		}
		row.Cells, err = readCells(ctx, tx, table.key, key, "")
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
	err = store.inTx(ctx, func(tx pgx.Tx) error {
		desc, err := table.descriptor(ctx, tx)
		if err != nil {
			return err
		}
		for _, family := range mutation.Families() {
			if _, ok := desc.Family(family); !ok {
				return storage.ErrFamilyNotFound.New("%s:%s", table.name, family)
			}
		}

		var last []byte
		err = tx.QueryRow(ctx, `SELECT value FROM meta WHERE key = $1 FOR UPDATE`, clockKey).Scan(&last)
		if err != nil {
			return Error.Wrap(err)
		}
		if len(last) == 8 {
			store.clock.Observe(int64(binary.BigEndian.Uint64(last)))
		}

		current, err := readCells(ctx, tx, table.key, mutation.Row, "FOR UPDATE")
		if err != nil {
			return err
		}

		ts = store.clock.Next()
		cells := storage.ApplyMutation(current, mutation, ts, desc.MaxVersions)
		written, removed := storage.DiffCells(current, cells)

		batch := &pgx.Batch{}
		for _, cell := range removed {
			batch.Queue(`
				DELETE FROM cells
				WHERE tbl = $1 AND row_key = $2 AND family = $3 AND qualifier = $4 AND ts = $5`,
				table.key, mutation.Row, cell.Family, cell.Qualifier, cell.Timestamp)
		}
		for _, cell := range written {
			batch.Queue(`
				INSERT INTO cells (tbl, row_key, family, qualifier, ts, value)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (tbl, row_key, family, qualifier, ts) DO UPDATE SET value = EXCLUDED.value`,
				table.key, mutation.Row, cell.Family, cell.Qualifier, cell.Timestamp, nonNil(cell.Value))
		}
		batch.Queue(`UPDATE meta SET value = $2 WHERE key = $1`, clockKey, binary.BigEndian.AppendUint64(nil, uint64(ts)))
		return Error.Wrap(tx.SendBatch(ctx, batch).Close())
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

// Scan calls fn for every row within the range.
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
	err = table.store.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := table.descriptor(ctx, tx); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT row_key, family, qualifier, ts, value FROM cells
			WHERE tbl = $1 AND row_key IN (
				SELECT DISTINCT row_key FROM cells
				WHERE tbl = $1
					AND ($2::BYTEA IS NULL OR row_key `+op+` $2)
					AND ($3::BYTEA IS NULL OR row_key < $3)
				ORDER BY row_key
				LIMIT $4
			)
			ORDER BY row_key`, table.key, start, opts.Stop, scanBatch)
		if err != nil {
			return Error.Wrap(err)
		}
		defer rows.Close()

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
