// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package boltstore implements storage.Store on top of a bbolt database file.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"slices"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	bolt "go.etcd.io/bbolt"

	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

// Error is the default boltstore errs class.
var Error = errs.Class("boltstore")

var (
	defaultTimeout = 1 * time.Second

	metaBucket  = []byte("meta")
	tableBucket = []byte("tables")

	schemaKey = []byte("schema")
	clockKey  = []byte("clock")
)

const (
	// fileMode sets permissions so owner can read and write.
	fileMode = 0600

	// scanBatch is the number of rows read within a single transaction during scans.
	scanBatch = 64
)

// Store is a storage.Store backed by a bbolt database.
type Store struct {
	*storage.SchemaAdmin

	db    *bolt.DB
	Path  string
	clock storage.Clock
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	store := &Store{db: db, Path: path}
	store.SchemaAdmin = storage.NewSchemaAdmin(store)

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(tableBucket); err != nil {
			return err
		}
		if last := meta.Get(clockKey); len(last) == 8 {
			store.clock.Observe(int64(binary.BigEndian.Uint64(last)))
		}
		return nil
	})
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), Error.Wrap(db.Close()))
	}
	return store, nil
}

// Close closes the database.
func (store *Store) Close() error {
	return Error.Wrap(store.db.Close())
}

func loadSchema(tx *bolt.Tx) (*storage.Schema, error) {
	return storage.UnmarshalSchema(tx.Bucket(metaBucket).Get(schemaKey))
}

// LoadSchema implements storage.SchemaStore.
func (store *Store) LoadSchema(ctx context.Context) (schema *storage.Schema, err error) {
	defer mon.Task()(&ctx)(&err)
	err = store.db.View(func(tx *bolt.Tx) error {
		schema, err = loadSchema(tx)
		return err
	})
	return schema, Error.Wrap(err)
}

// UpdateSchema implements storage.SchemaStore.
func (store *Store) UpdateSchema(ctx context.Context, fn func(*storage.Schema) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return store.db.Update(func(tx *bolt.Tx) error {
		schema, err := loadSchema(tx)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := fn(schema); err != nil {
			return err
		}
		data, err := storage.MarshalSchema(schema)
		if err != nil {
			return Error.Wrap(err)
		}
		return Error.Wrap(tx.Bucket(metaBucket).Put(schemaKey, data))
	})
}

// DropData implements storage.SchemaStore.
func (store *Store) DropData(ctx context.Context, table storage.TableName, families ...string) (err error) {
	defer mon.Task()(&ctx)(&err)
	name, err := table.MarshalText()
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(store.db.Update(func(tx *bolt.Tx) error {
		tables := tx.Bucket(tableBucket)
		rows := tables.Bucket(name)
		if rows == nil {
			return nil
		}
		if len(families) == 0 {
			return tables.DeleteBucket(name)
		}

		var emptied [][]byte
		err := rows.ForEach(func(key, value []byte) error {
			if value != nil {
				return nil
			}
			cells := rows.Bucket(key)
			var drop [][]byte
			err := cells.ForEach(func(cellKey, _ []byte) error {
				family, _, _, err := storage.DecodeCellKey(cellKey)
				if err != nil {
					return err
				}
				if slices.Contains(families, family) {
					drop = append(drop, storage.CloneBytes(cellKey))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, cellKey := range drop {
				if err := cells.Delete(cellKey); err != nil {
					return err
				}
			}
			if k, _ := cells.Cursor().First(); k == nil {
				emptied = append(emptied, storage.CloneBytes(key))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range emptied {
			if err := rows.DeleteBucket(key); err != nil {
				return err
			}
		}
		return nil
	}))
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
	return &Table{store: store, name: name, key: key}, nil
}

// Table is a handle to a table in a bbolt database.
type Table struct {
	store *Store
	name  storage.TableName
	key   []byte
}

// Name returns the table name.
func (table *Table) Name() storage.TableName { return table.name }

// Close releases the table handle.
func (table *Table) Close() error { return nil }

func readCells(rowBucket *bolt.Bucket) ([]storage.Cell, error) {
	if rowBucket == nil {
		return nil, nil
	}
	var cells []storage.Cell
	err := rowBucket.ForEach(func(key, value []byte) error {
		family, qualifier, timestamp, err := storage.DecodeCellKey(key)
		if err != nil {
			return err
		}
		cells = append(cells, storage.Cell{
			Family:    family,
			Qualifier: qualifier,
			Timestamp: timestamp,
			Value:     storage.CloneBytes(value),
		})
		return nil
	})
	storage.SortCells(cells)
	return cells, err
}

func (table *Table) checkTable(tx *bolt.Tx) (storage.TableDescriptor, error) {
	schema, err := loadSchema(tx)
	if err != nil {
		return storage.TableDescriptor{}, Error.Wrap(err)
	}
	return schema.Table(table.name)
}

// Get returns the row with the given key.
func (table *Table) Get(ctx context.Context, key []byte, opts storage.ReadOptions) (row storage.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(key) == 0 {
		return storage.Row{}, storage.ErrEmptyRow.New("")
	}
	row.Key = storage.CloneBytes(key)
	err = table.store.db.View(func(tx *bolt.Tx) error {
		if _, err := table.checkTable(tx); err != nil {
			return err
		}
		var rowBucket *bolt.Bucket
		if rows := tx.Bucket(tableBucket).Bucket(table.key); rows != nil {
			rowBucket = rows.Bucket(key)
		}
		row.Cells, err = readCells(rowBucket)
		return Error.Wrap(err)
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
	err = table.store.db.Update(func(tx *bolt.Tx) error {
		desc, err := table.checkTable(tx)
		if err != nil {
			return err
		}
		for _, family := range mutation.Families() {
			if _, ok := desc.Family(family); !ok {
				return storage.ErrFamilyNotFound.New("%s:%s", table.name, family)
			}
		}

		rows, err := tx.Bucket(tableBucket).CreateBucketIfNotExists(table.key)
		if err != nil {
			return Error.Wrap(err)
		}
		current, err := readCells(rows.Bucket(mutation.Row))
		if err != nil {
			return Error.Wrap(err)
		}

		ts = table.store.clock.Next()
		cells := storage.ApplyMutation(current, mutation, ts, desc.MaxVersions)
		if len(cells) == 0 {
			if rows.Bucket(mutation.Row) != nil {
				if err := rows.DeleteBucket(mutation.Row); err != nil {
					return Error.Wrap(err)
				}
			}
		} else {
			rowBucket, err := rows.CreateBucketIfNotExists(mutation.Row)
			if err != nil {
				return Error.Wrap(err)
			}
			written, removed := storage.DiffCells(current, cells)
			for _, cell := range removed {
				if err := rowBucket.Delete(storage.EncodeCellKey(cell.Family, cell.Qualifier, cell.Timestamp)); err != nil {
					return Error.Wrap(err)
				}
			}
			for _, cell := range written {
				if err := rowBucket.Put(storage.EncodeCellKey(cell.Family, cell.Qualifier, cell.Timestamp), cell.Value); err != nil {
					return Error.Wrap(err)
				}
			}
		}

		var last [8]byte
		binary.BigEndian.PutUint64(last[:], uint64(ts))
		return Error.Wrap(tx.Bucket(metaBucket).Put(clockKey, last[:]))
	})
	if err != nil {
		return 0, err
	}
	return ts, nil
}

// Scan calls fn for every row within the range. Rows are read in batches so
// that fn may write to the store.
func (table *Table) Scan(ctx context.Context, opts storage.ScanOptions, fn func(context.Context, storage.Row) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	start, inclusive := opts.Start, true
	for {
		rows, last, err := table.scanBatch(start, inclusive, opts)
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

func (table *Table) scanBatch(start []byte, inclusive bool, opts storage.ScanOptions) (rows []storage.Row, last []byte, err error) {
	err = table.store.db.View(func(tx *bolt.Tx) error {
		if _, err := table.checkTable(tx); err != nil {
			return err
		}
		bucket := tx.Bucket(tableBucket).Bucket(table.key)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		var key, value []byte
		if start == nil {
			key, value = cursor.First()
		} else {
			key, value = cursor.Seek(start)
			if !inclusive && bytes.Equal(key, start) {
				key, value = cursor.Next()
			}
		}

		examined := 0
		var previous []byte
		for ; key != nil; key, value = cursor.Next() {
			if value != nil {
				continue
			}
			if !opts.Contains(key) {
				return nil
			}
			if examined == scanBatch {
				last = previous
				return nil
			}
			examined++
			previous = storage.CloneBytes(key)

			cells, err := readCells(bucket.Bucket(key))
			if err != nil {
				return Error.Wrap(err)
			}
			row := storage.Row{Key: previous, Cells: cells}
			if !opts.Filter.Match(row) {
				continue
			}
			rows = append(rows, row.Project(opts.AllVersions))
		}
		return nil
	})
	return rows, last, err
}
