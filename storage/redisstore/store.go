// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redisstore implements storage.Store on top of redis.
//
// Every row is a hash keyed by the encoded cell address. The row keys of a
// table are kept in a sorted set so that ranges can be scanned lexicographically.
package redisstore

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

// Error is the default redisstore errs class.
var Error = errs.Class("redisstore")

const (
	defaultNodeTimeout = 1 * time.Second

	// DefaultPrefix is the key prefix used when none is given.
	DefaultPrefix = "columnmanager"

	// maxRetries limits optimistic transaction retries.
	maxRetries = 100

	// scanBatch is the number of row keys fetched at once during scans.
	scanBatch = 64
)

// Store is a storage.Store backed by redis.
type Store struct {
	*storage.SchemaAdmin

	db     *redis.Client
	prefix string
	clock  storage.Clock
}

var _ storage.Store = (*Store)(nil)

// NewClient returns a store using an existing client, verifying a successful connection to redis.
func NewClient(ctx context.Context, client *redis.Client, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	store := &Store{db: client, prefix: prefix}
	store.SchemaAdmin = storage.NewSchemaAdmin(store)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.Combine(Error.New("ping failed: %v", err), Error.Wrap(client.Close()))
	}
	return store, nil
}

// OpenURL connects to the redis server described by a redis:// url.
func OpenURL(ctx context.Context, address, prefix string) (*Store, error) {
	options, err := redis.ParseURL(address)
	if err != nil {
		return nil, Error.New("invalid redis url %q: %v", address, err)
	}
	if options.DialTimeout == 0 {
		options.DialTimeout = defaultNodeTimeout
	}
	return NewClient(ctx, redis.NewClient(options), prefix)
}

// Close closes the redis client.
func (store *Store) Close() error {
	return Error.Wrap(store.db.Close())
}

func (store *Store) schemaKey() string { return store.prefix + ":schema" }
func (store *Store) clockKey() string  { return store.prefix + ":clock" }

func (store *Store) indexKey(table storage.TableName) string {
	name, _ := table.MarshalText()
	return store.prefix + ":rows:" + string(name)
}

func (store *Store) rowKey(table storage.TableName, row []byte) string {
	name, _ := table.MarshalText()
	return store.prefix + ":row:" + string(name) + ":" + string(row)
}

func (store *Store) loadSchema(ctx context.Context, cmd redis.Cmdable) (*storage.Schema, error) {
	data, err := cmd.Get(ctx, store.schemaKey()).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, Error.Wrap(err)
	}
	schema, err := storage.UnmarshalSchema(data)
	return schema, Error.Wrap(err)
}

// LoadSchema implements storage.SchemaStore.
func (store *Store) LoadSchema(ctx context.Context) (_ *storage.Schema, err error) {
	defer mon.Task()(&ctx)(&err)
	return store.loadSchema(ctx, store.db)
}

// UpdateSchema implements storage.SchemaStore.
func (store *Store) UpdateSchema(ctx context.Context, fn func(*storage.Schema) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return store.retry(ctx, func(tx *redis.Tx) error {
		schema, err := store.loadSchema(ctx, tx)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, store.schemaKey(), data, 0)
			return nil
		})
		return Error.Wrap(err)
	}, store.schemaKey())
}

// retry runs fn in an optimistic transaction watching keys until it succeeds.
func (store *Store) retry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxRetries; i++ {
		err := store.db.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return Error.New("transaction retries exceeded")
}

// DropData implements storage.SchemaStore.
func (store *Store) DropData(ctx context.Context, table storage.TableName, families ...string) (err error) {
	defer mon.Task()(&ctx)(&err)
	index := store.indexKey(table)
	keys, err := store.db.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return Error.Wrap(err)
	}

	if len(families) == 0 {
		_, err := store.db.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range keys {
				pipe.Del(ctx, store.rowKey(table, []byte(key)))
			}
			pipe.Del(ctx, index)
			return nil
		})
		return Error.Wrap(err)
	}

	for _, key := range keys {
		rowKey := store.rowKey(table, []byte(key))
		err := store.retry(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HKeys(ctx, rowKey).Result()
			if err != nil {
				return Error.Wrap(err)
			}
			var drop []string
			for _, field := range fields {
				family, _, _, err := storage.DecodeCellKey([]byte(field))
				if err != nil {
					return Error.Wrap(err)
				}
				if slices.Contains(families, family) {
					drop = append(drop, field)
				}
			}
			if len(drop) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(drop) == len(fields) {
					pipe.Del(ctx, rowKey)
					pipe.ZRem(ctx, index, key)
					return nil
				}
				pipe.HDel(ctx, rowKey, drop...)
				return nil
			})
			return Error.Wrap(err)
		}, rowKey)
		if err != nil {
			return err
		}
	}
	return nil
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
	return &Table{store: store, name: name}, nil
}

// Table is a handle to a table stored in redis.
type Table struct {
	store *Store
	name  storage.TableName
}

// Name returns the table name.
func (table *Table) Name() storage.TableName { return table.name }

// Close releases the table handle.
func (table *Table) Close() error { return nil }

func (table *Table) descriptor(ctx context.Context, cmd redis.Cmdable) (storage.TableDescriptor, error) {
	schema, err := table.store.loadSchema(ctx, cmd)
	if err != nil {
		return storage.TableDescriptor{}, err
	}
	return schema.Table(table.name)
}

func readCells(ctx context.Context, cmd redis.Cmdable, key string) ([]storage.Cell, error) {
	fields, err := cmd.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	cells := make([]storage.Cell, 0, len(fields))
	for field, value := range fields {
		family, qualifier, timestamp, err := storage.DecodeCellKey([]byte(field))
		if err != nil {
			return nil, Error.Wrap(err)
		}
		cells = append(cells, storage.Cell{
			Family:    family,
			Qualifier: qualifier,
			Timestamp: timestamp,
			Value:     []byte(value),
		})
	}
	storage.SortCells(cells)
	return cells, nil
}

// Get returns the row with the given key.
func (table *Table) Get(ctx context.Context, key []byte, opts storage.ReadOptions) (_ storage.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(key) == 0 {
		return storage.Row{}, storage.ErrEmptyRow.New("")
	}
	if _, err := table.descriptor(ctx, table.store.db); err != nil {
		return storage.Row{}, err
	}
	cells, err := readCells(ctx, table.store.db, table.store.rowKey(table.name, key))
	if err != nil {
		return storage.Row{}, err
	}
	return storage.Row{Key: storage.CloneBytes(key), Cells: cells}.Project(opts.AllVersions), nil
}

// Mutate applies the mutation in an optimistic transaction.
func (table *Table) Mutate(ctx context.Context, mutation storage.Mutation) (ts int64, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(mutation.Row) == 0 {
		return 0, storage.ErrEmptyRow.New("")
	}
	store := table.store
	rowKey := store.rowKey(table.name, mutation.Row)
	index := store.indexKey(table.name)

	err = store.retry(ctx, func(tx *redis.Tx) error {
		desc, err := table.descriptor(ctx, tx)
		if err != nil {
			return err
		}
		for _, family := range mutation.Families() {
			if _, ok := desc.Family(family); !ok {
				return storage.ErrFamilyNotFound.New("%s:%s", table.name, family)
			}
		}

		current, err := readCells(ctx, tx, rowKey)
		if err != nil {
			return err
		}
		last, err := tx.Get(ctx, store.clockKey()).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Error.Wrap(err)
		}
		store.clock.Observe(last)
		ts = store.clock.Next()

		cells := storage.ApplyMutation(current, mutation, ts, desc.MaxVersions)
		written, removed := storage.DiffCells(current, cells)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(cells) == 0 {
				pipe.Del(ctx, rowKey)
				pipe.ZRem(ctx, index, string(mutation.Row))
			} else {
				if len(removed) > 0 {
					fields := make([]string, 0, len(removed))
					for _, cell := range removed {
						fields = append(fields, string(storage.EncodeCellKey(cell.Family, cell.Qualifier, cell.Timestamp)))
					}
					pipe.HDel(ctx, rowKey, fields...)
				}
				if len(written) > 0 {
					pairs := make([]interface{}, 0, 2*len(written))
					for _, cell := range written {
						pairs = append(pairs, string(storage.EncodeCellKey(cell.Family, cell.Qualifier, cell.Timestamp)), cell.Value)
					}
					pipe.HSet(ctx, rowKey, pairs...)
				}
				pipe.ZAdd(ctx, index, redis.Z{Score: 0, Member: string(mutation.Row)})
			}
			pipe.Set(ctx, store.clockKey(), ts, 0)
			return nil
		})
		return Error.Wrap(err)
	}, store.schemaKey(), rowKey, store.clockKey())
	if err != nil {
		return 0, err
	}
	return ts, nil
}

// Scan calls fn for every row within the range.
func (table *Table) Scan(ctx context.Context, opts storage.ScanOptions, fn func(context.Context, storage.Row) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	store := table.store
	if _, err := table.descriptor(ctx, store.db); err != nil {
		return err
	}

	min := "-"
	if opts.Start != nil {
		min = "[" + string(opts.Start)
	}
	max := "+"
	if opts.Stop != nil {
		max = "(" + string(opts.Stop)
	}

	for {
		keys, err := store.db.ZRangeByLex(ctx, store.indexKey(table.name), &redis.ZRangeBy{
			Min:   min,
			Max:   max,
			Count: scanBatch,
		}).Result()
		if err != nil {
			return Error.Wrap(err)
		}

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			cells, err := readCells(ctx, store.db, store.rowKey(table.name, []byte(key)))
			if err != nil {
				return err
			}
			row := storage.Row{Key: []byte(key), Cells: cells}
			// the row may have been deleted after its key was listed
			if row.IsEmpty() || !opts.Filter.Match(row) {
				continue
			}
			if err := fn(ctx, row.Project(opts.AllVersions)); err != nil {
				return err
			}
		}

		if len(keys) < scanBatch {
			return nil
		}
		min = "(" + keys[len(keys)-1]
	}
}
