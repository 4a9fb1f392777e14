// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory storage.Store.
package teststore

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/zeebo/errs"

	"storj.io/columnmanager/storage"
)

// ErrForced is returned when forced errors are enabled.
var ErrForced = errs.Class("forced error")

// scanBatch is the number of rows copied out of the store at once during scans.
const scanBatch = 64

// Store implements an in-memory versioned store.
type Store struct {
	*storage.SchemaAdmin

	mu     sync.Mutex
	schema *storage.Schema
	rows   map[storage.TableName][]storage.Row
	clock  storage.Clock

	forceError int

	CallCount struct {
		Get       int
		Mutate    int
		Scan      int
		OpenTable int
		Close     int
	}
}

// New creates a new in-memory store.
func New() *Store {
	store := &Store{
		schema: storage.NewSchema(),
		rows:   map[storage.TableName][]storage.Row{},
	}
	store.SchemaAdmin = storage.NewSchemaAdmin(store)
	return store
}

// ForceError causes the next n storage calls to fail.
func (store *Store) ForceError(n int) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.forceError = n
}

func (store *Store) forcedError() error {
	if store.forceError > 0 {
		store.forceError--
		return ErrForced.New("")
	}
	return nil
}

// LoadSchema implements storage.SchemaStore.
func (store *Store) LoadSchema(ctx context.Context) (*storage.Schema, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.forcedError(); err != nil {
		return nil, err
	}
	return store.schema.Clone(), nil
}

// UpdateSchema implements storage.SchemaStore.
func (store *Store) UpdateSchema(ctx context.Context, fn func(*storage.Schema) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.forcedError(); err != nil {
		return err
	}
	schema := store.schema.Clone()
	if err := fn(schema); err != nil {
		return err
	}
	store.schema = schema
	return nil
}

// DropData implements storage.SchemaStore.
func (store *Store) DropData(ctx context.Context, table storage.TableName, families ...string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.forcedError(); err != nil {
		return err
	}
	if len(families) == 0 {
		delete(store.rows, table)
		return nil
	}

	var kept []storage.Row
	for _, row := range store.rows[table] {
		row.Cells = slices.DeleteFunc(row.Cells, func(cell storage.Cell) bool {
			return slices.Contains(families, cell.Family)
		})
		if !row.IsEmpty() {
			kept = append(kept, row)
		}
	}
	store.rows[table] = kept
	return nil
}

// OpenTable returns a handle for an existing table.
func (store *Store) OpenTable(ctx context.Context, name storage.TableName) (storage.Table, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.OpenTable++
	if err := store.forcedError(); err != nil {
		return nil, err
	}
	if _, err := store.schema.Table(name); err != nil {
		return nil, err
	}
	return &Table{store: store, name: name}, nil
}

// Close closes the store.
func (store *Store) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}

// indexOf finds index of key or where it could be inserted.
func indexOf(rows []storage.Row, key []byte) (int, bool) {
	i := sort.Search(len(rows), func(k int) bool {
		return bytes.Compare(rows[k].Key, key) >= 0
	})
	if i >= len(rows) {
		return i, false
	}
	return i, bytes.Equal(rows[i].Key, key)
}

// Table is a handle to a table of an in-memory store.
type Table struct {
	store *Store
	name  storage.TableName
}

// Name returns the table name.
func (table *Table) Name() storage.TableName { return table.name }

// Get returns the row with the given key.
func (table *Table) Get(ctx context.Context, key []byte, opts storage.ReadOptions) (storage.Row, error) {
	store := table.store
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++
	if err := store.forcedError(); err != nil {
		return storage.Row{}, err
	}
	if len(key) == 0 {
		return storage.Row{}, storage.ErrEmptyRow.New("")
	}
	if _, err := store.schema.Table(table.name); err != nil {
		return storage.Row{}, err
	}

	rows := store.rows[table.name]
	i, found := indexOf(rows, key)
	if !found {
		return storage.Row{Key: storage.CloneBytes(key)}, nil
	}
	return rows[i].Clone().Project(opts.AllVersions), nil
}

// Mutate applies the mutation to a single row.
func (table *Table) Mutate(ctx context.Context, mutation storage.Mutation) (int64, error) {
	store := table.store
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Mutate++
	if err := store.forcedError(); err != nil {
		return 0, err
	}
	if len(mutation.Row) == 0 {
		return 0, storage.ErrEmptyRow.New("")
	}
	desc, err := store.schema.Table(table.name)
	if err != nil {
		return 0, err
	}
	for _, family := range mutation.Families() {
		if _, ok := desc.Family(family); !ok {
			return 0, storage.ErrFamilyNotFound.New("%s:%s", table.name, family)
		}
	}

	ts := store.clock.Next()
	rows := store.rows[table.name]
	i, found := indexOf(rows, mutation.Row)

	var current []storage.Cell
	if found {
		current = rows[i].Cells
	}
	cells := storage.ApplyMutation(current, mutation, ts, desc.MaxVersions)

	switch {
	case len(cells) == 0 && found:
		rows = slices.Delete(rows, i, i+1)
	case len(cells) == 0:
	case found:
		rows[i].Cells = cells
	default:
		rows = slices.Insert(rows, i, storage.Row{Key: storage.CloneBytes(mutation.Row), Cells: cells})
	}
	store.rows[table.name] = rows
	return ts, nil
}

// Scan calls fn for every row within the range.
func (table *Table) Scan(ctx context.Context, opts storage.ScanOptions, fn func(context.Context, storage.Row) error) error {
	start := opts.Start
	inclusive := true
	for {
		batch, err := table.scanBatch(start, inclusive, opts)
		if err != nil {
			return err
		}
		for _, row := range batch.rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, row); err != nil {
				return err
			}
		}
		if batch.last == nil {
			return nil
		}
		start, inclusive = batch.last, false
	}
}

type scanned struct {
	rows []storage.Row
	// last is the last key examined, nil when the range is exhausted.
	last []byte
}

func (table *Table) scanBatch(start []byte, inclusive bool, opts storage.ScanOptions) (scanned, error) {
	store := table.store
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Scan++
	if err := store.forcedError(); err != nil {
		return scanned{}, err
	}
	if _, err := store.schema.Table(table.name); err != nil {
		return scanned{}, err
	}

	rows := store.rows[table.name]
	i := 0
	if start != nil {
		var found bool
		i, found = indexOf(rows, start)
		if found && !inclusive {
			i++
		}
	}

	var batch scanned
	for examined := 0; i < len(rows); i++ {
		row := rows[i]
		if !opts.Contains(row.Key) {
			return batch, nil
		}
		if examined == scanBatch {
			batch.last = storage.CloneBytes(rows[i-1].Key)
			return batch, nil
		}
		examined++
		if !opts.Filter.Match(row) {
			continue
		}
		batch.rows = append(batch.rows, row.Clone().Project(opts.AllVersions))
	}
	return batch, nil
}

// Close releases the table handle.
func (table *Table) Close() error { return nil }
