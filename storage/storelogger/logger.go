// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package storelogger logs every call made to a storage.Store.
package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

var id int64

// Logger implements a zap.Logger for storage.Store.
type Logger struct {
	log   *zap.Logger
	store storage.Store
}

var _ storage.Store = (*Logger)(nil)

// New creates a new Logger with log and store.
func New(log *zap.Logger, store storage.Store) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// ListNamespaces returns all namespaces.
func (store *Logger) ListNamespaces(ctx context.Context) (_ []storage.NamespaceDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("ListNamespaces")
	return store.store.ListNamespaces(ctx)
}

// GetNamespace returns the descriptor of a namespace.
func (store *Logger) GetNamespace(ctx context.Context, name string) (_ storage.NamespaceDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("GetNamespace", zap.String("namespace", name))
	return store.store.GetNamespace(ctx, name)
}

// CreateNamespace creates a namespace.
func (store *Logger) CreateNamespace(ctx context.Context, desc storage.NamespaceDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("CreateNamespace", zap.String("namespace", desc.Name), zap.Int("configuration", len(desc.Configuration)))
	return store.store.CreateNamespace(ctx, desc)
}

// ModifyNamespace replaces the configuration of a namespace.
func (store *Logger) ModifyNamespace(ctx context.Context, desc storage.NamespaceDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("ModifyNamespace", zap.String("namespace", desc.Name), zap.Int("configuration", len(desc.Configuration)))
	return store.store.ModifyNamespace(ctx, desc)
}

// DeleteNamespace deletes a namespace.
func (store *Logger) DeleteNamespace(ctx context.Context, name string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("DeleteNamespace", zap.String("namespace", name))
	return store.store.DeleteNamespace(ctx, name)
}

// ListTables returns all tables of a namespace.
func (store *Logger) ListTables(ctx context.Context, namespace string) (_ []storage.TableDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("ListTables", zap.String("namespace", namespace))
	return store.store.ListTables(ctx, namespace)
}

// GetTable returns the descriptor of a table.
func (store *Logger) GetTable(ctx context.Context, name storage.TableName) (_ storage.TableDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("GetTable", zap.Stringer("table", name))
	return store.store.GetTable(ctx, name)
}

// TableExists checks whether the table exists.
func (store *Logger) TableExists(ctx context.Context, name storage.TableName) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("TableExists", zap.Stringer("table", name))
	return store.store.TableExists(ctx, name)
}

// CreateTable creates a table.
func (store *Logger) CreateTable(ctx context.Context, desc storage.TableDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("CreateTable", zap.Stringer("table", desc.Name), zap.Int("families", len(desc.Families)))
	return store.store.CreateTable(ctx, desc)
}

// ModifyTable replaces a table descriptor.
func (store *Logger) ModifyTable(ctx context.Context, desc storage.TableDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("ModifyTable", zap.Stringer("table", desc.Name), zap.Int("families", len(desc.Families)))
	return store.store.ModifyTable(ctx, desc)
}

// DeleteTable deletes a table.
func (store *Logger) DeleteTable(ctx context.Context, name storage.TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("DeleteTable", zap.Stringer("table", name))
	return store.store.DeleteTable(ctx, name)
}

// TruncateTable deletes all rows of a table.
func (store *Logger) TruncateTable(ctx context.Context, name storage.TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("TruncateTable", zap.Stringer("table", name))
	return store.store.TruncateTable(ctx, name)
}

// AddFamily adds a column family.
func (store *Logger) AddFamily(ctx context.Context, table storage.TableName, desc storage.FamilyDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("AddFamily", zap.Stringer("table", table), zap.String("family", desc.Name))
	return store.store.AddFamily(ctx, table, desc)
}

// ModifyFamily replaces a column family descriptor.
func (store *Logger) ModifyFamily(ctx context.Context, table storage.TableName, desc storage.FamilyDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("ModifyFamily", zap.Stringer("table", table), zap.String("family", desc.Name))
	return store.store.ModifyFamily(ctx, table, desc)
}

// DeleteFamily removes a column family.
func (store *Logger) DeleteFamily(ctx context.Context, table storage.TableName, family string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("DeleteFamily", zap.Stringer("table", table), zap.String("family", family))
	return store.store.DeleteFamily(ctx, table, family)
}

// OpenTable returns a logging handle for the table.
func (store *Logger) OpenTable(ctx context.Context, name storage.TableName) (_ storage.Table, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("OpenTable", zap.Stringer("table", name))
	table, err := store.store.OpenTable(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Table{log: store.log.Named(name.String()), table: table}, nil
}

// Close closes the store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}

// Table logs every call made to a storage.Table.
type Table struct {
	log   *zap.Logger
	table storage.Table
}

// Name returns the table name.
func (table *Table) Name() storage.TableName { return table.table.Name() }

// Get returns a row.
func (table *Table) Get(ctx context.Context, row []byte, opts storage.ReadOptions) (_ storage.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	table.log.Debug("Get", zap.ByteString("row", row), zap.Bool("all versions", opts.AllVersions))
	return table.table.Get(ctx, row, opts)
}

// Mutate applies a mutation.
func (table *Table) Mutate(ctx context.Context, mutation storage.Mutation) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	table.log.Debug("Mutate",
		zap.ByteString("row", mutation.Row),
		zap.Int("puts", len(mutation.Puts)),
		zap.Int("deletes", len(mutation.Deletes)),
		zap.Bool("delete row", mutation.DeleteRow))
	for _, cell := range mutation.Puts {
		table.log.Debug("  ",
			zap.String("family", cell.Family),
			zap.ByteString("qualifier", cell.Qualifier),
			zap.Int("value length", len(cell.Value)),
			zap.Binary("truncated value", truncate(cell.Value)),
		)
	}
	return table.table.Mutate(ctx, mutation)
}

// Scan iterates over rows in the range.
func (table *Table) Scan(ctx context.Context, opts storage.ScanOptions, fn func(context.Context, storage.Row) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	table.log.Debug("Scan",
		zap.ByteString("start", opts.Start),
		zap.ByteString("stop", opts.Stop),
		zap.Bool("all versions", opts.AllVersions),
		zap.Bool("filtered", opts.Filter != nil))
	return table.table.Scan(ctx, opts, func(ctx context.Context, row storage.Row) error {
		table.log.Debug("  ", zap.ByteString("row", row.Key), zap.Int("cells", len(row.Cells)))
		return fn(ctx, row)
	})
}

// Close closes the table handle.
func (table *Table) Close() error {
	table.log.Debug("Close")
	return table.table.Close()
}

func truncate(v []byte) (t []byte) {
	if len(v)-1 < 10 {
		t = v
	} else {
		t = v[:10]
	}
	return t
}
