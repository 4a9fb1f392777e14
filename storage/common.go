// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package storage defines the versioned wide-column store the catalog is built on.
package storage

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var mon = monkit.Package()

var (
	// Error is the default error class for storage.
	Error = errs.Class("storage")

	// ErrEmptyRow is returned when a mutation or get addresses an empty row key.
	ErrEmptyRow = errs.Class("empty row key")

	// ErrNamespaceNotFound is returned when a namespace does not exist.
	ErrNamespaceNotFound = errs.Class("namespace not found")
	// ErrNamespaceExists is returned when creating a namespace that already exists.
	ErrNamespaceExists = errs.Class("namespace exists")
	// ErrNamespaceNotEmpty is returned when deleting a namespace which still has tables.
	ErrNamespaceNotEmpty = errs.Class("namespace not empty")

	// ErrTableNotFound is returned when a table does not exist.
	ErrTableNotFound = errs.Class("table not found")
	// ErrTableExists is returned when creating a table that already exists.
	ErrTableExists = errs.Class("table exists")

	// ErrFamilyNotFound is returned when a column family does not exist.
	ErrFamilyNotFound = errs.Class("column family not found")
	// ErrFamilyExists is returned when adding a column family that already exists.
	ErrFamilyExists = errs.Class("column family exists")

	// ErrInvalidName is returned for illegal namespace, table or family names.
	ErrInvalidName = errs.Class("invalid name")
)

// DefaultMaxVersions is the number of versions retained when a family does not specify it.
const DefaultMaxVersions = 1

// Table is a single versioned table.
//
// Every Mutate is applied atomically to its row at a single timestamp.
// Nothing spanning multiple rows is atomic.
type Table interface {
	// Name returns the table name.
	Name() TableName
	// Get returns the row with the given key. A missing row is returned as an empty Row.
	Get(ctx context.Context, row []byte, opts ReadOptions) (Row, error)
	// Mutate applies the mutation and returns the timestamp it was written at.
	Mutate(ctx context.Context, mutation Mutation) (timestamp int64, err error)
	// Scan calls fn for every row in [opts.Start, opts.Stop) in key order.
	// Row is valid only for the duration of the callback.
	Scan(ctx context.Context, opts ScanOptions, fn func(ctx context.Context, row Row) error) error
	// Close releases resources held by the table handle.
	Close() error
}

// Admin describes introspection and modification of the live schema.
type Admin interface {
	// ListNamespaces returns all namespaces sorted by name.
	ListNamespaces(ctx context.Context) ([]NamespaceDescriptor, error)
	// GetNamespace returns the descriptor of a namespace.
	GetNamespace(ctx context.Context, name string) (NamespaceDescriptor, error)
	// CreateNamespace creates a namespace.
	CreateNamespace(ctx context.Context, desc NamespaceDescriptor) error
	// ModifyNamespace replaces the configuration of an existing namespace.
	ModifyNamespace(ctx context.Context, desc NamespaceDescriptor) error
	// DeleteNamespace deletes an empty namespace.
	DeleteNamespace(ctx context.Context, name string) error

	// ListTables returns all tables of a namespace sorted by name.
	ListTables(ctx context.Context, namespace string) ([]TableDescriptor, error)
	// GetTable returns the descriptor of a table.
	GetTable(ctx context.Context, name TableName) (TableDescriptor, error)
	// TableExists checks whether the table exists.
	TableExists(ctx context.Context, name TableName) (bool, error)
	// CreateTable creates a table with its column families.
	CreateTable(ctx context.Context, desc TableDescriptor) error
	// ModifyTable replaces the table descriptor, dropping data of removed families.
	ModifyTable(ctx context.Context, desc TableDescriptor) error
	// DeleteTable deletes the table with all of its data.
	DeleteTable(ctx context.Context, name TableName) error
	// TruncateTable deletes all rows of a table and keeps its descriptor.
	TruncateTable(ctx context.Context, name TableName) error

	// AddFamily adds a column family to a table.
	AddFamily(ctx context.Context, table TableName, desc FamilyDescriptor) error
	// ModifyFamily replaces an existing column family descriptor.
	ModifyFamily(ctx context.Context, table TableName, desc FamilyDescriptor) error
	// DeleteFamily removes a column family and its data.
	DeleteFamily(ctx context.Context, table TableName, family string) error
}

// Store is a complete storage backend.
type Store interface {
	Admin
	// OpenTable returns a handle for an existing table.
	OpenTable(ctx context.Context, name TableName) (Table, error)
	// Close closes the store.
	Close() error
}
