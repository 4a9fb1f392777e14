// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package repository implements the catalog of namespaces, tables, column
// families and columns kept alongside the live schema of a store.
//
// Every catalog entity is one row of the catalog table. Entity attributes
// are versioned columns, so the catalog retains the history of each of them.
package repository

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

var (
	// Error is the default error class for the repository.
	Error = errs.Class("repository")

	// ErrTableNotIncluded is returned when a table or namespace is outside of the tracked scope.
	ErrTableNotIncluded = errs.Class("table not included")

	// ErrEntityNotFound is returned when an entity exists neither in the catalog nor in the live schema.
	ErrEntityNotFound = errs.Class("entity not found")
)

// Catalog table location.
const (
	CatalogNamespace = "__column_manager_repository_namespace"
	CatalogQualifier = "column_manager_repository_table"
	CatalogFamily    = "se"
)

// CatalogTable is the name of the catalog table.
var CatalogTable = storage.TableName{Namespace: CatalogNamespace, Qualifier: CatalogQualifier}

// Bookkeeping and attribute columns of a catalog row.
const (
	ForeignKeyColumn = "_ForeignKey"
	StatusColumn     = "_Status"
	EnforcedColumn   = "_ColDefinitionsEnforced"
	UserColumn       = "_User"

	ValuePrefix         = "Value__"
	ConfigurationPrefix = "Configuration__"
)

// Entity status values.
var (
	StatusActive  = []byte("A")
	StatusDeleted = []byte("D")
)

// Attribute keys of column auditors and column definitions.
const (
	MaxValueLengthKey        = "MAX_VALUE_LENGTH_FOUND"
	ColumnLengthKey          = "COLUMN_LENGTH"
	ColumnValidationRegexKey = "COLUMN_VALIDATION_REGEX"
)

// Repository maintains the catalog.
//
// A repository which is not activated does nothing: writes return zero
// values and reads return empty results.
type Repository struct {
	log    *zap.Logger
	config Config
	store  storage.Store
	scope  *scope
	user   []byte

	catalog storage.Table

	// auditMu serializes read-modify-write of column auditors.
	auditMu sync.Mutex
}

// Open prepares the catalog table in store and checks it against the live schema.
func Open(ctx context.Context, log *zap.Logger, store storage.Store, config Config) (_ *Repository, err error) {
	defer mon.Task()(&ctx)(&err)

	repo := &Repository{
		log:    log,
		config: config,
		store:  store,
		user:   []byte(config.actingUser()),
	}
	if !config.Activated {
		log.Debug("repository is not activated")
		return repo, nil
	}

	repo.scope, err = newScope(log, config.IncludedTables, config.ExcludedTables)
	if err != nil {
		return nil, err
	}

	if err := repo.createCatalog(ctx); err != nil {
		return nil, err
	}
	repo.catalog, err = store.OpenTable(ctx, CatalogTable)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if _, err := repo.SynchronizationCheck(ctx); err != nil {
		return nil, errs.Combine(err, repo.Close())
	}
	return repo, nil
}

// Close releases the catalog table.
func (repo *Repository) Close() error {
	if repo.catalog == nil {
		return nil
	}
	return Error.Wrap(repo.catalog.Close())
}

// Activated returns whether the repository tracks anything.
func (repo *Repository) Activated() bool { return repo.catalog != nil }

// Store returns the store the repository is kept in.
func (repo *Repository) Store() storage.Store { return repo.store }

// ActingUser returns the user recorded with catalog changes.
func (repo *Repository) ActingUser() string { return string(repo.user) }

// IsIncludedNamespace returns whether the namespace is tracked.
func (repo *Repository) IsIncludedNamespace(namespace string) bool {
	return repo.Activated() && repo.scope.namespace(namespace)
}

// IsIncludedTable returns whether the table is tracked.
func (repo *Repository) IsIncludedTable(name storage.TableName) bool {
	return repo.Activated() && repo.scope.table(name)
}

func (repo *Repository) createCatalog(ctx context.Context) error {
	err := repo.store.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: CatalogNamespace})
	if err != nil && !storage.ErrNamespaceExists.Has(err) {
		return Error.Wrap(err)
	}

	family := storage.FamilyDescriptor{Name: CatalogFamily, MaxVersions: repo.config.MaxVersions}
	err = repo.store.CreateTable(ctx, storage.TableDescriptor{
		Name:     CatalogTable,
		Families: []storage.FamilyDescriptor{family},
	})
	switch {
	case err == nil:
		repo.log.Info("created catalog table", zap.Stringer("table", CatalogTable))
		return nil
	case !storage.ErrTableExists.Has(err):
		return Error.Wrap(err)
	}

	return repo.setMaxVersions(ctx, family.Versions())
}

// setMaxVersions updates the retained versions of the catalog family.
func (repo *Repository) setMaxVersions(ctx context.Context, versions int) error {
	desc, err := repo.store.GetTable(ctx, CatalogTable)
	if err != nil {
		return Error.Wrap(err)
	}
	family, ok := desc.Family(CatalogFamily)
	if !ok {
		return Error.Wrap(repo.store.AddFamily(ctx, CatalogTable, storage.FamilyDescriptor{
			Name: CatalogFamily, MaxVersions: versions,
		}))
	}
	if family.Versions() == versions {
		return nil
	}
	repo.log.Info("changing catalog max versions",
		zap.Int("from", family.Versions()), zap.Int("to", versions))
	family.MaxVersions = versions
	return Error.Wrap(repo.store.ModifyFamily(ctx, CatalogTable, family))
}

// attributes are the tracked attributes of an entity.
type attributes struct {
	values        map[string]string
	configuration map[string]string
}

func (attrs attributes) columns() map[string][]byte {
	columns := make(map[string][]byte, len(attrs.values)+len(attrs.configuration))
	for key, value := range attrs.values {
		if value != "" {
			columns[ValuePrefix+key] = []byte(value)
		}
	}
	for key, value := range attrs.configuration {
		if value != "" {
			columns[ConfigurationPrefix+key] = []byte(value)
		}
	}
	return columns
}

func isAttributeColumn(qualifier []byte) bool {
	return bytes.HasPrefix(qualifier, []byte(ValuePrefix)) || bytes.HasPrefix(qualifier, []byte(ConfigurationPrefix))
}

// putEntity creates or updates the entity at key and returns its foreign key.
//
// Only changed attributes are written. Attributes which are no longer present
// are overwritten with an empty value.
func (repo *Repository) putEntity(ctx context.Context, key entitykey.Key, attrs attributes, suppressUserStamp bool) (_ entitykey.ForeignKey, err error) {
	defer mon.Task()(&ctx)(&err)

	rowKey := key.Encode()
	row, err := repo.catalog.Get(ctx, rowKey, storage.ReadOptions{})
	if err != nil {
		return entitykey.ForeignKey{}, Error.Wrap(err)
	}

	mutation := storage.NewMutation(rowKey)
	desired := attrs.columns()

	var fk entitykey.ForeignKey
	if row.IsEmpty() {
		fk, err = entitykey.NewForeignKey()
		if err != nil {
			return entitykey.ForeignKey{}, Error.Wrap(err)
		}
		mutation.Put(CatalogFamily, []byte(ForeignKeyColumn), fk.Bytes())
		mutation.Put(CatalogFamily, []byte(StatusColumn), StatusActive)
		for column, value := range desired {
			mutation.Put(CatalogFamily, []byte(column), value)
		}
	} else {
		fk, err = rowForeignKey(row)
		if err != nil {
			return entitykey.ForeignKey{}, err
		}
		for _, cell := range row.Cells {
			if !isAttributeColumn(cell.Qualifier) || len(cell.Value) == 0 {
				continue
			}
			if _, ok := desired[string(cell.Qualifier)]; !ok {
				mutation.Put(CatalogFamily, cell.Qualifier, []byte{})
			}
		}
		for column, value := range desired {
			if current, ok := row.Latest(CatalogFamily, []byte(column)); ok && bytes.Equal(current, value) {
				continue
			}
			mutation.Put(CatalogFamily, []byte(column), value)
		}
		if status, _ := row.Latest(CatalogFamily, []byte(StatusColumn)); !bytes.Equal(status, StatusActive) {
			mutation.Put(CatalogFamily, []byte(StatusColumn), StatusActive)
		}
	}

	if mutation.IsEmpty() {
		return fk, nil
	}
	if !suppressUserStamp {
		mutation.Put(CatalogFamily, []byte(UserColumn), repo.user)
	}
	if _, err := repo.catalog.Mutate(ctx, *mutation); err != nil {
		return entitykey.ForeignKey{}, Error.Wrap(err)
	}
	mon.Meter("catalog_writes").Mark(1)
	return fk, nil
}

// foreignKey returns the foreign key of the entity at key, regardless of its status.
func (repo *Repository) foreignKey(ctx context.Context, key entitykey.Key) (_ entitykey.ForeignKey, found bool, err error) {
	row, err := repo.catalog.Get(ctx, key.Encode(), storage.ReadOptions{})
	if err != nil {
		return entitykey.ForeignKey{}, false, Error.Wrap(err)
	}
	if row.IsEmpty() {
		return entitykey.ForeignKey{}, false, nil
	}
	fk, err := rowForeignKey(row)
	return fk, err == nil, err
}

func rowForeignKey(row storage.Row) (entitykey.ForeignKey, error) {
	value, _ := row.Latest(CatalogFamily, []byte(ForeignKeyColumn))
	fk, err := entitykey.ForeignKeyFromBytes(value)
	if err != nil {
		return entitykey.ForeignKey{}, Error.New("row %x: %v", row.Key, err)
	}
	return fk, nil
}

// activeFilter accepts rows whose latest status is active.
func activeFilter() *storage.ValueFilter {
	return &storage.ValueFilter{
		Family:          CatalogFamily,
		Qualifier:       []byte(StatusColumn),
		Value:           StatusActive,
		FilterIfMissing: true,
	}
}

// getEntity returns the active entity at key.
func (repo *Repository) getEntity(ctx context.Context, key entitykey.Key) (Entity, error) {
	row, err := repo.catalog.Get(ctx, key.Encode(), storage.ReadOptions{})
	if err != nil {
		return Entity{}, Error.Wrap(err)
	}
	if !activeFilter().Match(row) {
		return Entity{}, ErrEntityNotFound.New("%s", key)
	}
	return entityFromRow(row)
}

// activeChildren returns the active entities within the prefix of key.
func (repo *Repository) activeChildren(ctx context.Context, key entitykey.Key) ([]Entity, error) {
	start, stop := key.ScanRange()
	var entities []Entity
	err := repo.catalog.Scan(ctx, storage.ScanOptions{
		Start:  start,
		Stop:   stop,
		Filter: activeFilter(),
	}, func(ctx context.Context, row storage.Row) error {
		entity, err := entityFromRow(row)
		if err != nil {
			return err
		}
		entities = append(entities, entity)
		return nil
	})
	return entities, Error.Wrap(err)
}

// ScanCatalog calls fn for every catalog row, including deleted entities.
func (repo *Repository) ScanCatalog(ctx context.Context, allVersions bool, fn func(ctx context.Context, key entitykey.Key, row storage.Row) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.Activated() {
		return nil
	}
	return repo.catalog.Scan(ctx, storage.ScanOptions{AllVersions: allVersions}, func(ctx context.Context, row storage.Row) error {
		key, err := entitykey.Decode(row.Key)
		if err != nil {
			repo.log.Warn("skipping malformed catalog row", zap.Binary("row", row.Key), zap.Error(err))
			return nil
		}
		return fn(ctx, key, row)
	})
}

// AttributeKey splits a catalog column into its attribute key.
// It returns false for bookkeeping columns.
func AttributeKey(qualifier []byte) (key string, configuration, ok bool) {
	name := string(qualifier)
	if key, ok := strings.CutPrefix(name, ValuePrefix); ok {
		return key, false, true
	}
	if key, ok := strings.CutPrefix(name, ConfigurationPrefix); ok {
		return key, true, true
	}
	return "", false, false
}

// TestingEntities returns every catalog entity in key order, including deleted ones.
func (repo *Repository) TestingEntities(ctx context.Context) (entities []Entity, err error) {
	err = repo.ScanCatalog(ctx, false, func(ctx context.Context, key entitykey.Key, row storage.Row) error {
		entity, err := entityFromRow(row)
		if err != nil {
			return err
		}
		entities = append(entities, entity)
		return nil
	})
	return entities, err
}
