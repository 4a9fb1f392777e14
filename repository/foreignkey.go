// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repository

import (
	"context"

	"go.uber.org/zap"

	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/storage"
)

// namespaceFK returns the foreign key of a namespace. A namespace missing from
// the catalog is recorded from the live schema. With reactivate a namespace
// marked deleted counts as missing, so it is recorded again when it still
// exists in the live schema.
func (repo *Repository) namespaceFK(ctx context.Context, namespace string, reactivate bool) (entitykey.ForeignKey, error) {
	fk, found, err := repo.resolveKey(ctx, entitykey.NamespaceKey([]byte(namespace)), reactivate)
	if err != nil || found {
		return fk, err
	}

	desc, err := repo.store.GetNamespace(ctx, namespace)
	if err != nil {
		if storage.ErrNamespaceNotFound.Has(err) {
			return entitykey.ForeignKey{}, ErrEntityNotFound.New("namespace %q", namespace)
		}
		return entitykey.ForeignKey{}, Error.Wrap(err)
	}
	repo.log.Debug("recording namespace missing from catalog", zap.String("namespace", namespace))
	return repo.putNamespace(ctx, desc)
}

// tableFK returns the foreign key of a table. A table missing from the catalog
// is recorded from the live schema together with its families.
func (repo *Repository) tableFK(ctx context.Context, table storage.TableName, reactivate bool) (entitykey.ForeignKey, error) {
	namespace, err := repo.namespaceFK(ctx, table.Namespace, reactivate)
	if err != nil {
		return entitykey.ForeignKey{}, err
	}
	fk, found, err := repo.resolveKey(ctx, entitykey.ChildKey(entitykey.Table, namespace, []byte(table.Qualifier)), reactivate)
	if err != nil || found {
		return fk, err
	}

	desc, err := repo.store.GetTable(ctx, table)
	if err != nil {
		if storage.ErrTableNotFound.Has(err) {
			return entitykey.ForeignKey{}, ErrEntityNotFound.New("table %s", table)
		}
		return entitykey.ForeignKey{}, Error.Wrap(err)
	}
	repo.log.Debug("recording table missing from catalog", zap.Stringer("table", table))
	return repo.putTable(ctx, desc)
}

// familyFK returns the foreign key of a column family. A family missing from
// the catalog is recorded from the live schema.
func (repo *Repository) familyFK(ctx context.Context, table storage.TableName, family string, reactivate bool) (entitykey.ForeignKey, error) {
	tableFK, err := repo.tableFK(ctx, table, reactivate)
	if err != nil {
		return entitykey.ForeignKey{}, err
	}
	fk, found, err := repo.resolveKey(ctx, entitykey.ChildKey(entitykey.ColumnFamily, tableFK, []byte(family)), reactivate)
	if err != nil || found {
		return fk, err
	}

	desc, err := repo.store.GetTable(ctx, table)
	if err != nil {
		if storage.ErrTableNotFound.Has(err) {
			return entitykey.ForeignKey{}, ErrEntityNotFound.New("column family %s:%s", table, family)
		}
		return entitykey.ForeignKey{}, Error.Wrap(err)
	}
	familyDesc, ok := desc.Family(family)
	if !ok {
		return entitykey.ForeignKey{}, ErrEntityNotFound.New("column family %s:%s", table, family)
	}
	repo.log.Debug("recording column family missing from catalog",
		zap.Stringer("table", table), zap.String("family", family))
	return repo.putFamily(ctx, tableFK, familyDesc)
}

// resolveKey returns the foreign key of the entity at key. With activeOnly an
// entity marked deleted is reported as not found.
func (repo *Repository) resolveKey(ctx context.Context, key entitykey.Key, activeOnly bool) (_ entitykey.ForeignKey, found bool, err error) {
	if !activeOnly {
		return repo.foreignKey(ctx, key)
	}
	row, err := repo.catalog.Get(ctx, key.Encode(), storage.ReadOptions{})
	if err != nil {
		return entitykey.ForeignKey{}, false, Error.Wrap(err)
	}
	if !activeFilter().Match(row) {
		return entitykey.ForeignKey{}, false, nil
	}
	fk, err := rowForeignKey(row)
	return fk, err == nil, err
}

// lookupFamilyFK returns the foreign key of a column family without consulting
// the live schema.
func (repo *Repository) lookupFamilyFK(ctx context.Context, table storage.TableName, family string) (_ entitykey.ForeignKey, found bool, err error) {
	tableKey, found, err := repo.lookupTableKey(ctx, table)
	if err != nil || !found {
		return entitykey.ForeignKey{}, false, err
	}
	tableFK, found, err := repo.foreignKey(ctx, tableKey)
	if err != nil || !found {
		return entitykey.ForeignKey{}, false, err
	}
	return repo.foreignKey(ctx, entitykey.ChildKey(entitykey.ColumnFamily, tableFK, []byte(family)))
}

// lookupTableKey returns the key of a table without consulting the live schema.
func (repo *Repository) lookupTableKey(ctx context.Context, table storage.TableName) (_ entitykey.Key, found bool, err error) {
	namespace, found, err := repo.foreignKey(ctx, entitykey.NamespaceKey([]byte(table.Namespace)))
	if err != nil || !found {
		return entitykey.Key{}, false, err
	}
	return entitykey.ChildKey(entitykey.Table, namespace, []byte(table.Qualifier)), true, nil
}
