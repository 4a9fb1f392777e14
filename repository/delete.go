// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repository

import (
	"bytes"
	"context"

	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/storage"
)

// deleteEntity deletes the entity at key, or every entity in its prefix when
// key has no name, together with all of their descendants.
//
// When purge is set the rows are removed, otherwise they are marked deleted.
// With truncateOnly only column auditors are affected.
func (repo *Repository) deleteEntity(ctx context.Context, purge, truncateOnly bool, key entitykey.Key) (err error) {
	defer mon.Task()(&ctx)(&err)

	start, stop := key.ScanRange()
	err = repo.catalog.Scan(ctx, storage.ScanOptions{Start: start, Stop: stop}, func(ctx context.Context, row storage.Row) error {
		if key.Name != nil && !bytes.Equal(row.Key, start) {
			return nil
		}
		fk, err := rowForeignKey(row)
		if err != nil {
			return err
		}

		for _, child := range key.Type.Children() {
			if err := repo.deleteEntity(ctx, purge, truncateOnly, entitykey.Key{Type: child, Parent: fk.Bytes()}); err != nil {
				return err
			}
		}

		if truncateOnly && key.Type != entitykey.ColumnAuditor {
			return nil
		}
		return repo.deleteRow(ctx, purge, row)
	})
	return Error.Wrap(err)
}

func (repo *Repository) deleteRow(ctx context.Context, purge bool, row storage.Row) error {
	mutation := storage.NewMutation(storage.CloneBytes(row.Key))
	if purge {
		mutation.DeleteRow = true
	} else {
		if status, _ := row.Latest(CatalogFamily, []byte(StatusColumn)); bytes.Equal(status, StatusDeleted) {
			return nil
		}
		mutation.Put(CatalogFamily, []byte(StatusColumn), StatusDeleted)
		mutation.Put(CatalogFamily, []byte(UserColumn), repo.user)
	}
	if _, err := repo.catalog.Mutate(ctx, *mutation); err != nil {
		return err
	}
	mon.Meter("catalog_deletes").Mark(1)
	return nil
}

// DeleteNamespace marks the namespace and everything within it deleted.
func (repo *Repository) DeleteNamespace(ctx context.Context, namespace string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkNamespace(namespace); !ok {
		return err
	}
	return repo.deleteEntity(ctx, false, false, entitykey.NamespaceKey([]byte(namespace)))
}

// PurgeNamespace removes the namespace and everything within it from the catalog.
func (repo *Repository) PurgeNamespace(ctx context.Context, namespace string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkNamespace(namespace); !ok {
		return err
	}
	return repo.deleteEntity(ctx, true, false, entitykey.NamespaceKey([]byte(namespace)))
}

// DeleteTable marks the table and everything within it deleted.
func (repo *Repository) DeleteTable(ctx context.Context, table storage.TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	return repo.deleteTable(ctx, false, false, table)
}

// PurgeTable removes the table and everything within it from the catalog.
func (repo *Repository) PurgeTable(ctx context.Context, table storage.TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	return repo.deleteTable(ctx, true, false, table)
}

// TruncateTableColumns marks the column auditors of a table deleted, keeping
// their history. Column definitions are kept. The next write to a column
// starts a new max value length.
func (repo *Repository) TruncateTableColumns(ctx context.Context, table storage.TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	return repo.deleteTable(ctx, false, true, table)
}

func (repo *Repository) deleteTable(ctx context.Context, purge, truncateOnly bool, table storage.TableName) error {
	if ok, err := repo.checkTable(table); !ok {
		return err
	}
	key, found, err := repo.lookupTableKey(ctx, table)
	if err != nil || !found {
		return err
	}
	return repo.deleteEntity(ctx, purge, truncateOnly, key)
}

// DeleteFamily marks the column family with its columns deleted.
func (repo *Repository) DeleteFamily(ctx context.Context, table storage.TableName, family string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return err
	}
	key, found, err := repo.lookupTableKey(ctx, table)
	if err != nil || !found {
		return err
	}
	tableFK, found, err := repo.foreignKey(ctx, key)
	if err != nil || !found {
		return err
	}
	return repo.deleteEntity(ctx, false, false, entitykey.ChildKey(entitykey.ColumnFamily, tableFK, []byte(family)))
}

// DeleteColumnDefinition marks a column definition deleted.
func (repo *Repository) DeleteColumnDefinition(ctx context.Context, table storage.TableName, family string, qualifier []byte) (err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return err
	}
	familyFK, found, err := repo.lookupFamilyFK(ctx, table, family)
	if err != nil || !found {
		return err
	}
	return repo.deleteEntity(ctx, false, false, entitykey.ChildKey(entitykey.ColumnDefinition, familyFK, qualifier))
}
