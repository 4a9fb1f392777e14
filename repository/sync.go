// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repository

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/storage"
)

// SynchronizationCheck compares every active catalog entity with the live
// schema and logs a warning for each difference. It returns whether any
// difference was found. The catalog is not modified.
func (repo *Repository) SynchronizationCheck(ctx context.Context) (discrepancies bool, err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.Activated() {
		return false, nil
	}

	log := repo.log.Named("sync")

	namespaces, err := repo.activeChildren(ctx, entitykey.Key{Type: entitykey.Namespace, Parent: entitykey.NamespaceParent})
	if err != nil {
		return false, err
	}
	for _, namespace := range namespaces {
		desc, err := repo.store.GetNamespace(ctx, string(namespace.Name))
		if err != nil {
			if !storage.ErrNamespaceNotFound.Has(err) {
				return discrepancies, Error.Wrap(err)
			}
			log.Warn("entity not found in live schema",
				zap.Stringer("type", entitykey.Namespace),
				zap.ByteString("entity", namespace.Name))
			discrepancies = true
			continue
		}
		if !attributesInSync(log, namespace, string(namespace.Name), desc.Configuration, nil) {
			discrepancies = true
		}

		tables, err := repo.activeChildren(ctx, entitykey.Key{Type: entitykey.Table, Parent: namespace.ForeignKey.Bytes()})
		if err != nil {
			return discrepancies, err
		}
		for _, table := range tables {
			name := storage.TableName{Namespace: desc.Name, Qualifier: string(table.Name)}
			ok, err := repo.checkTableInSync(ctx, log, name, table)
			if err != nil {
				return discrepancies, err
			}
			if !ok {
				discrepancies = true
			}
		}
	}

	if discrepancies {
		log.Warn("catalog is not in sync with the live schema, run discovery to refresh it")
	}
	return discrepancies, nil
}

func (repo *Repository) checkTableInSync(ctx context.Context, log *zap.Logger, name storage.TableName, table Entity) (bool, error) {
	desc, err := repo.store.GetTable(ctx, name)
	if err != nil {
		if !storage.ErrTableNotFound.Has(err) {
			return false, Error.Wrap(err)
		}
		log.Warn("entity not found in live schema",
			zap.Stringer("type", entitykey.Table),
			zap.Stringer("entity", name))
		return false, nil
	}

	inSync := attributesInSync(log, table, name.String(), desc.Configuration, desc.Values)

	families, err := repo.activeChildren(ctx, entitykey.Key{Type: entitykey.ColumnFamily, Parent: table.ForeignKey.Bytes()})
	if err != nil {
		return false, err
	}
	for _, family := range families {
		entityName := name.String() + ":" + string(family.Name)
		live, ok := desc.Family(string(family.Name))
		if !ok {
			log.Warn("entity not found in live schema",
				zap.Stringer("type", entitykey.ColumnFamily),
				zap.String("entity", entityName))
			inSync = false
			continue
		}
		if !attributesInSync(log, family, entityName, live.Configuration, live.AllValues()) {
			inSync = false
		}
	}
	return inSync, nil
}

// attributesInSync compares the attributes of the entity with the live ones.
// Namespaces have no values, liveValues is nil for them.
func attributesInSync(log *zap.Logger, entity Entity, name string, liveConfiguration, liveValues map[string]string) bool {
	mismatch := func(attribute string) bool {
		log.Warn("attribute mismatch",
			zap.Stringer("type", entity.Type),
			zap.String("entity", name),
			zap.String("attribute", attribute))
		return false
	}

	if key, ok := firstDifference(entity.Configuration, liveConfiguration); ok {
		return mismatch(ConfigurationPrefix + key)
	}
	if entity.Type == entitykey.Namespace {
		return true
	}
	if key, ok := firstDifference(entity.Values, liveValues); ok {
		return mismatch(ValuePrefix + key)
	}
	return true
}

// firstDifference returns a key whose value differs between a and b.
// Empty values are the same as missing ones.
func firstDifference(a, b map[string]string) (string, bool) {
	var found []string
	for key, value := range a {
		if b[key] != value {
			found = append(found, key)
		}
	}
	for key, value := range b {
		if a[key] != value {
			found = append(found, key)
		}
	}
	if len(found) == 0 {
		return "", false
	}
	return slices.Min(found), true
}
