// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repository

import (
	"bytes"
	"context"
	"regexp"
	"strconv"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/storage"
)

// DiscoverSchema records every tracked namespace and table of the live schema.
// With includeColumns the rows of every table are read to record the column
// qualifiers in use.
func (repo *Repository) DiscoverSchema(ctx context.Context, includeColumns bool) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.Activated() {
		return nil
	}

	namespaces, err := repo.store.ListNamespaces(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	for _, namespace := range namespaces {
		if !repo.IsIncludedNamespace(namespace.Name) {
			continue
		}
		if _, err := repo.putNamespace(ctx, namespace); err != nil {
			return err
		}

		tables, err := repo.store.ListTables(ctx, namespace.Name)
		if err != nil {
			return Error.Wrap(err)
		}
		for _, table := range tables {
			if !repo.IsIncludedTable(table.Name) {
				continue
			}
			if err := repo.discoverTable(ctx, table, includeColumns); err != nil {
				return err
			}
		}
	}
	return nil
}

// DiscoverTable records a single table of the live schema, see DiscoverSchema.
func (repo *Repository) DiscoverTable(ctx context.Context, table storage.TableName, includeColumns bool) (err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return err
	}
	desc, err := repo.store.GetTable(ctx, table)
	if err != nil {
		return Error.Wrap(err)
	}
	return repo.discoverTable(ctx, desc, includeColumns)
}

func (repo *Repository) discoverTable(ctx context.Context, desc storage.TableDescriptor, includeColumns bool) (err error) {
	repo.log.Debug("discovering table", zap.Stringer("table", desc.Name), zap.Bool("columns", includeColumns))

	if _, err := repo.putTable(ctx, desc); err != nil {
		return err
	}
	if !includeColumns {
		return nil
	}

	table, err := repo.store.OpenTable(ctx, desc.Name)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(table.Close())) }()

	found := columnLengths{}
	err = table.Scan(ctx, storage.ScanOptions{}, func(ctx context.Context, row storage.Row) error {
		for _, cell := range row.Cells {
			found.add(cell.Family, cell.Qualifier, len(cell.Value))
		}
		return nil
	})
	if err != nil {
		return Error.Wrap(err)
	}
	return repo.recordColumns(ctx, desc.Name, found)
}

// columnLengths tracks the longest value per family and qualifier.
type columnLengths map[string]map[string]int64

func (lengths columnLengths) add(family string, qualifier []byte, length int) {
	columns, ok := lengths[family]
	if !ok {
		columns = map[string]int64{}
		lengths[family] = columns
	}
	if current, ok := columns[string(qualifier)]; !ok || int64(length) > current {
		columns[string(qualifier)] = int64(length)
	}
}

// RecordColumns records the column qualifiers written by the mutations and
// the length of their values. Deletes are skipped. Untracked tables are ignored.
func (repo *Repository) RecordColumns(ctx context.Context, table storage.TableName, mutations ...storage.Mutation) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.IsIncludedTable(table) {
		return nil
	}

	found := columnLengths{}
	for _, mutation := range mutations {
		if mutation.IsDelete() {
			continue
		}
		for _, cell := range mutation.Puts {
			found.add(cell.Family, cell.Qualifier, len(cell.Value))
		}
	}
	return repo.recordColumns(ctx, table, found)
}

func (repo *Repository) recordColumns(ctx context.Context, table storage.TableName, found columnLengths) error {
	for family, columns := range found {
		familyFK, err := repo.familyFK(ctx, table, family, true)
		if err != nil {
			return err
		}
		for qualifier, length := range columns {
			if err := repo.recordAuditor(ctx, familyFK, []byte(qualifier), length); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordAuditor raises the max value length of a column auditor, creating it
// when missing.
func (repo *Repository) recordAuditor(ctx context.Context, family entitykey.ForeignKey, qualifier []byte, length int64) error {
	repo.auditMu.Lock()
	defer repo.auditMu.Unlock()

	key := entitykey.ChildKey(entitykey.ColumnAuditor, family, qualifier)
	row, err := repo.catalog.Get(ctx, key.Encode(), storage.ReadOptions{})
	if err != nil {
		return Error.Wrap(err)
	}

	active := activeFilter().Match(row)
	if active {
		entity, err := entityFromRow(row)
		if err != nil {
			return err
		}
		if length <= auditorFromEntity(entity).MaxValueLengthFound {
			return nil
		}
	}

	_, err = repo.putEntity(ctx, key, attributes{
		values: map[string]string{MaxValueLengthKey: strconv.FormatInt(length, 10)},
	}, active)
	return err
}

// PutColumnDefinitions records column definitions of a column family.
func (repo *Repository) PutColumnDefinitions(ctx context.Context, table storage.TableName, family string, definitions ...ColumnDefinition) (err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return err
	}
	for _, def := range definitions {
		if len(def.Qualifier) == 0 {
			return Error.New("column definition without qualifier")
		}
		if def.ColumnLength < 0 {
			return Error.New("column definition %q: negative length %d", def.Qualifier, def.ColumnLength)
		}
		if _, err := CompileValidationRegex(def.ColumnValidationRegex); err != nil {
			return err
		}
	}

	fk, err := repo.familyFK(ctx, table, family, true)
	if err != nil {
		return err
	}
	for _, def := range definitions {
		if _, err := repo.putEntity(ctx, entitykey.ChildKey(entitykey.ColumnDefinition, fk, def.Qualifier), def.attributes(), false); err != nil {
			return err
		}
	}
	return nil
}

// CompileValidationRegex compiles a column validation regex so that it has to
// match the whole value. An empty regex returns nil.
func CompileValidationRegex(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return nil, Error.New("invalid column validation regex %q: %v", expr, err)
	}
	return re, nil
}

// SetColumnDefinitionsEnforced enables or disables enforcement of the column
// definitions of a column family.
func (repo *Repository) SetColumnDefinitionsEnforced(ctx context.Context, enabled bool, table storage.TableName, family string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return err
	}
	if _, err := repo.familyFK(ctx, table, family, true); err != nil {
		return err
	}
	tableFK, err := repo.tableFK(ctx, table, true)
	if err != nil {
		return err
	}

	key := entitykey.ChildKey(entitykey.ColumnFamily, tableFK, []byte(family)).Encode()
	row, err := repo.catalog.Get(ctx, key, storage.ReadOptions{})
	if err != nil {
		return Error.Wrap(err)
	}

	flag := []byte(strconv.FormatBool(enabled))
	current, _ := row.Latest(CatalogFamily, []byte(EnforcedColumn))
	if bytes.Equal(current, flag) || (!enabled && len(current) == 0) {
		return nil
	}

	mutation := storage.NewMutation(key).
		Put(CatalogFamily, []byte(EnforcedColumn), flag).
		Put(CatalogFamily, []byte(UserColumn), repo.user)
	if _, err := repo.catalog.Mutate(ctx, *mutation); err != nil {
		return Error.Wrap(err)
	}
	repo.log.Info("column definition enforcement changed",
		zap.Stringer("table", table), zap.String("family", family),
		zap.Bool("enabled", enabled))
	return nil
}

// ColumnDefinitionsEnforced returns whether the column definitions of a column
// family are enforced. It only reads the catalog, a family missing from it is
// not enforced.
func (repo *Repository) ColumnDefinitionsEnforced(ctx context.Context, table storage.TableName, family string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return false, err
	}
	tableKey, found, err := repo.lookupTableKey(ctx, table)
	if err != nil || !found {
		return false, err
	}
	tableFK, found, err := repo.foreignKey(ctx, tableKey)
	if err != nil || !found {
		return false, err
	}

	row, err := repo.catalog.Get(ctx, entitykey.ChildKey(entitykey.ColumnFamily, tableFK, []byte(family)).Encode(), storage.ReadOptions{})
	if err != nil {
		return false, Error.Wrap(err)
	}
	if !activeFilter().Match(row) {
		return false, nil
	}
	flag, _ := row.Latest(CatalogFamily, []byte(EnforcedColumn))
	return string(flag) == "true", nil
}
