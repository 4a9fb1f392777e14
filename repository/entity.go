// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repository

import (
	"bytes"
	"context"
	"strconv"

	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/storage"
)

// Entity is a catalog entry of a namespace, table, column family or column.
type Entity struct {
	Type       entitykey.Type
	Name       []byte
	ForeignKey entitykey.ForeignKey
	// Parent is the parent foreign key or entitykey.NamespaceParent.
	Parent []byte

	Values        map[string]string
	Configuration map[string]string

	Active                    bool
	ColumnDefinitionsEnforced bool
}

// Key returns the row key of the entity.
func (entity Entity) Key() entitykey.Key {
	return entitykey.Key{Type: entity.Type, Parent: entity.Parent, Name: entity.Name}
}

func entityFromRow(row storage.Row) (Entity, error) {
	key, err := entitykey.Decode(row.Key)
	if err != nil {
		return Entity{}, Error.Wrap(err)
	}
	fk, err := rowForeignKey(row)
	if err != nil {
		return Entity{}, err
	}

	entity := Entity{
		Type:       key.Type,
		Name:       key.Name,
		ForeignKey: fk,
		Parent:     key.Parent,
	}
	for _, cell := range row.LatestCells() {
		if cell.Family != CatalogFamily {
			continue
		}
		switch string(cell.Qualifier) {
		case StatusColumn:
			entity.Active = bytes.Equal(cell.Value, StatusActive)
			continue
		case EnforcedColumn:
			entity.ColumnDefinitionsEnforced = string(cell.Value) == "true"
			continue
		}
		if len(cell.Value) == 0 {
			continue
		}
		attr, configuration, ok := AttributeKey(cell.Qualifier)
		if !ok {
			continue
		}
		if configuration {
			if entity.Configuration == nil {
				entity.Configuration = map[string]string{}
			}
			entity.Configuration[attr] = string(cell.Value)
		} else {
			if entity.Values == nil {
				entity.Values = map[string]string{}
			}
			entity.Values[attr] = string(cell.Value)
		}
	}
	return entity, nil
}

// ColumnAuditor reports a column qualifier found under a column family.
type ColumnAuditor struct {
	Qualifier           []byte
	MaxValueLengthFound int64
}

func auditorFromEntity(entity Entity) ColumnAuditor {
	length, _ := strconv.ParseInt(entity.Values[MaxValueLengthKey], 10, 64)
	return ColumnAuditor{Qualifier: entity.Name, MaxValueLengthFound: length}
}

// ColumnDefinition declares the constraints of a column qualifier.
type ColumnDefinition struct {
	Qualifier []byte
	// ColumnLength is the maximum value length, zero is unbounded.
	ColumnLength int64
	// ColumnValidationRegex must match the whole value when not empty.
	ColumnValidationRegex string
}

func definitionFromEntity(entity Entity) ColumnDefinition {
	length, _ := strconv.ParseInt(entity.Values[ColumnLengthKey], 10, 64)
	return ColumnDefinition{
		Qualifier:             entity.Name,
		ColumnLength:          length,
		ColumnValidationRegex: entity.Values[ColumnValidationRegexKey],
	}
}

func (def ColumnDefinition) attributes() attributes {
	values := map[string]string{ColumnLengthKey: strconv.FormatInt(def.ColumnLength, 10)}
	if def.ColumnValidationRegex != "" {
		values[ColumnValidationRegexKey] = def.ColumnValidationRegex
	}
	return attributes{values: values}
}

// PutNamespace records the namespace. Untracked namespaces are ignored.
func (repo *Repository) PutNamespace(ctx context.Context, desc storage.NamespaceDescriptor) (_ entitykey.ForeignKey, err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.IsIncludedNamespace(desc.Name) {
		return entitykey.ForeignKey{}, nil
	}
	return repo.putNamespace(ctx, desc)
}

func (repo *Repository) putNamespace(ctx context.Context, desc storage.NamespaceDescriptor) (entitykey.ForeignKey, error) {
	return repo.putEntity(ctx, entitykey.NamespaceKey([]byte(desc.Name)), attributes{
		configuration: desc.Configuration,
	}, false)
}

// PutTable records the table with all of its column families. Families missing
// from desc are marked deleted. Untracked tables are ignored.
func (repo *Repository) PutTable(ctx context.Context, desc storage.TableDescriptor) (_ entitykey.ForeignKey, err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.IsIncludedTable(desc.Name) {
		return entitykey.ForeignKey{}, nil
	}
	return repo.putTable(ctx, desc)
}

func (repo *Repository) putTable(ctx context.Context, desc storage.TableDescriptor) (entitykey.ForeignKey, error) {
	namespace, err := repo.namespaceFK(ctx, desc.Name.Namespace, true)
	if err != nil {
		return entitykey.ForeignKey{}, err
	}

	fk, err := repo.putEntity(ctx, entitykey.ChildKey(entitykey.Table, namespace, []byte(desc.Name.Qualifier)), attributes{
		values:        desc.Values,
		configuration: desc.Configuration,
	}, false)
	if err != nil {
		return entitykey.ForeignKey{}, err
	}

	families, err := repo.activeChildren(ctx, entitykey.Key{Type: entitykey.ColumnFamily, Parent: fk.Bytes()})
	if err != nil {
		return entitykey.ForeignKey{}, err
	}
	for _, family := range families {
		if _, ok := desc.Family(string(family.Name)); !ok {
			if err := repo.deleteEntity(ctx, false, false, family.Key()); err != nil {
				return entitykey.ForeignKey{}, err
			}
		}
	}

	for _, family := range desc.Families {
		if _, err := repo.putFamily(ctx, fk, family); err != nil {
			return entitykey.ForeignKey{}, err
		}
	}
	return fk, nil
}

// PutFamily records a column family of the table. Untracked tables are ignored.
func (repo *Repository) PutFamily(ctx context.Context, table storage.TableName, desc storage.FamilyDescriptor) (_ entitykey.ForeignKey, err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.IsIncludedTable(table) {
		return entitykey.ForeignKey{}, nil
	}
	tableFK, err := repo.tableFK(ctx, table, true)
	if err != nil {
		return entitykey.ForeignKey{}, err
	}
	return repo.putFamily(ctx, tableFK, desc)
}

func (repo *Repository) putFamily(ctx context.Context, table entitykey.ForeignKey, desc storage.FamilyDescriptor) (entitykey.ForeignKey, error) {
	return repo.putEntity(ctx, entitykey.ChildKey(entitykey.ColumnFamily, table, []byte(desc.Name)), attributes{
		values:        desc.AllValues(),
		configuration: desc.Configuration,
	}, false)
}

// checkNamespace returns false when a call on namespace has nothing to do.
func (repo *Repository) checkNamespace(namespace string) (bool, error) {
	switch {
	case !repo.Activated():
		return false, nil
	case !repo.IsIncludedNamespace(namespace):
		return false, ErrTableNotIncluded.New("namespace %q", namespace)
	}
	return true, nil
}

// checkTable returns false when a call on table has nothing to do.
func (repo *Repository) checkTable(table storage.TableName) (bool, error) {
	switch {
	case !repo.Activated():
		return false, nil
	case !repo.IsIncludedTable(table):
		return false, ErrTableNotIncluded.New("%s", table)
	}
	return true, nil
}

// GetNamespace returns the active namespace entity.
func (repo *Repository) GetNamespace(ctx context.Context, namespace string) (_ Entity, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkNamespace(namespace); !ok {
		return Entity{}, err
	}
	if _, err := repo.namespaceFK(ctx, namespace, false); err != nil {
		return Entity{}, err
	}
	return repo.getEntity(ctx, entitykey.NamespaceKey([]byte(namespace)))
}

// GetNamespaces returns all active namespace entities.
func (repo *Repository) GetNamespaces(ctx context.Context) (_ []Entity, err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.Activated() {
		return nil, nil
	}
	return repo.activeChildren(ctx, entitykey.Key{Type: entitykey.Namespace, Parent: entitykey.NamespaceParent})
}

// GetTable returns the active table entity.
func (repo *Repository) GetTable(ctx context.Context, table storage.TableName) (_ Entity, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return Entity{}, err
	}
	namespace, err := repo.namespaceFK(ctx, table.Namespace, false)
	if err != nil {
		return Entity{}, err
	}
	if _, err := repo.tableFK(ctx, table, false); err != nil {
		return Entity{}, err
	}
	return repo.getEntity(ctx, entitykey.ChildKey(entitykey.Table, namespace, []byte(table.Qualifier)))
}

// GetTables returns the active table entities of a namespace.
func (repo *Repository) GetTables(ctx context.Context, namespace string) (_ []Entity, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkNamespace(namespace); !ok {
		return nil, err
	}
	fk, err := repo.namespaceFK(ctx, namespace, false)
	if err != nil {
		return nil, err
	}
	return repo.activeChildren(ctx, entitykey.Key{Type: entitykey.Table, Parent: fk.Bytes()})
}

// GetFamily returns the active column family entity.
func (repo *Repository) GetFamily(ctx context.Context, table storage.TableName, family string) (_ Entity, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return Entity{}, err
	}
	tableFK, err := repo.tableFK(ctx, table, false)
	if err != nil {
		return Entity{}, err
	}
	if _, err := repo.familyFK(ctx, table, family, false); err != nil {
		return Entity{}, err
	}
	return repo.getEntity(ctx, entitykey.ChildKey(entitykey.ColumnFamily, tableFK, []byte(family)))
}

// GetFamilies returns the active column family entities of a table.
func (repo *Repository) GetFamilies(ctx context.Context, table storage.TableName) (_ []Entity, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return nil, err
	}
	fk, err := repo.tableFK(ctx, table, false)
	if err != nil {
		return nil, err
	}
	return repo.activeChildren(ctx, entitykey.Key{Type: entitykey.ColumnFamily, Parent: fk.Bytes()})
}

// GetColumnAuditors returns the active column auditors of a column family.
func (repo *Repository) GetColumnAuditors(ctx context.Context, table storage.TableName, family string) (_ []ColumnAuditor, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return nil, err
	}
	fk, err := repo.familyFK(ctx, table, family, false)
	if err != nil {
		return nil, err
	}
	entities, err := repo.activeChildren(ctx, entitykey.Key{Type: entitykey.ColumnAuditor, Parent: fk.Bytes()})
	if err != nil {
		return nil, err
	}
	auditors := make([]ColumnAuditor, 0, len(entities))
	for _, entity := range entities {
		auditors = append(auditors, auditorFromEntity(entity))
	}
	return auditors, nil
}

// GetColumnAuditor returns a single active column auditor.
func (repo *Repository) GetColumnAuditor(ctx context.Context, table storage.TableName, family string, qualifier []byte) (_ ColumnAuditor, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return ColumnAuditor{}, err
	}
	fk, err := repo.familyFK(ctx, table, family, false)
	if err != nil {
		return ColumnAuditor{}, err
	}
	entity, err := repo.getEntity(ctx, entitykey.ChildKey(entitykey.ColumnAuditor, fk, qualifier))
	if err != nil {
		return ColumnAuditor{}, err
	}
	return auditorFromEntity(entity), nil
}

// GetColumnDefinitions returns the active column definitions of a column family.
func (repo *Repository) GetColumnDefinitions(ctx context.Context, table storage.TableName, family string) (_ []ColumnDefinition, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return nil, err
	}
	fk, err := repo.familyFK(ctx, table, family, false)
	if err != nil {
		return nil, err
	}
	entities, err := repo.activeChildren(ctx, entitykey.Key{Type: entitykey.ColumnDefinition, Parent: fk.Bytes()})
	if err != nil {
		return nil, err
	}
	definitions := make([]ColumnDefinition, 0, len(entities))
	for _, entity := range entities {
		definitions = append(definitions, definitionFromEntity(entity))
	}
	return definitions, nil
}

// GetColumnDefinition returns a single active column definition.
func (repo *Repository) GetColumnDefinition(ctx context.Context, table storage.TableName, family string, qualifier []byte) (_ ColumnDefinition, err error) {
	defer mon.Task()(&ctx)(&err)
	if ok, err := repo.checkTable(table); !ok {
		return ColumnDefinition{}, err
	}
	fk, err := repo.familyFK(ctx, table, family, false)
	if err != nil {
		return ColumnDefinition{}, err
	}
	entity, err := repo.getEntity(ctx, entitykey.ChildKey(entitykey.ColumnDefinition, fk, qualifier))
	if err != nil {
		return ColumnDefinition{}, err
	}
	return definitionFromEntity(entity), nil
}

// Dump calls fn for every active entity in key order, parents before children.
// Path holds the ancestors of the entity followed by the entity itself.
func (repo *Repository) Dump(ctx context.Context, fn func(ctx context.Context, path []Entity) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !repo.Activated() {
		return nil
	}
	return repo.dump(ctx, nil, entitykey.Key{Type: entitykey.Namespace, Parent: entitykey.NamespaceParent}, fn)
}

func (repo *Repository) dump(ctx context.Context, path []Entity, prefix entitykey.Key, fn func(ctx context.Context, path []Entity) error) error {
	entities, err := repo.activeChildren(ctx, prefix)
	if err != nil {
		return err
	}
	for _, entity := range entities {
		current := append(path[:len(path):len(path)], entity)
		if err := fn(ctx, current); err != nil {
			return err
		}
		for _, child := range entity.Type.Children() {
			err := repo.dump(ctx, current, entitykey.Key{Type: child, Parent: entity.ForeignKey.Bytes()}, fn)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
