// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"context"
	"sort"
)

// SchemaStore persists the live schema and row data of a backend.
type SchemaStore interface {
	// LoadSchema returns a snapshot of the live schema.
	LoadSchema(ctx context.Context) (*Schema, error)
	// UpdateSchema atomically modifies the live schema.
	UpdateSchema(ctx context.Context, fn func(schema *Schema) error) error
	// DropData removes the rows of a table. When families are given only
	// cells of those families are removed.
	DropData(ctx context.Context, table TableName, families ...string) error
}

// SchemaAdmin implements Admin on top of a SchemaStore.
type SchemaAdmin struct {
	store SchemaStore
}

// NewSchemaAdmin returns an Admin for the schema store.
func NewSchemaAdmin(store SchemaStore) *SchemaAdmin {
	return &SchemaAdmin{store: store}
}

// ListNamespaces returns all namespaces sorted by name.
func (admin *SchemaAdmin) ListNamespaces(ctx context.Context) (_ []NamespaceDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)
	schema, err := admin.store.LoadSchema(ctx)
	if err != nil {
		return nil, err
	}
	namespaces := make([]NamespaceDescriptor, 0, len(schema.Namespaces))
	for _, desc := range schema.Namespaces {
		namespaces = append(namespaces, desc)
	}
	sort.Slice(namespaces, func(i, k int) bool { return namespaces[i].Name < namespaces[k].Name })
	return namespaces, nil
}

// GetNamespace returns the descriptor of a namespace.
func (admin *SchemaAdmin) GetNamespace(ctx context.Context, name string) (_ NamespaceDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)
	schema, err := admin.store.LoadSchema(ctx)
	if err != nil {
		return NamespaceDescriptor{}, err
	}
	desc, ok := schema.Namespaces[name]
	if !ok {
		return NamespaceDescriptor{}, ErrNamespaceNotFound.New("%s", name)
	}
	return desc, nil
}

// CreateNamespace creates a namespace.
func (admin *SchemaAdmin) CreateNamespace(ctx context.Context, desc NamespaceDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := ValidateNamespaceName(desc.Name); err != nil {
		return err
	}
	return admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		if _, ok := schema.Namespaces[desc.Name]; ok {
			return ErrNamespaceExists.New("%s", desc.Name)
		}
		schema.Namespaces[desc.Name] = desc.Clone()
		return nil
	})
}

// ModifyNamespace replaces the configuration of an existing namespace.
func (admin *SchemaAdmin) ModifyNamespace(ctx context.Context, desc NamespaceDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	return admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		if _, ok := schema.Namespaces[desc.Name]; !ok {
			return ErrNamespaceNotFound.New("%s", desc.Name)
		}
		schema.Namespaces[desc.Name] = desc.Clone()
		return nil
	})
}

// DeleteNamespace deletes an empty namespace.
func (admin *SchemaAdmin) DeleteNamespace(ctx context.Context, name string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		if _, ok := schema.Namespaces[name]; !ok {
			return ErrNamespaceNotFound.New("%s", name)
		}
		for table := range schema.Tables {
			if table.Namespace == name {
				return ErrNamespaceNotEmpty.New("%s", name)
			}
		}
		delete(schema.Namespaces, name)
		return nil
	})
}

// ListTables returns all tables of a namespace sorted by name.
func (admin *SchemaAdmin) ListTables(ctx context.Context, namespace string) (_ []TableDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)
	schema, err := admin.store.LoadSchema(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := schema.Namespaces[namespace]; !ok {
		return nil, ErrNamespaceNotFound.New("%s", namespace)
	}
	var tables []TableDescriptor
	for name, desc := range schema.Tables {
		if name.Namespace == namespace {
			tables = append(tables, desc)
		}
	}
	sort.Slice(tables, func(i, k int) bool { return tables[i].Name.Less(tables[k].Name) })
	return tables, nil
}

// GetTable returns the descriptor of a table.
func (admin *SchemaAdmin) GetTable(ctx context.Context, name TableName) (_ TableDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)
	schema, err := admin.store.LoadSchema(ctx)
	if err != nil {
		return TableDescriptor{}, err
	}
	return schema.Table(name)
}

// TableExists checks whether the table exists.
func (admin *SchemaAdmin) TableExists(ctx context.Context, name TableName) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	schema, err := admin.store.LoadSchema(ctx)
	if err != nil {
		return false, err
	}
	_, ok := schema.Tables[name]
	return ok, nil
}

// CreateTable creates a table with its column families.
func (admin *SchemaAdmin) CreateTable(ctx context.Context, desc TableDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := validateTable(desc); err != nil {
		return err
	}
	return admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		if _, ok := schema.Namespaces[desc.Name.Namespace]; !ok {
			return ErrNamespaceNotFound.New("%s", desc.Name.Namespace)
		}
		if _, ok := schema.Tables[desc.Name]; ok {
			return ErrTableExists.New("%s", desc.Name)
		}
		desc = desc.Clone()
		desc.sortFamilies()
		schema.Tables[desc.Name] = desc
		return nil
	})
}

// ModifyTable replaces the table descriptor, dropping data of removed families.
func (admin *SchemaAdmin) ModifyTable(ctx context.Context, desc TableDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := validateTable(desc); err != nil {
		return err
	}
	var removed []string
	err = admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		old, err := schema.Table(desc.Name)
		if err != nil {
			return err
		}
		removed = removed[:0]
		for _, family := range old.Families {
			if _, ok := desc.Family(family.Name); !ok {
				removed = append(removed, family.Name)
			}
		}
		desc = desc.Clone()
		desc.sortFamilies()
		schema.Tables[desc.Name] = desc
		return nil
	})
	if err != nil || len(removed) == 0 {
		return err
	}
	return admin.store.DropData(ctx, desc.Name, removed...)
}

// DeleteTable deletes the table with all of its data.
func (admin *SchemaAdmin) DeleteTable(ctx context.Context, name TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		if _, err := schema.Table(name); err != nil {
			return err
		}
		delete(schema.Tables, name)
		return nil
	})
	if err != nil {
		return err
	}
	return admin.store.DropData(ctx, name)
}

// TruncateTable deletes all rows of a table and keeps its descriptor.
func (admin *SchemaAdmin) TruncateTable(ctx context.Context, name TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	schema, err := admin.store.LoadSchema(ctx)
	if err != nil {
		return err
	}
	if _, err := schema.Table(name); err != nil {
		return err
	}
	return admin.store.DropData(ctx, name)
}

// AddFamily adds a column family to a table.
func (admin *SchemaAdmin) AddFamily(ctx context.Context, table TableName, desc FamilyDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := ValidateFamilyName(desc.Name); err != nil {
		return err
	}
	return admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		tableDesc, err := schema.Table(table)
		if err != nil {
			return err
		}
		if _, ok := tableDesc.Family(desc.Name); ok {
			return ErrFamilyExists.New("%s:%s", table, desc.Name)
		}
		tableDesc = tableDesc.Clone()
		tableDesc.Families = append(tableDesc.Families, desc.Clone())
		tableDesc.sortFamilies()
		schema.Tables[table] = tableDesc
		return nil
	})
}

// ModifyFamily replaces an existing column family descriptor.
func (admin *SchemaAdmin) ModifyFamily(ctx context.Context, table TableName, desc FamilyDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	return admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		tableDesc, err := schema.Table(table)
		if err != nil {
			return err
		}
		tableDesc = tableDesc.Clone()
		for i := range tableDesc.Families {
			if tableDesc.Families[i].Name == desc.Name {
				tableDesc.Families[i] = desc.Clone()
				schema.Tables[table] = tableDesc
				return nil
			}
		}
		return ErrFamilyNotFound.New("%s:%s", table, desc.Name)
	})
}

// DeleteFamily removes a column family and its data.
func (admin *SchemaAdmin) DeleteFamily(ctx context.Context, table TableName, family string) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = admin.store.UpdateSchema(ctx, func(schema *Schema) error {
		tableDesc, err := schema.Table(table)
		if err != nil {
			return err
		}
		tableDesc = tableDesc.Clone()
		for i := range tableDesc.Families {
			if tableDesc.Families[i].Name == family {
				tableDesc.Families = append(tableDesc.Families[:i], tableDesc.Families[i+1:]...)
				schema.Tables[table] = tableDesc
				return nil
			}
		}
		return ErrFamilyNotFound.New("%s:%s", table, family)
	})
	if err != nil {
		return err
	}
	return admin.store.DropData(ctx, table, family)
}

func validateTable(desc TableDescriptor) error {
	if err := desc.Name.Validate(); err != nil {
		return err
	}
	if len(desc.Families) == 0 {
		return ErrInvalidName.New("table %s has no column families", desc.Name)
	}
	seen := map[string]bool{}
	for _, family := range desc.Families {
		if err := ValidateFamilyName(family.Name); err != nil {
			return err
		}
		if seen[family.Name] {
			return ErrFamilyExists.New("%s:%s", desc.Name, family.Name)
		}
		seen[family.Name] = true
	}
	return nil
}
