// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"bytes"
	"encoding/gob"
	"maps"
	"sort"
	"strconv"
)

// VersionsKey is the family value reporting the number of retained versions.
const VersionsKey = "VERSIONS"

// NamespaceDescriptor describes a live namespace.
type NamespaceDescriptor struct {
	Name          string
	Configuration map[string]string
}

// Clone returns a deep copy of desc.
func (desc NamespaceDescriptor) Clone() NamespaceDescriptor {
	desc.Configuration = maps.Clone(desc.Configuration)
	return desc
}

// FamilyDescriptor describes a column family of a live table.
type FamilyDescriptor struct {
	Name          string
	MaxVersions   int
	Values        map[string]string
	Configuration map[string]string
}

// Clone returns a deep copy of desc.
func (desc FamilyDescriptor) Clone() FamilyDescriptor {
	desc.Values = maps.Clone(desc.Values)
	desc.Configuration = maps.Clone(desc.Configuration)
	return desc
}

// Versions returns the number of retained versions.
func (desc FamilyDescriptor) Versions() int {
	if desc.MaxVersions <= 0 {
		return DefaultMaxVersions
	}
	return desc.MaxVersions
}

// AllValues returns the family values including the retained version count.
func (desc FamilyDescriptor) AllValues() map[string]string {
	values := maps.Clone(desc.Values)
	if values == nil {
		values = map[string]string{}
	}
	values[VersionsKey] = strconv.Itoa(desc.Versions())
	return values
}

// TableDescriptor describes a live table.
type TableDescriptor struct {
	Name          TableName
	Values        map[string]string
	Configuration map[string]string
	Families      []FamilyDescriptor
}

// Clone returns a deep copy of desc.
func (desc TableDescriptor) Clone() TableDescriptor {
	desc.Values = maps.Clone(desc.Values)
	desc.Configuration = maps.Clone(desc.Configuration)
	families := make([]FamilyDescriptor, len(desc.Families))
	for i, family := range desc.Families {
		families[i] = family.Clone()
	}
	desc.Families = families
	return desc
}

// Family returns the family with the given name.
func (desc TableDescriptor) Family(name string) (FamilyDescriptor, bool) {
	for _, family := range desc.Families {
		if family.Name == name {
			return family, true
		}
	}
	return FamilyDescriptor{}, false
}

// MaxVersions returns the retained version count of a family, used with ApplyMutation.
func (desc TableDescriptor) MaxVersions(family string) int {
	f, _ := desc.Family(family)
	return f.Versions()
}

func (desc *TableDescriptor) sortFamilies() {
	sort.Slice(desc.Families, func(i, k int) bool {
		return desc.Families[i].Name < desc.Families[k].Name
	})
}

// Schema is the complete live schema of a store.
type Schema struct {
	Namespaces map[string]NamespaceDescriptor
	Tables     map[TableName]TableDescriptor
}

// NewSchema returns a schema containing only the default namespace.
func NewSchema() *Schema {
	return &Schema{
		Namespaces: map[string]NamespaceDescriptor{
			DefaultNamespace: {Name: DefaultNamespace},
		},
		Tables: map[TableName]TableDescriptor{},
	}
}

// Clone returns a deep copy of schema.
func (schema *Schema) Clone() *Schema {
	clone := &Schema{
		Namespaces: make(map[string]NamespaceDescriptor, len(schema.Namespaces)),
		Tables:     make(map[TableName]TableDescriptor, len(schema.Tables)),
	}
	for name, desc := range schema.Namespaces {
		clone.Namespaces[name] = desc.Clone()
	}
	for name, desc := range schema.Tables {
		clone.Tables[name] = desc.Clone()
	}
	return clone
}

// Table returns the descriptor of the table.
func (schema *Schema) Table(name TableName) (TableDescriptor, error) {
	desc, ok := schema.Tables[name]
	if !ok {
		return TableDescriptor{}, ErrTableNotFound.New("%s", name)
	}
	return desc, nil
}

// MarshalSchema serializes the schema for backends that persist it.
func MarshalSchema(schema *Schema) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(schema); err != nil {
		return nil, Error.Wrap(err)
	}
	return buf.Bytes(), nil
}

// UnmarshalSchema parses data produced by MarshalSchema.
// Empty data results in a new schema.
func UnmarshalSchema(data []byte) (*Schema, error) {
	if len(data) == 0 {
		return NewSchema(), nil
	}
	schema := &Schema{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(schema); err != nil {
		return nil, Error.Wrap(err)
	}
	if schema.Namespaces == nil {
		schema.Namespaces = map[string]NamespaceDescriptor{}
	}
	if schema.Tables == nil {
		schema.Tables = map[TableName]TableDescriptor{}
	}
	return schema, nil
}
