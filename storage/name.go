// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"cmp"
	"strings"
)

// DefaultNamespace is the namespace of tables named without one.
const DefaultNamespace = "default"

// TableName identifies a table within a namespace.
type TableName struct {
	Namespace string
	Qualifier string
}

// NewTableName returns a table name, using the default namespace when namespace is empty.
func NewTableName(namespace, qualifier string) TableName {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return TableName{Namespace: namespace, Qualifier: qualifier}
}

// ParseTableName parses "namespace:qualifier" or "qualifier".
func ParseTableName(s string) (TableName, error) {
	namespace, qualifier, found := strings.Cut(s, ":")
	if !found {
		namespace, qualifier = DefaultNamespace, s
	}
	name := TableName{Namespace: namespace, Qualifier: qualifier}
	if err := name.Validate(); err != nil {
		return TableName{}, err
	}
	return name, nil
}

// String returns the canonical form of the name.
func (name TableName) String() string {
	if name.Namespace == DefaultNamespace || name.Namespace == "" {
		return name.Qualifier
	}
	return name.Namespace + ":" + name.Qualifier
}

// IsZero returns whether the name is empty.
func (name TableName) IsZero() bool { return name == TableName{} }

// Less orders names by namespace and then by qualifier.
func (name TableName) Less(b TableName) bool {
	return name.Compare(b) < 0
}

// Compare orders table names by namespace and then by qualifier.
func (name TableName) Compare(b TableName) int {
	return cmp.Or(
		cmp.Compare(name.Namespace, b.Namespace),
		cmp.Compare(name.Qualifier, b.Qualifier),
	)
}

// Validate checks whether both parts of the name are legal.
func (name TableName) Validate() error {
	if err := ValidateNamespaceName(name.Namespace); err != nil {
		return err
	}
	if !legalName(name.Qualifier, true) {
		return ErrInvalidName.New("table qualifier %q", name.Qualifier)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (name TableName) MarshalText() ([]byte, error) {
	return []byte(name.Namespace + ":" + name.Qualifier), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (name *TableName) UnmarshalText(data []byte) error {
	parsed, err := ParseTableName(string(data))
	if err != nil {
		return err
	}
	*name = parsed
	return nil
}

// ValidateNamespaceName checks whether s can be used as a namespace.
func ValidateNamespaceName(s string) error {
	if !legalName(s, false) {
		return ErrInvalidName.New("namespace %q", s)
	}
	return nil
}

// ValidateFamilyName checks whether s can be used as a column family.
func ValidateFamilyName(s string) error {
	if s == "" || strings.HasPrefix(s, ".") || strings.ContainsAny(s, ":\x00") {
		return ErrInvalidName.New("column family %q", s)
	}
	return nil
}

func legalName(s string, allowDot bool) bool {
	if s == "" || s[0] == '.' || s[0] == '-' {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		case allowDot && (r == '.' || r == '-'):
		default:
			return false
		}
	}
	return true
}
