// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package entitykey encodes catalog entities into ordered row keys.
//
// A row key is the record type byte, followed by the parent foreign key
// and the entity name. Namespaces have no parent and use a one byte
// sentinel in its place. All children of an entity share a prefix and sort
// by name within it.
package entitykey

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"strings"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"
)

// Error is the default error class for entity keys.
var Error = errs.Class("entitykey")

// Type is the record type of a catalog entity.
type Type byte

// Record types in hierarchy order.
const (
	Namespace        Type = 'N'
	Table            Type = 'T'
	ColumnFamily     Type = 'F'
	ColumnAuditor    Type = 'A'
	ColumnDefinition Type = 'D'
)

// Types lists all record types.
var Types = []Type{Namespace, Table, ColumnFamily, ColumnAuditor, ColumnDefinition}

// Valid returns whether t is a known record type.
func (t Type) Valid() bool {
	switch t {
	case Namespace, Table, ColumnFamily, ColumnAuditor, ColumnDefinition:
		return true
	}
	return false
}

// String returns the name of the record type.
func (t Type) String() string {
	switch t {
	case Namespace:
		return "NAMESPACE"
	case Table:
		return "TABLE"
	case ColumnFamily:
		return "COLUMN_FAMILY"
	case ColumnAuditor:
		return "COLUMN_AUDITOR"
	case ColumnDefinition:
		return "COLUMN_DEFINITION"
	}
	return "UNKNOWN(" + hex.EncodeToString([]byte{byte(t)}) + ")"
}

// Children returns the record types that may have an entity of type t as parent.
func (t Type) Children() []Type {
	switch t {
	case Namespace:
		return []Type{Table}
	case Table:
		return []Type{ColumnFamily}
	case ColumnFamily:
		return []Type{ColumnAuditor, ColumnDefinition}
	}
	return nil
}

// ParseType parses the name returned by Type.String.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, Error.New("unknown record type %q", s)
}

// ForeignKeySize is the length of a foreign key.
const ForeignKeySize = 16

// ForeignKey is the immutable identity of a catalog entity.
type ForeignKey [ForeignKeySize]byte

// NewForeignKey returns a random foreign key.
func NewForeignKey() (ForeignKey, error) {
	id, err := uuid.New()
	if err != nil {
		return ForeignKey{}, Error.Wrap(err)
	}
	return ForeignKey(id), nil
}

// ForeignKeyFromBytes converts a 16 byte slice into a foreign key.
func ForeignKeyFromBytes(data []byte) (ForeignKey, error) {
	var fk ForeignKey
	if len(data) != ForeignKeySize {
		return fk, Error.New("invalid foreign key length %d", len(data))
	}
	copy(fk[:], data)
	return fk, nil
}

// Bytes returns a copy of the foreign key bytes.
func (fk ForeignKey) Bytes() []byte { return append([]byte{}, fk[:]...) }

// String returns the hex form of the foreign key.
func (fk ForeignKey) String() string { return hex.EncodeToString(fk[:]) }

// IsZero returns whether the foreign key is unset.
func (fk ForeignKey) IsZero() bool { return fk == ForeignKey{} }

// Less orders foreign keys bytewise.
func (fk ForeignKey) Less(b ForeignKey) bool { return bytes.Compare(fk[:], b[:]) < 0 }

// NamespaceParent is the parent sentinel of namespace keys.
var NamespaceParent = []byte{'-'}

var (
	lowFiller  = bytes.Repeat([]byte{0x00}, ForeignKeySize)
	highFiller = bytes.Repeat([]byte{0xFF}, ForeignKeySize)
)

// Key identifies a catalog entity. A nil Name addresses all children of Parent.
type Key struct {
	Type   Type
	Parent []byte
	Name   []byte
}

// NamespaceKey returns the key of a namespace.
func NamespaceKey(name []byte) Key {
	return Key{Type: Namespace, Parent: NamespaceParent, Name: name}
}

// ChildKey returns the key of a non-namespace entity.
func ChildKey(t Type, parent ForeignKey, name []byte) Key {
	return Key{Type: t, Parent: parent.Bytes(), Name: name}
}

// Prefix returns type ‖ parent.
func (key Key) Prefix() []byte {
	prefix := make([]byte, 0, 1+len(key.Parent)+len(key.Name))
	prefix = append(prefix, byte(key.Type))
	return append(prefix, key.Parent...)
}

// Encode returns type ‖ parent ‖ name.
func (key Key) Encode() []byte {
	return append(key.Prefix(), key.Name...)
}

// ScanRange returns the [start, stop) range addressing the key.
//
// With a name the range starts at the exact key, otherwise it covers every
// child of the prefix.
func (key Key) ScanRange() (start, stop []byte) {
	if key.Name == nil {
		start = key.Prefix()
		stop = append(key.Prefix(), highFiller...)
		return start, stop
	}
	start = key.Encode()
	stop = append(key.Encode(), lowFiller...)
	return start, stop
}

// ParentForeignKey returns the parent foreign key, false for namespaces.
func (key Key) ParentForeignKey() (ForeignKey, bool) {
	if key.Type == Namespace {
		return ForeignKey{}, false
	}
	fk, err := ForeignKeyFromBytes(key.Parent)
	return fk, err == nil
}

// Compare compares the encoded forms of both keys.
func (key Key) Compare(b Key) int {
	if c := cmp.Compare(key.Type, b.Type); c != 0 {
		return c
	}
	if c := bytes.Compare(key.Parent, b.Parent); c != 0 {
		return c
	}
	return bytes.Compare(key.Name, b.Name)
}

// String returns a readable form of the key.
func (key Key) String() string {
	parent := string(key.Parent)
	if key.Type != Namespace {
		parent = hex.EncodeToString(key.Parent)
	}
	return key.Type.String() + "/" + parent + "/" + string(key.Name)
}

// Decode parses a row key produced by Encode.
func Decode(row []byte) (Key, error) {
	if len(row) == 0 {
		return Key{}, Error.New("empty key")
	}
	t := Type(row[0])
	if !t.Valid() {
		return Key{}, Error.New("unknown record type %x", row[0])
	}

	parentSize := ForeignKeySize
	if t == Namespace {
		parentSize = len(NamespaceParent)
	}
	if len(row) <= 1+parentSize {
		return Key{}, Error.New("key too short: %x", row)
	}

	key := Key{
		Type:   t,
		Parent: append([]byte{}, row[1:1+parentSize]...),
		Name:   append([]byte{}, row[1+parentSize:]...),
	}
	if t == Namespace && !bytes.Equal(key.Parent, NamespaceParent) {
		return Key{}, Error.New("invalid namespace parent %x", key.Parent)
	}
	return key, nil
}
