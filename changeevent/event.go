// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package changeevent

import (
	"bytes"
	"cmp"
	"time"

	"storj.io/columnmanager/repository/entitykey"
)

// Event is a single versioned change of a catalog entity attribute.
type Event struct {
	EntityType       entitykey.Type
	ParentForeignKey []byte
	EntityName       []byte
	EntityForeignKey entitykey.ForeignKey

	// AttributeName is the catalog column, e.g. "_Status" or "Value__MAX_VALUE_LENGTH_FOUND".
	AttributeName  string
	Timestamp      int64
	AttributeValue []byte
	ActingUser     string

	// Ancestor names resolved by denormalization.
	Namespace string
	Table     string
	Family    string
	Qualifier []byte
}

// Key returns the catalog key of the changed entity.
func (event *Event) Key() entitykey.Key {
	return entitykey.Key{Type: event.EntityType, Parent: event.ParentForeignKey, Name: event.EntityName}
}

// Time returns the event timestamp.
func (event *Event) Time() time.Time {
	return time.UnixMilli(event.Timestamp).UTC()
}

func compareTail(a, b *Event) int {
	if c := cmp.Compare(a.AttributeName, b.AttributeName); c != 0 {
		return c
	}
	return bytes.Compare(a.AttributeValue, b.AttributeValue)
}

// compareChronological orders by timestamp, entity, attribute and value.
func compareChronological(a, b *Event) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	if c := a.Key().Compare(b.Key()); c != 0 {
		return c
	}
	return compareTail(a, b)
}

// compareByUser orders by user, timestamp, entity, attribute and value.
func compareByUser(a, b *Event) int {
	if c := cmp.Compare(a.ActingUser, b.ActingUser); c != 0 {
		return c
	}
	return compareChronological(a, b)
}

// compareByEntity orders by entity, timestamp, attribute and value.
func compareByEntity(a, b *Event) int {
	if c := a.Key().Compare(b.Key()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return compareTail(a, b)
}
