// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package changeevent reconstructs the change history of the catalog from
// its retained versions.
package changeevent

import (
	"context"
	"slices"
	"sort"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

var (
	// Error is the default error class for change events.
	Error = errs.Class("changeevent")

	// ErrEntityNotFound is returned when a queried entity has no change events.
	ErrEntityNotFound = errs.Class("change event entity not found")
)

// entity is a catalog entity seen during the scan.
type entity struct {
	key entitykey.Key
	fk  entitykey.ForeignKey
}

// Monitor holds every change event of the catalog in several orders.
//
// The slices returned by Monitor share storage with it and must not be modified.
type Monitor struct {
	chronological []*Event
	byUser        []*Event
	byEntity      []*Event

	// entities is sorted by key.
	entities []entity
}

// Scan reads the whole version history of the catalog and returns the change events in it.
func Scan(ctx context.Context, log *zap.Logger, repo *repository.Repository) (_ *Monitor, err error) {
	defer mon.Task()(&ctx)(&err)

	var events []*Event
	var entities []entity

	err = repo.ScanCatalog(ctx, true, func(ctx context.Context, key entitykey.Key, row storage.Row) error {
		value, _ := row.Latest(repository.CatalogFamily, []byte(repository.ForeignKeyColumn))
		fk, err := entitykey.ForeignKeyFromBytes(value)
		if err != nil {
			log.Warn("skipping catalog row without foreign key", zap.Stringer("entity", key), zap.Error(err))
			return nil
		}
		entities = append(entities, entity{key: key, fk: fk})

		users := map[int64]string{}
		for _, cell := range row.Versions(repository.CatalogFamily, []byte(repository.UserColumn)) {
			users[cell.Timestamp] = string(cell.Value)
		}

		for _, cell := range row.Cells {
			if cell.Family != repository.CatalogFamily {
				continue
			}
			switch string(cell.Qualifier) {
			case repository.ForeignKeyColumn, repository.UserColumn, repository.EnforcedColumn:
				continue
			}
			events = append(events, &Event{
				EntityType:       key.Type,
				ParentForeignKey: key.Parent,
				EntityName:       key.Name,
				EntityForeignKey: fk,
				AttributeName:    string(cell.Qualifier),
				Timestamp:        cell.Timestamp,
				AttributeValue:   cell.Value,
				ActingUser:       users[cell.Timestamp],
			})
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	mon.IntVal("change_events").Observe(int64(len(events)))
	return newMonitor(entities, events), nil
}

func newMonitor(entities []entity, events []*Event) *Monitor {
	slices.SortFunc(entities, func(a, b entity) int { return a.key.Compare(b.key) })

	monitor := &Monitor{
		byEntity: events,
		entities: entities,
	}
	slices.SortFunc(monitor.byEntity, compareByEntity)
	monitor.denormalize()

	monitor.chronological = slices.Clone(events)
	slices.SortFunc(monitor.chronological, compareChronological)
	monitor.byUser = slices.Clone(events)
	slices.SortFunc(monitor.byUser, compareByUser)
	return monitor
}

// ancestry holds the names of an entity and its ancestors.
type ancestry struct {
	namespace string
	table     string
	family    string
	qualifier []byte
}

// denormalize attaches the ancestor names to every event.
func (monitor *Monitor) denormalize() {
	byForeignKey := make(map[entitykey.ForeignKey]entitykey.Key, len(monitor.entities))
	for _, e := range monitor.entities {
		byForeignKey[e.fk] = e.key
	}

	// parent returns the parent of key, or a zero key when it is unknown.
	parent := func(key entitykey.Key) entitykey.Key {
		fk, ok := key.ParentForeignKey()
		if !ok {
			return entitykey.Key{}
		}
		return byForeignKey[fk]
	}

	resolve := func(key entitykey.Key) ancestry {
		var names ancestry
		for level := key; level.Type.Valid(); level = parent(level) {
			switch level.Type {
			case entitykey.Namespace:
				names.namespace = string(level.Name)
			case entitykey.Table:
				names.table = string(level.Name)
			case entitykey.ColumnFamily:
				names.family = string(level.Name)
			case entitykey.ColumnAuditor, entitykey.ColumnDefinition:
				names.qualifier = level.Name
			}
		}
		return names
	}

	// events are sorted by entity, so every entity is resolved once.
	var current *Event
	var names ancestry
	for _, event := range monitor.byEntity {
		if current == nil || current.Key().Compare(event.Key()) != 0 {
			current, names = event, resolve(event.Key())
		}
		event.Namespace = names.namespace
		event.Table = names.table
		event.Family = names.family
		event.Qualifier = names.qualifier
	}
}

// All returns every event ordered by timestamp, entity, attribute and value.
func (monitor *Monitor) All() []*Event { return monitor.chronological }

// ByUser returns every event ordered by acting user and then chronologically.
func (monitor *Monitor) ByUser() []*Event { return monitor.byUser }

// ByEntity returns every event ordered by entity, timestamp, attribute and value.
func (monitor *Monitor) ByEntity() []*Event { return monitor.byEntity }

// ForUser returns the events made by user in chronological order.
func (monitor *Monitor) ForUser(user string) []*Event {
	lo := sort.Search(len(monitor.byUser), func(i int) bool { return monitor.byUser[i].ActingUser >= user })
	hi := sort.Search(len(monitor.byUser), func(i int) bool { return monitor.byUser[i].ActingUser > user })
	return monitor.byUser[lo:hi]
}

// ForNamespace returns the events of a namespace.
func (monitor *Monitor) ForNamespace(namespace string) ([]*Event, error) {
	return monitor.forEntity(entitykey.Namespace, storage.TableName{Namespace: namespace}, "", nil)
}

// ForTable returns the events of a table.
func (monitor *Monitor) ForTable(table storage.TableName) ([]*Event, error) {
	return monitor.forEntity(entitykey.Table, table, "", nil)
}

// ForFamily returns the events of a column family.
func (monitor *Monitor) ForFamily(table storage.TableName, family string) ([]*Event, error) {
	return monitor.forEntity(entitykey.ColumnFamily, table, family, nil)
}

// ForColumnAuditor returns the events of a column auditor.
func (monitor *Monitor) ForColumnAuditor(table storage.TableName, family string, qualifier []byte) ([]*Event, error) {
	return monitor.forEntity(entitykey.ColumnAuditor, table, family, qualifier)
}

// ForColumnDefinition returns the events of a column definition.
func (monitor *Monitor) ForColumnDefinition(table storage.TableName, family string, qualifier []byte) ([]*Event, error) {
	return monitor.forEntity(entitykey.ColumnDefinition, table, family, qualifier)
}

// ForTableAttribute returns the events of a single attribute of a table.
// The attribute is the catalog column name, e.g. "Value__MAX_FILESIZE".
func (monitor *Monitor) ForTableAttribute(table storage.TableName, attribute string) ([]*Event, error) {
	events, err := monitor.ForTable(table)
	if err != nil {
		return nil, err
	}
	return filterAttribute(events, attribute), nil
}

// ForFamilyAttribute returns the events of a single attribute of a column family.
func (monitor *Monitor) ForFamilyAttribute(table storage.TableName, family, attribute string) ([]*Event, error) {
	events, err := monitor.ForFamily(table, family)
	if err != nil {
		return nil, err
	}
	return filterAttribute(events, attribute), nil
}

func filterAttribute(events []*Event, attribute string) []*Event {
	var filtered []*Event
	for _, event := range events {
		if event.AttributeName == attribute {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// forEntity resolves the entity level by level and returns its events.
func (monitor *Monitor) forEntity(t entitykey.Type, table storage.TableName, family string, qualifier []byte) ([]*Event, error) {
	if table.Namespace == "" {
		table.Namespace = storage.DefaultNamespace
	}
	levels := []struct {
		typ  entitykey.Type
		name []byte
	}{
		{entitykey.Namespace, []byte(table.Namespace)},
		{entitykey.Table, []byte(table.Qualifier)},
		{entitykey.ColumnFamily, []byte(family)},
		{t, qualifier},
	}

	parent := entitykey.NamespaceParent
	for _, level := range levels {
		key := entitykey.Key{Type: level.typ, Parent: parent, Name: level.name}
		found, ok := monitor.lookup(key)
		if !ok {
			return nil, ErrEntityNotFound.New("%s", describe(t, table, family, qualifier))
		}
		if level.typ == t {
			return monitor.eventsOf(found.key), nil
		}
		parent = found.fk.Bytes()
	}
	return nil, ErrEntityNotFound.New("%s", describe(t, table, family, qualifier))
}

func (monitor *Monitor) lookup(key entitykey.Key) (entity, bool) {
	i, ok := slices.BinarySearchFunc(monitor.entities, key, func(e entity, key entitykey.Key) int {
		return e.key.Compare(key)
	})
	if !ok {
		return entity{}, false
	}
	return monitor.entities[i], true
}

// eventsOf returns the contiguous range of the by-entity view belonging to key.
func (monitor *Monitor) eventsOf(key entitykey.Key) []*Event {
	events := monitor.byEntity
	lo := sort.Search(len(events), func(i int) bool { return events[i].Key().Compare(key) >= 0 })
	hi := sort.Search(len(events), func(i int) bool { return events[i].Key().Compare(key) > 0 })
	return events[lo:hi]
}

func describe(t entitykey.Type, table storage.TableName, family string, qualifier []byte) string {
	switch t {
	case entitykey.Namespace:
		return t.String() + " " + table.Namespace
	case entitykey.Table:
		return t.String() + " " + table.String()
	case entitykey.ColumnFamily:
		return t.String() + " " + table.String() + ":" + family
	default:
		return t.String() + " " + table.String() + ":" + family + ":" + string(qualifier)
	}
}
