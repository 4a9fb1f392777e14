// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"bytes"
	"sort"
)

// Column addresses a column within a row.
type Column struct {
	Family    string
	Qualifier []byte
}

// Cell is a single version of a column.
type Cell struct {
	Family    string
	Qualifier []byte
	// Timestamp is the version in milliseconds since epoch.
	Timestamp int64
	Value     []byte
}

// Column returns the column the cell belongs to.
func (cell Cell) Column() Column {
	return Column{Family: cell.Family, Qualifier: cell.Qualifier}
}

// SameColumn returns whether both cells belong to the same column.
func (cell Cell) SameColumn(b Cell) bool {
	return cell.Family == b.Family && bytes.Equal(cell.Qualifier, b.Qualifier)
}

// Clone returns a deep copy of cell.
func (cell Cell) Clone() Cell {
	return Cell{
		Family:    cell.Family,
		Qualifier: CloneBytes(cell.Qualifier),
		Timestamp: cell.Timestamp,
		Value:     CloneBytes(cell.Value),
	}
}

// Less orders cells by family, qualifier and then newest version first.
func (cell Cell) Less(b Cell) bool {
	if cell.Family != b.Family {
		return cell.Family < b.Family
	}
	if c := bytes.Compare(cell.Qualifier, b.Qualifier); c != 0 {
		return c < 0
	}
	return cell.Timestamp > b.Timestamp
}

// SortCells sorts cells in row order.
func SortCells(cells []Cell) {
	sort.Slice(cells, func(i, k int) bool { return cells[i].Less(cells[k]) })
}

// CloneCells creates a deep copy of cells.
func CloneCells(cells []Cell) []Cell {
	if cells == nil {
		return nil
	}
	result := make([]Cell, len(cells))
	for i, cell := range cells {
		result[i] = cell.Clone()
	}
	return result
}

// Row is a row with its cells sorted by family, qualifier and newest version first.
type Row struct {
	Key   []byte
	Cells []Cell
}

// IsEmpty returns whether the row has no cells.
func (row Row) IsEmpty() bool { return len(row.Cells) == 0 }

// Latest returns the newest value of the column.
func (row Row) Latest(family string, qualifier []byte) ([]byte, bool) {
	for _, cell := range row.Cells {
		if cell.Family == family && bytes.Equal(cell.Qualifier, qualifier) {
			return cell.Value, true
		}
	}
	return nil, false
}

// Versions returns all versions of the column, newest first.
func (row Row) Versions(family string, qualifier []byte) []Cell {
	var versions []Cell
	for _, cell := range row.Cells {
		if cell.Family == family && bytes.Equal(cell.Qualifier, qualifier) {
			versions = append(versions, cell)
		}
	}
	return versions
}

// LatestCells returns the newest version of every column.
func (row Row) LatestCells() []Cell {
	var latest []Cell
	for i, cell := range row.Cells {
		if i > 0 && cell.SameColumn(row.Cells[i-1]) {
			continue
		}
		latest = append(latest, cell)
	}
	return latest
}

// Clone returns a deep copy of row.
func (row Row) Clone() Row {
	return Row{Key: CloneBytes(row.Key), Cells: CloneCells(row.Cells)}
}

// Project returns the row as requested by the read options.
func (row Row) Project(allVersions bool) Row {
	if allVersions {
		return row
	}
	return Row{Key: row.Key, Cells: row.LatestCells()}
}

// Mutation is a set of changes to a single row.
type Mutation struct {
	Row []byte
	// Puts adds versions. A zero Timestamp uses the mutation timestamp.
	Puts []Cell
	// Deletes removes all versions of the columns.
	Deletes []Column
	// DeleteRow removes the whole row before Puts are applied.
	DeleteRow bool
}

// NewMutation returns an empty mutation for row.
func NewMutation(row []byte) *Mutation {
	return &Mutation{Row: row}
}

// Put adds a value for the column.
func (m *Mutation) Put(family string, qualifier, value []byte) *Mutation {
	m.Puts = append(m.Puts, Cell{Family: family, Qualifier: qualifier, Value: value})
	return m
}

// Delete removes all versions of the column.
func (m *Mutation) Delete(family string, qualifier []byte) *Mutation {
	m.Deletes = append(m.Deletes, Column{Family: family, Qualifier: qualifier})
	return m
}

// IsDelete returns whether the mutation only removes data.
func (m Mutation) IsDelete() bool {
	return len(m.Puts) == 0 && (m.DeleteRow || len(m.Deletes) > 0)
}

// IsEmpty returns whether the mutation does nothing.
func (m Mutation) IsEmpty() bool {
	return len(m.Puts) == 0 && len(m.Deletes) == 0 && !m.DeleteRow
}

// Families returns the distinct families touched by the mutation.
func (m Mutation) Families() []string {
	var families []string
	seen := map[string]bool{}
	add := func(family string) {
		if !seen[family] {
			seen[family] = true
			families = append(families, family)
		}
	}
	for _, cell := range m.Puts {
		add(cell.Family)
	}
	for _, column := range m.Deletes {
		add(column.Family)
	}
	return families
}

// ReadOptions configures Get.
type ReadOptions struct {
	// AllVersions returns every retained version instead of only the newest.
	AllVersions bool
}

// ScanOptions configures Scan.
type ScanOptions struct {
	// Start is the inclusive first key; nil starts at the beginning.
	Start []byte
	// Stop is the exclusive last key; nil scans to the end.
	Stop []byte
	// AllVersions returns every retained version instead of only the newest.
	AllVersions bool
	// Filter restricts the rows returned.
	Filter *ValueFilter
}

// Contains returns whether key is within the scan range.
func (opts ScanOptions) Contains(key []byte) bool {
	if opts.Start != nil && bytes.Compare(key, opts.Start) < 0 {
		return false
	}
	if opts.Stop != nil && bytes.Compare(key, opts.Stop) >= 0 {
		return false
	}
	return true
}

// ValueFilter accepts rows where the newest version of a column equals Value.
type ValueFilter struct {
	Family    string
	Qualifier []byte
	Value     []byte
	// FilterIfMissing rejects rows which do not have the column at all.
	FilterIfMissing bool
}

// Match returns whether the row passes the filter.
func (filter *ValueFilter) Match(row Row) bool {
	if filter == nil {
		return true
	}
	value, ok := row.Latest(filter.Family, filter.Qualifier)
	if !ok {
		return !filter.FilterIfMissing
	}
	return bytes.Equal(value, filter.Value)
}

// CloneBytes returns a copy of data.
func CloneBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte{}, data...)
}
