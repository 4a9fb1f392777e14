// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"
)

// Clock hands out strictly increasing millisecond timestamps.
//
// Versions written within the same millisecond would otherwise overwrite each other.
type Clock struct {
	mu   sync.Mutex
	last int64

	// Now overrides time.Now, used in tests.
	Now func() time.Time
}

// Next returns the next timestamp.
func (clock *Clock) Next() int64 {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	now := time.Now
	if clock.Now != nil {
		now = clock.Now
	}
	ts := now().UnixMilli()
	if ts <= clock.last {
		ts = clock.last + 1
	}
	clock.last = ts
	return ts
}

// Observe makes sure the clock never hands out timestamps at or below ts.
func (clock *Clock) Observe(ts int64) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	if ts > clock.last {
		clock.last = ts
	}
}

// ApplyMutation returns the cells of a row after applying m at timestamp ts.
// The result is sorted and trimmed to maxVersions per column.
func ApplyMutation(cells []Cell, m Mutation, ts int64, maxVersions func(family string) int) []Cell {
	var result []Cell
	if !m.DeleteRow {
		result = make([]Cell, 0, len(cells)+len(m.Puts))
	next:
		for _, cell := range cells {
			for _, column := range m.Deletes {
				if cell.Family == column.Family && bytes.Equal(cell.Qualifier, column.Qualifier) {
					continue next
				}
			}
			result = append(result, cell)
		}
	}

	for _, put := range m.Puts {
		put = put.Clone()
		if put.Timestamp == 0 {
			put.Timestamp = ts
		}
		replaced := false
		for i := range result {
			if result[i].SameColumn(put) && result[i].Timestamp == put.Timestamp {
				result[i] = put
				replaced = true
				break
			}
		}
		if !replaced {
			result = append(result, put)
		}
	}

	SortCells(result)

	trimmed := result[:0]
	count := 0
	for i, cell := range result {
		if i > 0 && cell.SameColumn(result[i-1]) {
			count++
		} else {
			count = 1
		}
		limit := maxVersions(cell.Family)
		if limit <= 0 {
			limit = DefaultMaxVersions
		}
		if count <= limit {
			trimmed = append(trimmed, cell)
		}
	}
	return trimmed
}

// DiffCells returns the cells that have to be written and removed to turn old into new.
func DiffCells(old, new []Cell) (written, removed []Cell) {
	previous := make(map[string][]byte, len(old))
	for _, cell := range old {
		previous[string(EncodeCellKey(cell.Family, cell.Qualifier, cell.Timestamp))] = cell.Value
	}
	for _, cell := range new {
		key := string(EncodeCellKey(cell.Family, cell.Qualifier, cell.Timestamp))
		value, ok := previous[key]
		delete(previous, key)
		if ok && bytes.Equal(value, cell.Value) {
			continue
		}
		written = append(written, cell)
	}
	for _, cell := range old {
		if _, ok := previous[string(EncodeCellKey(cell.Family, cell.Qualifier, cell.Timestamp))]; ok {
			removed = append(removed, cell)
		}
	}
	return written, removed
}

// EncodeCellKey encodes a cell address into a single byte string.
func EncodeCellKey(family string, qualifier []byte, timestamp int64) []byte {
	key := make([]byte, 0, binary.MaxVarintLen64+len(family)+len(qualifier)+8)
	key = binary.AppendUvarint(key, uint64(len(family)))
	key = append(key, family...)
	key = append(key, qualifier...)
	key = binary.BigEndian.AppendUint64(key, uint64(timestamp))
	return key
}

// DecodeCellKey decodes a cell address encoded with EncodeCellKey.
func DecodeCellKey(key []byte) (family string, qualifier []byte, timestamp int64, err error) {
	n, size := binary.Uvarint(key)
	if size <= 0 || uint64(len(key)-size) < n+8 {
		return "", nil, 0, Error.New("invalid cell key %x", key)
	}
	rest := key[size:]
	family = string(rest[:n])
	qualifier = CloneBytes(rest[n : len(rest)-8])
	timestamp = int64(binary.BigEndian.Uint64(rest[len(rest)-8:]))
	return family, qualifier, timestamp, nil
}
