// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package entitykey_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"storj.io/common/testrand"
	"storj.io/columnmanager/repository/entitykey"
)

func newFK(t *testing.T) entitykey.ForeignKey {
	fk, err := entitykey.NewForeignKey()
	require.NoError(t, err)
	require.False(t, fk.IsZero())
	return fk
}

func TestRoundTrip(t *testing.T) {
	fk := newFK(t)

	keys := []entitykey.Key{
		entitykey.NamespaceKey([]byte("default")),
		entitykey.NamespaceKey([]byte("n")),
		entitykey.ChildKey(entitykey.Table, fk, []byte("t1")),
		entitykey.ChildKey(entitykey.ColumnFamily, fk, []byte("cf1")),
		entitykey.ChildKey(entitykey.ColumnAuditor, fk, []byte{0x00, 0xFF, 'q'}),
		entitykey.ChildKey(entitykey.ColumnDefinition, fk, testrand.BytesInt(40)),
	}
	for _, key := range keys {
		decoded, err := entitykey.Decode(key.Encode())
		require.NoError(t, err, key.String())
		require.Zero(t, cmp.Diff(key, decoded), key.String())
	}
}

func TestDecodeInvalid(t *testing.T) {
	fk := newFK(t)

	for _, row := range [][]byte{
		nil,
		{'X', '-', 'a'},
		{'N', '-'},
		{'N', '+', 'a'},
		append([]byte{'T'}, fk[:]...),
		append([]byte{'F'}, fk[:10]...),
	} {
		_, err := entitykey.Decode(row)
		require.Error(t, err, "%x", row)
		require.True(t, entitykey.Error.Has(err))
	}
}

func TestPrefixRange(t *testing.T) {
	parent, other := newFK(t), newFK(t)

	var rows [][]byte
	children := [][]byte{[]byte("a"), []byte("b"), {0xFF, 0xFF, 0xFF}, {0x00}, []byte("zz")}
	for _, name := range children {
		rows = append(rows, entitykey.ChildKey(entitykey.ColumnAuditor, parent, name).Encode())
	}
	rows = append(rows,
		entitykey.ChildKey(entitykey.ColumnAuditor, other, []byte("a")).Encode(),
		entitykey.ChildKey(entitykey.ColumnDefinition, parent, []byte("a")).Encode(),
		entitykey.ChildKey(entitykey.ColumnFamily, parent, []byte("a")).Encode(),
		entitykey.NamespaceKey([]byte("a")).Encode(),
	)

	start, stop := entitykey.Key{Type: entitykey.ColumnAuditor, Parent: parent.Bytes()}.ScanRange()

	var found [][]byte
	for _, row := range rows {
		if bytes.Compare(row, start) >= 0 && bytes.Compare(row, stop) < 0 {
			key, err := entitykey.Decode(row)
			require.NoError(t, err)
			found = append(found, key.Name)
		}
	}
	sort.Slice(children, func(i, k int) bool { return bytes.Compare(children[i], children[k]) < 0 })
	sort.Slice(found, func(i, k int) bool { return bytes.Compare(found[i], found[k]) < 0 })
	require.Equal(t, children, found)
}

func TestExactRange(t *testing.T) {
	key := entitykey.NamespaceKey([]byte("ns1"))
	start, stop := key.ScanRange()
	require.Equal(t, key.Encode(), start)
	require.True(t, bytes.Compare(start, stop) < 0)

	sibling := entitykey.NamespaceKey([]byte("ns10")).Encode()
	require.True(t, bytes.Compare(sibling, stop) >= 0)
}

func TestTypes(t *testing.T) {
	for _, typ := range entitykey.Types {
		require.True(t, typ.Valid())
		parsed, err := entitykey.ParseType(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, parsed)
	}
	require.False(t, entitykey.Type('X').Valid())
	_, err := entitykey.ParseType("ROW")
	require.Error(t, err)

	require.Equal(t, []entitykey.Type{entitykey.Table}, entitykey.Namespace.Children())
	require.Equal(t, []entitykey.Type{entitykey.ColumnAuditor, entitykey.ColumnDefinition}, entitykey.ColumnFamily.Children())
	require.Empty(t, entitykey.ColumnAuditor.Children())
}

func TestForeignKey(t *testing.T) {
	a, b := newFK(t), newFK(t)
	require.NotEqual(t, a, b)
	require.Len(t, a.String(), 32)
	require.Equal(t, a.Less(b), bytes.Compare(a[:], b[:]) < 0)

	parsed, err := entitykey.ForeignKeyFromBytes(a.Bytes())
	require.NoError(t, err)
	require.Equal(t, a, parsed)

	_, err = entitykey.ForeignKeyFromBytes([]byte{1, 2})
	require.Error(t, err)

	fk, ok := entitykey.ChildKey(entitykey.Table, a, []byte("t")).ParentForeignKey()
	require.True(t, ok)
	require.Equal(t, a, fk)

	_, ok = entitykey.NamespaceKey([]byte("n")).ParentForeignKey()
	require.False(t, ok)
}
